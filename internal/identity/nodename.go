// Package identity implements node naming (NodeName), the on-chain identity
// registry client with TTL caching, and Ed25519/X25519 keypair handling (C1).
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// NodeKind distinguishes the trailing segment of a subidentity path.
type NodeKind string

const (
	KindDevice NodeKind = "device"
	KindAgent  NodeKind = "agent"
)

// NodeName is a parsed hierarchical identity path, e.g.
// "@@alice.shinkai/profile/device/phone".
type NodeName struct {
	Node    string
	Profile string
	Kind    NodeKind
	Name    string
}

var (
	ErrEmptyName   = errors.New("identity: node name is empty")
	ErrInvalidName = errors.New("identity: invalid node name")
)

// ParseNodeName parses a dotted/slash hierarchical node name. The leading
// "@@" is optional on input and always emitted on Format/String.
func ParseNodeName(raw string) (NodeName, error) {
	if raw == "" {
		return NodeName{}, ErrEmptyName
	}

	s := strings.TrimPrefix(raw, "@@")
	parts := strings.Split(s, "/")
	if parts[0] == "" {
		return NodeName{}, fmt.Errorf("%w: %q: missing node segment", ErrInvalidName, raw)
	}

	n := NodeName{Node: parts[0]}
	switch len(parts) {
	case 1:
		return n, nil
	case 2:
		n.Profile = parts[1]
		return n, nil
	case 4:
		n.Profile = parts[1]
		switch parts[2] {
		case string(KindDevice):
			n.Kind = KindDevice
		case string(KindAgent):
			n.Kind = KindAgent
		default:
			return NodeName{}, fmt.Errorf("%w: %q: unknown subidentity type %q", ErrInvalidName, raw, parts[2])
		}
		n.Name = parts[3]
		return n, nil
	default:
		return NodeName{}, fmt.Errorf("%w: %q: unexpected segment count %d", ErrInvalidName, raw, len(parts))
	}
}

// Format renders the canonical "@@node[/profile[/kind/name]]" form.
func (n NodeName) Format() string {
	var sb strings.Builder
	sb.WriteString("@@")
	sb.WriteString(n.Node)
	if n.Profile != "" {
		sb.WriteString("/")
		sb.WriteString(n.Profile)
	}
	if n.Kind != "" && n.Name != "" {
		sb.WriteString("/")
		sb.WriteString(string(n.Kind))
		sb.WriteString("/")
		sb.WriteString(n.Name)
	}
	return sb.String()
}

func (n NodeName) String() string { return n.Format() }

// NodeOnly returns a copy with only the top-level node segment set.
func (n NodeName) NodeOnly() NodeName {
	return NodeName{Node: n.Node}
}

// HasSubidentity reports whether this name carries a profile segment.
func (n NodeName) HasSubidentity() bool {
	return n.Profile != ""
}

// Less provides the deterministic ordering used to sort pairwise inbox
// participants (spec §3.2): lexicographic over the formatted string.
func Less(a, b NodeName) bool {
	return a.Format() < b.Format()
}
