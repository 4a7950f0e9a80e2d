package envelope

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rakunlabs/shinkai/internal/identity"
)

const (
	inboxPrefix    = "inbox"
	jobInboxPrefix = "job_inbox"
	maxInboxSegments = 101
)

// InboxName is a parsed inbox identifier (spec §3.2/§6). Exactly one of
// JobID or Participants is set.
type InboxName struct {
	JobID        string
	Participants []identity.NodeName
	IsE2E        bool
}

// NewPairwiseInboxName builds and sorts a 2-participant inbox name for a and
// b, matching spec §3.2's "sorted deterministically" requirement.
func NewPairwiseInboxName(a, b identity.NodeName, e2e bool) InboxName {
	parts := []identity.NodeName{a, b}
	sort.Slice(parts, func(i, j int) bool { return identity.Less(parts[i], parts[j]) })
	return InboxName{Participants: parts, IsE2E: e2e}
}

// NewJobInboxName builds the job inbox identifier for jobID.
func NewJobInboxName(jobID string) InboxName {
	return InboxName{JobID: jobID}
}

// Format renders the canonical "inbox::seg::...::e2e" or "job_inbox::id::false" form.
func (n InboxName) Format() string {
	if n.JobID != "" {
		return fmt.Sprintf("%s::%s::false", jobInboxPrefix, n.JobID)
	}

	segs := make([]string, 0, len(n.Participants)+2)
	segs = append(segs, inboxPrefix)
	for _, p := range n.Participants {
		segs = append(segs, p.Format())
	}
	segs = append(segs, strconv.FormatBool(n.IsE2E))
	return strings.Join(segs, "::")
}

func (n InboxName) String() string { return n.Format() }

// ParseInboxName parses the "::"-delimited inbox grammar (spec §6).
func ParseInboxName(raw string) (InboxName, error) {
	segs := strings.Split(raw, "::")
	if len(segs) < 2 {
		return InboxName{}, fmt.Errorf("envelope: invalid inbox name %q: too few segments", raw)
	}
	if len(segs) > maxInboxSegments {
		return InboxName{}, fmt.Errorf("envelope: invalid inbox name %q: exceeds %d segments", raw, maxInboxSegments)
	}

	switch segs[0] {
	case jobInboxPrefix:
		if len(segs) != 3 || segs[2] != "false" {
			return InboxName{}, fmt.Errorf("envelope: invalid job inbox name %q", raw)
		}
		return InboxName{JobID: segs[1]}, nil

	case inboxPrefix:
		last := segs[len(segs)-1]
		e2e, err := strconv.ParseBool(last)
		if err != nil {
			return InboxName{}, fmt.Errorf("envelope: invalid inbox name %q: trailing segment must be bool: %w", raw, err)
		}

		participantSegs := segs[1 : len(segs)-1]
		if len(participantSegs) == 0 {
			return InboxName{}, fmt.Errorf("envelope: invalid inbox name %q: no participants", raw)
		}

		participants := make([]identity.NodeName, 0, len(participantSegs))
		for _, s := range participantSegs {
			n, err := identity.ParseNodeName(s)
			if err != nil {
				return InboxName{}, fmt.Errorf("envelope: invalid inbox name %q: %w", raw, err)
			}
			participants = append(participants, n)
		}

		sorted := make([]identity.NodeName, len(participants))
		copy(sorted, participants)
		sort.Slice(sorted, func(i, j int) bool { return identity.Less(sorted[i], sorted[j]) })
		for i := range sorted {
			if sorted[i] != participants[i] {
				return InboxName{}, fmt.Errorf("envelope: invalid inbox name %q: participants not sorted", raw)
			}
		}

		return InboxName{Participants: participants, IsE2E: e2e}, nil

	default:
		return InboxName{}, fmt.Errorf("envelope: invalid inbox name %q: unknown prefix %q", raw, segs[0])
	}
}
