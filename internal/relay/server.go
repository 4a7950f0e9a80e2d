package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/rakunlabs/shinkai/internal/envelope"
	"github.com/rakunlabs/shinkai/internal/identity"
)

// Dialer opens a new outbound TCP connection to a resolved peer address,
// abstracted so tests can substitute an in-memory pipe.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)
}

type netDialer struct{}

func (netDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// Registry resolves a recipient identity's on-chain signature pubkey,
// encryption pubkey, and first advertised relay address.
type Registry interface {
	SignaturePubkey(ctx context.Context, nodeName string) (ed25519.PublicKey, error)
	EncryptionPubkey(ctx context.Context, nodeName string) ([32]byte, error)
	FirstAddress(ctx context.Context, nodeName string) (string, error)
}

// Server is the TCP relay broker (spec §4.5): it authenticates connecting
// peers, keeps an identity->socket map for locally-connected peers, and
// forwards messages either to a local socket or on to the recipient's
// advertised address.
type Server struct {
	self     identity.NodeName
	keys     identity.SigningKeypair
	enc      identity.EncryptionKeypair
	registry Registry
	dialer   Dialer

	mu       sync.Mutex
	sockets  map[string]net.Conn // identity -> connected socket
	byPubkey map[string]string   // hex pubkey -> identity (spec §4.5 step 4)
}

// NewServer constructs a relay Server. dialer may be nil to use real TCP
// dialing. enc is the relay's own encryption keypair, needed to decrypt one
// outer layer of a message addressed to the relay's own node name before
// re-sending it to the proxied local peer (spec §4.5).
func NewServer(self identity.NodeName, keys identity.SigningKeypair, enc identity.EncryptionKeypair, registry Registry, dialer Dialer) *Server {
	if dialer == nil {
		dialer = netDialer{}
	}
	return &Server{
		self:     self,
		keys:     keys,
		enc:      enc,
		registry: registry,
		dialer:   dialer,
		sockets:  map[string]net.Conn{},
		byPubkey: map[string]string{},
	}
}

// Serve accepts connections on ln until ctx is cancelled, handling each on
// its own goroutine. On cancellation every live connection is closed (spec
// §5 "Cancellation: the relay drops all connections on shutdown").
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAll()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("relay: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.sockets {
		_ = conn.Close()
		delete(s.sockets, id)
	}
}

// handleConn runs the full per-connection lifecycle: first frame gives the
// claimed identity, then the identity-validation handshake, then a strict
// FIFO forwarding loop until the peer disconnects (spec §4.5 "Ordering").
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	first, err := ReadFrame(conn)
	if err != nil {
		slog.Warn("relay: failed to read opening frame", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	result, err := ServerHandshake(conn, first.Identity, func(nodeName string) (ed25519.PublicKey, error) {
		return s.registry.SignaturePubkey(ctx, nodeName)
	})
	if err != nil {
		slog.Warn("relay: handshake failed", "remote", conn.RemoteAddr(), "claimed_identity", first.Identity, "error", err)
		return
	}

	s.mu.Lock()
	s.sockets[result.Identity] = conn
	s.byPubkey[hex.EncodeToString(result.Pubkey)] = result.Identity
	s.mu.Unlock()
	slog.Info("relay: peer authenticated", "identity", result.Identity)

	defer func() {
		s.mu.Lock()
		delete(s.sockets, result.Identity)
		delete(s.byPubkey, hex.EncodeToString(result.Pubkey))
		s.mu.Unlock()
		slog.Info("relay: peer disconnected", "identity", result.Identity)
	}()

	if err := s.forward(ctx, result, first); err != nil {
		slog.Warn("relay: forward failed", "identity", result.Identity, "error", err)
	}

	for {
		msg, err := ReadFrame(conn)
		if err != nil {
			return
		}
		if err := s.forward(ctx, result, msg); err != nil {
			slog.Warn("relay: forward failed", "identity", result.Identity, "error", err)
			writeLengthPrefixedString(conn, "error: "+err.Error())
		}
	}
}

// forward implements spec §4.5 "Forwarding". A non-ShinkaiMessage frame (a
// VRKaiPathPair, say) is routed purely on its own frame identity, same as
// before. A ShinkaiMessage frame is parsed and routed on the *payload's*
// external_metadata.recipient, per the original shinkai-tcp-relayer's
// handle_proxy_message: local delivery (decrypting one outer layer and
// resolving the target subidentity by pubkey) if the recipient is this
// relay's own node, otherwise a proxy-out to the recipient's first
// on-chain address, rewriting and re-signing the sender fields first when
// the sender is a localhost client.
func (s *Server) forward(ctx context.Context, sender identityResult, msg NetworkMessage) error {
	if msg.Type != TypeShinkaiMessage {
		return s.forwardRaw(ctx, msg)
	}

	var parsed envelope.Message
	if err := json.Unmarshal(msg.Payload, &parsed); err != nil {
		return s.forwardRaw(ctx, msg)
	}

	if nodeOnly(parsed.ExternalMetadata.Recipient) == nodeOnly(s.self.Format()) {
		return s.deliverLocal(ctx, parsed)
	}
	return s.proxyOut(ctx, sender, parsed)
}

// forwardRaw routes purely on the frame's own identity against connected
// local sockets, falling back to an on-chain dial. This is the fallback
// path for frame types the relay does not interpret (spec §4.5 step 4b).
func (s *Server) forwardRaw(ctx context.Context, msg NetworkMessage) error {
	s.mu.Lock()
	localConn, ok := s.sockets[msg.Identity]
	s.mu.Unlock()

	if ok {
		return WriteFrame(localConn, msg)
	}

	addr, err := s.registry.FirstAddress(ctx, msg.Identity)
	if err != nil {
		return fmt.Errorf("resolve relay address for %q: %w", msg.Identity, err)
	}

	conn, err := s.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %q at %s: %w", msg.Identity, addr, err)
	}
	defer conn.Close()

	return WriteFrame(conn, msg)
}

// deliverLocal handles a message addressed to this relay's own node name:
// it verifies the outer signature, decrypts one layer if the sender
// encrypted it, then resolves the recipient subidentity by the pubkey it
// authenticated with during the handshake and hands the (still-encoded)
// message to that local socket.
func (s *Server) deliverLocal(ctx context.Context, msg envelope.Message) error {
	senderPubkey, err := s.registry.SignaturePubkey(ctx, msg.ExternalMetadata.Sender)
	if err != nil {
		return fmt.Errorf("resolve sender signature pubkey for %q: %w", msg.ExternalMetadata.Sender, err)
	}
	if err := envelope.VerifyOuter(msg, senderPubkey); err != nil {
		return fmt.Errorf("verify outer signature from %q: %w", msg.ExternalMetadata.Sender, err)
	}

	if msg.Body.IsEncrypted() {
		senderEncPubkey, err := s.registry.EncryptionPubkey(ctx, msg.ExternalMetadata.Sender)
		if err != nil {
			return fmt.Errorf("resolve sender encryption pubkey for %q: %w", msg.ExternalMetadata.Sender, err)
		}
		msg, err = envelope.DecryptBody(msg, s.enc.Private, senderEncPubkey)
		if err != nil {
			return fmt.Errorf("decrypt message from %q: %w", msg.ExternalMetadata.Sender, err)
		}
	}
	if msg.Body.Unencrypted == nil {
		return fmt.Errorf("message from %q has no readable body after decryption", msg.ExternalMetadata.Sender)
	}

	subPubkey := msg.Body.Unencrypted.InternalMetadata.RecipientSubidentity
	s.mu.Lock()
	targetIdentity, ok := s.byPubkey[subPubkey]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no locally-connected client for recipient subidentity pubkey %q", subPubkey)
	}

	s.mu.Lock()
	localConn, ok := s.sockets[targetIdentity]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("recipient %q disconnected before delivery", targetIdentity)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("re-marshal message for local delivery: %w", err)
	}
	return WriteFrame(localConn, NetworkMessage{Identity: targetIdentity, Type: TypeShinkaiMessage, Payload: payload})
}

// proxyOut forwards a message addressed to a remote node's first
// advertised relay address. If it came from a localhost client, the
// sender fields are first rewritten to this relay's own node name (since
// "localhost" means nothing to the remote peer) and both envelope layers
// are re-signed with the relay's own keys.
func (s *Server) proxyOut(ctx context.Context, sender identityResult, msg envelope.Message) error {
	if strings.HasPrefix(sender.Identity, localhostIdentityTag) {
		var err error
		msg, err = s.rewriteLocalhostSender(sender, msg)
		if err != nil {
			return fmt.Errorf("rewrite localhost sender fields: %w", err)
		}
	}

	addr, err := s.registry.FirstAddress(ctx, msg.ExternalMetadata.Recipient)
	if err != nil {
		return fmt.Errorf("resolve relay address for %q: %w", msg.ExternalMetadata.Recipient, err)
	}

	conn, err := s.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %q at %s: %w", msg.ExternalMetadata.Recipient, addr, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("re-marshal message for proxy-out: %w", err)
	}
	return WriteFrame(conn, NetworkMessage{Identity: msg.ExternalMetadata.Recipient, Type: TypeShinkaiMessage, Payload: payload})
}

// rewriteLocalhostSender replaces the sender/sender-subidentity fields with
// this relay's own node name and the client's pubkey suffix, then re-signs
// the inner (if present) and outer layers with the relay's own signing key
// (spec §4.5 "Forwarding": "rewrite external_metadata.sender /
// internal_metadata.sender_subidentity and re-sign both layers when the
// sender is a localhost client").
func (s *Server) rewriteLocalhostSender(sender identityResult, msg envelope.Message) (envelope.Message, error) {
	_, subPubkeyHex, found := strings.Cut(sender.Identity, ":")
	if !found {
		return msg, fmt.Errorf("localhost identity %q missing pubkey suffix", sender.Identity)
	}

	msg.ExternalMetadata.Sender = s.self.Format()
	msg.ExternalMetadata.IntraSender = s.self.Format()

	if msg.Body.Unencrypted != nil {
		msg.Body.Unencrypted.InternalMetadata.SenderSubidentity = subPubkeyHex
		signed, err := envelope.SignInner(msg, s.keys.Private)
		if err != nil {
			return msg, fmt.Errorf("sign inner layer: %w", err)
		}
		msg = signed
	}

	return envelope.SignOuter(msg, s.keys.Private), nil
}

// nodeOnly strips the leading "@@" and any subidentity suffix, leaving just
// the top-level node name, so "@@alice.shinkai/profile" and "@@alice.shinkai"
// compare equal.
func nodeOnly(raw string) string {
	parsed, err := identity.ParseNodeName(raw)
	if err != nil {
		return strings.TrimPrefix(raw, "@@")
	}
	return parsed.Node
}
