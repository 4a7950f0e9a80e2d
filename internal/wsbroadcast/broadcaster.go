// Package wsbroadcast implements the WebSocket broadcaster (C9): a
// topic/subtopic pub-sub fan-out to authenticated client sockets, gated by
// the same signature scheme the message envelope uses everywhere else.
package wsbroadcast

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rakunlabs/shinkai/internal/envelope"
)

// PubkeyResolver resolves a claimed shinkai_name's on-chain signature
// pubkey, the same contract the relay (C5) authenticates against.
type PubkeyResolver interface {
	SignaturePubkey(ctx context.Context, nodeName string) (ed25519.PublicKey, error)
}

// topicKey is a subscribed "topic::subtopic" pair (spec §4.9).
type topicKey struct {
	topic    string
	subtopic string
}

func (k topicKey) String() string { return k.topic + "::" + k.subtopic }

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to this socket
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Broadcaster maps shinkai_name -> socket and shinkai_name -> subscribed
// topic::subtopic set (spec §4.9).
type Broadcaster struct {
	resolver PubkeyResolver
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sockets  map[string]*client
	subs     map[string]map[topicKey]struct{}
}

// New constructs a Broadcaster. resolver validates the identity claimed by
// a connecting socket's first message.
func New(resolver PubkeyResolver) *Broadcaster {
	return &Broadcaster{
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sockets: map[string]*client{},
		subs:    map[string]map[topicKey]struct{}{},
	}
}

// subscribeRequest is the JSON shape clients send after the initial
// handshake message to subscribe to update streams. Every request adds a
// subscription; there is no unsubscribe request, and a socket's
// subscriptions are dropped only when it disconnects.
type subscribeRequest struct {
	Topic    string `json:"topic"`
	Subtopic string `json:"subtopic"`
}

// ServeHTTP upgrades the connection, authenticates the first message as a
// signed ShinkaiMessage proving ownership of the claimed shinkai_name (spec
// §4.9, same scheme as §4.1), then reads subscribe requests until the
// socket closes.
func (b *Broadcaster) ServeHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("wsbroadcast: upgrade failed", "error", err)
		return
	}

	nodeName, err := b.handshake(ctx, conn)
	if err != nil {
		slog.Warn("wsbroadcast: handshake failed", "error", err)
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		_ = conn.Close()
		return
	}

	c := &client{conn: conn}
	b.mu.Lock()
	b.sockets[nodeName] = c
	if b.subs[nodeName] == nil {
		b.subs[nodeName] = map[topicKey]struct{}{}
	}
	b.mu.Unlock()

	defer b.removeSocket(nodeName)

	for {
		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		b.mu.Lock()
		b.subs[nodeName][topicKey{topic: req.Topic, subtopic: req.Subtopic}] = struct{}{}
		b.mu.Unlock()
	}
}

// handshake reads the first socket message, decodes it as a signed
// envelope.Message, and verifies the outer signature against the claimed
// sender's registered pubkey.
func (b *Broadcaster) handshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	var msg envelope.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("wsbroadcast: read handshake message: %w", err)
	}

	nodeName := msg.ExternalMetadata.Sender
	if nodeName == "" {
		return "", fmt.Errorf("wsbroadcast: handshake message has no sender")
	}

	pubkey, err := b.resolver.SignaturePubkey(ctx, nodeName)
	if err != nil {
		return "", fmt.Errorf("wsbroadcast: resolve pubkey for %q: %w", nodeName, err)
	}

	if err := envelope.VerifyOuter(msg, pubkey); err != nil {
		return "", fmt.Errorf("wsbroadcast: %q failed ownership proof: %w", nodeName, err)
	}

	return nodeName, nil
}

func (b *Broadcaster) removeSocket(nodeName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sockets, nodeName)
	delete(b.subs, nodeName)
}

// Update is a single topic::subtopic payload delivered to every subscribed
// socket (spec §4.9 "handle_update").
type Update struct {
	Topic    string          `json:"topic"`
	Subtopic string          `json:"subtopic"`
	Payload  json.RawMessage `json:"payload"`
}

// HandleUpdate iterates every connected socket subscribed to
// topic::subtopic and writes payload; write failures are logged and the
// socket removed (spec §4.9).
func (b *Broadcaster) HandleUpdate(topic, subtopic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wsbroadcast: marshal update payload: %w", err)
	}
	update := Update{Topic: topic, Subtopic: subtopic, Payload: raw}
	key := topicKey{topic: topic, subtopic: subtopic}

	b.mu.RLock()
	targets := make([]string, 0, len(b.subs))
	for nodeName, set := range b.subs {
		if _, ok := set[key]; ok {
			targets = append(targets, nodeName)
		}
	}
	b.mu.RUnlock()

	var dead []string
	for _, nodeName := range targets {
		b.mu.RLock()
		c := b.sockets[nodeName]
		b.mu.RUnlock()
		if c == nil {
			continue
		}
		if err := c.writeJSON(update); err != nil {
			slog.Warn("wsbroadcast: write failed, dropping socket", "shinkai_name", nodeName, "error", err)
			dead = append(dead, nodeName)
		}
	}

	for _, nodeName := range dead {
		b.removeSocket(nodeName)
	}
	return nil
}
