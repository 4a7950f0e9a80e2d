package wsbroadcast

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/envelope"
)

type fakeResolver struct {
	pubkey ed25519.PublicKey
}

func (f fakeResolver) SignaturePubkey(ctx context.Context, nodeName string) (ed25519.PublicKey, error) {
	return f.pubkey, nil
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestBroadcasterHandshakeAndUpdate(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	b := New(fakeResolver{pubkey: pub})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeHTTP(context.Background(), w, r)
	}))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	handshake := envelope.NewUnencryptedMessage("", envelope.InternalMetadata{}, envelope.ExternalMetadata{
		Sender:    "alice.shinkai",
		Recipient: "alice.shinkai",
	})
	handshake = envelope.SignOuter(handshake, priv)
	require.NoError(t, conn.WriteJSON(handshake))

	require.NoError(t, conn.WriteJSON(subscribeRequest{Topic: "inbox", Subtopic: "alice.shinkai"}))

	// Give the server goroutine time to register the subscription before we
	// broadcast.
	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		set, ok := b.subs["alice.shinkai"]
		return ok && len(set) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.HandleUpdate("inbox", "alice.shinkai", map[string]string{"hello": "world"}))

	var got Update
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "inbox", got.Topic)
	require.Equal(t, "alice.shinkai", got.Subtopic)
}

func TestBroadcasterRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	b := New(fakeResolver{pubkey: pub})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeHTTP(context.Background(), w, r)
	}))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	handshake := envelope.NewUnencryptedMessage("", envelope.InternalMetadata{}, envelope.ExternalMetadata{
		Sender: "mallory.shinkai",
	})
	handshake = envelope.SignOuter(handshake, otherPriv)
	require.NoError(t, conn.WriteJSON(handshake))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var errResp map[string]string
	require.NoError(t, conn.ReadJSON(&errResp))
	require.Contains(t, errResp["error"], "ownership proof")
}
