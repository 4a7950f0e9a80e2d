package relay

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
)

// Dial connects to addr, sends msg as the opening frame, and completes the
// handshake, returning the live connection for further frames on success.
func Dial(ctx context.Context, addr string, identityName string, sk ed25519.PrivateKey, msg NetworkMessage) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", addr, err)
	}

	if err := WriteFrame(conn, msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: send opening frame: %w", err)
	}

	if err := ClientHandshake(conn, identityName, sk); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: handshake with %s: %w", addr, err)
	}

	return conn, nil
}
