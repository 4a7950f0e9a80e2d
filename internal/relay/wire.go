// Package relay implements the TCP NAT-traversal broker (C5): connection
// lifecycle, identity-validation handshake, and message forwarding by
// recipient identity.
package relay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// TypeTag distinguishes the payload carried by a NetworkMessage frame.
type TypeTag byte

const (
	TypeShinkaiMessage TypeTag = 0x01
	TypeVRKaiPathPair  TypeTag = 0x02
)

// NetworkMessage is one framed unit exchanged over the relay wire (spec §6
// "frame := u32_be total_len | u32_be identity_len | identity | type_tag |
// payload").
type NetworkMessage struct {
	Identity string
	Type     TypeTag
	Payload  []byte
}

// maxFrameBytes bounds a single frame to guard the relay against a peer
// claiming an absurd total_len and exhausting memory on read.
const maxFrameBytes = 64 << 20

// ReadFrame reads one length-prefixed NetworkMessage frame from r. r must
// be the same stream across repeated calls (e.g. a net.Conn) — ReadFrame
// never reads ahead past the current frame, so strict per-connection frame
// ordering (spec §4.5 "Ordering") holds across calls.
func ReadFrame(r io.Reader) (NetworkMessage, error) {
	var totalLen uint32
	if err := binary.Read(r, binary.BigEndian, &totalLen); err != nil {
		return NetworkMessage{}, fmt.Errorf("relay: read frame total_len: %w", err)
	}
	if totalLen > maxFrameBytes {
		return NetworkMessage{}, fmt.Errorf("relay: frame total_len %d exceeds max %d", totalLen, maxFrameBytes)
	}

	var idLen uint32
	if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
		return NetworkMessage{}, fmt.Errorf("relay: read frame identity_len: %w", err)
	}
	if idLen > totalLen {
		return NetworkMessage{}, fmt.Errorf("relay: identity_len %d exceeds total_len %d", idLen, totalLen)
	}

	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return NetworkMessage{}, fmt.Errorf("relay: read frame identity: %w", err)
	}

	typeByte := make([]byte, 1)
	if _, err := io.ReadFull(r, typeByte); err != nil {
		return NetworkMessage{}, fmt.Errorf("relay: read frame type_tag: %w", err)
	}

	// total_len counts identity_len(4) + identity + type_tag(1) + payload.
	payloadLen := int64(totalLen) - 4 - int64(idLen) - 1
	if payloadLen < 0 {
		return NetworkMessage{}, fmt.Errorf("relay: computed negative payload length from total_len %d", totalLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return NetworkMessage{}, fmt.Errorf("relay: read frame payload: %w", err)
	}

	return NetworkMessage{Identity: string(idBytes), Type: TypeTag(typeByte[0]), Payload: payload}, nil
}

// WriteFrame writes msg as a single length-prefixed frame to w.
func WriteFrame(w io.Writer, msg NetworkMessage) error {
	idBytes := []byte(msg.Identity)
	totalLen := uint32(4 + len(idBytes) + 1 + len(msg.Payload))

	buf := make([]byte, 0, 8+len(idBytes)+1+len(msg.Payload))
	buf = binary.BigEndian.AppendUint32(buf, totalLen)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(idBytes)))
	buf = append(buf, idBytes...)
	buf = append(buf, byte(msg.Type))
	buf = append(buf, msg.Payload...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("relay: write frame: %w", err)
	}
	return nil
}

// writeLengthPrefixedString writes a `u32_be len | utf8 body` frame, the
// shape used by every step of the identity-validation handshake.
func writeLengthPrefixedString(w io.Writer, s string) error {
	buf := make([]byte, 0, 4+len(s))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	buf = append(buf, s...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("relay: write length-prefixed string: %w", err)
	}
	return nil
}

// readLengthPrefixedString reads a `u32_be len | utf8 body` frame.
func readLengthPrefixedString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("relay: read length-prefixed string length: %w", err)
	}
	if n > maxFrameBytes {
		return "", fmt.Errorf("relay: length-prefixed string length %d exceeds max %d", n, maxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("relay: read length-prefixed string body: %w", err)
	}
	return string(buf), nil
}
