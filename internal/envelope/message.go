// Package envelope implements the signed, optionally-encrypted message
// envelope (C2) that is the single unit of all inter-node and intra-node
// communication, plus inbox-name parsing.
package envelope

import (
	"errors"
	"time"
)

// EncryptionMethod selects how Body.Encrypted bytes were produced.
type EncryptionMethod string

const (
	EncryptionNone               EncryptionMethod = "None"
	EncryptionDiffieHellmanChaCha EncryptionMethod = "DiffieHellmanChaChaPoly1305"
)

const Version = "V2"

// InternalMetadata carries routing and signing info that is only meaningful
// once the body has been decrypted.
type InternalMetadata struct {
	SenderSubidentity    string
	RecipientSubidentity string
	Inbox                string
	Signature            string // hex-encoded inner signature, covers Content+InternalMetadata minus this field
	EncryptionMethod      EncryptionMethod
	SchemaType           string
}

// ExternalMetadata carries the outer, always-visible routing envelope.
type ExternalMetadata struct {
	Sender        string
	Recipient     string
	ScheduledTime string
	Signature     string // hex-encoded outer signature, covers everything but this field
	IntraSender   string
	Other         string
}

// UnencryptedBody is the plaintext content of a message plus the metadata
// needed to route and verify it once decrypted (or when never encrypted).
type UnencryptedBody struct {
	Content          string
	InternalMetadata InternalMetadata
}

// Body is either an opaque encrypted blob or a fully readable
// UnencryptedBody. Exactly one of the two fields is set.
type Body struct {
	Encrypted   []byte
	Unencrypted *UnencryptedBody
}

func (b Body) IsEncrypted() bool { return b.Encrypted != nil }

// Message is the canonical envelope (spec §3.2).
type Message struct {
	Body             Body
	ExternalMetadata ExternalMetadata
	EncryptionMethod EncryptionMethod
	Version          string
}

var (
	ErrAlreadyEncrypted = errors.New("envelope: body is already encrypted")
	ErrNotEncrypted     = errors.New("envelope: body is not encrypted")
	ErrNoInnerBody      = errors.New("envelope: cannot sign/verify inner: body has no unencrypted content")
)

// NewUnencryptedMessage builds an unsigned message with an unencrypted body.
func NewUnencryptedMessage(content string, internal InternalMetadata, external ExternalMetadata) Message {
	return Message{
		Body:             Body{Unencrypted: &UnencryptedBody{Content: content, InternalMetadata: internal}},
		ExternalMetadata: external,
		EncryptionMethod: EncryptionNone,
		Version:          Version,
	}
}

// WithScheduledNow stamps ExternalMetadata.ScheduledTime with RFC3339Nano
// "now", matching the canonical timestamp format used across the wire
// protocol.
func (m Message) WithScheduledNow() Message {
	m.ExternalMetadata.ScheduledTime = time.Now().UTC().Format(time.RFC3339Nano)
	return m
}
