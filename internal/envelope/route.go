package envelope

import (
	"fmt"
	"log/slog"
	"strings"
)

// Destination classifies where a verified, decrypted message should go
// next (spec §4.1 "Routing").
type Destination int

const (
	DestinationLocal Destination = iota
	DestinationRelay
)

// Route decides whether recipient matches localNode (after stripping "@@"),
// meaning the message is ours to process, or whether it must be forwarded
// through the TCP relay.
func Route(recipient, localNode string) Destination {
	r := strings.TrimPrefix(recipient, "@@")
	l := strings.TrimPrefix(localNode, "@@")
	if r == l || strings.HasPrefix(r, l+"/") {
		return DestinationLocal
	}
	return DestinationRelay
}

// ErrorReply builds an unencrypted error message addressed back to the
// original sender's inbox, per the failure semantics in spec §4.1:
// invalid outer signature -> silently discard (no reply is built at all,
// caller must not call ErrorReply in that case); invalid inner signature or
// decryption failure after successful outer verify -> reply with this.
// The returned message carries no signature: ErrorReply takes no signing
// key and does not call SignOuter or SignInner.
func ErrorReply(original Message, reason string, localNodeName string) Message {
	inbox := ""
	if original.Body.Unencrypted != nil {
		inbox = original.Body.Unencrypted.InternalMetadata.Inbox
	}

	internal := InternalMetadata{
		SenderSubidentity:    "",
		RecipientSubidentity: "",
		Inbox:                inbox,
		EncryptionMethod:     EncryptionNone,
		SchemaType:           "Error",
	}
	external := ExternalMetadata{
		Sender:    localNodeName,
		Recipient: original.ExternalMetadata.Sender,
	}

	return NewUnencryptedMessage(fmt.Sprintf("error: %s", reason), internal, external).WithScheduledNow()
}

// LogDiscard logs a dropped message per spec §4.1 (invalid outer signature:
// discard, do not reply). It only writes a warning log line; no discard
// counter is kept.
func LogDiscard(reason string, sender string) {
	slog.Warn("envelope: discarding message", "reason", reason, "sender", sender)
}
