package envelope

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// SignOuter computes the outer signature over the whole message (minus
// ExternalMetadata.Signature) and stores it, using the sender node's signing
// key.
func SignOuter(m Message, sk ed25519.PrivateKey) Message {
	sig := ed25519.Sign(sk, outerSigningBytes(m))
	m.ExternalMetadata.Signature = hex.EncodeToString(sig)
	return m
}

// VerifyOuter checks the outer signature against pk. Per I1, this succeeds
// iff pk corresponds to the private key that produced the signature.
func VerifyOuter(m Message, pk ed25519.PublicKey) error {
	if m.ExternalMetadata.Signature == "" {
		return fmt.Errorf("envelope: outer signature missing")
	}
	sig, err := hex.DecodeString(m.ExternalMetadata.Signature)
	if err != nil {
		return fmt.Errorf("envelope: decode outer signature: %w", err)
	}
	if !ed25519.Verify(pk, outerSigningBytes(m), sig) {
		return fmt.Errorf("envelope: outer signature verification failed")
	}
	return nil
}

// SignInner computes the inner signature over Content+InternalMetadata
// (minus the signature field itself), using the sending subidentity's
// signing key. Only valid for unencrypted bodies.
func SignInner(m Message, sk ed25519.PrivateKey) (Message, error) {
	if m.Body.Unencrypted == nil {
		return m, ErrNoInnerBody
	}
	body := *m.Body.Unencrypted
	sig := ed25519.Sign(sk, innerSigningBytes(body.Content, body.InternalMetadata))
	body.InternalMetadata.Signature = hex.EncodeToString(sig)
	m.Body.Unencrypted = &body
	return m, nil
}

// VerifyInner checks the inner signature against pk.
func VerifyInner(m Message, pk ed25519.PublicKey) error {
	if m.Body.Unencrypted == nil {
		return ErrNoInnerBody
	}
	body := m.Body.Unencrypted
	if body.InternalMetadata.Signature == "" {
		return fmt.Errorf("envelope: inner signature missing")
	}
	sig, err := hex.DecodeString(body.InternalMetadata.Signature)
	if err != nil {
		return fmt.Errorf("envelope: decode inner signature: %w", err)
	}
	if !ed25519.Verify(pk, innerSigningBytes(body.Content, body.InternalMetadata), sig) {
		return fmt.Errorf("envelope: inner signature verification failed")
	}
	return nil
}
