package envelope

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// sharedSecret derives the X25519 shared secret between our encryption
// private key and the peer's encryption public key, then stretches it
// through HKDF into a ChaCha20-Poly1305 key, matching the
// "DiffieHellmanChaChaPoly1305" wire name (spec §3.2).
func sharedSecret(sk, peerPK [32]byte) ([]byte, error) {
	raw, err := curve25519.X25519(sk[:], peerPK[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: derive shared secret: %w", err)
	}

	kdf := hkdf.New(sha3.New256, raw, nil, []byte("shinkai-message-encryption"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("envelope: stretch shared secret: %w", err)
	}
	return key, nil
}

// EncryptBody serializes and encrypts the message's UnencryptedBody with the
// DH-ChaChaPoly1305 scheme, keyed by sk (our encryption secret key) and
// peerPK (recipient's encryption public key). Returns a copy of m with an
// Encrypted body.
func EncryptBody(m Message, sk, peerPK [32]byte) (Message, error) {
	if m.Body.Unencrypted == nil {
		return m, ErrAlreadyEncrypted
	}

	plaintext, err := json.Marshal(m.Body.Unencrypted)
	if err != nil {
		return m, fmt.Errorf("envelope: marshal body: %w", err)
	}

	key, err := sharedSecret(sk, peerPK)
	if err != nil {
		return m, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return m, fmt.Errorf("envelope: create aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return m, fmt.Errorf("envelope: generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	m.Body = Body{Encrypted: sealed}
	m.EncryptionMethod = EncryptionDiffieHellmanChaCha
	return m, nil
}

// DecryptBody reverses EncryptBody: sk is our encryption secret key, peerPK
// is the sender's encryption public key.
func DecryptBody(m Message, sk, peerPK [32]byte) (Message, error) {
	if !m.Body.IsEncrypted() {
		return m, ErrNotEncrypted
	}

	key, err := sharedSecret(sk, peerPK)
	if err != nil {
		return m, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return m, fmt.Errorf("envelope: create aead: %w", err)
	}

	if len(m.Body.Encrypted) < aead.NonceSize() {
		return m, fmt.Errorf("envelope: ciphertext too short")
	}
	nonce, sealed := m.Body.Encrypted[:aead.NonceSize()], m.Body.Encrypted[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return m, fmt.Errorf("envelope: decrypt body: %w", err)
	}

	var body UnencryptedBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return m, fmt.Errorf("envelope: unmarshal decrypted body: %w", err)
	}

	m.Body = Body{Unencrypted: &body}
	m.EncryptionMethod = EncryptionNone
	return m, nil
}
