package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// SigningKeypair is an Ed25519 identity keypair used to sign outer/inner
// message layers.
type SigningKeypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// EncryptionKeypair is an X25519 keypair used to derive the shared secret for
// body encryption.
type EncryptionKeypair struct {
	Public  [32]byte
	Private [32]byte
}

// KeyBundle holds both keypairs a node (or subidentity) owns.
type KeyBundle struct {
	Signing    SigningKeypair
	Encryption EncryptionKeypair
}

// GenerateKeyBundle creates a fresh signing + encryption keypair.
func GenerateKeyBundle() (KeyBundle, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("identity: generate signing key: %w", err)
	}

	var encPriv [32]byte
	if _, err := rand.Read(encPriv[:]); err != nil {
		return KeyBundle{}, fmt.Errorf("identity: generate encryption key: %w", err)
	}
	// clamp per X25519 convention
	encPriv[0] &= 248
	encPriv[31] &= 127
	encPriv[31] |= 64

	var encPub [32]byte
	pubBytes, err := curve25519.X25519(encPriv[:], curve25519.Basepoint)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("identity: derive encryption public key: %w", err)
	}
	copy(encPub[:], pubBytes)

	return KeyBundle{
		Signing:    SigningKeypair{Public: pub, Private: priv},
		Encryption: EncryptionKeypair{Public: encPub, Private: encPriv},
	}, nil
}

// KeyBundleFromHex reconstructs a KeyBundle from hex-encoded secret keys, the
// same format used by the ".secret" file (spec §6: IDENTITY_SECRET_KEY,
// ENCRYPTION_SECRET_KEY).
func KeyBundleFromHex(identitySecretHex, encryptionSecretHex string) (KeyBundle, error) {
	sigSeed, err := hex.DecodeString(identitySecretHex)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("identity: decode identity secret: %w", err)
	}
	if len(sigSeed) != ed25519.SeedSize {
		return KeyBundle{}, fmt.Errorf("identity: identity secret must be %d bytes, got %d", ed25519.SeedSize, len(sigSeed))
	}
	priv := ed25519.NewKeyFromSeed(sigSeed)

	encPrivBytes, err := hex.DecodeString(encryptionSecretHex)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("identity: decode encryption secret: %w", err)
	}
	if len(encPrivBytes) != 32 {
		return KeyBundle{}, fmt.Errorf("identity: encryption secret must be 32 bytes, got %d", len(encPrivBytes))
	}
	var encPriv [32]byte
	copy(encPriv[:], encPrivBytes)

	pubBytes, err := curve25519.X25519(encPriv[:], curve25519.Basepoint)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("identity: derive encryption public key: %w", err)
	}
	var encPub [32]byte
	copy(encPub[:], pubBytes)

	return KeyBundle{
		Signing:    SigningKeypair{Public: priv.Public().(ed25519.PublicKey), Private: priv},
		Encryption: EncryptionKeypair{Public: encPub, Private: encPriv},
	}, nil
}

// HexSecrets returns the hex-encoded secret material for persisting to the
// ".secret" file.
func (k KeyBundle) HexSecrets() (identitySecretHex, encryptionSecretHex string) {
	return hex.EncodeToString(k.Signing.Private.Seed()), hex.EncodeToString(k.Encryption.Private[:])
}
