package relay

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	validationCharset     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	validationRandomLen   = 16
	handshakeTimeout      = 10 * time.Second
	localhostIdentityTag  = "localhost"
)

// generateValidationData builds the 16-alphanumeric-plus-timestamp payload
// the relay challenges a connecting peer with (spec §4.5 step 2, §6 step 1).
func generateValidationData() (string, error) {
	raw := make([]byte, validationRandomLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("relay: generate validation data: %w", err)
	}
	for i := range raw {
		raw[i] = validationCharset[int(raw[i])%len(validationCharset)]
	}
	return string(raw) + "." + strconv.FormatInt(time.Now().UTC().Unix(), 10), nil
}

// identityResult is what a successful handshake establishes about the
// connecting peer.
type identityResult struct {
	Identity string // disambiguated with a pubkey suffix for localhost peers
	Pubkey   ed25519.PublicKey
}

// ServerHandshake runs the relay side of the identity-validation protocol
// (spec §4.5 steps 2-4, §6 "Identity validation protocol"): it challenges
// the peer, verifies the returned signature either against the on-chain
// registry (non-localhost) or the pubkey the peer supplied directly
// (localhost), and reports back success/failure over the same connection.
//
// resolvePubkey looks up the on-chain signature pubkey for a non-localhost
// identity string.
func ServerHandshake(conn net.Conn, claimedIdentity string, resolvePubkey func(identity string) (ed25519.PublicKey, error)) (identityResult, error) {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return identityResult{}, fmt.Errorf("relay: set handshake deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	validation, err := generateValidationData()
	if err != nil {
		return identityResult{}, err
	}
	if err := writeLengthPrefixedString(conn, validation); err != nil {
		return identityResult{}, fmt.Errorf("relay: send validation challenge: %w", err)
	}

	isLocalhost := strings.HasPrefix(claimedIdentity, localhostIdentityTag)

	var pubkey ed25519.PublicKey
	var sigHex string

	if isLocalhost {
		total, err := readUint32(conn)
		if err != nil {
			return identityResult{}, fmt.Errorf("relay: read localhost response total_len: %w", err)
		}
		_ = total // total_len is redundant with the nested lengths; not otherwise used.

		var pkLen uint32
		if err := binary.Read(conn, binary.BigEndian, &pkLen); err != nil {
			return identityResult{}, fmt.Errorf("relay: read localhost pubkey length: %w", err)
		}
		pkHex := make([]byte, pkLen)
		if _, err := io.ReadFull(conn, pkHex); err != nil {
			return identityResult{}, fmt.Errorf("relay: read localhost pubkey: %w", err)
		}

		var sigLen uint32
		if err := binary.Read(conn, binary.BigEndian, &sigLen); err != nil {
			return identityResult{}, fmt.Errorf("relay: read localhost signature length: %w", err)
		}
		sigHexBytes := make([]byte, sigLen)
		if _, err := io.ReadFull(conn, sigHexBytes); err != nil {
			return identityResult{}, fmt.Errorf("relay: read localhost signature: %w", err)
		}

		pkBytes, err := hex.DecodeString(string(pkHex))
		if err != nil {
			failHandshake(conn, "Validation failed: invalid pubkey hex")
			return identityResult{}, fmt.Errorf("relay: decode localhost pubkey: %w", err)
		}
		pubkey = ed25519.PublicKey(pkBytes)
		sigHex = string(sigHexBytes)
	} else {
		raw, err := readLengthPrefixedString(conn)
		if err != nil {
			return identityResult{}, fmt.Errorf("relay: read signature response: %w", err)
		}
		sigHex = raw

		pubkey, err = resolvePubkey(claimedIdentity)
		if err != nil {
			failHandshake(conn, "Validation failed: unknown identity")
			return identityResult{}, fmt.Errorf("relay: resolve on-chain pubkey for %q: %w", claimedIdentity, err)
		}
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		failHandshake(conn, "Validation failed: invalid signature hex")
		return identityResult{}, fmt.Errorf("relay: decode signature hex: %w", err)
	}

	if !ed25519.Verify(pubkey, []byte(validation), sig) {
		failHandshake(conn, "Validation failed: signature mismatch")
		return identityResult{}, fmt.Errorf("relay: signature verification failed for %q", claimedIdentity)
	}

	if err := writeLengthPrefixedString(conn, "Validation successful"); err != nil {
		return identityResult{}, fmt.Errorf("relay: send validation success: %w", err)
	}

	identity := claimedIdentity
	if isLocalhost {
		// Localhost identities are disambiguated with their pubkey so two
		// local clients never collide in the socket map (spec §4.5 step 4).
		identity = claimedIdentity + ":" + hex.EncodeToString(pubkey)
	}

	return identityResult{Identity: identity, Pubkey: pubkey}, nil
}

func failHandshake(conn net.Conn, message string) {
	_ = writeLengthPrefixedString(conn, message)
	_ = conn.Close()
}

func readUint32(r io.Reader) (uint32, error) {
	var n uint32
	err := binary.Read(r, binary.BigEndian, &n)
	return n, err
}

// ClientHandshake runs the client side: it reads the relay's challenge,
// signs it with sk, and sends the signature back in the shape the relay
// expects for localhost vs non-localhost identities (spec §6 step 2).
func ClientHandshake(conn net.Conn, identity string, sk ed25519.PrivateKey) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("relay: set handshake deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	validation, err := readLengthPrefixedString(conn)
	if err != nil {
		return fmt.Errorf("relay: read validation challenge: %w", err)
	}

	sig := ed25519.Sign(sk, []byte(validation))
	sigHex := hex.EncodeToString(sig)

	if strings.HasPrefix(identity, localhostIdentityTag) {
		pkHex := hex.EncodeToString(sk.Public().(ed25519.PublicKey))
		total := uint32(4 + len(pkHex) + 4 + len(sigHex))
		buf := make([]byte, 0, 4+int(total))
		buf = binary.BigEndian.AppendUint32(buf, total)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(pkHex)))
		buf = append(buf, pkHex...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(sigHex)))
		buf = append(buf, sigHex...)
		if _, err := conn.Write(buf); err != nil {
			return fmt.Errorf("relay: send localhost handshake response: %w", err)
		}
	} else {
		if err := writeLengthPrefixedString(conn, sigHex); err != nil {
			return fmt.Errorf("relay: send signature response: %w", err)
		}
	}

	result, err := readLengthPrefixedString(conn)
	if err != nil {
		return fmt.Errorf("relay: read validation result: %w", err)
	}
	if !strings.HasPrefix(result, "Validation successful") {
		return fmt.Errorf("relay: handshake rejected: %s", result)
	}
	return nil
}
