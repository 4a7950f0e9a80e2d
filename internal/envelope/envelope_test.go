package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/identity"
)

func newBundle(t *testing.T) identity.KeyBundle {
	t.Helper()
	b, err := identity.GenerateKeyBundle()
	require.NoError(t, err)
	return b
}

func TestOuterSignVerifyRoundTrip(t *testing.T) {
	alice := newBundle(t)
	bob := newBundle(t)

	m := NewUnencryptedMessage("hello", InternalMetadata{Inbox: "inbox::@@alice::@@bob::false"}, ExternalMetadata{
		Sender:    "@@alice",
		Recipient: "@@bob",
	})

	signed := SignOuter(m, alice.Signing.Private)
	require.NoError(t, VerifyOuter(signed, alice.Signing.Public))

	// I1: verification fails with any other key.
	require.Error(t, VerifyOuter(signed, bob.Signing.Public))
}

func TestInnerSignVerifyRoundTrip(t *testing.T) {
	alice := newBundle(t)

	m := NewUnencryptedMessage("hello", InternalMetadata{Inbox: "x"}, ExternalMetadata{})
	signed, err := SignInner(m, alice.Signing.Private)
	require.NoError(t, err)
	require.NoError(t, VerifyInner(signed, alice.Signing.Public))

	tampered := signed
	content := *tampered.Body.Unencrypted
	content.Content = "tampered"
	tampered.Body.Unencrypted = &content
	require.Error(t, VerifyInner(tampered, alice.Signing.Public))
}

func TestEncryptDecryptBodyRoundTrip(t *testing.T) {
	alice := newBundle(t)
	bob := newBundle(t)

	m := NewUnencryptedMessage("secret payload", InternalMetadata{Inbox: "x"}, ExternalMetadata{})

	encrypted, err := EncryptBody(m, alice.Encryption.Private, bob.Encryption.Public)
	require.NoError(t, err)
	require.True(t, encrypted.Body.IsEncrypted())

	decrypted, err := DecryptBody(encrypted, bob.Encryption.Private, alice.Encryption.Public)
	require.NoError(t, err)
	require.False(t, decrypted.Body.IsEncrypted())
	require.Equal(t, "secret payload", decrypted.Body.Unencrypted.Content)
}

func TestEncryptDecryptWrongKeyFails(t *testing.T) {
	alice := newBundle(t)
	bob := newBundle(t)
	mallory := newBundle(t)

	m := NewUnencryptedMessage("secret payload", InternalMetadata{Inbox: "x"}, ExternalMetadata{})

	encrypted, err := EncryptBody(m, alice.Encryption.Private, bob.Encryption.Public)
	require.NoError(t, err)

	_, err = DecryptBody(encrypted, mallory.Encryption.Private, alice.Encryption.Public)
	require.Error(t, err)
}

func TestHashForPaginationDeterministic(t *testing.T) {
	m1 := NewUnencryptedMessage("same content", InternalMetadata{Inbox: "x"}, ExternalMetadata{Sender: "@@a", Recipient: "@@b"})
	m2 := NewUnencryptedMessage("same content", InternalMetadata{Inbox: "x"}, ExternalMetadata{Sender: "@@a", Recipient: "@@b"})

	require.Equal(t, HashForPagination(m1), HashForPagination(m2))

	m3 := m2
	m3.Body.Unencrypted = &UnencryptedBody{Content: "different", InternalMetadata: m2.Body.Unencrypted.InternalMetadata}
	require.NotEqual(t, HashForPagination(m1), HashForPagination(m3))
}

func TestInboxNameRoundTrip(t *testing.T) {
	alice, err := identity.ParseNodeName("@@alice.shinkai")
	require.NoError(t, err)
	bob, err := identity.ParseNodeName("@@bob.shinkai")
	require.NoError(t, err)

	n := NewPairwiseInboxName(alice, bob, false)
	formatted := n.Format()

	parsed, err := ParseInboxName(formatted)
	require.NoError(t, err)
	require.Equal(t, n, parsed)

	job := NewJobInboxName("job-123")
	parsedJob, err := ParseInboxName(job.Format())
	require.NoError(t, err)
	require.Equal(t, job, parsedJob)
}

func TestInboxNameUnsortedRejected(t *testing.T) {
	// "bob" > "alice" lexicographically, so this ordering is invalid.
	_, err := ParseInboxName("inbox::@@bob.shinkai::@@alice.shinkai::false")
	require.Error(t, err)
}
