package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeChainReader struct {
	identities map[string]OnchainIdentity
	calls      int
}

func (f *fakeChainReader) ReadIdentity(ctx context.Context, nodeName string) (OnchainIdentity, error) {
	f.calls++
	id, ok := f.identities[nodeName]
	if !ok {
		return OnchainIdentity{}, ErrUnknownIdentity
	}
	return id, nil
}

func TestRegistryClientCachesFreshLookups(t *testing.T) {
	reader := &fakeChainReader{identities: map[string]OnchainIdentity{
		"alice.shinkai": {SignaturePubkey: "aabb"},
	}}
	client := NewRegistryClient(reader, time.Minute)

	_, err := client.Lookup(context.Background(), "alice.shinkai")
	require.NoError(t, err)
	_, err = client.Lookup(context.Background(), "alice.shinkai")
	require.NoError(t, err)

	require.Equal(t, 1, reader.calls)
}

func TestRegistryAdapterSignaturePubkey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubHex := hex.EncodeToString(pub)

	reader := &fakeChainReader{identities: map[string]OnchainIdentity{
		"alice.shinkai": {SignaturePubkey: pubHex, AddressOrProxyList: []string{"relay.example:8080"}},
	}}
	adapter := RegistryAdapter{Client: NewRegistryClient(reader, time.Minute)}

	got, err := adapter.SignaturePubkey(context.Background(), "alice.shinkai")
	require.NoError(t, err)
	require.Equal(t, pub, got)

	addr, err := adapter.FirstAddress(context.Background(), "alice.shinkai")
	require.NoError(t, err)
	require.Equal(t, "relay.example:8080", addr)
}

func TestRegistryAdapterMissingPubkey(t *testing.T) {
	reader := &fakeChainReader{identities: map[string]OnchainIdentity{
		"bob.shinkai": {},
	}}
	adapter := RegistryAdapter{Client: NewRegistryClient(reader, time.Minute)}

	_, err := adapter.SignaturePubkey(context.Background(), "bob.shinkai")
	require.Error(t, err)
}
