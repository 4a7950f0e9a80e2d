package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/worldline-go/klient"
)

// OnchainIdentity is the on-chain record for a NodeName, fetched from the
// identity registry smart contract (spec §3.1).
type OnchainIdentity struct {
	BoundNFTID         string
	StakedTokens       uint64
	EncryptionPubkey   string
	SignaturePubkey    string
	RoutingFlag        bool
	AddressOrProxyList []string
	DelegatedTokens    uint64
}

// ChainReader performs the actual on-chain lookup. The production
// implementation POSTs a JSON-RPC-shaped request via klient; tests supply a
// fake.
type ChainReader interface {
	ReadIdentity(ctx context.Context, nodeName string) (OnchainIdentity, error)
}

var ErrUnknownIdentity = errors.New("identity: unknown on-chain identity")

type cacheEntry struct {
	fetchedAt time.Time
	identity  OnchainIdentity
}

// RegistryClient is a TTL-cached, lock-free-read wrapper around a ChainReader
// (spec §4.2). Reads of a fresh entry never block on the network; stale
// entries trigger a synchronous refetch on miss and a background refresh on
// stale-but-present reads.
type RegistryClient struct {
	reader ChainReader
	ttl    time.Duration

	mu    sync.Mutex // guards in-flight refresh dedup only
	cache sync.Map   // node name -> *cacheEntry

	inflight map[string]struct{}
}

// NewRegistryClient constructs a client around reader with the given cache
// TTL (spec default: 10 minutes).
func NewRegistryClient(reader ChainReader, ttl time.Duration) *RegistryClient {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RegistryClient{reader: reader, ttl: ttl, inflight: map[string]struct{}{}}
}

// Lookup returns the cached record if fresh, otherwise fetches synchronously.
// A stale-but-present record is returned immediately while a background
// refresh is kicked off (never blocks the caller).
func (c *RegistryClient) Lookup(ctx context.Context, nodeName string) (OnchainIdentity, error) {
	if v, ok := c.cache.Load(nodeName); ok {
		entry := v.(*cacheEntry)
		if time.Since(entry.fetchedAt) < c.ttl {
			return entry.identity, nil
		}
		c.refreshAsync(nodeName)
		return entry.identity, nil
	}

	identity, err := c.reader.ReadIdentity(ctx, nodeName)
	if err != nil {
		return OnchainIdentity{}, fmt.Errorf("identity: lookup %q: %w", nodeName, err)
	}
	c.cache.Store(nodeName, &cacheEntry{fetchedAt: time.Now(), identity: identity})
	return identity, nil
}

func (c *RegistryClient) refreshAsync(nodeName string) {
	c.mu.Lock()
	if _, running := c.inflight[nodeName]; running {
		c.mu.Unlock()
		return
	}
	c.inflight[nodeName] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, nodeName)
			c.mu.Unlock()
		}()

		identity, err := c.reader.ReadIdentity(context.Background(), nodeName)
		if err != nil {
			slog.Warn("identity: background refresh failed", "node", nodeName, "error", err)
			return
		}
		c.cache.Store(nodeName, &cacheEntry{fetchedAt: time.Now(), identity: identity})
	}()
}

// HTTPChainReader is the production ChainReader: a JSON-RPC-shaped HTTP POST
// to Registry.RPCURL/ContractAddress, built with klient like every other
// outbound call in the module.
type HTTPChainReader struct {
	client          *klient.Client
	contractAddress string
}

// NewHTTPChainReader builds a ChainReader over the configured RPC endpoint.
func NewHTTPChainReader(rpcURL, contractAddress string) (*HTTPChainReader, error) {
	client, err := klient.New(
		klient.WithBaseURL(rpcURL),
		klient.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: build registry client: %w", err)
	}
	return &HTTPChainReader{client: client, contractAddress: contractAddress}, nil
}

type rpcIdentityResult struct {
	BoundNFTID         string   `json:"bound_nft_id"`
	StakedTokens       uint64   `json:"staked_tokens"`
	EncryptionPubkey   string   `json:"encryption_pubkey"`
	SignaturePubkey    string   `json:"signature_pubkey"`
	RoutingFlag        bool     `json:"routing_flag"`
	AddressOrProxyList []string `json:"address_or_proxy_list"`
	DelegatedTokens    uint64   `json:"delegated_tokens"`
}

func (h *HTTPChainReader) ReadIdentity(ctx context.Context, nodeName string) (OnchainIdentity, error) {
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc":  "2.0",
		"method":   "eth_call",
		"id":       1,
		"contract": h.contractAddress,
		"params":   map[string]any{"node_name": nodeName},
	})
	if err != nil {
		return OnchainIdentity{}, fmt.Errorf("identity: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewBuffer(reqBody))
	if err != nil {
		return OnchainIdentity{}, fmt.Errorf("identity: build request: %w", err)
	}

	var out struct {
		Result rpcIdentityResult `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := h.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &out)
	}); err != nil {
		return OnchainIdentity{}, fmt.Errorf("identity: registry call: %w", err)
	}
	if out.Error != nil {
		return OnchainIdentity{}, fmt.Errorf("identity: registry error: %s", out.Error.Message)
	}

	r := out.Result
	return OnchainIdentity{
		BoundNFTID:         r.BoundNFTID,
		StakedTokens:       r.StakedTokens,
		EncryptionPubkey:   r.EncryptionPubkey,
		SignaturePubkey:    r.SignaturePubkey,
		RoutingFlag:        r.RoutingFlag,
		AddressOrProxyList: r.AddressOrProxyList,
		DelegatedTokens:    r.DelegatedTokens,
	}, nil
}

// VerifyLocalIdentity compares the local key bundle against the registry
// record for nodeName. A mismatch is fatal per spec §4.2.
func VerifyLocalIdentity(ctx context.Context, client *RegistryClient, nodeName string, bundle KeyBundle) error {
	record, err := client.Lookup(ctx, nodeName)
	if err != nil {
		return err
	}

	sigHex := fmt.Sprintf("%x", []byte(bundle.Signing.Public))
	if record.SignaturePubkey != "" && record.SignaturePubkey != sigHex {
		return errors.New("identity public key does not match the registry")
	}

	encHex := fmt.Sprintf("%x", bundle.Encryption.Public[:])
	if record.EncryptionPubkey != "" && record.EncryptionPubkey != encHex {
		return errors.New("identity public key does not match the registry")
	}

	return nil
}

// RegistryAdapter narrows a RegistryClient down to the two lookups C5's
// relay and C9's websocket broadcaster each need, so both depend on this
// package's interfaces rather than reimplementing a registry client.
type RegistryAdapter struct {
	Client *RegistryClient
}

// SignaturePubkey resolves nodeName's on-chain Ed25519 signature pubkey.
func (a RegistryAdapter) SignaturePubkey(ctx context.Context, nodeName string) (ed25519.PublicKey, error) {
	record, err := a.Client.Lookup(ctx, nodeName)
	if err != nil {
		return nil, err
	}
	if record.SignaturePubkey == "" {
		return nil, fmt.Errorf("identity: %q has no registered signature pubkey", nodeName)
	}
	pub, err := hex.DecodeString(record.SignaturePubkey)
	if err != nil {
		return nil, fmt.Errorf("identity: decode signature pubkey for %q: %w", nodeName, err)
	}
	return ed25519.PublicKey(pub), nil
}

// FirstAddress resolves nodeName's first advertised relay address.
func (a RegistryAdapter) FirstAddress(ctx context.Context, nodeName string) (string, error) {
	record, err := a.Client.Lookup(ctx, nodeName)
	if err != nil {
		return "", err
	}
	if len(record.AddressOrProxyList) == 0 {
		return "", fmt.Errorf("identity: %q has no advertised relay address", nodeName)
	}
	return record.AddressOrProxyList[0], nil
}

// EncryptionPubkey resolves nodeName's on-chain X25519 encryption pubkey,
// used by the relay to decrypt one outer layer of a message addressed to
// itself before re-sending it to the proxied local peer (spec §4.5).
func (a RegistryAdapter) EncryptionPubkey(ctx context.Context, nodeName string) ([32]byte, error) {
	record, err := a.Client.Lookup(ctx, nodeName)
	if err != nil {
		return [32]byte{}, err
	}
	if record.EncryptionPubkey == "" {
		return [32]byte{}, fmt.Errorf("identity: %q has no registered encryption pubkey", nodeName)
	}
	raw, err := hex.DecodeString(record.EncryptionPubkey)
	if err != nil {
		return [32]byte{}, fmt.Errorf("identity: decode encryption pubkey for %q: %w", nodeName, err)
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("identity: encryption pubkey for %q has wrong length %d", nodeName, len(raw))
	}
	var pk [32]byte
	copy(pk[:], raw)
	return pk, nil
}
