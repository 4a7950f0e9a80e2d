package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"
)

var Service = "shinkai"

// Config is the node's full runtime configuration, loaded once at startup
// by Load and never mutated afterwards.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Identity names the node and locates its signing/encryption keys.
	Identity Identity `cfg:"identity"`

	// Registry points at the on-chain identity registry used to resolve
	// peer routing info and to verify this node's own keys at startup.
	Registry Registry `cfg:"registry"`

	// Storage configures the on-disk column-family store.
	Storage Storage `cfg:"storage"`

	// Relay configures the TCP message relay listener.
	Relay Relay `cfg:"relay"`

	// Subscription configures the periodic folder-subscription sync loop.
	Subscription Subscription `cfg:"subscription"`

	// Server configures the websocket broadcaster's HTTP listener.
	Server Server `cfg:"server"`

	// Providers is a map of named LLM provider configurations used by the
	// job execution engine's inference chains.
	//
	// Example YAML:
	//
	//   providers:
	//     anthropic:
	//       type: anthropic
	//       api_key: "sk-ant-..."
	//       model: "claude-haiku-4-5"
	//     openai:
	//       type: openai
	//       api_key: "sk-..."
	//       model: "gpt-4o"
	Providers map[string]LLMConfig `cfg:"providers"`

	// Embedding configures the text-embedding generator shared by the job
	// router's chain-selection similarity search and file ingestion.
	Embedding Embedding `cfg:"embedding"`

	// VectorIndex optionally configures a pgvector-backed accelerator for
	// the Vector FS's chunk embeddings. Left with an empty Datasource, no
	// external index is opened and search falls back to the in-process
	// recursive walk.
	VectorIndex VectorIndex `cfg:"vector_index"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// VectorIndex configures the optional pgvector mirror of ingested file
// embeddings (spec §9 external-index note).
type VectorIndex struct {
	Datasource string `cfg:"datasource" json:"datasource" log:"-"`
	Table      string `cfg:"table" json:"table" default:"shinkai_vector_index"`
	Dimensions int    `cfg:"dimensions" json:"dimensions" default:"1536"`
}

// Embedding configures the OpenAI-compatible embeddings endpoint used to
// vectorize inbound messages and ingested files.
type Embedding struct {
	APIKey             string `cfg:"api_key" json:"api_key" log:"-"`
	Model              string `cfg:"model" json:"model" default:"text-embedding-3-small"`
	BaseURL            string `cfg:"base_url" json:"base_url"`
	Proxy              string `cfg:"proxy" json:"proxy"`
	InsecureSkipVerify bool   `cfg:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// Identity names this node on the network and locates its key material.
type Identity struct {
	// NodeName is this node's global identity name, e.g. "@@alice.shinkai".
	NodeName string `cfg:"node_name"`

	// SecretFile is the path to the KEY=VALUE file holding
	// GLOBAL_IDENTITY_NAME, IDENTITY_SECRET_KEY, and ENCRYPTION_SECRET_KEY.
	SecretFile string `cfg:"secret_file" default:"./.secret"`
}

// Registry configures the on-chain identity lookup client.
type Registry struct {
	RPCURL          string        `cfg:"rpc_url"`
	ContractAddress string        `cfg:"contract_address"`
	CacheTTL        time.Duration `cfg:"cache_ttl" default:"10m"`
}

// Storage configures the embedded column-family key-value store.
type Storage struct {
	// Path is the bbolt database file path. Empty means an in-memory store
	// is used instead (tests, local dev).
	Path string `cfg:"path"`
}

// Relay configures the raw TCP relay listener (C5).
type Relay struct {
	Host string `cfg:"host" default:"0.0.0.0"`
	Port string `cfg:"port" default:"8080"`

	// IdentityValidationTimeout is not read by the relay: the deadline for a
	// newly accepted connection's identity-validation handshake is the fixed
	// 10 s handshakeTimeout in internal/relay.
	IdentityValidationTimeout time.Duration `cfg:"identity_validation_timeout" default:"10s"`

	Proxy              string `cfg:"proxy"`
	InsecureSkipVerify bool   `cfg:"insecure_skip_verify"`
}

// Subscription configures the periodic folder-mirror sync loop (C8).
type Subscription struct {
	// Interval is the cron-style schedule for the sync loop, consumed
	// directly by hardloop.NewCron (e.g. "@every 5m").
	Interval string `cfg:"interval" default:"@every 5m"`

	// UploadConcurrency bounds how many paths may be uploading at once.
	UploadConcurrency int64 `cfg:"upload_concurrency" default:"2"`

	// Proxy and InsecureSkipVerify configure the HTTP client used to talk to
	// the remote mirror destinations.
	Proxy              string `cfg:"proxy"`
	InsecureSkipVerify bool   `cfg:"insecure_skip_verify"`
}

// Server configures the HTTP listener that serves the websocket broadcaster.
type Server struct {
	BasePath string `cfg:"base_path"`
	Port     string `cfg:"port" default:"9080"`
	Host     string `cfg:"host"`

	// Alan, if set, enables distributed clustering via UDP peer discovery,
	// used to elect a single subscription-sync leader across node replicas.
	Alan *alan.Config `cfg:"alan"`
}

// LLMConfig describes a single LLM provider configuration used by the job
// execution engine's inference chains.
type LLMConfig struct {
	// Type is the provider type: "anthropic" or "openai". The "openai" type
	// works with any OpenAI-compatible chat completions API.
	Type string `cfg:"type" json:"type"`

	// APIKey is the authentication key for the provider.
	APIKey string `cfg:"api_key" json:"api_key" log:"-"`

	// BaseURL is the full endpoint URL for the provider's chat completions
	// API. Defaults to the provider's public endpoint when empty.
	BaseURL string `cfg:"base_url" json:"base_url"`

	// Model is the default model identifier (e.g. "gpt-4o", "claude-haiku-4-5").
	Model string `cfg:"model" json:"model"`

	// ExtraHeaders allows setting additional HTTP headers sent with each request.
	ExtraHeaders map[string]string `cfg:"extra_headers" json:"extra_headers"`

	// Proxy is an optional HTTP/HTTPS/SOCKS5 proxy URL.
	Proxy string `cfg:"proxy" json:"proxy"`

	// InsecureSkipVerify disables TLS certificate verification, for
	// self-signed certificates or internal endpoints.
	InsecureSkipVerify bool `cfg:"insecure_skip_verify" json:"insecure_skip_verify"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("SHINKAI_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
