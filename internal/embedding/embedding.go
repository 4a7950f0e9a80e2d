// Package embedding provides the EmbeddingGenerator contract the job
// execution engine's inference-chain router and file ingestion depend on,
// plus a reference HTTP implementation (OpenAI-compatible /embeddings
// endpoint), adapted from the same klient-based request shape AT's
// internal/llm adapters use for chat completions.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"
)

// Generator produces a fixed-dimension embedding vector for a chunk of
// text. Shared by the router's chain-dispatch classification and file
// ingestion so both use the exact same embedding space (spec §4.7).
type Generator interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

const DefaultBaseURL = "https://api.openai.com/v1/embeddings"

// HTTPGenerator calls an OpenAI-compatible /embeddings endpoint.
type HTTPGenerator struct {
	Model string

	client *klient.Client
}

// New creates an HTTP-backed Generator. baseURL defaults to OpenAI's public
// embeddings endpoint when empty, so any OpenAI-compatible embeddings API
// works unmodified.
func New(apiKey, model, baseURL, proxy string, insecureSkipVerify bool) (*HTTPGenerator, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	if apiKey != "" {
		headers["Authorization"] = []string{"Bearer " + apiKey}
	}

	klientOpts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	}
	if proxy != "" {
		klientOpts = append(klientOpts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		klientOpts = append(klientOpts, klient.WithInsecureSkipVerify(true))
	}

	client, err := klient.New(klientOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedding: build client: %w", err)
	}

	return &HTTPGenerator{Model: model, client: client}, nil
}

type embeddingsResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": g.Model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}

	var result embeddingsResponse
	if err := g.client.Do(req, func(r *http.Response) error {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &result)
	}); err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("embedding: provider error: %s", result.Error.Message)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding: no embeddings returned")
	}

	return result.Data[0].Embedding, nil
}
