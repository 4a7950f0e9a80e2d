// Package vectorindex is an optional, additive accelerator for C3's
// in-process VectorResource search: a pgvector-backed ANN index that
// mirrors ingested embeddings for fast server-side pre-filtering. Its
// absence never changes search results, only latency — the recursive
// tree walk in internal/vectorresource remains the source of truth.
package vectorindex

import "context"

// Match is a single nearest-neighbor hit from an ExternalIndex query,
// carrying enough to re-locate the node inside its owning VectorResource.
type Match struct {
	ResourcePath string // "/"-delimited path identifying the owning VectorResource
	NodeID       string
	Score        float32
}

// ExternalIndex accelerates similarity search over a large embedding
// corpus. Implementations are best-effort: callers fall back to the
// in-process VectorSearch when ExternalIndex is nil or returns an error.
type ExternalIndex interface {
	// Upsert mirrors a single node's embedding into the index.
	Upsert(ctx context.Context, resourcePath, nodeID string, embedding []float32) error
	// Delete removes a previously-mirrored embedding.
	Delete(ctx context.Context, resourcePath, nodeID string) error
	// Query returns the k nearest neighbors to query, best score first.
	Query(ctx context.Context, query []float32, k int) ([]Match, error)
	Close()
}
