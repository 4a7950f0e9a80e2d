package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeIndex is a minimal in-memory ExternalIndex used to exercise the
// interface contract without a live Postgres instance.
type fakeIndex struct {
	rows map[string][]float32 // resourcePath+"/"+nodeID -> embedding
}

func newFakeIndex() *fakeIndex { return &fakeIndex{rows: map[string][]float32{}} }

func (f *fakeIndex) Upsert(ctx context.Context, resourcePath, nodeID string, embedding []float32) error {
	f.rows[resourcePath+"/"+nodeID] = embedding
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, resourcePath, nodeID string) error {
	delete(f.rows, resourcePath+"/"+nodeID)
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, query []float32, k int) ([]Match, error) {
	var out []Match
	for key, vec := range f.rows {
		var dot float32
		for i := range query {
			if i < len(vec) {
				dot += query[i] * vec[i]
			}
		}
		out = append(out, Match{ResourcePath: key, Score: dot})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeIndex) Close() {}

func TestExternalIndexContractUpsertDeleteQuery(t *testing.T) {
	var idx ExternalIndex = newFakeIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "docs/a", "n1", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "docs/a", "n2", []float32{0, 1, 0}))

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	require.NoError(t, idx.Delete(ctx, "docs/a", "n2"))
	matches, err = idx.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
