package vectorfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/storage/memstore"
	"github.com/rakunlabs/shinkai/internal/vectorresource"
	"github.com/rakunlabs/shinkai/pkg/vectorindex"
)

type fakeIndex struct {
	upserts []vectorindex.Match
}

func (f *fakeIndex) Upsert(_ context.Context, resourcePath, nodeID string, embedding []float32) error {
	f.upserts = append(f.upserts, vectorindex.Match{ResourcePath: resourcePath, NodeID: nodeID})
	return nil
}
func (f *fakeIndex) Delete(context.Context, string, string) error              { return nil }
func (f *fakeIndex) Query(context.Context, []float32, int) ([]vectorindex.Match, error) { return nil, nil }
func (f *fakeIndex) Close()                                                    {}

func newFile(t *testing.T, name, text string) *vectorresource.VectorResource {
	t.Helper()
	doc := vectorresource.NewDocumentResource(name, "test-model")
	_, err := doc.AppendNode(vectorresource.TextContent(text), nil, nil, vectorresource.Embedding{Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	return doc
}

func TestInsertFileAndExpectedPaths(t *testing.T) {
	ctx := t.Context()
	s := New(memstore.New())

	require.NoError(t, s.InsertFile(ctx, "shared/x", newFile(t, "x", "hello")))
	require.NoError(t, s.InsertFile(ctx, "shared/y", newFile(t, "y", "world")))

	paths, err := s.ExpectedPaths(ctx, "shared")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x.vrkai", "y.vrkai"}, paths)
}

func TestChecksumSuffixAndEncodeVRKaiRoundTrip(t *testing.T) {
	ctx := t.Context()
	s := New(memstore.New())
	require.NoError(t, s.InsertFile(ctx, "shared/x", newFile(t, "x", "hello")))

	suffix, err := s.ChecksumSuffix(ctx, "shared", "x.vrkai")
	require.NoError(t, err)
	require.Len(t, suffix, 8)

	body, err := s.EncodeVRKai(ctx, "shared", "x.vrkai")
	require.NoError(t, err)

	kai, err := vectorresource.DecodeVRKai(string(body))
	require.NoError(t, err)
	require.Equal(t, suffix, kai.Resource.ChecksumSuffix())
}

func TestChecksumSuffixChangesWithMutation(t *testing.T) {
	ctx := t.Context()
	s := New(memstore.New())
	require.NoError(t, s.InsertFile(ctx, "shared/x", newFile(t, "x", "hello")))
	before, err := s.ChecksumSuffix(ctx, "shared", "x.vrkai")
	require.NoError(t, err)

	require.NoError(t, s.InsertFile(ctx, "shared/x", newFile(t, "x", "hello, mutated")))
	after, err := s.ChecksumSuffix(ctx, "shared", "x.vrkai")
	require.NoError(t, err)

	require.NotEqual(t, before, after)
}

func TestInsertFileMirrorsEmbeddingsToExternalIndex(t *testing.T) {
	ctx := t.Context()
	idx := &fakeIndex{}
	s := NewWithIndex(memstore.New(), idx)

	require.NoError(t, s.InsertFile(ctx, "shared/x", newFile(t, "x", "hello")))

	require.Len(t, idx.upserts, 1)
	require.Equal(t, "shared/x", idx.upserts[0].ResourcePath)
	require.Equal(t, "1", idx.upserts[0].NodeID)
}

func TestInsertFileWithoutIndexIsNoop(t *testing.T) {
	ctx := t.Context()
	s := New(memstore.New())
	require.NoError(t, s.InsertFile(ctx, "shared/x", newFile(t, "x", "hello")))
}
