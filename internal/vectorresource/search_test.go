package vectorresource

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorSearchTopK(t *testing.T) {
	r := NewDocumentResource("doc", "test-model")

	_, err := r.AppendNode(TextContent("a"), nil, nil, Embedding{Vector: []float32{1, 0}})
	require.NoError(t, err)
	_, err = r.AppendNode(TextContent("b"), nil, nil, Embedding{Vector: []float32{0, 1}})
	require.NoError(t, err)
	_, err = r.AppendNode(TextContent("c"), nil, nil, Embedding{Vector: []float32{1, 1}})
	require.NoError(t, err)

	results := r.VectorSearch([]float32{1, 0}, 2, nil, DefaultTraversalOptions())
	require.Len(t, results, 2)
	require.Equal(t, "1", results[0].Node.ID)
	require.Equal(t, "3", results[1].Node.ID)
	require.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestDocumentIDsStayDense(t *testing.T) {
	r := NewDocumentResource("doc", "test-model")
	for i := 0; i < 5; i++ {
		_, err := r.AppendNode(TextContent("x"), nil, nil, Embedding{Vector: []float32{float32(i)}})
		require.NoError(t, err)
	}

	_, err := r.RemoveNode("3")
	require.NoError(t, err)

	for i, n := range r.Document.Nodes {
		id, err := strconv.Atoi(n.ID)
		require.NoError(t, err)
		require.Equal(t, i+1, id)
	}
}

func TestRemoveNodeFromMiddleKeepsIndexesConsistent(t *testing.T) {
	r := NewDocumentResource("doc", "test-model")
	for i := 0; i < 5; i++ {
		_, err := r.AppendNode(TextContent("x"), map[string]string{"color": "blue"}, []string{"keep"}, Embedding{Vector: []float32{float32(i)}})
		require.NoError(t, err)
	}

	// node "3" (1-based) shifts down to "2" after removal of "2"; the node
	// that used to be "3" is now at id "2", so a stale index would still
	// point the tag at the old id "3" rather than the node it now names.
	_, err := r.RemoveNode("2")
	require.NoError(t, err)

	ids, ok := r.DataTagIndex["keep"]
	require.True(t, ok)
	require.Len(t, ids, 4)
	for _, n := range r.Document.Nodes {
		_, tagged := ids[n.ID]
		require.True(t, tagged, "node %s missing from DataTagIndex after renumbering", n.ID)
	}

	metaIDs, ok := r.MetadataIndex["color"]
	require.True(t, ok)
	require.Len(t, metaIDs, 4)
	for _, n := range r.Document.Nodes {
		_, tagged := metaIDs[n.ID]
		require.True(t, tagged, "node %s missing from MetadataIndex after renumbering", n.ID)
	}
}

func TestVRPackRoundTrip(t *testing.T) {
	pack := NewVRPack("shared", "test-model")

	kaiA := VRKai{Resource: NewDocumentResource("a", "test-model")}
	kaiB := VRKai{Resource: NewDocumentResource("b", "test-model")}

	require.NoError(t, pack.InsertVRKai("/docs/a", kaiA))
	require.NoError(t, pack.InsertVRKai("/docs/b", kaiB))

	got, err := pack.GetVRKai("/docs/a")
	require.NoError(t, err)
	require.Equal(t, kaiA.Resource.Name, got.Resource.Name)

	paths := pack.CollectAllPaths()
	require.Equal(t, []string{"/docs", "/docs/a", "/docs/b"}, paths)
}

func TestVRPackUnknownVersionRejected(t *testing.T) {
	require.NoError(t, ValidateVersion(VRPackV1))
	require.Error(t, ValidateVersion("V2"))
}
