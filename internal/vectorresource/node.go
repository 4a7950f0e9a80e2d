// Package vectorresource implements the content-addressed tree of
// vector-embedded text nodes (C3): Node/Embedding/VectorResource, vector
// search, proximity search, merkle roots, and VRKai/VRPack packaging.
package vectorresource

import "time"

// Content is either raw text or a nested VectorResource (spec §3.3).
type Content struct {
	Text     string
	Resource *VectorResource
}

func TextContent(s string) Content            { return Content{Text: s} }
func ResourceContent(r *VectorResource) Content { return Content{Resource: r} }

func (c Content) IsResource() bool { return c.Resource != nil }

// Node is a single entry in a VectorResource tree.
type Node struct {
	ID            string
	Content       Content
	Metadata      map[string]string
	DataTagNames  []string
}

// Embedding is a fixed-dimension vector tied to a Node by ID.
type Embedding struct {
	ID     string
	Vector []float32
}

// VRSource names where a resource's original content came from.
type VRSource struct {
	Kind string // e.g. "file", "text", "none"
	Ref  string
}

// VRBaseType distinguishes the two VectorResource variants (spec §3.3 /
// design note §9: tagged enum with a forwarding helper, not virtual
// dispatch).
type VRBaseType string

const (
	BaseDocument VRBaseType = "Document"
	BaseMap      VRBaseType = "Map"
)

// VectorResource is the polymorphic tree node type. Exactly one of
// DocumentData/MapData is populated, selected by BaseType.
type VectorResource struct {
	BaseType VRBaseType

	Name                string
	Description         string
	Source              VRSource
	ResourceID           string
	ResourceEmbedding    Embedding
	EmbeddingModelUsed   string
	CreatedAt            time.Time
	LastModified         time.Time
	MerkleRoot           string

	// DataTagIndex maps a tag name to the set of node ids carrying it.
	DataTagIndex map[string]map[string]struct{}
	// MetadataIndex maps a metadata key to the set of node ids carrying it.
	MetadataIndex map[string]map[string]struct{}

	Document *DocumentData
	Map      *MapData
}

// DocumentData backs BaseDocument: a 1-based, densely-numbered ordered list.
type DocumentData struct {
	Nodes      []*Node
	Embeddings []*Embedding // parallel array, same order/index as Nodes
}

// MapData backs BaseMap: a string-keyed folder/file tree.
type MapData struct {
	Nodes      map[string]*Node
	Embeddings map[string]*Embedding
	// Order preserves insertion order for deterministic iteration/paths.
	Order []string
}

func newIndexes() (map[string]map[string]struct{}, map[string]map[string]struct{}) {
	return map[string]map[string]struct{}{}, map[string]map[string]struct{}{}
}

// NewDocumentResource creates an empty Document-typed resource.
func NewDocumentResource(name, embeddingModel string) *VectorResource {
	dti, mi := newIndexes()
	r := &VectorResource{
		BaseType:           BaseDocument,
		Name:               name,
		EmbeddingModelUsed: embeddingModel,
		CreatedAt:          time.Now().UTC(),
		LastModified:       time.Now().UTC(),
		DataTagIndex:       dti,
		MetadataIndex:      mi,
		Document:           &DocumentData{},
	}
	r.recomputeMerkleRoot()
	return r
}

// NewMapResource creates an empty Map-typed resource.
func NewMapResource(name, embeddingModel string) *VectorResource {
	dti, mi := newIndexes()
	r := &VectorResource{
		BaseType:           BaseMap,
		Name:               name,
		EmbeddingModelUsed: embeddingModel,
		CreatedAt:          time.Now().UTC(),
		LastModified:       time.Now().UTC(),
		DataTagIndex:       dti,
		MetadataIndex:      mi,
		Map:                &MapData{Nodes: map[string]*Node{}, Embeddings: map[string]*Embedding{}},
	}
	r.recomputeMerkleRoot()
	return r
}

// NodeCount returns the number of nodes at this resource's top level.
func (r *VectorResource) NodeCount() int {
	switch r.BaseType {
	case BaseDocument:
		return len(r.Document.Nodes)
	case BaseMap:
		return len(r.Map.Order)
	default:
		return 0
	}
}

func (r *VectorResource) touch() {
	r.LastModified = time.Now().UTC()
	r.recomputeMerkleRoot()
}

func (r *VectorResource) addToIndexes(n *Node) {
	for _, tag := range n.DataTagNames {
		if r.DataTagIndex[tag] == nil {
			r.DataTagIndex[tag] = map[string]struct{}{}
		}
		r.DataTagIndex[tag][n.ID] = struct{}{}
	}
	for k := range n.Metadata {
		if r.MetadataIndex[k] == nil {
			r.MetadataIndex[k] = map[string]struct{}{}
		}
		r.MetadataIndex[k][n.ID] = struct{}{}
	}
}

func (r *VectorResource) removeFromIndexes(n *Node) {
	for _, tag := range n.DataTagNames {
		delete(r.DataTagIndex[tag], n.ID)
		if len(r.DataTagIndex[tag]) == 0 {
			delete(r.DataTagIndex, tag)
		}
	}
	for k := range n.Metadata {
		delete(r.MetadataIndex[k], n.ID)
		if len(r.MetadataIndex[k]) == 0 {
			delete(r.MetadataIndex, k)
		}
	}
}
