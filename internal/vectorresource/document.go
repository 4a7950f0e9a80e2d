package vectorresource

import (
	"fmt"
	"strconv"
)

var ErrNotDocument = fmt.Errorf("vectorresource: resource is not Document-typed")
var ErrNotMap = fmt.Errorf("vectorresource: resource is not Map-typed")
var ErrNodeNotFound = fmt.Errorf("vectorresource: node not found")

// AppendNode appends a node+embedding to a Document resource, assigning it
// the next 1-based integer id.
func (r *VectorResource) AppendNode(content Content, metadata map[string]string, tags []string, embedding Embedding) (*Node, error) {
	if r.BaseType != BaseDocument {
		return nil, ErrNotDocument
	}

	id := strconv.Itoa(len(r.Document.Nodes) + 1)
	n := &Node{ID: id, Content: content, Metadata: metadata, DataTagNames: tags}
	embedding.ID = id

	r.Document.Nodes = append(r.Document.Nodes, n)
	r.Document.Embeddings = append(r.Document.Embeddings, &embedding)
	r.addToIndexes(n)
	r.touch()
	return n, nil
}

// PopNode removes and returns the last node in a Document resource.
func (r *VectorResource) PopNode() (*Node, error) {
	if r.BaseType != BaseDocument {
		return nil, ErrNotDocument
	}
	n := len(r.Document.Nodes)
	if n == 0 {
		return nil, ErrNodeNotFound
	}
	node := r.Document.Nodes[n-1]
	r.Document.Nodes = r.Document.Nodes[:n-1]
	r.Document.Embeddings = r.Document.Embeddings[:n-1]
	r.removeFromIndexes(node)
	r.touch()
	return node, nil
}

// ReplaceNode replaces the node+embedding at 1-based id, keeping the id
// unchanged.
func (r *VectorResource) ReplaceNode(id string, content Content, metadata map[string]string, tags []string, embedding Embedding) (*Node, error) {
	if r.BaseType != BaseDocument {
		return nil, ErrNotDocument
	}
	idx, err := docIndex(id, len(r.Document.Nodes))
	if err != nil {
		return nil, err
	}

	old := r.Document.Nodes[idx]
	r.removeFromIndexes(old)

	n := &Node{ID: id, Content: content, Metadata: metadata, DataTagNames: tags}
	embedding.ID = id
	r.Document.Nodes[idx] = n
	r.Document.Embeddings[idx] = &embedding
	r.addToIndexes(n)
	r.touch()
	return n, nil
}

// RemoveNode removes the node at 1-based id, renumbering all subsequent
// nodes/embeddings so ids remain a dense 1..=count range (invariant I6).
func (r *VectorResource) RemoveNode(id string) (*Node, error) {
	if r.BaseType != BaseDocument {
		return nil, ErrNotDocument
	}
	idx, err := docIndex(id, len(r.Document.Nodes))
	if err != nil {
		return nil, err
	}

	removed := r.Document.Nodes[idx]
	r.removeFromIndexes(removed)

	r.Document.Nodes = append(r.Document.Nodes[:idx], r.Document.Nodes[idx+1:]...)
	r.Document.Embeddings = append(r.Document.Embeddings[:idx], r.Document.Embeddings[idx+1:]...)

	r.renumberDocument()
	r.touch()
	return removed, nil
}

// renumberDocument reassigns dense 1-based ids to every node/embedding in
// order, preserving the invariant that ids are always 1..=node_count, and
// rebuilds DataTagIndex/MetadataIndex against the new ids — both indexes
// are keyed by node id, so a shift anywhere but the last position leaves
// them pointing at stale ids otherwise.
func (r *VectorResource) renumberDocument() {
	for i, n := range r.Document.Nodes {
		newID := strconv.Itoa(i + 1)
		n.ID = newID
		r.Document.Embeddings[i].ID = newID
	}

	dti, mi := newIndexes()
	r.DataTagIndex = dti
	r.MetadataIndex = mi
	for _, n := range r.Document.Nodes {
		r.addToIndexes(n)
	}
}

func docIndex(id string, count int) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > count {
		return 0, fmt.Errorf("%w: id %q (count=%d)", ErrNodeNotFound, id, count)
	}
	return n - 1, nil
}

// GetNode returns the node at 1-based id.
func (r *VectorResource) GetNode(id string) (*Node, error) {
	if r.BaseType != BaseDocument {
		return nil, ErrNotDocument
	}
	idx, err := docIndex(id, len(r.Document.Nodes))
	if err != nil {
		return nil, err
	}
	return r.Document.Nodes[idx], nil
}
