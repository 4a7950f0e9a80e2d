package vectorresource

import "strings"

// InsertAtPath inserts content+embedding at an arbitrary-depth path into a
// Map resource, creating intermediate folder (nested Map resource) nodes as
// needed. Path segments are "/"-delimited; the final segment is the leaf
// key.
func (r *VectorResource) InsertAtPath(path string, content Content, metadata map[string]string, tags []string, embedding Embedding) error {
	if r.BaseType != BaseMap {
		return ErrNotMap
	}

	segs := splitPath(path)
	if len(segs) == 0 {
		return nil
	}

	cur := r
	chain := []*VectorResource{r}
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Map.Nodes[seg]
		if !ok || !next.Content.IsResource() {
			folder := NewMapResource(seg, cur.EmbeddingModelUsed)
			node := &Node{ID: seg, Content: ResourceContent(folder)}
			cur.setMapNode(seg, node, Embedding{ID: seg})
			next = node
		}
		cur = next.Content.Resource
		chain = append(chain, cur)
	}

	leaf := segs[len(segs)-1]
	node := &Node{ID: leaf, Content: content, Metadata: metadata, DataTagNames: tags}
	embedding.ID = leaf
	cur.setMapNode(leaf, node, embedding)
	// Recompute merkle roots innermost first so each folder hashes its
	// children's updated roots.
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].touch()
	}
	return nil
}

func (r *VectorResource) setMapNode(key string, n *Node, e Embedding) {
	if _, exists := r.Map.Nodes[key]; !exists {
		r.Map.Order = append(r.Map.Order, key)
	} else {
		r.removeFromIndexes(r.Map.Nodes[key])
	}
	r.Map.Nodes[key] = n
	eCopy := e
	r.Map.Embeddings[key] = &eCopy
	r.addToIndexes(n)
}

// GetAtPath retrieves the node at an arbitrary-depth path.
func (r *VectorResource) GetAtPath(path string) (*Node, error) {
	if r.BaseType != BaseMap {
		return nil, ErrNotMap
	}
	segs := splitPath(path)
	cur := r
	for i, seg := range segs {
		n, ok := cur.Map.Nodes[seg]
		if !ok {
			return nil, ErrNodeNotFound
		}
		if i == len(segs)-1 {
			return n, nil
		}
		if !n.Content.IsResource() {
			return nil, ErrNodeNotFound
		}
		cur = n.Content.Resource
	}
	return nil, ErrNodeNotFound
}

// CollectAllPaths walks the Map tree and returns every folder and leaf path,
// in depth-first insertion order (spec scenario 4: "/docs", "/docs/a",
// "/docs/b").
func (r *VectorResource) CollectAllPaths() []string {
	if r.BaseType != BaseMap {
		return nil
	}
	var out []string
	r.collectPaths("", &out)
	return out
}

func (r *VectorResource) collectPaths(prefix string, out *[]string) {
	for _, key := range r.Map.Order {
		n := r.Map.Nodes[key]
		full := prefix + "/" + key
		*out = append(*out, full)
		if n.Content.IsResource() {
			n.Content.Resource.collectPaths(full, out)
		}
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
