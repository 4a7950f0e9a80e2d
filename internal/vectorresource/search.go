package vectorresource

import (
	"container/heap"
	"math"
	"sort"
	"strconv"
)

// RetrievedNode is a single vector search hit, carrying its resource path
// context for nested results.
type RetrievedNode struct {
	Node     *Node
	Score    float32
	Resource *VectorResource
}

// TraversalLimitingMode controls how UntilDepth interacts with recursion
// into nested resources.
type TraversalLimitingMode int

const (
	// LimitDescendants stops recursing once UntilDepth is exhausted but
	// still scores nodes at the final level (default).
	LimitDescendants TraversalLimitingMode = iota
	// LimitFinalResultsOnly scores every level but truncates only the
	// final combined result list to k.
	LimitFinalResultsOnly
)

// TraversalOptions prune vector search (spec §4.3).
type TraversalOptions struct {
	// UntilDepth caps recursion depth into nested Resource nodes; -1 means
	// unlimited.
	UntilDepth int
	// LimitTraversalToType, if non-empty, restricts traversal to nodes of
	// this VRBaseType when recursing.
	LimitTraversalToType VRBaseType
	// Mode is carried with the options but VectorSearch does not read it:
	// every search keeps the top k at each level and truncates the
	// combined pool to k, whichever mode is set.
	Mode TraversalLimitingMode
}

func DefaultTraversalOptions() TraversalOptions {
	return TraversalOptions{UntilDepth: -1}
}

// scoredHeap is a bounded min-heap of RetrievedNode ordered by ascending
// score, so the lowest-scoring element can be evicted in O(log k) once the
// heap is full (spec §4.3 step 2).
type scoredHeap []RetrievedNode

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)         { *h = append(*h, x.(RetrievedNode)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// CosineSimilarity computes the cosine similarity between two equal-length
// vectors. Shared by vector search and the job engine's inference-chain
// router, so there is exactly one implementation in the module.
func CosineSimilarity(a, b []float32) float32 {
	var dot, magA, magB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}

// VectorSearch performs the top-k cosine-similarity search described in
// spec §4.3: syntactic tag pre-filter, bounded min-heap at each level,
// recursion into nested resources, re-sort and truncate of the combined
// pool.
func (r *VectorResource) VectorSearch(query []float32, k int, tagNames []string, opts TraversalOptions) []RetrievedNode {
	return r.vectorSearchAtDepth(query, k, tagNames, opts, 0)
}

func (r *VectorResource) vectorSearchAtDepth(query []float32, k int, tagNames []string, opts TraversalOptions, depth int) []RetrievedNode {
	if opts.LimitTraversalToType != "" && r.BaseType != opts.LimitTraversalToType && depth > 0 {
		return nil
	}

	ids := r.candidateIDs(tagNames)

	h := &scoredHeap{}
	heap.Init(h)
	for _, id := range ids {
		n, e := r.nodeAndEmbedding(id)
		if n == nil || e == nil {
			continue
		}
		score := CosineSimilarity(query, e.Vector)
		item := RetrievedNode{Node: n, Score: score, Resource: r}
		if h.Len() < k {
			heap.Push(h, item)
		} else if h.Len() > 0 && score > (*h)[0].Score {
			heap.Pop(h)
			heap.Push(h, item)
		}
	}

	top := make([]RetrievedNode, h.Len())
	copy(top, *h)

	canRecurse := opts.UntilDepth < 0 || depth < opts.UntilDepth

	var pool []RetrievedNode
	for _, item := range top {
		if item.Node.Content.IsResource() && canRecurse {
			nested := item.Node.Content.Resource.vectorSearchAtDepth(query, k, tagNames, opts, depth+1)
			pool = append(pool, nested...)
			continue
		}
		pool = append(pool, item)
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
	if len(pool) > k {
		pool = pool[:k]
	}
	return pool
}

// candidateIDs returns the node ids to score: tag-filtered if tagNames is
// non-empty, otherwise every node at this level (spec §4.3 "Syntactic
// pre-filter").
func (r *VectorResource) candidateIDs(tagNames []string) []string {
	if len(tagNames) == 0 {
		return r.allIDs()
	}

	set := map[string]struct{}{}
	for _, tag := range tagNames {
		for id := range r.DataTagIndex[tag] {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (r *VectorResource) allIDs() []string {
	switch r.BaseType {
	case BaseDocument:
		ids := make([]string, len(r.Document.Nodes))
		for i, n := range r.Document.Nodes {
			ids[i] = n.ID
		}
		return ids
	case BaseMap:
		ids := make([]string, len(r.Map.Order))
		copy(ids, r.Map.Order)
		return ids
	default:
		return nil
	}
}

func (r *VectorResource) nodeAndEmbedding(id string) (*Node, *Embedding) {
	switch r.BaseType {
	case BaseDocument:
		for i, n := range r.Document.Nodes {
			if n.ID == id {
				return n, r.Document.Embeddings[i]
			}
		}
		return nil, nil
	case BaseMap:
		return r.Map.Nodes[id], r.Map.Embeddings[id]
	default:
		return nil, nil
	}
}

// ProximitySearch performs the Document-only window search from spec §4.3:
// an exhaustive depth-0 vector search finds the best matching integer id m,
// then nodes with ids in [max(1, m-w), min(node_count, m+w)] are returned.
func (r *VectorResource) ProximitySearch(query []float32, window int) ([]*Node, error) {
	if r.BaseType != BaseDocument {
		return nil, ErrNotDocument
	}

	best := r.VectorSearch(query, 1, nil, TraversalOptions{UntilDepth: 0})
	if len(best) == 0 {
		return nil, nil
	}

	m, err := strconv.Atoi(best[0].Node.ID)
	if err != nil {
		return nil, err
	}

	count := len(r.Document.Nodes)
	lo := m - window
	if lo < 1 {
		lo = 1
	}
	hi := m + window
	if hi > count {
		hi = count
	}

	out := make([]*Node, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, r.Document.Nodes[i-1])
	}
	return out, nil
}
