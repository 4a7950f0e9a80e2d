package vectorresource

import (
	"encoding/hex"
	"math"
	"sort"

	"github.com/zeebo/blake3"
)

// recomputeMerkleRoot derives a deterministic hash over every node's
// content+metadata (spec §4.3), invalidated and recomputed on every
// mutation via touch(). Used by subscription sync to verify upload
// integrity (§4.8: the last 8 hex chars of this root become the remote
// checksum suffix).
func (r *VectorResource) recomputeMerkleRoot() {
	h := blake3.New()

	switch r.BaseType {
	case BaseDocument:
		for i, n := range r.Document.Nodes {
			hashNode(h, n, r.Document.Embeddings[i])
		}
	case BaseMap:
		keys := make([]string, len(r.Map.Order))
		copy(keys, r.Map.Order)
		sort.Strings(keys)
		for _, k := range keys {
			hashNode(h, r.Map.Nodes[k], r.Map.Embeddings[k])
		}
	}

	sum := h.Sum(nil)
	r.MerkleRoot = hex.EncodeToString(sum)
}

// ChecksumSuffix returns the last 8 hex characters of the merkle root, the
// value subscription sync (C8) carries in remote checksum filenames.
func (r *VectorResource) ChecksumSuffix() string {
	if len(r.MerkleRoot) < 8 {
		return r.MerkleRoot
	}
	return r.MerkleRoot[len(r.MerkleRoot)-8:]
}

func hashNode(h *blake3.Hasher, n *Node, e *Embedding) {
	h.Write([]byte(n.ID))
	if n.Content.IsResource() {
		h.Write([]byte(n.Content.Resource.MerkleRoot))
	} else {
		h.Write([]byte(n.Content.Text))
	}

	keys := make([]string, 0, len(n.Metadata))
	for k := range n.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(n.Metadata[k]))
	}

	if e != nil {
		for _, f := range e.Vector {
			var buf [4]byte
			bits := math.Float32bits(f)
			buf[0] = byte(bits)
			buf[1] = byte(bits >> 8)
			buf[2] = byte(bits >> 16)
			buf[3] = byte(bits >> 24)
			h.Write(buf[:])
		}
	}
}
