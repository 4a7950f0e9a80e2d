// Package vectorfs persists a node's Vector FS — the root Map
// VectorResource whose leaves are per-file Document VectorResources —
// in the column-family store, and exposes the path operations subscription
// sync (C8) needs to mirror a shared subtree to a remote HTTP object store.
package vectorfs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/shinkai/internal/storage"
	"github.com/rakunlabs/shinkai/internal/vectorresource"
	"github.com/rakunlabs/shinkai/pkg/vectorindex"
)

// rootKey is the single key under storage.ColumnResources a node's whole
// Vector FS root is persisted at. A production deployment could shard this
// per top-level folder; a single root mirrors how the rest of the module's
// stores keep one natural key per logical object.
const rootKey = "vector_fs_root"

// Store loads and persists a single node's Vector FS root.
type Store struct {
	store storage.Store
	index vectorindex.ExternalIndex // optional, nil by default (spec §9 external-index note)
}

func New(store storage.Store) *Store {
	return &Store{store: store}
}

// NewWithIndex is New plus an ExternalIndex every inserted file's chunk
// embeddings are mirrored into, for faster candidate pre-filtering over
// large corpora. The in-process VectorResource tree remains the source of
// truth: a nil or failing index never changes InsertFile's own result.
func NewWithIndex(store storage.Store, index vectorindex.ExternalIndex) *Store {
	return &Store{store: store, index: index}
}

// Root returns the node's Vector FS root resource, creating an empty one on
// first use.
func (s *Store) Root(ctx context.Context) (*vectorresource.VectorResource, error) {
	raw, err := s.store.Get(ctx, storage.ColumnResources, []byte(rootKey))
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return vectorresource.NewMapResource("root", "default"), nil
		}
		return nil, fmt.Errorf("vectorfs: load root: %w", err)
	}
	var root vectorresource.VectorResource
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("vectorfs: decode root: %w", err)
	}
	return &root, nil
}

// SaveRoot persists the node's Vector FS root.
func (s *Store) SaveRoot(ctx context.Context, root *vectorresource.VectorResource) error {
	encoded, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("vectorfs: encode root: %w", err)
	}
	return s.store.Put(ctx, storage.ColumnResources, []byte(rootKey), encoded)
}

// InsertFile inserts a Document resource as a file leaf at path, creating
// intermediate folder nodes as needed.
func (s *Store) InsertFile(ctx context.Context, path string, file *vectorresource.VectorResource) error {
	root, err := s.Root(ctx)
	if err != nil {
		return err
	}
	if err := root.InsertAtPath(path, vectorresource.ResourceContent(file), nil, nil, vectorresource.Embedding{}); err != nil {
		return fmt.Errorf("vectorfs: insert file %q: %w", path, err)
	}
	if err := s.SaveRoot(ctx, root); err != nil {
		return err
	}

	s.mirrorToIndex(ctx, path, file)
	return nil
}

// mirrorToIndex upserts every chunk embedding of a newly-inserted file into
// the optional ExternalIndex. Best-effort: a mirror failure is logged, never
// returned, since the VectorResource tree already holds the durable result.
func (s *Store) mirrorToIndex(ctx context.Context, path string, file *vectorresource.VectorResource) {
	if s.index == nil || file.BaseType != vectorresource.BaseDocument || file.Document == nil {
		return
	}
	for _, emb := range file.Document.Embeddings {
		if emb == nil {
			continue
		}
		if err := s.index.Upsert(ctx, path, emb.ID, emb.Vector); err != nil {
			slog.Warn("vectorfs: external index mirror failed", "path", path, "node_id", emb.ID, "error", err)
		}
	}
}

// folderAt resolves the Map resource at path ("" means the Vector FS root).
func folderAt(root *vectorresource.VectorResource, path string) (*vectorresource.VectorResource, error) {
	if path == "" || path == "/" {
		return root, nil
	}
	n, err := root.GetAtPath(path)
	if err != nil {
		return nil, fmt.Errorf("vectorfs: resolve folder %q: %w", path, err)
	}
	if !n.Content.IsResource() || n.Content.Resource.BaseType != vectorresource.BaseMap {
		return nil, fmt.Errorf("vectorfs: %q is not a folder", path)
	}
	return n.Content.Resource, nil
}

// ExpectedPaths returns every file leaf (not folder) under sharedFolder,
// relative to sharedFolder, suffixed ".vrkai" per spec §4.8's remote naming
// convention.
func (s *Store) ExpectedPaths(ctx context.Context, sharedFolder string) ([]string, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	folder, err := folderAt(root, sharedFolder)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, key := range folder.Map.Order {
		n := folder.Map.Nodes[key]
		if n.Content.IsResource() && n.Content.Resource.BaseType == vectorresource.BaseDocument {
			out = append(out, key+".vrkai")
		}
	}
	return out, nil
}

// fileNode resolves the Document resource backing a "NAME.vrkai" path
// within sharedFolder.
func (s *Store) fileNode(ctx context.Context, sharedFolder, path string) (*vectorresource.VectorResource, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	folder, err := folderAt(root, sharedFolder)
	if err != nil {
		return nil, err
	}

	name := path
	if trimmed, ok := trimVRKaiSuffix(path); ok {
		name = trimmed
	}
	n, ok := folder.Map.Nodes[name]
	if !ok || !n.Content.IsResource() || n.Content.Resource.BaseType != vectorresource.BaseDocument {
		return nil, fmt.Errorf("vectorfs: %q is not a file under %q", path, sharedFolder)
	}
	return n.Content.Resource, nil
}

func trimVRKaiSuffix(path string) (string, bool) {
	const suffix = ".vrkai"
	if len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix {
		return path[:len(path)-len(suffix)], true
	}
	return path, false
}

// ChecksumSuffix returns the last-8-hex merkle checksum of the file at path
// (spec §4.8 step 3). Satisfies subscriptionsync.LocalResource.
func (s *Store) ChecksumSuffix(ctx context.Context, sharedFolder, path string) (string, error) {
	file, err := s.fileNode(ctx, sharedFolder, path)
	if err != nil {
		return "", err
	}
	return file.ChecksumSuffix(), nil
}

// EncodeVRKai encodes the file at path as a base64 VRKai payload ready for
// upload. Satisfies subscriptionsync.LocalResource.
func (s *Store) EncodeVRKai(ctx context.Context, sharedFolder, path string) ([]byte, error) {
	file, err := s.fileNode(ctx, sharedFolder, path)
	if err != nil {
		return nil, err
	}
	encoded, err := vectorresource.VRKai{Resource: file}.Encode()
	if err != nil {
		return nil, fmt.Errorf("vectorfs: encode vrkai for %q: %w", path, err)
	}
	return []byte(encoded), nil
}
