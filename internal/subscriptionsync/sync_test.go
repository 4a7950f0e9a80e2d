package subscriptionsync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/storage/memstore"
)

type fakeMirror struct {
	mu        sync.Mutex
	checksums map[string]string
	uploads   int
}

func (f *fakeMirror) ListChecksums(ctx context.Context, dest string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.checksums))
	for k, v := range f.checksums {
		out[k] = v
	}
	return out, nil
}

func (f *fakeMirror) Upload(ctx context.Context, dest, path string, body []byte, suffix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checksums[path] = suffix
	f.uploads++
	return nil
}

func (f *fakeMirror) DeleteSubtree(ctx context.Context, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checksums = map[string]string{}
	return nil
}

type fakeLocal struct {
	paths     []string
	checksums map[string]string
}

func (f fakeLocal) ExpectedPaths(ctx context.Context, sharedFolder string) ([]string, error) {
	return f.paths, nil
}

func (f fakeLocal) ChecksumSuffix(ctx context.Context, sharedFolder, path string) (string, error) {
	return f.checksums[path], nil
}

func (f fakeLocal) EncodeVRKai(ctx context.Context, sharedFolder, path string) ([]byte, error) {
	return []byte("vrkai-" + path), nil
}

func TestSyncUploadsOnlyMismatched(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	state := NewStateStore(store)

	mirror := &fakeMirror{checksums: map[string]string{"x.vrkai": "aaaaaaaa"}}
	local := fakeLocal{
		paths:     []string{"x.vrkai", "y.vrkai"},
		checksums: map[string]string{"x.vrkai": "aaaaaaaa", "y.vrkai": "bbbbbbbb"},
	}

	sub := Subscription{SubscriptionID: "sub-1", SharedFolder: "/shared", HTTPUploadDest: "https://mirror.example/sub-1"}
	syncer := NewSyncer(mirror, local, state, 2, func(ctx context.Context) ([]Subscription, error) {
		return []Subscription{sub}, nil
	})

	require.NoError(t, syncer.tick(ctx))
	require.Equal(t, 1, mirror.uploads)

	xState, err := state.Get(ctx, "sub-1", "x.vrkai")
	require.NoError(t, err)
	require.Equal(t, StatusSync, xState.Status)

	yState, err := state.Get(ctx, "sub-1", "y.vrkai")
	require.NoError(t, err)
	require.Equal(t, StatusSync, yState.Status)
	require.Equal(t, "bbbbbbbb", yState.Hash)

	// Second pass with no local mutation: idempotent, zero new uploads (I8).
	require.NoError(t, syncer.tick(ctx))
	require.Equal(t, 1, mirror.uploads)
}

func TestRecoverFromCrashDemotesUploading(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	state := NewStateStore(store)

	require.NoError(t, state.Set(ctx, "sub-1", "x.vrkai", PathState{Status: StatusUploading, Hash: "aaaaaaaa"}))
	require.NoError(t, state.RecoverFromCrash(ctx))

	got, err := state.Get(ctx, "sub-1", "x.vrkai")
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, got.Status)
}
