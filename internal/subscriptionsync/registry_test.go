package subscriptionsync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/storage/memstore"
)

func TestRegistryPutListGetDelete(t *testing.T) {
	ctx := t.Context()
	r := NewRegistry(memstore.New())

	sub := Subscription{
		SubscriptionID:     "sub-1",
		SubscriberIdentity: "@@bob.shinkai",
		SharedFolder:       "shared",
		HTTPUploadDest:     "https://mirror.example/shared",
		State:              StateSyncing,
	}
	require.NoError(t, r.Put(ctx, sub))

	got, err := r.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, sub, got)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, sub, list[0])

	require.NoError(t, r.Delete(ctx, "sub-1"))
	list, err = r.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRegistryListIsolatedFromPathState(t *testing.T) {
	ctx := t.Context()
	store := memstore.New()
	r := NewRegistry(store)
	state := NewStateStore(store)

	require.NoError(t, r.Put(ctx, Subscription{SubscriptionID: "sub-1", SharedFolder: "shared"}))
	require.NoError(t, state.Set(ctx, "sub-1", "x.vrkai", PathState{Status: StatusSync, Hash: "abc"}))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
