package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/storage"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, storage.ColumnInbox, []byte("missing"))
	require.ErrorIs(t, err, storage.ErrKeyNotFound)

	require.NoError(t, s.Put(ctx, storage.ColumnInbox, []byte("k1"), []byte("v1")))
	v, err := s.Get(ctx, storage.ColumnInbox, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(ctx, storage.ColumnInbox, []byte("k1")))
	_, err = s.Get(ctx, storage.ColumnInbox, []byte("k1"))
	require.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestPrefixIterateSorted(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, storage.ColumnInbox, []byte("job_b"), []byte("2")))
	require.NoError(t, s.Put(ctx, storage.ColumnInbox, []byte("job_a"), []byte("1")))
	require.NoError(t, s.Put(ctx, storage.ColumnInbox, []byte("other"), []byte("3")))

	kvs, err := s.PrefixIterate(ctx, storage.ColumnInbox, []byte("job_"))
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	require.Equal(t, "job_a", string(kvs[0].Key))
	require.Equal(t, "job_b", string(kvs[1].Key))
}

func TestWriteBatchAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.WriteBatch(ctx, []storage.WriteOp{
		{Column: storage.ColumnInbox, Key: []byte("a"), Value: []byte("1")},
		{Column: storage.ColumnPeers, Key: []byte("b"), Value: []byte("2")},
	}))

	va, err := s.Get(ctx, storage.ColumnInbox, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), va)

	vb, err := s.Get(ctx, storage.ColumnPeers, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), vb)
}
