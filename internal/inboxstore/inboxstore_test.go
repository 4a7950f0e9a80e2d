package inboxstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/envelope"
	"github.com/rakunlabs/shinkai/internal/storage/memstore"
)

func msg(content string) envelope.Message {
	return envelope.NewUnencryptedMessage(content, envelope.InternalMetadata{}, envelope.ExternalMetadata{})
}

func TestDeliverAndListPreservesOrder(t *testing.T) {
	ctx := t.Context()
	s := New(memstore.New())

	require.NoError(t, s.Deliver(ctx, "job_inbox::abc::false", msg("first")))
	require.NoError(t, s.Deliver(ctx, "job_inbox::abc::false", msg("second")))
	require.NoError(t, s.Deliver(ctx, "job_inbox::abc::false", msg("third")))

	got, err := s.List(ctx, "job_inbox::abc::false")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "first", got[0].Body.Unencrypted.Content)
	require.Equal(t, "second", got[1].Body.Unencrypted.Content)
	require.Equal(t, "third", got[2].Body.Unencrypted.Content)
}

func TestDeliverKeepsInboxesIsolated(t *testing.T) {
	ctx := t.Context()
	s := New(memstore.New())

	require.NoError(t, s.Deliver(ctx, "job_inbox::a::false", msg("a-msg")))
	require.NoError(t, s.Deliver(ctx, "job_inbox::ab::false", msg("ab-msg")))

	gotA, err := s.List(ctx, "job_inbox::a::false")
	require.NoError(t, err)
	require.Len(t, gotA, 1)
	require.Equal(t, "a-msg", gotA[0].Body.Unencrypted.Content)

	gotAB, err := s.List(ctx, "job_inbox::ab::false")
	require.NoError(t, err)
	require.Len(t, gotAB, 1)
	require.Equal(t, "ab-msg", gotAB[0].Body.Unencrypted.Content)
}

func TestListEmptyInboxReturnsEmpty(t *testing.T) {
	ctx := t.Context()
	s := New(memstore.New())

	got, err := s.List(ctx, "job_inbox::missing::false")
	require.NoError(t, err)
	require.Empty(t, got)
}
