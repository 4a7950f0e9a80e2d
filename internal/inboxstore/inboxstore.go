// Package inboxstore persists messages per inbox (spec §3.2/§6) in the
// column-family store and satisfies jobengine.Outbox so the job execution
// engine's signed replies land in the same place conversation history is
// read from.
package inboxstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/shinkai/internal/envelope"
	"github.com/rakunlabs/shinkai/internal/storage"
)

// Store appends and lists messages per inbox, ordered by arrival.
type Store struct {
	store storage.Store
}

func New(store storage.Store) *Store {
	return &Store{store: store}
}

func seqKey(inboxName string, seq uint64) []byte {
	key := make([]byte, 0, len(inboxName)+1+8)
	key = append(key, inboxName...)
	key = append(key, '_')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func prefixKey(inboxName string) []byte {
	return append([]byte(inboxName), '_')
}

// Deliver appends msg to inboxName, using a zero-padded big-endian
// sequence number equal to the inbox's current entry count, so
// PrefixIterate returns arrival order
// (spec §4.7 "add_message_to_job_inbox", spec §6 pagination hash ordering).
func (s *Store) Deliver(ctx context.Context, inboxName string, msg envelope.Message) error {
	existing, err := s.store.PrefixIterate(ctx, storage.ColumnInbox, prefixKey(inboxName))
	if err != nil {
		return fmt.Errorf("inboxstore: list %q for sequencing: %w", inboxName, err)
	}
	seq := uint64(len(existing))

	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("inboxstore: marshal message for %q: %w", inboxName, err)
	}

	if err := s.store.Put(ctx, storage.ColumnInbox, seqKey(inboxName, seq), encoded); err != nil {
		return fmt.Errorf("inboxstore: persist message for %q: %w", inboxName, err)
	}
	return nil
}

// List returns every message delivered to inboxName, in arrival order.
func (s *Store) List(ctx context.Context, inboxName string) ([]envelope.Message, error) {
	kvs, err := s.store.PrefixIterate(ctx, storage.ColumnInbox, prefixKey(inboxName))
	if err != nil {
		return nil, fmt.Errorf("inboxstore: list %q: %w", inboxName, err)
	}

	out := make([]envelope.Message, 0, len(kvs))
	for _, kv := range kvs {
		var msg envelope.Message
		if err := json.Unmarshal(kv.Value, &msg); err != nil {
			return nil, fmt.Errorf("inboxstore: decode message in %q: %w", inboxName, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
