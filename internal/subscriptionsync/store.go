package subscriptionsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/shinkai/internal/storage"
)

// StateStore persists per-(subscription, path) sync state in the
// Subscriptions column family.
type StateStore struct {
	store storage.Store
}

func NewStateStore(store storage.Store) *StateStore {
	return &StateStore{store: store}
}

func stateKey(subscriptionID, path string) []byte {
	return []byte("syncstate_" + subscriptionID + "_" + path)
}

func statePrefix(subscriptionID string) []byte {
	return []byte("syncstate_" + subscriptionID + "_")
}

// Get returns the current PathState, or StatusWaiting with an empty hash if
// no state has ever been recorded for path.
func (s *StateStore) Get(ctx context.Context, subscriptionID, path string) (PathState, error) {
	val, err := s.store.Get(ctx, storage.ColumnSubscriptions, stateKey(subscriptionID, path))
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return PathState{Status: StatusWaiting}, nil
		}
		return PathState{}, fmt.Errorf("subscriptionsync: load state for %s/%s: %w", subscriptionID, path, err)
	}
	var ps PathState
	if err := json.Unmarshal(val, &ps); err != nil {
		return PathState{}, fmt.Errorf("subscriptionsync: decode state for %s/%s: %w", subscriptionID, path, err)
	}
	return ps, nil
}

// Set persists ps for (subscriptionID, path).
func (s *StateStore) Set(ctx context.Context, subscriptionID, path string, ps PathState) error {
	encoded, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("subscriptionsync: marshal state for %s/%s: %w", subscriptionID, path, err)
	}
	return s.store.Put(ctx, storage.ColumnSubscriptions, stateKey(subscriptionID, path), encoded)
}

// Delete removes all recorded state under subscriptionID (spec §4.8
// "Unshare").
func (s *StateStore) Delete(ctx context.Context, subscriptionID string) error {
	kvs, err := s.store.PrefixIterate(ctx, storage.ColumnSubscriptions, statePrefix(subscriptionID))
	if err != nil {
		return fmt.Errorf("subscriptionsync: list state for %s: %w", subscriptionID, err)
	}
	for _, kv := range kvs {
		if err := s.store.Delete(ctx, storage.ColumnSubscriptions, kv.Key); err != nil {
			return fmt.Errorf("subscriptionsync: delete state key for %s: %w", subscriptionID, err)
		}
	}
	return nil
}

// RecoverFromCrash demotes every Uploading path back to Waiting so a
// process restart re-plans interrupted uploads rather than leaving them
// stuck (spec §9 open question decision, see DESIGN.md).
func (s *StateStore) RecoverFromCrash(ctx context.Context) error {
	kvs, err := s.store.PrefixIterate(ctx, storage.ColumnSubscriptions, []byte("syncstate_"))
	if err != nil {
		return fmt.Errorf("subscriptionsync: list all state for crash recovery: %w", err)
	}

	recovered := 0
	for _, kv := range kvs {
		var ps PathState
		if err := json.Unmarshal(kv.Value, &ps); err != nil {
			continue
		}
		if ps.Status != StatusUploading {
			continue
		}
		ps.Status = StatusWaiting
		encoded, err := json.Marshal(ps)
		if err != nil {
			return fmt.Errorf("subscriptionsync: re-marshal recovered state: %w", err)
		}
		if err := s.store.Put(ctx, storage.ColumnSubscriptions, kv.Key, encoded); err != nil {
			return fmt.Errorf("subscriptionsync: persist recovered state: %w", err)
		}
		recovered++
	}
	if recovered > 0 {
		slog.Info("subscriptionsync: demoted interrupted uploads to waiting", "count", recovered)
	}
	return nil
}
