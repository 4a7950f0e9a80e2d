package subscriptionsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/shinkai/internal/storage"
)

// subscriptionKeyPrefix namespaces Subscription records away from
// StateStore's "syncstate_" per-path keys within the same column family.
const subscriptionKeyPrefix = "subscription_"

func subscriptionKey(id string) []byte {
	return []byte(subscriptionKeyPrefix + id)
}

// Registry persists Subscription records — the set of shared folders this
// node is subscribed to and their remote mirror destinations (spec §3.6).
// Syncer consumes Registry.List as its subscriptions callback.
type Registry struct {
	store storage.Store
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store}
}

// Put creates or replaces sub.
func (r *Registry) Put(ctx context.Context, sub Subscription) error {
	encoded, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subscriptionsync: marshal subscription %q: %w", sub.SubscriptionID, err)
	}
	return r.store.Put(ctx, storage.ColumnSubscriptions, subscriptionKey(sub.SubscriptionID), encoded)
}

// Get returns the subscription record for id.
func (r *Registry) Get(ctx context.Context, id string) (Subscription, error) {
	raw, err := r.store.Get(ctx, storage.ColumnSubscriptions, subscriptionKey(id))
	if err != nil {
		return Subscription{}, fmt.Errorf("subscriptionsync: load subscription %q: %w", id, err)
	}
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return Subscription{}, fmt.Errorf("subscriptionsync: decode subscription %q: %w", id, err)
	}
	return sub, nil
}

// List returns every registered subscription, suitable for direct use as a
// Syncer subscriptions callback.
func (r *Registry) List(ctx context.Context) ([]Subscription, error) {
	kvs, err := r.store.PrefixIterate(ctx, storage.ColumnSubscriptions, []byte(subscriptionKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("subscriptionsync: list subscriptions: %w", err)
	}
	out := make([]Subscription, 0, len(kvs))
	for _, kv := range kvs {
		var sub Subscription
		if err := json.Unmarshal(kv.Value, &sub); err != nil {
			return nil, fmt.Errorf("subscriptionsync: decode subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// Delete removes the subscription record for id (the path-state under it
// is removed separately by Syncer.Unshare via StateStore.Delete).
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, storage.ColumnSubscriptions, subscriptionKey(id))
}
