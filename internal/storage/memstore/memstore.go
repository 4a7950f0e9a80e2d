// Package memstore is an in-memory implementation of storage.Store. Data
// does not survive process restarts; used by tests and local dev. Mirrors
// the sync.RWMutex-guarded map pattern of AT's internal/store/memory.Memory.
package memstore

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/rakunlabs/shinkai/internal/storage"
)

// Memstore is an in-memory implementation of storage.Store.
type Memstore struct {
	mu      sync.RWMutex
	columns map[storage.Column]map[string][]byte
}

// New constructs an empty Memstore with every known column pre-created.
func New() *Memstore {
	slog.Info("storage: using in-memory store (data will not persist across restarts)")

	cols := make(map[storage.Column]map[string][]byte, len(storage.AllColumns))
	for _, c := range storage.AllColumns {
		cols[c] = map[string][]byte{}
	}
	return &Memstore{columns: cols}
}

func (m *Memstore) bucket(col storage.Column) map[string][]byte {
	b, ok := m.columns[col]
	if !ok {
		b = map[string][]byte{}
		m.columns[col] = b
	}
	return b
}

func (m *Memstore) Get(_ context.Context, col storage.Column, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.bucket(col)[string(key)]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memstore) Put(_ context.Context, col storage.Column, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bucket(col)[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *Memstore) Delete(_ context.Context, col storage.Column, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.bucket(col), string(key))
	return nil
}

func (m *Memstore) PrefixIterate(_ context.Context, col storage.Column, prefix []byte) ([]storage.KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b := m.bucket(col)
	out := make([]storage.KV, 0, len(b))
	for k, v := range b {
		if bytes.HasPrefix([]byte(k), prefix) {
			out = append(out, storage.KV{Key: []byte(k), Value: append([]byte(nil), v...)})
		}
	}

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

func (m *Memstore) WriteBatch(_ context.Context, ops []storage.WriteOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		b := m.bucket(op.Column)
		if op.Value == nil {
			delete(b, string(op.Key))
			continue
		}
		b[string(op.Key)] = append([]byte(nil), op.Value...)
	}
	return nil
}

func (m *Memstore) Close() error { return nil }
