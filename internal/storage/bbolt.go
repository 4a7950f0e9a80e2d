package storage

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// BboltStore is the production Store backend: one bbolt bucket per column
// family. Bbolt's B+tree gives correct sorted prefix iteration directly and
// its single-writer transactions give the atomic multi-column commit
// WriteBatch needs. Grounded on sibling example repo `cuemby-warren`, which
// uses `go.etcd.io/bbolt` for its own embedded keyed storage.
type BboltStore struct {
	db *bbolt.DB
}

// OpenBbolt opens (creating if absent) a bbolt database at path and ensures
// every column family bucket exists.
func OpenBbolt(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt db %q: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, col := range AllColumns {
			if _, err := tx.CreateBucketIfNotExists([]byte(col)); err != nil {
				return fmt.Errorf("create bucket %q: %w", col, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BboltStore{db: db}, nil
}

func (s *BboltStore) Get(_ context.Context, col Column, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return ErrKeyNotFound
		}
		v := b.Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BboltStore) Put(_ context.Context, col Column, key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(col))
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

func (s *BboltStore) Delete(_ context.Context, col Column, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

func (s *BboltStore) PrefixIterate(_ context.Context, col Column, prefix []byte) ([]KV, error) {
	var out []KV
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	return out, err
}

func (s *BboltStore) WriteBatch(_ context.Context, ops []WriteOp) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range ops {
			b, err := tx.CreateBucketIfNotExists([]byte(op.Column))
			if err != nil {
				return err
			}
			if op.Value == nil {
				if err := b.Delete(op.Key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(op.Key, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}
