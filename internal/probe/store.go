// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store persists probe results keyed by path, mtime and size, so a file is
// probed again only after it changes.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) the badger store in dir. An empty dir opens
// an in-memory store.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open probe store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func storeKey(path string, modTime time.Time, size int64) []byte {
	return []byte("res:" + path + "|" + strconv.FormatInt(modTime.UnixNano(), 10) + "|" + strconv.FormatInt(size, 10))
}

// Get returns the cached resolution for the file version.
func (s *Store) Get(path string, modTime time.Time, size int64) (Resolution, bool, error) {
	var out Resolution
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(path, modTime, size))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, err
	}
	return out, true, nil
}

// Put records res for the file version.
func (s *Store) Put(path string, modTime time.Time, size int64, res Resolution) error {
	buf, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(path, modTime, size), buf)
	})
}
