// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ModelStates persists registry lifecycle states across restarts.
type ModelStates struct {
	db *DB
}

// Save writes the state for s.ID.
func (m *ModelStates) Save(ctx context.Context, s ModelState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == "" {
		return fmt.Errorf("%w: empty model id", ErrInvalidRecord)
	}
	data, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("store: marshal model state: %w", err)
	}
	return m.db.update(func(txn *badger.Txn) error {
		return txn.Set(modelStateKey(s.ID), data)
	})
}

// Load returns all saved states keyed by model id.
func (m *ModelStates) Load(ctx context.Context) (map[string]ModelState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]ModelState)
	err := m.db.view(func(txn *badger.Txn) error {
		prefix := []byte(prefixModelState)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s ModelState
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return fmt.Errorf("decode model state %s: %w", it.Item().Key(), err)
			}
			if s.ID == "" {
				s.ID = strings.TrimPrefix(string(it.Item().Key()), prefixModelState)
			}
			out[s.ID] = s
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: load model states: %w", err)
	}
	return out, nil
}

// Delete forgets the state of id.
func (m *ModelStates) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.update(func(txn *badger.Txn) error {
		return txn.Delete(modelStateKey(id))
	})
}
