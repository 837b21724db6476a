// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/verdant/internal/metrics"
)

// Suggestions is the suggestion collection.
type Suggestions struct {
	db *DB
	mu sync.Mutex
}

// Insert stores s, assigning ID and CreatedAt when empty.
func (c *Suggestions) Insert(ctx context.Context, s *Suggestion) error {
	_, err := c.write(ctx, s, false)
	return err
}

// Replace stores s and removes every other suggestion with the same Type
// and Value in the same transaction. It returns how many rows it replaced.
func (c *Suggestions) Replace(ctx context.Context, s *Suggestion) (int, error) {
	return c.write(ctx, s, true)
}

func (c *Suggestions) write(ctx context.Context, s *Suggestion, replace bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.Type == "" || s.Value == "" {
		return 0, fmt.Errorf("%w: suggestion needs type and value", ErrInvalidRecord)
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = s.CreatedAt.UTC()

	data, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("store: marshal suggestion: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := 0
	err = c.db.update(func(txn *badger.Txn) error {
		replaced = 0
		if replace {
			matches, err := scanSuggestions(txn, func(old *Suggestion) bool {
				return old.ID != s.ID && old.Type == s.Type && old.Value == s.Value
			})
			if err != nil {
				return err
			}
			for i := range matches {
				if err := deleteSuggestion(txn, &matches[i]); err != nil {
					return err
				}
			}
			replaced = len(matches)
		}
		if err := txn.Set(suggestionKey(s.ID), data); err != nil {
			return err
		}
		return txn.Set(suggestionTimeKey(s.CreatedAt, s.ID), nil)
	})
	if err != nil {
		return 0, fmt.Errorf("store: write suggestion: %w", err)
	}
	return replaced, nil
}

// List returns suggestions created at or after notBefore, oldest first.
func (c *Suggestions) List(ctx context.Context, notBefore time.Time) ([]Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Suggestion
	err := c.db.view(func(txn *badger.Txn) error {
		prefix := []byte(prefixSuggestionTime)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(copyKey(prefix), encodeTime(notBefore)...)); it.ValidForPrefix(prefix); it.Next() {
			_, id, ok := splitTimeIndex(it.Item().Key(), prefixSuggestionTime)
			if !ok {
				continue
			}
			s, err := getSuggestion(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list suggestions: %w", err)
	}
	return out, nil
}

// DeleteCreatedBefore removes suggestions created before cutoff.
func (c *Suggestions) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	err := c.db.update(func(txn *badger.Txn) error {
		deleted = 0
		keys := expiredSuggestionKeys(txn, cutoff)
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
			if bytes.HasPrefix(k, []byte(prefixSuggestion)) {
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: prune suggestions: %w", err)
	}
	metrics.RecordPurge("suggestions", "stale", deleted)
	return deleted, nil
}

// DeleteMatching removes every suggestion with the given type and value.
func (c *Suggestions) DeleteMatching(ctx context.Context, typ SuggestionType, value string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	err := c.db.update(func(txn *badger.Txn) error {
		matches, err := scanSuggestions(txn, func(s *Suggestion) bool {
			return s.Type == typ && s.Value == value
		})
		if err != nil {
			return err
		}
		for i := range matches {
			if err := deleteSuggestion(txn, &matches[i]); err != nil {
				return err
			}
		}
		deleted = len(matches)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: delete suggestions: %w", err)
	}
	return deleted, nil
}

// expiredSuggestionKeys lists the record and index keys of suggestions
// created before cutoff. The iterator is closed before it returns.
func expiredSuggestionKeys(txn *badger.Txn, cutoff time.Time) [][]byte {
	prefix := []byte(prefixSuggestionTime)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		created, id, ok := splitTimeIndex(key, prefixSuggestionTime)
		if ok && !created.Before(cutoff) {
			break
		}
		keys = append(keys, copyKey(key))
		if ok {
			keys = append(keys, suggestionKey(id))
		}
	}
	return keys
}

func scanSuggestions(txn *badger.Txn, match func(*Suggestion) bool) ([]Suggestion, error) {
	prefix := []byte(prefixSuggestion)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []Suggestion
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var s Suggestion
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		}); err != nil {
			return nil, fmt.Errorf("decode suggestion %s: %w", it.Item().Key(), err)
		}
		if match(&s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func deleteSuggestion(txn *badger.Txn, s *Suggestion) error {
	if err := txn.Delete(suggestionKey(s.ID)); err != nil {
		return err
	}
	return txn.Delete(suggestionTimeKey(s.CreatedAt, s.ID))
}

func getSuggestion(txn *badger.Txn, id string) (*Suggestion, error) {
	item, err := txn.Get(suggestionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Suggestion
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	}); err != nil {
		return nil, fmt.Errorf("decode suggestion %s: %w", id, err)
	}
	return &s, nil
}
