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

	"github.com/tomtom215/verdant/internal/metrics"
)

// Patterns is the usage pattern collection. One row per pattern id.
type Patterns struct {
	db *DB

	// mu serializes writers so hot patterns do not exhaust conflict retries.
	mu sync.Mutex
}

// UpsertFunc mutates a pattern inside an upsert transaction. created is
// true when no row existed. The function may run more than once if the
// transaction conflicts, always on a freshly loaded copy.
type UpsertFunc func(p *UsagePattern, created bool) error

// Upsert loads (or creates) the pattern id, applies fn and writes it back
// together with its last-seen index entry in one transaction.
func (p *Patterns) Upsert(ctx context.Context, id string, fn UpsertFunc) (*UsagePattern, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if id == "" {
		return nil, false, fmt.Errorf("%w: empty pattern id", ErrInvalidRecord)
	}
	started := time.Now()
	defer metrics.RecordStoreOperation("pattern_upsert", started)

	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		result  *UsagePattern
		created bool
	)
	err := p.db.update(func(txn *badger.Txn) error {
		cur, err := getPattern(txn, id)
		var oldSeen []byte
		switch {
		case errors.Is(err, ErrNotFound):
			cur, created = &UsagePattern{ID: id}, true
		case err != nil:
			return err
		default:
			created = false
			oldSeen = patternSeenKey(cur.LastSeen, id)
		}

		if err := fn(cur, created); err != nil {
			return err
		}
		cur.ID = id

		data, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("marshal pattern: %w", err)
		}
		if err := txn.Set(patternKey(id), data); err != nil {
			return err
		}
		newSeen := patternSeenKey(cur.LastSeen, id)
		if oldSeen != nil && !bytes.Equal(oldSeen, newSeen) {
			if err := txn.Delete(oldSeen); err != nil {
				return err
			}
		}
		if err := txn.Set(newSeen, nil); err != nil {
			return err
		}
		result = cur
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: upsert pattern: %w", err)
	}
	return result, created, nil
}

// Get loads one pattern.
func (p *Patterns) Get(ctx context.Context, id string) (*UsagePattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pat *UsagePattern
	err := p.db.view(func(txn *badger.Txn) error {
		var err error
		pat, err = getPattern(txn, id)
		return err
	})
	return pat, err
}

// List returns every pattern in key order.
func (p *Patterns) List(ctx context.Context) ([]UsagePattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []UsagePattern
	err := p.db.view(func(txn *badger.Txn) error {
		prefix := []byte(prefixPattern)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var pat UsagePattern
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &pat)
			}); err != nil {
				return fmt.Errorf("decode pattern %s: %w", it.Item().Key(), err)
			}
			out = append(out, pat)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list patterns: %w", err)
	}
	return out, nil
}

// Count returns the number of stored patterns.
func (p *Patterns) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := p.db.view(func(txn *badger.Txn) error {
		prefix := []byte(prefixPatternSeen)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// DeleteLeastRecentlySeen trims the collection to keep rows, dropping the
// patterns with the oldest LastSeen first.
func (p *Patterns) DeleteLeastRecentlySeen(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	n, err := p.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: count patterns: %w", err)
	}
	excess := n - keep
	if excess <= 0 {
		return 0, nil
	}
	deleted, err := p.deleteOldest(ctx, excess, time.Time{})
	metrics.RecordPurge("patterns", "cap", deleted)
	return deleted, err
}

// PurgeSeenBefore deletes patterns whose LastSeen is before cutoff.
func (p *Patterns) PurgeSeenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := p.deleteOldest(ctx, -1, cutoff)
	metrics.RecordPurge("patterns", "retention", deleted)
	return deleted, err
}

// deleteOldest removes up to limit patterns (limit < 0: unbounded) in
// last-seen order, stopping at cutoff when it is set. Each chunk runs in
// its own transaction so a concurrent upsert either lands before the delete
// or conflicts and retries against the post-delete state.
func (p *Patterns) deleteOldest(ctx context.Context, limit int, cutoff time.Time) (int, error) {
	total := 0
	for limit < 0 || total < limit {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		chunk := purgeBatchSize
		if limit >= 0 && limit-total < chunk {
			chunk = limit - total
		}

		deleted := 0
		p.mu.Lock()
		err := p.db.update(func(txn *badger.Txn) error {
			deleted = 0
			var keys [][]byte
			collect := func() {
				prefix := []byte(prefixPatternSeen)
				opts := badger.DefaultIteratorOptions
				opts.PrefetchValues = false
				opts.Prefix = prefix
				it := txn.NewIterator(opts)
				defer it.Close()

				for it.Seek(prefix); it.ValidForPrefix(prefix) && deleted < chunk; it.Next() {
					key := it.Item().Key()
					seen, id, ok := splitTimeIndex(key, prefixPatternSeen)
					if !ok {
						keys = append(keys, copyKey(key))
						continue
					}
					if !cutoff.IsZero() && !seen.Before(cutoff) {
						break
					}
					keys = append(keys, copyKey(key), patternKey(id))
					deleted++
				}
			}
			// The iterator must be closed before the transaction writes.
			collect()
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		p.mu.Unlock()
		if err != nil {
			return total, fmt.Errorf("store: delete patterns: %w", err)
		}
		total += deleted
		if deleted < chunk {
			break
		}
	}
	return total, nil
}

func getPattern(txn *badger.Txn, id string) (*UsagePattern, error) {
	item, err := txn.Get(patternKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var pat UsagePattern
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &pat)
	}); err != nil {
		return nil, fmt.Errorf("decode pattern %s: %w", id, err)
	}
	return &pat, nil
}
