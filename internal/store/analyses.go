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
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/verdant/internal/metrics"
	"github.com/tomtom215/verdant/internal/validation"
)

// DefaultMinConfidence is the lookup threshold used when callers have no
// opinion.
const DefaultMinConfidence = 0.7

// purgeBatchSize bounds how many records one purge pass deletes.
const purgeBatchSize = 1000

// tokenWidth is the length of an order token: timestamp plus hex sequence.
const tokenWidth = tsWidth + 16

// Analyses is the cached analysis collection.
type Analyses struct {
	db *DB
}

// Put appends rec and returns its new id. ID is always assigned here;
// CreatedAt is kept when set and defaults to now. rec is updated in place.
func (a *Analyses) Put(ctx context.Context, rec *CachedAnalysis) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: nil analysis", ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if verr := validation.ValidateStruct(rec); verr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, verr)
	}
	if err := a.db.checkOpen(); err != nil {
		return "", err
	}

	started := time.Now()
	defer metrics.RecordStoreOperation("put", started)

	stored := *rec
	stored.ID = uuid.New().String()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.CreatedAt = stored.CreatedAt.UTC()

	seq, err := a.db.seq.Next()
	if err != nil {
		return "", fmt.Errorf("store: next sequence: %w", err)
	}
	token := orderToken(stored.CreatedAt, seq)

	data, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("store: marshal analysis: %w", err)
	}

	err = a.db.update(func(txn *badger.Txn) error {
		if err := txn.Set(analysisKey(stored.ID), data); err != nil {
			return err
		}
		if err := txn.Set(fingerprintIndexKey(stored.Fingerprint, stored.Mode, token, stored.ID), nil); err != nil {
			return err
		}
		if err := txn.Set(timeIndexKey(token, stored.ID), nil); err != nil {
			return err
		}
		return txn.Set(modeIndexKey(stored.Mode, token, stored.ID), nil)
	})
	if err != nil {
		return "", fmt.Errorf("store: put analysis: %w", err)
	}

	rec.ID = stored.ID
	rec.CreatedAt = stored.CreatedAt
	metrics.CachePuts.Inc()
	return stored.ID, nil
}

// Get loads one analysis by id.
func (a *Analyses) Get(ctx context.Context, id string) (*CachedAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *CachedAnalysis
	err := a.db.view(func(txn *badger.Txn) error {
		var err error
		rec, err = getAnalysis(txn, id)
		return err
	})
	return rec, err
}

// FindFresh returns the most recently created analysis for (fingerprint,
// mode) whose confidence is at least minConfidence. A miss is (nil, nil).
func (a *Analyses) FindFresh(ctx context.Context, fingerprint, mode string, minConfidence float64) (*CachedAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	defer metrics.RecordStoreOperation("find_fresh", started)

	var found *CachedAnalysis
	err := a.db.view(func(txn *badger.Txn) error {
		prefix := fingerprintPrefix(fingerprint, mode)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixEnd(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := getAnalysis(txn, trailingID(it.Item().Key()))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if rec.Confidence >= minConfidence {
				found = rec
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: find fresh: %w", err)
	}
	return found, nil
}

// ListByMode returns up to limit analyses for mode, newest first.
func (a *Analyses) ListByMode(ctx context.Context, mode string, limit int) ([]CachedAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	out := make([]CachedAnalysis, 0, limit)
	err := a.db.view(func(txn *badger.Txn) error {
		prefix := modePrefix(mode)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixEnd(prefix)); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			rec, err := getAnalysis(txn, trailingID(it.Item().Key()))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list by mode: %w", err)
	}
	return out, nil
}

// Stats counts analyses and sums Badger's size estimate over the records
// and their index keys.
func (a *Analyses) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	var st Stats
	err := a.db.view(func(txn *badger.Txn) error {
		prefix := []byte("analysis")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		record := []byte(prefixAnalysis)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			st.ApproximateSizeBytes += item.EstimatedSize()
			if bytes.HasPrefix(item.Key(), record) {
				st.Count++
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	metrics.SetStoreStats(st.Count, st.ApproximateSizeBytes)
	return st, nil
}

// PurgeOlderThan deletes analyses created more than days ago.
func (a *Analyses) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("store: purge: negative retention %d", days)
	}
	return a.PurgeBefore(ctx, time.Now().Add(-time.Duration(days)*24*time.Hour))
}

// PurgeBefore deletes analyses with CreatedAt strictly before cutoff,
// together with all their index keys. Newer records are untouched.
func (a *Analyses) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	started := time.Now()
	defer metrics.RecordStoreOperation("purge", started)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		keys, n, err := a.collectBefore(cutoff, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("store: purge scan: %w", err)
		}
		if err := a.db.deleteKeys(keys); err != nil {
			return total, fmt.Errorf("store: purge delete: %w", err)
		}
		total += n
		if n < purgeBatchSize {
			break
		}
	}
	metrics.RecordPurge("analyses", "retention", total)
	return total, nil
}

// collectBefore gathers the keys of at most limit records older than cutoff.
func (a *Analyses) collectBefore(cutoff time.Time, limit int) ([][]byte, int, error) {
	var (
		keys  [][]byte
		count int
	)
	bound := encodeTime(cutoff)

	err := a.db.view(func(txn *badger.Txn) error {
		prefix := []byte(prefixAnalysisTime)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && count < limit; it.Next() {
			key := it.Item().Key()
			rest := string(key[len(prefix):])
			if len(rest) < tokenWidth+1 {
				keys = append(keys, copyKey(key))
				continue
			}
			if rest[:tsWidth] >= bound {
				break
			}
			token, id := rest[:tokenWidth], rest[tokenWidth+1:]

			keys = append(keys, copyKey(key), analysisKey(id))
			rec, err := getAnalysis(txn, id)
			switch {
			case err == nil:
				keys = append(keys,
					fingerprintIndexKey(rec.Fingerprint, rec.Mode, token, id),
					modeIndexKey(rec.Mode, token, id),
				)
			case !errors.Is(err, ErrNotFound):
				return err
			}
			count++
		}
		return nil
	})
	return keys, count, err
}

// ClearAll wipes the analysis collection and its indexes. Patterns,
// suggestions and model states are left alone.
func (a *Analyses) ClearAll(ctx context.Context) (int, error) {
	started := time.Now()
	defer metrics.RecordStoreOperation("clear", started)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var (
			keys    [][]byte
			records int
		)
		err := a.db.view(func(txn *badger.Txn) error {
			prefix := []byte("analysis")
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			record := []byte(prefixAnalysis)
			for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < 4*purgeBatchSize; it.Next() {
				key := it.Item().Key()
				keys = append(keys, copyKey(key))
				if bytes.HasPrefix(key, record) {
					records++
				}
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("store: clear scan: %w", err)
		}
		if len(keys) == 0 {
			break
		}
		if err := a.db.deleteKeys(keys); err != nil {
			return total, fmt.Errorf("store: clear delete: %w", err)
		}
		total += records
	}
	metrics.RecordPurge("analyses", "clear", total)
	return total, nil
}

func getAnalysis(txn *badger.Txn, id string) (*CachedAnalysis, error) {
	item, err := txn.Get(analysisKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec CachedAnalysis
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return &rec, nil
}
