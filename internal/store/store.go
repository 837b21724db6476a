// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

// Package store is the embedded persistent store behind the analysis cache.
//
// Everything lives in one BadgerDB instance partitioned by key prefix:
//
//	analysis:<id>                              CachedAnalysis (JSON)
//	analysis_fp:<fp>:<mode>:<ts><seq>:<id>     lookup index, newest last
//	analysis_time:<ts><seq>:<id>               retention index
//	analysis_mode:<mode>:<ts><seq>:<id>        per-mode listing index (v2)
//	pattern:<id>                               UsagePattern (JSON)
//	pattern_seen:<ts>:<id>                     last-seen index (v3)
//	suggestion:<id>                            Suggestion (JSON)
//	suggestion_time:<ts>:<id>                  staleness index
//	model_state:<id>                           ModelState (JSON)
//	meta:schema_version                        schema version
//
// Writes go through Badger transactions, so concurrent Puts are linearized
// by the database. Index keys carry no value; the record is always read from
// its primary key.
//
// When the on-disk store cannot be opened and AllowMemoryFallback is set,
// Open returns an in-memory instance instead and Degraded reports true.
// Data written in that mode lives only for the current process.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/metrics"
)

var (
	// ErrStorageUnavailable matches *StorageUnavailableError.
	ErrStorageUnavailable = errors.New("store: storage unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")

	// ErrNotFound is returned by point lookups that miss.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidRecord wraps validation failures on write.
	ErrInvalidRecord = errors.New("store: invalid record")
)

// StorageUnavailableError reports that neither the on-disk store nor the
// in-memory fallback could be opened.
type StorageUnavailableError struct {
	Path string
	Err  error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("store: cannot open %q: %v", e.Path, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorageUnavailable) succeed.
func (e *StorageUnavailableError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// Config configures Open.
type Config struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path string

	// InMemory opens a volatile store on purpose (tests, kiosk mode).
	InMemory bool

	// AllowMemoryFallback opens an in-memory store when Path fails.
	AllowMemoryFallback bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCDiscardRatio is passed to RunValueLogGC. Default 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns settings for an on-disk store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:                path,
		AllowMemoryFallback: true,
		GCDiscardRatio:      0.5,
	}
}

// DB owns the Badger handle shared by all collections.
type DB struct {
	db       *badger.DB
	cfg      Config
	degraded bool
	seq      *badger.Sequence

	mu     sync.RWMutex
	closed bool

	analyses    *Analyses
	patterns    *Patterns
	suggestions *Suggestions
	modelStates *ModelStates
}

// Open opens the store, runs pending schema migrations and wires the
// collection handles.
func Open(cfg Config) (*DB, error) {
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}

	var (
		bdb      *badger.DB
		degraded bool
		err      error
	)

	if cfg.InMemory {
		bdb, err = openMemory()
		if err != nil {
			return nil, &StorageUnavailableError{Path: ":memory:", Err: err}
		}
	} else {
		bdb, err = openDisk(cfg)
		if err != nil {
			if !cfg.AllowMemoryFallback {
				return nil, &StorageUnavailableError{Path: cfg.Path, Err: err}
			}
			logging.Warn().Err(err).Str("path", cfg.Path).
				Msg("Analysis store unavailable, falling back to in-memory session cache")

			var memErr error
			bdb, memErr = openMemory()
			if memErr != nil {
				return nil, &StorageUnavailableError{Path: cfg.Path, Err: errors.Join(err, memErr)}
			}
			degraded = true
		}
	}

	d := &DB{db: bdb, cfg: cfg, degraded: degraded}

	if err := d.migrate(); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	d.seq, err = bdb.GetSequence([]byte(keySequence), 256)
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("store: sequence: %w", err)
	}

	d.analyses = &Analyses{db: d}
	d.patterns = &Patterns{db: d}
	d.suggestions = &Suggestions{db: d}
	d.modelStates = &ModelStates{db: d}

	metrics.SetBool(metrics.StoreDegraded, degraded)

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory || degraded).
		Bool("degraded", degraded).
		Int("schema_version", d.SchemaVersion()).
		Msg("Analysis store opened")

	return d, nil
}

func openDisk(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Compression = options.Snappy
	opts.Logger = nil
	return badger.Open(opts)
}

func openMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return badger.Open(opts)
}

// Analyses returns the cached analysis collection.
func (d *DB) Analyses() *Analyses { return d.analyses }

// Patterns returns the usage pattern collection.
func (d *DB) Patterns() *Patterns { return d.patterns }

// Suggestions returns the suggestion collection.
func (d *DB) Suggestions() *Suggestions { return d.suggestions }

// ModelStates returns the persisted model lifecycle states.
func (d *DB) ModelStates() *ModelStates { return d.modelStates }

// Degraded reports whether the store fell back to memory.
func (d *DB) Degraded() bool { return d.degraded }

// InMemory reports whether data is lost on exit.
func (d *DB) InMemory() bool { return d.cfg.InMemory || d.degraded }

// RunGC runs value-log garbage collection until Badger reports nothing left
// to rewrite. It is a no-op for in-memory stores.
func (d *DB) RunGC() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.InMemory() {
		return nil
	}

	started := time.Now()
	defer metrics.RecordStoreOperation("gc", started)

	for {
		err := d.db.RunValueLogGC(d.cfg.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: value log gc: %w", err)
		}
	}
}

// Close releases the sequence lease and closes Badger. Safe to call twice.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var errs []error
	if d.seq != nil {
		if err := d.seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence: %w", err))
		}
	}
	if err := d.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close badger: %w", err))
	}
	logging.Info().Msg("Analysis store closed")
	return errors.Join(errs...)
}

func (d *DB) checkOpen() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (d *DB) update(fn func(txn *badger.Txn) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (d *DB) view(fn func(txn *badger.Txn) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// deleteKeys removes keys in a write batch, which splits itself to stay
// under Badger's transaction size limit.
func (d *DB) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	if err := d.checkOpen(); err != nil {
		return err
	}
	wb := d.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

const maxConflictRetries = 8
