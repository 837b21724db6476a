// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/verdant/internal/logging"
)

// CurrentSchemaVersion is the version a freshly migrated store reports.
const CurrentSchemaVersion = 3

// migration upgrades the store by one version. Migrations only add keys;
// existing records are never rewritten or dropped.
type migration struct {
	version int
	name    string
	apply   func(d *DB) error
}

var migrations = []migration{
	{version: 1, name: "base collections", apply: func(*DB) error { return nil }},
	{version: 2, name: "analysis mode index", apply: backfillModeIndex},
	{version: 3, name: "pattern last-seen index", apply: backfillPatternSeenIndex},
}

// SchemaVersion reads the stored schema version (0 for an empty store).
func (d *DB) SchemaVersion() int {
	v, err := d.readSchemaVersion()
	if err != nil {
		return 0
	}
	return v
}

func (d *DB) readSchemaVersion() (int, error) {
	version := 0
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("corrupt schema version %q: %w", val, err)
			}
			version = v
			return nil
		})
	})
	return version, err
}

func (d *DB) writeSchemaVersion(v int) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte(strconv.Itoa(v)))
	})
}

// migrate applies every migration newer than the stored version, in order.
func (d *DB) migrate() error {
	return d.migrateTo(CurrentSchemaVersion)
}

func (d *DB) migrateTo(target int) error {
	current, err := d.readSchemaVersion()
	if err != nil {
		return err
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", current, CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		if err := m.apply(d); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := d.writeSchemaVersion(m.version); err != nil {
			return fmt.Errorf("record schema version %d: %w", m.version, err)
		}
		logging.Info().Int("version", m.version).Str("migration", m.name).Msg("Store schema migrated")
	}
	return nil
}

// backfillModeIndex derives analysis_mode keys from existing fingerprint
// index keys, which already carry mode, order token and id.
func backfillModeIndex(d *DB) error {
	var keys [][]byte
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixAnalysisFP)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			mode, token, id, ok := parseFingerprintIndex(it.Item().Key())
			if !ok {
				continue
			}
			keys = append(keys, modeIndexKey(mode, token, id))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return d.setEmpty(keys)
}

// backfillPatternSeenIndex writes pattern_seen keys for stored patterns.
func backfillPatternSeenIndex(d *DB) error {
	var keys [][]byte
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPattern)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p UsagePattern
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping unreadable pattern during migration")
				continue
			}
			keys = append(keys, patternSeenKey(p.LastSeen, p.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return d.setEmpty(keys)
}

func (d *DB) setEmpty(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := d.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Set(k, nil); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// parseFingerprintIndex splits analysis_fp:<fp>:<mode>:<token>:<id>.
func parseFingerprintIndex(key []byte) (mode, token, id string, ok bool) {
	s := string(key)
	if len(s) <= len(prefixAnalysisFP) {
		return "", "", "", false
	}
	parts := strings.SplitN(s[len(prefixAnalysisFP):], ":", 4)
	if len(parts) != 4 {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}
