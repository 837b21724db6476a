// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func putAnalysis(t *testing.T, db *DB, fp, mode string, conf float64, created time.Time) string {
	t.Helper()
	id, err := db.Analyses().Put(context.Background(), &CachedAnalysis{
		Fingerprint: fp,
		Mode:        mode,
		Confidence:  conf,
		Result:      json.RawMessage(`{"species":"Monstera deliciosa"}`),
		CreatedAt:   created,
	})
	if err != nil {
		t.Fatalf("Put(%s, %s) error = %v", fp, mode, err)
	}
	return id
}

func TestPut_AssignsIDAndTimestamp(t *testing.T) {
	db := newTestDB(t)
	rec := &CachedAnalysis{ID: "caller-chosen", Fingerprint: "abc123", Mode: "botanical", Confidence: 0.9}

	before := time.Now()
	id, err := db.Analyses().Put(context.Background(), rec)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if id == "" || id == "caller-chosen" {
		t.Errorf("Put() id = %q, want a fresh id", id)
	}
	if rec.ID != id {
		t.Errorf("rec.ID = %q, want %q", rec.ID, id)
	}
	if rec.CreatedAt.Before(before.Add(-time.Second)) {
		t.Errorf("CreatedAt = %v, want about now", rec.CreatedAt)
	}

	got, err := db.Analyses().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Fingerprint != "abc123" || string(got.Result) != "" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestPut_Validation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  *CachedAnalysis
	}{
		{"nil record", nil},
		{"missing fingerprint", &CachedAnalysis{Mode: "botanical", Confidence: 0.5}},
		{"uppercase fingerprint", &CachedAnalysis{Fingerprint: "ABC", Mode: "botanical"}},
		{"missing mode", &CachedAnalysis{Fingerprint: "abc"}},
		{"bad mode", &CachedAnalysis{Fingerprint: "abc", Mode: "Has Spaces"}},
		{"confidence above one", &CachedAnalysis{Fingerprint: "abc", Mode: "botanical", Confidence: 1.5}},
		{"negative confidence", &CachedAnalysis{Fingerprint: "abc", Mode: "botanical", Confidence: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Analyses().Put(ctx, tt.rec)
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Put() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Analyses().Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// Store then look up the same photo: hit, then miss for another mode.
func TestFindFresh_StoreThenLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id := putAnalysis(t, db, "abc123", "botanical", 0.92, time.Time{})

	got, err := db.Analyses().FindFresh(ctx, "abc123", "botanical", DefaultMinConfidence)
	if err != nil {
		t.Fatalf("FindFresh() error = %v", err)
	}
	if got == nil || got.ID != id {
		t.Fatalf("FindFresh() = %+v, want id %s", got, id)
	}
	if got.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", got.Confidence)
	}

	miss, err := db.Analyses().FindFresh(ctx, "abc123", "structural", DefaultMinConfidence)
	if err != nil || miss != nil {
		t.Errorf("FindFresh(other mode) = %+v, %v; want miss", miss, err)
	}
	miss, err = db.Analyses().FindFresh(ctx, "abc12", "botanical", DefaultMinConfidence)
	if err != nil || miss != nil {
		t.Errorf("FindFresh(prefix fingerprint) = %+v, %v; want miss", miss, err)
	}
}

func TestFindFresh_ConfidenceGate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	strong := putAnalysis(t, db, "ff00", "botanical", 0.85, base)
	weak := putAnalysis(t, db, "ff00", "botanical", 0.40, base.Add(time.Minute))

	tests := []struct {
		name    string
		minConf float64
		wantID  string
	}{
		{"default threshold skips weak newer record", DefaultMinConfidence, strong},
		{"low threshold returns newest", 0.3, weak},
		{"threshold is inclusive", 0.85, strong},
		{"nothing clears a high threshold", 0.9, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Analyses().FindFresh(ctx, "ff00", "botanical", tt.minConf)
			if err != nil {
				t.Fatalf("FindFresh() error = %v", err)
			}
			switch {
			case tt.wantID == "" && got != nil:
				t.Errorf("FindFresh() = %s, want miss", got.ID)
			case tt.wantID != "" && (got == nil || got.ID != tt.wantID):
				t.Errorf("FindFresh() = %+v, want %s", got, tt.wantID)
			}
		})
	}
}

func TestFindFresh_NewestWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	putAnalysis(t, db, "beef", "botanical", 0.8, at)
	putAnalysis(t, db, "beef", "botanical", 0.9, at.Add(time.Second))
	// Same timestamp as the previous record: insertion order breaks the tie.
	last := putAnalysis(t, db, "beef", "botanical", 0.75, at.Add(time.Second))

	got, err := db.Analyses().FindFresh(ctx, "beef", "botanical", DefaultMinConfidence)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != last {
		t.Errorf("FindFresh() = %+v, want %s", got, last)
	}
}

func TestListByMode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Now().Add(-time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, putAnalysis(t, db, fmt.Sprintf("%02x", i), "botanical", 0.8, at.Add(time.Duration(i)*time.Minute)))
	}
	putAnalysis(t, db, "aa", "artistic", 0.8, at)

	got, err := db.Analyses().ListByMode(ctx, "botanical", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("ListByMode() returned %d, want 3", len(got))
	}
	for i, rec := range got {
		if want := ids[len(ids)-1-i]; rec.ID != want {
			t.Errorf("ListByMode()[%d] = %s, want %s", i, rec.ID, want)
		}
	}

	all, _ := db.Analyses().ListByMode(ctx, "artistic", 0)
	if len(all) != 1 {
		t.Errorf("ListByMode(artistic) = %d records, want 1", len(all))
	}
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	empty, err := db.Analyses().Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Count != 0 || empty.ApproximateSizeBytes != 0 {
		t.Errorf("Stats() on empty store = %+v", empty)
	}

	putAnalysis(t, db, "01", "botanical", 0.9, time.Time{})
	putAnalysis(t, db, "02", "botanical", 0.9, time.Time{})
	putAnalysis(t, db, "01", "structural", 0.9, time.Time{})

	st, err := db.Analyses().Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 3 {
		t.Errorf("Count = %d, want 3", st.Count)
	}
	if st.ApproximateSizeBytes <= 0 {
		t.Errorf("ApproximateSizeBytes = %d, want > 0", st.ApproximateSizeBytes)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	old := putAnalysis(t, db, "0a", "botanical", 0.9, now.Add(-31*24*time.Hour))
	recent := putAnalysis(t, db, "0b", "botanical", 0.9, now.Add(-29*24*time.Hour))

	n, err := db.Analyses().PurgeOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("PurgeOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := db.Analyses().Get(ctx, old); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired record still present: %v", err)
	}
	if _, err := db.Analyses().Get(ctx, recent); err != nil {
		t.Errorf("recent record removed: %v", err)
	}
	if got, _ := db.Analyses().FindFresh(ctx, "0a", "botanical", 0); got != nil {
		t.Error("fingerprint index should not point at purged records")
	}
	if list, _ := db.Analyses().ListByMode(ctx, "botanical", 10); len(list) != 1 {
		t.Errorf("mode index has %d records, want 1", len(list))
	}

	if _, err := db.Analyses().PurgeOlderThan(ctx, -1); err == nil {
		t.Error("negative retention should be rejected")
	}
}

func TestPurgeBefore_ManyRecords(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	const n = purgeBatchSize + 10
	for i := 0; i < n; i++ {
		putAnalysis(t, db, fmt.Sprintf("%04x", i), "botanical", 0.9, old)
	}
	putAnalysis(t, db, "ffff", "botanical", 0.9, time.Time{})

	got, err := db.Analyses().PurgeBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if got != n {
		t.Errorf("PurgeBefore() = %d, want %d", got, n)
	}
	st, _ := db.Analyses().Stats(ctx)
	if st.Count != 1 {
		t.Errorf("remaining = %d, want 1", st.Count)
	}
}

func TestClearAll_LeavesOtherCollections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	putAnalysis(t, db, "01", "botanical", 0.9, time.Time{})
	putAnalysis(t, db, "02", "artistic", 0.9, time.Time{})
	if _, _, err := db.Patterns().Upsert(ctx, "botanical||", func(p *UsagePattern, _ bool) error {
		p.Mode, p.Frequency, p.LastSeen = "botanical", 1, time.Now()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.Suggestions().Insert(ctx, &Suggestion{Type: SuggestionMode, Value: "botanical"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ModelStates().Save(ctx, ModelState{ID: "plant-id-v2", State: "cached"}); err != nil {
		t.Fatal(err)
	}

	n, err := db.Analyses().ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearAll() = %d, want 2", n)
	}
	if st, _ := db.Analyses().Stats(ctx); st.Count != 0 || st.ApproximateSizeBytes != 0 {
		t.Errorf("Stats() after clear = %+v", st)
	}
	if got, _ := db.Analyses().FindFresh(ctx, "01", "botanical", 0); got != nil {
		t.Error("lookup after clear should miss")
	}

	if c, _ := db.Patterns().Count(ctx); c != 1 {
		t.Errorf("patterns after clear = %d, want 1", c)
	}
	if s, _ := db.Suggestions().List(ctx, time.Time{}); len(s) != 1 {
		t.Errorf("suggestions after clear = %d, want 1", len(s))
	}
	if m, _ := db.ModelStates().Load(ctx); len(m) != 1 {
		t.Errorf("model states after clear = %d, want 1", len(m))
	}
}

func TestPut_Concurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := db.Analyses().Put(ctx, &CachedAnalysis{Fingerprint: "c0ffee", Mode: "botanical", Confidence: 0.9})
			if err != nil {
				errs <- err
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Put() error = %v", err)
	}
	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
	list, _ := db.Analyses().ListByMode(ctx, "botanical", 100)
	if len(list) != workers {
		t.Errorf("stored %d records, want %d", len(list), workers)
	}
}

func TestCanceledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := db.Analyses().Put(ctx, &CachedAnalysis{Fingerprint: "ab", Mode: "botanical"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
	if _, err := db.Analyses().FindFresh(ctx, "ab", "botanical", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("FindFresh() error = %v, want context.Canceled", err)
	}
}
