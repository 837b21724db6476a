// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSuggestions_InsertAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	old := &Suggestion{Type: SuggestionMode, Value: "artistic", CreatedAt: now.Add(-2 * time.Hour)}
	mid := &Suggestion{Type: SuggestionCamera, Value: "macro", CreatedAt: now.Add(-30 * time.Minute)}
	recent := &Suggestion{Type: SuggestionEffect, Value: "sharpen", CreatedAt: now}
	for _, s := range []*Suggestion{recent, old, mid} {
		if err := db.Suggestions().Insert(ctx, s); err != nil {
			t.Fatal(err)
		}
		if s.ID == "" {
			t.Error("Insert() should assign an id")
		}
	}

	all, err := db.Suggestions().List(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != old.ID || all[2].ID != recent.ID {
		t.Errorf("List() order = %v, want oldest first", all)
	}

	live, _ := db.Suggestions().List(ctx, now.Add(-time.Hour))
	if len(live) != 2 || live[0].ID != mid.ID {
		t.Errorf("List(notBefore) = %v, want mid and recent", live)
	}
}

func TestSuggestions_InsertRequiresTypeAndValue(t *testing.T) {
	db := newTestDB(t)
	for _, s := range []*Suggestion{nil, {Type: SuggestionMode}, {Value: "macro"}} {
		if err := db.Suggestions().Insert(context.Background(), s); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("Insert(%+v) error = %v, want ErrInvalidRecord", s, err)
		}
	}
}

func TestSuggestions_Replace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	first := &Suggestion{Type: SuggestionMode, Value: "botanical", Confidence: 0.8, CreatedAt: now.Add(-time.Minute)}
	other := &Suggestion{Type: SuggestionCamera, Value: "botanical", CreatedAt: now.Add(-time.Minute)}
	for _, s := range []*Suggestion{first, other} {
		if err := db.Suggestions().Insert(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	replaced, err := db.Suggestions().Replace(ctx, &Suggestion{Type: SuggestionMode, Value: "botanical", Confidence: 0.95, CreatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if replaced != 1 {
		t.Errorf("Replace() = %d, want 1", replaced)
	}

	all, _ := db.Suggestions().List(ctx, time.Time{})
	if len(all) != 2 {
		t.Fatalf("List() = %d suggestions, want 2", len(all))
	}
	var modes int
	for _, s := range all {
		if s.Type == SuggestionMode {
			modes++
			if s.Confidence != 0.95 {
				t.Errorf("mode suggestion confidence = %v, want the replacement", s.Confidence)
			}
		}
	}
	if modes != 1 {
		t.Errorf("mode suggestions = %d, want 1", modes)
	}
}

func TestSuggestions_DeleteCreatedBefore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	for _, age := range []time.Duration{3 * time.Hour, 2 * time.Hour, 10 * time.Minute} {
		if err := db.Suggestions().Insert(ctx, &Suggestion{Type: SuggestionEffect, Value: age.String(), CreatedAt: now.Add(-age)}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.Suggestions().DeleteCreatedBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DeleteCreatedBefore() = %d, want 2", n)
	}
	left, _ := db.Suggestions().List(ctx, time.Time{})
	if len(left) != 1 || left[0].Value != (10*time.Minute).String() {
		t.Errorf("remaining = %v", left)
	}
}

func TestSuggestions_DeleteMatching(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_ = db.Suggestions().Insert(ctx, &Suggestion{Type: SuggestionEffect, Value: "vivid"})
	_ = db.Suggestions().Insert(ctx, &Suggestion{Type: SuggestionEffect, Value: "vivid"})
	_ = db.Suggestions().Insert(ctx, &Suggestion{Type: SuggestionEffect, Value: "mono"})

	n, err := db.Suggestions().DeleteMatching(ctx, SuggestionEffect, "vivid")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DeleteMatching() = %d, want 2", n)
	}
	if left, _ := db.Suggestions().List(ctx, time.Time{}); len(left) != 1 {
		t.Errorf("remaining = %d, want 1", len(left))
	}
}

func TestModelStates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cached := time.Date(2026, 2, 2, 2, 2, 2, 0, time.UTC)

	if err := db.ModelStates().Save(ctx, ModelState{ID: "plant-id-v2", State: "cached", CachedAt: cached}); err != nil {
		t.Fatal(err)
	}
	if err := db.ModelStates().Save(ctx, ModelState{ID: "artistic-v1", State: "available"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ModelStates().Save(ctx, ModelState{State: "cached"}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Save() without id error = %v", err)
	}

	states, err := db.ModelStates().Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("Load() = %d states, want 2", len(states))
	}
	if s := states["plant-id-v2"]; s.State != "cached" || !s.CachedAt.Equal(cached) {
		t.Errorf("plant-id-v2 = %+v", s)
	}

	if err := db.ModelStates().Delete(ctx, "artistic-v1"); err != nil {
		t.Fatal(err)
	}
	states, _ = db.ModelStates().Load(ctx)
	if _, ok := states["artistic-v1"]; ok {
		t.Error("deleted state still loaded")
	}
}
