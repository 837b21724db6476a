// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"context"
	"testing"
	"time"
)

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(newTestDB(t), SweeperConfig{})
	if s.config.Interval != 6*time.Hour {
		t.Errorf("Interval = %v, want 6h", s.config.Interval)
	}
	if s.config.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", s.config.RetentionDays)
	}
}

func TestSweeper_RunNow(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	putAnalysis(t, db, "01", "botanical", 0.9, now.Add(-40*24*time.Hour))
	putAnalysis(t, db, "02", "botanical", 0.9, now.Add(-24*time.Hour))
	touchPattern(t, db, "old", now.Add(-31*24*time.Hour))
	touchPattern(t, db, "new", now.Add(-time.Hour))

	s := NewSweeper(db, SweeperConfig{RetentionDays: 30})
	s.now = func() time.Time { return now }

	res := s.RunNow(context.Background())
	if res.Analyses != 1 || res.Patterns != 1 {
		t.Errorf("RunNow() = %+v, want 1 analysis and 1 pattern", res)
	}

	last, at := s.LastResult()
	if last != res || at.IsZero() {
		t.Errorf("LastResult() = %+v at %v", last, at)
	}

	again := s.RunNow(context.Background())
	if again.Analyses != 0 || again.Patterns != 0 {
		t.Errorf("second sweep = %+v, want nothing removed", again)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	s := NewSweeper(newTestDB(t), SweeperConfig{Interval: time.Hour})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
