// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/verdant/internal/logging"
)

// SweeperConfig configures the retention sweep.
type SweeperConfig struct {
	// Interval between sweeps. Default 6h.
	Interval time.Duration

	// RetentionDays applies to analyses (by CreatedAt) and patterns (by
	// LastSeen). Default 30.
	RetentionDays int
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Analyses int
	Patterns int
	Duration time.Duration
}

// Sweeper periodically enforces the retention window and reclaims value
// log space.
type Sweeper struct {
	db     *DB
	config SweeperConfig
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
	last    SweepResult
}

// NewSweeper creates a sweeper for db.
func NewSweeper(db *DB, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &Sweeper{db: db, config: cfg, now: time.Now}
}

// Start launches the background loop. A second call is a no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	logging.Info().
		Dur("interval", s.config.Interval).
		Int("retention_days", s.config.RetentionDays).
		Msg("Retention sweeper started")
	return nil
}

// Stop cancels the loop and waits for an in-progress sweep.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info().Msg("Retention sweeper stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastResult returns the most recent sweep summary and when it ran.
func (s *Sweeper) LastResult() (SweepResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastRun
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunNow(s.ctx)
		}
	}
}

// RunNow performs one sweep synchronously. Errors are logged; partial
// progress is kept.
func (s *Sweeper) RunNow(ctx context.Context) SweepResult {
	started := time.Now()
	cutoff := s.now().Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour)

	var res SweepResult
	var err error

	res.Analyses, err = s.db.Analyses().PurgeBefore(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("Retention sweep failed to purge analyses")
	}

	res.Patterns, err = s.db.Patterns().PurgeSeenBefore(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("Retention sweep failed to purge patterns")
	}

	if err := s.db.RunGC(); err != nil {
		logging.Error().Err(err).Msg("Retention sweep value log GC failed")
	}

	res.Duration = time.Since(started)

	s.mu.Lock()
	s.lastRun = started
	s.last = res
	s.mu.Unlock()

	if res.Analyses > 0 || res.Patterns > 0 {
		logging.Info().
			Int("analyses", res.Analyses).
			Int("patterns", res.Patterns).
			Time("cutoff", cutoff).
			Dur("duration", res.Duration).
			Msg("Retention sweep removed expired records")
	}
	return res
}
