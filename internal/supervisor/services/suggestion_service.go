// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPruneInterval is used when SuggestionServiceConfig leaves it zero.
const DefaultPruneInterval = 10 * time.Minute

// StalePruner is satisfied by *patterns.Learner.
type StalePruner interface {
	PruneStale(ctx context.Context) (int, error)
}

// SuggestionServiceConfig holds configuration for the suggestion service.
type SuggestionServiceConfig struct {
	// PruneOnStartup prunes once before the first tick.
	PruneOnStartup bool

	// PruneInterval is how often expired suggestions are deleted.
	PruneInterval time.Duration
}

// SuggestionService periodically drops suggestions older than the
// learner's TTL so reads never accumulate stale rows.
type SuggestionService struct {
	learner StalePruner
	config  SuggestionServiceConfig
	logger  zerolog.Logger
	name    string
}

// NewSuggestionService creates a new suggestion pruning service.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewSuggestionService(learner StalePruner, cfg SuggestionServiceConfig, logger zerolog.Logger) *SuggestionService {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	return &SuggestionService{
		learner: learner,
		config:  cfg,
		logger:  logger.With().Str("service", "suggestions").Logger(),
		name:    "suggestion-service",
	}
}

// Serve implements suture.Service.
func (s *SuggestionService) Serve(ctx context.Context) error {
	s.logger.Info().
		Bool("prune_on_startup", s.config.PruneOnStartup).
		Dur("prune_interval", s.config.PruneInterval).
		Msg("suggestion service starting")

	if s.config.PruneOnStartup {
		s.prune(ctx)
	}

	ticker := time.NewTicker(s.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("suggestion service shutting down")
			return ctx.Err()

		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

// prune failures are retried on the next tick.
func (s *SuggestionService) prune(ctx context.Context) {
	n, err := s.learner.PruneStale(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("suggestion pruning failed")
		return
	}
	if n > 0 {
		s.logger.Debug().Int("pruned", n).Msg("stale suggestions pruned")
	}
}

// String returns the service name for logging.
func (s *SuggestionService) String() string {
	return s.name
}
