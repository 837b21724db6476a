// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/verdant/internal/logging"
)

// StartStopper matches the store.Sweeper lifecycle.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// SweeperService runs the retention sweeper under supervision.
//
// Serve calls Start, waits for cancellation, then Stop, which blocks until
// any in-progress sweep returns.
type SweeperService struct {
	sweeper StartStopper
	name    string
}

// NewSweeperService wraps a store.Sweeper.
func NewSweeperService(sweeper StartStopper) *SweeperService {
	return &SweeperService{
		sweeper: sweeper,
		name:    "retention-sweeper",
	}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	if err := s.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("retention sweeper start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.sweeper.Stop(); err != nil {
		logging.Warn().Err(err).Msg("Retention sweeper stop failed")
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture log output.
func (s *SweeperService) String() string {
	return s.name
}
