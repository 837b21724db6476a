// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package services

import (
	"context"
	"fmt"
)

// Runner matches eventbus.Bus: Run blocks until ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// EventBusService runs the event router that feeds the pattern learner
// and the offline coordinator.
type EventBusService struct {
	bus  Runner
	name string
}

// NewEventBusService wraps an eventbus.Bus.
func NewEventBusService(bus Runner) *EventBusService {
	return &EventBusService{bus: bus, name: "event-bus"}
}

// Serve implements suture.Service. A router that exits before
// cancellation is reported as a failure so suture restarts it.
func (s *EventBusService) Serve(ctx context.Context) error {
	err := s.bus.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("event bus stopped: %w", err)
	}
	return fmt.Errorf("event bus stopped unexpectedly")
}

// String implements fmt.Stringer for suture log output.
func (s *EventBusService) String() string {
	return s.name
}
