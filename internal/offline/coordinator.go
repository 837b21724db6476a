// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

// Package offline tracks whether the remote inference backend is reachable.
// The state changes only when an event arrives; nothing here polls.
package offline

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/verdant/internal/eventbus"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/metrics"
)

// HandlerName is the event bus consumer name.
const HandlerName = "offline-coordinator"

// Listener is called after every state change.
type Listener func(online bool)

// Status is a point-in-time view of the coordinator.
type Status struct {
	Online    bool      `json:"online"`
	Source    string    `json:"source,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// Coordinator owns the connectivity flag.
type Coordinator struct {
	mu        sync.RWMutex
	online    bool
	source    string
	changedAt time.Time
	listeners []Listener

	// notify serializes listener calls so they observe transitions in order.
	notify sync.Mutex
}

// New returns a coordinator in the given initial state.
func New(online bool) *Coordinator {
	c := &Coordinator{online: online}
	metrics.SetBool(metrics.OfflineMode, !online)
	return c
}

// IsOffline reports whether the backend is considered unreachable.
func (c *Coordinator) IsOffline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.online
}

// Status returns the current state.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{Online: c.online, Source: c.source, ChangedAt: c.changedAt}
}

// OnChange registers l. Listeners run synchronously on the goroutine that
// changed the state and must not block.
func (c *Coordinator) OnChange(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Set records the new state. It reports whether the state changed;
// repeating the current state is a no-op.
func (c *Coordinator) Set(online bool, source string) bool {
	c.notify.Lock()
	defer c.notify.Unlock()

	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return false
	}
	c.online = online
	c.source = source
	c.changedAt = time.Now().UTC()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	state := "offline"
	if online {
		state = "online"
	}
	metrics.SetBool(metrics.OfflineMode, !online)
	metrics.ConnectivityTransitions.WithLabelValues(state).Inc()
	logging.Info().Str("state", state).Str("source", source).Msg("Connectivity changed")

	for _, l := range listeners {
		l(online)
	}
	return true
}

// Register subscribes the coordinator to connectivity events.
func (c *Coordinator) Register(bus *eventbus.Bus) {
	bus.AddConsumer(HandlerName, eventbus.TopicConnectivityChanged, c.HandleConnectivity)
}

// HandleConnectivity applies a connectivity.changed message. Undecodable
// messages are acknowledged and dropped.
func (c *Coordinator) HandleConnectivity(ctx context.Context, msg *message.Message) error {
	e, err := eventbus.Decode[eventbus.ConnectivityEvent](msg)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed connectivity event")
		return nil
	}
	c.Set(e.Online, e.Source)
	return nil
}
