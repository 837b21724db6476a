// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package patterns

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/verdant/internal/eventbus"
	"github.com/tomtom215/verdant/internal/logging"
)

// HandlerName is the event bus consumer name.
const HandlerName = "pattern-learner"

// Register subscribes the learner to analysis.stored events.
func (l *Learner) Register(bus *eventbus.Bus) {
	bus.AddConsumer(HandlerName, eventbus.TopicAnalysisStored, l.HandleAnalysisStored)
}

// HandleAnalysisStored records the occurrence carried by an
// analysis.stored message and regenerates suggestions. Malformed messages
// are logged and acknowledged; store failures are returned for retry.
// Replays after a partial failure may count an occurrence twice.
func (l *Learner) HandleAnalysisStored(ctx context.Context, msg *message.Message) error {
	e, err := eventbus.Decode[eventbus.AnalysisStoredEvent](msg)
	if err == nil {
		err = e.Validate()
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed analysis event")
		return nil
	}

	_, err = l.RecordOccurrence(ctx, Occurrence{
		Mode:          e.Mode,
		CameraSetting: e.CameraSetting,
		Effects:       e.Effects,
		Confidence:    e.Confidence,
		ObservedAt:    e.StoredAt,
	})
	if errors.Is(err, ErrInvalidOccurrence) {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", e.EventID).Msg("Dropping invalid analysis event")
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := l.RegenerateSuggestions(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", e.EventID).Msg("Suggestion regeneration failed")
	}
	return nil
}
