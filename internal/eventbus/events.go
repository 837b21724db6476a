// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package eventbus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event payload version.
const SchemaVersion = 1

// Topics.
const (
	TopicAnalysisStored      = "analysis.stored"
	TopicConnectivityChanged = "connectivity.changed"
)

// Metadata keys set on every published message.
const (
	MetadataTopic         = "topic"
	MetadataCorrelationID = "correlation_id"
)

// AnalysisStoredEvent is published after a remote result was written to the
// analysis store. The pattern learner consumes it.
type AnalysisStoredEvent struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	AnalysisID    string    `json:"analysis_id"`
	Fingerprint   string    `json:"fingerprint"`
	Mode          string    `json:"mode"`
	Confidence    float64   `json:"confidence"`
	CameraSetting string    `json:"camera_setting,omitempty"`
	Effects       []string  `json:"effects,omitempty"`
	ModelID       string    `json:"model_id,omitempty"`
	StoredAt      time.Time `json:"stored_at"`
}

// ConnectivityEvent reports a change of network reachability.
type ConnectivityEvent struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	Online        bool      `json:"online"`
	Source        string    `json:"source,omitempty"`
	At            time.Time `json:"at"`
}

// NewAnalysisStoredEvent fills in the envelope fields.
func NewAnalysisStoredEvent() *AnalysisStoredEvent {
	return &AnalysisStoredEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		StoredAt:      time.Now().UTC(),
	}
}

// NewConnectivityEvent returns an event for the given state.
func NewConnectivityEvent(online bool, source string) *ConnectivityEvent {
	return &ConnectivityEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Online:        online,
		Source:        source,
		At:            time.Now().UTC(),
	}
}

// Validate checks required fields.
func (e *AnalysisStoredEvent) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("event_id is required")
	case e.Mode == "":
		return fmt.Errorf("mode is required")
	case e.Confidence < 0 || e.Confidence > 1:
		return fmt.Errorf("confidence %v out of range", e.Confidence)
	}
	return nil
}

// newMessage encodes payload into a watermill message. The message UUID is
// the event id when one is given, which makes redeliveries deduplicable.
func newMessage(id string, payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	if id == "" {
		id = uuid.New().String()
	}
	return message.NewMessage(id, data), nil
}

// Decode unmarshals a message payload into T.
func Decode[T any](msg *message.Message) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s message %s: %w", msg.Metadata.Get(MetadataTopic), msg.UUID, err)
	}
	return &v, nil
}
