// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a session-scoped record exchanged with the event bus and
// memory collaborators. The broker itself never produces events;
// callers may forward dispatch results onto the bus.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Payload   []byte            `json:"payload,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
}

// NewEvent builds an event with a fresh UUID id, stamped with the
// current UTC time.
func NewEvent(eventType, source string, payload []byte) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// EventPublisher is the event bus collaborator surface. Implementations
// live outside this module.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event Event)
}

// NoopPublisher discards events.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(_ context.Context, _ string, _ Event) {}

// SessionStore is the memory/event-store collaborator consumed by the
// context-assembly subsystem: append events for a session, retrieve
// relevant context for a query. Implementations live outside this
// module.
type SessionStore interface {
	AppendEvent(ctx context.Context, sessionID string, event Event) error
	Retrieve(ctx context.Context, query string, limit int) ([]Event, error)
}
