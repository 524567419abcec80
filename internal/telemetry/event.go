// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package telemetry accumulates engagement events in memory and delivers
// them to the backend in batches, with a per-event fallback when the
// batched endpoint fails. Delivery is best-effort by design: telemetry
// must never block or fail the user-facing action that produced it.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a trackable interaction.
type EventKind string

// Supported event kinds.
const (
	KindView  EventKind = "view"
	KindClick EventKind = "click"
)

// Event describes one trackable interaction.
//
// Each event carries its own id and timestamp, so ordering across batches
// does not matter to the backend and replayed deliveries can be dedupped
// server-side.
type Event struct {
	ID          string      `json:"id"`
	ActorID     int64       `json:"actorId"`
	Kind        EventKind   `json:"eventKind"`
	ContentID   int64       `json:"contentId"`
	ClickPath   string      `json:"clickPath,omitempty"`
	CurrentPath string      `json:"currentPath"`
	Tags        *string     `json:"tags"`
	Payload     interface{} `json:"payload,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewEvent builds an Event with a fresh id and the given timestamp.
func NewEvent(kind EventKind, actorID, contentID int64, currentPath string, ts time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		ActorID:     actorID,
		Kind:        kind,
		ContentID:   contentID,
		CurrentPath: currentPath,
		Timestamp:   ts,
	}
}

// Transport delivers telemetry to the network layer.
//
// SendBatch carries a whole batch in one request; SendEvent is the
// per-event fallback used when the batched endpoint rejects.
type Transport interface {
	SendBatch(ctx context.Context, events []Event) error
	SendEvent(ctx context.Context, event Event) error
}
