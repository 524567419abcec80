// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package reaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/viewmark/internal/logging"
	"github.com/tomtom215/viewmark/internal/metrics"
)

// ActorResolver supplies the currently authenticated actor id, 0 when
// unauthenticated.
type ActorResolver interface {
	ResolveActorID(ctx context.Context) int64
}

// Reconciler applies optimistic reaction toggles and reconciles them
// against authoritative server responses.
//
// Toggles are serialized per content item: the toggle response does not
// echo the caller's own reaction, so two racing toggles could leave the
// locally-inferred state diverged from server truth until the next full
// reload. Serializing removes the race instead of guessing.
type Reconciler struct {
	client Client
	actors ActorResolver

	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	// toggleMu serializes toggles for one content item.
	toggleMu sync.Mutex

	state State

	// gen increments whenever the item is (re)loaded; a reconciliation
	// or failure-reload carrying a stale gen is discarded instead of
	// overwriting fresher state.
	gen uint64
}

// NewReconciler creates a Reconciler using the given network client and
// actor resolver.
func NewReconciler(client Client, actors ActorResolver) *Reconciler {
	return &Reconciler{
		client:  client,
		actors:  actors,
		entries: make(map[int64]*entry),
	}
}

// Load installs the reaction state for a freshly loaded content item,
// superseding any in-flight reconciliation for it.
func (r *Reconciler) Load(contentID int64, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(contentID)
	e.state = state
	e.gen++
}

// Evict drops the state for a content item that was navigated away from.
func (r *Reconciler) Evict(contentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, contentID)
}

// State returns the current local state for a content item.
func (r *Reconciler) State(contentID int64) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[contentID]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Toggle applies a like/dislike toggle for the content item.
//
// The returned state is the post-reconciliation state on success, or the
// resynced state on failure (alongside the error, which the UI surfaces
// as a recoverable notification).
func (r *Reconciler) Toggle(ctx context.Context, contentID int64, kind Kind) (State, error) {
	if kind != Like && kind != Dislike {
		return State{}, fmt.Errorf("reaction: invalid kind %q", kind)
	}

	if r.actors.ResolveActorID(ctx) == 0 {
		metrics.ReactionToggles.WithLabelValues(label(kind), "unauthenticated").Inc()
		return State{}, ErrAuthRequired
	}

	r.mu.Lock()
	e := r.entry(contentID)
	r.mu.Unlock()

	e.toggleMu.Lock()
	defer e.toggleMu.Unlock()

	// Optimistic transition, visible to the UI before the request runs.
	r.mu.Lock()
	gen := e.gen
	e.state = applyOptimistic(e.state, kind)
	optimistic := e.state
	r.mu.Unlock()

	counts, err := r.client.ToggleReaction(ctx, contentID, kind)
	if err != nil {
		metrics.ReactionToggles.WithLabelValues(label(kind), "failure").Inc()
		logging.Warn().Err(err).Int64("content_id", contentID).Msg("reaction toggle failed, resyncing")
		return r.resync(ctx, contentID, e, gen, optimistic, err)
	}

	metrics.ReactionToggles.WithLabelValues(label(kind), "success").Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.gen != gen {
		// A reload superseded this toggle; its state is fresher.
		return e.state, nil
	}

	// Counts come from the server verbatim; the caller's own reaction is
	// not echoed, so it stays the optimistic prediction.
	e.state = State{
		LikeCount:    counts.LikeCount,
		DislikeCount: counts.DislikeCount,
		MyReaction:   optimistic.MyReaction,
	}
	return e.state, nil
}

// resync discards the optimistic mutation after a failed toggle by
// refetching the item from scratch. A partial rollback of a toggle that
// may have half-succeeded server-side is more error-prone than a full
// resync.
func (r *Reconciler) resync(ctx context.Context, contentID int64, e *entry, gen uint64, fallback State, toggleErr error) (State, error) {
	metrics.ReactionReloads.Inc()

	content, err := r.client.FetchContent(ctx, contentID, false)
	if err != nil {
		// Refetch failed too; keep the optimistic state rather than
		// render nothing, and let the UI surface the toggle error.
		logging.Warn().Err(err).Int64("content_id", contentID).Msg("content resync failed")
		return fallback, fmt.Errorf("toggle reaction: %w", toggleErr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.gen != gen {
		// Superseded by a newer load mid-flight; do not overwrite it.
		return e.state, fmt.Errorf("toggle reaction: %w", toggleErr)
	}

	e.state = State{
		LikeCount:    content.LikeCount,
		DislikeCount: content.DislikeCount,
		MyReaction:   content.MyReaction,
	}
	e.gen++
	return e.state, fmt.Errorf("toggle reaction: %w", toggleErr)
}

// entry returns the tracked entry for contentID, creating it if needed.
// Caller must hold r.mu.
func (r *Reconciler) entry(contentID int64) *entry {
	e, ok := r.entries[contentID]
	if !ok {
		e = &entry{}
		r.entries[contentID] = e
	}
	return e
}

// applyOptimistic computes the client-predicted transition.
//
// Toggling the active kind clears it and decrements its count; toggling
// the other kind activates it, increments its count, and decrements the
// previously active kind's count. Counts floor at zero and MyReaction is
// never both values at once.
func applyOptimistic(s State, kind Kind) State {
	wasActive := s.MyReaction == kind

	if wasActive {
		switch kind {
		case Like:
			s.LikeCount = floorDec(s.LikeCount)
		case Dislike:
			s.DislikeCount = floorDec(s.DislikeCount)
		}
		s.MyReaction = None
		return s
	}

	other := s.MyReaction
	switch kind {
	case Like:
		s.LikeCount++
		if other == Dislike {
			s.DislikeCount = floorDec(s.DislikeCount)
		}
	case Dislike:
		s.DislikeCount++
		if other == Like {
			s.LikeCount = floorDec(s.LikeCount)
		}
	}
	s.MyReaction = kind
	return s
}

func floorDec(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return n - 1
}

func label(kind Kind) string {
	if kind == Dislike {
		return "dislike"
	}
	return "like"
}
