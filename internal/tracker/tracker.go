// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package tracker wires the engagement subsystems together: the dedup
// ledger over durable storage, the session identity, the telemetry
// batcher behind a circuit breaker, and the reaction reconciler. It is
// the single surface the embedding application talks to.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/viewmark/internal/clock"
	"github.com/tomtom215/viewmark/internal/config"
	"github.com/tomtom215/viewmark/internal/ledger"
	"github.com/tomtom215/viewmark/internal/logging"
	"github.com/tomtom215/viewmark/internal/reaction"
	"github.com/tomtom215/viewmark/internal/session"
	"github.com/tomtom215/viewmark/internal/storage"
	"github.com/tomtom215/viewmark/internal/telemetry"
	"github.com/tomtom215/viewmark/internal/transport"
)

// Backend is the full network surface the tracker needs. The HTTP
// transport.Client satisfies it; tests substitute fakes.
type Backend interface {
	telemetry.Transport
	reaction.Client
}

// Tracker is the embedding application's entry point.
type Tracker struct {
	cfg *config.Config
	clk clock.Clock

	durable storage.KeyValueStore
	scoped  storage.KeyValueStore

	identity   *session.Identity
	store      *ledger.Store
	ledger     *ledger.Ledger
	batcher    *telemetry.Batcher
	reconciler *reaction.Reconciler
	backend    Backend

	closeOnce sync.Once
}

// Option customizes a Tracker at construction time.
type Option func(*options)

type options struct {
	clk     clock.Clock
	durable storage.KeyValueStore
	scoped  storage.KeyValueStore
	backend Backend
}

// WithClock injects the clock. Tests use clock.Fake.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// WithDurableStore injects the long-lived ledger medium, bypassing the
// Badger store the configuration would otherwise open.
func WithDurableStore(kv storage.KeyValueStore) Option {
	return func(o *options) { o.durable = kv }
}

// WithSessionStore injects the session-scoped store.
func WithSessionStore(kv storage.KeyValueStore) Option {
	return func(o *options) { o.scoped = kv }
}

// WithBackend injects the network backend.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// New builds a fully wired Tracker from configuration.
//
// Unless overridden, the durable ledger medium is a Badger database at
// cfg.Storage.Path (in-memory when the path is empty), the session store
// is in-memory so its lifetime matches the process, and the backend is
// the HTTP client with the batched telemetry endpoint behind a circuit
// breaker.
func New(cfg *config.Config, opts ...Option) (*Tracker, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.clk == nil {
		o.clk = clock.Real{}
	}

	if o.durable == nil {
		if cfg.Storage.Path == "" {
			o.durable = storage.NewMemoryStore()
		} else {
			kv, err := storage.OpenBadger(cfg.Storage.Path)
			if err != nil {
				return nil, fmt.Errorf("open ledger storage: %w", err)
			}
			o.durable = kv
		}
	}
	if o.scoped == nil {
		o.scoped = storage.NewMemoryStore()
	}
	if o.backend == nil {
		o.backend = transport.NewClient(cfg.API)
	}

	identity := session.NewIdentity(o.scoped, o.clk)
	store := ledger.NewStore(o.durable, identity, o.clk, ledger.Options{
		RecordTTL:      cfg.Tracker.RecordTTL,
		RecordCacheTTL: cfg.Tracker.RecordCacheTTL,
		ActorCacheTTL:  cfg.Tracker.ActorCacheTTL,
	})

	batcher := telemetry.NewBatcher(
		telemetry.NewBreakerTransport(o.backend),
		o.clk,
		telemetry.Config{
			BatchSize:  cfg.Tracker.BatchSize,
			BatchDelay: cfg.Tracker.BatchDelay,
		},
	)

	return &Tracker{
		cfg:        cfg,
		clk:        o.clk,
		durable:    o.durable,
		scoped:     o.scoped,
		identity:   identity,
		store:      store,
		ledger:     ledger.NewLedger(store, identity),
		batcher:    batcher,
		reconciler: reaction.NewReconciler(o.backend, store),
		backend:    o.backend,
	}, nil
}

// ShouldCountView reports whether the current session has not yet
// counted a view for contentID. Pure query; it never writes.
func (t *Tracker) ShouldCountView(ctx context.Context, contentID int64) bool {
	return !t.ledger.HasViewed(ctx, contentID)
}

// RecordView appends a view record for the current session. Callers
// gate on ShouldCountView; RecordView itself never dedups.
func (t *Tracker) RecordView(ctx context.Context, contentID int64) {
	t.ledger.MarkViewed(ctx, contentID)
}

// Visit performs the full content-view flow: fetch the item (asking the
// server to count the view only when this session has not counted one),
// record the view locally, seed the reaction state, and log a view
// event. Telemetry failure never fails the visit.
func (t *Tracker) Visit(ctx context.Context, contentID int64, currentPath string) (reaction.Content, error) {
	countView := t.ShouldCountView(ctx, contentID)

	content, err := t.backend.FetchContent(ctx, contentID, countView)
	if err != nil {
		return reaction.Content{}, fmt.Errorf("fetch content: %w", err)
	}

	if countView {
		t.RecordView(ctx, contentID)
	}

	t.reconciler.Load(contentID, reaction.State{
		LikeCount:    content.LikeCount,
		DislikeCount: content.DislikeCount,
		MyReaction:   content.MyReaction,
	})

	t.LogView(ctx, contentID, currentPath)
	return content, nil
}

// LogView enqueues a view telemetry event. Best-effort.
func (t *Tracker) LogView(ctx context.Context, contentID int64, currentPath string) {
	event := telemetry.NewEvent(telemetry.KindView, t.store.ResolveActorID(ctx), contentID, currentPath, t.clk.Now())
	if err := t.batcher.Enqueue(event); err != nil {
		logging.Debug().Err(err).Int64("content_id", contentID).Msg("view event dropped")
	}
}

// LogClick enqueues a click telemetry event for an outbound element.
// Best-effort.
func (t *Tracker) LogClick(ctx context.Context, contentID int64, clickPath, currentPath string) {
	event := telemetry.NewEvent(telemetry.KindClick, t.store.ResolveActorID(ctx), contentID, currentPath, t.clk.Now())
	event.ClickPath = clickPath
	if err := t.batcher.Enqueue(event); err != nil {
		logging.Debug().Err(err).Int64("content_id", contentID).Msg("click event dropped")
	}
}

// Toggle applies a like/dislike toggle through the reconciler.
func (t *Tracker) Toggle(ctx context.Context, contentID int64, kind reaction.Kind) (reaction.State, error) {
	return t.reconciler.Toggle(ctx, contentID, kind)
}

// ReactionState returns the locally tracked reaction state for a
// content item.
func (t *Tracker) ReactionState(contentID int64) (reaction.State, bool) {
	return t.reconciler.State(contentID)
}

// EvictContent drops the tracked reaction state for an item that was
// navigated away from.
func (t *Tracker) EvictContent(contentID int64) {
	t.reconciler.Evict(contentID)
}

// OnHidden is the visibility-loss lifecycle hook: pending telemetry is
// force-flushed and the in-process caches are dropped, so a later
// reactivation rebuilds from durable state.
func (t *Tracker) OnHidden(ctx context.Context) {
	t.batcher.ForceFlush()
	t.store.DropCaches()
}

// OnUnload is the teardown lifecycle hook. Same contract as OnHidden;
// both exist because hidden contexts sometimes resume and sometimes
// never come back, and the flush must have happened either way.
func (t *Tracker) OnUnload(ctx context.Context) {
	t.OnHidden(ctx)
}

// Reset clears the durable view ledger. Diagnostic use only; the next
// view of any item counts again.
func (t *Tracker) Reset(ctx context.Context) error {
	return t.store.Clear(ctx)
}

// Stats returns the telemetry delivery counters.
func (t *Tracker) Stats() telemetry.Stats {
	return t.batcher.Stats()
}

// Close flushes pending telemetry and releases storage. Idempotent.
func (t *Tracker) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.batcher.Close()
		if cerr := t.scoped.Close(); cerr != nil {
			err = cerr
		}
		if cerr := t.durable.Close(); cerr != nil {
			err = cerr
		}
	})
	return err
}
