// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/viewmark/internal/clock"
	"github.com/tomtom215/viewmark/internal/config"
	"github.com/tomtom215/viewmark/internal/reaction"
	"github.com/tomtom215/viewmark/internal/storage"
	"github.com/tomtom215/viewmark/internal/telemetry"
)

// fakeBackend implements Backend and records every call.
type fakeBackend struct {
	mu sync.Mutex

	batches [][]telemetry.Event
	singles []telemetry.Event

	content   reaction.Content
	fetches   []bool // countView flag per FetchContent call
	toggleRes reaction.Counts
}

func (f *fakeBackend) SendBatch(ctx context.Context, events []telemetry.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]telemetry.Event, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeBackend) SendEvent(ctx context.Context, event telemetry.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, event)
	return nil
}

func (f *fakeBackend) ToggleReaction(ctx context.Context, contentID int64, kind reaction.Kind) (reaction.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toggleRes, nil
}

func (f *fakeBackend) FetchContent(ctx context.Context, contentID int64, countView bool) (reaction.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, countView)
	return f.content, nil
}

func (f *fakeBackend) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		API: config.APIConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 5 * time.Second,
		},
		Tracker: config.TrackerConfig{
			RecordTTL:      30 * time.Minute,
			RecordCacheTTL: 5 * time.Minute,
			ActorCacheTTL:  60 * time.Second,
			BatchSize:      10,
			BatchDelay:     3 * time.Second,
		},
	}
}

func newTestTracker(t *testing.T, backend *fakeBackend) (*Tracker, *clock.Fake, *storage.MemoryStore) {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	durable := storage.NewMemoryStore()

	tr, err := New(testConfig(),
		WithClock(clk),
		WithDurableStore(durable),
		WithSessionStore(storage.NewMemoryStore()),
		WithBackend(backend),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, clk, durable
}

func TestVisitCountsViewOncePerSession(t *testing.T) {
	backend := &fakeBackend{content: reaction.Content{ID: 7, LikeCount: 3}}
	tr, _, _ := newTestTracker(t, backend)
	ctx := context.Background()

	if _, err := tr.Visit(ctx, 7, "/posts/7"); err != nil {
		t.Fatalf("first Visit: %v", err)
	}
	if _, err := tr.Visit(ctx, 7, "/posts/7"); err != nil {
		t.Fatalf("second Visit: %v", err)
	}

	if len(backend.fetches) != 2 {
		t.Fatalf("fetches = %d, want 2", len(backend.fetches))
	}
	if !backend.fetches[0] {
		t.Error("first visit must ask the server to count the view")
	}
	if backend.fetches[1] {
		t.Error("repeat visit within the TTL must not count again")
	}
}

func TestVisitCountsAgainAfterTTL(t *testing.T) {
	backend := &fakeBackend{content: reaction.Content{ID: 7}}
	tr, clk, _ := newTestTracker(t, backend)
	ctx := context.Background()

	if _, err := tr.Visit(ctx, 7, "/posts/7"); err != nil {
		t.Fatalf("Visit: %v", err)
	}

	clk.Advance(30*time.Minute + time.Second)

	if !tr.ShouldCountView(ctx, 7) {
		t.Error("expired record still suppresses the view count")
	}
}

func TestVisitSeedsReactionState(t *testing.T) {
	backend := &fakeBackend{content: reaction.Content{
		ID:           7,
		LikeCount:    5,
		DislikeCount: 2,
		MyReaction:   reaction.Like,
	}}
	tr, _, _ := newTestTracker(t, backend)

	if _, err := tr.Visit(context.Background(), 7, "/posts/7"); err != nil {
		t.Fatalf("Visit: %v", err)
	}

	state, ok := tr.ReactionState(7)
	if !ok {
		t.Fatal("no reaction state after Visit")
	}
	want := reaction.State{LikeCount: 5, DislikeCount: 2, MyReaction: reaction.Like}
	if state != want {
		t.Fatalf("state = %+v, want %+v", state, want)
	}
}

func TestOnUnloadFlushesPendingEvents(t *testing.T) {
	backend := &fakeBackend{}
	tr, clk, _ := newTestTracker(t, backend)
	ctx := context.Background()

	tr.LogView(ctx, 7, "/posts/7")
	tr.LogClick(ctx, 7, "https://example.com", "/posts/7")

	if backend.batchCount() != 0 {
		t.Fatalf("batch sent before unload: %d", backend.batchCount())
	}

	tr.OnUnload(ctx)

	if backend.batchCount() != 1 {
		t.Fatalf("batches = %d, want exactly 1", backend.batchCount())
	}
	if got := len(backend.batches[0]); got != 2 {
		t.Fatalf("flushed batch size = %d, want 2", got)
	}
	if clk.PendingTimers() != 0 {
		t.Errorf("debounce timer still pending after unload")
	}
}

func TestLogClickCarriesClickPath(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend)
	ctx := context.Background()

	tr.LogClick(ctx, 7, "https://example.com/out", "/posts/7")
	tr.OnUnload(ctx)

	if backend.batchCount() != 1 {
		t.Fatalf("batches = %d, want 1", backend.batchCount())
	}
	event := backend.batches[0][0]
	if event.Kind != telemetry.KindClick {
		t.Errorf("kind = %q, want click", event.Kind)
	}
	if event.ClickPath != "https://example.com/out" {
		t.Errorf("clickPath = %q", event.ClickPath)
	}
	if event.CurrentPath != "/posts/7" {
		t.Errorf("currentPath = %q", event.CurrentPath)
	}
}

func TestOnHiddenDropsCachesAndRebuildsFromStorage(t *testing.T) {
	backend := &fakeBackend{content: reaction.Content{ID: 7}}
	tr, _, durable := newTestTracker(t, backend)
	ctx := context.Background()

	if _, err := tr.Visit(ctx, 7, "/posts/7"); err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if tr.ShouldCountView(ctx, 7) {
		t.Fatal("view not recorded")
	}

	// Wipe durable state underneath the warm cache. Only a cache drop
	// makes the change visible.
	if err := durable.Delete(ctx, "viewmark:view_records"); err != nil {
		t.Fatalf("delete records: %v", err)
	}
	if tr.ShouldCountView(ctx, 7) {
		t.Fatal("cache should still mask the storage wipe")
	}

	tr.OnHidden(ctx)

	if !tr.ShouldCountView(ctx, 7) {
		t.Error("state not rebuilt from storage after OnHidden")
	}
}

func TestResetClearsLedger(t *testing.T) {
	backend := &fakeBackend{content: reaction.Content{ID: 7}}
	tr, _, _ := newTestTracker(t, backend)
	ctx := context.Background()

	if _, err := tr.Visit(ctx, 7, "/posts/7"); err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if err := tr.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !tr.ShouldCountView(ctx, 7) {
		t.Error("view still suppressed after Reset")
	}
}

func TestCloseIsIdempotentAndStopsTelemetry(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend)
	ctx := context.Background()

	tr.LogView(ctx, 7, "/posts/7")

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if backend.batchCount() != 1 {
		t.Fatalf("batches = %d, want 1 final flush", backend.batchCount())
	}

	// Events after close are absorbed, not delivered.
	tr.LogView(ctx, 8, "/posts/8")
	if backend.batchCount() != 1 {
		t.Error("event delivered after Close")
	}
}

func TestTogglePassthrough(t *testing.T) {
	backend := &fakeBackend{
		content:   reaction.Content{ID: 7, LikeCount: 5},
		toggleRes: reaction.Counts{LikeCount: 6},
	}
	tr, _, durable := newTestTracker(t, backend)
	ctx := context.Background()

	// An identity blob makes the actor authenticated.
	if err := durable.Set(ctx, "viewmark:identity", []byte(`{"id":42}`)); err != nil {
		t.Fatalf("seed identity: %v", err)
	}

	if _, err := tr.Visit(ctx, 7, "/posts/7"); err != nil {
		t.Fatalf("Visit: %v", err)
	}

	state, err := tr.Toggle(ctx, 7, reaction.Like)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if state.LikeCount != 6 || state.MyReaction != reaction.Like {
		t.Fatalf("state = %+v, want likeCount=6 myReaction=LIKE", state)
	}
}
