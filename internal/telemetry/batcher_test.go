// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/viewmark/internal/clock"
)

// mockTransport records deliveries and injects failures.
type mockTransport struct {
	mu         sync.Mutex
	batches    [][]Event
	singles    []Event
	batchErr   error
	singleErrs map[string]error // event id -> error

	// blockBatch, when non-nil, makes SendBatch wait until it is closed.
	blockBatch chan struct{}
}

func (m *mockTransport) SendBatch(ctx context.Context, events []Event) error {
	if m.blockBatch != nil {
		<-m.blockBatch
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchErr != nil {
		return m.batchErr
	}
	batch := make([]Event, len(events))
	copy(batch, events)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockTransport) SendEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.singleErrs[event.ID]; ok {
		return err
	}
	m.singles = append(m.singles, event)
	return nil
}

func (m *mockTransport) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockTransport) singleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.singles)
}

func makeEvents(n int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{
			ID:        fmt.Sprintf("event-%d", i),
			Kind:      KindView,
			ContentID: int64(i),
			Timestamp: time.Unix(int64(i), 0),
		}
	}
	return events
}

func TestBatchSizeTriggersImmediateFlush(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	transport := &mockTransport{}
	b := NewBatcher(transport, clk, Config{BatchSize: 10, BatchDelay: 3 * time.Second})

	for _, ev := range makeEvents(10) {
		if err := b.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	b.Wait()

	if got := transport.batchCount(); got != 1 {
		t.Fatalf("batches sent = %d, want 1", got)
	}
	if got := len(transport.batches[0]); got != 10 {
		t.Fatalf("batch size = %d, want 10", got)
	}
	// The pending delay timer was cancelled by the size trigger.
	if got := clk.PendingTimers(); got != 0 {
		t.Errorf("pending timers = %d, want 0", got)
	}
	if got := b.QueueLen(); got != 0 {
		t.Errorf("queue length after flush = %d, want 0", got)
	}
}

func TestDelayTriggersFlush(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	transport := &mockTransport{}
	b := NewBatcher(transport, clk, Config{BatchSize: 10, BatchDelay: 3 * time.Second})

	if err := b.Enqueue(makeEvents(1)[0]); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := transport.batchCount(); got != 0 {
		t.Fatalf("flushed before delay elapsed, batches = %d", got)
	}

	clk.Advance(3 * time.Second)

	if got := transport.batchCount(); got != 1 {
		t.Fatalf("batches after delay = %d, want 1", got)
	}
	if got := len(transport.batches[0]); got != 1 {
		t.Errorf("batch size = %d, want 1", got)
	}

	// Exactly one flush: advancing further must not re-fire.
	clk.Advance(10 * time.Second)
	if got := transport.batchCount(); got != 1 {
		t.Errorf("batches after extra advance = %d, want 1", got)
	}
}

func TestOnlyOneTimerPending(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := NewBatcher(&mockTransport{}, clk, Config{BatchSize: 10, BatchDelay: 3 * time.Second})

	events := makeEvents(3)
	for _, ev := range events {
		if err := b.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if got := clk.PendingTimers(); got != 1 {
		t.Errorf("pending timers = %d, want 1", got)
	}
}

func TestOrderWithinBatchIsEnqueueOrder(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	transport := &mockTransport{}
	b := NewBatcher(transport, clk, Config{BatchSize: 5, BatchDelay: 3 * time.Second})

	events := makeEvents(5)
	for _, ev := range events {
		if err := b.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	b.Wait()

	if got := transport.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
	for i, ev := range transport.batches[0] {
		if ev.ID != events[i].ID {
			t.Fatalf("batch[%d] = %s, want %s", i, ev.ID, events[i].ID)
		}
	}
}

func TestFallbackOnBatchFailure(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	transport := &mockTransport{
		batchErr:   errors.New("batch endpoint down"),
		singleErrs: map[string]error{"event-1": errors.New("single rejected")},
	}
	b := NewBatcher(transport, clk, Config{BatchSize: 10, BatchDelay: 3 * time.Second})

	for _, ev := range makeEvents(3) {
		if err := b.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	b.ForceFlush()

	// All 3 events were attempted individually; the one injected failure
	// did not abort the others.
	if got := transport.singleCount(); got != 2 {
		t.Fatalf("fallback deliveries = %d, want 2", got)
	}

	stats := b.Stats()
	if stats.BatchFailures != 1 {
		t.Errorf("BatchFailures = %d, want 1", stats.BatchFailures)
	}
	if stats.FallbackDelivered != 2 {
		t.Errorf("FallbackDelivered = %d, want 2", stats.FallbackDelivered)
	}
	if stats.FallbackFailed != 1 {
		t.Errorf("FallbackFailed = %d, want 1", stats.FallbackFailed)
	}
	if stats.LastError == "" {
		t.Error("LastError empty after failures")
	}
}

func TestForceFlushOnUnload(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	transport := &mockTransport{}
	b := NewBatcher(transport, clk, Config{BatchSize: 10, BatchDelay: 3 * time.Second})

	for _, ev := range makeEvents(2) {
		if err := b.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	b.ForceFlush()

	if got := transport.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
	if got := len(transport.batches[0]); got != 2 {
		t.Errorf("batch size = %d, want 2", got)
	}
	if got := clk.PendingTimers(); got != 0 {
		t.Errorf("pending timers after force flush = %d, want 0", got)
	}

	// Close rejects further enqueues.
	b.Close()
	if err := b.Enqueue(makeEvents(1)[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
}

func TestEnqueueDuringFlushPopulatesFreshBatch(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	transport := &mockTransport{blockBatch: make(chan struct{})}
	b := NewBatcher(transport, clk, Config{BatchSize: 3, BatchDelay: 3 * time.Second})

	events := makeEvents(4)
	for _, ev := range events[:3] {
		if err := b.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	// The size-triggered flush is now blocked inside SendBatch; a
	// concurrent enqueue must land in a fresh queue, not the in-flight
	// batch.
	if err := b.Enqueue(events[3]); err != nil {
		t.Fatalf("Enqueue during flush: %v", err)
	}
	if got := b.QueueLen(); got != 1 {
		t.Errorf("queue length during in-flight flush = %d, want 1", got)
	}

	close(transport.blockBatch)
	b.Wait()
	b.ForceFlush()

	if got := transport.batchCount(); got != 2 {
		t.Fatalf("batches = %d, want 2", got)
	}
	if len(transport.batches[0]) != 3 || len(transport.batches[1]) != 1 {
		t.Errorf("batch sizes = %d,%d want 3,1",
			len(transport.batches[0]), len(transport.batches[1]))
	}
	if transport.batches[1][0].ID != events[3].ID {
		t.Errorf("second batch carries %s, want %s", transport.batches[1][0].ID, events[3].ID)
	}
}

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	transport := &mockTransport{}
	b := NewBatcher(transport, clk, Config{BatchSize: 10, BatchDelay: 3 * time.Second})

	b.ForceFlush()
	if got := transport.batchCount(); got != 0 {
		t.Errorf("empty flush sent %d batches", got)
	}
}
