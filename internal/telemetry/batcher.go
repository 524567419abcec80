// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/viewmark/internal/clock"
	"github.com/tomtom215/viewmark/internal/logging"
	"github.com/tomtom215/viewmark/internal/metrics"
)

// fallbackConcurrency bounds how many per-event fallback requests run at
// once after a failed batch.
const fallbackConcurrency = 4

// Stats holds runtime counters for monitoring and tests.
type Stats struct {
	EventsReceived    int64  // Events accepted by Enqueue
	EventsDelivered   int64  // Events delivered via a successful batch
	BatchFailures     int64  // Batched requests that failed
	FallbackDelivered int64  // Events delivered via per-event fallback
	FallbackFailed    int64  // Events lost after fallback also failed
	LastError         string // Last delivery error message
}

// Config tunes the batcher.
type Config struct {
	// BatchSize triggers an immediate flush when the queue reaches it.
	BatchSize int

	// BatchDelay is the debounce window before a partial batch flushes.
	BatchDelay time.Duration

	// FallbackRate paces per-event fallback requests, so a failed batch
	// of N does not burst N requests at an already struggling backend.
	// Zero means 10 requests/second.
	FallbackRate rate.Limit
}

// Batcher accumulates events and flushes them either when the size
// threshold is reached or after the debounce delay, whichever comes
// first.
//
// The queue is the only shared mutable state with a race risk; it is
// protected by the swap-then-send pattern: a flush atomically exchanges
// the queue for an empty one, so enqueues arriving during an in-flight
// flush populate a fresh batch instead of racing on the same slice.
// Sends themselves are serialized so batches leave in swap order.
type Batcher struct {
	transport Transport
	clk       clock.Clock
	cfg       Config
	limiter   *rate.Limiter

	mu     sync.Mutex
	queue  []Event
	timer  clock.Timer
	closed bool

	// sendMu serializes sends; without it a timer-based flush and a
	// size-triggered flush could interleave their network calls.
	sendMu sync.Mutex
	wg     sync.WaitGroup

	received          atomic.Int64
	delivered         atomic.Int64
	batchFailures     atomic.Int64
	fallbackDelivered atomic.Int64
	fallbackFailed    atomic.Int64
	lastError         atomic.Value // string
}

// ErrClosed is returned by Enqueue after the batcher has shut down.
var ErrClosed = fmt.Errorf("telemetry: batcher is closed")

// NewBatcher creates a Batcher delivering through the given transport.
func NewBatcher(transport Transport, clk clock.Clock, cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 3 * time.Second
	}
	if cfg.FallbackRate <= 0 {
		cfg.FallbackRate = 10
	}

	b := &Batcher{
		transport: transport,
		clk:       clk,
		cfg:       cfg,
		limiter:   rate.NewLimiter(cfg.FallbackRate, cfg.BatchSize),
		queue:     make([]Event, 0, cfg.BatchSize),
	}
	b.lastError.Store("")
	return b
}

// Enqueue appends an event to the in-memory queue.
//
// Reaching the batch size cancels any pending delay timer and flushes
// immediately (asynchronously, so the caller's action is never blocked
// by the network). Otherwise a delay timer is started if none is
// pending.
func (b *Batcher) Enqueue(event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	b.queue = append(b.queue, event)
	b.received.Add(1)
	metrics.TelemetryEventsEnqueued.Inc()

	if len(b.queue) >= b.cfg.BatchSize {
		batch := b.detachLocked()
		b.mu.Unlock()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.send(batch)
		}()
		return nil
	}

	if b.timer == nil {
		b.timer = b.clk.AfterFunc(b.cfg.BatchDelay, b.flushFromTimer)
	}
	b.mu.Unlock()
	return nil
}

// Flush swaps the queue out and sends it as one batch, synchronously.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.detachLocked()
	b.mu.Unlock()

	b.send(batch)
}

// ForceFlush cancels any pending timer and flushes regardless of queue
// size. The lifecycle hooks call this before the context disappears, so
// the send runs on the caller's goroutine.
func (b *Batcher) ForceFlush() {
	b.Flush()
}

// Close flushes remaining events, waits for in-flight sends, and rejects
// further enqueues. Idempotent.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.detachLocked()
	b.mu.Unlock()

	b.send(batch)
	b.wg.Wait()
}

// Stats returns a snapshot of the delivery counters.
func (b *Batcher) Stats() Stats {
	return Stats{
		EventsReceived:    b.received.Load(),
		EventsDelivered:   b.delivered.Load(),
		BatchFailures:     b.batchFailures.Load(),
		FallbackDelivered: b.fallbackDelivered.Load(),
		FallbackFailed:    b.fallbackFailed.Load(),
		LastError:         b.lastError.Load().(string),
	}
}

// QueueLen returns the current queue length. Test helper.
func (b *Batcher) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// detachLocked swaps the queue for an empty one and cancels the pending
// timer. Must be called with mu held.
func (b *Batcher) detachLocked() []Event {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.queue
	b.queue = make([]Event, 0, b.cfg.BatchSize)
	return batch
}

// flushFromTimer is the delay-timer callback.
func (b *Batcher) flushFromTimer() {
	b.mu.Lock()
	// The timer that fired is spent; forget it so the next enqueue can
	// arm a fresh one.
	b.timer = nil
	batch := b.queue
	b.queue = make([]Event, 0, b.cfg.BatchSize)
	b.mu.Unlock()

	b.send(batch)
}

// send delivers one batch: a single batched request, then per-event
// fallback if the batch is rejected. All failures are absorbed here.
func (b *Batcher) send(batch []Event) {
	if len(batch) == 0 {
		return
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	ctx := context.Background()

	err := b.transport.SendBatch(ctx, batch)
	metrics.RecordBatch(len(batch), err)
	if err == nil {
		b.delivered.Add(int64(len(batch)))
		logging.Debug().Int("events", len(batch)).Msg("telemetry batch delivered")
		return
	}

	b.batchFailures.Add(1)
	b.lastError.Store(err.Error())
	logging.Debug().Err(err).Int("events", len(batch)).Msg("telemetry batch rejected, falling back per event")

	b.sendFallback(ctx, batch)
}

// sendFallback delivers each event of a failed batch individually, as a
// bounded concurrent group with independent outcomes. Individual
// failures are logged and swallowed — telemetry loss is acceptable.
func (b *Batcher) sendFallback(ctx context.Context, batch []Event) {
	sem := make(chan struct{}, fallbackConcurrency)
	var wg sync.WaitGroup

	for _, event := range batch {
		if err := b.limiter.Wait(ctx); err != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(ev Event) {
			defer wg.Done()
			defer func() { <-sem }()

			err := b.transport.SendEvent(ctx, ev)
			metrics.RecordFallback(err)
			if err != nil {
				b.fallbackFailed.Add(1)
				b.lastError.Store(err.Error())
				logging.Debug().Err(err).Str("event_id", ev.ID).Msg("telemetry fallback delivery failed")
				return
			}
			b.fallbackDelivered.Add(1)
		}(event)
	}

	wg.Wait()
}

// Wait blocks until all asynchronous sends have completed. Test helper;
// Close calls it implicitly.
func (b *Batcher) Wait() {
	b.wg.Wait()
}
