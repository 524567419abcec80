// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package telemetry

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/viewmark/internal/logging"
	"github.com/tomtom215/viewmark/internal/metrics"
)

// BreakerTransport wraps a Transport with a circuit breaker on the
// batched endpoint. When the batch endpoint keeps failing, the breaker
// opens and flushes fail fast into the per-event fallback path instead of
// waiting out another doomed request.
//
// SendEvent is deliberately not wrapped: the fallback path is already
// best-effort and rate limited, and it is the only delivery route left
// while the breaker is open.
type BreakerTransport struct {
	inner Transport
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerTransport wraps inner with a circuit breaker.
// The breaker opens after a 60% failure rate over at least 5 requests,
// and probes again after 30 seconds.
func NewBreakerTransport(inner Transport) *BreakerTransport {
	const name = "telemetry-batch"

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("telemetry circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &BreakerTransport{inner: inner, cb: cb}
}

// SendBatch delivers a batch through the circuit breaker.
func (t *BreakerTransport) SendBatch(ctx context.Context, events []Event) error {
	_, err := t.cb.Execute(func() (any, error) {
		return nil, t.inner.SendBatch(ctx, events)
	})
	return err
}

// SendEvent passes through to the wrapped transport.
func (t *BreakerTransport) SendEvent(ctx context.Context, event Event) error {
	return t.inner.SendEvent(ctx, event)
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
