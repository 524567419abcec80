// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/viewmark/internal/cache"
	"github.com/tomtom215/viewmark/internal/clock"
	"github.com/tomtom215/viewmark/internal/logging"
	"github.com/tomtom215/viewmark/internal/metrics"
	"github.com/tomtom215/viewmark/internal/session"
	"github.com/tomtom215/viewmark/internal/storage"
)

// Cache keys inside the in-process mirror.
const (
	recordsCacheKey = "records"
	actorCacheKey   = "actor"
)

// Options tunes the store's freshness policies.
type Options struct {
	// RecordTTL is how long a view record stays valid. Default 30m.
	RecordTTL time.Duration

	// RecordCacheTTL bounds the in-process record mirror. Default 5m.
	RecordCacheTTL time.Duration

	// ActorCacheTTL bounds the cached actor id. Default 60s.
	ActorCacheTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.RecordTTL <= 0 {
		o.RecordTTL = 30 * time.Minute
	}
	if o.RecordCacheTTL <= 0 {
		o.RecordCacheTTL = 5 * time.Minute
	}
	if o.ActorCacheTTL <= 0 {
		o.ActorCacheTTL = 60 * time.Second
	}
}

// Store wraps the durable key-value medium with the ledger's freshness
// policies: record TTL filtering on load, and an in-process cache so
// storage is not re-read and re-parsed on every call.
//
// Storage corruption is treated as empty state — the ledger favors
// availability over correctness, since losing view records only means a
// view may be counted once more.
type Store struct {
	kv       storage.KeyValueStore
	identity *session.Identity
	clk      clock.Clock
	opts     Options
	mirror   *cache.Cache
}

// NewStore creates a ledger store over the given durable medium.
func NewStore(kv storage.KeyValueStore, identity *session.Identity, clk clock.Clock, opts Options) *Store {
	opts.applyDefaults()
	return &Store{
		kv:       kv,
		identity: identity,
		clk:      clk,
		opts:     opts,
		// Per-entry TTLs are set explicitly; the default here is the
		// record mirror's.
		mirror: cache.New(opts.RecordCacheTTL, clk),
	}
}

// LoadViewRecords returns the current, non-expired view records.
//
// A cache hit short-circuits the storage read entirely. On a miss the
// full list is read and parsed, expired records are filtered out, and if
// filtering removed anything the trimmed list is persisted back
// immediately so storage does not accumulate dead records.
func (s *Store) LoadViewRecords(ctx context.Context) []ViewRecord {
	if cached, ok := s.mirror.Get(recordsCacheKey); ok {
		metrics.RecordCacheLookup(recordsCacheKey, true)
		return copyRecords(cached.([]ViewRecord))
	}
	metrics.RecordCacheLookup(recordsCacheKey, false)

	records := s.readRecords(ctx)

	now := s.clk.Now()
	fresh := records[:0:0]
	for _, r := range records {
		if now.Sub(r.Timestamp) <= s.opts.RecordTTL {
			fresh = append(fresh, r)
		}
	}

	if expired := len(records) - len(fresh); expired > 0 {
		metrics.ViewRecordsExpired.Add(float64(expired))
		if err := s.writeRecords(ctx, fresh); err != nil {
			logging.Warn().Err(err).Int("expired", expired).Msg("persisting TTL-filtered view records failed")
		}
	}

	s.mirror.SetWithTTL(recordsCacheKey, fresh, s.opts.RecordCacheTTL)
	return copyRecords(fresh)
}

// AppendViewRecord records that the current session observed contentID now.
//
// The write path is deliberately unconditional — it never dedups. The
// dedup guarantee is enforced once, by callers gating on the Ledger's
// HasViewed, which keeps replay and backfill simple.
func (s *Store) AppendViewRecord(ctx context.Context, contentID int64) {
	records := s.LoadViewRecords(ctx)
	records = append(records, ViewRecord{
		ContentID: contentID,
		Timestamp: s.clk.Now(),
		SessionID: s.identity.Get(ctx),
	})

	if err := s.writeRecords(ctx, records); err != nil {
		// Absorbed: the refreshed cache still dedups within this process.
		logging.Warn().Err(err).Int64("content_id", contentID).Msg("persisting view record failed")
	}

	s.mirror.SetWithTTL(recordsCacheKey, records, s.opts.RecordCacheTTL)
	metrics.ViewRecordsWritten.Inc()
}

// ResolveActorID returns the authenticated actor id, or 0 when no usable
// identity blob is stored. The result is cached briefly to avoid
// re-reading storage on every telemetry event.
func (s *Store) ResolveActorID(ctx context.Context) int64 {
	if cached, ok := s.mirror.Get(actorCacheKey); ok {
		metrics.RecordCacheLookup(actorCacheKey, true)
		return cached.(int64)
	}
	metrics.RecordCacheLookup(actorCacheKey, false)

	var actorID int64
	data, err := s.kv.Get(ctx, IdentityKey)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		actorID = 0
	case err != nil:
		logging.Debug().Err(err).Msg("reading identity blob failed")
		actorID = 0
	default:
		actorID = decodeActorID(data)
	}

	s.mirror.SetWithTTL(actorCacheKey, actorID, s.opts.ActorCacheTTL)
	return actorID
}

// Clear deletes the durable record collection and invalidates the caches.
// Diagnostic reset only.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, RecordsKey); err != nil {
		return fmt.Errorf("clear view records: %w", err)
	}
	s.mirror.Clear()
	return nil
}

// DropCaches empties the in-process mirror without touching storage.
// The lifecycle hooks call this when the context is hidden so a later
// reactivation rebuilds from durable state.
func (s *Store) DropCaches() {
	s.mirror.Clear()
}

// readRecords loads and parses the stored list, mapping every failure
// mode (missing key, read error, corrupt JSON) to empty state.
func (s *Store) readRecords(ctx context.Context) []ViewRecord {
	data, err := s.kv.Get(ctx, RecordsKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		logging.Debug().Err(err).Msg("reading view records failed, treating as empty")
		return nil
	}

	records, err := decodeRecords(data)
	if err != nil {
		// Corruption is non-fatal: the ledger trades correctness for
		// availability here, at worst a view is counted once more.
		logging.Debug().Err(err).Msg("corrupt view records, treating as empty")
		return nil
	}
	return records
}

func (s *Store) writeRecords(ctx context.Context, records []ViewRecord) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, RecordsKey, data)
}

func copyRecords(records []ViewRecord) []ViewRecord {
	out := make([]ViewRecord, len(records))
	copy(out, records)
	return out
}
