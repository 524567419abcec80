// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package session derives the per-browsing-context session identifier.
//
// The identifier distinguishes one session from another inside the same
// durable ledger: a view record only dedups against records carrying the
// same session id. It lives in a session-scoped store whose lifetime
// matches the context, not the long-lived ledger medium.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"

	"github.com/tomtom215/viewmark/internal/clock"
	"github.com/tomtom215/viewmark/internal/storage"
)

// Key is where the session identifier is persisted in the
// session-scoped store.
const Key = "viewmark:session_id"

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// randomSuffixLen is the number of base36 characters in the random part.
const randomSuffixLen = 9

// Identity memoizes the session identifier for the lifetime of the
// process. The first Get generates and persists it; every later call
// returns the same value.
type Identity struct {
	store storage.KeyValueStore
	clk   clock.Clock

	mu sync.Mutex
	id string
}

// NewIdentity creates an Identity backed by the given session-scoped store.
func NewIdentity(store storage.KeyValueStore, clk clock.Clock) *Identity {
	return &Identity{store: store, clk: clk}
}

// Get returns the session identifier, generating and persisting it on
// first use. Storage failures degrade to a memoized in-process id rather
// than failing the caller — a session id that does not survive the store
// still keeps dedup consistent within this process.
func (i *Identity) Get(ctx context.Context) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id
	}

	if value, err := i.store.Get(ctx, Key); err == nil && len(value) > 0 {
		i.id = string(value)
		return i.id
	}

	i.id = generate(i.clk)
	// Memoization still holds on failure; the id just won't outlive the
	// process.
	_ = i.store.Set(ctx, Key, []byte(i.id))
	return i.id
}

// generate builds "session_<millis>_<base36 x 9>".
func generate(clk clock.Clock) string {
	millis := clk.Now().UnixMilli()
	return fmt.Sprintf("session_%s_%s", strconv.FormatInt(millis, 10), randomBase36(randomSuffixLen))
}

// randomBase36 returns n random base36 characters.
func randomBase36(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)

	out := make([]byte, n)
	for i, b := range buf {
		out[i] = base36Chars[int(b)%len(base36Chars)]
	}
	return string(out)
}
