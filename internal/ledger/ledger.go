// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package ledger

import (
	"context"

	"github.com/tomtom215/viewmark/internal/session"
)

// Ledger answers "has this session already counted this content item?"
//
// HasViewed is a pure query and MarkViewed an unconditional write; the
// increment decision belongs to the caller so the query carries no hidden
// side effect. Callers must gate MarkViewed on HasViewed returning false.
type Ledger struct {
	store    *Store
	identity *session.Identity
}

// NewLedger creates a dedup ledger over the given store.
func NewLedger(store *Store, identity *session.Identity) *Ledger {
	return &Ledger{store: store, identity: identity}
}

// HasViewed reports whether some non-expired record matches both the
// content id and the current session id. Does not mutate state.
func (l *Ledger) HasViewed(ctx context.Context, contentID int64) bool {
	sessionID := l.identity.Get(ctx)
	for _, r := range l.store.LoadViewRecords(ctx) {
		if r.ContentID == contentID && r.SessionID == sessionID {
			return true
		}
	}
	return false
}

// MarkViewed appends a view record for the current session.
// It does not self-dedup; see the type comment.
func (l *Ledger) MarkViewed(ctx context.Context, contentID int64) {
	l.store.AppendViewRecord(ctx, contentID)
}
