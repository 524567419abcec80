// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package ledger implements the view-deduplication ledger: a durable,
// TTL-bounded record of which content items a session has already counted
// as viewed, plus the cached resolution of the authenticated actor id.
package ledger

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Storage keys owned by the ledger.
const (
	// RecordsKey holds the JSON array of view records.
	RecordsKey = "viewmark:view_records"

	// IdentityKey holds the authenticated-identity blob written by the
	// host application. The ledger only reads it, defensively.
	IdentityKey = "viewmark:identity"
)

// ViewRecord states that a session observed a content item at a time.
// Records are never mutated; they are filtered out once older than the
// record TTL.
type ViewRecord struct {
	ContentID int64     `json:"content_id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

// decodeRecords parses the stored record list.
//
// The parse error is returned rather than swallowed here so the caller's
// "corruption means empty state" policy is an explicit mapping at the call
// site, not an invisible catch-all.
func decodeRecords(data []byte) ([]ViewRecord, error) {
	var records []ViewRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode view records: %w", err)
	}
	return records, nil
}

// encodeRecords serializes the record list for storage.
func encodeRecords(records []ViewRecord) ([]byte, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode view records: %w", err)
	}
	return data, nil
}

// identityBlob is the defensively-parsed shape of the identity value.
// Both flat and nested layouts are accepted; anything else resolves to 0.
type identityBlob struct {
	ID   int64 `json:"id"`
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

// decodeActorID extracts the actor id from an identity blob.
// Malformed or missing data yields 0, never an error.
func decodeActorID(data []byte) int64 {
	var blob identityBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return 0
	}
	if blob.User.ID != 0 {
		return blob.User.ID
	}
	return blob.ID
}
