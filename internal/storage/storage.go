// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package storage defines the persistent key-value medium the tracker
// writes its view ledger and identity cache to, with a BadgerDB-backed
// implementation for durable storage and an in-memory implementation for
// session-scoped values and tests.
package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned when a key does not exist in the store.
var ErrKeyNotFound = errors.New("storage: key not found")

// KeyValueStore is the capability interface the tracker uses for
// persistence. Implementations must be safe for concurrent use.
type KeyValueStore interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases store resources.
	Close() error
}
