// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package storage

import (
	"context"
	"errors"
	"testing"
)

// storeFactory builds a fresh store for each conformance run.
type storeFactory func(t *testing.T) KeyValueStore

func TestKeyValueStoreConformance(t *testing.T) {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T) KeyValueStore {
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) KeyValueStore {
			store, err := OpenBadger(t.TempDir())
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			runStoreConformance(t, factory(t))
		})
	}
}

func runStoreConformance(t *testing.T, store KeyValueStore) {
	ctx := context.Background()

	// Missing key
	if _, err := store.Get(ctx, "absent"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(absent) error = %v, want ErrKeyNotFound", err)
	}

	// Set then Get
	if err := store.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want %q", got, "v1")
	}

	// Overwrite
	if err := store.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Get after overwrite = %q, want %q", got, "v2")
	}

	// Delete is idempotent
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after delete error = %v, want ErrKeyNotFound", err)
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	if err := store.Set(ctx, "ledger", []byte("records")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "ledger")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "records" {
		t.Errorf("Get after reopen = %q, want %q", got, "records")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	original := []byte("abc")
	if err := store.Set(ctx, "k", original); err != nil {
		t.Fatalf("Set: %v", err)
	}
	original[0] = 'z'

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("stored value mutated through caller slice: %q", got)
	}

	got[0] = 'z'
	again, _ := store.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}
