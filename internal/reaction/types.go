// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package reaction keeps a locally-rendered like/dislike state consistent
// with the eventually-confirmed server value: an optimistic local
// transition first, then reconciliation against the authoritative
// response, with a full content refetch on failure.
package reaction

import (
	"context"
	"errors"
)

// Kind is a reaction variant.
type Kind string

// Reaction kinds. None is the absence of a reaction, not a togglable kind.
const (
	None    Kind = ""
	Like    Kind = "LIKE"
	Dislike Kind = "DISLIKE"
)

// ErrAuthRequired is returned when a toggle is attempted without an
// authenticated actor. Surfaced to the UI as a "login required"
// condition; no network call is made.
var ErrAuthRequired = errors.New("reaction: authentication required")

// Counts is the aggregate reaction tally reported by the server.
// The server does not report the caller's own reaction state here.
type Counts struct {
	LikeCount    int64 `json:"likeCount"`
	DislikeCount int64 `json:"dislikeCount"`
}

// Content is the authoritative content item, refetched to resync after a
// failed toggle. MyReaction is present only when the backend resolves the
// caller's own state on a full fetch.
type Content struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	LikeCount    int64  `json:"likeCount"`
	DislikeCount int64  `json:"dislikeCount"`
	MyReaction   Kind   `json:"myReaction,omitempty"`
}

// State is the per-content reaction state the UI renders.
// MyReaction holds at most one of Like or Dislike; counts never go
// negative.
type State struct {
	LikeCount    int64
	DislikeCount int64
	MyReaction   Kind
}

// Client is the network surface the reconciler needs.
type Client interface {
	// ToggleReaction toggles kind on the content item and returns the
	// authoritative aggregate counts.
	ToggleReaction(ctx context.Context, contentID int64, kind Kind) (Counts, error)

	// FetchContent loads the content item. countView=false asks the
	// server not to increment its view counter for this fetch.
	FetchContent(ctx context.Context, contentID int64, countView bool) (Content, error)
}
