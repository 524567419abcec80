// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package transport implements the HTTP client for the engagement
// backend: the batched and per-event telemetry endpoints and the
// content/reaction endpoints.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/viewmark/internal/config"
	"github.com/tomtom215/viewmark/internal/reaction"
	"github.com/tomtom215/viewmark/internal/telemetry"
)

// Client talks to the engagement backend over HTTP. It satisfies both
// telemetry.Transport and reaction.Client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	clock   func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock replaces the wall clock used for batch envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.clock = now }
}

// NewClient builds a Client from API configuration.
func NewClient(cfg config.APIConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// requestConfig holds configuration for building HTTP requests
type requestConfig struct {
	method string
	path   string
	query  url.Values
	body   interface{}
}

// doRequest executes a backend API request and decodes the response into
// result when a result pointer is provided. Any non-2xx status is an
// error.
func (c *Client) doRequest(ctx context.Context, cfg requestConfig, result interface{}) error {
	reqURL := fmt.Sprintf("%s%s", c.baseURL, cfg.path)

	var reqBody io.Reader = http.NoBody
	if cfg.body != nil {
		encoded, err := json.Marshal(cfg.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if cfg.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if len(cfg.query) > 0 {
		req.URL.RawQuery = cfg.query.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", cfg.method, cfg.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: unexpected status: %d %s", cfg.method, cfg.path, resp.StatusCode, resp.Status)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// batchEnvelope is the body of the batched telemetry endpoint.
type batchEnvelope struct {
	Logs      []telemetry.Event `json:"logs"`
	Timestamp time.Time         `json:"timestamp"`
	BatchSize int               `json:"batchSize"`
}

// SendBatch delivers a whole batch in one request.
func (c *Client) SendBatch(ctx context.Context, events []telemetry.Event) error {
	return c.doRequest(ctx, requestConfig{
		method: http.MethodPost,
		path:   "/logs/batch",
		body: batchEnvelope{
			Logs:      events,
			Timestamp: c.clock(),
			BatchSize: len(events),
		},
	}, nil)
}

// SendEvent delivers a single event, the fallback when the batched
// endpoint rejects.
func (c *Client) SendEvent(ctx context.Context, event telemetry.Event) error {
	return c.doRequest(ctx, requestConfig{
		method: http.MethodPost,
		path:   "/logs",
		body:   event,
	}, nil)
}

// toggleRequest is the body of the reaction toggle endpoint.
type toggleRequest struct {
	Kind reaction.Kind `json:"kind"`
}

// ToggleReaction toggles a reaction on a content item and returns the
// authoritative aggregate counts.
func (c *Client) ToggleReaction(ctx context.Context, contentID int64, kind reaction.Kind) (reaction.Counts, error) {
	var counts reaction.Counts
	err := c.doRequest(ctx, requestConfig{
		method: http.MethodPost,
		path:   fmt.Sprintf("/content/%d/reaction", contentID),
		body:   toggleRequest{Kind: kind},
	}, &counts)
	if err != nil {
		return reaction.Counts{}, err
	}
	return counts, nil
}

// FetchContent loads a content item. countView=false asks the server
// not to increment its view counter for this fetch, used when the fetch
// is a resync rather than a user navigation.
func (c *Client) FetchContent(ctx context.Context, contentID int64, countView bool) (reaction.Content, error) {
	query := url.Values{}
	query.Set("countView", strconv.FormatBool(countView))

	var content reaction.Content
	err := c.doRequest(ctx, requestConfig{
		method: http.MethodGet,
		path:   fmt.Sprintf("/content/%d", contentID),
		query:  query,
	}, &content)
	if err != nil {
		return reaction.Content{}, err
	}
	return content, nil
}
