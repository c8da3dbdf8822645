// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package apiclient is the single request pipeline to the Backend Gateway.
//
// Every request gets the current bearer token from the credential store,
// passes through a circuit breaker and an optional rate limiter, and returns
// either the decoded payload or a classified error:
//
//   - *ServerError: the gateway responded with an error status
//   - *TransportError: no response was received
//
// The client never retries. The query cache and the push listener own their
// retry policies.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/metrics"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 10 << 20

// TokenSource supplies the bearer token per request. An empty token means
// the request is sent without an Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// response is what passes through the circuit breaker.
type response struct {
	status int
	body   []byte
}

// Client is the configured gateway client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	breaker *gobreaker.CircuitBreaker[*response]
	limiter *rate.Limiter
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, cfg config.HTTPConfig, tokens TokenSource) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		breaker: newBreaker(cfg),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return c
}

// BaseURL returns the gateway base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET and decodes the payload into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	start := time.Now()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.fail(ctx, start, &TransportError{Method: method, Path: path, Err: err})
		}
	}

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(ctx, method, path, token, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &TransportError{Method: method, Path: path, Err: fmt.Errorf("%w: %w", ErrCircuitOpen, err)}
		}
		return c.fail(ctx, start, err)
	}

	metrics.RecordHTTPRequest(method, resp.status, time.Since(start))
	logging.Ctx(ctx).Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.status).
		Dur("duration", time.Since(start)).
		Msg("Gateway request completed")

	return decodeBody(resp.body, out)
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, payload []byte) (*response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ServerError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(data),
			Body:    string(data),
		}
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// fail records and logs a failed request and returns err unchanged.
func (c *Client) fail(ctx context.Context, start time.Time, err error) error {
	elapsed := time.Since(start)

	var se *ServerError
	if errors.As(err, &se) {
		metrics.RecordHTTPRequest(se.Method, se.Status, elapsed)
		logging.Ctx(ctx).Warn().
			Str("method", se.Method).
			Str("path", se.Path).
			Int("status", se.Status).
			Str("body", truncate(se.Body, 512)).
			Dur("duration", elapsed).
			Msg("Gateway responded with error status")
		return err
	}

	var te *TransportError
	if errors.As(err, &te) {
		metrics.RecordHTTPRequest(te.Method, 0, elapsed)
		logging.Ctx(ctx).Error().
			Err(te.Err).
			Str("method", te.Method).
			Str("path", te.Path).
			Dur("duration", elapsed).
			Msg("Gateway request failed without response")
		return err
	}

	logging.Ctx(ctx).Error().Err(err).Msg("Gateway request failed")
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
