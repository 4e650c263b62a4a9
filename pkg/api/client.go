// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api is the HTTP client for the chat backend's request/response
// surface: credentials, chat sessions, reference documents and health.
//
// All calls go to {baseURL}/api/v1 and carry the bearer credential when one
// is set. Responses wrapped in the backend's {"success": true, "data": ...}
// envelope are unwrapped transparently; failures decode into *APIError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds one request, uploads included.
	DefaultTimeout = 2 * time.Minute

	apiPrefix = "/api/v1"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 16 << 20

	instrumentationName = "github.com/AleutianAI/ragchat/pkg/api"
)

// HTTPClient allows injecting a custom or mock transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the backend HTTP API.
//
// # Thread Safety
//
// Safe for concurrent use. WithToken returns a copy.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPClient
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBearer sets the credential sent on every call.
func WithBearer(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// New creates a Client for the backend at baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api: base url %q has no host", baseURL)
	}

	c := &Client{
		baseURL:    base + apiPrefix,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")

	duration, err := otel.Meter(instrumentationName).Float64Histogram(
		"ragchat_api_request_duration_seconds",
		metric.WithDescription("Duration of backend API calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		c.logger.Debug("api duration histogram unavailable", "error", err)
	}
	c.duration = duration
	return c, nil
}

// WithToken returns a copy of the client that sends token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// HasToken reports whether a credential is set.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// BaseURL returns the API root, {base}/api/v1.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Request plumbing
// =============================================================================

type requestSpec struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	auth        bool
}

// do runs one call and decodes a successful body into out (if non-nil).
func (c *Client) do(ctx context.Context, rs requestSpec, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "api."+rs.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", rs.method),
			attribute.String("url.path", apiPrefix+rs.path),
		),
	)
	start := time.Now()
	status := 0
	defer func() {
		elapsed := time.Since(start)
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if c.duration != nil {
			c.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("op", rs.op),
				attribute.Bool("success", err == nil),
			))
		}
		c.logger.Debug("api call", "op", rs.op, "status", status, "duration_ms", elapsed.Milliseconds(), "error", err)
	}()

	if rs.auth && c.token == "" {
		return fmt.Errorf("%s: %w", rs.op, ErrNoCredential)
	}

	req, err := http.NewRequestWithContext(ctx, rs.method, c.baseURL+rs.path, rs.body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", rs.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if rs.contentType != "" {
		req.Header.Set("Content-Type", rs.contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", rs.op, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", rs.op, err)
	}
	isJSON := isJSONContent(resp.Header.Get("Content-Type"))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, http.StatusText(resp.StatusCode), body, isJSON)
	}
	if out == nil {
		return nil
	}
	if !isJSON {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("non-JSON response: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}
	if err := decodeSuccess(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", rs.op, err)
	}
	return nil
}

// ErrNoCredential is returned by authenticated calls on a client without a token.
var ErrNoCredential = errors.New("no credential; log in first")

func isJSONContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// decodeSuccess unwraps {"success": true, "data": ...} when present.
func decodeSuccess(body []byte, out any) error {
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Success != nil && *env.Success && len(env.Data) > 0 && string(env.Data) != "null" {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(body, out)
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
