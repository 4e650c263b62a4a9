// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport turns a persistent bidirectional channel into a
// sequence of tagged events.
//
// # Description
//
// A Dialer opens a channel and delivers everything that happens on it to a
// single sink function, in order:
//
//	Open, Message*, Close          (successful connection)
//	Error, Close                   (failed dial)
//
// Exactly one Close is delivered per Dial. Consumers never see socket
// callbacks, which keeps the session state machine transport-agnostic and
// testable with synthetic event sequences.
//
// # Thread Safety
//
// The sink is called from a goroutine owned by the connection, never
// concurrently with itself. Conn methods are safe for concurrent use.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// =============================================================================
// Events
// =============================================================================

// EventKind tags a transport event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one thing that happened on a channel.
//
// Data is set for EventMessage. Code and Reason are set for EventClose.
// Err is set for EventError and, when known, for EventClose.
type Event struct {
	Kind   EventKind
	Data   []byte
	Code   int
	Reason string
	Err    error
}

// Close codes used by the backend and the client (RFC 6455 section 7.4).
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseNoStatus        = 1005
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// IsAbnormal reports whether a close code indicates a failure rather than
// an orderly shutdown. It only selects log severity.
func IsAbnormal(code int) bool {
	switch code {
	case CloseNormal, CloseGoingAway, CloseNoStatus:
		return false
	default:
		return true
	}
}

// =============================================================================
// Interfaces
// =============================================================================

// Conn is an open (or opening) channel.
type Conn interface {
	// Send writes one text frame. Fails if the channel is not open.
	Send(data []byte) error

	// Close starts an orderly shutdown. Idempotent.
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	// Dial starts connecting to target and returns immediately. Progress is
	// reported to sink. An error return means nothing was started and sink
	// will never be called.
	Dial(ctx context.Context, target string, sink func(Event)) (Conn, error)
}

// ErrNotOpen is returned by Send before the channel is open.
var ErrNotOpen = errors.New("transport: channel not open")

// ErrConnClosed is returned by Send after Close.
var ErrConnClosed = errors.New("transport: channel closed")

// =============================================================================
// Addressing
// =============================================================================

// ChatURL builds the chat channel address for a session.
//
// The HTTP base scheme selects the channel scheme: http maps to ws and
// https to wss. ws and wss bases are accepted unchanged.
//
// # Examples
//
//	ChatURL("http://localhost:8000", "abc", "t0k")
//	// ws://localhost:8000/api/v1/ws/chat/abc?token=t0k
func ChatURL(baseURL, sessionID, credential string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("chat url: empty session id")
	}

	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", fmt.Errorf("chat url: parse base %q: %w", baseURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("chat url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("chat url: base %q has no host", baseURL)
	}

	prefix := strings.TrimRight(u.Path, "/")
	rawPrefix := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = prefix + "/api/v1/ws/chat/" + sessionID
	u.RawPath = rawPrefix + "/api/v1/ws/chat/" + url.PathEscape(sessionID)
	u.RawQuery = url.Values{"token": {credential}}.Encode()
	u.Fragment = ""

	return u.String(), nil
}
