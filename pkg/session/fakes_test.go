// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ragchat/pkg/transport"
)

// =============================================================================
// Fake Dialer
// =============================================================================

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	failErr error
}

func (d *fakeDialer) Dial(_ context.Context, target string, sink func(transport.Event)) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failErr != nil {
		return nil, d.failErr
	}
	conn := &fakeConn{target: target, sink: sink}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.conns, "no dial recorded")
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	target string
	sink   func(transport.Event)

	mu      sync.Mutex
	sent    [][]byte
	closes  int
	sendErr error
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = string(b)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) open() {
	c.sink(transport.Event{Kind: transport.EventOpen})
}

func (c *fakeConn) frame(raw string) {
	c.sink(transport.Event{Kind: transport.EventMessage, Data: []byte(raw)})
}

func (c *fakeConn) drop(code int) {
	c.sink(transport.Event{Kind: transport.EventClose, Code: code, Reason: "test drop"})
}

func (c *fakeConn) fail(err error) {
	c.sink(transport.Event{Kind: transport.EventError, Err: err})
	c.sink(transport.Event{Kind: transport.EventClose, Code: transport.CloseAbnormal, Err: err})
}

// =============================================================================
// Manual Scheduler
// =============================================================================

type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) pending() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single pending timer.
func (s *manualScheduler) fire(t *testing.T) {
	t.Helper()
	pending := s.pending()
	require.Len(t, pending, 1, "expected exactly one pending timer")
	s.mu.Lock()
	pending[0].fired = true
	s.mu.Unlock()
	pending[0].fn()
}

// fireStale runs a timer even though it was stopped.
func (s *manualScheduler) fireStale(tm *manualTimer) {
	tm.fn()
}

// =============================================================================
// Recording Observer
// =============================================================================

type recordingObserver struct {
	events []string
	frames []string
	err    error
}

func (o *recordingObserver) OnConnected() { o.events = append(o.events, "connected") }

func (o *recordingObserver) OnReconnecting(attempt int) {
	o.events = append(o.events, fmt.Sprintf("reconnecting:%d", attempt))
}

func (o *recordingObserver) OnDisconnected(attempts int, err error) {
	o.events = append(o.events, fmt.Sprintf("disconnected:%d", attempts))
	o.err = err
}

func (o *recordingObserver) OnClosed() { o.events = append(o.events, "closed") }

func (o *recordingObserver) OnFrame(raw []byte) { o.frames = append(o.frames, string(raw)) }

func (o *recordingObserver) count(event string) int {
	n := 0
	for _, e := range o.events {
		if e == event {
			n++
		}
	}
	return n
}

var errDialRefused = errors.New("connection refused")

// sequentialIDs returns an id generator yielding local-1, local-2, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("local-%d", n)
	}
}
