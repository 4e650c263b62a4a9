// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHandshakeTimeout bounds the opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
)

// =============================================================================
// WebSocketDialer
// =============================================================================

// WebSocketDialer dials chat channels over gorilla/websocket.
//
// # Description
//
// Dial returns at once; the handshake and read loop run on a goroutine owned
// by the returned connection. Text frames are delivered as EventMessage.
// Binary frames are dropped: the chat protocol is JSON text only.
//
// The close code reported on EventClose is taken from the peer's close frame
// when there is one, CloseNormal when the client itself closed, and
// CloseAbnormal otherwise.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the opening handshake. Zero uses the default.
	HandshakeTimeout time.Duration

	// Header is sent with the upgrade request.
	Header http.Header

	// Logger receives debug output. Nil uses slog.Default().
	Logger *slog.Logger
}

// NewWebSocketDialer returns a dialer with default settings.
func NewWebSocketDialer(logger *slog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		Logger:           logger,
	}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, target string, sink func(Event)) (Conn, error) {
	if sink == nil {
		return nil, errors.New("websocket dial: nil event sink")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: parse target: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket dial: unsupported scheme %q", u.Scheme)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialCtx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		sink:   sink,
		cancel: cancel,
		logger: logger.With("host", u.Host),
		done:   make(chan struct{}),
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	go c.run(dialCtx, dialer, target, d.Header.Clone())
	return c, nil
}

// =============================================================================
// wsConn
// =============================================================================

type wsConn struct {
	sink   func(Event)
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	closing bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) run(ctx context.Context, dialer *websocket.Dialer, target string, header http.Header) {
	defer close(c.done)
	defer c.cancel()

	ws, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.isClosing() {
			c.sink(Event{Kind: EventClose, Code: CloseNormal, Reason: "closed by client"})
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		c.sink(Event{Kind: EventError, Err: err})
		c.sink(Event{Kind: EventClose, Code: CloseAbnormal, Reason: "dial failed", Err: err})
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = ws.Close()
		c.sink(Event{Kind: EventClose, Code: CloseNormal, Reason: "closed by client"})
		return
	}
	c.ws = ws
	c.mu.Unlock()

	c.sink(Event{Kind: EventOpen})
	c.readLoop(ws)
}

func (c *wsConn) readLoop(ws *websocket.Conn) {
	defer func() { _ = ws.Close() }()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			code, reason := c.closeStatus(err)
			ev := Event{Kind: EventClose, Code: code, Reason: reason}
			if code != CloseNormal {
				ev.Err = err
			}
			c.sink(ev)
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("dropping non-text frame", "type", msgType, "bytes", len(data))
			continue
		}
		c.sink(Event{Kind: EventMessage, Data: data})
	}
}

func (c *wsConn) closeStatus(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	if c.isClosing() {
		return CloseNormal, "closed by client"
	}
	return CloseAbnormal, err.Error()
}

func (c *wsConn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Send implements Conn.
func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	ws, closing := c.ws, c.closing
	c.mu.Unlock()

	if closing {
		return ErrConnClosed
	}
	if ws == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close implements Conn. It sends a normal close frame when the channel is
// open, then tears the socket down. The read loop reports the final
// EventClose.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		ws := c.ws
		c.mu.Unlock()

		c.cancel()
		if ws == nil {
			return
		}

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil {
			c.logger.Debug("close frame not sent", "error", werr)
		}
		c.writeMu.Unlock()
		if cerr := ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}

// Done is closed once the connection goroutine has delivered its final event.
func (c *wsConn) Done() <-chan struct{} {
	return c.done
}
