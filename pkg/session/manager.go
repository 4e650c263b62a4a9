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
	"log/slog"
	"time"

	"github.com/AleutianAI/ragchat/pkg/protocol"
	"github.com/AleutianAI/ragchat/pkg/transport"
)

const (
	// DefaultMaxAttempts is the reconnect attempt ceiling.
	DefaultMaxAttempts = 5

	// DefaultReconnectDelay is the fixed delay before each reconnect attempt.
	DefaultReconnectDelay = 2 * time.Second
)

// =============================================================================
// Connection State
// =============================================================================

// State is the lifecycle state of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Timer is a pending deferred callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs a callback after a delay. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// =============================================================================
// Observer
// =============================================================================

// Observer receives the manager's notifications. All calls happen on the
// goroutine that drives the manager.
type Observer interface {
	// OnConnected fires on every entry into Connected.
	OnConnected()

	// OnReconnecting fires with attempt 0 on entering the reconnecting state,
	// then before each reconnect dial with the 1-based attempt.
	OnReconnecting(attempt int)

	// OnDisconnected fires when attempts are exhausted. err is a *ConnectivityError.
	OnDisconnected(attempts int, err error)

	// OnClosed fires once, when Close tears down an opened channel.
	OnClosed()

	// OnFrame delivers one inbound frame, unparsed.
	OnFrame(raw []byte)
}

// =============================================================================
// Connection Manager
// =============================================================================

// ManagerConfig configures a ConnectionManager.
type ManagerConfig struct {
	// Dialer opens channels. Required.
	Dialer transport.Dialer

	// BaseURL is the backend HTTP base, e.g. "http://localhost:8000".
	BaseURL string

	// MaxAttempts is the reconnect ceiling. Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// ReconnectDelay is the fixed delay between attempts. Zero uses the default.
	ReconnectDelay time.Duration

	// Scheduler runs reconnect timers. Nil uses the wall clock.
	Scheduler Scheduler

	// Post runs fn on the goroutine that owns the manager. Transport events
	// and timer fires are routed through it. Nil runs fn inline, which is
	// only correct when the caller already serializes those sources.
	Post func(fn func())

	Logger  *slog.Logger
	Metrics *Metrics
}

// ConnectionManager owns the lifecycle of one channel per session id and
// applies the reconnection policy.
//
// # Description
//
// Transitions:
//
//	Disconnected --Open--> Connecting --ready--> Connected
//	Connected --closed--> Reconnecting
//	Connecting --closed--> Reconnecting          (failed first dial)
//	Reconnecting --timer--> dial (attempt n)
//	Reconnecting --ready--> Connected            (attempts reset to 0)
//	Reconnecting --closed, n == max--> Disconnected (terminal *ConnectivityError)
//	Disconnected --Reconnect--> Connecting
//	any --Close--> Closed
//
// Every dial gets a new generation number. Events and timer fires carrying
// an older generation are dropped, which is how Close detaches handlers
// from a transport whose shutdown is still in flight.
//
// # Thread Safety
//
// Not safe for concurrent use. All methods, including HandleEvent, must run
// on one goroutine; ManagerConfig.Post routes asynchronous sources there.
type ConnectionManager struct {
	cfg      ManagerConfig
	observer Observer
	logger   *slog.Logger

	state      State
	opened     bool
	sessionID  string
	credential string
	target     string

	conn     transport.Conn
	gen      uint64
	attempts int
	timer    Timer
	lastErr  error
}

// NewConnectionManager creates a manager in the Disconnected state.
func NewConnectionManager(cfg ManagerConfig, observer Observer) (*ConnectionManager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("connection manager: nil dialer")
	}
	if observer == nil {
		return nil, errors.New("connection manager: nil observer")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = realScheduler{}
	}
	if cfg.Post == nil {
		cfg.Post = func(fn func()) { fn() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &ConnectionManager{
		cfg:      cfg,
		observer: observer,
		logger:   logger.With("component", "connection"),
		state:    StateDisconnected,
	}
	cfg.Metrics.state(m.state)
	return m, nil
}

// State returns the current state.
func (m *ConnectionManager) State() State {
	return m.state
}

// Attempts returns the reconnect attempts made in the current cycle.
func (m *ConnectionManager) Attempts() int {
	return m.attempts
}

// Open starts connecting the channel for sessionID.
//
// # Outputs
//
//   - error: ErrClosed after Close, ErrAlreadyOpen unless Disconnected and
//     never opened, or an addressing error for a bad base URL.
func (m *ConnectionManager) Open(sessionID, credential string) error {
	if m.state == StateClosed {
		return ErrClosed
	}
	if m.opened {
		return fmt.Errorf("%w (state %s)", ErrAlreadyOpen, m.state)
	}

	target, err := transport.ChatURL(m.cfg.BaseURL, sessionID, credential)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	m.opened = true
	m.sessionID = sessionID
	m.credential = credential
	m.target = target
	m.attempts = 0

	m.logger.Info("opening channel", "token_present", credential != "")
	m.setState(StateConnecting)
	m.dial()
	return nil
}

// Reconnect restarts the connection after a terminal connectivity failure.
func (m *ConnectionManager) Reconnect() error {
	switch {
	case m.state == StateClosed:
		return ErrClosed
	case !m.opened:
		return errors.New("reconnect: channel was never opened")
	case m.state != StateDisconnected:
		return fmt.Errorf("reconnect: channel is %s", m.state)
	}

	m.logger.Info("manual reconnect")
	m.attempts = 0
	m.lastErr = nil
	m.setState(StateConnecting)
	m.dial()
	return nil
}

// Close tears the channel down. Idempotent: closing a never-opened or
// already-closed channel does nothing.
//
// After Close returns no observer callback fires, even if the transport
// is still shutting down.
func (m *ConnectionManager) Close() {
	if !m.opened || m.state == StateClosed {
		return
	}

	m.stopTimer()
	m.gen++
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug("transport close", "error", err)
		}
		m.conn = nil
	}
	m.setState(StateClosed)
	m.observer.OnClosed()
}

// Send encodes env and writes it on the open channel.
//
// Sends are fire-and-forget. Nothing is buffered: outside Connected the
// call fails with ErrNotConnected (ErrClosed after Close).
func (m *ConnectionManager) Send(env protocol.Envelope) error {
	if m.state == StateClosed {
		return ErrClosed
	}
	if m.state != StateConnected || m.conn == nil {
		m.cfg.Metrics.sendFailure("not_connected")
		return fmt.Errorf("%w (state %s)", ErrNotConnected, m.state)
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := m.conn.Send(data); err != nil {
		m.cfg.Metrics.sendFailure("transport")
		return fmt.Errorf("send %s: %w", env.WireType(), err)
	}
	return nil
}

// Generation returns the generation of the current dial. Events produced
// by that dial must be handed back with it.
func (m *ConnectionManager) Generation() uint64 {
	return m.gen
}

// HandleEvent applies one transport event from the dial identified by gen.
func (m *ConnectionManager) HandleEvent(gen uint64, ev transport.Event) {
	if gen != m.gen || m.state == StateClosed {
		m.logger.Debug("dropping stale transport event", "event", ev.Kind.String(), "generation", gen)
		return
	}

	switch ev.Kind {
	case transport.EventOpen:
		m.onOpen()
	case transport.EventMessage:
		if m.state != StateConnected {
			m.logger.Debug("frame outside connected state", "state", m.state.String())
			return
		}
		m.observer.OnFrame(ev.Data)
	case transport.EventError:
		m.lastErr = ev.Err
		m.logger.Warn("transport error", "error", ev.Err)
	case transport.EventClose:
		m.onTransportClosed(ev)
	}
}

func (m *ConnectionManager) dial() {
	m.gen++
	gen := m.gen

	sink := func(ev transport.Event) {
		m.cfg.Post(func() { m.HandleEvent(gen, ev) })
	}
	conn, err := m.cfg.Dialer.Dial(context.Background(), m.target, sink)
	if err != nil {
		m.logger.Warn("dial failed", "error", err)
		m.lastErr = err
		m.onTransportClosed(transport.Event{Kind: transport.EventClose, Code: transport.CloseAbnormal, Err: err})
		return
	}
	if gen == m.gen {
		m.conn = conn
	}
}

func (m *ConnectionManager) onOpen() {
	m.stopTimer()
	if m.attempts > 0 {
		m.logger.Info("reconnected", "attempts", m.attempts)
	}
	m.attempts = 0
	m.lastErr = nil
	m.setState(StateConnected)
	m.observer.OnConnected()
}

func (m *ConnectionManager) onTransportClosed(ev transport.Event) {
	m.conn = nil

	args := []any{"code", ev.Code, "reason", ev.Reason, "state", m.state.String()}
	if transport.IsAbnormal(ev.Code) {
		m.logger.Warn("channel closed abnormally", args...)
	} else {
		m.logger.Info("channel closed", args...)
	}

	cause := ev.Err
	if cause == nil {
		cause = m.lastErr
	}

	switch m.state {
	case StateConnected, StateConnecting:
		m.attempts = 0
		m.setState(StateReconnecting)
		m.scheduleReconnect()
		m.observer.OnReconnecting(m.attempts)
	case StateReconnecting:
		if m.attempts >= m.cfg.MaxAttempts {
			err := &ConnectivityError{Attempts: m.attempts, Code: ev.Code, Err: cause}
			m.logger.Error("reconnect attempts exhausted", "attempts", m.attempts, "error", cause)
			m.cfg.Metrics.connectivityFailure()
			m.setState(StateDisconnected)
			m.observer.OnDisconnected(m.attempts, err)
			return
		}
		m.scheduleReconnect()
	}
}

func (m *ConnectionManager) scheduleReconnect() {
	m.stopTimer()
	gen := m.gen
	m.timer = m.cfg.Scheduler.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.cfg.Post(func() { m.fireReconnect(gen) })
	})
}

func (m *ConnectionManager) fireReconnect(gen uint64) {
	if gen != m.gen || m.state != StateReconnecting {
		return
	}
	m.timer = nil
	m.attempts++
	m.cfg.Metrics.reconnectAttempt()
	m.logger.Info("reconnecting", "attempt", m.attempts, "max_attempts", m.cfg.MaxAttempts)
	m.observer.OnReconnecting(m.attempts)
	m.dial()
}

func (m *ConnectionManager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectionManager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state change", "from", m.state.String(), "to", s.String())
	m.state = s
	m.cfg.Metrics.state(s)
}
