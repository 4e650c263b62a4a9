// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session implements the real-time chat session: the connection
// manager with its reconnection policy, the inbound frame dispatcher, and
// the Client that coordinates them around one ordered message log.
//
// # Description
//
// A Client owns a single event-loop goroutine. Transport events, reconnect
// timer fires and caller requests are all funneled through it, so the
// message log and connection state are only ever touched by that goroutine
// and need no locks. Callers observe progress through Updates() and can
// read a snapshot of the log at any time with Messages().
//
//	client, err := session.NewClient(session.Config{
//	    BaseURL: "http://localhost:8000",
//	    Session: session.SessionContext{SessionID: id, Credential: token},
//	})
//	if err := client.Connect(); err != nil { ... }
//	defer client.Close()
//	for u := range client.Updates() { ... }
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/ragchat/pkg/chat"
	"github.com/AleutianAI/ragchat/pkg/protocol"
	"github.com/AleutianAI/ragchat/pkg/transport"
)

const (
	// DefaultUpdateBuffer is the capacity of the Updates channel.
	DefaultUpdateBuffer = 256

	// DefaultTypingInterval is the minimum spacing of typing notices.
	DefaultTypingInterval = 3 * time.Second

	inboxSize = 64
)

// =============================================================================
// Session Context
// =============================================================================

// SessionContext is the identity and options of one chat session.
//
// SessionID and Credential are fixed for the lifetime of a Client; a
// different session needs a new Client. UseAugmentation may be toggled
// between sends and is attached to each outbound envelope.
type SessionContext struct {
	SessionID       string
	Credential      string
	UseAugmentation bool

	// Model optionally overrides the backend's default model per message.
	Model string
}

// =============================================================================
// Updates
// =============================================================================

// UpdateKind tags an Update.
type UpdateKind int

const (
	UpdateConnected UpdateKind = iota
	UpdateReady
	UpdateReconnecting
	UpdateDisconnected
	UpdateClosed
	UpdateComposing
	UpdateDelta
	UpdateFinal
	UpdateAppError
	UpdateProtocolError
	UpdateUserMessage
	UpdateInterrupted
)

var updateKindNames = map[UpdateKind]string{
	UpdateConnected:     "connected",
	UpdateReady:         "ready",
	UpdateReconnecting:  "reconnecting",
	UpdateDisconnected:  "disconnected",
	UpdateClosed:        "closed",
	UpdateComposing:     "composing",
	UpdateDelta:         "delta",
	UpdateFinal:         "final",
	UpdateAppError:      "app_error",
	UpdateProtocolError: "protocol_error",
	UpdateUserMessage:   "user_message",
	UpdateInterrupted:   "interrupted",
}

// String returns the kind name.
func (k UpdateKind) String() string {
	if s, ok := updateKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("UpdateKind(%d)", int(k))
}

// Update is one observable change of the session.
//
// Message is a copy of the affected log entry for delta, final, app_error,
// user_message and interrupted updates. Delta holds the fragment text of a
// delta update.
type Update struct {
	Kind        UpdateKind
	State       State
	Attempt     int
	MaxAttempts int
	Composing   bool
	Username    string
	Message     chat.Message
	Delta       string
	Err         error
}

// =============================================================================
// Client
// =============================================================================

// Config configures a Client.
type Config struct {
	// BaseURL is the backend HTTP base, e.g. "http://localhost:8000".
	BaseURL string

	// Session is the session identity and initial options. SessionID is required.
	Session SessionContext

	// Dialer opens the channel. Nil uses a gorilla/websocket dialer.
	Dialer transport.Dialer

	// MaxAttempts and ReconnectDelay set the reconnection policy.
	MaxAttempts    int
	ReconnectDelay time.Duration

	// Scheduler runs reconnect timers. Nil uses the wall clock.
	Scheduler Scheduler

	// TypingInterval is the minimum spacing of typing notices.
	TypingInterval time.Duration

	// UpdateBuffer is the capacity of the Updates channel.
	UpdateBuffer int

	// Now supplies local timestamps. Nil uses time.Now.
	Now func() time.Time

	// IDGenerator creates ids for locally created messages. Nil uses UUIDs.
	IDGenerator func() string

	Logger  *slog.Logger
	Metrics *Metrics
}

// Client coordinates one chat session.
//
// # Description
//
// Client builds outbound envelopes from the session context, echoes the
// user's turns into the log, and applies inbound frames to the log through
// the reconciler. It owns the ConnectionManager and the Dispatcher.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. They are executed on
// the client's event loop in call order.
//
// # Limitations
//
//   - Updates are delivered without blocking the loop. If the consumer falls
//     behind by more than the buffer, updates are dropped (and logged);
//     Messages() always reflects the full log.
type Client struct {
	logger *slog.Logger
	now    func() time.Time
	model  string

	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	updates   chan Update
	closeOnce sync.Once

	// Owned by the event loop.
	session      SessionContext
	log          *chat.Log
	manager      *ConnectionManager
	dispatcher   *Dispatcher
	typing       *rate.Limiter
	typingActive bool
	username     string
	maxAttempts  int
}

// NewClient creates a Client and starts its event loop. The channel is not
// opened until Connect.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Session.SessionID) == "" {
		return nil, errors.New("session client: empty session id")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", cfg.Session.SessionID)

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = transport.NewWebSocketDialer(logger)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	bufSize := cfg.UpdateBuffer
	if bufSize <= 0 {
		bufSize = DefaultUpdateBuffer
	}
	typingInterval := cfg.TypingInterval
	if typingInterval <= 0 {
		typingInterval = DefaultTypingInterval
	}

	var logOpts []chat.LogOption
	if cfg.IDGenerator != nil {
		logOpts = append(logOpts, chat.WithIDGenerator(cfg.IDGenerator))
	}

	c := &Client{
		logger:  logger,
		now:     now,
		model:   cfg.Session.Model,
		inbox:   make(chan func(), inboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		updates: make(chan Update, bufSize),
		session: cfg.Session,
		log:     chat.NewLog(logOpts...),
		typing:  rate.NewLimiter(rate.Every(typingInterval), 1),
	}

	events := &clientEvents{c: c}
	manager, err := NewConnectionManager(ManagerConfig{
		Dialer:         dialer,
		BaseURL:        cfg.BaseURL,
		MaxAttempts:    cfg.MaxAttempts,
		ReconnectDelay: cfg.ReconnectDelay,
		Scheduler:      cfg.Scheduler,
		Post:           func(fn func()) { c.post(fn) },
		Logger:         logger,
		Metrics:        cfg.Metrics,
	}, events)
	if err != nil {
		return nil, err
	}
	c.manager = manager
	c.maxAttempts = manager.cfg.MaxAttempts
	c.dispatcher = NewDispatcher(events, logger, cfg.Metrics)

	go c.loop()
	return c, nil
}

// Updates returns the update stream. It is closed after Close.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Connect opens the channel.
func (c *Client) Connect() error {
	var err error
	if derr := c.do(func() {
		err = c.manager.Open(c.session.SessionID, c.session.Credential)
	}); derr != nil {
		return derr
	}
	return err
}

// Reconnect retries after a terminal connectivity failure.
func (c *Client) Reconnect() error {
	var err error
	if derr := c.do(func() { err = c.manager.Reconnect() }); derr != nil {
		return derr
	}
	return err
}

// SendMessage sends one user turn and echoes it into the log.
//
// # Description
//
// The text is trimmed. The envelope carries the augmentation flag current
// at the time of the call. The echo is appended only after the send
// succeeded; on failure the log is unchanged and the error is returned.
// An assistant reply still streaming from an earlier turn is closed as
// interrupted before the echo.
//
// # Outputs
//
//   - chat.Message: the echoed user message
//   - error: ErrEmptyMessage, ErrNotConnected, ErrClosed or a transport error
func (c *Client) SendMessage(text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	var (
		msg chat.Message
		err error
	)
	if derr := c.do(func() {
		env := c.BuildOutbound(text, c.session.UseAugmentation)
		if err = c.manager.Send(env); err != nil {
			c.logger.Warn("send failed", "error", err, "state", c.manager.State().String())
			return
		}
		c.typingActive = false
		if resolved, ok := c.log.ResolveStale(); ok {
			c.logger.Warn("closing unfinished reply", "message_id", resolved.ID, "chars", len(resolved.Content))
			c.emit(Update{Kind: UpdateInterrupted, Message: resolved})
		}
		msg = c.log.AppendUser(text, c.now())
		c.emit(Update{Kind: UpdateUserMessage, Message: msg})
	}); derr != nil {
		return chat.Message{}, derr
	}
	return msg, err
}

// BuildOutbound builds the chat envelope for userText. It has no side effects.
func (c *Client) BuildOutbound(userText string, useAugmentation bool) protocol.ChatEnvelope {
	return protocol.NewChatEnvelope(userText, useAugmentation, c.model)
}

// RecordUserTurn appends a user message to the log without sending it.
func (c *Client) RecordUserTurn(userText string) (chat.Message, error) {
	var msg chat.Message
	if err := c.do(func() {
		msg = c.log.AppendUser(userText, c.now())
		c.emit(Update{Kind: UpdateUserMessage, Message: msg})
	}); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// SetAugmentation toggles the augmentation flag for subsequent sends.
func (c *Client) SetAugmentation(enabled bool) error {
	return c.do(func() {
		c.session.UseAugmentation = enabled
		c.logger.Debug("augmentation toggled", "enabled", enabled)
	})
}

// Augmentation reports the current augmentation flag.
func (c *Client) Augmentation() bool {
	var v bool
	_ = c.do(func() { v = c.session.UseAugmentation })
	return v
}

// SendTyping notifies peers that the user is typing or stopped.
//
// Typing notices are throttled to one per TypingInterval; suppressed
// notices return nil. A stop notice is sent only after a typing notice.
func (c *Client) SendTyping(typing bool) error {
	var err error
	if derr := c.do(func() {
		if typing {
			if !c.typing.Allow() {
				return
			}
		} else if !c.typingActive {
			return
		}
		if err = c.manager.Send(protocol.NewTypingEnvelope(typing)); err != nil {
			return
		}
		c.typingActive = typing
	}); derr != nil {
		return derr
	}
	return err
}

// Messages returns a copy of the ordered message log.
func (c *Client) Messages() []chat.Message {
	var out []chat.Message
	_ = c.do(func() { out = c.log.Messages() })
	return out
}

// Composing reports whether the assistant is known to be composing.
func (c *Client) Composing() bool {
	var v bool
	_ = c.do(func() { v = c.log.Composing() })
	return v
}

// State returns the connection state. After Close it is StateClosed.
func (c *Client) State() State {
	v := StateClosed
	_ = c.do(func() { v = c.manager.State() })
	return v
}

// Attempts returns the reconnect attempts in the current cycle.
func (c *Client) Attempts() int {
	var v int
	_ = c.do(func() { v = c.manager.Attempts() })
	return v
}

// Username returns the name announced by the server, if any.
func (c *Client) Username() string {
	var v string
	_ = c.do(func() { v = c.username })
	return v
}

// Close tears the session down, stops the event loop and closes Updates.
// Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.do(func() { c.manager.Close() })
		close(c.quit)
		<-c.done
		close(c.updates)
	})
	return nil
}

// =============================================================================
// Event Loop
// =============================================================================

func (c *Client) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post enqueues fn on the loop. Returns false once the loop is stopping.
func (c *Client) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.inbox <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (c *Client) do(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) emit(u Update) {
	u.State = c.manager.State()
	select {
	case c.updates <- u:
	default:
		c.logger.Warn("update buffer full, dropping update", "kind", u.Kind.String())
	}
}

// =============================================================================
// Manager and Dispatcher callbacks
// =============================================================================

// clientEvents adapts the Client to Observer and Handler. All methods run
// on the event loop.
type clientEvents struct {
	c *Client
}

var (
	_ Observer = (*clientEvents)(nil)
	_ Handler  = (*clientEvents)(nil)
)

func (e *clientEvents) OnConnected() {
	e.c.emit(Update{Kind: UpdateConnected})
}

func (e *clientEvents) OnReconnecting(attempt int) {
	c := e.c
	if c.log.Composing() {
		c.log.ClearComposing()
		c.emit(Update{Kind: UpdateComposing, Composing: false})
	}
	c.typingActive = false
	c.emit(Update{Kind: UpdateReconnecting, Attempt: attempt, MaxAttempts: c.maxAttempts})
}

func (e *clientEvents) OnDisconnected(attempts int, err error) {
	c := e.c
	c.log.ClearComposing()
	c.emit(Update{Kind: UpdateDisconnected, Attempt: attempts, MaxAttempts: c.maxAttempts, Err: err})
}

func (e *clientEvents) OnClosed() {
	e.c.emit(Update{Kind: UpdateClosed})
}

func (e *clientEvents) OnFrame(raw []byte) {
	e.c.dispatcher.Dispatch(raw)
}

func (e *clientEvents) HandleReady(f *protocol.Ready) {
	c := e.c
	c.username = f.Username
	c.logger.Info("session ready", "username", f.Username)
	c.emit(Update{Kind: UpdateReady, Username: f.Username})
}

func (e *clientEvents) HandleStreamDelta(f *protocol.StreamDelta) {
	c := e.c
	msg := c.log.ApplyDelta(f.Text(), c.frameTime(f.Time()))
	c.emit(Update{Kind: UpdateDelta, Message: msg, Delta: f.Text()})
}

func (e *clientEvents) HandleThinking(*protocol.Thinking) {
	c := e.c
	if c.log.Composing() {
		return
	}
	c.log.MarkComposing()
	c.emit(Update{Kind: UpdateComposing, Composing: true})
}

func (e *clientEvents) HandleFinal(f *protocol.Final) {
	c := e.c
	in := f.ToChat()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = c.now()
	}
	msg, ok := c.log.Finalize(in)
	if !ok {
		c.logger.Debug("duplicate final ignored", "message_id", f.MessageID)
		return
	}
	c.emit(Update{Kind: UpdateFinal, Message: msg})
}

func (e *clientEvents) HandleAppError(f *protocol.AppError) {
	c := e.c
	c.logger.Warn("assistant error", "error", f.Text())
	msg := c.log.AppendSystem(f.Text(), c.frameTime(f.Time()))
	c.emit(Update{Kind: UpdateAppError, Message: msg})
}

func (e *clientEvents) HandleProtocolError(f *protocol.ProtocolError) {
	c := e.c
	c.logger.Warn("server rejected frame", "message", f.Message)
	c.emit(Update{Kind: UpdateProtocolError, Err: errors.New(f.Message)})
}

func (c *Client) frameTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return c.now()
	}
	return ts
}
