// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package protocol defines the wire schema of the chat channel.
//
// Inbound frames are JSON objects tagged by a "type" field. Each recognized
// type decodes into its own Go struct with per-kind required fields checked
// by go-playground/validator, so call sites never trust payload shape:
//
//	frame, err := protocol.Decode(raw)
//	switch f := frame.(type) {
//	case *protocol.StreamDelta:
//	    log.ApplyDelta(f.Content, f.Time())
//	}
//
// Decode only parses and validates. It performs no I/O and holds no state,
// so it is safe for concurrent use.
package protocol

import (
	"strings"
	"time"

	"github.com/AleutianAI/ragchat/pkg/chat"
)

// =============================================================================
// Kinds
// =============================================================================

// Kind is the logical kind of an inbound frame.
type Kind string

const (
	KindReady         Kind = "ready"
	KindStreamDelta   Kind = "stream-delta"
	KindThinking      Kind = "thinking"
	KindFinal         Kind = "final"
	KindAppError      Kind = "app-error"
	KindProtocolError Kind = "protocol-error"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Wire type values sent by the backend.
const (
	WireReady         = "connection_established"
	WireStreamDelta   = "ai_message_stream"
	WireThinking      = "ai_thinking"
	WireFinal         = "ai_message"
	WireAppError      = "ai_error"
	WireProtocolError = "error"
)

var wireKinds = map[string]Kind{
	WireReady:         KindReady,
	WireStreamDelta:   KindStreamDelta,
	WireThinking:      KindThinking,
	WireFinal:         KindFinal,
	WireAppError:      KindAppError,
	WireProtocolError: KindProtocolError,
}

// Peer broadcasts for multi-user rooms. The client neither needs nor acts on
// them; they decode as an ignorable UnknownKindError.
var ignorableWireTypes = map[string]struct{}{
	"user_message":        {},
	"user_typing":         {},
	"user_stopped_typing": {},
	"user_joined":         {},
	"user_left":           {},
}

// KindOf maps a wire type value to its Kind.
func KindOf(wireType string) (Kind, bool) {
	k, ok := wireKinds[wireType]
	return k, ok
}

// =============================================================================
// Frame Variants
// =============================================================================

// Frame is implemented by every inbound variant.
type Frame interface {
	Kind() Kind
}

// Ready is sent once after the server accepts the channel.
type Ready struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username" validate:"required"`
	Timestamp Timestamp `json:"timestamp" validate:"required"`
}

// Kind implements Frame.
func (*Ready) Kind() Kind { return KindReady }

// StreamDelta carries one fragment of an assistant reply.
// Content may legitimately be empty, but the field must be present.
type StreamDelta struct {
	Content   *string   `json:"content" validate:"required"`
	Timestamp Timestamp `json:"timestamp" validate:"required"`
}

// Kind implements Frame.
func (*StreamDelta) Kind() Kind { return KindStreamDelta }

// Text returns the fragment text.
func (f *StreamDelta) Text() string {
	if f.Content == nil {
		return ""
	}
	return *f.Content
}

// Thinking signals the assistant has started composing.
type Thinking struct {
	Timestamp Timestamp `json:"timestamp" validate:"required"`
}

// Kind implements Frame.
func (*Thinking) Kind() Kind { return KindThinking }

// SourceRef is one cited reference document.
type SourceRef struct {
	Filename   string  `json:"filename" validate:"required"`
	Similarity float64 `json:"similarity" validate:"gte=0,lte=1"`
}

// Final is the authoritative form of an assistant reply.
type Final struct {
	MessageID  string      `json:"message_id" validate:"required,ne=streaming_ai"`
	Content    string      `json:"content"`
	Model      string      `json:"llm_used" validate:"required"`
	LatencyMs  *int64      `json:"response_time" validate:"omitempty,gte=0"`
	TokenCount *int        `json:"tokens_used" validate:"omitempty,gte=0"`
	Sources    []SourceRef `json:"rag_sources" validate:"omitempty,dive"`
	Timestamp  Timestamp   `json:"timestamp"`
}

// Kind implements Frame.
func (*Final) Kind() Kind { return KindFinal }

// ToChat converts the frame into the reconciler's input.
func (f *Final) ToChat() chat.Final {
	meta := &chat.Metadata{
		Model:      f.Model,
		LatencyMs:  f.LatencyMs,
		TokenCount: f.TokenCount,
	}
	if len(f.Sources) > 0 {
		meta.Sources = make([]chat.Source, len(f.Sources))
		for i, s := range f.Sources {
			meta.Sources[i] = chat.Source{Filename: s.Filename, Similarity: s.Similarity}
		}
	}
	return chat.Final{
		ID:        f.MessageID,
		Content:   f.Content,
		Metadata:  meta,
		CreatedAt: f.Timestamp.Time(),
	}
}

// AppError reports a failure while the backend composed a reply.
// The backend puts the text in "error"; "message" is accepted as well.
type AppError struct {
	Error     string    `json:"error" validate:"required_without=Message"`
	Message   string    `json:"message" validate:"required_without=Error"`
	Timestamp Timestamp `json:"timestamp" validate:"required"`
}

// Kind implements Frame.
func (*AppError) Kind() Kind { return KindAppError }

// Text returns the error text, preferring the "error" field.
func (f *AppError) Text() string {
	if strings.TrimSpace(f.Error) != "" {
		return f.Error
	}
	return f.Message
}

// ProtocolError reports that the backend could not process a client frame.
type ProtocolError struct {
	Message   string    `json:"message" validate:"required"`
	Timestamp Timestamp `json:"timestamp"`
}

// Kind implements Frame.
func (*ProtocolError) Kind() Kind { return KindProtocolError }

// =============================================================================
// Timestamp
// =============================================================================

// Timestamp is the raw timestamp string of a frame.
//
// The backend emits Python isoformat() values, usually without a zone
// ("2025-03-01T12:00:00.123456"). Those are read as UTC.
type Timestamp string

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Parse returns the timestamp as a time.Time.
func (ts Timestamp) Parse() (time.Time, error) {
	s := strings.TrimSpace(string(ts))
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Time returns the parsed timestamp, or the zero time when it is absent
// or unparsable. The log substitutes the local clock for zero times.
func (ts Timestamp) Time() time.Time {
	t, err := ts.Parse()
	if err != nil {
		return time.Time{}
	}
	return t
}

// Time returns the frame timestamp (zero when unparsable).
func (f *StreamDelta) Time() time.Time { return f.Timestamp.Time() }

// Time returns the frame timestamp (zero when unparsable).
func (f *AppError) Time() time.Time { return f.Timestamp.Time() }
