// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Finalize input
// =============================================================================

// Final carries the authoritative form of an assistant reply.
//
// Content may be empty: the backend sends the full text again on finalize,
// but an empty value means "keep what was streamed".
type Final struct {
	ID        string
	Content   string
	Metadata  *Metadata
	CreatedAt time.Time
}

// =============================================================================
// Log (message stream reconciler)
// =============================================================================

// Log is the ordered conversation log and the reconciler that merges
// streamed fragments into it.
//
// # Description
//
// The log is append-only from the caller's point of view, with exactly one
// exception: the streaming placeholder is replaced in place when its reply
// is finalized. Rules:
//
//   - ApplyDelta creates the placeholder on the first fragment of a turn and
//     appends to it afterwards, in arrival order.
//   - Finalize replaces the placeholder (same position) or, when there is
//     none, appends a single-shot reply. A Final whose ID is already in the
//     log is ignored, which absorbs duplicate delivery.
//   - AppendSystem never touches the placeholder.
//   - CreatedAt never decreases along the log; earlier timestamps are
//     clamped to the previous entry's.
//
// # Thread Safety
//
// Not safe for concurrent use. The session event loop owns the Log.
type Log struct {
	messages    []Message
	ids         map[string]struct{}
	placeholder int
	composing   bool
	newID       func() string
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithIDGenerator replaces uuid-based ids for locally created messages.
func WithIDGenerator(fn func() string) LogOption {
	return func(l *Log) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// NewLog creates an empty Log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		ids:         make(map[string]struct{}),
		placeholder: -1,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyDelta merges one streamed fragment into the placeholder.
//
// Returns a copy of the placeholder after the update.
func (l *Log) ApplyDelta(text string, ts time.Time) Message {
	if l.placeholder < 0 {
		l.placeholder = len(l.messages)
		l.messages = append(l.messages, Message{
			ID:        StreamingID,
			Role:      RoleAssistant,
			Content:   text,
			CreatedAt: l.clamp(ts),
		})
		return l.messages[l.placeholder].clone()
	}

	l.messages[l.placeholder].Content += text
	return l.messages[l.placeholder].clone()
}

// MarkComposing sets the "assistant is composing" flag. Idempotent.
func (l *Log) MarkComposing() {
	l.composing = true
}

// ClearComposing resets the composing flag without touching the log.
// The session uses it when the channel drops mid-turn.
func (l *Log) ClearComposing() {
	l.composing = false
}

// Finalize installs the authoritative form of an assistant reply.
//
// # Outputs
//
//   - Message: the finalized entry (zero value when ignored)
//   - bool: false when f.ID already exists in the log (duplicate delivery)
//
// The composing flag is cleared either way.
func (l *Log) Finalize(f Final) (Message, bool) {
	l.composing = false

	if l.Contains(f.ID) {
		return Message{}, false
	}

	if l.placeholder >= 0 {
		pending := l.messages[l.placeholder]
		content := f.Content
		if content == "" {
			content = pending.Content
		}
		final := Message{
			ID:        f.ID,
			Role:      RoleAssistant,
			Content:   content,
			CreatedAt: pending.CreatedAt,
			Metadata:  f.Metadata.Clone(),
		}
		l.messages[l.placeholder] = final
		l.placeholder = -1
		l.ids[f.ID] = struct{}{}
		return final.clone(), true
	}

	return l.append(Message{
		ID:        f.ID,
		Role:      RoleAssistant,
		Content:   f.Content,
		CreatedAt: f.CreatedAt,
		Metadata:  f.Metadata.Clone(),
	}), true
}

// AppendSystem appends a system notice (application error text).
// The placeholder, if any, stays pending.
func (l *Log) AppendSystem(text string, ts time.Time) Message {
	l.composing = false
	return l.append(Message{
		ID:        l.newID(),
		Role:      RoleSystem,
		Content:   text,
		CreatedAt: ts,
	})
}

// AppendUser appends the local user's turn (optimistic echo).
func (l *Log) AppendUser(text string, ts time.Time) Message {
	return l.append(Message{
		ID:        l.newID(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: ts,
	})
}

// ResolveStale closes a placeholder the backend never finalized.
//
// The placeholder is finalized in place under a fresh id with
// Metadata.Interrupted set, so fragments of the next turn start a new
// placeholder instead of extending an abandoned one. Returns false when no
// placeholder is pending.
func (l *Log) ResolveStale() (Message, bool) {
	if l.placeholder < 0 {
		return Message{}, false
	}
	id := l.newID()
	l.messages[l.placeholder].ID = id
	l.messages[l.placeholder].Metadata = &Metadata{Interrupted: true}
	l.ids[id] = struct{}{}
	resolved := l.messages[l.placeholder].clone()
	l.placeholder = -1
	l.composing = false
	return resolved, true
}

// Messages returns a copy of the log in order.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of entries, placeholder included.
func (l *Log) Len() int {
	return len(l.messages)
}

// Composing reports whether the assistant is known to be composing.
func (l *Log) Composing() bool {
	return l.composing
}

// Pending returns the placeholder, if one exists.
func (l *Log) Pending() (Message, bool) {
	if l.placeholder < 0 {
		return Message{}, false
	}
	return l.messages[l.placeholder].clone(), true
}

// Contains reports whether a finalized Message with id exists.
func (l *Log) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

func (l *Log) append(m Message) Message {
	m.CreatedAt = l.clamp(m.CreatedAt)
	l.messages = append(l.messages, m)
	l.ids[m.ID] = struct{}{}
	return m.clone()
}

// clamp keeps CreatedAt monotonic non-decreasing along append order.
func (l *Log) clamp(ts time.Time) time.Time {
	if ts.IsZero() {
		ts = time.Now()
	}
	if n := len(l.messages); n > 0 {
		if last := l.messages[n-1].CreatedAt; ts.Before(last) {
			return last
		}
	}
	return ts
}
