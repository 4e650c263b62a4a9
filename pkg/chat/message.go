// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat holds the conversation model of a ragchat session.
//
// A session's conversation is an ordered log of Messages. Assistant replies
// arrive incrementally over the channel; while a reply is being produced it
// lives in the log as a single placeholder Message carrying StreamingID.
// When the reply is finalized the placeholder is replaced in place by the
// authoritative Message. See Log for the reconciliation rules.
//
// Nothing in this package performs I/O or locking. A Log is owned by exactly
// one goroutine (the session event loop) and mutated only through its methods.
package chat

import (
	"fmt"
	"time"
)

// StreamingID is the reserved id of the in-flight assistant placeholder.
// It matches the sentinel the backend's web client uses.
const StreamingID = "streaming_ai"

// =============================================================================
// Role
// =============================================================================

// Role identifies who authored a Message.
type Role string

const (
	// RoleUser is a message typed by the local user (optimistic echo).
	RoleUser Role = "user"

	// RoleAssistant is a streamed or single-shot reply from the backend.
	RoleAssistant Role = "assistant"

	// RoleSystem is a locally generated notice, e.g. an application error.
	RoleSystem Role = "system"
)

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is one of the three known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// =============================================================================
// Message
// =============================================================================

// Source is a reference document cited by an assistant reply.
//
// Similarity is in [0, 1]. It is for display only; sources keep the order
// in which the backend sent them.
type Source struct {
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
}

// Percent returns Similarity as a rounded percentage for display.
func (s Source) Percent() int {
	return int(s.Similarity*100 + 0.5)
}

// Metadata describes how an assistant reply was produced.
//
// LatencyMs and TokenCount are pointers because the backend may omit them;
// a zero latency is a real value, an absent one is not.
type Metadata struct {
	Model      string   `json:"model"`
	LatencyMs  *int64   `json:"latency_ms,omitempty"`
	TokenCount *int     `json:"token_count,omitempty"`
	Sources    []Source `json:"sources,omitempty"`

	// Interrupted marks a placeholder that was closed locally because the
	// user started a new turn before the backend finalized it.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Latency returns the response latency as a Duration, and false when absent.
func (m *Metadata) Latency() (time.Duration, bool) {
	if m == nil || m.LatencyMs == nil {
		return 0, false
	}
	return time.Duration(*m.LatencyMs) * time.Millisecond, true
}

// Clone returns a deep copy so callers cannot alias the log's slices.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.LatencyMs != nil {
		v := *m.LatencyMs
		out.LatencyMs = &v
	}
	if m.TokenCount != nil {
		v := *m.TokenCount
		out.TokenCount = &v
	}
	if m.Sources != nil {
		out.Sources = append([]Source(nil), m.Sources...)
	}
	return &out
}

// Message is one entry of the conversation log.
//
// Content is mutable only while the Message is the streaming placeholder.
// Metadata is set on assistant replies only.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// IsPlaceholder reports whether m is the in-flight streaming placeholder.
func (m Message) IsPlaceholder() bool {
	return m.ID == StreamingID
}

// String renders a short debugging form, e.g. `assistant[m1] "Bonjour !"`.
func (m Message) String() string {
	content := m.Content
	if r := []rune(content); len(r) > 40 {
		content = string(r[:37]) + "..."
	}
	return fmt.Sprintf("%s[%s] %q", m.Role, m.ID, content)
}

func (m Message) clone() Message {
	m.Metadata = m.Metadata.Clone()
	return m
}
