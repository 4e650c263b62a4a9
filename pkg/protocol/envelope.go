// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound wire types.
const (
	WireChat       = "chat_message"
	WireTyping     = "typing"
	WireStopTyping = "stop_typing"
)

// Envelope is an outbound frame.
type Envelope interface {
	WireType() string
}

// ChatEnvelope carries one user turn. UseAugmentation is always encoded,
// false included, since the backend defaults a missing flag to true.
type ChatEnvelope struct {
	Type            string `json:"type"`
	Content         string `json:"content"`
	UseAugmentation bool   `json:"use_rag"`
	Model           string `json:"model,omitempty"`
}

// NewChatEnvelope builds a chat_message envelope.
func NewChatEnvelope(content string, useAugmentation bool, model string) ChatEnvelope {
	return ChatEnvelope{
		Type:            WireChat,
		Content:         content,
		UseAugmentation: useAugmentation,
		Model:           model,
	}
}

// WireType implements Envelope.
func (e ChatEnvelope) WireType() string { return WireChat }

// TypingEnvelope tells peers in the room that the user is (or stopped) typing.
type TypingEnvelope struct {
	Type string `json:"type"`
}

// NewTypingEnvelope returns a typing or stop_typing envelope.
func NewTypingEnvelope(typing bool) TypingEnvelope {
	if typing {
		return TypingEnvelope{Type: WireTyping}
	}
	return TypingEnvelope{Type: WireStopTyping}
}

// WireType implements Envelope.
func (e TypingEnvelope) WireType() string { return e.Type }

// Encode marshals an envelope to its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.WireType(), err)
	}
	return data, nil
}
