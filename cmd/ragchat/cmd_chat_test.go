// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ragchat/cmd/ragchat/config"
	"github.com/AleutianAI/ragchat/pkg/chat"
	"github.com/AleutianAI/ragchat/pkg/session"
	"github.com/AleutianAI/ragchat/pkg/ux"
)

// fakeSession records what the chat loop asks of it.
type fakeSession struct {
	mu         sync.Mutex
	updates    chan session.Update
	closeOnce  sync.Once
	sent       []string
	aug        bool
	sendErr    error
	reconnErr  error
	reconnects int
	closed     bool
	messages   []chat.Message
}

func newFakeSession() *fakeSession {
	return &fakeSession{updates: make(chan session.Update, 16), aug: true}
}

func (f *fakeSession) Updates() <-chan session.Update { return f.updates }

func (f *fakeSession) SendMessage(text string) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return chat.Message{}, f.sendErr
	}
	f.sent = append(f.sent, text)
	return chat.Message{Role: chat.RoleUser, Content: text}, nil
}

func (f *fakeSession) SetAugmentation(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aug = enabled
	return nil
}

func (f *fakeSession) Augmentation() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aug
}

func (f *fakeSession) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return f.reconnErr
}

func (f *fakeSession) Messages() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message(nil), f.messages...)
}

func (f *fakeSession) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.updates)
	})
	return nil
}

func (f *fakeSession) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ chatSession = (*fakeSession)(nil)

// =============================================================================
// Input parsing
// =============================================================================

func TestParseChatInput(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  chatCommand
		isCmd bool
	}{
		{"plain message", "hello there", chatCommand{}, false},
		{"bare command", "/quit", chatCommand{name: "quit"}, true},
		{"command is lowercased", "/RAG on", chatCommand{name: "rag", arg: "on"}, true},
		{"argument is trimmed", "  /rag   off  ", chatCommand{name: "rag", arg: "off"}, true},
		{"double slash escapes", "//etc/hosts", chatCommand{}, false},
		{"empty line", "", chatCommand{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseChatInput(tt.line)
			assert.Equal(t, tt.isCmd, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Input handling
// =============================================================================

func newTestUI() (ux.ChatUI, *bytes.Buffer) {
	var buf bytes.Buffer
	return ux.NewChatUI(&buf, ux.PersonalityMinimal, false), &buf
}

func TestHandleInput_SendsMessages(t *testing.T) {
	sess := newFakeSession()
	ui, buf := newTestUI()

	assert.False(t, handleInput(sess, ui, "  what is in the handbook?  "))
	assert.False(t, handleInput(sess, ui, "//etc/hosts is a path"))
	assert.False(t, handleInput(sess, ui, "   "))

	assert.Equal(t, []string{"what is in the handbook?", "/etc/hosts is a path"}, sess.sentMessages())
	assert.Empty(t, buf.String())
}

func TestHandleInput_SendErrors(t *testing.T) {
	t.Run("not connected is reported", func(t *testing.T) {
		sess := newFakeSession()
		sess.sendErr = session.ErrNotConnected
		ui, buf := newTestUI()
		assert.False(t, handleInput(sess, ui, "hello"))
		assert.Contains(t, buf.String(), "not connected; message not sent")
	})

	t.Run("closed session ends the chat", func(t *testing.T) {
		sess := newFakeSession()
		sess.sendErr = session.ErrClosed
		ui, _ := newTestUI()
		assert.True(t, handleInput(sess, ui, "hello"))
	})

	t.Run("other errors are reported", func(t *testing.T) {
		sess := newFakeSession()
		sess.sendErr = errors.New("write: broken pipe")
		ui, buf := newTestUI()
		assert.False(t, handleInput(sess, ui, "hello"))
		assert.Contains(t, buf.String(), "message not sent: write: broken pipe")
	})
}

func TestHandleInput_Commands(t *testing.T) {
	t.Run("quit", func(t *testing.T) {
		ui, _ := newTestUI()
		for _, line := range []string{"/quit", "/exit", "/q"} {
			assert.True(t, handleInput(newFakeSession(), ui, line), line)
		}
	})

	t.Run("rag toggles augmentation", func(t *testing.T) {
		sess := newFakeSession()
		ui, buf := newTestUI()
		handleInput(sess, ui, "/rag off")
		assert.False(t, sess.Augmentation())
		assert.Contains(t, buf.String(), "augmentation off")

		buf.Reset()
		handleInput(sess, ui, "/rag")
		assert.Contains(t, buf.String(), "augmentation off", "bare /rag reports the current setting")

		buf.Reset()
		handleInput(sess, ui, "/rag on")
		assert.True(t, sess.Augmentation())
		assert.Contains(t, buf.String(), "augmentation on")
	})

	t.Run("rag rejects other arguments", func(t *testing.T) {
		sess := newFakeSession()
		ui, buf := newTestUI()
		handleInput(sess, ui, "/rag maybe")
		assert.True(t, sess.Augmentation())
		assert.Contains(t, buf.String(), "usage: /rag on|off")
	})

	t.Run("reconnect", func(t *testing.T) {
		sess := newFakeSession()
		sess.reconnErr = errors.New("already connected")
		ui, buf := newTestUI()
		handleInput(sess, ui, "/reconnect")
		assert.Equal(t, 1, sess.reconnects)
		assert.Contains(t, buf.String(), "reconnect: already connected")
	})

	t.Run("history", func(t *testing.T) {
		sess := newFakeSession()
		ui, buf := newTestUI()
		handleInput(sess, ui, "/history")
		assert.Contains(t, buf.String(), "(no messages yet)")

		buf.Reset()
		sess.messages = []chat.Message{
			{Role: chat.RoleUser, Content: "hi"},
			{Role: chat.RoleAssistant, Content: "hello!"},
		}
		handleInput(sess, ui, "/history")
		assert.Contains(t, buf.String(), "you: hi\n")
		assert.Contains(t, buf.String(), "assistant: hello!\n")
	})

	t.Run("unknown", func(t *testing.T) {
		sess := newFakeSession()
		ui, buf := newTestUI()
		assert.False(t, handleInput(sess, ui, "/summon"))
		assert.Contains(t, buf.String(), "unknown command /summon")
		assert.Empty(t, sess.sentMessages())
	})
}

// =============================================================================
// Chat loop
// =============================================================================

func TestRunChatLoop_QuitClosesSession(t *testing.T) {
	sess := newFakeSession()
	sess.updates <- session.Update{Kind: session.UpdateReady, Username: "alice"}
	ui, buf := newTestUI()

	in := strings.NewReader("hello\n/quit\nnever sent\n")
	require.NoError(t, runChatLoop(context.Background(), sess, in, ui))

	assert.True(t, sess.isClosed())
	assert.Equal(t, []string{"hello"}, sess.sentMessages())
	assert.Contains(t, buf.String(), "Welcome, alice!")
}

func TestRunChatLoop_EndOfInput(t *testing.T) {
	sess := newFakeSession()
	ui, _ := newTestUI()

	require.NoError(t, runChatLoop(context.Background(), sess, strings.NewReader("one\ntwo"), ui))
	assert.True(t, sess.isClosed())
	assert.Equal(t, []string{"one", "two"}, sess.sentMessages())
}

func TestRunChatLoop_ContextCancelled(t *testing.T) {
	sess := newFakeSession()
	ui, _ := newTestUI()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runChatLoop(ctx, sess, pr, ui) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat loop did not stop on cancel")
	}
	assert.True(t, sess.isClosed())
}

// =============================================================================
// End to end
// =============================================================================

const testTimestamp = "2025-03-01T12:00:00"

// chatBackend serves session creation and the chat WebSocket for s-42.
func chatBackend(t *testing.T, received chan<- map[string]any) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"session_id": "s-42", "title": "New Chat"})
	})
	mux.HandleFunc("/api/v1/ws/chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s-42", r.PathValue("id"))
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		send := func(v map[string]any) bool {
			v["timestamp"] = testTimestamp
			return ws.WriteJSON(v) == nil
		}
		if !send(map[string]any{"type": "connection_established", "session_id": "s-42", "user_id": "u-1", "username": "alice"}) {
			return
		}
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if json.Unmarshal(data, &frame) != nil || frame["type"] != "chat_message" {
				continue
			}
			received <- frame
			send(map[string]any{"type": "ai_thinking"})
			send(map[string]any{"type": "ai_message_stream", "content": "Bon"})
			send(map[string]any{"type": "ai_message_stream", "content": "jour"})
			send(map[string]any{
				"type":          "ai_message",
				"message_id":    "m-1",
				"content":       "Bonjour!",
				"llm_used":      "llama3",
				"response_time": 420,
				"tokens_used":   12,
				"rag_sources":   []map[string]any{{"filename": "guide.pdf", "similarity": 0.87}},
			})
		}
	})
	return mux
}

func TestChat_EndToEnd(t *testing.T) {
	received := make(chan map[string]any, 4)
	ta := newTestApp(t, chatBackend(t, received), config.State{Token: "tok", Username: "alice"})

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	done := make(chan error, 1)
	go func() {
		done <- ta.chat(context.Background(), chatOptions{
			UseAugmentation: true,
			Model:           "llama3",
			MetricsAddr:     "127.0.0.1:0",
			In:              pr,
		})
	}()

	waitFor := func(s string) {
		t.Helper()
		require.Eventually(t, func() bool { return strings.Contains(ta.out.String(), s) },
			5*time.Second, 10*time.Millisecond, "waiting for %q in:\n%s", s, ta.out.String())
	}

	waitFor("Welcome, alice!")
	_, err := io.WriteString(pw, "Bonjour?\n")
	require.NoError(t, err)

	select {
	case frame := <-received:
		assert.Equal(t, "Bonjour?", frame["content"])
		assert.Equal(t, true, frame["use_rag"])
		assert.Equal(t, "llama3", frame["model"])
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the chat message")
	}

	waitFor("12 tokens")
	_, err = io.WriteString(pw, "/quit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not end after /quit")
	}

	out := ta.out.String()
	assert.Contains(t, out, "session:      s-42")
	assert.Contains(t, out, "assistant: Bonjour!\n")
	assert.Contains(t, out, "1. guide.pdf (87%)")
	assert.Contains(t, out, "llama3 · reply in 420 ms · 12 tokens")
	assert.Equal(t, "s-42", ta.savedState(t).SessionID)
}
