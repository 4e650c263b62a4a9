// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/ragchat/pkg/chat"
	"github.com/AleutianAI/ragchat/pkg/session"
)

// HeaderConfig holds the values shown when a chat starts.
type HeaderConfig struct {
	BaseURL         string
	SessionID       string
	UseAugmentation bool
	Model           string
}

// ChatUI renders a live conversation.
type ChatUI interface {
	// Header displays the session header.
	Header(config HeaderConfig)

	// Prompt returns the input prompt string.
	Prompt() string

	// Welcome greets the user by the name the server reported.
	Welcome(username string)

	// Update renders one coordinator update.
	//
	// # Description
	//
	// Deltas are written as they arrive on one open line; the final reply
	// closes that line and adds its sources and metadata. Connection
	// changes render as status notices. Machine output prints whole lines
	// only, so deltas are skipped and the reply is printed on final.
	Update(u session.Update)

	// History renders a snapshot of the message log.
	History(messages []chat.Message)

	// Notice prints a client-side status line, e.g. "augmentation on".
	Notice(text string)

	// Error displays an error.
	Error(err error)
}

// terminalChatUI implements ChatUI for terminal output.
//
// Exported methods are serialized so input-side notices never split an
// open delta line.
type terminalChatUI struct {
	mu       sync.Mutex
	p        *Printer
	echoUser bool

	streaming bool
	streamed  strings.Builder
}

// NewChatUI creates a ChatUI writing to w. echoUser re-prints the user's own
// turns, which is wanted when input is not typed at a terminal.
func NewChatUI(w io.Writer, level PersonalityLevel, echoUser bool) ChatUI {
	return &terminalChatUI{p: NewPrinter(w, level), echoUser: echoUser}
}

func (u *terminalChatUI) machine() bool {
	return u.p.level == PersonalityMachine
}

// Header displays the session header.
func (u *terminalChatUI) Header(config HeaderConfig) {
	u.mu.Lock()
	defer u.mu.Unlock()
	aug := "off"
	if config.UseAugmentation {
		aug = "on"
	}
	if u.machine() {
		u.p.println(fmt.Sprintf("SESSION: %s augmentation=%s", config.SessionID, aug))
		return
	}
	lines := []string{
		u.p.render(Styles.Muted, "session:      ") + config.SessionID,
		u.p.render(Styles.Muted, "server:       ") + config.BaseURL,
		u.p.render(Styles.Muted, "augmentation: ") + aug,
	}
	if config.Model != "" {
		lines = append(lines, u.p.render(Styles.Muted, "model:        ")+config.Model)
	}
	lines = append(lines, u.p.render(Styles.Muted, "commands:     /rag on|off, /history, /reconnect, /quit"))
	u.p.Box("ragchat", strings.Join(lines, "\n"))
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.p.level != PersonalityFull {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Welcome greets the user.
func (u *terminalChatUI) Welcome(username string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.welcome(username)
}

func (u *terminalChatUI) welcome(username string) {
	u.endStream()
	if username == "" {
		username = "there"
	}
	if u.machine() {
		u.p.println("READY: " + username)
		return
	}
	u.p.println(u.p.render(Styles.Title, fmt.Sprintf("Welcome, %s! Ask me anything.", username)))
}

// Notice prints a client-side status line.
func (u *terminalChatUI) Notice(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.endStream()
	u.p.Info(text)
}

// Error displays an error.
func (u *terminalChatUI) Error(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.endStream()
	if u.machine() {
		u.p.println(fmt.Sprintf("ERROR: %v", err))
		return
	}
	u.p.Error(err.Error())
}

// History renders the whole log.
func (u *terminalChatUI) History(messages []chat.Message) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.endStream()
	if len(messages) == 0 {
		u.p.Muted("(no messages yet)")
		return
	}
	for _, m := range messages {
		u.message(m)
	}
}

// Update renders one coordinator update.
func (u *terminalChatUI) Update(up session.Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch up.Kind {
	case session.UpdateConnected:
		u.p.Success("Connected")
	case session.UpdateReady:
		u.welcome(up.Username)
	case session.UpdateReconnecting:
		u.endStream()
		if up.Attempt == 0 {
			u.p.Warning("Connection lost. Reconnecting...")
		} else {
			u.p.Warning(fmt.Sprintf("Reconnecting (attempt %d/%d)...", up.Attempt, up.MaxAttempts))
		}
	case session.UpdateDisconnected:
		u.endStream()
		msg := fmt.Sprintf("Disconnected after %d attempts.", up.Attempt)
		if up.Err != nil {
			msg = fmt.Sprintf("Disconnected after %d attempts: %v.", up.Attempt, up.Err)
		}
		u.p.Error(msg)
		u.p.Muted("Type /reconnect to try again.")
	case session.UpdateClosed:
		u.endStream()
		u.p.Muted("Session closed.")
	case session.UpdateComposing:
		if up.Composing && !u.streaming {
			if u.machine() {
				u.p.println("COMPOSING")
				return
			}
			u.p.Muted("assistant is composing...")
		}
	case session.UpdateDelta:
		u.delta(up.Delta)
	case session.UpdateFinal:
		u.final(up.Message)
	case session.UpdateAppError:
		u.endStream()
		u.message(up.Message)
	case session.UpdateProtocolError:
		u.endStream()
		u.p.Warning(fmt.Sprintf("Server reported a protocol error: %v", up.Err))
	case session.UpdateUserMessage:
		if u.echoUser {
			u.endStream()
			u.message(up.Message)
		}
	case session.UpdateInterrupted:
		u.endStream()
		u.p.Muted("(previous reply interrupted)")
	}
}

func (u *terminalChatUI) delta(text string) {
	if u.machine() || text == "" {
		return
	}
	if !u.streaming {
		u.streaming = true
		u.streamed.Reset()
		u.p.write(u.rolePrefix(chat.RoleAssistant))
	}
	u.streamed.WriteString(text)
	u.p.write(text)
}

// final closes the streamed line. When the authoritative content diverges
// from what was streamed, the full reply is printed again.
func (u *terminalChatUI) final(m chat.Message) {
	if u.machine() {
		u.message(m)
		return
	}
	if u.streaming {
		streamed := u.streamed.String()
		u.streaming = false
		u.streamed.Reset()
		switch {
		case streamed == m.Content:
			u.p.write("\n")
		case strings.HasPrefix(m.Content, streamed):
			u.p.write(m.Content[len(streamed):] + "\n")
		default:
			u.p.write("\n")
			u.p.println(u.rolePrefix(m.Role) + m.Content)
		}
		u.footer(m.Metadata)
		return
	}
	u.message(m)
}

// endStream terminates an open delta line before anything else is printed.
func (u *terminalChatUI) endStream() {
	if !u.streaming {
		return
	}
	u.streaming = false
	u.streamed.Reset()
	u.p.write("\n")
}

func (u *terminalChatUI) rolePrefix(role chat.Role) string {
	switch role {
	case chat.RoleUser:
		return u.p.render(Styles.User, "you") + ": "
	case chat.RoleSystem:
		return u.p.render(Styles.System, "system") + ": "
	default:
		return u.p.render(Styles.Assistant, "assistant") + ": "
	}
}

func (u *terminalChatUI) message(m chat.Message) {
	if u.machine() {
		tag := "RESPONSE"
		switch m.Role {
		case chat.RoleUser:
			tag = "USER"
		case chat.RoleSystem:
			tag = "SYSTEM"
		}
		u.p.println(tag + ": " + m.Content)
		u.footer(m.Metadata)
		return
	}
	content := m.Content
	if m.Role == chat.RoleSystem {
		content = u.p.render(Styles.Error, content)
	}
	u.p.println(u.rolePrefix(m.Role) + content)
	u.footer(m.Metadata)
}

// footer prints the sources and the model/latency line of a reply.
func (u *terminalChatUI) footer(md *chat.Metadata) {
	if md == nil {
		return
	}
	if md.Interrupted {
		u.p.Muted("  (interrupted)")
		return
	}

	if u.machine() {
		for _, s := range md.Sources {
			u.p.println(fmt.Sprintf("SOURCE: %s similarity=%d%%", s.Filename, s.Percent()))
		}
		meta := "META: model=" + md.Model
		if lat, ok := md.Latency(); ok {
			meta += fmt.Sprintf(" latency_ms=%d", lat.Milliseconds())
		}
		if md.TokenCount != nil {
			meta += fmt.Sprintf(" tokens=%d", *md.TokenCount)
		}
		u.p.println(meta)
		return
	}

	if len(md.Sources) > 0 {
		u.p.Muted("  Sources:")
		for i, s := range md.Sources {
			u.p.println(fmt.Sprintf("    %d. %s %s", i+1, s.Filename, u.p.render(Styles.Muted, fmt.Sprintf("(%d%%)", s.Percent()))))
		}
	}

	var parts []string
	if md.Model != "" {
		parts = append(parts, md.Model)
	}
	if lat, ok := md.Latency(); ok {
		parts = append(parts, "reply in "+formatDuration(lat))
	}
	if md.TokenCount != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", *md.TokenCount))
	}
	if len(parts) > 0 {
		u.p.Muted("  " + strings.Join(parts, " · "))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
