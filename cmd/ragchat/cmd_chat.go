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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ragchat/pkg/chat"
	"github.com/AleutianAI/ragchat/pkg/session"
	"github.com/AleutianAI/ragchat/pkg/transport"
	"github.com/AleutianAI/ragchat/pkg/ux"
)

// chatSession is the part of *session.Client the chat loop drives.
type chatSession interface {
	Updates() <-chan session.Update
	SendMessage(text string) (chat.Message, error)
	SetAugmentation(enabled bool) error
	Augmentation() bool
	Reconnect() error
	Messages() []chat.Message
	Close() error
}

var _ chatSession = (*session.Client)(nil)

func runChatCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	aug := a.cfg.Chat.UseAugmentation
	if cmd.Flags().Changed("rag") {
		aug = useAugmentation
	}
	model := a.cfg.Chat.Model
	if chatModel != "" {
		model = chatModel
	}

	return a.chat(cmd.Context(), chatOptions{
		FreshSession:    newSession,
		UseAugmentation: aug,
		Model:           model,
		MetricsAddr:     firstNonEmpty(metricsAddr, a.cfg.Metrics.Addr),
		In:              os.Stdin,
		EchoUser:        !ux.IsTerminal(os.Stdin),
	})
}

type chatOptions struct {
	FreshSession    bool
	UseAugmentation bool
	Model           string
	MetricsAddr     string
	In              io.Reader
	EchoUser        bool

	// Dialer replaces the WebSocket dialer. Tests use it.
	Dialer transport.Dialer
}

// chat opens a session and runs the interactive loop until /quit, end of
// input or ctx is cancelled.
func (a *app) chat(ctx context.Context, opts chatOptions) error {
	sessionID, err := a.ensureSession(ctx, opts.FreshSession)
	if err != nil {
		return err
	}

	metrics := session.NewMetrics(a.registry)
	if opts.MetricsAddr != "" {
		srv, err := startMetricsServer(opts.MetricsAddr, a.registry, a.logger.Slog())
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer srv.Shutdown()
	}

	client, err := session.NewClient(session.Config{
		BaseURL: a.cfg.Server.BaseURL,
		Session: session.SessionContext{
			SessionID:       sessionID,
			Credential:      a.state.Token,
			UseAugmentation: opts.UseAugmentation,
			Model:           opts.Model,
		},
		Dialer:         opts.Dialer,
		MaxAttempts:    a.cfg.Reconnect.MaxAttempts,
		ReconnectDelay: a.cfg.Reconnect.Delay,
		TypingInterval: a.cfg.Chat.TypingInterval,
		Logger:         a.logger.Slog(),
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	ui := ux.NewChatUI(a.out.Writer(), a.out.Level(), opts.EchoUser)
	ui.Header(ux.HeaderConfig{
		BaseURL:         a.cfg.Server.BaseURL,
		SessionID:       sessionID,
		UseAugmentation: opts.UseAugmentation,
		Model:           opts.Model,
	})

	if err := client.Connect(); err != nil {
		client.Close()
		return fmt.Errorf("connect: %w", err)
	}
	return runChatLoop(ctx, client, opts.In, ui)
}

// runChatLoop reads input lines and renders updates concurrently.
//
// # Description
//
// The input goroutine owns the session: when input ends, /quit is typed or
// ctx is cancelled, it closes the session. The renderer drains Updates until
// the session closes it, so every update produced before the close is
// rendered.
func runChatLoop(ctx context.Context, sess chatSession, in io.Reader, ui ux.ChatUI) error {
	g, gctx := errgroup.WithContext(ctx)
	updates := sess.Updates()

	g.Go(func() error {
		for u := range updates {
			ui.Update(u)
		}
		return nil
	})

	g.Go(func() error {
		defer sess.Close()
		lines := scanLines(gctx.Done(), in)
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleInput(sess, ui, line); quit {
					return nil
				}
			}
		}
	})

	return g.Wait()
}

// scanLines feeds lines from r to a channel, closed at end of input. The
// reading goroutine may outlive the loop while blocked on a terminal.
func scanLines(done <-chan struct{}, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// chatCommand is a parsed slash command.
type chatCommand struct {
	name string
	arg  string
}

// parseChatInput splits "/name arg" input. ok is false for plain messages.
// A leading "//" escapes a message that starts with a slash.
func parseChatInput(line string) (cmd chatCommand, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "//") {
		return chatCommand{}, false
	}
	name, arg, _ := strings.Cut(trimmed[1:], " ")
	return chatCommand{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

// handleInput runs one line of input. It returns true to end the chat.
func handleInput(sess chatSession, ui ux.ChatUI, line string) bool {
	cmd, isCmd := parseChatInput(line)
	if !isCmd {
		text := strings.TrimSpace(line)
		if strings.HasPrefix(text, "//") {
			text = text[1:]
		}
		if text == "" {
			return false
		}
		if _, err := sess.SendMessage(text); err != nil {
			switch {
			case errors.Is(err, session.ErrNotConnected):
				ui.Error(errors.New("not connected; message not sent (type /reconnect after a disconnect)"))
			case errors.Is(err, session.ErrClosed):
				return true
			default:
				ui.Error(fmt.Errorf("message not sent: %w", err))
			}
		}
		return false
	}

	switch cmd.name {
	case "quit", "exit", "q":
		return true
	case "rag", "augment":
		switch strings.ToLower(cmd.arg) {
		case "on", "true", "1":
			if err := sess.SetAugmentation(true); err != nil {
				ui.Error(err)
				return false
			}
		case "off", "false", "0":
			if err := sess.SetAugmentation(false); err != nil {
				ui.Error(err)
				return false
			}
		case "":
		default:
			ui.Error(errors.New("usage: /rag on|off"))
			return false
		}
		state := "off"
		if sess.Augmentation() {
			state = "on"
		}
		ui.Notice("augmentation " + state)
	case "reconnect":
		if err := sess.Reconnect(); err != nil {
			ui.Error(fmt.Errorf("reconnect: %w", err))
		}
	case "history":
		ui.History(sess.Messages())
	case "help", "?":
		ui.Notice("/rag on|off  toggle document grounding for following messages")
		ui.Notice("/history     show the conversation so far")
		ui.Notice("/reconnect   reconnect after the connection gave up")
		ui.Notice("/quit        leave the chat")
	default:
		ui.Error(fmt.Errorf("unknown command /%s (try /help)", cmd.name))
	}
	return false
}
