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
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ragchat/pkg/api"
)

func runSessionNewCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	id, err := a.newSession(cmd.Context(), sessionTitle)
	if err != nil {
		return err
	}
	a.out.Success("New session " + id)
	return nil
}

func runSessionShowCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	a.showSession()
	return nil
}

func runSessionForgetCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	a.state = a.state.ForgetSession()
	if err := a.saveState(); err != nil {
		return err
	}
	a.out.Success("Session forgotten; the next chat starts a new one")
	return nil
}

// newSession creates a session on the server and makes it current.
func (a *app) newSession(ctx context.Context, title string) (string, error) {
	if err := a.requireLogin(); err != nil {
		return "", err
	}
	sess, err := a.api.CreateSession(ctx, api.CreateSessionRequest{Title: title})
	if err != nil {
		return "", a.authError(fmt.Errorf("create session: %w", err))
	}
	a.state.SessionID = sess.SessionID
	if err := a.saveState(); err != nil {
		return "", err
	}
	a.logger.Info("session created", "session_id", sess.SessionID)
	return sess.SessionID, nil
}

// ensureSession returns the saved session id, creating a session when there
// is none or fresh is set.
func (a *app) ensureSession(ctx context.Context, fresh bool) (string, error) {
	if err := a.requireLogin(); err != nil {
		return "", err
	}
	if a.state.SessionID != "" && !fresh {
		return a.state.SessionID, nil
	}
	return a.newSession(ctx, "")
}

func (a *app) showSession() {
	a.out.Fields(
		[2]string{"server", a.cfg.Server.BaseURL},
		[2]string{"user", a.state.Username},
		[2]string{"logged in", strconv.FormatBool(a.state.Token != "")},
		[2]string{"session", a.state.SessionID},
	)
	if a.state.SessionID == "" {
		a.out.Muted("No saved session; 'ragchat chat' will create one.")
	}
}
