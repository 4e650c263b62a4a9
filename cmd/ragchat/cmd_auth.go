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
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ragchat/pkg/api"
	"github.com/AleutianAI/ragchat/pkg/ux"
)

// promptFunc asks for whatever credentials are missing. Tests replace it.
type promptFunc func(ctx context.Context, creds *api.Credentials, confirm bool) error

var promptCredentials promptFunc = huhCredentials

func runLoginCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.login(cmd.Context(), api.Credentials{Username: username, Password: password}, promptCredentials)
}

func runRegisterCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.register(cmd.Context(), api.Credentials{Username: username, Password: password}, promptCredentials)
}

func runLogoutCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	a.state = a.state.Logout()
	if err := a.saveState(); err != nil {
		return err
	}
	a.out.Success("Logged out")
	return nil
}

func runWhoamiCommand(cmd *cobra.Command, args []string) error {
	a, err := newAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.whoami(cmd.Context())
}

// login exchanges credentials for a token and saves it. A new login drops
// the saved session, which belonged to whoever was logged in before.
func (a *app) login(ctx context.Context, creds api.Credentials, prompt promptFunc) error {
	if err := fillCredentials(ctx, &creds, false, prompt); err != nil {
		return err
	}
	tok, err := a.api.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	name := strings.TrimSpace(creds.Username)
	if a.state.Username != name {
		a.state = a.state.ForgetSession()
	}
	a.state.Token = tok.AccessToken
	a.state.Username = name
	if err := a.saveState(); err != nil {
		return err
	}
	a.logger.Info("logged in", "username", name, "token_present", true)
	a.out.Success(fmt.Sprintf("Logged in as %s", name))
	return nil
}

// register creates an account. It does not log in.
func (a *app) register(ctx context.Context, creds api.Credentials, prompt promptFunc) error {
	if err := fillCredentials(ctx, &creds, true, prompt); err != nil {
		return err
	}
	user, err := a.api.Register(ctx, creds)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	name := user.Username
	if name == "" {
		name = strings.TrimSpace(creds.Username)
	}
	a.out.Success(fmt.Sprintf("Account %s created. Run 'ragchat login' to sign in.", name))
	return nil
}

// whoami checks the saved credential with the server.
func (a *app) whoami(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	tok, err := a.api.Me(ctx)
	if err != nil {
		return a.authError(err)
	}
	a.out.Fields(
		[2]string{"user", a.state.Username},
		[2]string{"server", a.cfg.Server.BaseURL},
		[2]string{"token", tok.TokenType},
		[2]string{"session", a.state.SessionID},
	)
	return nil
}

// fillCredentials prompts for missing fields when a terminal is attached.
func fillCredentials(ctx context.Context, creds *api.Credentials, confirm bool, prompt promptFunc) error {
	if creds.Username != "" && creds.Password != "" {
		return nil
	}
	if prompt == nil {
		return errors.New("username and password are required (use --username and --password)")
	}
	return prompt(ctx, creds, confirm)
}

// huhCredentials shows a form for the missing fields.
func huhCredentials(ctx context.Context, creds *api.Credentials, confirm bool) error {
	if !ux.IsInteractive() {
		return errors.New("username and password are required (use --username and --password)")
	}

	var fields []huh.Field
	if creds.Username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(&creds.Username).
			Validate(func(s string) error {
				if n := len(strings.TrimSpace(s)); n < 3 || n > 50 {
					return errors.New("3 to 50 characters")
				}
				return nil
			}))
	}
	var again string
	askPassword := creds.Password == ""
	if askPassword {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&creds.Password).
			Validate(func(s string) error {
				if n := len(s); n < 6 || n > 100 {
					return errors.New("6 to 100 characters")
				}
				return nil
			}))
		if confirm {
			fields = append(fields, huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&again))
		}
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).RunWithContext(ctx); err != nil {
		return err
	}
	if confirm && askPassword && again != creds.Password {
		return errors.New("passwords do not match")
	}
	return nil
}
