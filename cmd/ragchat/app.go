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
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ragchat/cmd/ragchat/config"
	"github.com/AleutianAI/ragchat/pkg/api"
	"github.com/AleutianAI/ragchat/pkg/logging"
	"github.com/AleutianAI/ragchat/pkg/telemetry"
	"github.com/AleutianAI/ragchat/pkg/ux"
)

// errNotLoggedIn is returned by commands that need a saved credential.
var errNotLoggedIn = errors.New("not logged in; run 'ragchat login' first")

// appOptions are the inputs resolved from flags. Tests fill them directly.
type appOptions struct {
	ConfigPath  string
	StatePath   string
	BaseURL     string
	LogLevel    string
	Personality string
	Out         io.Writer
	LogWriter   io.Writer
}

// app is the shared runtime of one command invocation.
type app struct {
	cfg       config.RagchatConfig
	logger    *logging.Logger
	out       *ux.Printer
	statePath string
	state     config.State
	api       *api.Client

	// registry backs /metrics; telemetry and the chat session share it.
	registry          *prometheus.Registry
	shutdownTelemetry func(context.Context) error
}

// newAppFromFlags builds the runtime from the global flag values.
func newAppFromFlags(cmd *cobra.Command) (*app, error) {
	return newApp(appOptions{
		ConfigPath:  configPath,
		BaseURL:     baseURL,
		LogLevel:    logLevel,
		Personality: personalityLevel,
		Out:         cmd.OutOrStdout(),
	})
}

// newApp loads config and state and creates the HTTP client.
//
// Precedence for the base URL is flag, then RAGCHAT_API_BASE_URL, then the
// config file. The saved state is dropped when it was issued by a
// different server.
func newApp(opts appOptions) (*app, error) {
	var (
		cfg config.RagchatConfig
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFrom(opts.ConfigPath)
	} else if err = config.Load(); err == nil {
		cfg = config.Global
	}
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(opts.BaseURL); v != "" {
		cfg.Server.BaseURL = v
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Personality != "" {
		cfg.Output.Personality = opts.Personality
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "ragchat",
		Writer:  opts.LogWriter,
	})

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	statePath := opts.StatePath
	if statePath == "" {
		if statePath, err = config.StatePath(); err != nil {
			logger.Close()
			return nil, err
		}
	}
	st, err := config.LoadState(statePath)
	if err != nil {
		logger.Close()
		return nil, err
	}
	st = st.ForServer(cfg.Server.BaseURL)

	reg := newMetricsRegistry()
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(telemetry.Config{
		ServiceName:    "ragchat",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.Traces,
		MetricExporter: cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Registerer:     reg,
		Writer:         opts.LogWriter,
	}))
	if err != nil {
		logger.Close()
		return nil, err
	}

	// Created after telemetry so its histogram binds to the installed meter.
	client, err := api.New(cfg.Server.BaseURL,
		api.WithBearer(st.Token),
		api.WithLogger(logger.Slog()),
	)
	if err != nil {
		shutdownTelemetry(context.Background())
		logger.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		out:       ux.NewPrinter(out, ux.DetectPersonality(out, cfg.Output.Personality)),
		statePath: statePath,
		state:     st,
		api:       client,

		registry:          reg,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// saveState persists a.state and points the HTTP client at its credential.
func (a *app) saveState() error {
	if err := config.SaveState(a.statePath, a.state); err != nil {
		return err
	}
	a.api = a.api.WithToken(a.state.Token)
	return nil
}

func (a *app) requireLogin() error {
	if a.state.Token == "" {
		return errNotLoggedIn
	}
	return nil
}

// authError rewrites a 401 into a hint to log in again and clears the
// stale credential.
func (a *app) authError(err error) error {
	if !api.IsUnauthorized(err) {
		return err
	}
	a.state = a.state.Logout()
	if serr := a.saveState(); serr != nil {
		a.logger.Warn("failed to clear expired credential", "error", serr)
	}
	return fmt.Errorf("credential rejected by the server; run 'ragchat login' again: %w", err)
}

func (a *app) close() {
	if err := a.shutdownTelemetry(context.Background()); err != nil {
		a.logger.Debug("telemetry shutdown", "error", err)
	}
	a.logger.Close()
}
