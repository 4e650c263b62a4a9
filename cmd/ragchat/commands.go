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
	"time"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

// --- Global Command Variables ---
var (
	configPath       string
	baseURL          string
	logLevel         string
	personalityLevel string // UX personality level (full/minimal/machine)
	metricsAddr      string

	useAugmentation bool
	chatModel       string
	newSession      bool

	username      string
	password      string
	sessionTitle  string
	docTitle      string
	searchTopK    int
	searchThresh  float64
	watchSettle   time.Duration
	watchExisting bool

	rootCmd = &cobra.Command{
		Use:           "ragchat",
		Short:         "Chat with a retrieval-augmented assistant from the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Open a live chat session (reuses the saved session unless --new)",
		Args:  cobra.NoArgs,
		RunE:  runChatCommand, // Defined in cmd_chat.go
	}

	// --- Auth ---
	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Log in and save the credential",
		Args:  cobra.NoArgs,
		RunE:  runLoginCommand, // Defined in cmd_auth.go
	}
	registerCmd = &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE:  runRegisterCommand, // Defined in cmd_auth.go
	}
	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved credential and session",
		Args:  cobra.NoArgs,
		RunE:  runLogoutCommand, // Defined in cmd_auth.go
	}
	whoamiCmd = &cobra.Command{
		Use:   "whoami",
		Short: "Check the saved credential against the server",
		Args:  cobra.NoArgs,
		RunE:  runWhoamiCommand, // Defined in cmd_auth.go
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage the saved chat session",
	}
	sessionNewCmd = &cobra.Command{
		Use:   "new",
		Short: "Create a new chat session and make it current",
		Args:  cobra.NoArgs,
		RunE:  runSessionNewCommand, // Defined in cmd_session.go
	}
	sessionShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the saved session and credential status",
		Args:  cobra.NoArgs,
		RunE:  runSessionShowCommand, // Defined in cmd_session.go
	}
	sessionForgetCmd = &cobra.Command{
		Use:   "forget",
		Short: "Forget the saved session id (the credential is kept)",
		Args:  cobra.NoArgs,
		RunE:  runSessionForgetCommand, // Defined in cmd_session.go
	}

	// --- Documents ---
	docsCmd = &cobra.Command{
		Use:     "docs",
		Short:   "Manage reference documents",
		Aliases: []string{"documents"},
	}
	docsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE:  runDocsListCommand, // Defined in cmd_docs.go
	}
	docsUploadCmd = &cobra.Command{
		Use:   "upload [file...]",
		Short: "Upload documents (txt, md, pdf, html, json, csv, xls/xlsx/xlsm; up to 50 MB)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDocsUploadCommand, // Defined in cmd_docs.go
	}
	docsDeleteCmd = &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete documents by id",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDocsDeleteCommand, // Defined in cmd_docs.go
	}
	docsSearchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Similarity search over your documents",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDocsSearchCommand, // Defined in cmd_docs.go
	}
	docsWatchCmd = &cobra.Command{
		Use:   "watch [dir]",
		Short: "Upload files as they appear in a drop folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runDocsWatchCommand, // Defined in cmd_docs.go
	}

	// --- Health ---
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is up",
		Args:  cobra.NoArgs,
		RunE:  runHealthCommand, // Defined in cmd_health.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.ragchat/ragchat.yaml)")
	pf.StringVar(&baseURL, "base-url", "", "backend base URL, e.g. http://localhost:8000 (overrides config and RAGCHAT_API_BASE_URL)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&personalityLevel, "personality", "", "output style: full, minimal, machine (default: detect)")

	chatCmd.Flags().BoolVar(&useAugmentation, "rag", false, "ground replies in your documents (overrides config)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "ask the backend for a specific model")
	chatCmd.Flags().BoolVar(&newSession, "new", false, "start a new session instead of resuming the saved one")
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")

	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVarP(&username, "username", "u", "", "username (prompted when omitted)")
		c.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted; prefer the prompt)")
	}

	sessionNewCmd.Flags().StringVar(&sessionTitle, "title", "", "session title")

	docsUploadCmd.Flags().StringVar(&docTitle, "title", "", "document title (single file only)")
	docsSearchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "maximum number of hits (1-50)")
	docsSearchCmd.Flags().Float64Var(&searchThresh, "threshold", 0.7, "minimum similarity (0-1)")
	docsWatchCmd.Flags().DurationVar(&watchSettle, "settle", 750*time.Millisecond, "quiet period before a new file is uploaded")
	docsWatchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also upload files already in the folder")

	sessionCmd.AddCommand(sessionNewCmd, sessionShowCmd, sessionForgetCmd)
	docsCmd.AddCommand(docsListCmd, docsUploadCmd, docsDeleteCmd, docsSearchCmd, docsWatchCmd)
	rootCmd.AddCommand(chatCmd, loginCmd, registerCmd, logoutCmd, whoamiCmd, sessionCmd, docsCmd, healthCmd)
}
