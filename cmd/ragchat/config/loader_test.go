// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".ragchat", "ragchat.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}

	var cfg RagchatConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Errorf("Server.BaseURL = %q, want %q", cfg.Server.BaseURL, DefaultBaseURL)
	}
	if cfg.Meta.Version != CurrentConfigVersion {
		t.Errorf("Meta.Version = %q, want %q", cfg.Meta.Version, CurrentConfigVersion)
	}
	if cfg.Reconnect.Delay != DefaultReconnectDelay {
		t.Errorf("Reconnect.Delay = %v, want %v", cfg.Reconnect.Delay, DefaultReconnectDelay)
	}
}

// TestLoadFrom_FirstRun verifies a missing file is created and loaded.
func TestLoadFrom_FirstRun(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	configPath := filepath.Join(t.TempDir(), "deep", "nested", "ragchat.yaml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file was not created: %v", err)
	}
	if cfg.Reconnect.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.Reconnect.MaxAttempts, DefaultMaxAttempts)
	}
}

// TestLoadFrom_PartialFileKeepsDefaults verifies missing keys fall back.
func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	configPath := filepath.Join(t.TempDir(), "ragchat.yaml")
	body := "server:\n  base_url: https://chat.example.com\nchat:\n  use_augmentation: true\nreconnect:\n  delay: 500ms\n"
	if err := os.WriteFile(configPath, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.Server.BaseURL != "https://chat.example.com" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if !cfg.Chat.UseAugmentation {
		t.Error("UseAugmentation should be true")
	}
	if cfg.Reconnect.Delay != 500*time.Millisecond {
		t.Errorf("Delay = %v, want 500ms", cfg.Reconnect.Delay)
	}
	if cfg.Reconnect.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want default %d", cfg.Reconnect.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Chat.TypingInterval != DefaultTypingInterval {
		t.Errorf("TypingInterval = %v, want default", cfg.Chat.TypingInterval)
	}
}

// TestLoadFrom_EnvOverride verifies RAGCHAT_API_BASE_URL wins over the file.
func TestLoadFrom_EnvOverride(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://10.0.0.5:8000")
	configPath := filepath.Join(t.TempDir(), "ragchat.yaml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.Server.BaseURL != "http://10.0.0.5:8000" {
		t.Errorf("BaseURL = %q, want env value", cfg.Server.BaseURL)
	}
}

// TestLoadFrom_Invalid verifies bad values are rejected.
func TestLoadFrom_Invalid(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "server: [\n"},
		{"bad url", "server:\n  base_url: not a url\n"},
		{"zero attempts", "reconnect:\n  max_attempts: 0\n"},
		{"unknown log level", "logging:\n  level: loud\n"},
		{"unknown personality", "output:\n  personality: pirate\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "ragchat.yaml")
			if err := os.WriteFile(configPath, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFrom(configPath); err == nil {
				t.Error("LoadFrom() should fail")
			}
		})
	}
}
