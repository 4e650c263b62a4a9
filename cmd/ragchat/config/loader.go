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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// EnvBaseURL overrides server.base_url.
const EnvBaseURL = "RAGCHAT_API_BASE_URL"

var (
	// Global is a singleton instance
	Global RagchatConfig
	once   sync.Once
)

// Dir returns ~/.ragchat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".ragchat"), nil
}

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		var dir string
		if dir, err = Dir(); err != nil {
			return
		}
		Global, err = LoadFrom(filepath.Join(dir, "ragchat.yaml"))
	})
	return err
}

// LoadFrom reads the config at path, creating it with defaults on first run,
// then applies environment overrides and validates the result.
func LoadFrom(path string) (RagchatConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return RagchatConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RagchatConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}
	// Start from defaults so keys missing from older files keep sane values.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RagchatConfig{}, fmt.Errorf("failed to parse the config at %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return RagchatConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *RagchatConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.Server.BaseURL = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
