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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// State is what the CLI remembers between runs. It holds a credential, so
// the file is written owner-only.
type State struct {
	// BaseURL the token and session were issued by. A different server
	// invalidates both.
	BaseURL   string `yaml:"base_url,omitempty"`
	Token     string `yaml:"token,omitempty"`
	Username  string `yaml:"username,omitempty"`
	SessionID string `yaml:"session_id,omitempty"`
}

// StatePath returns ~/.ragchat/state.yaml.
func StatePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.yaml"), nil
}

// LoadState reads the state file. A missing file is an empty State.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read state %s: %w", path, err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to parse state %s: %w", path, err)
	}
	return st, nil
}

// SaveState writes st to path with mode 0600.
func SaveState(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create the state directory %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// ForServer returns st if it was issued by baseURL, and an empty State
// otherwise.
func (st State) ForServer(baseURL string) State {
	if st.BaseURL != "" && st.BaseURL != baseURL {
		return State{BaseURL: baseURL}
	}
	st.BaseURL = baseURL
	return st
}

// ForgetSession clears the session id, keeping the credential.
func (st State) ForgetSession() State {
	st.SessionID = ""
	return st
}

// Logout clears the credential and everything issued under it.
func (st State) Logout() State {
	return State{BaseURL: st.BaseURL}
}
