// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel defines the verbosity and richness of CLI output
type PersonalityLevel string

const (
	// PersonalityFull enables colors, icons and boxed notices
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal uses icons and plain text, no colors
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs prefixed plain lines suitable for scripting
	PersonalityMachine PersonalityLevel = "machine"
)

// PersonalityEnv overrides the detected level.
const PersonalityEnv = "RAGCHAT_PERSONALITY"

// ParsePersonalityLevel converts a string to PersonalityLevel. Unknown values
// fall back to full.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m", "plain":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// DetectPersonality picks the level for output written to w.
//
// An explicit value (flag or config) wins, then RAGCHAT_PERSONALITY. Without
// either, a terminal gets full output and anything else gets machine output.
// NO_COLOR downgrades full to minimal.
func DetectPersonality(w io.Writer, explicit string) PersonalityLevel {
	level := PersonalityMachine
	switch {
	case explicit != "":
		level = ParsePersonalityLevel(explicit)
	case os.Getenv(PersonalityEnv) != "":
		level = ParsePersonalityLevel(os.Getenv(PersonalityEnv))
	case IsTerminal(w):
		level = PersonalityFull
	}
	if level == PersonalityFull && os.Getenv("NO_COLOR") != "" {
		level = PersonalityMinimal
	}
	return level
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive returns true if stdin and stdout are both terminals, so
// prompts can be shown.
func IsInteractive() bool {
	return IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}
