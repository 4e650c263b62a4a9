// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)

	p.Title("ignored")
	p.Success("uploaded")
	p.Warning("slow")
	p.Error("failed")
	p.Info("plain")
	p.Muted("ignored too")
	p.Box("Status", "healthy")
	p.Bullet("notes.md", "3 chunks")
	p.Fields([2]string{"user", "alice"}, [2]string{"email", ""})

	assert.Equal(t, strings.Join([]string{
		"OK: uploaded",
		"WARN: slow",
		"ERROR: failed",
		"plain",
		"Status: healthy",
		"notes.md\t3 chunks",
		"user\talice",
		"",
	}, "\n"), buf.String())
}

func TestPrinter_MinimalHasNoEscapes(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMinimal)

	p.Title("Documents")
	p.Success("done")
	p.Error("bad")
	p.Info("hello")
	p.Bullet("a.txt", "")

	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "Documents\n")
	assert.Contains(t, out, "✓ done\n")
	assert.Contains(t, out, "✗ bad\n")
	assert.Contains(t, out, "│ hello\n")
	assert.Contains(t, out, "  • a.txt\n")
}

func TestPrinter_FieldsAlign(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMinimal)

	p.Fields([2]string{"status", "healthy"}, [2]string{"version", "1.2.0"}, [2]string{"skipped", ""})

	assert.Equal(t, "status:  healthy\nversion: 1.2.0\n", buf.String())
}

func TestPrinter_Level(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityFull)
	assert.Equal(t, PersonalityFull, p.Level())
	assert.Same(t, &buf, p.Writer())
}
