// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders the chat client's terminal output: the conversation as
// it streams in, connection status, and the notices printed by the other
// commands.
//
// Output goes to an io.Writer at one of three personality levels. Full
// output is colored with lipgloss; minimal and machine output never emit
// escape sequences.
package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Color palette: deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, assistant replies
	ColorTealPrimary = lipgloss.Color("#20B9B4") // user turns
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	User:      lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),
	Assistant: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	System:    lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	case IconPending:
		return Styles.Muted
	default:
		return lipgloss.NewStyle()
	}
}

// Printer writes notices at a fixed personality level.
//
// # Thread Safety
//
// Safe for concurrent use; each call writes whole lines under a lock.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, level PersonalityLevel) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the personality level.
func (p *Printer) Level() PersonalityLevel {
	return p.level
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// render applies s only at full personality.
func (p *Printer) render(s lipgloss.Style, text string) string {
	if p.level != PersonalityFull {
		return text
	}
	return s.Render(text)
}

func (p *Printer) icon(i Icon) string {
	return p.render(i.style(), string(i))
}

// Terminal write errors are non-recoverable and ignored.
func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *Printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.w, s)
}

// Title prints a styled title. Machine output omits it.
func (p *Printer) Title(text string) {
	if p.level == PersonalityMachine {
		return
	}
	p.println(p.render(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.level {
	case PersonalityMachine:
		p.println("OK: " + text)
	default:
		p.println(p.icon(IconSuccess) + " " + p.render(Styles.Success, text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.level {
	case PersonalityMachine:
		p.println("WARN: " + text)
	default:
		p.println(p.icon(IconWarning) + " " + p.render(Styles.Warning, text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.level {
	case PersonalityMachine:
		p.println("ERROR: " + text)
	default:
		p.println(p.icon(IconError) + " " + p.render(Styles.Error, text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	switch p.level {
	case PersonalityMachine:
		p.println(text)
	default:
		p.println(p.render(Styles.Muted, "│") + " " + text)
	}
}

// Muted prints secondary text. Machine output omits it.
func (p *Printer) Muted(text string) {
	if p.level == PersonalityMachine {
		return
	}
	p.println(p.render(Styles.Muted, text))
}

// Box prints text in a rounded box at full personality, and as a
// "title: content" line otherwise.
func (p *Printer) Box(title, content string) {
	if p.level != PersonalityFull {
		p.println(title + ": " + content)
		return
	}
	p.println(Styles.Box.Width(60).Render(Styles.Title.Render(title) + "\n" + content))
}

// WarningBox prints text in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	if p.level != PersonalityFull {
		p.println("WARN " + title + ": " + content)
		return
	}
	p.println(Styles.WarningBox.Width(60).Render(Styles.Warning.Bold(true).Render(title) + "\n" + content))
}

// Fields prints one "key: value" line per pair, keys padded to align. Pairs
// with an empty value are skipped. Machine output is tab separated.
func (p *Printer) Fields(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		if kv[1] != "" && len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		if p.level == PersonalityMachine {
			p.println(kv[0] + "\t" + kv[1])
			continue
		}
		key := kv[0] + ":" + strings.Repeat(" ", width-len(kv[0]))
		p.println(p.render(Styles.Muted, key) + " " + kv[1])
	}
}

// Bullet prints an indented list item with optional muted detail.
func (p *Printer) Bullet(text, detail string) {
	if p.level == PersonalityMachine {
		if detail != "" {
			p.println(text + "\t" + detail)
		} else {
			p.println(text)
		}
		return
	}
	line := "  " + p.icon(IconBullet) + " " + text
	if detail != "" {
		line += " " + p.render(Styles.Muted, "("+detail+")")
	}
	p.println(line)
}
