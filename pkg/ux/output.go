// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the exodev CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// exodev palette
var (
	ColorAccent  = lipgloss.Color("#2CD7C7")
	ColorPrimary = lipgloss.Color("#20B9B4")
	ColorPath    = lipgloss.Color("#C678DD")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#7F8C8D")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Path      lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Path:      lipgloss.NewStyle().Foreground(ColorPath),
	Highlight: lipgloss.NewStyle().Foreground(ColorAccent).Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Console writes human-facing output. When the destination is not a
// terminal it drops styling and prints plain prefixed lines instead.
type Console struct {
	out   io.Writer
	plain bool
}

// NewConsole returns a Console writing to w. Styling is enabled only when
// w is a terminal file.
func NewConsole(w io.Writer) *Console {
	plain := true
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		plain = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
	return &Console{out: w, plain: plain}
}

// Stdout returns a Console for os.Stdout.
func Stdout() *Console {
	return NewConsole(os.Stdout)
}

// Plain reports whether styling is disabled.
func (c *Console) Plain() bool {
	return c.plain
}

func (c *Console) style(s lipgloss.Style, text string) string {
	if c.plain {
		return text
	}
	return s.Render(text)
}

// Title prints a styled title surrounded by blank lines.
func (c *Console) Title(text string) {
	fmt.Fprintf(c.out, "\n%s\n\n", c.style(Styles.Title, text))
}

// Success prints a success message with checkmark
func (c *Console) Success(text string) {
	if c.plain {
		fmt.Fprintf(c.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func (c *Console) Warning(text string) {
	if c.plain {
		fmt.Fprintf(c.out, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func (c *Console) Error(text string) {
	if c.plain {
		fmt.Fprintf(c.out, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational line
func (c *Console) Info(text string) {
	fmt.Fprintln(c.out, text)
}

// KeyValue prints an aligned "key: value" line.
func (c *Console) KeyValue(key, value string) {
	fmt.Fprintf(c.out, "%s\t%s\n", c.style(Styles.Subtitle, key+":"), value)
}

// List prints a titled, numbered list. When items is empty the title is
// followed by the empty marker on the same line.
func (c *Console) List(title string, items []string, empty string) {
	if len(items) == 0 {
		fmt.Fprintf(c.out, "\n%s : %s\n", c.style(Styles.Success, title), c.style(Styles.Muted, empty))
		return
	}
	fmt.Fprintf(c.out, "\n%s\n\n", c.style(Styles.Success, title))
	for i, item := range items {
		fmt.Fprintf(c.out, "%d - %s\n", i+1, c.style(Styles.Path, item))
	}
}

// Tree prints entries as an indented tree, one level per path segment
// separated by sep.
func (c *Console) Tree(entries []string, sep string) {
	for _, entry := range entries {
		depth := strings.Count(entry, sep)
		name := entry
		if i := strings.LastIndex(entry, sep); i >= 0 {
			name = entry[i+len(sep):]
		}
		fmt.Fprintf(c.out, "%s%s %s\n", strings.Repeat("  ", depth), IconBullet, name)
	}
}
