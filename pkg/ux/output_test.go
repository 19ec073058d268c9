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

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

func TestNewConsole_BufferIsPlain(t *testing.T) {
	c := NewConsole(&bytes.Buffer{})
	assert.True(t, c.Plain())
}

func TestConsole_PlainMessages(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Success("type check passed")
	c.Warning("port busy")
	c.Error("build failed")
	c.KeyValue("NODE_ENV", "development")

	out := buf.String()
	assert.Contains(t, out, "OK: type check passed\n")
	assert.Contains(t, out, "WARN: port busy\n")
	assert.Contains(t, out, "ERROR: build failed\n")
	assert.Contains(t, out, "NODE_ENV:\tdevelopment\n")
	assert.NotContains(t, out, "\x1b[")
}

func TestConsole_List(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.List("WATCHING", []string{"app/**/*.ts", "config/**/*.ts"}, "nothing here...")
	c.List("IGNORED", nil, "nothing here...")

	out := buf.String()
	assert.Contains(t, out, "1 - app/**/*.ts")
	assert.Contains(t, out, "2 - config/**/*.ts")
	assert.Contains(t, out, "IGNORED : nothing here...")
}

func TestConsole_Tree(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf).Tree([]string{"api", "api/user.js"}, "/")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"• api", "  • user.js"}, lines)
}
