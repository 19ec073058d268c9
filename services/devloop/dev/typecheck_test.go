// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dev

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exodev/pkg/ux"
	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/process"
)

// shellLauncher returns a launcher whose worker is a shell script. The
// script reads the token line from fd 3 before writing to fd 4.
func shellLauncher(t *testing.T, script string) (*TypeCheckLauncher, *syncBuffer) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	out := &syncBuffer{}
	orch := process.NewOrchestrator(process.WithExecutable("/bin/sh"), process.WithKillGrace(time.Second))
	l := NewTypeCheckLauncher(t.TempDir(), "-", orch, ux.NewConsole(out), nil)
	l.Args = []string{"-c", "read -r token <&3; " + script}
	return l, out
}

func waitFor(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), want) },
		5*time.Second, 10*time.Millisecond, "output: %s", out.String())
}

func TestTypeCheckLauncher_Passed(t *testing.T) {
	l, out := shellLauncher(t, `printf '"checking 2 files"\n{"diagnostics":[]}\n' >&4; sleep 30`)
	tok, err := cancel.New(cancel.WithDir(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background(), tok))
	waitFor(t, out, "type check passed")
	assert.Contains(t, out.String(), "checking 2 files")

	// The worker is killed once it reports a clean result.
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.handle == nil || l.handle.Exited()
	}, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, l.Stop())
}

func TestTypeCheckLauncher_Diagnostics(t *testing.T) {
	l, out := shellLauncher(t, `printf '{"diagnostics":[{"code":2322,"severity":"error","content":"Type string is not assignable to type number.","file":"/p/app/a.ts","line":3,"character":7}]}\n' >&4`)
	tok, err := cancel.New(cancel.WithDir(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background(), tok))
	waitFor(t, out, "type check found 1 errors")
	assert.Contains(t, out.String(), "ERROR in /p/app/a.ts[3,7]")
	assert.Contains(t, out.String(), "ts2322 : Type string is not assignable to type number.")
	assert.NoError(t, l.Stop())
}

func TestTypeCheckLauncher_CanceledReportIsDropped(t *testing.T) {
	l, out := shellLauncher(t, `sleep 0.2; printf '{"diagnostics":[]}\n"done"\n' >&4`)
	tok, err := cancel.New(cancel.WithDir(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background(), tok))
	require.NoError(t, tok.RequestCancellation())
	waitFor(t, out, "done")
	assert.NotContains(t, out.String(), "type check passed")
	assert.NoError(t, l.Stop())
	assert.NoError(t, tok.Cleanup())
}

func TestTypeCheckLauncher_StopIdle(t *testing.T) {
	l := NewTypeCheckLauncher(t.TempDir(), "-", process.NewOrchestrator(), ux.NewConsole(&syncBuffer{}), nil)
	assert.NoError(t, l.Stop())
}
