// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "EXODEV_PROCESS_TEST_HELPER"

// TestMain turns the test binary into a worker when helperEnv is set, so
// isolated launches can be tested against a real child process.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

type helperReply struct {
	TokenID   string `json:"tokenId"`
	Cancelled bool   `json:"cancelled"`
	UseCancel string `json:"useCancel"`
}

func runHelper(mode string) int {
	switch mode {
	case "echo-token":
		ch, err := ChildChannel()
		if err != nil {
			return 10
		}
		defer ch.Close()
		ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFn()
		token, err := ReceiveToken(ctx, ch, cancel.WithDir(os.Getenv("EXODEV_TEST_DIR")))
		if err != nil {
			return 11
		}
		reply := helperReply{
			TokenID:   token.ID(),
			Cancelled: token.IsRequested(),
			UseCancel: os.Getenv(EnvUseCancel),
		}
		if err := ch.Send(reply); err != nil {
			return 12
		}
		return 0
	case "sleep":
		time.Sleep(30 * time.Second)
		return 0
	default:
		code, _ := strconv.Atoi(mode)
		return code
	}
}

func helperJob(mode string) Job {
	return Job{
		Name: "helper-" + mode,
		Mode: ModeIsolated,
		Env:  map[string]string{helperEnv: mode},
	}
}

func newTestOrchestrator() *Orchestrator {
	return NewOrchestrator(WithExecutable(os.Args[0]), WithKillGrace(500*time.Millisecond))
}

// -----------------------------------------------------------------------------
// Outcome Tests
// -----------------------------------------------------------------------------

func TestOrchestrator_Run_CleanExit(t *testing.T) {
	code, err := newTestOrchestrator().Run(context.Background(), helperJob("0"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestOrchestrator_Run_NonZeroExit(t *testing.T) {
	code, err := newTestOrchestrator().Run(context.Background(), helperJob("7"))
	require.Error(t, err)
	assert.Equal(t, 7, code)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 7, exitErr.Code)
	assert.Empty(t, exitErr.Signal)
}

func TestOrchestrator_Piped(t *testing.T) {
	var stdout bytes.Buffer
	code, err := newTestOrchestrator().Run(context.Background(), Job{
		Command: "sh",
		Args:    []string{"-c", `echo "use=$EXODEV_USE_CANCEL ipc=$EXODEV_IPC"`},
		Stdout:  &stdout,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "use=false ipc=\n", stdout.String())
}

func TestOrchestrator_EmptyCommand(t *testing.T) {
	_, err := newTestOrchestrator().Start(context.Background(), Job{Mode: ModePiped})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

// -----------------------------------------------------------------------------
// Shell Mode Tests
// -----------------------------------------------------------------------------

func TestOrchestrator_Shell(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		wantCode int
		wantErr  bool
		stderr   string
	}{
		{name: "clean", command: "echo hello", wantCode: 0},
		{name: "stderr output rejects", command: "echo oops 1>&2", wantCode: 0, wantErr: true, stderr: "oops"},
		{name: "exit code rejects", command: "exit 3", wantCode: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := newTestOrchestrator().Run(context.Background(), Job{Mode: ModeShell, Command: tt.command})
			assert.Equal(t, tt.wantCode, code)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cmdErr *CommandError
			require.True(t, errors.As(err, &cmdErr))
			assert.Equal(t, tt.stderr, cmdErr.Stderr)
		})
	}
}

func TestOrchestrator_ShellOutput(t *testing.T) {
	h, err := newTestOrchestrator().Start(context.Background(), Job{Mode: ModeShell, Command: "printf", Args: []string{"abc"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", h.Output())
}

// -----------------------------------------------------------------------------
// Cancellation Delivery Tests
// -----------------------------------------------------------------------------

func TestOrchestrator_TokenForcesIsolatedMode(t *testing.T) {
	dir := t.TempDir()
	token, err := cancel.New(cancel.WithDir(dir))
	require.NoError(t, err)

	job := helperJob("echo-token")
	job.Mode = ModePiped
	job.Env["EXODEV_TEST_DIR"] = dir
	job.Token = token
	job.OnCancel = SendToken

	h, err := newTestOrchestrator().Start(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, ModeIsolated, h.Mode())

	raw, err := h.Channel().Receive()
	require.NoError(t, err)

	var reply helperReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, token.ID(), reply.TokenID)
	assert.False(t, reply.Cancelled)
	assert.Equal(t, "true", reply.UseCancel)

	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestOrchestrator_CancelHookFailureKillsChild(t *testing.T) {
	token, err := cancel.New(cancel.WithSignal(cancel.NewMemorySignal()))
	require.NoError(t, err)

	job := helperJob("sleep")
	job.Token = token
	job.OnCancel = func(h *Handle, _ *cancel.Token) error { return errors.New("boom") }

	_, err = newTestOrchestrator().Start(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// -----------------------------------------------------------------------------
// Kill Tests
// -----------------------------------------------------------------------------

func TestHandle_Kill(t *testing.T) {
	h, err := newTestOrchestrator().Start(context.Background(), helperJob("sleep"))
	require.NoError(t, err)

	require.NoError(t, h.Kill())
	assert.True(t, h.Exited())
	assert.True(t, h.Killed())

	_, err = h.Wait()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.NotEmpty(t, exitErr.Signal)

	// idempotent
	assert.NoError(t, h.Kill())
}

func TestOrchestrator_ContextCancelKills(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	h, err := newTestOrchestrator().Start(ctx, helperJob("sleep"))
	require.NoError(t, err)

	cancelFn()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child survived context cancellation")
	}
}

// -----------------------------------------------------------------------------
// Error Formatting Tests
// -----------------------------------------------------------------------------

func TestExitError_Error(t *testing.T) {
	assert.Equal(t, "node exited with code 2", (&ExitError{Command: "node", Code: 2}).Error())
	assert.Equal(t, "node terminated by signal killed", (&ExitError{Command: "node", Code: -1, Signal: "killed"}).Error())
}

func TestCommandError_Error(t *testing.T) {
	wrapped := errors.New("exit status 1")
	err := &CommandError{Command: "tsc", ExitCode: 1, Wrapped: wrapped}
	assert.Equal(t, "tsc (exit 1): exit status 1", err.Error())
	assert.ErrorIs(t, err, wrapped)

	err.Stderr = "bad flag"
	assert.Equal(t, "tsc (exit 1): bad flag", err.Error())
}

func TestLaunchMode_String(t *testing.T) {
	assert.Equal(t, "piped", ModePiped.String())
	assert.Equal(t, "isolated", ModeIsolated.String())
	assert.Equal(t, "shell", ModeShell.String())
	assert.Equal(t, "unknown", LaunchMode(9).String())
}
