// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package process launches and supervises the dev loop's subordinate processes.

Every child goes through the Orchestrator, which offers three launch modes
with one outcome contract: Wait returns exit code 0 on a clean exit and an
*ExitError (or *CommandError in shell mode) otherwise.

  - ModePiped inherits stdout/stderr. Used for the supervised application.
  - ModeIsolated adds a newline-delimited JSON message channel on fds 3 and 4.
    Required whenever a cancellation token must reach the child.
  - ModeShell runs one command line through sh and captures its output.

Children are started in their own process group so that killing a handle
also reaches anything the child forked (node, tsc, ts-node).
*/
package process

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/exodev/services/devloop/cancel"
)

// -----------------------------------------------------------------------------
// Environment ABI
// -----------------------------------------------------------------------------

const (
	// EnvUseCancel is set on every child to "true" or "false" so workers
	// know whether to wait for a token message before starting.
	EnvUseCancel = "EXODEV_USE_CANCEL"

	// EnvIPC is "1" in isolated children; ChildChannel requires it.
	EnvIPC = "EXODEV_IPC"
)

// Child-side descriptors of the isolated message channel.
const (
	childReadFD  = 3
	childWriteFD = 4
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNoChannel is returned when a message channel is requested from a
	// process that was not started in isolated mode.
	ErrNoChannel = errors.New("process has no message channel")

	// ErrEmptyCommand is returned when a job names nothing to run.
	ErrEmptyCommand = errors.New("job has no command")

	// ErrChannelClosed is returned by Send after Close.
	ErrChannelClosed = errors.New("message channel closed")

	// ErrToolingUnavailable is returned when an external tool the dev loop
	// needs (tsc, ts-node, node) cannot be found.
	ErrToolingUnavailable = errors.New("required tooling is not installed")
)

// ExitError reports a child that exited non-zero or was killed by a signal.
type ExitError struct {
	// Command is the program that ran.
	Command string

	// Code is the exit code, -1 when the process was signaled.
	Code int

	// Signal names the terminating signal, empty for a normal exit.
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("%s terminated by signal %s", e.Command, e.Signal)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// CommandError wraps a command execution failure with its stderr.
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// -----------------------------------------------------------------------------
// Job
// -----------------------------------------------------------------------------

// LaunchMode selects how a Job is started.
type LaunchMode int

const (
	// ModePiped inherits the parent's output streams.
	ModePiped LaunchMode = iota

	// ModeIsolated adds a message channel to the child.
	ModeIsolated

	// ModeShell runs a command line to completion with captured output.
	ModeShell
)

// String returns the mode name.
func (m LaunchMode) String() string {
	switch m {
	case ModePiped:
		return "piped"
	case ModeIsolated:
		return "isolated"
	case ModeShell:
		return "shell"
	default:
		return "unknown"
	}
}

// CancelHook runs right after an isolated child starts. It is where the
// caller delivers the token, normally with SendToken.
type CancelHook func(h *Handle, token *cancel.Token) error

// Job describes one subordinate process invocation.
type Job struct {
	// Name labels the job in logs. Defaults to the command.
	Name string

	// Mode is the requested launch mode. A Job with both Token and
	// OnCancel set always runs isolated.
	Mode LaunchMode

	// Command is the program to run. Empty in isolated mode means the
	// current executable.
	Command string

	// Args are passed to Command.
	Args []string

	// Env is added on top of the parent's environment.
	Env map[string]string

	// Dir is the working directory.
	Dir string

	// Token, together with OnCancel, enables cancellation delivery.
	Token *cancel.Token

	// OnCancel is invoked after launch when Token is set.
	OnCancel CancelHook

	// Stdout and Stderr replace the inherited streams in piped and
	// isolated modes.
	Stdout io.Writer
	Stderr io.Writer
}

// usesCancel reports whether the job carries a deliverable token.
func (j Job) usesCancel() bool {
	return j.Token != nil && j.OnCancel != nil
}

// effectiveMode resolves the launch mode after the cancellation override.
func (j Job) effectiveMode() LaunchMode {
	if j.usesCancel() {
		return ModeIsolated
	}
	return j.Mode
}

// label returns the name used in logs and errors.
func (j Job) label() string {
	if j.Name != "" {
		return j.Name
	}
	if j.Command != "" {
		return j.Command
	}
	return "worker"
}

// commandLine joins command and args for shell mode.
func (j Job) commandLine() string {
	parts := append([]string{j.Command}, j.Args...)
	return strings.TrimSpace(strings.Join(parts, " "))
}
