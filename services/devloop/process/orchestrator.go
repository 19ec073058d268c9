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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultKillGrace is how long Kill waits after SIGTERM before SIGKILL.
const DefaultKillGrace = 3 * time.Second

// Orchestrator starts Jobs. It holds no per-job state and is safe for
// concurrent use.
type Orchestrator struct {
	logger     *slog.Logger
	executable string
	killGrace  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithExecutable sets the program isolated jobs run when Job.Command is
// empty. Defaults to os.Executable().
func WithExecutable(path string) Option {
	return func(o *Orchestrator) { o.executable = path }
}

// WithKillGrace sets the SIGTERM to SIGKILL delay used by Handle.Kill.
func WithKillGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.killGrace = d }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{logger: slog.Default(), killGrace: DefaultKillGrace}
	for _, opt := range opts {
		opt(o)
	}
	if o.executable == "" {
		if exe, err := os.Executable(); err == nil {
			o.executable = exe
		}
	}
	return o
}

// Run starts job and waits for its outcome.
func (o *Orchestrator) Run(ctx context.Context, job Job) (int, error) {
	h, err := o.Start(ctx, job)
	if err != nil {
		return -1, err
	}
	return h.Wait()
}

// Start launches job and returns its handle. Canceling ctx kills the
// child's process group.
func (o *Orchestrator) Start(ctx context.Context, job Job) (*Handle, error) {
	mode := job.effectiveMode()
	if mode == ModeIsolated && job.Command == "" {
		job.Command = o.executable
	}
	if job.Command == "" {
		return nil, ErrEmptyCommand
	}

	var cmd *exec.Cmd
	if mode == ModeShell {
		cmd = exec.Command("sh", "-c", job.commandLine())
	} else {
		cmd = exec.Command(job.Command, job.Args...)
	}
	cmd.Dir = job.Dir
	cmd.Env = buildEnv(job, mode)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{
		cmd:       cmd,
		mode:      mode,
		label:     job.label(),
		done:      make(chan struct{}),
		killGrace: o.killGrace,
		logger:    o.logger,
	}

	var childEnds []*os.File
	switch mode {
	case ModeShell:
		h.stdout = &bytes.Buffer{}
		h.stderr = &bytes.Buffer{}
		cmd.Stdout = h.stdout
		cmd.Stderr = h.stderr
		h.label = job.commandLine()
	default:
		cmd.Stdout = orStd(job.Stdout, os.Stdout)
		cmd.Stderr = orStd(job.Stderr, os.Stderr)
	}

	if mode == ModeIsolated {
		toChildR, toChildW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("creating message pipe: %w", err)
		}
		fromChildR, fromChildW, err := os.Pipe()
		if err != nil {
			toChildR.Close()
			toChildW.Close()
			return nil, fmt.Errorf("creating message pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{toChildR, fromChildW}
		childEnds = []*os.File{toChildR, fromChildW}
		h.channel = NewChannel(fromChildR, toChildW)
	}

	if err := cmd.Start(); err != nil {
		for _, f := range childEnds {
			f.Close()
		}
		if h.channel != nil {
			h.channel.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", h.label, err)
	}
	// The child holds its own copies now.
	for _, f := range childEnds {
		f.Close()
	}

	o.logger.Debug("process started",
		"job", h.label,
		"mode", mode.String(),
		"pid", cmd.Process.Pid,
		"cancel", job.usesCancel())

	go h.wait()
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Kill()
		case <-h.done:
		}
	}()

	if job.usesCancel() {
		if err := job.OnCancel(h, job.Token); err != nil {
			_ = h.Kill()
			return nil, fmt.Errorf("delivering cancellation token to %s: %w", h.label, err)
		}
	}
	return h, nil
}

// buildEnv layers job.Env over the parent environment, in sorted key
// order so children see a deterministic environment.
func buildEnv(job Job, mode LaunchMode) []string {
	env := os.Environ()
	keys := make([]string, 0, len(job.Env))
	for k := range job.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+job.Env[k])
	}
	env = append(env, EnvUseCancel+"="+strconv.FormatBool(job.usesCancel()))
	if mode == ModeIsolated {
		env = append(env, EnvIPC+"=1")
	}
	return env
}

func orStd(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// -----------------------------------------------------------------------------
// Handle
// -----------------------------------------------------------------------------

// Handle is a running (or finished) child process.
type Handle struct {
	cmd       *exec.Cmd
	mode      LaunchMode
	label     string
	channel   *Channel
	stdout    *bytes.Buffer
	stderr    *bytes.Buffer
	killGrace time.Duration
	logger    *slog.Logger

	done chan struct{}
	code int
	err  error

	killMu  sync.Mutex
	killing bool
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Mode returns the effective launch mode.
func (h *Handle) Mode() LaunchMode {
	return h.mode
}

// Channel returns the message channel, or nil outside isolated mode.
func (h *Handle) Channel() *Channel {
	return h.channel
}

// Done is closed once the child has exited and its outcome is known.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Output returns captured stdout in shell mode.
func (h *Handle) Output() string {
	if h.stdout == nil {
		return ""
	}
	<-h.done
	return h.stdout.String()
}

// Wait blocks until the child exits and returns its outcome.
func (h *Handle) Wait() (int, error) {
	<-h.done
	return h.code, h.err
}

// Exited reports whether the child has exited without blocking.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Kill terminates the child's process group and waits for the exit.
// SIGTERM is sent first and SIGKILL after the grace period. Killing an
// exited handle is a no-op.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	h.killMu.Lock()
	h.killing = true
	h.killMu.Unlock()

	if err := signalGroup(h.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		h.logger.Debug("SIGTERM failed", "job", h.label, "error", err)
	}
	select {
	case <-h.done:
	case <-time.After(h.killGrace):
		if err := signalGroup(h.cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("killing %s: %w", h.label, err)
		}
		<-h.done
	}
	return nil
}

// Killed reports whether the exit was caused by Kill.
func (h *Handle) Killed() bool {
	h.killMu.Lock()
	defer h.killMu.Unlock()
	return h.killing
}

func (h *Handle) wait() {
	waitErr := h.cmd.Wait()
	h.code, h.err = h.outcome(waitErr)
	if h.channel != nil {
		_ = h.channel.CloseWrite()
	}
	h.logger.Debug("process exited", "job", h.label, "code", h.code)
	close(h.done)
}

// outcome maps the result of cmd.Wait onto the orchestrator contract.
func (h *Handle) outcome(err error) (int, error) {
	if h.mode == ModeShell {
		stderr := strings.TrimSpace(h.stderr.String())
		if err == nil && stderr == "" {
			return 0, nil
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err == nil {
			code = 0
		}
		return code, &CommandError{Command: h.label, ExitCode: code, Stderr: stderr, Wrapped: err}
	}

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, fmt.Errorf("waiting for %s: %w", h.label, err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -1, &ExitError{Command: h.label, Code: -1, Signal: status.Signal().String()}
	}
	return exitErr.ExitCode(), &ExitError{Command: h.label, Code: exitErr.ExitCode()}
}
