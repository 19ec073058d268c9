// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/AleutianAI/exodev/pkg/ux"
	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/process"
	"github.com/AleutianAI/exodev/services/devloop/telemetry"
	"github.com/AleutianAI/exodev/services/devloop/typecheck"
)

// TypeCheckLauncher runs `exodev worker typecheck` in an isolated
// process and prints what it reports. The application keeps running
// whatever the outcome.
type TypeCheckLauncher struct {
	root     string
	tsconfig string
	orch     *process.Orchestrator
	console  *ux.Console
	logger   *slog.Logger

	// Args select the worker command. Default: worker typecheck.
	Args []string

	mu     sync.Mutex
	handle *process.Handle
	done   chan struct{}
}

// NewTypeCheckLauncher returns a launcher for the project at root.
// tsconfig is an absolute path or "-".
func NewTypeCheckLauncher(root, tsconfig string, orch *process.Orchestrator, console *ux.Console, logger *slog.Logger) *TypeCheckLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypeCheckLauncher{
		root:     root,
		tsconfig: tsconfig,
		orch:     orch,
		console:  console,
		logger:   logger.With(slog.String("component", "typecheck")),
		Args:     []string{"worker", "typecheck"},
	}
}

// Start launches a check that observes token. A running check is
// stopped first.
func (l *TypeCheckLauncher) Start(ctx context.Context, token *cancel.Token) error {
	if err := l.Stop(); err != nil {
		return err
	}
	env := telemetry.InjectEnv(ctx, map[string]string{
		typecheck.EnvProjectRoot: l.root,
		typecheck.EnvTSConfig:    l.tsconfig,
	})
	h, err := l.orch.Start(ctx, process.Job{
		Name:     "typecheck",
		Mode:     process.ModeIsolated,
		Args:     l.Args,
		Env:      env,
		Dir:      l.root,
		Token:    token,
		OnCancel: process.SendToken,
	})
	if err != nil {
		return fmt.Errorf("starting type check: %w", err)
	}

	done := make(chan struct{})
	l.mu.Lock()
	l.handle = h
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		l.consume(h, token)
	}()
	return nil
}

// consume prints the worker's messages until it exits.
func (l *TypeCheckLauncher) consume(h *process.Handle, token *cancel.Token) {
	defer h.Channel().Close()
	for {
		raw, err := h.Channel().Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !h.Killed() {
				l.logger.Warn("type check channel failed", slog.String("error", err.Error()))
			}
			break
		}
		msg, err := typecheck.DecodeMessage(raw)
		if err != nil {
			l.logger.Warn("ignoring type check message", slog.String("error", err.Error()))
			continue
		}
		switch msg.Kind {
		case typecheck.MessageText:
			l.console.Info(msg.Text)
		case typecheck.MessageReport:
			if token.IsRequested() {
				continue
			}
			l.report(msg.Diagnostics)
			if len(msg.Diagnostics) == 0 {
				_ = h.Kill()
			}
		default:
			l.logger.Debug("unrecognized type check message", slog.String("raw", string(raw)))
		}
	}

	if _, err := h.Wait(); err != nil && !h.Killed() && !token.IsRequested() {
		l.logger.Warn("type check worker failed", slog.String("error", err.Error()))
	}
}

func (l *TypeCheckLauncher) report(diags []typecheck.Diagnostic) {
	typecheckDiagnostics.Set(float64(len(diags)))
	if len(diags) == 0 {
		l.console.Success("type check passed")
		return
	}
	errs := 0
	for _, d := range diags {
		if d.IsError() {
			errs++
		}
		l.console.Error(d.String())
	}
	l.console.Warning(fmt.Sprintf("type check found %d errors (%d diagnostics)", errs, len(diags)))
}

// Stop kills a running check and waits for its output to drain.
func (l *TypeCheckLauncher) Stop() error {
	l.mu.Lock()
	h, done := l.handle, l.done
	l.handle, l.done = nil, nil
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	err := h.Kill()
	<-done
	return err
}
