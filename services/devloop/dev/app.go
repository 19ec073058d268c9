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
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/AleutianAI/exodev/services/devloop/config"
	"github.com/AleutianAI/exodev/services/devloop/process"
)

// AppSupervisor runs the project application under node with ts-node.
type AppSupervisor struct {
	root      string
	cfg       *config.Config
	orch      *process.Orchestrator
	pm        process.ProcessManager
	reclaimer *process.PortReclaimer
	logger    *slog.Logger

	mu      sync.Mutex
	handle  *process.Handle
	started int
}

// NewAppSupervisor returns a supervisor for the project at root.
func NewAppSupervisor(root string, cfg *config.Config, orch *process.Orchestrator, pm process.ProcessManager, logger *slog.Logger) *AppSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppSupervisor{
		root:      root,
		cfg:       cfg,
		orch:      orch,
		pm:        pm,
		reclaimer: process.NewPortReclaimer(pm, logger),
		logger:    logger.With(slog.String("component", "app")),
	}
}

// Command returns the node invocation for the application.
func (a *AppSupervisor) Command() (string, []string, error) {
	node, err := a.pm.LookPath("node")
	if err != nil {
		return "", nil, fmt.Errorf("%w: node was not found in PATH", ErrToolingUnavailable)
	}
	if !a.hasModule("ts-node") {
		return "", nil, fmt.Errorf("%w: NEED TS-NODE: install it with `npm install -D ts-node`", ErrToolingUnavailable)
	}

	var args []string
	if a.cfg.Inspect {
		args = append(args, "--inspect")
	}
	args = append(args, "-r", "ts-node/register")
	if a.hasModule("tsconfig-paths") {
		args = append(args, "-r", "tsconfig-paths/register")
	}
	args = append(args, filepath.FromSlash(a.cfg.App))
	return node, args, nil
}

// Env returns the variables added to the application's environment.
func (a *AppSupervisor) Env() map[string]string {
	env := make(map[string]string, len(a.cfg.Env)+6)
	for k, v := range a.cfg.Env {
		env[k] = v
	}
	env["NODE_ENV"] = a.cfg.NodeEnv()
	env["NODE_PORT"] = strconv.Itoa(a.cfg.Port())

	if v := a.cfg.Debug.Or("*"); v != "" {
		env["DEBUG"] = v
	}
	if v := a.cfg.Mock.Or(config.DefaultMockURL); v != "" {
		env["HTTP_PROXY"] = v
		env["HTTPS_PROXY"] = v
	}

	tsconfig := a.cfg.AppTSConfig()
	if !filepath.IsAbs(tsconfig) {
		tsconfig = filepath.Join(a.root, tsconfig)
	}
	env["TS_NODE_PROJECT"] = tsconfig
	env["TS_NODE_TRANSPILE_ONLY"] = strconv.FormatBool(a.cfg.Transpile)
	return env
}

// Start reclaims the port and launches the application. An application
// that is still running is stopped first.
func (a *AppSupervisor) Start(ctx context.Context) error {
	if err := a.Stop(); err != nil {
		return err
	}
	node, args, err := a.Command()
	if err != nil {
		return err
	}
	if err := a.reclaimer.Reclaim(ctx, a.cfg.Port()); err != nil {
		return err
	}

	h, err := a.orch.Start(ctx, process.Job{
		Name:    "app",
		Mode:    process.ModePiped,
		Command: node,
		Args:    args,
		Env:     a.Env(),
		Dir:     a.root,
	})
	if err != nil {
		return fmt.Errorf("starting application: %w", err)
	}

	a.mu.Lock()
	a.handle = h
	a.started++
	a.mu.Unlock()

	a.logger.Info("application started",
		slog.Int("pid", h.PID()),
		slog.String("entry", a.cfg.App),
		slog.Int("port", a.cfg.Port()))
	go a.watchExit(h)
	return nil
}

func (a *AppSupervisor) watchExit(h *process.Handle) {
	code, err := h.Wait()
	if h.Killed() {
		return
	}
	var exitErr *process.ExitError
	switch {
	case err == nil:
		a.logger.Info("application exited", slog.Int("code", code))
	case errors.As(err, &exitErr):
		a.logger.Error("application crashed, waiting for changes",
			slog.Int("code", exitErr.Code), slog.String("signal", exitErr.Signal))
	default:
		a.logger.Error("application failed", slog.String("error", err.Error()))
	}
}

// Stop kills the application if it is running.
func (a *AppSupervisor) Stop() error {
	a.mu.Lock()
	h := a.handle
	a.handle = nil
	a.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Kill()
}

// Starts returns how many times the application was launched.
func (a *AppSupervisor) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *AppSupervisor) hasModule(name string) bool {
	info, err := os.Stat(filepath.Join(a.root, "node_modules", name))
	return err == nil && info.IsDir()
}
