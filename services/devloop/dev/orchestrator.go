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
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/exodev/pkg/ux"
	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/config"
	"github.com/AleutianAI/exodev/services/devloop/watch"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("dev orchestrator already started")

// Cycle summarizes one initial build or rebuild.
type Cycle struct {
	// Initial is true for the startup build.
	Initial bool

	// Changes are the paths that triggered a rebuild.
	Changes []string

	// Results holds the builders that ran, in order.
	Results []*builders.Result

	// AppStarted reports whether the application is up after the cycle.
	AppStarted bool

	// Err is the error that abandoned the cycle.
	Err error

	Duration time.Duration
}

// Orchestrator drives the dev loop. All state transitions happen on the
// goroutine that calls Run.
type Orchestrator struct {
	root    string
	cfg     *config.Config
	runner  Runner
	app     App
	checker TypeChecker
	console *ux.Console
	logger  *slog.Logger

	tokenOpts []cancel.Option
	onCycle   func(Cycle)

	state atomic.Int32
	token *cancel.Token
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConsole sets where user-facing output goes.
func WithConsole(c *ux.Console) Option {
	return func(o *Orchestrator) { o.console = c }
}

// WithTypeChecker enables the background type check.
func WithTypeChecker(c TypeChecker) Option {
	return func(o *Orchestrator) { o.checker = c }
}

// WithTokenOptions configures every minted cancellation token.
func WithTokenOptions(opts ...cancel.Option) Option {
	return func(o *Orchestrator) { o.tokenOpts = opts }
}

// WithCycleHook is called after every cycle, on the loop goroutine.
func WithCycleHook(fn func(Cycle)) Option {
	return func(o *Orchestrator) { o.onCycle = fn }
}

// NewOrchestrator returns an orchestrator for the project at root.
func NewOrchestrator(root string, cfg *config.Config, runner Runner, app App, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		root:    root,
		cfg:     cfg,
		runner:  runner,
		app:     app,
		console: ux.Stdout(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "dev"))
	return o
}

// State returns the current state. Safe for concurrent use.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev != s {
		o.logger.Debug("state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run initializes the project and then rebuilds on every batch from
// changes until ctx is done or changes is closed. It returns an error only
// when the loop cannot start at all, such as missing tooling.
func (o *Orchestrator) Run(ctx context.Context, changes <-chan []watch.Change) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateInitializing)) {
		return ErrAlreadyRunning
	}
	defer o.shutdown()

	if err := o.initialize(ctx); err != nil {
		return err
	}
	o.setState(StateRunning)

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-changes:
			if !ok {
				return nil
			}
			if len(batch) == 0 {
				continue
			}
			o.rebuild(ctx, batch)
		}
	}
}

func (o *Orchestrator) initialize(ctx context.Context) error {
	start := time.Now()
	PrintBanner(o.console, o.root, o.cfg)

	cycle := Cycle{Initial: true}
	for _, cat := range builders.Categories {
		req := o.cfg.BuildRequest(o.root, cat, config.ModeDev, nil)
		if !req.Enabled {
			continue
		}
		res, err := o.runner.Build(ctx, req)
		if err != nil {
			cycle.Err = err
			break
		}
		cycle.Results = append(cycle.Results, res)
		if cat == builders.CategoryRouter {
			PrintRoutes(o.console, res, o.cfg.Routers.Details)
		}
	}

	if err := o.rotateToken(); err != nil {
		return err
	}
	o.startChecker(ctx)

	if cycle.Err == nil {
		if err := o.app.Start(ctx); err != nil {
			if errors.Is(err, ErrToolingUnavailable) {
				o.console.Error(err.Error())
				return err
			}
			cycle.Err = err
		} else {
			cycle.AppStarted = true
		}
	}
	if cycle.Err != nil {
		o.reportFailure(cycle.Err)
	}

	o.console.List("Watching", o.cfg.WatchList(o.root), "(nothing)")
	o.console.List("Ignoring", o.cfg.IgnoreList(o.root), "(nothing)")

	cycle.Duration = time.Since(start)
	o.finishCycle(cycle)
	return nil
}

// rebuild handles one deduplicated batch of changes.
func (o *Orchestrator) rebuild(ctx context.Context, batch []watch.Change) {
	start := time.Now()
	o.setState(StateRebuilding)
	defer o.setState(StateRunning)

	cycle := Cycle{Changes: watch.Paths(batch)}
	o.logger.Info("changes detected", slog.Int("files", len(cycle.Changes)))
	o.console.Info(fmt.Sprintf("%d file(s) changed, restarting...", len(cycle.Changes)))
	o.console.List("Changed", relativeTo(o.root, cycle.Changes), "(nothing)")

	if err := o.rotateToken(); err != nil {
		cycle.Err = err
	}
	if err := o.app.Stop(); err != nil {
		o.logger.Warn("stopping application failed", slog.String("error", err.Error()))
	}

	if cycle.Err == nil {
		cycle.Results, cycle.Err = o.buildChanged(ctx, cycle.Changes)
	}
	if cycle.Err == nil && ctx.Err() != nil {
		cycle.Err = ctx.Err()
	}
	if cycle.Err == nil {
		if err := o.app.Start(ctx); err != nil {
			cycle.Err = err
		} else {
			cycle.AppStarted = true
			appRestarts.Inc()
		}
	}

	cycle.Duration = time.Since(start)
	switch {
	case cycle.Err == nil:
		rebuildsTotal.WithLabelValues(resultOK).Inc()
		rebuildDuration.Observe(cycle.Duration.Seconds())
		o.startChecker(ctx)
	case isCanceled(cycle.Err):
		rebuildsTotal.WithLabelValues(resultCanceled).Inc()
	default:
		rebuildsTotal.WithLabelValues(resultFailed).Inc()
		o.reportFailure(cycle.Err)
	}
	o.finishCycle(cycle)
}

// buildChanged runs the config then the middleware builder on the
// changes under their source roots. Controller changes only restart the
// application; routers are not regenerated here.
func (o *Orchestrator) buildChanged(ctx context.Context, changes []string) ([]*builders.Result, error) {
	var results []*builders.Result
	for _, cat := range []builders.Category{builders.CategoryConfig, builders.CategoryMiddleware} {
		if !o.cfg.HMR(cat) {
			continue
		}
		req := o.cfg.BuildRequest(o.root, cat, config.ModeDev, nil)
		if !req.Enabled {
			continue
		}
		req.ChangedFiles = partition(req.SourceRoot, changes)
		if len(req.ChangedFiles) == 0 {
			continue
		}
		res, err := o.runner.Build(ctx, req)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// partition returns the changes under root.
func partition(root string, changes []string) []string {
	var out []string
	for _, p := range changes {
		if builders.IsWithin(root, p) {
			out = append(out, p)
		}
	}
	return out
}

// relativeTo shortens paths under root for display.
func relativeTo(root string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if rel, err := filepath.Rel(root, p); err == nil && builders.IsWithin(root, p) {
			p = filepath.ToSlash(rel)
		}
		out[i] = p
	}
	return out
}

// rotateToken cancels the current token, stops the check observing it,
// removes its sentinel, and mints the next one.
func (o *Orchestrator) rotateToken() error {
	if o.token != nil {
		if err := o.token.RequestCancellation(); err != nil {
			o.logger.Warn("requesting cancellation failed", slog.String("error", err.Error()))
		}
		o.stopChecker()
		if err := o.token.Cleanup(); err != nil {
			o.logger.Warn("removing cancellation sentinel failed", slog.String("error", err.Error()))
		}
	}
	tok, err := cancel.New(o.tokenOpts...)
	if err != nil {
		return err
	}
	o.token = tok
	return nil
}

func (o *Orchestrator) startChecker(ctx context.Context) {
	if o.checker == nil {
		return
	}
	if err := o.checker.Start(ctx, o.token); err != nil {
		o.logger.Warn("type check did not start", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) stopChecker() {
	if o.checker == nil {
		return
	}
	if err := o.checker.Stop(); err != nil {
		o.logger.Warn("stopping type check failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) reportFailure(err error) {
	o.logger.Error("build failed, application not restarted", slog.String("error", err.Error()))
	o.console.Error(err.Error())
	o.console.Warning("waiting for changes")
}

func (o *Orchestrator) finishCycle(c Cycle) {
	if o.onCycle != nil {
		o.onCycle(c)
	}
}

// shutdown stops everything Run started.
func (o *Orchestrator) shutdown() {
	o.setState(StateTerminated)
	if o.token != nil {
		_ = o.token.RequestCancellation()
	}
	o.stopChecker()
	if err := o.app.Stop(); err != nil {
		o.logger.Warn("stopping application failed", slog.String("error", err.Error()))
	}
	if o.token != nil {
		if err := o.token.Cleanup(); err != nil {
			o.logger.Warn("removing cancellation sentinel failed", slog.String("error", err.Error()))
		}
	}
	o.logger.Info("dev loop stopped")
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, cancel.ErrOperationCanceled)
}
