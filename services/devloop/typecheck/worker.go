// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package typecheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/process"
	"github.com/AleutianAI/exodev/services/devloop/tsconfig"
)

// Worker environment, read by RunChild.
const (
	// EnvProjectRoot is the directory the worker checks.
	EnvProjectRoot = "EXODEV_PROJECT_ROOT"

	// EnvTSConfig is the tsconfig path, "-" for defaults.
	EnvTSConfig = "EXODEV_TSCONFIG"
)

// pollInterval is how often a running semantic check looks at the token.
const pollInterval = 5 * cancel.CheckInterval

// Worker checks one project once.
type Worker struct {
	root     string
	tsconfig string

	syntax      Checker
	semantic    Checker
	semanticSet bool

	pm     process.ProcessManager
	logger *slog.Logger
	notify func(string)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithSyntaxChecker replaces the tree-sitter checker.
func WithSyntaxChecker(c Checker) Option {
	return func(w *Worker) { w.syntax = c }
}

// WithSemanticChecker sets the semantic checker instead of locating tsc.
// A nil checker runs syntax only.
func WithSemanticChecker(c Checker) Option {
	return func(w *Worker) {
		w.semantic = c
		w.semanticSet = true
	}
}

// WithProcessManager sets how tsc is found and run.
func WithProcessManager(pm process.ProcessManager) Option {
	return func(w *Worker) { w.pm = pm }
}

// WithNotify receives informational messages, such as missing tooling.
func WithNotify(fn func(string)) Option {
	return func(w *Worker) { w.notify = fn }
}

// NewWorker creates a worker for the project at root. tsconfigPath is
// resolved against root when relative; "-" uses the defaults.
func NewWorker(root, tsconfigPath string, opts ...Option) *Worker {
	w := &Worker{
		root:     root,
		tsconfig: tsconfigPath,
		syntax:   NewSyntaxChecker(),
		logger:   slog.Default(),
		notify:   func(string) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pm == nil {
		w.pm = process.NewDefaultProcessManager(root)
	}
	return w
}

// TSConfigPath returns the absolute tsconfig path, or "-".
func (w *Worker) TSConfigPath() string {
	if tsconfig.IsDefault(w.tsconfig) {
		return tsconfig.DefaultPath
	}
	if filepath.IsAbs(w.tsconfig) {
		return w.tsconfig
	}
	return filepath.Join(w.root, w.tsconfig)
}

// Run checks every file the tsconfig covers and returns the merged
// diagnostics, semantic before syntactic per file. It returns
// cancel.ErrOperationCanceled as soon as obs is requested; no partial
// result is returned in that case.
func (w *Worker) Run(ctx context.Context, obs cancel.Observer) ([]Diagnostic, error) {
	ctx, span := startCheckSpan(ctx, w.root)
	defer span.End()
	start := time.Now()

	diags, files, semantic, err := w.run(ctx, obs)
	outcome := outcomePassed
	switch {
	case errors.Is(err, cancel.ErrOperationCanceled):
		outcome = outcomeCanceled
	case err != nil:
		outcome = outcomeError
		span.RecordError(err)
	case len(diags) > 0:
		outcome = outcomeFailed
	}
	setCheckSpanResult(span, files, diags, semantic)
	recordCheckMetrics(ctx, time.Since(start), outcome, diags)
	if err != nil {
		return nil, err
	}

	w.logger.Debug("type check finished",
		slog.Int("files", files),
		slog.Int("diagnostics", len(diags)),
		slog.Bool("semantic", semantic),
		slog.Duration("duration", time.Since(start)))
	return diags, nil
}

func (w *Worker) run(ctx context.Context, obs cancel.Observer) ([]Diagnostic, int, bool, error) {
	if err := obs.ThrowIfRequested(); err != nil {
		return nil, 0, false, err
	}
	cfg, err := tsconfig.Load(w.TSConfigPath())
	if err != nil {
		return nil, 0, false, err
	}
	rels, err := cfg.ResolveFiles(w.root)
	if err != nil {
		return nil, 0, false, err
	}
	base := cfg.Dir(w.root)
	files := make([]string, len(rels))
	for i, rel := range rels {
		files[i] = filepath.Join(base, filepath.FromSlash(rel))
	}

	semantic, err := w.semanticChecker()
	if err != nil {
		return nil, len(files), false, err
	}
	var semDiags map[string][]Diagnostic
	if semantic != nil {
		semDiags, err = w.checkSemantic(ctx, obs, semantic, files)
		if err != nil {
			return nil, len(files), true, err
		}
	}

	diags := []Diagnostic{}
	for _, f := range files {
		if err := obs.ThrowIfRequested(); err != nil {
			return nil, len(files), semantic != nil, err
		}
		syn, err := w.syntax.Check(ctx, []string{f})
		if err != nil {
			return nil, len(files), semantic != nil, err
		}
		diags = append(diags, mergeFile(semDiags[f], syn[f])...)
	}
	// findings without a file, such as tsconfig errors
	diags = append(diags, semDiags[""]...)
	return diags, len(files), semantic != nil, nil
}

// semanticChecker returns the configured checker, or tsc when installed.
// Missing tsc is reported through notify and yields nil.
func (w *Worker) semanticChecker() (Checker, error) {
	if w.semanticSet {
		return w.semantic, nil
	}
	bin, err := FindTsc(w.root, w.pm)
	if errors.Is(err, ErrToolingUnavailable) {
		w.notify("tsc is not installed; running syntax checks only (npm install --save-dev typescript)")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	project := w.TSConfigPath()
	if tsconfig.IsDefault(project) {
		if p := filepath.Join(w.root, "tsconfig.json"); fileExists(p) {
			project = p
		}
	}
	return NewTscChecker(bin, project, w.root, w.pm, w.logger), nil
}

// checkSemantic runs c with a context that is canceled once obs reports
// a request, so a long tsc run does not outlive its generation.
func (w *Worker) checkSemantic(ctx context.Context, obs cancel.Observer, c Checker, files []string) (map[string][]Diagnostic, error) {
	semCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-semCtx.Done():
				return
			case <-ticker.C:
				if obs.IsRequested() {
					stop()
					return
				}
			}
		}
	}()

	out, err := c.Check(semCtx, files)
	if obs.IsRequested() {
		return nil, cancel.ErrOperationCanceled
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn("semantic check failed, continuing with syntax checks", slog.String("error", err.Error()))
		w.notify(fmt.Sprintf("semantic check failed: %v", err))
		return nil, nil
	}
	return out, nil
}

// mergeFile concatenates semantic and syntactic diagnostics of one file.
// A syntax finding at a line and column where the compiler already reported
// a syntax error (codes 1000 to 1999) is dropped.
func mergeFile(semantic, syntax []Diagnostic) []Diagnostic {
	out := append([]Diagnostic(nil), semantic...)
	type position struct{ line, char int }
	covered := make(map[position]bool)
	for _, d := range semantic {
		if d.Code >= 1000 && d.Code < 2000 {
			covered[position{d.Line, d.Character}] = true
		}
	}
	for _, d := range syntax {
		if !covered[position{d.Line, d.Character}] {
			out = append(out, d)
		}
	}
	return out
}

// =============================================================================
// Child process entry
// =============================================================================

// RunChild is the body of the type-check worker process. When the parent
// set EXODEV_USE_CANCEL=true it waits for the token message first. It
// sends informational strings while running and one Report at the end,
// unless the token was requested, in which case it returns nil silently.
func RunChild(ctx context.Context, ch *process.Channel, lookup func(string) (string, bool), opts ...Option) error {
	env := func(k string) string {
		v, _ := lookup(k)
		return v
	}
	root := env(EnvProjectRoot)
	if root == "" {
		return fmt.Errorf("%s is not set", EnvProjectRoot)
	}

	var obs cancel.Observer = neverRequested{}
	if env(process.EnvUseCancel) == "true" {
		tok, err := process.ReceiveToken(ctx, ch)
		if err != nil {
			return err
		}
		obs = tok
	}

	notify := func(s string) { _ = ch.Send(s) }
	w := NewWorker(root, env(EnvTSConfig), append([]Option{WithNotify(notify)}, opts...)...)
	diags, err := w.Run(ctx, obs)
	if errors.Is(err, cancel.ErrOperationCanceled) {
		return nil
	}
	if err != nil {
		return err
	}
	if obs.IsRequested() {
		return nil
	}
	return ch.Send(NewReport(diags))
}

// neverRequested observes a token that is never canceled.
type neverRequested struct{}

func (neverRequested) IsRequested() bool       { return false }
func (neverRequested) ThrowIfRequested() error { return nil }

var _ cancel.Observer = neverRequested{}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
