// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builders

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/AleutianAI/exodev/services/devloop/codegen"
)

// Result summarizes one build.
type Result struct {
	Category Category `json:"category"`

	// Written lists absolute paths of artifacts that were written.
	Written []string `json:"written,omitempty"`

	// Skipped counts artifacts whose content was unchanged.
	Skipped int `json:"skipped"`

	// Incremental is true when only changed files were processed.
	Incremental bool `json:"incremental"`

	// Routes lists generated router modules relative to the output root
	// (router category only).
	Routes []string `json:"routes,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Builder produces the artifacts of one category.
type Builder interface {
	Category() Category
	Build(ctx context.Context, req *Request) (*Result, error)
}

// Option configures a builder.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	writer     *Writer
	transpiler codegen.Transpiler
	parser     *codegen.Parser
}

// WithLogger sets the builder logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithWriter shares a Writer, e.g. to count writes across builds.
func WithWriter(w *Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithTranspiler replaces the esbuild transpiler.
func WithTranspiler(t codegen.Transpiler) Option {
	return func(o *options) { o.transpiler = t }
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default(), writer: NewWriter(), parser: codegen.NewParser()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transpiler == nil {
		o.transpiler = codegen.NewEsbuildTranspiler()
	}
	return o
}

// ForCategory returns the builder for c.
func ForCategory(c Category, opts ...Option) (Builder, error) {
	switch c {
	case CategoryConfig:
		return NewConfigBuilder(opts...), nil
	case CategoryMiddleware:
		return NewMiddlewareBuilder(opts...), nil
	case CategoryRouter:
		return NewRouterBuilder(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
}

// Run validates req and runs the builder of its category.
func Run(ctx context.Context, req *Request, opts ...Option) (*Result, error) {
	b, err := ForCategory(req.Category, opts...)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, req)
}

// instrument wraps a build body with validation, the enabled check,
// tracing, metrics and logging.
func instrument(ctx context.Context, o options, req *Request, body func(ctx context.Context) (*Result, error)) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := o.logger.With(slog.String("category", string(req.Category)))
	if !req.Enabled {
		logger.Debug("builder disabled")
		return &Result{Category: req.Category}, nil
	}

	ctx, span := startBuildSpan(ctx, req)
	start := time.Now()
	res, err := body(ctx)
	duration := time.Since(start)
	if res != nil {
		res.Category = req.Category
		res.Duration = duration
	}
	finishBuildSpan(span, res, err)
	recordBuildMetrics(ctx, req.Category, duration, res, err)

	if err != nil {
		logger.Error("build failed", slog.String("error", err.Error()), slog.Duration("duration", duration))
		return nil, err
	}
	logger.Info("build finished",
		slog.String("root", req.SourceRoot),
		slog.Bool("force", req.Force),
		slog.Bool("incremental", res.Incremental),
		slog.Int("written", len(res.Written)),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", duration))
	return res, nil
}

// listSources returns every .ts module (no .d.ts) under root, relative
// and slash separated, sorted. A missing root yields no sources.
func listSources(root string) ([]string, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(root), "**/*.ts")
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	var files []string
	for _, m := range matches {
		if strings.HasSuffix(m, ".d.ts") || strings.Contains("/"+m, "/node_modules/") {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// selectSources picks the files to process: the .ts subset of the
// changed files that still exist, or a full scan when that subset is
// empty.
func selectSources(req *Request, logger *slog.Logger) (files []string, incremental bool, err error) {
	for _, p := range req.ChangedFiles {
		if !strings.HasSuffix(p, ".ts") || strings.HasSuffix(p, ".d.ts") {
			continue
		}
		if _, statErr := os.Stat(p); statErr != nil {
			logger.Debug("changed file no longer exists", slog.String("path", p))
			continue
		}
		rel, relErr := filepath.Rel(req.SourceRoot, p)
		if relErr != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidRequest, relErr)
		}
		files = append(files, filepath.ToSlash(rel))
	}
	if len(files) > 0 {
		sort.Strings(files)
		return files, true, nil
	}
	files, err = listSources(req.SourceRoot)
	return files, false, err
}

// outputPath maps a source-relative module to its artifact path.
func outputPath(outRoot, rel, ext string) string {
	return filepath.Join(outRoot, filepath.FromSlash(strings.TrimSuffix(rel, ".ts")+ext))
}
