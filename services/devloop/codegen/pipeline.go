// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// TransformPass rewrites the top-level statements of one module.
//
// Description:
//
//	Transform is called once per statement, in source order. Returning nil
//	keeps the statement unchanged, an empty non-nil slice drops it, and any
//	other slice replaces it. state is the per-file value created by the
//	pipeline's NewState; it is shared by every pass of the same file and
//	never by two files.
type TransformPass[S any] interface {
	Name() string
	Transform(stmt *Statement, file *SourceFile, state *S) ([]*Statement, error)
}

// PassFunc is the function form of a TransformPass.
type PassFunc[S any] func(stmt *Statement, file *SourceFile, state *S) ([]*Statement, error)

type namedPass[S any] struct {
	name string
	fn   PassFunc[S]
}

func (p namedPass[S]) Name() string { return p.name }

func (p namedPass[S]) Transform(stmt *Statement, file *SourceFile, state *S) ([]*Statement, error) {
	return p.fn(stmt, file, state)
}

// NewPass wraps fn as a named TransformPass.
func NewPass[S any](name string, fn PassFunc[S]) TransformPass[S] {
	return namedPass[S]{name: name, fn: fn}
}

// EmitFunc receives each transformed module. originalPath is the module's
// program-relative path. The function decides the output location and
// whether anything is written.
type EmitFunc func(originalPath, content string) error

// Pipeline runs an ordered list of passes over every module of a Program.
type Pipeline[S any] struct {
	// Passes run in order; each sees the output of the previous one.
	Passes []TransformPass[S]

	// NewState creates the per-file state. nil means new(S).
	NewState func(file *SourceFile) *S

	// Transpile lowers the printed text with Transpiler (esbuild when nil)
	// before emit.
	Transpile  bool
	Transpiler Transpiler

	// Finish runs after the last pass with the file as the last pass saw
	// it. A non-nil error aborts the run before the module is emitted.
	Finish func(file *SourceFile, state *S) error

	// Parser re-parses the module between passes. nil uses NewParser().
	Parser *Parser

	Logger *slog.Logger
}

// Run transforms and emits every module of prog in order. The first error
// stops the run; modules emitted before it stay emitted. Each module's
// analysis tables are released after its emit.
func (p *Pipeline[S]) Run(ctx context.Context, prog *Program, emit EmitFunc) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, file := range prog.Files() {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		content, err := p.transform(ctx, prog, file)
		if err != nil {
			return err
		}
		if err := emit(file.Path, content); err != nil {
			return fmt.Errorf("emitting %s: %w", file.Path, err)
		}
		file.Context = nil
		logger.Debug("module transformed",
			slog.String("path", file.Path),
			slog.Int("passes", len(p.Passes)),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// transform runs every pass over one module and returns its final text.
func (p *Pipeline[S]) transform(ctx context.Context, prog *Program, file *SourceFile) (string, error) {
	parser := p.Parser
	if parser == nil {
		parser = NewParser()
	}
	var state *S
	if p.NewState != nil {
		state = p.NewState(file)
	} else {
		state = new(S)
	}

	current := file
	stmts := file.Statements()
	for i, pass := range p.Passes {
		if i > 0 {
			reparsed, err := parser.Parse(ctx, file.Path, file.AbsPath, []byte(Print(stmts)))
			if err != nil {
				return "", fmt.Errorf("re-parsing %s after pass %s: %w", file.Path, p.Passes[i-1].Name(), err)
			}
			defer reparsed.Close()
			reparsed.Context = file.Context
			current = reparsed
			stmts = current.Statements()
		}

		next := make([]*Statement, 0, len(stmts))
		for _, stmt := range stmts {
			out, err := pass.Transform(stmt, current, state)
			if err != nil {
				return "", fmt.Errorf("pass %s: %w", pass.Name(), err)
			}
			if out == nil {
				next = append(next, stmt)
				continue
			}
			next = append(next, out...)
		}
		stmts = next
	}
	if p.Finish != nil {
		if err := p.Finish(current, state); err != nil {
			return "", err
		}
	}

	text := Print(stmts)
	if !p.Transpile {
		return text, nil
	}
	tr := p.Transpiler
	if tr == nil {
		tr = NewEsbuildTranspiler()
	}
	return tr.Transpile(file.Path, text, prog.Config)
}

// Print renders statements one per line, keeping the blank lines that
// separated them in the source, with a trailing newline.
func Print(stmts []*Statement) string {
	if len(stmts) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range stmts {
		if i > 0 {
			b.WriteByte('\n')
			if s.Blank {
				b.WriteByte('\n')
			}
		}
		b.WriteString(s.Text)
	}
	b.WriteByte('\n')
	return b.String()
}
