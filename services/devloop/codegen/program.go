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
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/exodev/services/devloop/tsconfig"
)

// PathResolver maps a program-relative path to an absolute filesystem path.
type PathResolver func(rel string) string

// ProgramOption configures ParseProgram.
type ProgramOption func(*programOptions)

type programOptions struct {
	parser      *Parser
	resolve     PathResolver
	concurrency int
}

// WithResolver overrides how relative paths are mapped to files.
func WithResolver(r PathResolver) ProgramOption {
	return func(o *programOptions) { o.resolve = r }
}

// WithParser sets the parser used for every file.
func WithParser(p *Parser) ProgramOption {
	return func(o *programOptions) { o.parser = p }
}

// WithConcurrency bounds parallel parsing. Values below 1 are ignored.
func WithConcurrency(n int) ProgramOption {
	return func(o *programOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// Program is a set of parsed modules sharing one configuration.
type Program struct {
	// Config is the compiler configuration the program was built with.
	Config *tsconfig.Config

	// Root is the directory relative paths are resolved against.
	Root string

	files   []*SourceFile
	byPath  map[string]*SourceFile
	exports map[string][]string
}

// ParseProgram parses files (relative to root) in parallel. The first
// parse failure cancels the remaining work and is returned; no partial
// program is produced.
func ParseProgram(ctx context.Context, cfg *tsconfig.Config, root string, files []string, opts ...ProgramOption) (*Program, error) {
	if cfg == nil {
		cfg = tsconfig.Default()
	}
	o := programOptions{
		parser:      NewParser(),
		concurrency: runtime.GOMAXPROCS(0),
		resolve: func(rel string) string {
			return filepath.Join(root, filepath.FromSlash(rel))
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	parsed := make([]*SourceFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, rel := range files {
		g.Go(func() error {
			abs := o.resolve(rel)
			src, err := os.ReadFile(abs)
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			file, err := o.parser.Parse(gctx, filepath.ToSlash(rel), abs, src)
			if err != nil {
				return err
			}
			parsed[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range parsed {
			if f != nil {
				f.Close()
			}
		}
		return nil, err
	}

	prog := &Program{
		Config:  cfg,
		Root:    root,
		files:   parsed,
		byPath:  make(map[string]*SourceFile, len(parsed)),
		exports: make(map[string][]string, len(parsed)),
	}
	for _, f := range parsed {
		f.Context = Analyze(f, root, "")
		prog.byPath[f.Path] = f
		prog.exports[f.Path] = f.Context.Exports()
	}
	return prog, nil
}

// Files returns the modules in input order.
func (p *Program) Files() []*SourceFile {
	return p.files
}

// File looks up a module by relative path.
func (p *Program) File(rel string) (*SourceFile, bool) {
	f, ok := p.byPath[rel]
	return f, ok
}

// ExportsOf returns the names exported by the module at rel.
func (p *Program) ExportsOf(rel string) ([]string, bool) {
	names, ok := p.exports[rel]
	return names, ok
}

// ResolveImport maps a relative specifier used in module from to the
// program path it names, trying the TypeScript extension and index forms.
func (p *Program) ResolveImport(from, spec string) (string, bool) {
	if !IsRelativeSpecifier(spec) {
		return "", false
	}
	base := path.Join(path.Dir(from), spec)
	for _, candidate := range []string{
		base,
		base + ".ts",
		base + ".tsx",
		base + "/index.ts",
		base + "/index.tsx",
		strings.TrimSuffix(base, ".js") + ".ts",
	} {
		if _, ok := p.byPath[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

// Close releases every syntax tree.
func (p *Program) Close() {
	for _, f := range p.files {
		f.Close()
	}
}
