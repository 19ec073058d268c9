// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builders

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/AleutianAI/exodev/services/devloop/codegen"
	"github.com/AleutianAI/exodev/services/devloop/tsconfig"
)

// ConfigBuilder compiles configuration modules into modules exporting a
// value: a default-exported function is invoked once at load time.
type ConfigBuilder struct {
	opts options
}

// NewConfigBuilder creates a ConfigBuilder.
func NewConfigBuilder(opts ...Option) *ConfigBuilder {
	return &ConfigBuilder{opts: newOptions(opts)}
}

// Category implements Builder.
func (b *ConfigBuilder) Category() Category { return CategoryConfig }

type configState struct {
	outDir   string
	exported bool
}

// Build implements Builder.
func (b *ConfigBuilder) Build(ctx context.Context, req *Request) (*Result, error) {
	return instrument(ctx, b.opts, req, func(ctx context.Context) (*Result, error) {
		if req.Force {
			if err := req.validateForce(); err != nil {
				return nil, err
			}
		}
		cfg, err := tsconfig.Load(req.TSConfigPath())
		if err != nil {
			return nil, err
		}
		files, incremental, err := selectSources(req, b.opts.logger)
		if err != nil {
			return nil, err
		}
		if req.Force && !incremental {
			if err := os.RemoveAll(req.OutputRoot); err != nil {
				return nil, fmt.Errorf("clearing %s: %w", req.OutputRoot, err)
			}
		}
		if err := os.MkdirAll(req.OutputRoot, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", req.OutputRoot, err)
		}

		res := &Result{Incremental: incremental}
		if len(files) == 0 {
			return res, nil
		}
		prog, err := codegen.ParseProgram(ctx, cfg, req.SourceRoot, files, codegen.WithParser(b.opts.parser))
		if err != nil {
			return nil, err
		}
		defer prog.Close()

		pipe := &codegen.Pipeline[configState]{
			Passes: []codegen.TransformPass[configState]{
				codegen.NewPass[configState]("rewrite-imports", rewriteImportsPass[configState](req.SourceRoot, func(s *configState) string { return s.outDir })),
				codegen.NewPass[configState]("export-value", exportValuePass),
			},
			NewState: func(f *codegen.SourceFile) *configState {
				return &configState{outDir: filepath.Join(req.OutputRoot, filepath.FromSlash(path.Dir(f.Path)))}
			},
			Finish: func(f *codegen.SourceFile, s *configState) error {
				if !s.exported {
					return &codegen.MalformedSourceError{Path: f.Path, Reason: "configuration module has no default export"}
				}
				return nil
			},
			Transpile:  true,
			Transpiler: b.opts.transpiler,
			Parser:     b.opts.parser,
			Logger:     b.opts.logger,
		}
		err = pipe.Run(ctx, prog, func(orig, content string) error {
			dest := outputPath(req.OutputRoot, orig, ".js")
			wrote, err := b.opts.writer.WriteIfChanged(Artifact{Path: dest, Content: content}, req.Force)
			if err != nil {
				return err
			}
			if wrote {
				res.Written = append(res.Written, dest)
			} else {
				res.Skipped++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// rewriteImportsPass keeps relative specifiers pointing at the authored
// modules once the module lives in the output directory.
func rewriteImportsPass[S any](sourceRoot string, outDir func(*S) string) codegen.PassFunc[S] {
	return func(stmt *codegen.Statement, file *codegen.SourceFile, state *S) ([]*codegen.Statement, error) {
		fromDir := filepath.Join(sourceRoot, filepath.FromSlash(path.Dir(file.Path)))
		rewritten := codegen.RewriteImports(stmt, file, fromDir, outDir(state))
		if rewritten == stmt {
			return nil, nil
		}
		return []*codegen.Statement{rewritten}, nil
	}
}

// exportValuePass turns the default export into an `export =` of a value.
func exportValuePass(stmt *codegen.Statement, file *codegen.SourceFile, state *configState) ([]*codegen.Statement, error) {
	if _, ok := codegen.ExportAssignmentOf(stmt, file); ok {
		state.exported = true
		return nil, nil
	}
	def, ok := codegen.DefaultExportOf(stmt, file)
	if !ok {
		return nil, nil
	}
	state.exported = true

	var text string
	switch {
	case def.Kind == codegen.DefaultDeclaration && isFunctionDeclaration(def.NodeType):
		text = fmt.Sprintf("export = (%s)();", def.Text)
	case def.Kind == codegen.DefaultFunction:
		text = fmt.Sprintf("export = (%s)();", def.Text)
	default:
		text = fmt.Sprintf("export = %s;", def.Text)
	}
	out := codegen.Synthesize(text)
	out.Blank = stmt.Blank
	return []*codegen.Statement{out}, nil
}

func isFunctionDeclaration(nodeType string) bool {
	return nodeType == "function_declaration" || nodeType == "generator_function_declaration"
}
