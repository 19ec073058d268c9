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
	"path"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/exodev/services/devloop/codegen"
	"github.com/AleutianAI/exodev/services/devloop/tsconfig"
)

// Framework module providing the injection scope helper.
const (
	CoreModule     = "@exoskeleton/core"
	InjectScope    = "injectScope"
	MiddlewareType = "IMiddlewaresScope"

	// anonymousMiddleware names default-exported anonymous functions.
	anonymousMiddleware = "middleware"
)

// MiddlewareBuilder wraps default-exported middleware functions so their
// typed parameters are resolved from the request injector.
type MiddlewareBuilder struct {
	opts options
}

// NewMiddlewareBuilder creates a MiddlewareBuilder.
func NewMiddlewareBuilder(opts ...Option) *MiddlewareBuilder {
	return &MiddlewareBuilder{opts: newOptions(opts)}
}

// Category implements Builder.
func (b *MiddlewareBuilder) Category() Category { return CategoryMiddleware }

// middlewareState is shared by the passes of one module.
type middlewareState struct {
	outDir string

	// core import as found in the module
	hasCore   bool
	coreStyle codegen.ImportStyle
	coreLocal string

	coreInserted bool
	exported     bool
	useDI        bool
}

// Build implements Builder.
func (b *MiddlewareBuilder) Build(ctx context.Context, req *Request) (*Result, error) {
	return instrument(ctx, b.opts, req, func(ctx context.Context) (*Result, error) {
		ext := ".js"
		if req.Force {
			if err := req.validateForce(); err != nil {
				return nil, err
			}
			ext = ".ts"
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
			if err := removeCounterparts(req.OutputRoot, files, b.opts.logger); err != nil {
				return nil, err
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

		pipe := &codegen.Pipeline[middlewareState]{
			Passes: []codegen.TransformPass[middlewareState]{
				codegen.NewPass[middlewareState]("split-default", splitDefaultPass(req.SourceRoot)),
				codegen.NewPass[middlewareState]("detect-core", detectCorePass),
				codegen.NewPass[middlewareState]("insert-core", insertCorePass),
				codegen.NewPass[middlewareState]("wrap", wrapPass(prog)),
			},
			NewState: func(f *codegen.SourceFile) *middlewareState {
				return &middlewareState{outDir: filepath.Join(req.OutputRoot, filepath.FromSlash(path.Dir(f.Path)))}
			},
			Finish: func(f *codegen.SourceFile, s *middlewareState) error {
				if !s.exported {
					return &codegen.MalformedSourceError{Path: f.Path, Reason: "middleware module has no default export"}
				}
				return nil
			},
			Transpile:  !req.Force,
			Transpiler: b.opts.transpiler,
			Parser:     b.opts.parser,
			Logger:     b.opts.logger,
		}
		err = pipe.Run(ctx, prog, func(orig, content string) error {
			dest := outputPath(req.OutputRoot, orig, ext)
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

// removeCounterparts deletes the generated .js and .ts files matching
// files in outRoot. Other modules in outRoot are left alone.
func removeCounterparts(outRoot string, files []string, logger *slog.Logger) error {
	for _, rel := range files {
		for _, ext := range []string{".js", ".ts"} {
			p := outputPath(outRoot, rel, ext)
			err := os.Remove(p)
			switch {
			case err == nil:
				logger.Debug("removed generated middleware", slog.String("path", p))
			case !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("removing %s: %w", p, err)
			}
		}
	}
	return nil
}

// splitDefaultPass rewrites relative imports and splits the default
// export into a named function plus `export = name;`.
func splitDefaultPass(sourceRoot string) codegen.PassFunc[middlewareState] {
	rewrite := rewriteImportsPass[middlewareState](sourceRoot, func(s *middlewareState) string { return s.outDir })
	return func(stmt *codegen.Statement, file *codegen.SourceFile, state *middlewareState) ([]*codegen.Statement, error) {
		if out, err := rewrite(stmt, file, state); err != nil || out != nil {
			return out, err
		}
		def, ok := codegen.DefaultExportOf(stmt, file)
		if !ok {
			return nil, nil
		}

		var decl string
		name := def.Name
		switch {
		case def.Kind == codegen.DefaultDeclaration:
			decl = def.Text
		case def.Kind == codegen.DefaultFunction && name != "" && def.NodeType != "arrow_function":
			decl = def.Text
		case def.Kind == codegen.DefaultFunction:
			name = anonymousMiddleware
			decl = fmt.Sprintf("const %s = %s;", name, def.Text)
		case def.Kind == codegen.DefaultIdentifier:
			return []*codegen.Statement{codegen.Synthesize(fmt.Sprintf("export = %s;", name))}, nil
		default:
			return []*codegen.Statement{codegen.Synthesize(fmt.Sprintf("export = %s;", def.Text))}, nil
		}
		if name == "" {
			return nil, &codegen.MalformedSourceError{Path: file.Path, Reason: "anonymous default export cannot be wrapped"}
		}
		first := codegen.Synthesize(decl)
		first.Blank = stmt.Blank
		return []*codegen.Statement{first, codegen.Synthesize(fmt.Sprintf("export = %s;", name))}, nil
	}
}

// detectCorePass records how the framework module is imported and adds
// the scope names to a named import list.
func detectCorePass(stmt *codegen.Statement, file *codegen.SourceFile, state *middlewareState) ([]*codegen.Statement, error) {
	imp, ok := codegen.ImportOf(stmt, file)
	if !ok || imp.Origin != CoreModule || imp.TypeOnly {
		return nil, nil
	}
	switch imp.Style {
	case codegen.ImportNamed:
		state.hasCore = true
		state.coreStyle = codegen.ImportNamed
		out := imp.WithNamed(stmt, InjectScope, MiddlewareType)
		if out == stmt {
			return nil, nil
		}
		return []*codegen.Statement{out}, nil
	case codegen.ImportNamespace, codegen.ImportRequire:
		state.hasCore = true
		state.coreStyle = imp.Style
		state.coreLocal = imp.Local
	}
	return nil, nil
}

// insertCorePass puts the framework import at the top of the module
// when no usable one exists. It inserts at most once per module.
func insertCorePass(stmt *codegen.Statement, _ *codegen.SourceFile, state *middlewareState) ([]*codegen.Statement, error) {
	if state.hasCore || state.coreInserted {
		return nil, nil
	}
	state.coreInserted = true
	state.coreStyle = codegen.ImportNamed
	imp := codegen.Synthesize(fmt.Sprintf("import { %s, %s } from %q;", InjectScope, MiddlewareType, CoreModule))
	return []*codegen.Statement{imp, stmt}, nil
}

// wrapPass replaces `export = name;` with the DI or plain wrapper.
func wrapPass(prog *codegen.Program) codegen.PassFunc[middlewareState] {
	return func(stmt *codegen.Statement, file *codegen.SourceFile, state *middlewareState) ([]*codegen.Statement, error) {
		assign, ok := codegen.ExportAssignmentOf(stmt, file)
		if !ok {
			return nil, nil
		}
		state.exported = true
		if assign.Kind != codegen.DefaultIdentifier {
			return nil, nil
		}
		fn, ok := file.FindFunction(assign.Name)
		if !ok {
			// exported value is not a function; nothing to wrap
			return nil, nil
		}

		deps, plain, err := classifyParams(prog, file, fn)
		if err != nil {
			return nil, err
		}
		var text string
		if plain {
			text = plainWrapper(fn.Name)
		} else {
			state.useDI = true
			text = diWrapper(fn.Name, deps, state)
		}
		out := codegen.Synthesize(text)
		out.Blank = stmt.Blank
		return []*codegen.Statement{out}, nil
	}
}

// classifyParams decides the wrapper kind. A single untyped, any or
// object-literal parameter selects the plain wrapper; otherwise every
// parameter must be a resolvable type reference.
func classifyParams(prog *codegen.Program, file *codegen.SourceFile, fn *codegen.FunctionSig) (deps []string, plain bool, err error) {
	if len(fn.Params) == 1 {
		switch fn.Params[0].Kind {
		case codegen.TypeNone, codegen.TypeAny, codegen.TypeLiteral:
			return nil, true, nil
		}
	}
	var problems []string
	for _, p := range fn.Params {
		switch p.Kind {
		case codegen.TypeReference, codegen.TypeQualified:
			if resolvable(prog, file, p) {
				deps = append(deps, p.TypeName)
				continue
			}
			problems = append(problems, fmt.Sprintf("parameter %s: type %s is not resolvable at runtime", p.Name, p.TypeText))
		case codegen.TypeNone:
			problems = append(problems, fmt.Sprintf("parameter %s has no type", p.Name))
		default:
			problems = append(problems, fmt.Sprintf("parameter %s: type %s cannot be injected", p.Name, p.TypeText))
		}
	}
	if len(problems) > 0 {
		return nil, false, &codegen.MalformedSourceError{
			Path:   file.Path,
			Reason: fmt.Sprintf("middleware %s is not injectable: %s", fn.Name, strings.Join(problems, "; ")),
		}
	}
	return deps, false, nil
}

// resolvable reports whether a parameter type names a runtime value the
// injector can look up: a value import, a local class, or a member of an
// imported binding. A named import from a module of the same program
// must be among that module's exports.
func resolvable(prog *codegen.Program, file *codegen.SourceFile, p codegen.Param) bool {
	tables := file.Context
	if tables == nil {
		return false
	}
	if p.Kind == codegen.TypeQualified {
		qualifier, _, _ := strings.Cut(p.TypeName, ".")
		ref, ok := tables.Import(qualifier)
		return ok && !ref.TypeOnly && ref.Style != codegen.ImportSideEffect
	}
	if !tables.RuntimeName(p.TypeName) {
		return false
	}
	ref, ok := tables.Import(p.TypeName)
	if !ok || ref.Style != codegen.ImportNamed || !ref.Relative() {
		return true
	}
	target, ok := prog.ResolveImport(file.Path, ref.Origin)
	if !ok {
		// outside the program; trust the import
		return true
	}
	names, _ := prog.ExportsOf(target)
	for _, n := range names {
		if n == ref.Imported {
			return true
		}
	}
	return false
}

func diWrapper(name string, deps []string, state *middlewareState) string {
	inject, scope := InjectScope, MiddlewareType
	if state.coreStyle != codegen.ImportNamed && state.coreLocal != "" {
		inject = state.coreLocal + "." + InjectScope
		scope = state.coreLocal + "." + MiddlewareType
	}
	var b strings.Builder
	fmt.Fprintf(&b, "export = (options: any = {}, app: any) => %s(async ({ injector, next }: %s) => {\n", inject, scope)
	args := make([]string, 0, len(deps))
	for i, dep := range deps {
		fmt.Fprintf(&b, "  const _p%d = injector.get(%s);\n", i, dep)
		args = append(args, fmt.Sprintf("_p%d", i))
	}
	call := strings.Join(append([]string{"{ next, options, app }"}, args...), ", ")
	fmt.Fprintf(&b, "  await %s.call(%s);\n", name, call)
	b.WriteString("});")
	return b.String()
}

func plainWrapper(name string) string {
	return fmt.Sprintf("export = (options: any = {}, app: any) => async (ctx: any, next: any) => {\n"+
		"  return await %s({ ctx, options, app, next } as any);\n"+
		"};", name)
}
