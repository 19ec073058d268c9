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
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// RouterDecorator marks a controller class that owns a router.
	RouterDecorator = "Router"

	routerHeader = "// [exodev] generated router, do not edit"
)

// RouterBuilder mirrors the controller tree into the router tree and
// emits a binding module for every v2 router controller.
//
// Controllers are inspected statically: a class decorated with @Router
// has a router, and @Router({...}) with an object argument marks the v2
// form. The builder has no incremental mode.
type RouterBuilder struct {
	opts options
}

// NewRouterBuilder creates a RouterBuilder.
func NewRouterBuilder(opts ...Option) *RouterBuilder {
	return &RouterBuilder{opts: newOptions(opts)}
}

// Category implements Builder.
func (b *RouterBuilder) Category() Category { return CategoryRouter }

// ControllerMarkers are the router markers of one controller module.
type ControllerMarkers struct {
	HasRouter bool
	V2        bool
}

// Build implements Builder. ChangedFiles is ignored.
func (b *RouterBuilder) Build(ctx context.Context, req *Request) (*Result, error) {
	return instrument(ctx, b.opts, req, func(ctx context.Context) (*Result, error) {
		if req.Force {
			if err := req.validateForce(); err != nil {
				return nil, err
			}
			if err := os.RemoveAll(req.OutputRoot); err != nil {
				return nil, fmt.Errorf("clearing %s: %w", req.OutputRoot, err)
			}
		}
		if err := os.MkdirAll(req.OutputRoot, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", req.OutputRoot, err)
		}

		fileType := req.FileType
		if fileType == "" {
			fileType = "js"
		}
		urlRoot := req.URLRoot
		if urlRoot == "" {
			urlRoot = "/"
		}

		res := &Result{}
		w := &routerWalk{
			ctx:      ctx,
			b:        b,
			req:      req,
			res:      res,
			fileType: fileType,
			urlRoot:  urlRoot,
		}
		if err := w.dir(""); err != nil {
			return nil, err
		}
		return res, nil
	})
}

type routerWalk struct {
	ctx      context.Context
	b        *RouterBuilder
	req      *Request
	res      *Result
	fileType string
	urlRoot  string
}

// dir processes the controller directory rel (slash separated, "" for
// the root) and recurses into subdirectories.
func (w *routerWalk) dir(rel string) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	ctrlDir := filepath.Join(w.req.SourceRoot, filepath.FromSlash(rel))
	entries, err := os.ReadDir(ctrlDir)
	if err != nil {
		if rel == "" && os.IsNotExist(err) {
			w.b.opts.logger.Warn("controller root missing", slog.String("root", ctrlDir))
			return nil
		}
		return fmt.Errorf("reading %s: %w", ctrlDir, err)
	}
	if err := os.MkdirAll(filepath.Join(w.req.OutputRoot, filepath.FromSlash(rel)), 0o755); err != nil {
		return err
	}

	seen := make(map[string]bool)
	var subdirs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			subdirs = append(subdirs, name)
			continue
		}
		if !isControllerModule(name) {
			continue
		}
		stem, _, _ := strings.Cut(name, ".")
		if seen[stem] {
			continue
		}
		seen[stem] = true
		if err := w.controller(rel, name, stem); err != nil {
			return err
		}
	}
	sort.Strings(subdirs)
	for _, sub := range subdirs {
		if err := w.dir(path.Join(rel, sub)); err != nil {
			return err
		}
	}
	return nil
}

func (w *routerWalk) controller(relDir, name, stem string) error {
	abs := filepath.Join(w.req.SourceRoot, filepath.FromSlash(relDir), name)
	markers, err := w.b.Markers(w.ctx, abs)
	if err != nil {
		return err
	}
	if !markers.HasRouter || !markers.V2 {
		return nil
	}

	routerRel := path.Join(relDir, stem+"."+w.fileType)
	dest := filepath.Join(w.req.OutputRoot, filepath.FromSlash(routerRel))
	ctrlNoExt := filepath.Join(w.req.SourceRoot, filepath.FromSlash(relDir), stem)
	importPath, err := filepath.Rel(filepath.Dir(dest), ctrlNoExt)
	if err != nil {
		return fmt.Errorf("locating controller %s: %w", abs, err)
	}
	importPath = filepath.ToSlash(importPath)
	if !strings.HasPrefix(importPath, ".") {
		importPath = "./" + importPath
	}
	dotted := strings.ReplaceAll(path.Join(relDir, stem), "/", ".")

	content := RouterModule(w.fileType, importPath, dotted, w.urlRoot)
	wrote, err := w.b.opts.writer.WriteIfChanged(Artifact{Path: dest, Content: content}, w.req.Force)
	if err != nil {
		return err
	}
	w.res.Routes = append(w.res.Routes, routerRel)
	if wrote {
		w.res.Written = append(w.res.Written, dest)
	} else {
		w.res.Skipped++
	}
	return nil
}

// Markers parses a controller module and reports its router markers.
func (b *RouterBuilder) Markers(ctx context.Context, abs string) (ControllerMarkers, error) {
	src, err := os.ReadFile(abs)
	if err != nil {
		return ControllerMarkers{}, fmt.Errorf("reading controller: %w", err)
	}
	file, err := b.opts.parser.Parse(ctx, filepath.Base(abs), abs, src)
	if err != nil {
		return ControllerMarkers{}, err
	}
	defer file.Close()

	var m ControllerMarkers
	for _, d := range file.ClassDecorators() {
		if d.Name != RouterDecorator {
			continue
		}
		m.HasRouter = true
		if d.Called && d.ObjectArg {
			m.V2 = true
		}
	}
	return m, nil
}

// RouterModule renders the binding module for one controller.
func RouterModule(fileType, importPath, dotted, urlRoot string) string {
	if fileType == "ts" {
		return strings.Join([]string{
			routerHeader,
			fmt.Sprintf("import CTOR from %q;", importPath),
			fmt.Sprintf("import { buildRouter } from %q;", CoreModule),
			fmt.Sprintf("export = buildRouter(CTOR, %q, %q);", dotted, urlRoot),
		}, "\n") + "\n"
	}
	return strings.Join([]string{
		routerHeader,
		fmt.Sprintf("const CTOR = require(%q);", importPath),
		fmt.Sprintf("const { buildRouter } = require(%q);", CoreModule),
		fmt.Sprintf("module.exports = buildRouter(CTOR, %q, %q);", dotted, urlRoot),
	}, "\n") + "\n"
}

func isControllerModule(name string) bool {
	if strings.HasSuffix(name, ".d.ts") {
		return false
	}
	ext := path.Ext(name)
	return ext == ".ts" || ext == ".js"
}
