// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"path/filepath"

	"github.com/AleutianAI/exodev/services/devloop/builders"
)

// Mode says why builders are being run.
type Mode int

const (
	// ModeDev runs builders inside the dev loop; they are enabled only
	// when the project sets compile.
	ModeDev Mode = iota

	// ModeCompile runs builders for a one-shot compile command.
	ModeCompile
)

// BuildRequest returns the request for one builder category. changes may
// be nil for a full pass.
func (c *Config) BuildRequest(root string, cat builders.Category, mode Mode, changes []string) *builders.Request {
	req := &builders.Request{Category: cat, ChangedFiles: changes}
	switch cat {
	case builders.CategoryConfig:
		s := c.ConfigCompiler
		req.Enabled = c.builderEnabled(s.Enabled, mode)
		req.Force = s.Force
		req.SourceRoot = join(root, s.ConfigRoot)
		req.OutputRoot = join(root, s.OutputRoot)
		req.TSConfig = c.builderTSConfig(root, s.TSConfig)
	case builders.CategoryMiddleware:
		s := c.MiddlewareCompiler
		req.Enabled = c.builderEnabled(s.Enabled, mode)
		req.Force = s.Force
		req.SourceRoot = join(root, s.Root)
		req.OutputRoot = join(root, s.Output)
		req.TSConfig = c.builderTSConfig(root, s.TSConfig)
	case builders.CategoryRouter:
		s := c.Routers
		req.Enabled = c.builderEnabled(s.Enabled, mode)
		req.Force = s.Always
		req.SourceRoot = join(root, s.ControllerRoot)
		req.OutputRoot = join(root, s.RouterRoot)
		req.TSConfig = c.builderTSConfig(root, s.TSConfig)
		req.URLRoot = s.AppRoot
		req.FileType = s.FileType
		req.ChangedFiles = nil
	}
	return req
}

// HMR reports whether changes under a category's source root trigger a
// rebuild in the dev loop. Routers are never rebuilt in the hot loop.
func (c *Config) HMR(cat builders.Category) bool {
	switch cat {
	case builders.CategoryConfig:
		return c.ConfigCompiler.HMR
	case builders.CategoryMiddleware:
		return c.MiddlewareCompiler.HMR
	default:
		return false
	}
}

func (c *Config) builderEnabled(enabled bool, mode Mode) bool {
	return enabled && (c.Compile || mode == ModeCompile)
}

func (c *Config) builderTSConfig(root, own string) string {
	p := c.TSConfigFor(own)
	if p == "-" {
		return p
	}
	return join(root, p)
}

func join(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, filepath.FromSlash(p))
}
