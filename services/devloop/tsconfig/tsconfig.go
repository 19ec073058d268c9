// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tsconfig loads TypeScript project configuration files and
// resolves the source files they describe.
//
// tsconfig.json is JSON with comments and trailing commas; it is
// normalized with hujson before decoding. Only the fields the dev loop
// needs are modeled.
package tsconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tailscale/hujson"
)

// DefaultPath is the placeholder meaning "use the default configuration".
const DefaultPath = "-"

// maxExtendsDepth bounds "extends" chains.
const maxExtendsDepth = 8

var (
	// ErrNotFound is returned when an explicitly named tsconfig is missing.
	ErrNotFound = errors.New("tsconfig not found")

	// ErrExtendsCycle is returned when "extends" chains loop or run too deep.
	ErrExtendsCycle = errors.New("tsconfig extends chain too deep")
)

// CompilerOptions is the subset of compilerOptions the dev loop reads.
type CompilerOptions struct {
	Target                 string              `json:"target,omitempty"`
	Module                 string              `json:"module,omitempty"`
	BaseURL                string              `json:"baseUrl,omitempty"`
	OutDir                 string              `json:"outDir,omitempty"`
	RootDir                string              `json:"rootDir,omitempty"`
	Paths                  map[string][]string `json:"paths,omitempty"`
	ExperimentalDecorators *bool               `json:"experimentalDecorators,omitempty"`
}

// Config is a loaded tsconfig.
type Config struct {
	// Path is the absolute file path, empty for the default config.
	Path string `json:"-"`

	Extends         string          `json:"extends,omitempty"`
	CompilerOptions CompilerOptions `json:"compilerOptions"`
	Include         []string        `json:"include,omitempty"`
	Exclude         []string        `json:"exclude,omitempty"`
	Files           []string        `json:"files,omitempty"`
}

// Default returns the configuration used when no tsconfig is given.
func Default() *Config {
	return &Config{
		CompilerOptions: CompilerOptions{Target: "es2019", Module: "commonjs"},
		Include:         []string{"**/*"},
	}
}

// IsDefault reports whether p names the default configuration.
func IsDefault(p string) bool {
	return p == "" || p == DefaultPath
}

// Load reads the tsconfig at p. IsDefault(p) yields Default().
func Load(p string) (*Config, error) {
	if IsDefault(p) {
		return Default(), nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("resolving tsconfig path: %w", err)
	}
	return load(abs, 0)
}

func load(abs string, depth int) (*Config, error) {
	if depth > maxExtendsDepth {
		return nil, ErrExtendsCycle
	}
	raw, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("reading tsconfig: %w", err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", abs, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", abs, err)
	}
	cfg.Path = abs

	if cfg.Extends == "" || !isRelative(cfg.Extends) {
		// Package-style extends ("@tsconfig/node16") are not followed.
		return cfg, nil
	}
	parentPath := cfg.Extends
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(filepath.Dir(abs), parentPath)
	}
	if filepath.Ext(parentPath) != ".json" {
		parentPath += ".json"
	}
	parent, err := load(parentPath, depth+1)
	if err != nil {
		return nil, err
	}
	return merge(parent, cfg), nil
}

// merge overlays child on parent the way tsc does: scalar compiler
// options and file lists from the child win when set.
func merge(parent, child *Config) *Config {
	out := *child
	co := parent.CompilerOptions
	if child.CompilerOptions.Target != "" {
		co.Target = child.CompilerOptions.Target
	}
	if child.CompilerOptions.Module != "" {
		co.Module = child.CompilerOptions.Module
	}
	if child.CompilerOptions.BaseURL != "" {
		co.BaseURL = child.CompilerOptions.BaseURL
	}
	if child.CompilerOptions.OutDir != "" {
		co.OutDir = child.CompilerOptions.OutDir
	}
	if child.CompilerOptions.RootDir != "" {
		co.RootDir = child.CompilerOptions.RootDir
	}
	if child.CompilerOptions.Paths != nil {
		co.Paths = child.CompilerOptions.Paths
	}
	if child.CompilerOptions.ExperimentalDecorators != nil {
		co.ExperimentalDecorators = child.CompilerOptions.ExperimentalDecorators
	}
	out.CompilerOptions = co
	if out.Include == nil {
		out.Include = parent.Include
	}
	if out.Exclude == nil {
		out.Exclude = parent.Exclude
	}
	if out.Files == nil {
		out.Files = parent.Files
	}
	return &out
}

// Dir returns the directory file lists are relative to, falling back to
// root for the default config.
func (c *Config) Dir(root string) string {
	if c.Path == "" {
		return root
	}
	return filepath.Dir(c.Path)
}

// ResolveFiles lists the TypeScript sources the config covers, relative
// to Dir(root) with forward slashes, sorted. Declaration files are skipped.
func (c *Config) ResolveFiles(root string) ([]string, error) {
	base := c.Dir(root)
	fsys := os.DirFS(base)
	seen := make(map[string]bool)
	var files []string

	add := func(rel string) {
		rel = path.Clean(filepath.ToSlash(rel))
		if seen[rel] || !IsSource(rel) || c.excluded(rel) {
			return
		}
		seen[rel] = true
		files = append(files, rel)
	}

	for _, f := range c.Files {
		add(f)
	}

	include := c.Include
	if include == nil && c.Files == nil {
		include = []string{"**/*"}
	}
	for _, pattern := range include {
		pattern = path.Clean(filepath.ToSlash(strings.TrimPrefix(pattern, "./")))
		if !hasMeta(pattern) {
			if info, err := os.Stat(filepath.Join(base, pattern)); err == nil && info.IsDir() {
				pattern += "/**/*"
			}
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			add(m)
		}
	}

	sort.Strings(files)
	return files, nil
}

// excluded applies the exclude list plus the implicit node_modules and
// outDir exclusions.
func (c *Config) excluded(rel string) bool {
	patterns := append([]string{"node_modules", "**/node_modules"}, c.Exclude...)
	if c.CompilerOptions.OutDir != "" {
		patterns = append(patterns, path.Clean(filepath.ToSlash(c.CompilerOptions.OutDir)))
	}
	for _, p := range patterns {
		p = path.Clean(filepath.ToSlash(strings.TrimPrefix(p, "./")))
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p+"/**", rel); ok {
			return true
		}
	}
	return false
}

// IsSource reports whether name is a TypeScript module (not a .d.ts).
func IsSource(name string) bool {
	if strings.HasSuffix(name, ".d.ts") {
		return false
	}
	ext := path.Ext(name)
	return ext == ".ts" || ext == ".tsx"
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

func isRelative(p string) bool {
	return strings.HasPrefix(p, "./") || strings.HasPrefix(p, "../") || filepath.IsAbs(p)
}
