// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package builders generates derived modules from annotated project
// sources.
//
// Three categories exist: config modules are rewritten into
// immediately-invoked exports, middleware modules are wrapped for
// dependency injection, and controller modules get generated router
// bindings. Every builder writes an artifact only when its content
// changed, so a rebuild with unchanged inputs touches nothing.
//
// A build is described by a Request. Across the process boundary the
// Request travels as EXODEV_* environment variables (Env and
// RequestFromEnv).
package builders

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/exodev/services/devloop/tsconfig"
)

// Category names an artifact category.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryMiddleware Category = "middleware"
	CategoryRouter     Category = "router"
)

// Categories lists every category in build order.
var Categories = []Category{CategoryConfig, CategoryMiddleware, CategoryRouter}

// Environment variables of the build worker ABI.
const (
	EnvCategory   = "EXODEV_BUILD_CATEGORY"
	EnvSourceRoot = "EXODEV_SOURCE_ROOT"
	EnvOutputRoot = "EXODEV_OUTPUT_ROOT"
	EnvForce      = "EXODEV_FORCE"
	EnvEnabled    = "EXODEV_ENABLED"
	EnvChanges    = "EXODEV_CHANGES"
	EnvTSConfig   = "EXODEV_TSCONFIG"
	EnvURLRoot    = "EXODEV_URL_ROOT"
	EnvFileType   = "EXODEV_FILE_TYPE"
)

var (
	// ErrInvalidRequest marks configuration errors detected before any I/O.
	ErrInvalidRequest = errors.New("invalid build request")

	// ErrUnknownCategory is returned for an unrecognized category name.
	ErrUnknownCategory = errors.New("unknown build category")
)

// Request describes one builder invocation.
type Request struct {
	Category Category `json:"category" validate:"required,oneof=config middleware router"`

	// Enabled false makes Build a no-op.
	Enabled bool `json:"enabled"`

	// Force regenerates everything, clearing previous output first.
	Force bool `json:"force"`

	SourceRoot string `json:"sourceRoot" validate:"required"`
	OutputRoot string `json:"outputRoot" validate:"required"`

	// TSConfig is a tsconfig path, or "-" for the defaults.
	TSConfig string `json:"tsconfig"`

	// ChangedFiles restricts the build to these absolute paths. Empty
	// means a full pass.
	ChangedFiles []string `json:"changedFiles,omitempty"`

	// URLRoot and FileType apply to the router category.
	URLRoot  string `json:"urlRoot,omitempty"`
	FileType string `json:"fileType,omitempty" validate:"omitempty,oneof=js ts"`
}

var validate = validator.New()

// Validate checks the request shape and the incremental root invariant.
// It performs no I/O.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !filepath.IsAbs(r.SourceRoot) || !filepath.IsAbs(r.OutputRoot) {
		return fmt.Errorf("%w: roots must be absolute (source %q, output %q)", ErrInvalidRequest, r.SourceRoot, r.OutputRoot)
	}
	for _, p := range r.ChangedFiles {
		if !IsWithin(r.SourceRoot, p) {
			return fmt.Errorf("%w: changed file %s is outside source root %s", ErrInvalidRequest, p, r.SourceRoot)
		}
	}
	return nil
}

// validateForce checks the root layout required before output is cleared.
func (r *Request) validateForce() error {
	src, out := filepath.Clean(r.SourceRoot), filepath.Clean(r.OutputRoot)
	if src == out {
		return fmt.Errorf("%w: source and output roots are both %s with force enabled", ErrInvalidRequest, src)
	}
	if IsWithin(out, src) {
		return fmt.Errorf("%w: source root %s lies inside output root %s with force enabled", ErrInvalidRequest, src, out)
	}
	return nil
}

// TSConfigPath returns the tsconfig path, "-" when unset.
func (r *Request) TSConfigPath() string {
	if r.TSConfig == "" {
		return tsconfig.DefaultPath
	}
	return r.TSConfig
}

// Env encodes the request as worker environment entries.
func (r *Request) Env() []string {
	changes, _ := json.Marshal(r.ChangedFiles)
	if r.ChangedFiles == nil {
		changes = []byte("[]")
	}
	env := []string{
		EnvCategory + "=" + string(r.Category),
		EnvSourceRoot + "=" + r.SourceRoot,
		EnvOutputRoot + "=" + r.OutputRoot,
		EnvForce + "=" + strconv.FormatBool(r.Force),
		EnvEnabled + "=" + strconv.FormatBool(r.Enabled),
		EnvChanges + "=" + string(changes),
		EnvTSConfig + "=" + r.TSConfigPath(),
	}
	if r.URLRoot != "" {
		env = append(env, EnvURLRoot+"="+r.URLRoot)
	}
	if r.FileType != "" {
		env = append(env, EnvFileType+"="+r.FileType)
	}
	return env
}

// EnvMap is Env as a map, for process.Job.
func (r *Request) EnvMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range r.Env() {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

// RequestFromEnv decodes a request from environment lookups. It is the
// only place the worker reads its configuration from the environment.
func RequestFromEnv(lookup func(string) (string, bool)) (*Request, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return v
	}
	boolean := func(k string) (bool, error) {
		v := get(k)
		if v == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidRequest, k, v)
		}
		return b, nil
	}

	req := &Request{
		Category:   Category(get(EnvCategory)),
		SourceRoot: get(EnvSourceRoot),
		OutputRoot: get(EnvOutputRoot),
		TSConfig:   get(EnvTSConfig),
		URLRoot:    get(EnvURLRoot),
		FileType:   get(EnvFileType),
	}
	var err error
	if req.Force, err = boolean(EnvForce); err != nil {
		return nil, err
	}
	if req.Enabled, err = boolean(EnvEnabled); err != nil {
		return nil, err
	}
	if raw := get(EnvChanges); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.ChangedFiles); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, EnvChanges, err)
		}
	}
	if len(req.ChangedFiles) == 0 {
		req.ChangedFiles = nil
	}
	return req, nil
}

// IsWithin reports whether p is root or a descendant of root.
func IsWithin(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
