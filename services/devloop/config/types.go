// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the project's exodev.yaml.
//
// The file is optional; every field has a default. A sibling
// exodev.local.yaml, when present, is layered on top: scalars and maps
// override, watch and ignore lists append. Command-line flags and the
// EXODEV_ENV / EXODEV_PORT variables are applied last.
package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// File names looked up in the project root.
const (
	DefaultFileName = "exodev.yaml"
	LocalFileName   = "exodev.local.yaml"
)

// Defaults applied when the config file is silent.
const (
	DefaultNodeEnv  = "development"
	DefaultPort     = 8201
	DefaultMockURL  = "http://127.0.0.1:8001"
	DefaultAppEntry = "app/app.ts"
)

// ErrInvalidConfig is wrapped by every validation and decoding failure.
var ErrInvalidConfig = errors.New("invalid exodev configuration")

// Config is the project configuration.
type Config struct {
	// TSConfig is the project tsconfig, relative to the root. Empty means
	// tsconfig.json for the app and defaults for the builders.
	TSConfig string `yaml:"tsconfig,omitempty"`

	// App is the application entry module.
	App string `yaml:"app" validate:"required"`

	// Inspect starts node with --inspect.
	Inspect bool `yaml:"inspect"`

	// Env is added to the application's environment. NODE_ENV and
	// NODE_PORT are always set.
	Env map[string]string `yaml:"env,omitempty"`

	// Watch and Ignore are globs relative to the root. `watch: false`
	// disables watching.
	Watch  PathList `yaml:"watch,omitempty"`
	Ignore PathList `yaml:"ignore,omitempty"`

	Verbose bool `yaml:"verbose"`

	// Debug sets DEBUG for the app: true means "*", a string is used as is.
	Debug Switch `yaml:"debug,omitempty"`

	// Mock routes the app through an HTTP proxy: true means DefaultMockURL.
	Mock Switch `yaml:"mock,omitempty"`

	// TypeCheck runs the background type-check worker. It only runs when
	// Transpile is also set, because otherwise ts-node checks types itself.
	TypeCheck bool `yaml:"typeCheck"`
	Transpile bool `yaml:"transpile"`

	// Compile enables the artifact builders in the dev loop.
	Compile bool `yaml:"compile"`

	Routers            RouterSettings     `yaml:"routers"`
	ConfigCompiler     ConfigSettings     `yaml:"configCompiler"`
	MiddlewareCompiler MiddlewareSettings `yaml:"middlewareCompiler"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9464".
	MetricsAddr string `yaml:"metricsAddr,omitempty" validate:"omitempty,hostname_port"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// ConfigSettings configures the config builder.
type ConfigSettings struct {
	Enabled    bool   `yaml:"enabled"`
	Force      bool   `yaml:"force"`
	HMR        bool   `yaml:"hmr"`
	ConfigRoot string `yaml:"configroot" validate:"required"`
	OutputRoot string `yaml:"outputroot" validate:"required"`
	TSConfig   string `yaml:"tsconfig,omitempty"`
}

// MiddlewareSettings configures the middleware builder.
type MiddlewareSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Force    bool   `yaml:"force"`
	HMR      bool   `yaml:"hmr"`
	Root     string `yaml:"root" validate:"required"`
	Output   string `yaml:"output" validate:"required"`
	TSConfig string `yaml:"tsconfig,omitempty"`
}

// RouterSettings configures the router builder.
type RouterSettings struct {
	Enabled bool `yaml:"enabled"`

	// Always rebuilds the router tree from scratch.
	Always   bool   `yaml:"always"`
	AppRoot  string `yaml:"approot" validate:"required"`
	FileType string `yaml:"filetype" validate:"oneof=js ts"`

	// Details prints every generated router.
	Details  bool   `yaml:"details"`
	TSConfig string `yaml:"tsconfig,omitempty"`

	// ControllerRoot and RouterRoot are relative to the project root.
	ControllerRoot string `yaml:"controllers" validate:"required"`
	RouterRoot     string `yaml:"output" validate:"required"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		App:       DefaultAppEntry,
		Inspect:   true,
		Env:       map[string]string{},
		Verbose:   true,
		TypeCheck: true,
		Transpile: true,
		ConfigCompiler: ConfigSettings{
			HMR:        true,
			ConfigRoot: "app/config",
			OutputRoot: "config",
		},
		MiddlewareCompiler: MiddlewareSettings{
			HMR:    true,
			Root:   "middlewares",
			Output: "app/middlewares",
		},
		Routers: RouterSettings{
			AppRoot:        "/",
			FileType:       "js",
			ControllerRoot: "app/controllers",
			RouterRoot:     "app/routers",
		},
	}
}

// =============================================================================
// YAML helper types
// =============================================================================

// PathList is a list of globs that may also be written as `false`.
type PathList struct {
	// Disabled is set by `false`; Paths is then empty.
	Disabled bool
	Paths    []string

	// set records that the key was present.
	set bool
}

// NewPathList returns a set list of paths.
func NewPathList(paths ...string) PathList {
	return PathList{Paths: paths, set: true}
}

// IsSet reports whether the list was configured at all.
func (l PathList) IsSet() bool { return l.set || l.Disabled }

// UnmarshalYAML accepts a sequence, a single string, or false.
func (l *PathList) UnmarshalYAML(n *yaml.Node) error {
	l.set = true
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!bool" {
			var b bool
			if err := n.Decode(&b); err != nil {
				return err
			}
			if b {
				return fmt.Errorf("%w: line %d: list may be false but not true", ErrInvalidConfig, n.Line)
			}
			l.Disabled = true
			l.Paths = nil
			return nil
		}
		if n.Tag == "!!null" {
			l.set = false
			return nil
		}
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		l.Paths = []string{s}
		return nil
	case yaml.SequenceNode:
		var paths []string
		if err := n.Decode(&paths); err != nil {
			return err
		}
		l.Disabled = false
		l.Paths = paths
		return nil
	default:
		return fmt.Errorf("%w: line %d: expected a list of paths or false", ErrInvalidConfig, n.Line)
	}
}

// MarshalYAML writes false for a disabled list.
func (l PathList) MarshalYAML() (any, error) {
	if l.Disabled {
		return false, nil
	}
	return l.Paths, nil
}

// Switch is a setting written as a bool or as a string value.
type Switch struct {
	Enabled bool
	Value   string
}

// On returns an enabled switch carrying value (empty for plain true).
func On(value string) Switch {
	return Switch{Enabled: true, Value: value}
}

// UnmarshalYAML accepts true, false, or a string.
func (s *Switch) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a bool or a string", ErrInvalidConfig, n.Line)
	}
	if n.Tag == "!!bool" {
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		*s = Switch{Enabled: b}
		return nil
	}
	var v string
	if err := n.Decode(&v); err != nil {
		return err
	}
	*s = Switch{Enabled: v != "", Value: v}
	return nil
}

// MarshalYAML writes a bool unless a value is set.
func (s Switch) MarshalYAML() (any, error) {
	if s.Value != "" {
		return s.Value, nil
	}
	return s.Enabled, nil
}

// Or returns Value, or fallback when the switch is a plain true.
func (s Switch) Or(fallback string) string {
	if !s.Enabled {
		return ""
	}
	if s.Value == "" {
		return fallback
	}
	return s.Value
}
