// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvNodeEnv = "EXODEV_ENV"
	EnvPort    = "EXODEV_PORT"
)

var validate = validator.New()

// Load reads name (DefaultFileName when empty) from root and layers the
// local overlay on top. A missing main file yields DefaultConfig; a file
// that exists but does not parse is an error.
func Load(root, name string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = DefaultFileName
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, name)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("no exodev config found, using defaults", slog.String("path", p))
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", p, err)
	default:
		if err := decodeInto(&cfg, data); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		cfg.Path = p
	}

	local := filepath.Join(filepath.Dir(p), LocalFileName)
	if data, err := os.ReadFile(local); err == nil {
		if err := Merge(&cfg, data); err != nil {
			return nil, fmt.Errorf("%s: %w", local, err)
		}
		logger.Debug("applied local config overlay", slog.String("path", local))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", local, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeInto decodes YAML over the values already in cfg, rejecting
// unknown keys.
func decodeInto(cfg *Config, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, ErrInvalidConfig) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Merge layers overlay YAML onto cfg. Scalars and nested settings
// override, env entries are added, and watch/ignore lists are appended
// unless the base list is disabled. An overlay `false` disables a list.
func Merge(cfg *Config, overlay []byte) error {
	baseWatch, baseIgnore := cfg.Watch, cfg.Ignore
	cfg.Watch, cfg.Ignore = PathList{}, PathList{}
	if err := decodeInto(cfg, overlay); err != nil {
		cfg.Watch, cfg.Ignore = baseWatch, baseIgnore
		return err
	}
	cfg.Watch = mergeList(baseWatch, cfg.Watch)
	cfg.Ignore = mergeList(baseIgnore, cfg.Ignore)
	return nil
}

func mergeList(base, over PathList) PathList {
	switch {
	case !over.IsSet():
		return base
	case over.Disabled || base.Disabled:
		return PathList{Disabled: true, set: true}
	default:
		paths := append(append([]string(nil), base.Paths...), over.Paths...)
		return NewPathList(paths...)
	}
}

// Overrides are the dev command's flag values. Zero values leave the
// config untouched.
type Overrides struct {
	Env      string
	Port     string
	TSConfig string
	Debug    *Switch
	Mock     *Switch
	Inspect  *bool
	Compile  bool
}

// Apply layers flag values over the file settings.
func (c *Config) Apply(o Overrides) {
	if c.Env == nil {
		c.Env = map[string]string{}
	}
	if o.Env != "" {
		c.Env["NODE_ENV"] = o.Env
	}
	if o.Port != "" {
		c.Env["NODE_PORT"] = o.Port
	}
	if o.TSConfig != "" {
		c.TSConfig = o.TSConfig
	}
	if o.Debug != nil && o.Debug.Enabled {
		c.Debug = *o.Debug
	}
	if o.Mock != nil && o.Mock.Enabled {
		c.Mock = *o.Mock
	}
	if o.Inspect != nil {
		c.Inspect = *o.Inspect
	}
	if o.Compile {
		c.Compile = true
	}
}

// ApplyEnv applies EXODEV_ENV and EXODEV_PORT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	var o Overrides
	if v, ok := lookup(EnvNodeEnv); ok {
		o.Env = v
	}
	if v, ok := lookup(EnvPort); ok {
		o.Port = v
	}
	c.Apply(o)
}

// Validate checks field constraints and the port.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if v, ok := c.Env["NODE_PORT"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("%w: NODE_PORT %q is not a port", ErrInvalidConfig, v)
		}
	}
	return nil
}

// NodeEnv returns NODE_ENV, defaulting to development.
func (c *Config) NodeEnv() string {
	if v := c.Env["NODE_ENV"]; v != "" {
		return v
	}
	return DefaultNodeEnv
}

// Port returns NODE_PORT, defaulting to DefaultPort.
func (c *Config) Port() int {
	if n, err := strconv.Atoi(c.Env["NODE_PORT"]); err == nil && n > 0 {
		return n
	}
	return DefaultPort
}

// WatchList returns absolute watch globs. An unset list watches app,
// config and plugins; a disabled list watches nothing.
func (c *Config) WatchList(root string) []string {
	if c.Watch.Disabled {
		return nil
	}
	paths := c.Watch.Paths
	if !c.Watch.IsSet() {
		paths = []string{"app/**/*.*", "config/**/*.*", "plugins/**/*.*"}
	}
	return absolute(root, paths)
}

// IgnoreList returns absolute ignore globs.
func (c *Config) IgnoreList(root string) []string {
	if c.Ignore.Disabled {
		return nil
	}
	return absolute(root, c.Ignore.Paths)
}

// TSConfigFor returns the tsconfig a builder should use: its own setting,
// then the project setting, then "-".
func (c *Config) TSConfigFor(own string) string {
	switch {
	case own != "":
		return own
	case c.TSConfig != "":
		return c.TSConfig
	default:
		return "-"
	}
}

// AppTSConfig is the tsconfig given to ts-node.
func (c *Config) AppTSConfig() string {
	if c.TSConfig != "" {
		return c.TSConfig
	}
	return "tsconfig.json"
}

// TypeCheckEnabled reports whether the background checker should run.
func (c *Config) TypeCheckEnabled() bool {
	return c.TypeCheck && c.Transpile
}

func absolute(root string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, filepath.FromSlash(p))
		}
		out = append(out, p)
	}
	return out
}
