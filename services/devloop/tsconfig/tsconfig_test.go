// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Default(t *testing.T) {
	for _, p := range []string{"", "-"} {
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.Empty(t, cfg.Path)
		assert.Equal(t, "es2019", cfg.CompilerOptions.Target)
	}
}

func TestLoad_CommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tsconfig.json")
	writeFile(t, p, `{
  // build settings
  "compilerOptions": {
    "target": "es2017", /* old node */
    "outDir": "dist",
  },
  "include": ["app/**/*",],
}`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, p, cfg.Path)
	assert.Equal(t, "es2017", cfg.CompilerOptions.Target)
	assert.Equal(t, "dist", cfg.CompilerOptions.OutDir)
	assert.Equal(t, []string{"app/**/*"}, cfg.Include)
}

func TestLoad_Extends(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.json"), `{"compilerOptions": {"target": "es2018", "module": "commonjs"}, "exclude": ["scripts"]}`)
	writeFile(t, filepath.Join(dir, "tsconfig.json"), `{"extends": "./base", "compilerOptions": {"target": "es2020"}}`)

	cfg, err := Load(filepath.Join(dir, "tsconfig.json"))
	require.NoError(t, err)
	assert.Equal(t, "es2020", cfg.CompilerOptions.Target)
	assert.Equal(t, "commonjs", cfg.CompilerOptions.Module)
	assert.Equal(t, []string{"scripts"}, cfg.Exclude)
}

func TestLoad_ExtendsCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{"extends": "./b.json"}`)
	writeFile(t, filepath.Join(dir, "b.json"), `{"extends": "./a.json"}`)

	_, err := Load(filepath.Join(dir, "a.json"))
	assert.ErrorIs(t, err, ErrExtendsCycle)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app", "app.ts"), "")
	writeFile(t, filepath.Join(dir, "app", "controllers", "user.ts"), "")
	writeFile(t, filepath.Join(dir, "app", "typings.d.ts"), "")
	writeFile(t, filepath.Join(dir, "app", "readme.md"), "")
	writeFile(t, filepath.Join(dir, "node_modules", "lib", "index.ts"), "")
	writeFile(t, filepath.Join(dir, "dist", "app.ts"), "")
	writeFile(t, filepath.Join(dir, "scripts", "seed.ts"), "")
	writeFile(t, filepath.Join(dir, "tsconfig.json"), `{"compilerOptions": {"outDir": "dist"}, "exclude": ["scripts"]}`)

	cfg, err := Load(filepath.Join(dir, "tsconfig.json"))
	require.NoError(t, err)

	files, err := cfg.ResolveFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/app.ts", "app/controllers/user.ts"}, files)
}

func TestResolveFiles_DirectoryInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app", "a.ts"), "")
	writeFile(t, filepath.Join(dir, "other", "b.ts"), "")

	cfg := Default()
	cfg.Include = []string{"./app"}
	files, err := cfg.ResolveFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/a.ts"}, files)
}

func TestIsSource(t *testing.T) {
	assert.True(t, IsSource("a.ts"))
	assert.True(t, IsSource("a.tsx"))
	assert.False(t, IsSource("a.d.ts"))
	assert.False(t, IsSource("a.js"))
}
