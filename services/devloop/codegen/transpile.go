// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/AleutianAI/exodev/services/devloop/tsconfig"
)

// Transpiler lowers TypeScript text to JavaScript.
type Transpiler interface {
	Transpile(path, source string, cfg *tsconfig.Config) (string, error)
}

// EsbuildTranspiler lowers to CommonJS with esbuild's transform API.
// It strips types only; it performs no type checking.
type EsbuildTranspiler struct {
	// DefaultTarget is used when the tsconfig names no target.
	DefaultTarget api.Target
}

// NewEsbuildTranspiler returns a transpiler targeting es2019 by default.
func NewEsbuildTranspiler() *EsbuildTranspiler {
	return &EsbuildTranspiler{DefaultTarget: api.ES2019}
}

var esbuildTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es6":    api.ES2015,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Transpile implements Transpiler.
func (t *EsbuildTranspiler) Transpile(path, source string, cfg *tsconfig.Config) (string, error) {
	target := t.DefaultTarget
	decorators := false
	if cfg != nil {
		if tt, ok := esbuildTargets[strings.ToLower(cfg.CompilerOptions.Target)]; ok {
			target = tt
		}
		if d := cfg.CompilerOptions.ExperimentalDecorators; d != nil {
			decorators = *d
		}
	}

	loader := api.LoaderTS
	if strings.HasSuffix(path, ".tsx") {
		loader = api.LoaderTSX
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:      loader,
		Format:      api.FormatCommonJS,
		Target:      target,
		Sourcefile:  path,
		TsconfigRaw: fmt.Sprintf(`{"compilerOptions":{"experimentalDecorators":%t}}`, decorators),
		LogLevel:    api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column+1, m.Text))
			} else {
				msgs = append(msgs, m.Text)
			}
		}
		return "", &TranspileError{Path: path, Messages: msgs}
	}
	return string(result.Code), nil
}
