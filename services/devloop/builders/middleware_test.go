// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builders

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exodev/services/devloop/codegen"
)

func middlewareRequest(root string, force bool) *Request {
	return &Request{
		Category:   CategoryMiddleware,
		Enabled:    true,
		Force:      force,
		SourceRoot: filepath.Join(root, "middlewares"),
		OutputRoot: filepath.Join(root, "app", "middlewares"),
		TSConfig:   "-",
	}
}

// buildMiddleware runs a force build (TypeScript output, no lowering)
// of a single module and returns the generated text.
func buildMiddleware(t *testing.T, src string) (string, error) {
	t.Helper()
	root := writeTree(t, map[string]string{"middlewares/mw.ts": src})
	req := middlewareRequest(root, true)
	if _, err := NewMiddlewareBuilder().Build(context.Background(), req); err != nil {
		return "", err
	}
	return readAt(t, filepath.Join(req.OutputRoot, "mw.ts")), nil
}

func TestMiddlewareBuilder_DIWrapper(t *testing.T) {
	out, err := buildMiddleware(t, `import { Database } from "../services/db";

export default function mw(db: Database) {
  return db;
}
`)
	require.NoError(t, err)
	assert.Equal(t, `import { injectScope, IMiddlewaresScope } from "@exoskeleton/core";
import { Database } from "../../services/db";

function mw(db: Database) {
  return db;
}
export = (options: any = {}, app: any) => injectScope(async ({ injector, next }: IMiddlewaresScope) => {
  const _p0 = injector.get(Database);
  await mw.call({ next, options, app }, _p0);
});
`, out)
}

func TestMiddlewareBuilder_PlainWrapper(t *testing.T) {
	out, err := buildMiddleware(t, "export default async function mw(ctx) {\n  ctx.body = 1;\n}\n")
	require.NoError(t, err)
	assert.Contains(t, out, "async function mw(ctx) {")
	assert.Contains(t, out, "export = (options: any = {}, app: any) => async (ctx: any, next: any) => {\n  return await mw({ ctx, options, app, next } as any);\n};")
	assert.NotContains(t, out, "injector.get")
}

func TestMiddlewareBuilder_PlainWrapperForLiteralAndAny(t *testing.T) {
	for _, src := range []string{
		"export default function mw(input: any) {}\n",
		"export default function mw({ ctx }: { ctx: any }) {}\n",
	} {
		out, err := buildMiddleware(t, src)
		require.NoError(t, err, src)
		assert.Contains(t, out, "async (ctx: any, next: any)", src)
	}
}

func TestMiddlewareBuilder_AnonymousArrow(t *testing.T) {
	out, err := buildMiddleware(t, "import { Logger } from \"@app/log\";\nexport default async (log: Logger) => { log.info(); };\n")
	require.NoError(t, err)
	assert.Contains(t, out, "const middleware = async (log: Logger) => { log.info(); };")
	assert.Contains(t, out, "const _p0 = injector.get(Logger);")
	assert.Contains(t, out, "await middleware.call({ next, options, app }, _p0);")
}

func TestMiddlewareBuilder_MultipleAndLocalDependencies(t *testing.T) {
	out, err := buildMiddleware(t, `import * as models from "@app/models";
import { Cache } from "@app/cache";
class Clock {}
export default function mw(c: Cache, u: models.User, k: Clock) {}
`)
	require.NoError(t, err)
	assert.Contains(t, out, "const _p0 = injector.get(Cache);\n  const _p1 = injector.get(models.User);\n  const _p2 = injector.get(Clock);")
	assert.Contains(t, out, "await mw.call({ next, options, app }, _p0, _p1, _p2);")
}

func TestMiddlewareBuilder_ZeroParamsUsesDI(t *testing.T) {
	out, err := buildMiddleware(t, "export default function mw() {}\n")
	require.NoError(t, err)
	assert.Contains(t, out, "await mw.call({ next, options, app });")
}

func TestMiddlewareBuilder_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"partially typed", "import { Database } from \"@app/db\";\nexport default function mw(db: Database, other) {}\n"},
		{"type-only import", "import type { Database } from \"@app/db\";\nexport default function mw(db: Database) {}\n"},
		{"unknown type", "export default function mw(db: Database, x: Other) {}\n"},
		{"local interface", "interface Opts { level: number }\nexport default function mw(o: Opts) {}\n"},
		{"predefined types", "export default function mw(a: string, b: number) {}\n"},
		{"no default export", "export function mw() {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildMiddleware(t, tt.src)
			assert.ErrorIs(t, err, codegen.ErrMalformedSource)
		})
	}
}

func TestMiddlewareBuilder_ExistingCoreImport(t *testing.T) {
	out, err := buildMiddleware(t, "import { Inject } from \"@exoskeleton/core\";\nimport { Db } from \"@app/db\";\nexport default function mw(db: Db) {}\n")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "@exoskeleton/core"))
	assert.Contains(t, out, `import { Inject, injectScope, IMiddlewaresScope } from "@exoskeleton/core";`)
}

func TestMiddlewareBuilder_NamespaceCoreImport(t *testing.T) {
	out, err := buildMiddleware(t, "import * as core from \"@exoskeleton/core\";\nimport { Db } from \"@app/db\";\nexport default function mw(db: Db) {}\n")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "@exoskeleton/core"))
	assert.Contains(t, out, "core.injectScope(async ({ injector, next }: core.IMiddlewaresScope) => {")
}

func TestMiddlewareBuilder_ResolvesAgainstProgramExports(t *testing.T) {
	root := writeTree(t, map[string]string{
		"middlewares/deps.ts": "export class Db {}\nexport default function deps() {}\n",
		"middlewares/mw.ts":   "import { Missing } from \"./deps\";\nexport default function mw(m: Missing) {}\n",
	})
	_, err := NewMiddlewareBuilder().Build(context.Background(), middlewareRequest(root, true))
	assert.ErrorIs(t, err, codegen.ErrMalformedSource)

	writeAt(t, filepath.Join(root, "middlewares", "mw.ts"), "import { Db } from \"./deps\";\nexport default function mw(d: Db) {}\n")
	_, err = NewMiddlewareBuilder().Build(context.Background(), middlewareRequest(root, true))
	assert.NoError(t, err)
}

func TestMiddlewareBuilder_TranspiledAndIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"middlewares/auth.ts": "import { Database } from \"@app/db\";\nexport default function auth(db: Database) { return db; }\n",
		"middlewares/log.ts":  "export default function log(ctx) { return ctx; }\n",
	})
	req := middlewareRequest(root, false)
	b := NewMiddlewareBuilder()

	first, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, first.Written, 2)

	js := readAt(t, filepath.Join(req.OutputRoot, "auth.js"))
	assert.Contains(t, js, "module.exports")
	assert.Contains(t, js, "injector.get(")
	assert.Contains(t, js, "injectScope")
	assert.NotContains(t, js, ": Database")

	second, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, second.Written)
	assert.Equal(t, 2, second.Skipped)
}

func TestMiddlewareBuilder_ForceRemovesOnlyCounterparts(t *testing.T) {
	root := writeTree(t, map[string]string{
		"middlewares/mw.ts":          "export default function mw(ctx) {}\n",
		"app/middlewares/mw.js":      "stale\n",
		"app/middlewares/handmade.js": "module.exports = () => {};\n",
	})
	req := middlewareRequest(root, true)
	_, err := NewMiddlewareBuilder().Build(context.Background(), req)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(req.OutputRoot, "mw.js"))
	assert.FileExists(t, filepath.Join(req.OutputRoot, "mw.ts"))
	assert.FileExists(t, filepath.Join(req.OutputRoot, "handmade.js"))
}
