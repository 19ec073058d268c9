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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routerRequest(root string) *Request {
	return &Request{
		Category:   CategoryRouter,
		Enabled:    true,
		SourceRoot: filepath.Join(root, "app", "controllers"),
		OutputRoot: filepath.Join(root, "app", "routers"),
		URLRoot:    "/",
		FileType:   "js",
	}
}

func TestRouterBuilder_OnlyChangedRoutersRewritten(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app/controllers/user.ts":       "@Router({ prefix: \"/user\" })\nexport class UserController {}\n",
		"app/controllers/admin/role.ts": "export class RoleController {}\n",
	})
	req := routerRequest(root)
	b := NewRouterBuilder()

	first, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(req.OutputRoot, "user.js")}, first.Written)
	assert.Equal(t, []string{"user.js"}, first.Routes)
	assert.DirExists(t, filepath.Join(req.OutputRoot, "admin"))
	assert.NoFileExists(t, filepath.Join(req.OutputRoot, "admin", "role.js"))

	assert.Equal(t, `// [exodev] generated router, do not edit
const CTOR = require("../controllers/user");
const { buildRouter } = require("@exoskeleton/core");
module.exports = buildRouter(CTOR, "user", "/");
`, readAt(t, filepath.Join(req.OutputRoot, "user.js")))

	second, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, second.Written)
	assert.Equal(t, 1, second.Skipped)

	writeAt(t, filepath.Join(req.SourceRoot, "admin", "role.ts"), "@Router({})\nexport class RoleController {}\n")
	third, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	rolePath := filepath.Join(req.OutputRoot, "admin", "role.js")
	assert.Equal(t, []string{rolePath}, third.Written)

	role := readAt(t, rolePath)
	assert.Contains(t, role, `require("../../controllers/admin/role")`)
	assert.Contains(t, role, `buildRouter(CTOR, "admin.role", "/")`)
}

func TestRouterBuilder_TypeScriptOutput(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app/controllers/shop/cart.ts": "import { Router } from \"@exoskeleton/core\";\n@Router({ prefix: \"/cart\" })\nexport default class Cart {}\n",
	})
	req := routerRequest(root)
	req.FileType = "ts"
	req.URLRoot = "/api"

	res, err := NewRouterBuilder().Build(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Written, 1)
	assert.Equal(t, `// [exodev] generated router, do not edit
import CTOR from "../../controllers/shop/cart";
import { buildRouter } from "@exoskeleton/core";
export = buildRouter(CTOR, "shop.cart", "/api");
`, readAt(t, filepath.Join(req.OutputRoot, "shop", "cart.ts")))
}

func TestRouterBuilder_Markers(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want ControllerMarkers
	}{
		{"none", "export class A {}\n", ControllerMarkers{}},
		{"v1 bare", "@Router\nexport class A {}\n", ControllerMarkers{HasRouter: true}},
		{"v1 string arg", "@Router(\"/a\")\nexport class A {}\n", ControllerMarkers{HasRouter: true}},
		{"v2", "@Router({ prefix: \"/a\" })\nclass A {}\nexport default A;\n", ControllerMarkers{HasRouter: true, V2: true}},
		{"other decorator", "@Injectable({})\nexport class A {}\n", ControllerMarkers{}},
	}
	b := NewRouterBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeTree(t, map[string]string{"a.ts": tt.src})
			got, err := b.Markers(context.Background(), filepath.Join(root, "a.ts"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouterBuilder_FirstStemWinsAndSkipsDeclarations(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app/controllers/item.d.ts":  "export declare class Item {}\n",
		"app/controllers/item.js":    "@Router({})\nclass Item {}\n",
		"app/controllers/item.ts":    "@Router({})\nexport class Item {}\n",
		"app/controllers/.hidden.ts": "@Router({})\nexport class Hidden {}\n",
		"app/controllers/README.md":  "# controllers\n",
	})
	res, err := NewRouterBuilder().Build(context.Background(), routerRequest(root))
	require.NoError(t, err)
	assert.Equal(t, []string{"item.js"}, res.Routes)
}

func TestRouterBuilder_ForceRebuilds(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app/controllers/user.ts": "@Router({})\nexport class User {}\n",
		"app/routers/stale.js":    "module.exports = 0;\n",
	})
	req := routerRequest(root)
	b := NewRouterBuilder()
	_, err := b.Build(context.Background(), req)
	require.NoError(t, err)

	req.Force = true
	res, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Written, 1)
	assert.NoFileExists(t, filepath.Join(req.OutputRoot, "stale.js"))
}

func TestRouterBuilder_MissingControllerRoot(t *testing.T) {
	req := routerRequest(t.TempDir())
	res, err := NewRouterBuilder().Build(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Routes)
}

func TestRouterModule_DefaultsMatchBuilder(t *testing.T) {
	js := RouterModule("js", "./x", "x", "/")
	assert.Contains(t, js, "module.exports = buildRouter(CTOR, \"x\", \"/\");\n")
	ts := RouterModule("ts", "./x", "x", "/")
	assert.Contains(t, ts, "export = buildRouter(CTOR, \"x\", \"/\");\n")
}
