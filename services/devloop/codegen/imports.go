// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// RewriteRelativeImport returns the specifier that names the same target
// as spec once the importing module moves from fromDir to toDir.
// Non-relative specifiers are returned unchanged.
func RewriteRelativeImport(spec, fromDir, toDir string) string {
	if !IsRelativeSpecifier(spec) {
		return spec
	}
	target := filepath.Join(fromDir, filepath.FromSlash(spec))
	rel, err := filepath.Rel(toDir, target)
	if err != nil {
		return spec
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}
	if strings.HasSuffix(spec, "/") && !strings.HasSuffix(rel, "/") {
		rel += "/"
	}
	return rel
}

// RewriteImports rewrites every relative module specifier in stmt:
// import and export-from sources, `import x = require()`, and calls to
// require() or import() with a literal argument.
func RewriteImports(stmt *Statement, file *SourceFile, fromDir, toDir string) *Statement {
	if stmt.Node == nil {
		return stmt
	}
	var edits []Edit
	replace := func(str *sitter.Node) {
		if str == nil || str.Type() != "string" {
			return
		}
		spec := stringValue(str, file.Source)
		rewritten := RewriteRelativeImport(spec, fromDir, toDir)
		if rewritten == spec {
			return
		}
		edits = append(edits, Edit{Start: str.StartByte() + 1, End: str.EndByte() - 1, Text: rewritten})
	}

	switch stmt.Node.Type() {
	case "import_statement":
		if req := childOfType(stmt.Node, "import_require_clause"); req != nil {
			replace(sourceNode(req))
		} else {
			replace(sourceNode(stmt.Node))
		}
	case "export_statement":
		if src := stmt.Node.ChildByFieldName("source"); src != nil {
			replace(src)
		}
	}

	walk(stmt.Node, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return true
		}
		if name := fn.Content(file.Source); name == "require" || name == "import" {
			if args := n.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() == 1 {
				replace(args.NamedChild(0))
			}
		}
		return true
	})

	return stmt.Apply(edits)
}
