// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"fmt"
	"path"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// =============================================================================
// Import table
// =============================================================================

// ImportStyle is the syntactic form an import binding came from.
type ImportStyle int

const (
	// ImportNamed is `import { A } from "m"`.
	ImportNamed ImportStyle = iota

	// ImportDefault is `import A from "m"`.
	ImportDefault

	// ImportNamespace is `import * as A from "m"`.
	ImportNamespace

	// ImportRequire is `import A = require("m")` or `const A = require("m")`.
	ImportRequire

	// ImportSideEffect is `import "m"`; it binds no name.
	ImportSideEffect
)

// String returns the style name.
func (s ImportStyle) String() string {
	switch s {
	case ImportNamed:
		return "named"
	case ImportDefault:
		return "default"
	case ImportNamespace:
		return "namespace"
	case ImportRequire:
		return "require"
	case ImportSideEffect:
		return "side-effect"
	default:
		return "unknown"
	}
}

// ImportRef is one imported binding.
type ImportRef struct {
	// Name is the local binding name (empty for side-effect imports).
	Name string

	// Imported is the name exported by the origin module: the specifier
	// name for named imports, "default" or "*" otherwise.
	Imported string

	// Origin is the module specifier as written.
	Origin string

	// Identity is a stable per-module identifier for the origin,
	// "<last segment>_<n>".
	Identity string

	// Style is the import form.
	Style ImportStyle

	// TypeOnly marks `import type` bindings, which do not exist at runtime.
	TypeOnly bool
}

// Relative reports whether Origin is a relative specifier.
func (r *ImportRef) Relative() bool {
	return IsRelativeSpecifier(r.Origin)
}

// =============================================================================
// Function table
// =============================================================================

// TypeKind classifies a parameter's type annotation.
type TypeKind int

const (
	// TypeNone means the parameter has no annotation.
	TypeNone TypeKind = iota

	// TypeAny is the `any` keyword.
	TypeAny

	// TypeLiteral is an inline object type `{ ... }`.
	TypeLiteral

	// TypeReference is a plain or generic type name, `Db` or `Repo<User>`.
	TypeReference

	// TypeQualified is a dotted name, `ns.Db`.
	TypeQualified

	// TypeOther is any other annotation (predefined, union, function...).
	TypeOther
)

// Param is one formal parameter.
type Param struct {
	// Name is the binding text (may be a destructuring pattern).
	Name string

	// TypeText is the annotation as written, without the colon.
	TypeText string

	// TypeName is the runtime-visible name for references: "Db" for
	// `Repo<Db>`'s outer "Repo", "ns.Db" for qualified names.
	TypeName string

	// Kind classifies the annotation.
	Kind TypeKind
}

// FunctionSig is a top-level function's signature.
type FunctionSig struct {
	Name     string
	Params   []Param
	Async    bool
	Exported bool
	Default  bool
}

// =============================================================================
// PipelineContext
// =============================================================================

// PipelineContext holds the per-module analysis tables shared by the
// passes of one pipeline run. It is built from the authored module and
// discarded after that module is emitted.
type PipelineContext struct {
	// Root is the source directory and Out the output directory of the
	// module being transformed.
	Root string
	Out  string

	imports     map[string]*ImportRef
	importOrder []*ImportRef
	functions   map[string]*FunctionSig
	exports     []string
	exportSet   map[string]bool
	locals      map[string]string
	identities  map[string]int
}

// NewPipelineContext returns empty tables for a module moving from root
// to out. The "tslib" identity is reserved so helpers never collide with
// a user import.
func NewPipelineContext(root, out string) *PipelineContext {
	return &PipelineContext{
		Root:       root,
		Out:        out,
		imports:    make(map[string]*ImportRef),
		functions:  make(map[string]*FunctionSig),
		exportSet:  make(map[string]bool),
		locals:     make(map[string]string),
		identities: map[string]int{"tslib": 1},
	}
}

// Identity allocates the next identifier for an origin module.
func (c *PipelineContext) Identity(origin string) string {
	seg := path.Base(strings.TrimSuffix(origin, "/"))
	seg = strings.NewReplacer(".", "_", "-", "_", "@", "").Replace(seg)
	if seg == "" || seg == "_" {
		seg = "module"
	}
	c.identities[seg]++
	return fmt.Sprintf("%s_%d", seg, c.identities[seg])
}

// AddImport records ref, assigning an identity shared by all bindings of
// the same origin.
func (c *PipelineContext) AddImport(ref ImportRef) *ImportRef {
	for _, existing := range c.importOrder {
		if existing.Origin == ref.Origin {
			ref.Identity = existing.Identity
			break
		}
	}
	if ref.Identity == "" {
		ref.Identity = c.Identity(ref.Origin)
	}
	stored := &ref
	c.importOrder = append(c.importOrder, stored)
	if ref.Name != "" {
		c.imports[ref.Name] = stored
	}
	return stored
}

// Import looks up a binding by local name.
func (c *PipelineContext) Import(name string) (*ImportRef, bool) {
	ref, ok := c.imports[name]
	return ref, ok
}

// Imports returns every binding sorted deterministically: package
// imports before relative ones, then by origin, style and name.
func (c *PipelineContext) Imports() []*ImportRef {
	out := append([]*ImportRef(nil), c.importOrder...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Relative() != b.Relative() {
			return !a.Relative()
		}
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		if a.Style != b.Style {
			return a.Style < b.Style
		}
		return a.Name < b.Name
	})
	return out
}

// AddFunction records a function signature.
func (c *PipelineContext) AddFunction(fn *FunctionSig) {
	c.functions[fn.Name] = fn
}

// Function looks up a function by name.
func (c *PipelineContext) Function(name string) (*FunctionSig, bool) {
	fn, ok := c.functions[name]
	return fn, ok
}

// Functions returns all functions sorted by name.
func (c *PipelineContext) Functions() []*FunctionSig {
	out := make([]*FunctionSig, 0, len(c.functions))
	for _, fn := range c.functions {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddExport records an exported name. "default" is the default export
// and "=" an export assignment.
func (c *PipelineContext) AddExport(name string) {
	if name == "" || c.exportSet[name] {
		return
	}
	c.exportSet[name] = true
	c.exports = append(c.exports, name)
}

// HasExport reports whether name is exported.
func (c *PipelineContext) HasExport(name string) bool {
	return c.exportSet[name]
}

// Exports returns exported names in declaration order.
func (c *PipelineContext) Exports() []string {
	return append([]string(nil), c.exports...)
}

// AddLocal records a module-level declaration of the given kind.
func (c *PipelineContext) AddLocal(name, kind string) {
	if name != "" {
		c.locals[name] = kind
	}
}

// Local returns the kind of a module-level declaration.
func (c *PipelineContext) Local(name string) (string, bool) {
	kind, ok := c.locals[name]
	return kind, ok
}

// RuntimeName reports whether name refers to a value that exists at
// runtime in this module: a non type-only import or a local class.
func (c *PipelineContext) RuntimeName(name string) bool {
	if ref, ok := c.imports[name]; ok {
		return !ref.TypeOnly && ref.Style != ImportSideEffect
	}
	if kind, ok := c.locals[name]; ok {
		return kind == "class"
	}
	return false
}

// =============================================================================
// Analysis
// =============================================================================

// Analyze builds the tables for file.
func Analyze(file *SourceFile, root, out string) *PipelineContext {
	ctx := NewPipelineContext(root, out)
	src := file.Source
	for _, stmt := range file.Statements() {
		analyzeStatement(ctx, stmt.Node, src, false)
	}
	return ctx
}

func analyzeStatement(ctx *PipelineContext, n *sitter.Node, src []byte, exported bool) {
	switch n.Type() {
	case "import_statement":
		analyzeImport(ctx, n, src)
	case "export_statement":
		analyzeExport(ctx, n, src)
	case "function_declaration", "generator_function_declaration":
		fn := functionSig(n, src)
		fn.Exported = exported
		ctx.AddFunction(fn)
		ctx.AddLocal(fn.Name, "function")
	case "class_declaration", "abstract_class_declaration":
		ctx.AddLocal(nodeName(n, src), "class")
	case "interface_declaration":
		ctx.AddLocal(nodeName(n, src), "interface")
	case "type_alias_declaration":
		ctx.AddLocal(nodeName(n, src), "type")
	case "enum_declaration":
		ctx.AddLocal(nodeName(n, src), "enum")
	case "lexical_declaration", "variable_declaration":
		analyzeVariables(ctx, n, src, exported)
	}
}

func analyzeImport(ctx *PipelineContext, n *sitter.Node, src []byte) {
	typeOnly := hasToken(n, "type")

	if req := childOfType(n, "import_require_clause"); req != nil {
		ctx.AddImport(ImportRef{
			Name:     nodeText(childOfType(req, "identifier"), src),
			Imported: "*",
			Origin:   stringValue(sourceNode(req), src),
			Style:    ImportRequire,
		})
		return
	}

	origin := stringValue(sourceNode(n), src)
	clause := childOfType(n, "import_clause")
	if clause == nil {
		ctx.AddImport(ImportRef{Origin: origin, Style: ImportSideEffect})
		return
	}
	for i := 0; i < int(clause.ChildCount()); i++ {
		child := clause.Child(i)
		switch child.Type() {
		case "identifier":
			ctx.AddImport(ImportRef{Name: child.Content(src), Imported: "default", Origin: origin, Style: ImportDefault, TypeOnly: typeOnly})
		case "namespace_import":
			ctx.AddImport(ImportRef{Name: nodeText(childOfType(child, "identifier"), src), Imported: "*", Origin: origin, Style: ImportNamespace, TypeOnly: typeOnly})
		case "named_imports":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				name := nodeText(spec.ChildByFieldName("name"), src)
				local := nodeText(spec.ChildByFieldName("alias"), src)
				if local == "" {
					local = name
				}
				ctx.AddImport(ImportRef{
					Name:     local,
					Imported: name,
					Origin:   origin,
					Style:    ImportNamed,
					TypeOnly: typeOnly || hasToken(spec, "type"),
				})
			}
		}
	}
}

func analyzeExport(ctx *PipelineContext, n *sitter.Node, src []byte) {
	if hasToken(n, "=") {
		ctx.AddExport("=")
		return
	}
	isDefault := hasToken(n, "default")
	if isDefault {
		ctx.AddExport("default")
	}

	if decl := n.ChildByFieldName("declaration"); decl != nil {
		analyzeStatement(ctx, decl, src, true)
		if fn, ok := ctx.Function(nodeName(decl, src)); ok && decl.Type() == "function_declaration" {
			fn.Default = isDefault
		}
		if !isDefault {
			for _, name := range declaredNames(decl, src) {
				ctx.AddExport(name)
			}
		}
		return
	}

	if value := n.ChildByFieldName("value"); value != nil && isFunctionExpression(value) {
		if name := nodeText(value.ChildByFieldName("name"), src); name != "" {
			fn := functionSig(value, src)
			fn.Exported, fn.Default = true, true
			ctx.AddFunction(fn)
		}
	}

	if clause := childOfType(n, "export_clause"); clause != nil {
		for i := 0; i < int(clause.ChildCount()); i++ {
			spec := clause.Child(i)
			if spec.Type() != "export_specifier" {
				continue
			}
			name := nodeText(spec.ChildByFieldName("alias"), src)
			if name == "" {
				name = nodeText(spec.ChildByFieldName("name"), src)
			}
			ctx.AddExport(name)
		}
	}
}

func analyzeVariables(ctx *PipelineContext, n *sitter.Node, src []byte, exported bool) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		decl := n.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		name := nodeText(decl.ChildByFieldName("name"), src)
		value := decl.ChildByFieldName("value")
		switch {
		case value != nil && isFunctionExpression(value):
			fn := functionSig(value, src)
			fn.Name = name
			fn.Exported = exported
			ctx.AddFunction(fn)
			ctx.AddLocal(name, "function")
		case value != nil && isRequireCall(value, src):
			args := value.ChildByFieldName("arguments")
			ctx.AddImport(ImportRef{
				Name:     name,
				Imported: "*",
				Origin:   stringValue(args.NamedChild(0), src),
				Style:    ImportRequire,
			})
		default:
			ctx.AddLocal(name, "variable")
		}
	}
}

// functionSig reads name, async flag and parameters of a function-like node.
func functionSig(n *sitter.Node, src []byte) *FunctionSig {
	fn := &FunctionSig{
		Name:  nodeText(n.ChildByFieldName("name"), src),
		Async: hasToken(n, "async"),
	}
	params := n.ChildByFieldName("parameters")
	if params == nil {
		// single-identifier arrow function: x => ...
		if p := n.ChildByFieldName("parameter"); p != nil {
			fn.Params = []Param{{Name: p.Content(src)}}
		}
		return fn
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if p.Type() != "required_parameter" && p.Type() != "optional_parameter" {
			continue
		}
		pattern := p.ChildByFieldName("pattern")
		if pattern != nil && pattern.Type() == "this" {
			continue
		}
		fn.Params = append(fn.Params, paramOf(p, src))
	}
	return fn
}

func paramOf(p *sitter.Node, src []byte) Param {
	param := Param{Name: nodeText(p.ChildByFieldName("pattern"), src)}
	ann := p.ChildByFieldName("type")
	if ann == nil {
		return param
	}
	var typ *sitter.Node
	for i := 0; i < int(ann.NamedChildCount()); i++ {
		typ = ann.NamedChild(i)
	}
	if typ == nil {
		return param
	}
	param.TypeText = typ.Content(src)
	switch typ.Type() {
	case "predefined_type":
		if param.TypeText == "any" {
			param.Kind = TypeAny
		} else {
			param.Kind = TypeOther
		}
	case "object_type":
		param.Kind = TypeLiteral
	case "type_identifier":
		param.Kind = TypeReference
		param.TypeName = param.TypeText
	case "generic_type":
		param.Kind = TypeReference
		param.TypeName = nodeText(typ.ChildByFieldName("name"), src)
		if param.TypeName == "" {
			param.TypeName = nodeText(typ.NamedChild(0), src)
		}
		if strings.Contains(param.TypeName, ".") {
			param.Kind = TypeQualified
		}
	case "nested_type_identifier":
		param.Kind = TypeQualified
		param.TypeName = param.TypeText
	default:
		param.Kind = TypeOther
	}
	return param
}

// declaredNames lists the names bound by an exported declaration.
func declaredNames(decl *sitter.Node, src []byte) []string {
	switch decl.Type() {
	case "lexical_declaration", "variable_declaration":
		var names []string
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			if d := decl.NamedChild(i); d.Type() == "variable_declarator" {
				names = append(names, nodeText(d.ChildByFieldName("name"), src))
			}
		}
		return names
	default:
		if name := nodeName(decl, src); name != "" {
			return []string{name}
		}
	}
	return nil
}

// isRequireCall matches require("literal").
func isRequireCall(n *sitter.Node, src []byte) bool {
	if n.Type() != "call_expression" {
		return false
	}
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Content(src) != "require" {
		return false
	}
	args := n.ChildByFieldName("arguments")
	return args != nil && args.NamedChildCount() == 1 && args.NamedChild(0).Type() == "string"
}

// sourceNode returns the module specifier string of an import, export or
// import-require clause.
func sourceNode(n *sitter.Node) *sitter.Node {
	if s := n.ChildByFieldName("source"); s != nil {
		return s
	}
	return childOfType(n, "string")
}

func nodeName(n *sitter.Node, src []byte) string {
	return nodeText(n.ChildByFieldName("name"), src)
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// IsRelativeSpecifier reports whether a module specifier is relative.
func IsRelativeSpecifier(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}
