// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// =============================================================================
// Default exports
// =============================================================================

// DefaultKind classifies an `export default` statement.
type DefaultKind int

const (
	// DefaultDeclaration is `export default function f(){}` or a class.
	DefaultDeclaration DefaultKind = iota

	// DefaultFunction is an exported function or arrow expression.
	DefaultFunction

	// DefaultIdentifier is `export default name;`.
	DefaultIdentifier

	// DefaultValue is any other expression.
	DefaultValue
)

// DefaultExport describes an `export default` statement.
type DefaultExport struct {
	Kind DefaultKind

	// Name is the declared or function-expression name, or the identifier
	// for DefaultIdentifier. Empty for anonymous functions.
	Name string

	// NodeType is the syntax type of the exported declaration or expression.
	NodeType string

	// Text is the declaration or expression text.
	Text string
}

// DefaultExportOf reports the default export carried by stmt, if any.
func DefaultExportOf(stmt *Statement, file *SourceFile) (*DefaultExport, bool) {
	n := stmt.Node
	if n == nil || n.Type() != "export_statement" || !hasToken(n, "default") {
		return nil, false
	}
	src := file.Source
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		return &DefaultExport{
			Kind:     DefaultDeclaration,
			Name:     nodeName(decl, src),
			NodeType: decl.Type(),
			Text:     decl.Content(src),
		}, true
	}
	value := n.ChildByFieldName("value")
	if value == nil {
		return nil, false
	}
	out := &DefaultExport{NodeType: value.Type(), Text: value.Content(src)}
	switch {
	case isFunctionExpression(value):
		out.Kind = DefaultFunction
		out.Name = nodeName(value, src)
	case value.Type() == "identifier":
		out.Kind = DefaultIdentifier
		out.Name = out.Text
	default:
		out.Kind = DefaultValue
	}
	return out, true
}

// ExportAssignmentOf returns the expression of an `export = expr;`
// statement.
func ExportAssignmentOf(stmt *Statement, file *SourceFile) (expr *DefaultExport, ok bool) {
	n := stmt.Node
	if n == nil || n.Type() != "export_statement" || !hasToken(n, "=") {
		return nil, false
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out := &DefaultExport{NodeType: c.Type(), Text: c.Content(file.Source), Kind: DefaultValue}
		switch {
		case c.Type() == "identifier":
			out.Kind = DefaultIdentifier
			out.Name = out.Text
		case isFunctionExpression(c):
			out.Kind = DefaultFunction
			out.Name = nodeName(c, file.Source)
		}
		return out, true
	}
	return nil, false
}

// =============================================================================
// Functions
// =============================================================================

// FindFunction returns the signature of the top-level function named
// name: a function declaration or a const initialized with a function or
// arrow expression.
func (f *SourceFile) FindFunction(name string) (*FunctionSig, bool) {
	src := f.Source
	for _, stmt := range f.Statements() {
		n := stmt.Node
		if n.Type() == "export_statement" {
			if decl := n.ChildByFieldName("declaration"); decl != nil {
				n = decl
			}
		}
		switch n.Type() {
		case "function_declaration", "generator_function_declaration":
			if nodeName(n, src) == name {
				return functionSig(n, src), true
			}
		case "lexical_declaration", "variable_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				d := n.NamedChild(i)
				if d.Type() != "variable_declarator" || nodeName(d, src) != name {
					continue
				}
				if value := d.ChildByFieldName("value"); isFunctionExpression(value) {
					fn := functionSig(value, src)
					fn.Name = name
					return fn, true
				}
			}
		}
	}
	return nil, false
}

// =============================================================================
// Imports
// =============================================================================

// ImportDecl describes one import statement.
type ImportDecl struct {
	Origin string

	// Style is the form of the primary binding. A clause with both a
	// default and named imports reports ImportNamed.
	Style ImportStyle

	// Local is the binding of a default, namespace or require import.
	Local string

	// Named lists the imported names of named specifiers.
	Named []string

	TypeOnly bool

	named *sitter.Node
	specs []string
}

// ImportOf describes stmt when it is an import statement.
func ImportOf(stmt *Statement, file *SourceFile) (*ImportDecl, bool) {
	n := stmt.Node
	if n == nil || n.Type() != "import_statement" {
		return nil, false
	}
	src := file.Source
	d := &ImportDecl{TypeOnly: hasToken(n, "type")}

	if req := childOfType(n, "import_require_clause"); req != nil {
		d.Origin = stringValue(sourceNode(req), src)
		d.Style = ImportRequire
		d.Local = nodeText(childOfType(req, "identifier"), src)
		return d, true
	}

	d.Origin = stringValue(sourceNode(n), src)
	clause := childOfType(n, "import_clause")
	if clause == nil {
		d.Style = ImportSideEffect
		return d, true
	}
	d.Style = ImportDefault
	for i := 0; i < int(clause.ChildCount()); i++ {
		c := clause.Child(i)
		switch c.Type() {
		case "identifier":
			d.Local = c.Content(src)
		case "namespace_import":
			d.Style = ImportNamespace
			d.Local = nodeText(childOfType(c, "identifier"), src)
		case "named_imports":
			d.Style = ImportNamed
			d.named = c
			for j := 0; j < int(c.ChildCount()); j++ {
				spec := c.Child(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				d.Named = append(d.Named, nodeText(spec.ChildByFieldName("name"), src))
				d.specs = append(d.specs, spec.Content(src))
			}
		}
	}
	return d, true
}

// HasNamed reports whether name is among the named imports.
func (d *ImportDecl) HasNamed(name string) bool {
	for _, n := range d.Named {
		if n == name {
			return true
		}
	}
	return false
}

// WithNamed returns stmt with the missing names appended to its named
// import list. stmt must be the statement d was read from.
func (d *ImportDecl) WithNamed(stmt *Statement, names ...string) *Statement {
	if d.named == nil {
		return stmt
	}
	specs := append([]string(nil), d.specs...)
	for _, name := range names {
		if !d.HasNamed(name) {
			specs = append(specs, name)
		}
	}
	if len(specs) == len(d.specs) {
		return stmt
	}
	return stmt.Apply([]Edit{{
		Start: d.named.StartByte(),
		End:   d.named.EndByte(),
		Text:  "{ " + strings.Join(specs, ", ") + " }",
	}})
}

// =============================================================================
// Decorators
// =============================================================================

// Decorator is a class decorator found in a module.
type Decorator struct {
	// Name is the decorator expression without arguments, e.g. "Router".
	Name string

	// Called reports whether the decorator is invoked, `@Router()`.
	Called bool

	// ObjectArg reports whether the first argument is an object literal.
	ObjectArg bool

	// Class is the decorated class name, when known.
	Class string
}

// ClassDecorators lists the decorators applied to classes, in source order.
func (f *SourceFile) ClassDecorators() []Decorator {
	src := f.Source
	var out []Decorator
	walk(f.Root(), func(n *sitter.Node) bool {
		if n.Type() != "decorator" {
			return true
		}
		parent := n.Parent()
		if parent == nil {
			return false
		}
		var class *sitter.Node
		switch parent.Type() {
		case "class_declaration", "abstract_class_declaration", "class":
			class = parent
		case "export_statement":
			class = parent.ChildByFieldName("declaration")
		default:
			return false
		}

		d := Decorator{}
		if class != nil {
			d.Class = nodeName(class, src)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			expr := n.NamedChild(i)
			switch expr.Type() {
			case "call_expression":
				d.Called = true
				d.Name = nodeText(expr.ChildByFieldName("function"), src)
				if args := expr.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
					d.ObjectArg = args.NamedChild(0).Type() == "object"
				}
			case "identifier", "member_expression":
				d.Name = expr.Content(src)
			default:
				continue
			}
			break
		}
		out = append(out, d)
		return false
	})
	return out
}
