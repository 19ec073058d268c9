// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// DefaultMaxFileSize is the largest module the parser accepts.
const DefaultMaxFileSize = 4 << 20

// =============================================================================
// Parser
// =============================================================================

// Parser turns TypeScript source into SourceFiles using tree-sitter.
//
// Thread Safety: Parser is stateless; a tree-sitter parser is created per
// call, so one Parser may be shared across goroutines.
type Parser struct {
	maxFileSize int
}

// NewParser returns a Parser with the default size limit.
func NewParser() *Parser {
	return &Parser{maxFileSize: DefaultMaxFileSize}
}

// Parse parses src. A tree containing ERROR or MISSING nodes is rejected
// with a *ParseError; the returned SourceFile must be closed.
func (p *Parser) Parse(ctx context.Context, relPath, absPath string, src []byte) (*SourceFile, error) {
	if len(src) > p.maxFileSize {
		return nil, fmt.Errorf("%s: %w (%d bytes)", relPath, ErrFileTooLarge, len(src))
	}

	parser := sitter.NewParser()
	if strings.HasSuffix(relPath, ".tsx") {
		parser.SetLanguage(tsx.GetLanguage())
	} else {
		parser.SetLanguage(typescript.GetLanguage())
	}

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%s: tree-sitter parse failed: %w", relPath, err)
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, &ParseError{Path: relPath, Line: 1, Column: 1}
	}
	if root.HasError() {
		perr := firstSyntaxError(root, src, relPath)
		tree.Close()
		return nil, perr
	}

	return &SourceFile{Path: relPath, AbsPath: absPath, Source: src, tree: tree}, nil
}

// SyntaxErrors parses src and returns every syntax error in it, in source
// order, capped at limit (0 means no cap). It does not keep the tree.
func (p *Parser) SyntaxErrors(ctx context.Context, relPath string, src []byte, limit int) ([]*ParseError, error) {
	if len(src) > p.maxFileSize {
		return nil, fmt.Errorf("%s: %w (%d bytes)", relPath, ErrFileTooLarge, len(src))
	}
	parser := sitter.NewParser()
	if strings.HasSuffix(relPath, ".tsx") {
		parser.SetLanguage(tsx.GetLanguage())
	} else {
		parser.SetLanguage(typescript.GetLanguage())
	}
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%s: tree-sitter parse failed: %w", relPath, err)
	}
	defer tree.Close()
	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil, nil
	}
	return syntaxErrors(root, src, relPath, limit), nil
}

// firstSyntaxError locates the earliest ERROR or MISSING node.
func firstSyntaxError(root *sitter.Node, src []byte, path string) *ParseError {
	if errs := syntaxErrors(root, src, path, 1); len(errs) > 0 {
		return errs[0]
	}
	return &ParseError{Path: path, Line: 1, Column: 1}
}

// syntaxErrors collects ERROR and MISSING nodes. Children of an ERROR node
// are not reported separately.
func syntaxErrors(root *sitter.Node, src []byte, path string, limit int) []*ParseError {
	var out []*ParseError
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || (limit > 0 && len(out) >= limit) {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			pt := n.StartPoint()
			snippet := strings.TrimSpace(n.Content(src))
			if len(snippet) > 40 {
				snippet = snippet[:40]
			}
			if n.IsMissing() {
				snippet = "missing " + n.Type()
			}
			out = append(out, &ParseError{Path: path, Line: int(pt.Row) + 1, Column: int(pt.Column) + 1, Snippet: snippet})
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}

// =============================================================================
// SourceFile
// =============================================================================

// SourceFile is one parsed module.
type SourceFile struct {
	// Path is the module path relative to the program root, slash separated.
	Path string

	// AbsPath is the absolute filesystem path of the authored module.
	AbsPath string

	// Source is the text the tree was parsed from.
	Source []byte

	// Context holds the analysis tables for the authored module. It is
	// set by ParseProgram and released after the module is emitted.
	Context *PipelineContext

	tree *sitter.Tree
}

// Root returns the program node.
func (f *SourceFile) Root() *sitter.Node {
	return f.tree.RootNode()
}

// Text returns the source text covered by n.
func (f *SourceFile) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(f.Source)
}

// Statements returns the top-level statements, comments included, in
// source order.
func (f *SourceFile) Statements() []*Statement {
	root := f.Root()
	count := int(root.NamedChildCount())
	stmts := make([]*Statement, 0, count)
	var prevEnd uint32
	for i := 0; i < count; i++ {
		n := root.NamedChild(i)
		gap := string(f.Source[prevEnd:n.StartByte()])
		stmts = append(stmts, &Statement{
			Node:  n,
			Text:  n.Content(f.Source),
			Blank: i > 0 && strings.Count(gap, "\n") > 1,
		})
		prevEnd = n.EndByte()
	}
	return stmts
}

// Close releases the syntax tree. Safe to call more than once.
func (f *SourceFile) Close() {
	if f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}

// =============================================================================
// Statement
// =============================================================================

// Statement is one top-level statement of a module, either taken from the
// parsed tree or synthesized by a pass.
type Statement struct {
	// Node is the syntax node, nil for synthesized statements.
	Node *sitter.Node

	// Text is the statement's source text.
	Text string

	// Blank marks a statement preceded by an empty line in the source.
	Blank bool
}

// Synthesize creates a statement from generated text.
func Synthesize(text string) *Statement {
	return &Statement{Text: strings.TrimRight(text, "\n")}
}

// Type returns the node type, or "synthetic".
func (s *Statement) Type() string {
	if s.Node == nil {
		return "synthetic"
	}
	return s.Node.Type()
}

// Synthetic reports whether the statement was generated.
func (s *Statement) Synthetic() bool {
	return s.Node == nil
}

// Edit replaces the bytes [Start, End) of a node's source.
type Edit struct {
	Start uint32
	End   uint32
	Text  string
}

// Apply returns a copy of the statement with edits applied. Edit offsets
// are absolute positions in the file the statement was parsed from.
func (s *Statement) Apply(edits []Edit) *Statement {
	if len(edits) == 0 || s.Node == nil {
		return s
	}
	base := s.Node.StartByte()
	sorted := append([]Edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	text := s.Text
	for _, e := range sorted {
		start, end := int(e.Start-base), int(e.End-base)
		text = text[:start] + e.Text + text[end:]
	}
	return &Statement{Text: text, Blank: s.Blank}
}

// =============================================================================
// Node helpers
// =============================================================================

// childOfType returns the first direct child of type typ.
func childOfType(n *sitter.Node, typ string) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

// hasToken reports whether n has a direct (anonymous or named) child of
// type typ, e.g. "default" or "=".
func hasToken(n *sitter.Node, typ string) bool {
	return childOfType(n, typ) != nil
}

// stringValue returns the contents of a string literal node without quotes.
func stringValue(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	text := n.Content(src)
	if len(text) >= 2 {
		return text[1 : len(text)-1]
	}
	return ""
}

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

// isFunctionExpression covers both grammar spellings of an anonymous function.
func isFunctionExpression(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "function", "function_expression", "arrow_function", "generator_function":
		return true
	}
	return false
}
