// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for codegen operations.
var (
	// ErrParse is wrapped by every *ParseError.
	ErrParse = errors.New("parse failed")

	// ErrMalformedSource is wrapped by every *MalformedSourceError.
	ErrMalformedSource = errors.New("malformed source module")

	// ErrTranspile is wrapped by every *TranspileError.
	ErrTranspile = errors.New("transpile failed")

	// ErrFileTooLarge is returned for sources above the parser size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
)

// ParseError reports the first syntax error in a module.
type ParseError struct {
	// Path is the module path as given to the parser.
	Path string

	// Line and Column are 1-based.
	Line   int
	Column int

	// Snippet is the offending source text, truncated.
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("%s:%d:%d: syntax error near %q", e.Path, e.Line, e.Column, e.Snippet)
	}
	return fmt.Sprintf("%s:%d:%d: syntax error", e.Path, e.Line, e.Column)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// MalformedSourceError reports a module that does not have the shape an
// artifact builder requires.
type MalformedSourceError struct {
	Path   string
	Reason string
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *MalformedSourceError) Unwrap() error { return ErrMalformedSource }

// TranspileError carries the lowering diagnostics for one module.
type TranspileError struct {
	Path     string
	Messages []string
}

func (e *TranspileError) Error() string {
	return fmt.Sprintf("%s: transpile failed: %s", e.Path, strings.Join(e.Messages, "; "))
}

func (e *TranspileError) Unwrap() error { return ErrTranspile }
