// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package typecheck

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/exodev/services/devloop/codegen"
	"github.com/AleutianAI/exodev/services/devloop/process"
	"github.com/AleutianAI/exodev/services/devloop/tsconfig"
)

// maxSyntaxErrorsPerFile caps what one broken file contributes.
const maxSyntaxErrorsPerFile = 20

// Checker produces diagnostics for a set of files. Files are absolute
// paths; the result is keyed by the same paths. Files without findings
// may be absent from the map.
type Checker interface {
	Check(ctx context.Context, files []string) (map[string][]Diagnostic, error)
}

// =============================================================================
// Syntax checker
// =============================================================================

// SyntaxChecker reports tree-sitter syntax errors. It never fails for
// lack of tooling.
type SyntaxChecker struct {
	parser *codegen.Parser
}

// NewSyntaxChecker creates a SyntaxChecker.
func NewSyntaxChecker() *SyntaxChecker {
	return &SyntaxChecker{parser: codegen.NewParser()}
}

// Check implements Checker. Unreadable files are reported as diagnostics
// rather than errors so one bad file does not hide the others.
func (c *SyntaxChecker) Check(ctx context.Context, files []string) (map[string][]Diagnostic, error) {
	out := make(map[string][]Diagnostic)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		diags, err := c.CheckFile(ctx, f)
		if err != nil {
			return nil, err
		}
		if len(diags) > 0 {
			out[f] = diags
		}
	}
	return out, nil
}

// CheckFile returns the syntax diagnostics of one file.
func (c *SyntaxChecker) CheckFile(ctx context.Context, file string) ([]Diagnostic, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return []Diagnostic{{
			Code:      6053,
			Severity:  SeverityError,
			Content:   fmt.Sprintf("File '%s' not found.", file),
			File:      file,
			Line:      1,
			Character: 1,
		}}, nil
	}
	errs, err := c.parser.SyntaxErrors(ctx, filepath.Base(file), src, maxSyntaxErrorsPerFile)
	if errors.Is(err, codegen.ErrFileTooLarge) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	diags := make([]Diagnostic, 0, len(errs))
	for _, e := range errs {
		content := "Syntax error."
		if e.Snippet != "" {
			content = fmt.Sprintf("Syntax error near '%s'.", e.Snippet)
		}
		diags = append(diags, Diagnostic{
			Code:      SyntaxCode,
			Severity:  SeverityError,
			Content:   content,
			File:      file,
			Line:      e.Line,
			Character: e.Column,
		})
	}
	return diags, nil
}

// =============================================================================
// tsc checker
// =============================================================================

// tscLine matches "path(line,col): error TS1234: message"; tscGlobal
// matches findings without a location, such as tsconfig problems.
var (
	tscLine   = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (error|warning|message|suggestion) TS(\d+): (.*)$`)
	tscGlobal = regexp.MustCompile(`^(error|warning|message|suggestion) TS(\d+): (.*)$`)
)

// TscChecker runs the TypeScript compiler without emitting.
type TscChecker struct {
	// Bin is the tsc executable.
	Bin string

	// Project is the tsconfig path passed with -p. Empty or "-" checks the
	// given files directly.
	Project string

	// Dir is the directory tsc runs in; relative paths in its output are
	// resolved against it.
	Dir string

	pm     process.ProcessManager
	logger *slog.Logger
}

// NewTscChecker creates a TscChecker running bin in dir.
func NewTscChecker(bin, project, dir string, pm process.ProcessManager, logger *slog.Logger) *TscChecker {
	if pm == nil {
		pm = process.NewDefaultProcessManager(dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TscChecker{Bin: bin, Project: project, Dir: dir, pm: pm, logger: logger}
}

// Args returns the tsc arguments for files.
func (c *TscChecker) Args(files []string) []string {
	args := []string{"--noEmit", "--pretty", "false"}
	if !tsconfig.IsDefault(c.Project) {
		return append(args, "-p", c.Project)
	}
	return append(args, files...)
}

// Check implements Checker. tsc exits non-zero when it reports findings,
// so a *process.CommandError with parseable output is a normal result.
func (c *TscChecker) Check(ctx context.Context, files []string) (map[string][]Diagnostic, error) {
	out, err := c.pm.Run(ctx, c.Bin, c.Args(files)...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	diags := ParseTscOutput(out, c.Dir)
	if err != nil && len(diags) == 0 {
		return nil, fmt.Errorf("running tsc: %w", err)
	}

	result := make(map[string][]Diagnostic)
	for _, d := range diags {
		result[d.File] = append(result[d.File], d)
	}
	c.logger.Debug("tsc finished", slog.Int("diagnostics", len(diags)), slog.Int("files", len(result)))
	return result, nil
}

// ParseTscOutput parses tsc's non-pretty output. Indented continuation
// lines are appended to the previous message. Relative paths are made
// absolute against dir.
func ParseTscOutput(out []byte, dir string) []Diagnostic {
	var diags []Diagnostic
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if m := tscLine.FindStringSubmatch(line); m != nil {
			file := m[1]
			if !filepath.IsAbs(file) && dir != "" {
				file = filepath.Join(dir, file)
			}
			ln, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			code, _ := strconv.Atoi(m[5])
			diags = append(diags, Diagnostic{
				Code:      code,
				Severity:  m[4],
				Content:   m[6],
				File:      file,
				Line:      ln,
				Character: col,
			})
			continue
		}
		if m := tscGlobal.FindStringSubmatch(line); m != nil {
			code, _ := strconv.Atoi(m[2])
			diags = append(diags, Diagnostic{Code: code, Severity: m[1], Content: m[3]})
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(diags) > 0 {
			last := &diags[len(diags)-1]
			last.Content += "\n" + strings.TrimSpace(line)
		}
	}
	return diags
}

// FindTsc locates the compiler: the project's node_modules/.bin first,
// then PATH.
func FindTsc(root string, pm process.ProcessManager) (string, error) {
	local := filepath.Join(root, "node_modules", ".bin", "tsc")
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}
	if pm == nil {
		pm = process.NewDefaultProcessManager(root)
	}
	if p, err := pm.LookPath("tsc"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: tsc not found in %s or PATH", ErrToolingUnavailable, filepath.Dir(local))
}
