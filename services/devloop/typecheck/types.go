// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package typecheck runs the dev loop's background type check.

The worker lives in its own process. It receives a cancellation token as
its first message, checks every source the tsconfig covers, and answers
with exactly one Report. A worker whose token is requested stops between
files and reports nothing; the orchestrator has already moved on to a newer
generation by then.

Two checkers feed a run. SyntaxChecker parses every file with tree-sitter
and is always available. TscChecker runs the project's tsc for semantic
diagnostics; when tsc is missing the worker says so once and continues with
syntax diagnostics only.
*/
package typecheck

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/exodev/services/devloop/process"
)

// Severity values, matching the diagnostic categories tsc prints.
const (
	SeverityError      = "error"
	SeverityWarning    = "warning"
	SeverityMessage    = "message"
	SeveritySuggestion = "suggestion"
)

// SyntaxCode is the code reported for tree-sitter syntax errors. It is the
// code tsc uses for "Declaration or statement expected".
const SyntaxCode = 1128

var (
	// ErrToolingUnavailable is returned by FindTsc when no compiler is
	// installed.
	ErrToolingUnavailable = process.ErrToolingUnavailable

	// ErrMalformedMessage is returned by DecodeMessage for input that is
	// not JSON.
	ErrMalformedMessage = errors.New("malformed worker message")
)

// Diagnostic is one normalized type-check finding.
type Diagnostic struct {
	Code      int    `json:"code"`
	Severity  string `json:"severity"`
	Content   string `json:"content"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

// String renders the diagnostic the way the dev loop prints it.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s in %s[%d,%d]\nts%d : %s", strings.ToUpper(d.Severity), d.File, d.Line, d.Character, d.Code, d.Content)
}

// IsError reports whether the diagnostic has error severity.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

// Report is the worker's single result message. A nil Diagnostics
// distinguishes other objects from a report with no findings.
type Report struct {
	Diagnostics *[]Diagnostic `json:"diagnostics,omitempty"`
}

// NewReport wraps diags, keeping an empty list distinct from absent.
func NewReport(diags []Diagnostic) Report {
	if diags == nil {
		diags = []Diagnostic{}
	}
	return Report{Diagnostics: &diags}
}

// MessageKind classifies a message received from the worker.
type MessageKind int

const (
	// MessageOther is any JSON value that is neither a report nor a string.
	MessageOther MessageKind = iota

	// MessageReport carries diagnostics.
	MessageReport

	// MessageText is an informational string.
	MessageText
)

// String returns the kind name.
func (k MessageKind) String() string {
	switch k {
	case MessageReport:
		return "report"
	case MessageText:
		return "text"
	default:
		return "other"
	}
}

// Message is a decoded worker message.
type Message struct {
	Kind MessageKind

	// Diagnostics is set for MessageReport, possibly empty.
	Diagnostics []Diagnostic

	// Text is set for MessageText.
	Text string

	// Raw is the message as received.
	Raw json.RawMessage
}

// DecodeMessage classifies raw. An object with a "diagnostics" array is a
// report; a JSON string is text; anything else valid is MessageOther.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	msg := Message{Raw: raw}
	if !json.Valid(trimmed) {
		return msg, ErrMalformedMessage
	}

	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(trimmed, &msg.Text); err != nil {
			return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg.Kind = MessageText
	case '{':
		var r Report
		if err := json.Unmarshal(trimmed, &r); err != nil || r.Diagnostics == nil {
			msg.Kind = MessageOther
			return msg, nil
		}
		msg.Kind = MessageReport
		msg.Diagnostics = *r.Diagnostics
	default:
		msg.Kind = MessageOther
	}
	return msg, nil
}
