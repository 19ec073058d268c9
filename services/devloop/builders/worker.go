// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/codegen"
)

// Error kinds carried in a Reply.
const (
	KindInvalidRequest  = "invalid_request"
	KindMalformedSource = "malformed_source"
	KindParse           = "parse"
	KindTranspile       = "transpile"
	KindCanceled        = "canceled"
	KindInternal        = "internal"
)

// Reply is the build worker's single message to its parent.
type Reply struct {
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	Kind   string  `json:"kind,omitempty"`
}

// RemoteError is a build failure reported by a worker process. It
// unwraps to the sentinel matching its kind, so errors.Is works the same
// on both sides of the process boundary.
type RemoteError struct {
	Category Category
	Kind     string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s build: %s", e.Category, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Kind {
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindMalformedSource:
		return codegen.ErrMalformedSource
	case KindParse:
		return codegen.ErrParse
	case KindTranspile:
		return codegen.ErrTranspile
	case KindCanceled:
		return cancel.ErrOperationCanceled
	default:
		return nil
	}
}

// NewReply wraps the outcome of Run.
func NewReply(res *Result, err error) Reply {
	if err == nil {
		return Reply{Result: res}
	}
	return Reply{Error: err.Error(), Kind: errorKind(err)}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownCategory):
		return KindInvalidRequest
	case errors.Is(err, codegen.ErrMalformedSource):
		return KindMalformedSource
	case errors.Is(err, codegen.ErrParse):
		return KindParse
	case errors.Is(err, codegen.ErrTranspile):
		return KindTranspile
	case errors.Is(err, cancel.ErrOperationCanceled), errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// DecodeReply turns a worker message into the Run outcome.
func DecodeReply(cat Category, raw json.RawMessage) (*Result, error) {
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decoding %s build reply: %w", cat, err)
	}
	if r.Error != "" {
		return nil, &RemoteError{Category: cat, Kind: r.Kind, Message: r.Error}
	}
	if r.Result == nil {
		return nil, fmt.Errorf("%s build reply carries no result", cat)
	}
	return r.Result, nil
}

// Sender is the worker's side of the message channel.
type Sender interface {
	Send(v any) error
}

// RunWorker is the build worker entry point: it decodes the request from
// the environment, runs it, and sends one Reply. The returned error is
// the build error, for the exit status.
func RunWorker(ctx context.Context, ch Sender, lookup func(string) (string, bool), opts ...Option) error {
	req, err := RequestFromEnv(lookup)
	var res *Result
	if err == nil {
		res, err = Run(ctx, req, opts...)
	}
	if sendErr := ch.Send(NewReply(res, err)); sendErr != nil {
		return errors.Join(err, fmt.Errorf("sending build reply: %w", sendErr))
	}
	return err
}
