// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/process"
	"github.com/AleutianAI/exodev/services/devloop/telemetry"
)

// InProcessRunner calls the builders directly.
type InProcessRunner struct {
	Options []builders.Option
}

// Build runs req in this process.
func (r InProcessRunner) Build(ctx context.Context, req *builders.Request) (*builders.Result, error) {
	return builders.Run(ctx, req, r.Options...)
}

// ProcessRunner runs each request in an isolated `exodev worker build`
// process. The request travels as EXODEV_* variables and the reply comes
// back on the message channel.
type ProcessRunner struct {
	orch   *process.Orchestrator
	dir    string
	logger *slog.Logger

	// Args select the worker command. Default: worker build.
	Args []string
}

// NewProcessRunner returns a runner launching workers from dir.
func NewProcessRunner(orch *process.Orchestrator, dir string, logger *slog.Logger) *ProcessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRunner{orch: orch, dir: dir, logger: logger, Args: []string{"worker", "build"}}
}

// Build runs req in a worker and waits for its reply.
func (r *ProcessRunner) Build(ctx context.Context, req *builders.Request) (*builders.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	h, err := r.orch.Start(ctx, process.Job{
		Name: "build:" + string(req.Category),
		Mode: process.ModeIsolated,
		Args: r.Args,
		Env:  telemetry.InjectEnv(ctx, req.EnvMap()),
		Dir:  r.dir,
	})
	if err != nil {
		return nil, err
	}

	raw, recvErr := h.Channel().Receive()
	code, waitErr := h.Wait()
	h.Channel().Close()

	if recvErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(recvErr, io.EOF) {
			if waitErr != nil {
				return nil, fmt.Errorf("%s build worker sent no reply: %w", req.Category, waitErr)
			}
			return nil, fmt.Errorf("%s build worker exited with code %d without a reply", req.Category, code)
		}
		return nil, fmt.Errorf("reading %s build reply: %w", req.Category, recvErr)
	}

	res, err := builders.DecodeReply(req.Category, raw)
	if err != nil {
		return nil, err
	}
	if waitErr != nil {
		r.logger.Warn("build worker exited abnormally after replying",
			slog.String("category", string(req.Category)),
			slog.String("error", waitErr.Error()))
	}
	return res, nil
}
