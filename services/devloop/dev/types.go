// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package dev runs the build-and-supervise loop behind `exodev dev`.

The Orchestrator owns a single event loop:

	Idle -> Initializing -> Running -> Rebuilding -> Running -> ... -> Terminated

Initializing runs the config, middleware and router builders once, starts
the type-check worker and the application. Each batch of file changes then
rotates the cancellation token, stops the application, rebuilds the
affected config and middleware modules, and restarts everything. A failed
rebuild leaves the application down until the next change.

Builders run through a Runner: ProcessRunner launches `exodev worker build`
for each category, InProcessRunner calls the builders directly.
*/
package dev

import (
	"context"

	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/process"
)

// ErrToolingUnavailable is returned when node or ts-node is missing.
var ErrToolingUnavailable = process.ErrToolingUnavailable

// State is the orchestrator state.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateRebuilding
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateRebuilding:
		return "rebuilding"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Runner runs one builder request.
type Runner interface {
	Build(ctx context.Context, req *builders.Request) (*builders.Result, error)
}

// App is the supervised application.
type App interface {
	// Start reclaims the port and launches the application.
	Start(ctx context.Context) error

	// Stop kills the application and waits for it. Stopping a stopped
	// application is a no-op.
	Stop() error
}

// TypeChecker runs the background type-check worker.
type TypeChecker interface {
	// Start launches a check observing token.
	Start(ctx context.Context, token *cancel.Token) error

	// Stop kills a running check.
	Stop() error
}
