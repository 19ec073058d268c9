// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cancel

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrOperationCanceled is returned by ThrowIfRequested. It is a control
	// signal, not a failure, and callers must not log it as an error.
	ErrOperationCanceled = errors.New("operation canceled")

	// ErrInvalidTokenData is returned when serialized token data has no id.
	ErrInvalidTokenData = errors.New("invalid cancellation token data")
)

// CheckInterval is the minimum time between two reads of the signal.
const CheckInterval = 10 * time.Millisecond

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// Observer is the worker-side view of a cancellation token.
type Observer interface {
	// IsRequested reports whether cancellation was requested.
	IsRequested() bool

	// ThrowIfRequested returns ErrOperationCanceled once cancellation was
	// requested and nil before.
	ThrowIfRequested() error
}

// Source is the owner-side view of a cancellation token.
type Source interface {
	// RequestCancellation raises the signal. Idempotent.
	RequestCancellation() error

	// Cleanup removes the backing signal.
	Cleanup() error

	// Observer returns the read side of this source.
	Observer() Observer
}

// Signal is the shared marker a token polls.
//
// FileSignal is the cross-process implementation; MemorySignal lets tests
// run without touching the filesystem.
type Signal interface {
	// Raise marks the signal. Raising an already raised signal succeeds.
	Raise() error

	// Raised reports whether the signal is currently marked.
	Raised() (bool, error)

	// Clear removes the mark. Clearing an absent signal succeeds.
	Clear() error
}

// Clock abstracts time for the rate-limited check.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// -----------------------------------------------------------------------------
// Wire Form
// -----------------------------------------------------------------------------

// TokenData is the plain-data form of a Token sent to worker processes.
type TokenData struct {
	// CancellationFileName is the token id; the sentinel lives at
	// <dir>/<id> on both sides of the process boundary.
	CancellationFileName string `json:"cancellationFileName"`

	// IsCancelled carries a cancellation that was already requested
	// locally when the token was serialized.
	IsCancelled bool `json:"isCancelled"`
}

// Validate checks that the data names a sentinel.
func (d TokenData) Validate() error {
	if d.CancellationFileName == "" {
		return ErrInvalidTokenData
	}
	return nil
}
