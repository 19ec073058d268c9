// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cancel

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token is a cooperative cancellation token shared across processes.
//
// Thread Safety: Token is safe for concurrent use.
type Token struct {
	id     string
	signal Signal
	clock  Clock

	mu        sync.Mutex
	requested bool
	checked   bool
	lastCheck time.Time
}

// Option configures a Token.
type Option func(*tokenOptions)

type tokenOptions struct {
	dir    string
	clock  Clock
	signal Signal
}

// WithDir places the sentinel file in dir instead of os.TempDir().
func WithDir(dir string) Option {
	return func(o *tokenOptions) { o.dir = dir }
}

// WithClock replaces the wall clock used for rate limiting.
func WithClock(c Clock) Option {
	return func(o *tokenOptions) { o.clock = c }
}

// WithSignal replaces the sentinel file with s.
func WithSignal(s Signal) Option {
	return func(o *tokenOptions) { o.signal = s }
}

func buildOptions(opts []Option) tokenOptions {
	o := tokenOptions{dir: os.TempDir(), clock: systemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New mints a token with a fresh id.
func New(opts ...Option) (*Token, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating token id: %w", err)
	}
	return newToken("exodev-cancel-"+id.String(), false, buildOptions(opts)), nil
}

// FromData rebuilds a token received from another process. Both sides
// must resolve the sentinel in the same directory.
func FromData(data TokenData, opts ...Option) (*Token, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return newToken(data.CancellationFileName, data.IsCancelled, buildOptions(opts)), nil
}

func newToken(id string, requested bool, o tokenOptions) *Token {
	signal := o.signal
	if signal == nil {
		signal = NewFileSignal(filepath.Join(o.dir, id))
	}
	return &Token{id: id, signal: signal, clock: o.clock, requested: requested}
}

// ID returns the correlation id, which is also the sentinel file name.
func (t *Token) ID() string {
	return t.id
}

// Data returns the serializable form of the token.
func (t *Token) Data() TokenData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TokenData{CancellationFileName: t.id, IsCancelled: t.requested}
}

// IsRequested reports whether cancellation was requested locally or the
// signal was raised. The signal is read at most once per CheckInterval.
func (t *Token) IsRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.requested {
		return true
	}
	now := t.clock.Now()
	if t.checked && now.Sub(t.lastCheck) <= CheckInterval {
		return false
	}
	t.checked = true
	t.lastCheck = now

	raised, err := t.signal.Raised()
	if err == nil && raised {
		t.requested = true
	}
	return t.requested
}

// ThrowIfRequested returns ErrOperationCanceled when IsRequested is true.
func (t *Token) ThrowIfRequested() error {
	if t.IsRequested() {
		return ErrOperationCanceled
	}
	return nil
}

// RequestCancellation raises the signal and latches the local state.
// Requesting an already canceled token is a no-op.
func (t *Token) RequestCancellation() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.requested {
		return nil
	}
	if err := t.signal.Raise(); err != nil {
		return err
	}
	t.requested = true
	return nil
}

// Cleanup removes the signal. A token that was canceled stays canceled.
func (t *Token) Cleanup() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signal.Clear()
}

// Observer returns t itself; Token implements both sides.
func (t *Token) Observer() Observer {
	return t
}

var (
	_ Source   = (*Token)(nil)
	_ Observer = (*Token)(nil)
)
