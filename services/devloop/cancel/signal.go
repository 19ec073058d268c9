// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cancel

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// FileSignal is a Signal backed by the existence of a sentinel file.
type FileSignal struct {
	path string
}

// NewFileSignal returns a signal for the sentinel at path.
func NewFileSignal(path string) *FileSignal {
	return &FileSignal{path: path}
}

// Path returns the sentinel location.
func (s *FileSignal) Path() string {
	return s.path
}

// Raise creates the sentinel file.
func (s *FileSignal) Raise() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating cancellation sentinel: %w", err)
	}
	return f.Close()
}

// Raised reports whether the sentinel exists.
func (s *FileSignal) Raised() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking cancellation sentinel: %w", err)
}

// Clear removes the sentinel file.
func (s *FileSignal) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cancellation sentinel: %w", err)
	}
	return nil
}

// MemorySignal is an in-process Signal.
type MemorySignal struct {
	mu     sync.Mutex
	raised bool
	reads  int
}

// NewMemorySignal returns an unraised signal.
func NewMemorySignal() *MemorySignal {
	return &MemorySignal{}
}

// Raise marks the signal.
func (s *MemorySignal) Raise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raised = true
	return nil
}

// Raised reports the mark and counts the read.
func (s *MemorySignal) Raised() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.raised, nil
}

// Clear removes the mark.
func (s *MemorySignal) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raised = false
	return nil
}

// Reads returns how many times Raised was called.
func (s *MemorySignal) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
