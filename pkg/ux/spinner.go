// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinnerInterval is the delay between frames.
const spinnerInterval = 80 * time.Millisecond

// Spinner animates a one-line progress indicator on a Console. On a plain
// console it prints the message once instead.
type Spinner struct {
	console *Console
	message string

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Spin starts a spinner showing message.
func (c *Console) Spin(message string) *Spinner {
	s := &Spinner{console: c, message: message}
	s.start()
	return s
}

func (s *Spinner) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	if s.console.plain {
		fmt.Fprintf(s.console.out, "... %s\n", s.message)
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.animate()
}

func (s *Spinner) animate() {
	defer close(s.done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	for frame := 0; ; frame = (frame + 1) % len(spinnerFrames) {
		select {
		case <-s.stop:
			fmt.Fprint(s.console.out, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.console.out, "\r%s %s", Styles.Highlight.Render(spinnerFrames[frame]), msg)
		}
	}
}

// Update changes the message while running.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop clears the spinner line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Step runs fn behind a spinner and reports the outcome as a success or
// an error line.
func (c *Console) Step(message string, fn func() error) error {
	s := c.Spin(message)
	err := fn()
	s.Stop()
	if err != nil {
		c.Error(fmt.Sprintf("%s: %v", message, err))
		return err
	}
	c.Success(message)
	return nil
}
