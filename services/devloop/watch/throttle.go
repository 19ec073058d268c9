// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watch

import (
	"context"
	"time"
)

// Throttle batches changes over a fixed window with window-end delivery.
//
// The window opens on the first change and is not extended by later ones.
// Nothing is delivered while it is open, so a batch reaches the consumer
// one window after its first change. When the window closes, the collected
// changes are deduplicated and delivered as one batch; nothing is delivered again until a new change opens the next
// window. If the consumer has not taken the previous batch yet, the new
// window's changes are folded into it.
type Throttle struct {
	window time.Duration
	after  func(time.Duration) <-chan time.Time
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// WithAfter replaces time.After, for tests.
func WithAfter(after func(time.Duration) <-chan time.Time) ThrottleOption {
	return func(t *Throttle) { t.after = after }
}

// NewThrottle returns a Throttle with the given window. A non-positive
// window uses DefaultWindow.
func NewThrottle(window time.Duration, opts ...ThrottleOption) *Throttle {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Throttle{window: window, after: time.After}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Window returns the configured window.
func (t *Throttle) Window() time.Duration { return t.window }

// Run consumes in until ctx is done or in is closed, and returns the batch
// channel. A pending window is flushed when in closes; it is dropped when
// ctx is done. The returned channel is closed when Run stops.
func (t *Throttle) Run(ctx context.Context, in <-chan Change) <-chan []Change {
	out := make(chan []Change)
	go func() {
		defer close(out)

		var (
			collecting []Change
			windowC    <-chan time.Time
			ready      []Change
		)
		for {
			var sendC chan<- []Change
			if len(ready) > 0 {
				sendC = out
			}

			select {
			case <-ctx.Done():
				return

			case c, ok := <-in:
				if !ok {
					ready = Dedupe(append(ready, collecting...))
					if len(ready) > 0 {
						select {
						case out <- ready:
						case <-ctx.Done():
						}
					}
					return
				}
				if windowC == nil {
					windowC = t.after(t.window)
				}
				collecting = append(collecting, c)

			case <-windowC:
				windowC = nil
				ready = Dedupe(append(ready, collecting...))
				collecting = nil

			case sendC <- ready:
				ready = nil
			}
		}
	}()
	return out
}
