// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watch reports project file changes to the dev loop.
//
// A Watcher turns fsnotify events under the watch globs into Changes. A
// Throttle groups Changes into batches: the first change opens a window,
// and everything seen before the window closes is delivered once as a
// deduplicated batch.
package watch

import (
	"time"
)

// DefaultWindow is the dev loop's throttle window.
const DefaultWindow = 1500 * time.Millisecond

// Change is one file system change.
type Change struct {
	// Path is the absolute path of the changed file.
	Path string

	Op Op

	// Time is when the change was observed.
	Time time.Time
}

// Op is the kind of change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Paths returns the paths of a batch, in order.
func Paths(batch []Change) []string {
	out := make([]string, len(batch))
	for i, c := range batch {
		out[i] = c.Path
	}
	return out
}

// Dedupe keeps the latest change per path, ordered by first appearance.
func Dedupe(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := seen[c.Path]; ok {
			out[i] = c
			continue
		}
		seen[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}
