// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// DefaultIgnore is always excluded, in addition to the configured ignore
// globs.
var DefaultIgnore = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.exodev/**",
	"**/*.swp",
	"**/*~",
	"**/.#*",
	"**/.exodev-tmp-*",
}

// Watcher watches the directories under a set of globs.
//
// Directories are watched recursively from each glob's static prefix.
// Directories created later are added as they appear. Only files that
// match a watch glob and no ignore glob are reported.
//
// # Thread Safety
//
// Start and Stop may be called from any goroutine. Events are produced by
// a single goroutine.
type Watcher struct {
	root    string
	include []string
	exclude []string
	bases   []string

	fsw    *fsnotify.Watcher
	events chan Change
	logger *slog.Logger
	now    func() time.Time

	warn rate.Sometimes

	mu       sync.Mutex
	watching bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBufferSize sets the event channel capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.events = make(chan Change, n)
		}
	}
}

// NewWatcher returns a watcher for absolute include and exclude globs.
func NewWatcher(root string, include, exclude []string, opts ...Option) (*Watcher, error) {
	for _, g := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(filepath.ToSlash(g)) {
			return nil, fmt.Errorf("invalid watch pattern %q", g)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		root:    filepath.Clean(root),
		fsw:     fsw,
		events:  make(chan Change, 1024),
		logger:  slog.Default(),
		now:     time.Now,
		warn:    rate.Sometimes{Interval: 5 * time.Second},
		done:    make(chan struct{}),
		include: toSlash(include),
		exclude: toSlash(append(append([]string(nil), exclude...), DefaultIgnore...)),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, g := range w.include {
		base, _ := doublestar.SplitPattern(g)
		w.bases = append(w.bases, filepath.FromSlash(base))
	}
	return w, nil
}

// Events returns the change channel. It is closed after Stop.
func (w *Watcher) Events() <-chan Change { return w.events }

// Start adds the watched directories and begins reporting changes. It
// returns once the initial directories are registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	for _, base := range w.bases {
		dir := base
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			// A base that does not exist yet is picked up when created,
			// provided its parent is watched.
			dir = nearestDir(base, w.root)
			if dir == "" {
				w.logger.Debug("watch base not found", slog.String("base", base))
				continue
			}
			if err := w.fsw.Add(dir); err != nil {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			continue
		}
		if err := w.addRecursive(dir); err != nil {
			return err
		}
	}

	go w.loop(ctx)
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// Match reports whether path is watched and not ignored.
func (w *Watcher) Match(path string) bool {
	p := filepath.ToSlash(path)
	return matchAny(w.include, p) && !matchAny(w.exclude, p)
}

func (w *Watcher) ignoredDir(dir string) bool {
	// A directory is pruned when its entries would all be ignored, which
	// is what "x/**" globs express.
	return matchAny(w.exclude, filepath.ToSlash(dir)+"/_")
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignoredDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// underBase reports whether dir lies under a base, or is an ancestor of
// one that did not exist at Start.
func (w *Watcher) underBase(dir string) bool {
	for _, b := range w.bases {
		if within(b, dir) || within(dir, b) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.warn.Do(func() {
				w.logger.Warn("file watcher error", slog.String("error", err.Error()))
			})
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.underBase(ev.Name) && !w.ignoredDir(ev.Name) {
				if err := w.addRecursive(ev.Name); err != nil {
					w.logger.Warn("watching new directory failed",
						slog.String("dir", ev.Name), slog.String("error", err.Error()))
				}
			}
			return
		}
	}
	if !w.Match(ev.Name) {
		return
	}

	c := Change{Path: ev.Name, Op: convertOp(ev.Op), Time: w.now()}
	select {
	case w.events <- c:
	default:
		w.warn.Do(func() {
			w.logger.Warn("change buffer full, dropping events", slog.String("path", ev.Name))
		})
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func matchAny(globs []string, p string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
	}
	return false
}

func toSlash(globs []string) []string {
	out := make([]string, len(globs))
	for i, g := range globs {
		out[i] = filepath.ToSlash(filepath.Clean(g))
	}
	return out
}

// nearestDir returns the closest existing ancestor of p that is root or
// below it.
func nearestDir(p, root string) string {
	for d := filepath.Dir(p); within(root, d); d = filepath.Dir(d) {
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			return d
		}
		if d == root {
			break
		}
	}
	return ""
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
