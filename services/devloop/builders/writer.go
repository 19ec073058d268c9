// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builders

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Artifact is one generated output file.
type Artifact struct {
	Path    string
	Content string
}

// Writer applies the idempotent emit policy.
//
// Thread Safety: safe for concurrent use; distinct goroutines must not
// write the same path.
type Writer struct {
	fileMode os.FileMode
	dirMode  os.FileMode
	writes   atomic.Int64
}

// NewWriter returns a Writer creating files 0644 and directories 0755.
func NewWriter() *Writer {
	return &Writer{fileMode: 0o644, dirMode: 0o755}
}

// Writes returns how many files this Writer has written.
func (w *Writer) Writes() int64 {
	return w.writes.Load()
}

// WriteIfChanged writes a when force is set, the destination is missing,
// or its content differs byte-for-byte. It reports whether it wrote.
// Writes go through a temp file in the destination directory and a
// rename, so readers never see a partial module.
func (w *Writer) WriteIfChanged(a Artifact, force bool) (bool, error) {
	if !force {
		existing, err := os.ReadFile(a.Path)
		switch {
		case err == nil && bytes.Equal(existing, []byte(a.Content)):
			return false, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return false, fmt.Errorf("reading %s: %w", a.Path, err)
		}
	}
	if err := w.writeAtomic(a.Path, []byte(a.Content)); err != nil {
		return false, err
	}
	w.writes.Add(1)
	return true, nil
}

func (w *Writer) writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, w.dirMode); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".exodev-tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.fileMode)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", dest, err)
	}
	return nil
}
