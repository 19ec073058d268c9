// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// PortReclaimer frees a TCP port held by a stale process before the
// supervised application restarts.
type PortReclaimer struct {
	pm     ProcessManager
	logger *slog.Logger

	// kill is replaced in tests.
	kill func(pid int) error
}

// NewPortReclaimer creates a reclaimer that discovers listeners with lsof.
func NewPortReclaimer(pm ProcessManager, logger *slog.Logger) *PortReclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortReclaimer{pm: pm, logger: logger, kill: KillPID}
}

// Reclaim kills every process listening on port, except the current one.
//
// This is best effort: a missing lsof or a failed kill is logged and
// Reclaim still returns nil. Only a canceled ctx is reported.
func (r *PortReclaimer) Reclaim(ctx context.Context, port int) error {
	if port <= 0 {
		return nil
	}
	if _, err := r.pm.LookPath("lsof"); err != nil {
		r.logger.Debug("lsof unavailable, skipping port reclaim", "port", port)
		return nil
	}

	out, err := r.pm.Run(ctx, "lsof", "-t", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var cmdErr *CommandError
		// lsof exits 1 when nothing matches.
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 && cmdErr.Stderr == "" {
			return nil
		}
		r.logger.Warn("port lookup failed", "port", port, "error", err)
		return nil
	}

	self := os.Getpid()
	for _, pid := range parsePIDs(out) {
		if pid == self {
			continue
		}
		if err := r.kill(pid); err != nil {
			r.logger.Warn("failed to release port", "port", port, "pid", pid, "error", err)
			continue
		}
		r.logger.Info("released port", "port", port, "pid", pid)
	}
	return nil
}

// parsePIDs reads one pid per line, ignoring anything else.
func parsePIDs(out []byte) []int {
	var pids []int
	seen := make(map[int]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}
