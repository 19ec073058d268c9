// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cancel implements cooperative, cross-process cancellation for
// long-running dev loop workers.
//
// A Token is owned by the dev orchestrator and shared by value with a worker
// process. The owner raises a Signal (by default a sentinel file named after
// the token id) and the worker polls it between units of work:
//
//	token, _ := cancel.New()
//	defer token.Cleanup()
//	send(token.Data())              // first IPC message
//	...
//	token.RequestCancellation()     // worker observes it on its next poll
//
// Inside the worker:
//
//	token, _ := cancel.FromData(data)
//	for _, file := range files {
//	    if err := token.ThrowIfRequested(); err != nil {
//	        return err // cancel.ErrOperationCanceled, handled silently
//	    }
//	    check(file)
//	}
//
// # Polling Cost
//
// IsRequested re-reads the signal at most once per CheckInterval (10ms).
// Calls inside that window return the cached answer, so a sentinel that
// appears inside the window is only seen on the first call after it.
//
// # Lifecycle
//
// Once a token has observed cancellation it stays canceled, including after
// Cleanup. Tokens are single use: the orchestrator mints a new one per
// rebuild instead of resetting an old one.
package cancel
