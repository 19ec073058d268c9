// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dev

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rebuild outcomes.
const (
	resultOK       = "ok"
	resultFailed   = "failed"
	resultCanceled = "canceled"
)

var (
	// rebuildsTotal counts rebuild cycles.
	// Labels: result (ok, failed, canceled)
	rebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exodev",
		Name:      "rebuilds_total",
		Help:      "Rebuild cycles triggered by file changes",
	}, []string{"result"})

	// rebuildDuration measures a cycle from the first kill to the app
	// restart.
	rebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "exodev",
		Name:      "rebuild_duration_seconds",
		Help:      "Duration of rebuild cycles in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// appRestarts counts application starts after the first.
	appRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exodev",
		Name:      "app_restarts_total",
		Help:      "Application restarts",
	})

	// typecheckDiagnostics is the diagnostic count of the latest report.
	typecheckDiagnostics = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "exodev",
		Name:      "typecheck_diagnostics",
		Help:      "Diagnostics in the latest type-check report",
	})
)
