// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package typecheck

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("exodev.typecheck")
	meter  = otel.Meter("exodev.typecheck")
)

var (
	checkLatency metric.Float64Histogram
	checkTotal   metric.Int64Counter
	diagsFound   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// Outcomes recorded on exodev_typecheck_runs_total.
const (
	outcomePassed   = "passed"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
	outcomeError    = "error"
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkLatency, err = meter.Float64Histogram(
			"exodev_typecheck_duration_seconds",
			metric.WithDescription("Duration of type-check runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkTotal, err = meter.Int64Counter(
			"exodev_typecheck_runs_total",
			metric.WithDescription("Type-check runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		diagsFound, err = meter.Int64Counter(
			"exodev_typecheck_diagnostics_total",
			metric.WithDescription("Diagnostics reported by severity"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startCheckSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Worker.Run",
		trace.WithAttributes(attribute.String("typecheck.root", root)),
	)
}

func setCheckSpanResult(span trace.Span, files int, diags []Diagnostic, semantic bool) {
	span.SetAttributes(
		attribute.Int("typecheck.files", files),
		attribute.Int("typecheck.diagnostics", len(diags)),
		attribute.Bool("typecheck.semantic", semantic),
	)
}

func recordCheckMetrics(ctx context.Context, duration time.Duration, outcome string, diags []Diagnostic) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	checkLatency.Record(ctx, duration.Seconds(), attrs)
	checkTotal.Add(ctx, 1, attrs)

	bySeverity := make(map[string]int64)
	for _, d := range diags {
		bySeverity[d.Severity]++
	}
	for sev, n := range bySeverity {
		diagsFound.Add(ctx, n, metric.WithAttributes(attribute.String("severity", sev)))
	}
}
