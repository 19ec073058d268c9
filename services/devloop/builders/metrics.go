// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builders

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for artifact builds.
var (
	tracer = otel.Tracer("exodev.builders")
	meter  = otel.Meter("exodev.builders")
)

var (
	buildLatency     metric.Float64Histogram
	buildTotal       metric.Int64Counter
	artifactsWritten metric.Int64Counter
	artifactsSkipped metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"exodev_build_duration_seconds",
			metric.WithDescription("Duration of artifact builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"exodev_builds_total",
			metric.WithDescription("Total artifact builds by category and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		artifactsWritten, err = meter.Int64Counter(
			"exodev_artifacts_written_total",
			metric.WithDescription("Artifacts written because their content changed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		artifactsSkipped, err = meter.Int64Counter(
			"exodev_artifacts_skipped_total",
			metric.WithDescription("Artifacts left untouched because their content was unchanged"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startBuildSpan creates a span for one builder invocation.
func startBuildSpan(ctx context.Context, req *Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Builder.Build",
		trace.WithAttributes(
			attribute.String("build.category", string(req.Category)),
			attribute.Bool("build.force", req.Force),
			attribute.Int("build.changed_files", len(req.ChangedFiles)),
		),
	)
}

// finishBuildSpan records the result attributes and closes the span.
func finishBuildSpan(span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res != nil {
		span.SetAttributes(
			attribute.Int("build.written", len(res.Written)),
			attribute.Int("build.skipped", res.Skipped),
			attribute.Bool("build.incremental", res.Incremental),
		)
	}
	span.End()
}

// recordBuildMetrics records the instruments for one build.
func recordBuildMetrics(ctx context.Context, category Category, duration time.Duration, res *Result, err error) {
	if initErr := initMetrics(); initErr != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("category", string(category)),
		attribute.Bool("success", err == nil),
	)
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if res != nil {
		cat := metric.WithAttributes(attribute.String("category", string(category)))
		artifactsWritten.Add(ctx, int64(len(res.Written)), cat)
		artifactsSkipped.Add(ctx, int64(res.Skipped), cat)
	}
}
