// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
)

// EnvCarrier maps propagation keys to environment variable names:
// "traceparent" travels as TRACEPARENT.
type EnvCarrier map[string]string

// Get returns the value for a key.
func (c EnvCarrier) Get(key string) string {
	return c[envName(key)]
}

// Set sets a key-value pair.
func (c EnvCarrier) Set(key, value string) {
	c[envName(key)] = value
}

// Keys returns the propagation keys in the carrier.
func (c EnvCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, strings.ToLower(k))
	}
	return keys
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// InjectEnv adds the trace context of ctx to env, creating it when nil.
func InjectEnv(ctx context.Context, env map[string]string) map[string]string {
	if env == nil {
		env = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, EnvCarrier(env))
	return env
}

// ExtractEnv returns ctx extended with the trace context found through
// lookup, for use at a worker's entry point.
func ExtractEnv(ctx context.Context, lookup func(string) (string, bool)) context.Context {
	carrier := EnvCarrier{}
	for _, k := range []string{"TRACEPARENT", "TRACESTATE", "BAGGAGE"} {
		if v, ok := lookup(k); ok && v != "" {
			carrier[k] = v
		}
	}
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
