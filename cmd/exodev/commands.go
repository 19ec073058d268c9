// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exodev/pkg/logging"
	"github.com/AleutianAI/exodev/services/devloop/telemetry"
)

// Set by the release build with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	logLevel string
	logJSON  bool
	logDir   string

	logger            *logging.Logger
	telemetryShutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "exodev",
		Short: "Incremental build and supervision for TypeScript services",
		Long: `exodev compiles a project's config, middleware and router modules,
runs the application under ts-node, and rebuilds and restarts it when
source files change.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return teardown()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the exodev version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "exodev", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs to stderr as JSON")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to this directory")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(devCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(workerCmd)
}

// setup builds the process logger and installs telemetry.
func setup(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseLevel(logLevel)
	logger = logging.New(logging.Config{
		Level:   level,
		Service: "exodev",
		LogDir:  logDir,
		JSON:    logJSON,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(logger.Slog())
	if err != nil {
		logger.Warn("ignoring --log-level", slog.String("error", err.Error()))
	}

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	shutdown, err := telemetry.Init(contextOf(cmd), cfg)
	if err != nil {
		// Telemetry is optional; the tool works without it.
		logger.Warn("telemetry disabled", slog.String("error", err.Error()))
		return nil
	}
	telemetryShutdown = shutdown
	return nil
}

func teardown() error {
	if telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		telemetryShutdown = nil
	}
	if logger != nil {
		return logger.Close()
	}
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
