// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/process"
	"github.com/AleutianAI/exodev/services/devloop/telemetry"
	"github.com/AleutianAI/exodev/services/devloop/typecheck"
)

// Worker commands are started by `exodev dev` in isolated processes and
// talk to it over the inherited message channel.
var (
	workerCmd = &cobra.Command{
		Use:    "worker",
		Short:  "Internal worker processes",
		Hidden: true,
	}
	workerBuildCmd = &cobra.Command{
		Use:   "build",
		Short: "Run one builder described by EXODEV_* variables",
		Args:  cobra.NoArgs,
		RunE:  runBuildWorker,
	}
	workerTypeCheckCmd = &cobra.Command{
		Use:   "typecheck",
		Short: "Type-check the project and report diagnostics",
		Args:  cobra.NoArgs,
		RunE:  runTypeCheckWorker,
	}
)

func init() {
	workerCmd.AddCommand(workerBuildCmd, workerTypeCheckCmd)
}

func runBuildWorker(cmd *cobra.Command, args []string) error {
	ch, err := process.ChildChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = telemetry.ExtractEnv(ctx, os.LookupEnv)
	return builders.RunWorker(ctx, ch, os.LookupEnv, builders.WithLogger(logger.Slog()))
}

func runTypeCheckWorker(cmd *cobra.Command, args []string) error {
	ch, err := process.ChildChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = telemetry.ExtractEnv(ctx, os.LookupEnv)
	return typecheck.RunChild(ctx, ch, os.LookupEnv, typecheck.WithLogger(logger.Slog()))
}
