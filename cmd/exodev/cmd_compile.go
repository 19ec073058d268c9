// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exodev/pkg/ux"
	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/config"
	"github.com/AleutianAI/exodev/services/devloop/dev"
)

var (
	compileConfigFile string
	compileForce      bool

	compileCmd = &cobra.Command{
		Use:   "compile [project-dir]",
		Short: "Run every enabled builder once",
		Args:  cobra.MaximumNArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runCompile(cmd, args, builders.Categories...) },
	}
	compileConfigCmd = &cobra.Command{
		Use:   "config [project-dir]",
		Short: "Compile the config modules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, builders.CategoryConfig)
		},
	}
	compileMiddlewareCmd = &cobra.Command{
		Use:   "middleware [project-dir]",
		Short: "Compile the middleware modules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, builders.CategoryMiddleware)
		},
	}
	compileRoutersCmd = &cobra.Command{
		Use:   "routers [project-dir]",
		Short: "Generate the router modules from the controllers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, builders.CategoryRouter)
		},
	}
)

func init() {
	compileCmd.PersistentFlags().StringVarP(&compileConfigFile, "config", "c", "", "Config file, relative to the project (default exodev.yaml)")
	compileCmd.PersistentFlags().BoolVarP(&compileForce, "force", "f", false, "Rebuild everything from scratch")
	compileCmd.AddCommand(compileConfigCmd, compileMiddlewareCmd, compileRoutersCmd)
}

// runCompile runs the requested builders in order, in this process.
// Disabled builders are skipped; the first failure stops the run.
func runCompile(cmd *cobra.Command, args []string, cats ...builders.Category) error {
	root, err := projectRoot(args)
	if err != nil {
		return err
	}
	log := logger.Slog()
	console := ux.NewConsole(cmd.OutOrStdout())

	cfg, err := config.Load(root, compileConfigFile, log)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, cat := range cats {
		req := cfg.BuildRequest(root, cat, config.ModeCompile, nil)
		if !req.Enabled {
			console.Info(fmt.Sprintf("%s builder disabled, skipping", cat))
			continue
		}
		if compileForce {
			req.Force = true
		}
		var res *builders.Result
		err := console.Step(fmt.Sprintf("building %s", cat), func() error {
			var err error
			res, err = builders.Run(contextOf(cmd), req, builders.WithLogger(log))
			return err
		})
		if err != nil {
			return err
		}
		log.Info("builder finished",
			slog.String("category", string(cat)),
			slog.Int("written", len(res.Written)),
			slog.Int("skipped", res.Skipped),
			slog.Duration("duration", res.Duration))
		if cat == builders.CategoryRouter {
			dev.PrintRoutes(console, res, cfg.Routers.Details)
			continue
		}
		console.Info(fmt.Sprintf("%d written, %d unchanged", len(res.Written), res.Skipped))
	}
	return nil
}
