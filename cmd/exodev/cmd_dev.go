// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exodev/pkg/ux"
	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/config"
	"github.com/AleutianAI/exodev/services/devloop/dev"
	"github.com/AleutianAI/exodev/services/devloop/process"
	"github.com/AleutianAI/exodev/services/devloop/telemetry"
	"github.com/AleutianAI/exodev/services/devloop/watch"
)

// devFlags holds the dev command's flags.
type devFlags struct {
	configFile  string
	env         string
	port        int
	debug       switchFlag
	mock        switchFlag
	tsconfig    string
	inspect     bool
	compile     bool
	metricsAddr string
	inProcess   bool
}

var (
	devOpts devFlags

	devCmd = &cobra.Command{
		Use:   "dev [project-dir]",
		Short: "Build the project, run it, and restart it on changes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDev,
	}
)

func init() {
	f := devCmd.Flags()
	f.StringVarP(&devOpts.configFile, "config", "c", "", "Config file, relative to the project (default exodev.yaml)")
	f.StringVarP(&devOpts.env, "env", "e", "", "NODE_ENV for the application")
	f.IntVarP(&devOpts.port, "port", "p", 0, "NODE_PORT for the application")
	f.VarP(&devOpts.debug, "debug", "d", "Set DEBUG for the application (bare flag means \"*\")")
	f.VarP(&devOpts.mock, "mock", "m", "Route the application through an HTTP proxy (bare flag means "+config.DefaultMockURL+")")
	f.StringVarP(&devOpts.tsconfig, "tsconfig", "t", "", "tsconfig for ts-node and the builders")
	f.BoolVar(&devOpts.inspect, "inspect", true, "Start node with --inspect")
	f.BoolVar(&devOpts.compile, "compile", false, "Run the artifact builders in the dev loop")
	f.StringVar(&devOpts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&devOpts.inProcess, "in-process", false, "Run builders inside this process instead of worker processes")
	f.Lookup("debug").NoOptDefVal = "true"
	f.Lookup("mock").NoOptDefVal = "true"
}

// overrides converts the flags the user actually set.
func (f *devFlags) overrides(cmd *cobra.Command) config.Overrides {
	o := config.Overrides{
		Env:      f.env,
		TSConfig: f.tsconfig,
		Compile:  f.compile,
	}
	if f.port > 0 {
		o.Port = strconv.Itoa(f.port)
	}
	if f.debug.set {
		o.Debug = &f.debug.Switch
	}
	if f.mock.set {
		o.Mock = &f.mock.Switch
	}
	if cmd.Flags().Changed("inspect") {
		o.Inspect = &f.inspect
	}
	return o
}

func runDev(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := projectRoot(args)
	if err != nil {
		return err
	}
	log := logger.Slog()
	console := ux.NewConsole(cmd.OutOrStdout())

	cfg, err := config.Load(root, devOpts.configFile, log)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Apply(devOpts.overrides(cmd))
	if devOpts.metricsAddr != "" {
		cfg.MetricsAddr = devOpts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := telemetry.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warn("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	orch := process.NewOrchestrator(process.WithLogger(log))
	pm := process.NewDefaultProcessManager(root)
	app := dev.NewAppSupervisor(root, cfg, orch, pm, log)

	var runner dev.Runner = dev.NewProcessRunner(orch, root, log)
	if devOpts.inProcess {
		runner = dev.InProcessRunner{Options: []builders.Option{builders.WithLogger(log)}}
	}

	opts := []dev.Option{dev.WithLogger(log), dev.WithConsole(console)}
	if cfg.TypeCheckEnabled() {
		tsconfig := cfg.TSConfigFor("")
		if tsconfig != "-" && !filepath.IsAbs(tsconfig) {
			tsconfig = filepath.Join(root, tsconfig)
		}
		opts = append(opts, dev.WithTypeChecker(dev.NewTypeCheckLauncher(root, tsconfig, orch, console, log)))
	}

	changes, err := startWatching(ctx, root, cfg, log)
	if err != nil {
		return err
	}

	err = dev.NewOrchestrator(root, cfg, runner, app, opts...).Run(ctx, changes)
	if errors.Is(err, dev.ErrToolingUnavailable) {
		return fmt.Errorf("cannot start the application: %w", err)
	}
	return err
}

// startWatching returns throttled change batches. A disabled watch list
// yields a channel that never delivers.
func startWatching(ctx context.Context, root string, cfg *config.Config, log *slog.Logger) (<-chan []watch.Change, error) {
	include := cfg.WatchList(root)
	if len(include) == 0 {
		log.Info("watching disabled")
		return nil, nil
	}
	w, err := watch.NewWatcher(root, include, cfg.IgnoreList(root), watch.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return watch.NewThrottle(watch.DefaultWindow).Run(ctx, w.Events()), nil
}

// projectRoot returns the absolute project directory.
func projectRoot(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project directory: %s is not a directory", abs)
	}
	return abs, nil
}

// switchFlag is a flag that may be given bare, as true/false, or with a
// value.
type switchFlag struct {
	config.Switch
	set bool
}

func (s *switchFlag) String() string {
	if !s.Enabled {
		return ""
	}
	if s.Value == "" {
		return "true"
	}
	return s.Value
}

func (s *switchFlag) Set(v string) error {
	s.set = true
	switch v {
	case "true":
		s.Switch = config.On("")
	case "false", "":
		s.Switch = config.Switch{}
	default:
		s.Switch = config.On(v)
	}
	return nil
}

func (s *switchFlag) Type() string { return "string" }
