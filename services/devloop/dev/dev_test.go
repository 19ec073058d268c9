// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exodev/pkg/ux"
	"github.com/AleutianAI/exodev/services/devloop/builders"
	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/codegen"
	"github.com/AleutianAI/exodev/services/devloop/config"
	"github.com/AleutianAI/exodev/services/devloop/process"
	"github.com/AleutianAI/exodev/services/devloop/watch"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRunner struct {
	mu       sync.Mutex
	requests []builders.Request
	fail     map[builders.Category]error
}

func (r *fakeRunner) Build(_ context.Context, req *builders.Request) (*builders.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, *req)
	if err := r.fail[req.Category]; err != nil {
		return nil, err
	}
	res := &builders.Result{Category: req.Category, Written: req.ChangedFiles}
	if req.Category == builders.CategoryRouter {
		res.Routes = []string{"user.js", "admin/role.js"}
	}
	return res, nil
}

func (r *fakeRunner) take() []builders.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.requests
	r.requests = nil
	return out
}

func (r *fakeRunner) setFail(cat builders.Category, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = map[builders.Category]error{}
	}
	r.fail[cat] = err
}

type fakeApp struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error

	// checker, when set, is sampled on every Start.
	checker         *fakeChecker
	checkersAtStart []int
}

func (a *fakeApp) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checker != nil {
		a.checkersAtStart = append(a.checkersAtStart, len(a.checker.started()))
	}
	if a.startErr != nil {
		return a.startErr
	}
	a.running = true
	a.starts++
	return nil
}

func (a *fakeApp) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	a.stops++
	return nil
}

func (a *fakeApp) snapshot() (running bool, starts int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running, a.starts
}

type fakeChecker struct {
	mu     sync.Mutex
	tokens []*cancel.Token
	stops  int
}

func (c *fakeChecker) Start(_ context.Context, tok *cancel.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, tok)
	return nil
}

func (c *fakeChecker) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeChecker) started() []*cancel.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*cancel.Token(nil), c.tokens...)
}

// syncBuffer is a bytes.Buffer safe for the console's concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	root     string
	tokenDir string
	cfg      *config.Config
	runner   *fakeRunner
	app      *fakeApp
	checker  *fakeChecker
	out      *syncBuffer
	orch     *Orchestrator

	changes chan []watch.Change
	cycles  chan Cycle
	cancel  context.CancelFunc
	done    chan error
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Compile = true
	cfg.ConfigCompiler.Enabled = true
	cfg.MiddlewareCompiler.Enabled = true
	cfg.Routers.Enabled = true
	return &cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		root:     t.TempDir(),
		tokenDir: t.TempDir(),
		cfg:      cfg,
		runner:   &fakeRunner{},
		app:      &fakeApp{},
		checker:  &fakeChecker{},
		out:      &syncBuffer{},
		changes:  make(chan []watch.Change),
		cycles:   make(chan Cycle, 8),
		done:     make(chan error, 1),
	}
	h.orch = NewOrchestrator(h.root, cfg, h.runner, h.app,
		WithConsole(ux.NewConsole(h.out)),
		WithTypeChecker(h.checker),
		WithTokenOptions(cancel.WithDir(h.tokenDir)),
		WithCycleHook(func(c Cycle) { h.cycles <- c }),
	)
	return h
}

func (h *harness) start(t *testing.T) Cycle {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.orch.Run(ctx, h.changes) }()
	t.Cleanup(func() { h.stop(t) })
	return h.nextCycle(t)
}

func (h *harness) nextCycle(t *testing.T) Cycle {
	t.Helper()
	select {
	case c := <-h.cycles:
		return c
	case err := <-h.done:
		t.Fatalf("orchestrator returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle completed")
	}
	return Cycle{}
}

func (h *harness) send(t *testing.T, paths ...string) Cycle {
	t.Helper()
	batch := make([]watch.Change, len(paths))
	for i, p := range paths {
		batch[i] = watch.Change{Path: p, Op: watch.OpWrite, Time: time.Now()}
	}
	h.changes <- batch
	return h.nextCycle(t)
}

func (h *harness) stop(t *testing.T) {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Error("orchestrator did not stop")
	}
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

func categories(reqs []builders.Request) []builders.Category {
	out := make([]builders.Category, len(reqs))
	for i, r := range reqs {
		out[i] = r.Category
	}
	return out
}

// =============================================================================
// Orchestrator
// =============================================================================

func TestOrchestrator_InitialBuildAndStart(t *testing.T) {
	h := newHarness(t, testConfig())
	c := h.start(t)

	assert.True(t, c.Initial)
	assert.NoError(t, c.Err)
	assert.True(t, c.AppStarted)
	assert.Len(t, c.Results, 3)
	assert.Equal(t, StateRunning, h.orch.State())

	reqs := h.runner.take()
	assert.Equal(t, []builders.Category{builders.CategoryConfig, builders.CategoryMiddleware, builders.CategoryRouter}, categories(reqs))
	for _, r := range reqs {
		assert.Empty(t, r.ChangedFiles, "initial build is a full pass")
	}

	running, starts := h.app.snapshot()
	assert.True(t, running)
	assert.Equal(t, 1, starts)
	require.Len(t, h.checker.started(), 1)

	out := h.out.String()
	assert.Contains(t, out, "2 routers generated")
	assert.Contains(t, out, "Watching")
	assert.Contains(t, out, h.path("app/**/*.*"))
}

func TestOrchestrator_InitialStartsCheckerBeforeApp(t *testing.T) {
	h := newHarness(t, testConfig())
	h.app.checker = h.checker
	h.start(t)

	h.app.mu.Lock()
	seen := append([]int(nil), h.app.checkersAtStart...)
	h.app.mu.Unlock()
	assert.Equal(t, []int{1}, seen, "type-check worker must be running when the application starts")
}

func TestOrchestrator_OneCycleForBatch(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)
	h.runner.take()
	firstToken := h.checker.started()[0]

	cfgFile := h.path("app/config/db.ts")
	mwFile := h.path("middlewares/auth.ts")
	ctrlFile := h.path("app/controllers/user.ts")
	c := h.send(t, cfgFile, mwFile, ctrlFile)

	require.NoError(t, c.Err)
	assert.Equal(t, []string{cfgFile, mwFile, ctrlFile}, c.Changes)
	assert.True(t, c.AppStarted)

	reqs := h.runner.take()
	require.Equal(t, []builders.Category{builders.CategoryConfig, builders.CategoryMiddleware}, categories(reqs),
		"controller changes never regenerate routers in the loop")
	assert.Equal(t, []string{cfgFile}, reqs[0].ChangedFiles)
	assert.Equal(t, []string{mwFile}, reqs[1].ChangedFiles)

	running, starts := h.app.snapshot()
	assert.True(t, running)
	assert.Equal(t, 2, starts)

	tokens := h.checker.started()
	require.Len(t, tokens, 2)
	assert.True(t, firstToken.IsRequested(), "old token is canceled")
	assert.NoFileExists(t, filepath.Join(h.tokenDir, firstToken.ID()), "old sentinel is cleaned up")
	assert.False(t, tokens[1].IsRequested())
	assert.NotEqual(t, firstToken.ID(), tokens[1].ID())
}

func TestOrchestrator_ControllerOnlyChangeRestartsApp(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)
	h.runner.take()

	c := h.send(t, h.path("app/controllers/user.ts"))
	require.NoError(t, c.Err)
	assert.Empty(t, h.runner.take())
	_, starts := h.app.snapshot()
	assert.Equal(t, 2, starts)
}

func TestOrchestrator_FailedBuildLeavesAppDown(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)
	h.runner.take()
	before := testutil.ToFloat64(rebuildsTotal.WithLabelValues(resultFailed))

	h.runner.setFail(builders.CategoryConfig, &codegen.MalformedSourceError{Path: "db.ts", Reason: "no default export"})
	c := h.send(t, h.path("app/config/db.ts"), h.path("middlewares/auth.ts"))

	assert.ErrorIs(t, c.Err, codegen.ErrMalformedSource)
	assert.False(t, c.AppStarted)
	assert.Equal(t, []builders.Category{builders.CategoryConfig}, categories(h.runner.take()),
		"middleware is not built after a config failure")
	running, starts := h.app.snapshot()
	assert.False(t, running)
	assert.Equal(t, 1, starts)
	assert.Equal(t, before+1, testutil.ToFloat64(rebuildsTotal.WithLabelValues(resultFailed)))
	assert.Contains(t, h.out.String(), "waiting for changes")
	assert.Equal(t, StateRunning, h.orch.State())

	h.runner.setFail(builders.CategoryConfig, nil)
	c = h.send(t, h.path("app/config/db.ts"))
	require.NoError(t, c.Err)
	running, _ = h.app.snapshot()
	assert.True(t, running)
}

func TestOrchestrator_DisabledBuildersAndHMR(t *testing.T) {
	cfg := testConfig()
	cfg.MiddlewareCompiler.HMR = false
	h := newHarness(t, cfg)
	h.start(t)
	h.runner.take()

	h.send(t, h.path("app/config/a.ts"), h.path("middlewares/m.ts"))
	reqs := h.runner.take()
	assert.Equal(t, []builders.Category{builders.CategoryConfig}, categories(reqs))
}

func TestOrchestrator_CompileOffSkipsBuilders(t *testing.T) {
	cfg := testConfig()
	cfg.Compile = false
	h := newHarness(t, cfg)
	c := h.start(t)

	assert.Empty(t, c.Results)
	assert.True(t, c.AppStarted)
	assert.Empty(t, h.runner.take())
}

func TestOrchestrator_ToolingUnavailableStopsStartup(t *testing.T) {
	h := newHarness(t, testConfig())
	h.app.startErr = fmt.Errorf("%w: NEED TS-NODE", ErrToolingUnavailable)

	err := h.orch.Run(context.Background(), h.changes)
	assert.ErrorIs(t, err, ErrToolingUnavailable)
	assert.Equal(t, StateTerminated, h.orch.State())
	assert.Contains(t, h.out.String(), "NEED TS-NODE")
}

func TestOrchestrator_ShutdownCleansUp(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)
	tok := h.checker.started()[0]
	require.NoError(t, tok.RequestCancellation())
	require.FileExists(t, filepath.Join(h.tokenDir, tok.ID()))

	h.stop(t)
	assert.Equal(t, StateTerminated, h.orch.State())
	assert.NoFileExists(t, filepath.Join(h.tokenDir, tok.ID()))
	running, _ := h.app.snapshot()
	assert.False(t, running)
	h.checker.mu.Lock()
	assert.GreaterOrEqual(t, h.checker.stops, 1)
	h.checker.mu.Unlock()
}

func TestOrchestrator_ClosedChangesStopsLoop(t *testing.T) {
	h := newHarness(t, testConfig())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(context.Background(), h.changes) }()
	<-h.cycles
	close(h.changes)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.ErrorIs(t, h.orch.Run(context.Background(), nil), ErrAlreadyRunning)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "rebuilding", StateRebuilding.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestPartition(t *testing.T) {
	got := partition("/p/app/config", []string{"/p/app/config/a.ts", "/p/app/configs/b.ts", "/p/app/config/sub/c.ts"})
	assert.Equal(t, []string{"/p/app/config/a.ts", "/p/app/config/sub/c.ts"}, got)
	assert.Nil(t, partition("/p/x", nil))
}

func TestRelativeTo(t *testing.T) {
	got := relativeTo("/p", []string{"/p/app/config/a.ts", "/elsewhere/b.ts"})
	assert.Equal(t, []string{"app/config/a.ts", "/elsewhere/b.ts"}, got)
}

// =============================================================================
// Output
// =============================================================================

func TestPrintRoutes(t *testing.T) {
	var buf bytes.Buffer
	c := ux.NewConsole(&buf)
	PrintRoutes(c, &builders.Result{Routes: []string{"user.js", "admin/role.js"}}, true)
	out := buf.String()
	assert.Contains(t, out, "2 routers generated")
	assert.Contains(t, out, "user")
	assert.Contains(t, out, "  "+string(ux.IconBullet)+" role")

	buf.Reset()
	PrintRoutes(c, &builders.Result{}, true)
	assert.Contains(t, buf.String(), "no routers generated")
}

// =============================================================================
// AppSupervisor
// =============================================================================

func appProject(t *testing.T, modules ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, m := range modules {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", m), 0o755))
	}
	return root
}

func nodeOnPath() *process.MockProcessManager {
	return &process.MockProcessManager{
		LookPathFunc: func(name string) (string, error) {
			if name == "node" {
				return "/usr/bin/node", nil
			}
			return "", errors.New("not found")
		},
	}
}

func TestAppSupervisor_Command(t *testing.T) {
	root := appProject(t, "ts-node", "tsconfig-paths")
	cfg := config.DefaultConfig()
	a := NewAppSupervisor(root, &cfg, process.NewOrchestrator(), nodeOnPath(), nil)

	cmd, args, err := a.Command()
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/node", cmd)
	assert.Equal(t, []string{"--inspect", "-r", "ts-node/register", "-r", "tsconfig-paths/register", "app/app.ts"}, args)

	cfg.Inspect = false
	a = NewAppSupervisor(appProject(t, "ts-node"), &cfg, process.NewOrchestrator(), nodeOnPath(), nil)
	_, args, err = a.Command()
	require.NoError(t, err)
	assert.Equal(t, []string{"-r", "ts-node/register", "app/app.ts"}, args)
}

func TestAppSupervisor_MissingTooling(t *testing.T) {
	cfg := config.DefaultConfig()

	a := NewAppSupervisor(appProject(t), &cfg, process.NewOrchestrator(), nodeOnPath(), nil)
	_, _, err := a.Command()
	assert.ErrorIs(t, err, ErrToolingUnavailable)
	assert.ErrorContains(t, err, "NEED TS-NODE")

	noNode := &process.MockProcessManager{LookPathFunc: func(string) (string, error) { return "", errors.New("not found") }}
	a = NewAppSupervisor(appProject(t, "ts-node"), &cfg, process.NewOrchestrator(), noNode, nil)
	_, _, err = a.Command()
	assert.ErrorIs(t, err, ErrToolingUnavailable)

	assert.ErrorIs(t, a.Start(context.Background()), ErrToolingUnavailable)
	assert.Equal(t, 0, a.Starts())
}

func TestAppSupervisor_Env(t *testing.T) {
	root := "/proj"
	cfg := config.DefaultConfig()
	cfg.Env["FEATURE"] = "on"
	cfg.Apply(config.Overrides{Env: "test", Port: "9100", TSConfig: "tsconfig.app.json"})
	cfg.Debug = config.On("")
	cfg.Mock = config.On("")

	env := NewAppSupervisor(root, &cfg, process.NewOrchestrator(), nodeOnPath(), nil).Env()
	assert.Equal(t, "on", env["FEATURE"])
	assert.Equal(t, "test", env["NODE_ENV"])
	assert.Equal(t, "9100", env["NODE_PORT"])
	assert.Equal(t, "*", env["DEBUG"])
	assert.Equal(t, config.DefaultMockURL, env["HTTP_PROXY"])
	assert.Equal(t, config.DefaultMockURL, env["HTTPS_PROXY"])
	assert.Equal(t, filepath.Join(root, "tsconfig.app.json"), env["TS_NODE_PROJECT"])
	assert.Equal(t, "true", env["TS_NODE_TRANSPILE_ONLY"])

	plain := config.DefaultConfig()
	plain.Transpile = false
	env = NewAppSupervisor(root, &plain, process.NewOrchestrator(), nodeOnPath(), nil).Env()
	assert.Equal(t, "development", env["NODE_ENV"])
	assert.Equal(t, "8201", env["NODE_PORT"])
	assert.NotContains(t, env, "DEBUG")
	assert.NotContains(t, env, "HTTP_PROXY")
	assert.Equal(t, filepath.Join(root, "tsconfig.json"), env["TS_NODE_PROJECT"])
	assert.Equal(t, "false", env["TS_NODE_TRANSPILE_ONLY"])
}

func TestAppSupervisor_StopWhenNotRunning(t *testing.T) {
	cfg := config.DefaultConfig()
	a := NewAppSupervisor(t.TempDir(), &cfg, process.NewOrchestrator(), nodeOnPath(), nil)
	assert.NoError(t, a.Stop())
}

// =============================================================================
// Runners
// =============================================================================

func TestInProcessRunner_Disabled(t *testing.T) {
	root := t.TempDir()
	res, err := InProcessRunner{}.Build(context.Background(), &builders.Request{
		Category:   builders.CategoryConfig,
		SourceRoot: filepath.Join(root, "app", "config"),
		OutputRoot: filepath.Join(root, "config"),
	})
	require.NoError(t, err)
	assert.Equal(t, builders.CategoryConfig, res.Category)
	assert.Empty(t, res.Written)
}

func TestProcessRunner_RejectsInvalidRequest(t *testing.T) {
	r := NewProcessRunner(process.NewOrchestrator(), t.TempDir(), nil)
	_, err := r.Build(context.Background(), &builders.Request{Category: builders.CategoryConfig})
	assert.ErrorIs(t, err, builders.ErrInvalidRequest)
}

func TestProcessRunner_WorkerWithoutReply(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	root := t.TempDir()
	orch := process.NewOrchestrator(process.WithExecutable("/bin/sh"))
	r := NewProcessRunner(orch, root, nil)
	r.Args = []string{"-c", "exit 3"}

	_, err := r.Build(context.Background(), &builders.Request{
		Category:   builders.CategoryConfig,
		SourceRoot: filepath.Join(root, "app", "config"),
		OutputRoot: filepath.Join(root, "config"),
	})
	var exitErr *process.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestProcessRunner_WorkerReply(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	root := t.TempDir()
	orch := process.NewOrchestrator(process.WithExecutable("/bin/sh"))
	r := NewProcessRunner(orch, root, nil)
	r.Args = []string{"-c", `printf '{"result":{"category":"config","skipped":2,"incremental":true}}\n' >&4`}

	res, err := r.Build(context.Background(), &builders.Request{
		Category:   builders.CategoryConfig,
		Enabled:    true,
		SourceRoot: filepath.Join(root, "app", "config"),
		OutputRoot: filepath.Join(root, "config"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.True(t, res.Incremental)

	r.Args = []string{"-c", `printf '{"error":"db.ts: no default export","kind":"malformed_source"}\n' >&4; exit 1`}
	_, err = r.Build(context.Background(), &builders.Request{
		Category:   builders.CategoryConfig,
		SourceRoot: filepath.Join(root, "app", "config"),
		OutputRoot: filepath.Join(root, "config"),
	})
	assert.ErrorIs(t, err, codegen.ErrMalformedSource)
}
