package app_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Hako/internal/hako/app"
	"github.com/bdobrica/Hako/internal/hako/audit"
	"github.com/bdobrica/Hako/internal/hako/config"
	"github.com/bdobrica/Hako/internal/hako/launch"
	"github.com/bdobrica/Hako/internal/hako/permissions"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/runtime/runtimetest"
	"github.com/bdobrica/Hako/internal/hako/store"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// fakeHandle is a transport that records its lifecycle.
type fakeHandle struct {
	mode     transport.Mode
	port     int
	startErr error

	mu      sync.Mutex
	rt      runtime.Runtime
	started bool
	stopped bool
}

func (h *fakeHandle) Mode() transport.Mode { return h.mode }
func (h *fakeHandle) Port() int            { return h.port }
func (h *fakeHandle) Endpoint() string     { return fmt.Sprintf("http://localhost:%d/sse", h.port) }

func (h *fakeHandle) InternalEndpoint() string {
	if h.mode != transport.ModeNetwork {
		return ""
	}
	return fmt.Sprintf("http://10.0.0.5:%d/sse", h.port)
}

func (h *fakeHandle) Setup(context.Context, transport.SetupRequest) error { return nil }

func (h *fakeHandle) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.started = true
	return nil
}

func (h *fakeHandle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.rt != nil {
		h.rt.Close()
	}
	return nil
}

func (h *fakeHandle) WithRuntime(rt runtime.Runtime) (transport.Handle, error) {
	if h.mode != transport.ModeStream {
		return nil, transport.ErrRuntimeBindUnsupported
	}
	h.rt = rt
	return h, nil
}

func (h *fakeHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []audit.Event
}

func (n *recordingNotifier) Notify(_ context.Context, evt audit.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) Kinds() []audit.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]audit.Kind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

func (n *recordingNotifier) Has(k audit.Kind) bool {
	for _, got := range n.Kinds() {
		if got == k {
			return true
		}
	}
	return false
}

type harness struct {
	app      *app.App
	store    *store.Store
	fake     *runtimetest.Fake
	runtimes *runtimetest.Provider
	notifier *recordingNotifier

	mu       sync.Mutex
	handles  []*fakeHandle
	startErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "hako-app-test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{store: db, fake: runtimetest.New(), notifier: &recordingNotifier{}}
	h.fake.AddImage("mcp/fetch:latest")
	h.runtimes = &runtimetest.Provider{New: func() *runtimetest.Fake { return h.fake }}

	transports := transport.ProviderFunc(func(mode transport.Mode, port int) (transport.Handle, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		fh := &fakeHandle{mode: mode, port: port, startErr: h.startErr}
		h.handles = append(h.handles, fh)
		return fh, nil
	})

	a, err := app.New(app.Config{
		Store:           db,
		Runtimes:        h.runtimes,
		Transports:      transports,
		Notifier:        h.notifier,
		MonitorInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	h.app = a
	return h
}

func (h *harness) handle(i int) *fakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.handles) {
		return nil
	}
	return h.handles[i]
}

func sseOptions(name string) app.RunOptions {
	return app.RunOptions{Request: launch.Request{
		Transport: "sse",
		Name:      name,
		Port:      8080,
		Image:     "mcp/fetch:latest",
		Args:      []string{"--root", "/data", "hello world"},
	}}
}

func stdioOptions(name string) app.RunOptions {
	return app.RunOptions{Request: launch.Request{
		Transport: "stdio",
		Name:      name,
		Image:     "mcp/fetch:latest",
	}}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := app.New(app.Config{}); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestStart_RecordsServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.app.Start(ctx, sseOptions("fetch"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sess.Close(ctx) })

	srv, err := h.store.GetServer(ctx, "fetch")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if srv.Status != store.StatusRunning {
		t.Errorf("status = %q, want running", srv.Status)
	}
	if srv.ContainerID != sess.Result().ContainerID || srv.ContainerID == "" {
		t.Errorf("container ID = %q, result %q", srv.ContainerID, sess.Result().ContainerID)
	}
	if srv.Transport != "sse" || srv.Port != 8080 {
		t.Errorf("transport = %s:%d", srv.Transport, srv.Port)
	}
	if srv.Command != `--root /data 'hello world'` {
		t.Errorf("command = %q", srv.Command)
	}
	if srv.Endpoint != "http://localhost:8080/sse" {
		t.Errorf("endpoint = %q", srv.Endpoint)
	}
	if srv.InternalEndpoint != "http://10.0.0.5:8080/sse" {
		t.Errorf("internal endpoint = %q", srv.InternalEndpoint)
	}
	if !h.notifier.Has(audit.KindServerLaunched) {
		t.Errorf("expected launched notice, got %v", h.notifier.Kinds())
	}
	if h.fake.CallCount("PullImage") != 0 {
		t.Error("image present locally should not be pulled")
	}
}

func TestStart_PullsMissingImage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	opts := sseOptions("time")
	opts.Request.Image = "mcp/time:latest"
	sess, err := h.app.Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Close(ctx)
	if n := h.fake.CallCount("PullImage"); n != 1 {
		t.Errorf("PullImage calls = %d, want 1", n)
	}
}

func TestStart_PullFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.PullErr = errors.New("manifest unknown")

	opts := sseOptions("time")
	opts.Request.Image = "mcp/time:latest"
	_, err := h.app.Start(context.Background(), opts)
	if !errors.Is(err, runtime.ErrCreationFailed) {
		t.Fatalf("expected ErrCreationFailed, got %v", err)
	}
	if n := h.fake.CallCount("CreateAndStart"); n != 0 {
		t.Errorf("CreateAndStart calls = %d, want 0", n)
	}
	if !h.notifier.Has(audit.KindLaunchFailed) {
		t.Errorf("expected launch.failed notice, got %v", h.notifier.Kinds())
	}
}

func TestStart_InvalidRequestAllocatesNothing(t *testing.T) {
	cases := []struct {
		name string
		opts app.RunOptions
	}{
		{"bogus transport", func() app.RunOptions { o := sseOptions("x"); o.Request.Transport = "tcp"; return o }()},
		{"missing port", func() app.RunOptions { o := sseOptions("x"); o.Request.Port = 0; return o }()},
		{"missing image", func() app.RunOptions { o := sseOptions("x"); o.Request.Image = ""; return o }()},
		{"detach stdio", func() app.RunOptions { o := stdioOptions("x"); o.Detach = true; return o }()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.app.Start(context.Background(), tc.opts)
			if !errors.Is(err, launch.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if n := h.runtimes.Acquired(); n != 0 {
				t.Errorf("runtime handles acquired = %d, want 0", n)
			}
		})
	}
}

func TestStart_ProfileErrorsBeforeEngine(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	for _, engineDown := range []bool{false, true} {
		t.Run(fmt.Sprintf("engine down %v", engineDown), func(t *testing.T) {
			h := newHarness(t)
			if engineDown {
				h.runtimes.Err = runtime.ErrEngineUnavailable
			}
			opts := stdioOptions("fs")
			opts.Request.Image = "not/local:1"
			opts.Request.PermissionProfile = missing

			_, err := h.app.Start(context.Background(), opts)
			if !errors.Is(err, permissions.ErrProfileNotFound) {
				t.Fatalf("expected ErrProfileNotFound, got %v", err)
			}
			if errors.Is(err, runtime.ErrEngineUnavailable) {
				t.Errorf("engine must not be contacted: %v", err)
			}
			if n := h.runtimes.Acquired(); n != 0 {
				t.Errorf("runtime handles acquired = %d, want 0", n)
			}
			if n := h.fake.CallCount("PullImage"); n != 0 {
				t.Errorf("PullImage calls = %d, want 0", n)
			}
		})
	}
}

func TestStart_DuplicateRunningName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SaveServer(ctx, &store.Server{
		Name: "fetch", ContainerID: "abc", Image: "mcp/fetch:latest", Transport: "sse", Status: store.StatusRunning,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := h.app.Start(ctx, sseOptions("fetch"))
	if !errors.Is(err, launch.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if n := h.runtimes.Acquired(); n != 0 {
		t.Errorf("runtime handles acquired = %d, want 0", n)
	}
}

func TestStart_ReusesStoppedName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SaveServer(ctx, &store.Server{
		Name: "fetch", Image: "mcp/fetch:latest", Transport: "sse", Status: store.StatusStopped,
	}); err != nil {
		t.Fatal(err)
	}
	sess, err := h.app.Start(ctx, sseOptions("fetch"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Close(ctx)
}

func TestStart_TransportFailureRemovesContainer(t *testing.T) {
	h := newHarness(t)
	h.startErr = errors.New("port never opened")
	ctx := context.Background()

	_, err := h.app.Start(ctx, sseOptions("fetch"))
	if !errors.Is(err, transport.ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}
	var lerr *launch.Error
	if !errors.As(err, &lerr) || lerr.ContainerID == "" {
		t.Fatalf("expected launch error with container ID, got %v", err)
	}
	if _, serr := h.fake.Status(ctx, lerr.ContainerID); !errors.Is(serr, runtime.ErrContainerNotFound) {
		t.Errorf("container should be removed, status err = %v", serr)
	}
	if !h.handle(0).Stopped() {
		t.Error("transport should be stopped")
	}
	if _, err := h.store.GetServer(ctx, "fetch"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed launch should not be recorded, got %v", err)
	}
}

func TestSession_CloseRemoves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.app.Start(ctx, stdioOptions("fs"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := sess.Result().ContainerID
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := h.fake.Status(ctx, id); !errors.Is(err, runtime.ErrContainerNotFound) {
		t.Errorf("container should be removed, got %v", err)
	}
	if _, err := h.store.GetServer(ctx, "fs"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record should be deleted, got %v", err)
	}
	if !h.handle(0).Stopped() {
		t.Error("transport should be stopped")
	}
	if n := h.fake.CallCount("Remove"); n != 1 {
		t.Errorf("Remove calls = %d, want 1", n)
	}
	if !h.notifier.Has(audit.KindServerRemoved) {
		t.Errorf("expected removed notice, got %v", h.notifier.Kinds())
	}
}

func TestSession_CloseKeep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	opts := sseOptions("fetch")
	opts.Keep = true
	sess, err := h.app.Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err := h.fake.Status(ctx, sess.Result().ContainerID)
	if err != nil {
		t.Fatalf("kept container missing: %v", err)
	}
	if st.State == runtime.StateRunning {
		t.Error("kept container should be stopped")
	}
	srv, err := h.store.GetServer(ctx, "fetch")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if srv.Status != store.StatusStopped {
		t.Errorf("status = %q, want stopped", srv.Status)
	}
	if !h.notifier.Has(audit.KindServerStopped) {
		t.Errorf("expected stopped notice, got %v", h.notifier.Kinds())
	}
}

func TestSession_WaitReportsExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	opts := sseOptions("fetch")
	opts.Keep = true
	sess, err := h.app.Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.fake.SetState(sess.Result().ContainerID, runtime.StateExited, 2)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = sess.Wait(waitCtx)
	if !errors.Is(err, runtime.ErrContainerExited) {
		t.Fatalf("expected ErrContainerExited, got %v", err)
	}
	srv, gerr := h.store.GetServer(ctx, "fetch")
	if gerr != nil {
		t.Fatal(gerr)
	}
	if srv.Status != store.StatusExited || srv.LastError == "" {
		t.Errorf("record = %s/%q, want exited with error", srv.Status, srv.LastError)
	}

	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	srv, _ = h.store.GetServer(ctx, "fetch")
	if srv.Status != store.StatusExited {
		t.Errorf("status after close = %q, want exited", srv.Status)
	}
}

func TestSession_WaitReturnsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.app.Start(ctx, sseOptions("fetch"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Close(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := sess.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSession_Detach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	opts := sseOptions("fetch")
	opts.Detach = true
	sess, err := h.app.Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Detach(ctx); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	st, err := h.fake.Status(ctx, sess.Result().ContainerID)
	if err != nil || st.State != runtime.StateRunning {
		t.Errorf("detached container should keep running: %v %v", st.State, err)
	}
	srv, _ := h.store.GetServer(ctx, "fetch")
	if srv == nil || srv.Status != store.StatusRunning {
		t.Errorf("detached record should stay running, got %+v", srv)
	}

	stdio, err := h.app.Start(ctx, stdioOptions("fs"))
	if err != nil {
		t.Fatalf("Start stdio: %v", err)
	}
	defer stdio.Close(ctx)
	if err := stdio.Detach(ctx); !errors.Is(err, launch.ErrInvalidArgument) {
		t.Errorf("stdio Detach: expected ErrInvalidArgument, got %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := launch.Request{Name: "fetch", Image: "mcp/fetch:latest"}
	if err := h.app.ApplyDefaults(ctx, &req); err != nil {
		t.Fatal(err)
	}
	if req.Transport != app.DefaultTransport || req.Port != 0 || req.PermissionProfile != "" {
		t.Errorf("no stored defaults: got %+v", req)
	}

	defaults := h.app.Defaults()
	for k, v := range map[string]string{
		config.KeyTransport:         "sse",
		config.KeyPort:              "9090",
		config.KeyPermissionProfile: "network",
	} {
		if err := defaults.Set(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}

	req = launch.Request{Name: "fetch", Image: "mcp/fetch:latest"}
	if err := h.app.ApplyDefaults(ctx, &req); err != nil {
		t.Fatal(err)
	}
	if req.Transport != "sse" || req.Port != 9090 || req.PermissionProfile != "network" {
		t.Errorf("stored defaults not applied: %+v", req)
	}

	req = launch.Request{Transport: "stdio", Port: 0, PermissionProfile: "stdio"}
	if err := h.app.ApplyDefaults(ctx, &req); err != nil {
		t.Fatal(err)
	}
	if req.Transport != "stdio" || req.Port != 0 || req.PermissionProfile != "stdio" {
		t.Errorf("explicit values must win and stdio gets no stored port: %+v", req)
	}
}
