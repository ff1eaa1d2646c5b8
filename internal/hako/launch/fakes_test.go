package launch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bdobrica/Hako/internal/hako/permissions"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/runtime/runtimetest"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// fakeTransport records every call made on it.
type fakeTransport struct {
	mode transport.Mode
	port int

	// created reports whether any runtime handle has created a container,
	// sampled when WithRuntime is called.
	created func() bool

	setupErr map[transport.Phase]error
	startErr error

	mu               sync.Mutex
	calls            []string
	setups           []transport.SetupRequest
	bound            runtime.Runtime
	boundAfterCreate bool
	started          bool
	stopped          int
}

func (f *fakeTransport) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) Mode() transport.Mode { return f.mode }
func (f *fakeTransport) Port() int            { return f.port }
func (f *fakeTransport) Endpoint() string     { return "http://localhost/sse" }

func (f *fakeTransport) Setup(_ context.Context, req transport.SetupRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Setup:" + req.Phase.String())
	if req.Phase == transport.PhasePre {
		req.Env[transport.EnvTransport] = f.mode.String()
	}
	f.setups = append(f.setups, req.Clone())
	if err := f.setupErr[req.Phase]; err != nil {
		return err
	}
	return nil
}

func (f *fakeTransport) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Start")
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeTransport) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Stop")
	f.stopped++
	return nil
}

func (f *fakeTransport) WithRuntime(rt runtime.Runtime) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("WithRuntime")
	if f.mode != transport.ModeStream {
		return nil, transport.ErrRuntimeBindUnsupported
	}
	if f.bound != nil {
		return nil, transport.ErrRuntimeAlreadyBound
	}
	f.bound = rt
	if f.created != nil && f.created() {
		f.boundAfterCreate = true
	}
	return f, nil
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Setups() []transport.SetupRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.SetupRequest(nil), f.setups...)
}

func (f *fakeTransport) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// fakeTransports hands out fakeTransport handles.
type fakeTransports struct {
	err       error
	configure func(*fakeTransport)
	created   func() bool

	mu      sync.Mutex
	handles []*fakeTransport
}

func (p *fakeTransports) Create(mode transport.Mode, port int) (transport.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if mode != transport.ModeNetwork && mode != transport.ModeStream {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownMode, mode)
	}
	h := &fakeTransport{mode: mode, port: port, created: p.created}
	if p.configure != nil {
		p.configure(h)
	}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeTransports) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *fakeTransports) last() *fakeTransport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) == 0 {
		return nil
	}
	return p.handles[len(p.handles)-1]
}

// countingTranslator counts Translate calls.
type countingTranslator struct {
	permissions.Translator
	mu    sync.Mutex
	calls int
}

func (c *countingTranslator) Translate(p *permissions.Profile) runtime.SandboxConfig {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Translator.Translate(p)
}

// countingResolver counts Resolve calls and delegates to the real resolver.
type countingResolver struct {
	permissions.Resolver
	calls int
}

func (c *countingResolver) Resolve(selector string) (*permissions.Profile, error) {
	c.calls++
	return c.Resolver.Resolve(selector)
}

type harness struct {
	runtimes   *runtimetest.Provider
	transports *fakeTransports
	translator *countingTranslator
	resolver   *countingResolver
	orch       *Orchestrator
	// configure is applied to every runtime handle before it is handed out.
	configure func(*runtimetest.Fake)
}

// newHarness builds an orchestrator whose providers hand out distinct fake
// handles, so tests can tell which handle was used for what.
func newHarness() *harness {
	h := &harness{
		transports: &fakeTransports{},
		translator: &countingTranslator{},
		resolver:   &countingResolver{},
	}
	h.runtimes = &runtimetest.Provider{New: func() *runtimetest.Fake {
		f := runtimetest.New()
		if h.configure != nil {
			h.configure(f)
		}
		return f
	}}
	h.transports.created = func() bool {
		for i := 0; i < h.runtimes.Acquired(); i++ {
			if h.runtimes.Handle(i).CallCount("CreateAndStart") > 0 {
				return true
			}
		}
		return false
	}
	orch, err := New(Config{
		Runtimes:   h.runtimes,
		Transports: h.transports,
		Profiles:   h.resolver,
		Sandbox:    h.translator,
	})
	if err != nil {
		panic(err)
	}
	h.orch = orch
	return h
}

// createCalls sums CreateAndStart calls over all runtime handles.
func (h *harness) createCalls() int {
	n := 0
	for i := 0; i < h.runtimes.Acquired(); i++ {
		n += h.runtimes.Handle(i).CallCount("CreateAndStart")
	}
	return n
}

var errBoom = errors.New("boom")
