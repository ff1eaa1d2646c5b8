// Package runtimetest provides an in-memory runtime.Runtime for tests.
package runtimetest

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/bdobrica/Hako/internal/hako/runtime"
)

// Fake is an in-memory container engine. Exported fields configure failures
// and must be set before the fake is shared between goroutines.
type Fake struct {
	// NextID is the ID assigned by the next CreateAndStart. When empty IDs
	// are generated as "fake-1", "fake-2" and so on.
	NextID string
	// Address is returned by ResolveAddress. The zero value makes
	// ResolveAddress fail with ErrAddressUnresolved.
	Address netip.Addr

	CreateErr  error
	ResolveErr error
	AttachErr  error
	PullErr    error
	StopErr    error
	CloseErr   error

	mu         sync.Mutex
	seq        int
	calls      []string
	specs      []runtime.ContainerSpec
	images     map[string]bool
	containers map[string]*container
	closed     bool
}

type container struct {
	spec     runtime.ContainerSpec
	state    runtime.ContainerState
	exitCode int
	logs     string
	created  time.Time

	// host side
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	// container side
	stdinR  *io.PipeReader
	stdoutW *io.PipeWriter
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		images:     make(map[string]bool),
		containers: make(map[string]*container),
	}
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

// Calls returns the method names invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how many times method was invoked.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Specs returns the specs passed to CreateAndStart.
func (f *Fake) Specs() []runtime.ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runtime.ContainerSpec(nil), f.specs...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// AddImage marks image as present locally.
func (f *Fake) AddImage(image string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[image] = true
}

// AddContainer registers a container without going through CreateAndStart.
func (f *Fake) AddContainer(id string, spec runtime.ContainerSpec, state runtime.ContainerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = &container{spec: spec, state: state, created: time.Now()}
}

// SetState changes a container's state as if the engine reported it.
func (f *Fake) SetState(id string, state runtime.ContainerState, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.state = state
		c.exitCode = exitCode
	}
}

// SetLogs sets what Logs returns for id.
func (f *Fake) SetLogs(id, logs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.logs = logs
	}
}

// ContainerStdio returns the container side of an attached container's
// standard streams: what the host writes to stdin arrives on the reader and
// what is written to the writer appears on the host's stdout.
func (f *Fake) ContainerStdio(id string) (io.Reader, io.WriteCloser, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok || c.stdinR == nil {
		return nil, nil, false
	}
	return c.stdinR, c.stdoutW, true
}

func (f *Fake) CreateAndStart(_ context.Context, spec runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateAndStart")
	f.specs = append(f.specs, spec)
	if f.CreateErr != nil {
		return "", f.CreateErr
	}

	id := f.NextID
	f.NextID = ""
	if id == "" {
		f.seq++
		id = fmt.Sprintf("fake-%d", f.seq)
	}
	c := &container{spec: spec, state: runtime.StateRunning, created: time.Now()}
	if spec.AttachStdio {
		c.stdinR, c.stdinW = io.Pipe()
		c.stdoutR, c.stdoutW = io.Pipe()
	}
	f.containers[id] = c
	return id, nil
}

func (f *Fake) ResolveAddress(_ context.Context, id string) (netip.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ResolveAddress")
	if f.ResolveErr != nil {
		return netip.Addr{}, f.ResolveErr
	}
	if _, ok := f.containers[id]; !ok {
		return netip.Addr{}, fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, id)
	}
	if !f.Address.IsValid() {
		return netip.Addr{}, fmt.Errorf("%w: %s", runtime.ErrAddressUnresolved, id)
	}
	return f.Address, nil
}

func (f *Fake) Attach(_ context.Context, id string) (io.WriteCloser, io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Attach")
	if f.AttachErr != nil {
		return nil, nil, f.AttachErr
	}
	c, ok := f.containers[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, id)
	}
	if c.stdinW == nil {
		return nil, nil, fmt.Errorf("%w: %s was not created with stdio attached", runtime.ErrAttachFailed, id)
	}
	return c.stdinW, c.stdoutR, nil
}

func (f *Fake) Status(_ context.Context, id string) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Status")
	c, ok := f.containers[id]
	if !ok {
		return runtime.Status{}, fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, id)
	}
	return runtime.Status{ContainerID: id, State: c.state, ExitCode: c.exitCode, StartedAt: c.created}, nil
}

func (f *Fake) List(_ context.Context) ([]runtime.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("List")
	var out []runtime.ContainerInfo
	for id, c := range f.containers {
		if !runtime.IsManaged(c.spec.Labels) {
			continue
		}
		out = append(out, runtime.ContainerInfo{
			ID:      id,
			Name:    c.spec.Name,
			Image:   c.spec.Image,
			State:   c.state,
			Created: c.created,
			Labels:  c.spec.Labels,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) Logs(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Logs")
	c, ok := f.containers[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, id)
	}
	return c.logs, nil
}

func (f *Fake) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Stop")
	if f.StopErr != nil {
		return f.StopErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, id)
	}
	c.state = runtime.StateExited
	if c.stdoutW != nil {
		c.stdoutW.Close()
	}
	return nil
}

func (f *Fake) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Remove")
	if c, ok := f.containers[id]; ok && c.stdoutW != nil {
		c.stdoutW.Close()
	}
	delete(f.containers, id)
	return nil
}

func (f *Fake) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ImageExists")
	return f.images[image], nil
}

func (f *Fake) PullImage(_ context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PullImage")
	if f.PullErr != nil {
		return f.PullErr
	}
	f.images[image] = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Close")
	f.closed = true
	return f.CloseErr
}

// Provider hands out Fake handles and counts how many were acquired.
type Provider struct {
	// Err, when set, is returned by every Create call.
	Err error
	// New builds each handle. Defaults to returning the same shared Fake.
	New func() *Fake

	mu      sync.Mutex
	shared  *Fake
	handles []*Fake
}

// Create returns a handle.
func (p *Provider) Create(context.Context) (runtime.Runtime, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	var f *Fake
	if p.New != nil {
		f = p.New()
	} else {
		if p.shared == nil {
			p.shared = New()
		}
		f = p.shared
	}
	p.handles = append(p.handles, f)
	return f, nil
}

// Acquired returns the number of successful Create calls.
func (p *Provider) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Handle returns the i-th handle returned by Create.
func (p *Provider) Handle(i int) *Fake {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.handles) {
		return nil
	}
	return p.handles[i]
}
