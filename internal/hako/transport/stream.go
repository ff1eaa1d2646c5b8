package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/transport/jsonrpc"
	"github.com/bdobrica/Hako/internal/hako/transport/sse"
)

// Stream is the transport for servers speaking JSON-RPC on their standard
// streams. Start attaches to the container through the bound runtime and
// serves an SSE bridge on the transport's port.
type Stream struct {
	port     int
	bindHost string
	log      *slog.Logger

	mu          sync.Mutex
	rt          runtime.Runtime
	name        string
	containerID string
	proxy       *sse.Proxy
	stdin       io.WriteCloser
	stdout      io.ReadCloser
	cancel      context.CancelFunc
	group       *errgroup.Group
	endpoint    string
	started     bool
	stopped     bool
}

// NewStream returns a stream transport whose bridge listens on
// bindHost:port. Port 0 picks a free port at Start. An empty bindHost means
// 127.0.0.1.
func NewStream(port int, bindHost string, log *slog.Logger) *Stream {
	if bindHost == "" {
		bindHost = "127.0.0.1"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Stream{port: port, bindHost: bindHost, log: log}
}

func (s *Stream) Mode() Mode { return ModeStream }
func (s *Stream) Port() int  { return s.port }

// WithRuntime binds rt, which the transport then owns.
func (s *Stream) WithRuntime(rt runtime.Runtime) (Handle, error) {
	if rt == nil {
		return nil, fmt.Errorf("%w: nil runtime", ErrSetupFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rt != nil {
		return nil, ErrRuntimeAlreadyBound
	}
	s.rt = rt
	return s, nil
}

// Setup tells the container to speak stdio before creation and records the
// container identity afterwards.
func (s *Stream) Setup(_ context.Context, req SetupRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Phase {
	case PhasePre:
		if req.Env == nil {
			return fmt.Errorf("%w: pre-setup needs an environment", ErrSetupFailed)
		}
		req.Env[EnvTransport] = TokenStdio
		s.name = req.Name
		return nil

	case PhasePost:
		if s.rt == nil {
			return fmt.Errorf("%w: no runtime bound", ErrSetupFailed)
		}
		if req.ContainerID == "" {
			return fmt.Errorf("%w: post-setup without container ID", ErrSetupFailed)
		}
		s.name = req.Name
		s.containerID = req.ContainerID
		return nil
	}
	return fmt.Errorf("%w: unknown setup phase %s", ErrSetupFailed, req.Phase)
}

// Start attaches to the container and starts the bridge. The bridge keeps
// running after ctx ends; Stop shuts it down.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.stopped:
		return fmt.Errorf("%w: transport stopped", ErrStartFailed)
	case s.started:
		return fmt.Errorf("%w: already started", ErrStartFailed)
	case s.rt == nil || s.containerID == "":
		return fmt.Errorf("%w: transport not set up", ErrStartFailed)
	}

	stdin, stdout, err := s.rt.Attach(ctx, s.containerID)
	if err != nil {
		return fmt.Errorf("%w: attach %s: %w", ErrStartFailed, runtime.ShortID(s.containerID), err)
	}

	proxy := sse.New(s.name, s.log)
	if err := proxy.Listen(net.JoinHostPort(s.bindHost, strconv.Itoa(s.port))); err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, pumpCtx := errgroup.WithContext(pumpCtx)
	g.Go(func() error { return s.pumpStdin(pumpCtx, proxy, stdin) })
	g.Go(func() error { return s.pumpStdout(proxy, stdout) })

	s.proxy = proxy
	s.stdin = stdin
	s.stdout = stdout
	s.cancel = cancel
	s.group = g
	s.started = true
	s.endpoint = fmt.Sprintf("http://%s%s", proxy.Addr().String(), sse.EventsPath)

	s.log.Info("stdio bridge ready", "name", s.name, "container", runtime.ShortID(s.containerID), "endpoint", s.endpoint)
	return nil
}

// pumpStdin writes client messages to the container, one per line.
func (s *Stream) pumpStdin(ctx context.Context, proxy *sse.Proxy, stdin io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-proxy.Incoming():
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				return fmt.Errorf("write container stdin: %w", err)
			}
		}
	}
}

// pumpStdout broadcasts each JSON-RPC line the container prints. Lines that
// are not JSON-RPC are logged and dropped.
func (s *Stream) pumpStdout(proxy *sse.Proxy, stdout io.Reader) error {
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			s.forward(proxy, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				s.log.Info("container stdout closed", "name", s.name)
				return nil
			}
			return fmt.Errorf("read container stdout: %w", err)
		}
	}
}

func (s *Stream) forward(proxy *sse.Proxy, line []byte) {
	msg, err := jsonrpc.Parse(line)
	if err != nil {
		s.log.Debug("dropping non JSON-RPC output", "name", s.name, "err", err)
		return
	}
	data, err := msg.Encode()
	if err != nil {
		s.log.Warn("re-encode message", "name", s.name, "err", err)
		return
	}
	proxy.Broadcast(data)
}

// Stop detaches from the container, shuts the bridge down and closes the
// bound runtime handle.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	proxy, stdin, stdout, cancel, g, rt := s.proxy, s.stdin, s.stdout, s.cancel, s.group, s.rt
	s.mu.Unlock()

	var errs []error
	if started {
		cancel()
		if err := stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
		if err := stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdout: %w", err))
		}
		if err := proxy.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := g.Wait(); err != nil {
			s.log.Debug("bridge pump ended with error", "name", s.name, "err", err)
		}
	}
	if rt != nil {
		if err := rt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close runtime: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Endpoint returns the bridge's SSE URL once started.
func (s *Stream) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}
