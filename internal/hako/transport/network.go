package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/bdobrica/Hako/common/retry"
	"github.com/bdobrica/Hako/internal/hako/runtime"
)

// Environment variables passed to containers so they serve the right
// transport.
const (
	EnvTransport = "MCP_TRANSPORT"
	EnvPort      = "MCP_PORT"
)

// DefaultProbe is how long Network.Start waits for the published port.
var DefaultProbe = retry.Policy{Attempts: 20, Delay: 250 * time.Millisecond, Backoff: 1.5, MaxDelay: 2 * time.Second}

// Network is the transport for servers that serve SSE on a TCP port
// published to the host.
type Network struct {
	port      int
	probeHost string
	probe     retry.Policy
	dial      func(ctx context.Context, network, addr string) (net.Conn, error)
	log       *slog.Logger

	mu          sync.Mutex
	name        string
	containerID string
	internalURL string
	hostURL     string
}

// NewNetwork returns a network transport for port. probeHost is the host the
// published port is checked on, "localhost" when empty.
func NewNetwork(port int, probeHost string, probe retry.Policy, log *slog.Logger) *Network {
	if probeHost == "" {
		probeHost = "localhost"
	}
	if log == nil {
		log = slog.Default()
	}
	d := &net.Dialer{Timeout: time.Second}
	return &Network{
		port:      port,
		probeHost: probeHost,
		probe:     probe,
		dial:      d.DialContext,
		log:       log,
	}
}

func (n *Network) Mode() Mode { return ModeNetwork }
func (n *Network) Port() int  { return n.port }

// Setup sets the container's transport variables before creation and records
// the endpoints afterwards.
func (n *Network) Setup(_ context.Context, req SetupRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch req.Phase {
	case PhasePre:
		if req.Env == nil {
			return fmt.Errorf("%w: pre-setup needs an environment", ErrSetupFailed)
		}
		req.Env[EnvTransport] = TokenSSE
		req.Env[EnvPort] = strconv.Itoa(n.port)
		n.name = req.Name
		return nil

	case PhasePost:
		if req.ContainerID == "" {
			return fmt.Errorf("%w: post-setup without container ID", ErrSetupFailed)
		}
		n.name = req.Name
		n.containerID = req.ContainerID
		n.hostURL = sseURL(n.probeHost, n.port)
		if req.Address.IsValid() {
			n.internalURL = sseURL(req.Address.String(), n.port)
		} else {
			n.internalURL = ""
			n.log.Warn("container address unknown, only the host endpoint is available",
				"name", req.Name, "container", runtime.ShortID(req.ContainerID))
		}
		return nil
	}
	return fmt.Errorf("%w: unknown setup phase %s", ErrSetupFailed, req.Phase)
}

// Start waits until the published port accepts connections.
func (n *Network) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.containerID == "" {
		n.mu.Unlock()
		return fmt.Errorf("%w: transport not set up", ErrStartFailed)
	}
	addr := net.JoinHostPort(n.probeHost, strconv.Itoa(n.port))
	n.mu.Unlock()

	err := retry.Do(ctx, n.probe, func(ctx context.Context, _ int) error {
		conn, err := n.dial(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: %s not reachable: %w", ErrStartFailed, addr, err)
	}

	n.log.Info("network transport ready", "name", n.name, "endpoint", n.hostURL)
	return nil
}

// Stop is a no-op: the container owns the listener.
func (n *Network) Stop(context.Context) error { return nil }

// Endpoint returns the host URL of the SSE endpoint.
func (n *Network) Endpoint() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hostURL
}

// InternalEndpoint returns the SSE URL on the container network, empty when
// the container address was unknown.
func (n *Network) InternalEndpoint() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.internalURL
}

// WithRuntime always fails: the network transport never touches the
// container's streams.
func (n *Network) WithRuntime(runtime.Runtime) (Handle, error) {
	return nil, fmt.Errorf("%w: %s", ErrRuntimeBindUnsupported, ModeNetwork)
}

func sseURL(host string, port int) string {
	if addr, err := netip.ParseAddr(host); err == nil && addr.Is6() {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("http://%s:%d/sse", host, port)
}
