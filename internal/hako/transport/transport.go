// Package transport provides the two ways a launched MCP server is reached:
// a network transport for servers that serve SSE themselves, and a stream
// transport that bridges a server's stdin and stdout to an SSE endpoint.
package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"strings"

	"github.com/bdobrica/Hako/internal/hako/runtime"
)

var (
	// ErrUnknownMode is returned by ParseMode for unrecognised tokens.
	ErrUnknownMode = errors.New("unknown transport mode")
	// ErrSetupFailed is returned when a transport cannot be configured.
	ErrSetupFailed = errors.New("transport setup failed")
	// ErrStartFailed is returned when a configured transport cannot start.
	ErrStartFailed = errors.New("transport start failed")
	// ErrRuntimeBindUnsupported is returned by WithRuntime on transports
	// that do not operate through the runtime.
	ErrRuntimeBindUnsupported = errors.New("transport does not bind a runtime")
	// ErrRuntimeAlreadyBound is returned by a second WithRuntime call.
	ErrRuntimeAlreadyBound = errors.New("runtime already bound")
)

// Mode selects the transport variant.
type Mode int

const (
	// ModeNetwork reaches the server over a published TCP port.
	ModeNetwork Mode = iota + 1
	// ModeStream reaches the server through its standard streams.
	ModeStream
)

// Mode tokens accepted by ParseMode.
const (
	TokenSSE   = "sse"
	TokenStdio = "stdio"
)

func (m Mode) String() string {
	switch m {
	case ModeNetwork:
		return TokenSSE
	case ModeStream:
		return TokenStdio
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ValidTokens lists the accepted mode tokens.
func ValidTokens() []string {
	return []string{TokenSSE, TokenStdio}
}

// ParseMode maps a token to a Mode. Matching is exact and case-sensitive.
func ParseMode(token string) (Mode, error) {
	switch token {
	case TokenSSE:
		return ModeNetwork, nil
	case TokenStdio:
		return ModeStream, nil
	}
	return 0, fmt.Errorf("%w %q (valid: %s)", ErrUnknownMode, token, strings.Join(ValidTokens(), ", "))
}

// Phase tells a transport which half of its setup a request belongs to.
type Phase int

const (
	// PhasePre runs before the container exists. The transport may add to
	// Env, which becomes the container environment.
	PhasePre Phase = iota + 1
	// PhasePost runs once the container is running.
	PhasePost
)

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "pre"
	case PhasePost:
		return "post"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// SetupRequest carries what a transport needs to configure itself. Build it
// with PreSetup or PostSetup.
type SetupRequest struct {
	Phase       Phase
	ContainerID string
	Name        string
	Port        int
	Env         map[string]string
	// Address is the container's network address; invalid when unknown.
	Address netip.Addr
}

// PreSetup builds the request issued before container creation. env is
// shared with the caller: entries the transport adds end up in the
// container environment. A nil env is replaced by an empty map.
func PreSetup(name string, port int, env map[string]string) SetupRequest {
	if env == nil {
		env = make(map[string]string)
	}
	return SetupRequest{Phase: PhasePre, Name: name, Port: port, Env: env}
}

// PostSetup builds the request issued once the container runs. addr may be
// the zero netip.Addr when the address could not be resolved.
func PostSetup(containerID, name string, port int, addr netip.Addr) SetupRequest {
	return SetupRequest{
		Phase:       PhasePost,
		ContainerID: containerID,
		Name:        name,
		Port:        port,
		Env:         make(map[string]string),
		Address:     addr,
	}
}

// Clone returns a copy of r with its own Env map.
func (r SetupRequest) Clone() SetupRequest {
	r.Env = maps.Clone(r.Env)
	return r
}

// Handle is a transport instance. Its Mode never changes.
type Handle interface {
	Mode() Mode
	// Port is the port the transport was created with; 0 when unset.
	Port() int
	// Setup applies one setup phase.
	Setup(ctx context.Context, req SetupRequest) error
	// Start makes the server reachable to clients.
	Start(ctx context.Context) error
	// Stop releases everything Start acquired. It is safe to call more than
	// once and on a transport that never started.
	Stop(ctx context.Context) error
	// Endpoint is the URL clients connect to; empty until known.
	Endpoint() string
	// WithRuntime binds the runtime handle the transport operates the
	// container through and returns the bound handle. Only stream
	// transports accept a runtime, and only once.
	WithRuntime(rt runtime.Runtime) (Handle, error)
}

// Provider creates transport handles.
type Provider interface {
	Create(mode Mode, port int) (Handle, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(mode Mode, port int) (Handle, error)

// Create calls f.
func (f ProviderFunc) Create(mode Mode, port int) (Handle, error) {
	return f(mode, port)
}
