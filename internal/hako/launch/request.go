package launch

import (
	"fmt"
	"maps"
	"net/netip"

	"github.com/bdobrica/Hako/internal/hako/permissions"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// Request is one launch. It is not modified by Launch.
type Request struct {
	// Transport is the mode token, "sse" or "stdio".
	Transport string
	Name      string
	// Port is required for the sse transport. Zero means unset.
	Port int
	// PermissionProfile is "stdio", "network" or a profile file path. Empty
	// selects the built-in profile matching the transport.
	PermissionProfile string
	Image             string
	Args              []string
	// Env is extra container environment. Transport variables take
	// precedence over entries with the same name.
	Env map[string]string
}

// Result describes a launched server. On failures after the container was
// created Launch also returns a partial Result so the caller can clean up.
type Result struct {
	Name        string
	ContainerID string
	Mode        transport.Mode
	Port        int
	// Address is invalid when it could not be resolved.
	Address netip.Addr
	// Transport is the started transport handle; the caller stops it.
	Transport transport.Handle
	// Runtime is the lifecycle handle used to create the container; the
	// caller closes it.
	Runtime runtime.Runtime
}

// validated is a request that passed the precondition gate.
type validated struct {
	Request
	mode    transport.Mode
	profile string
}

func validate(req Request) (validated, error) {
	mode, err := transport.ParseMode(req.Transport)
	if err != nil {
		return validated{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if mode == transport.ModeNetwork && req.Port == 0 {
		return validated{}, fmt.Errorf("%w: port required for network transport", ErrInvalidArgument)
	}
	if req.Port < 0 || req.Port > 65535 {
		return validated{}, fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidArgument, req.Port)
	}
	if req.Name == "" {
		return validated{}, fmt.Errorf("%w: server name is required", ErrInvalidArgument)
	}
	if req.Image == "" {
		return validated{}, fmt.Errorf("%w: image is required", ErrInvalidArgument)
	}

	profile := req.PermissionProfile
	if profile == "" {
		profile = permissions.BuiltinStdio
		if mode == transport.ModeNetwork {
			profile = permissions.BuiltinNetwork
		}
	}

	req.Env = maps.Clone(req.Env)
	if req.Env == nil {
		req.Env = make(map[string]string)
	}
	return validated{Request: req, mode: mode, profile: profile}, nil
}
