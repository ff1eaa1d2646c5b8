package transport

import (
	"fmt"
	"log/slog"

	"github.com/bdobrica/Hako/common/retry"
)

// Factory is the default Provider.
type Factory struct {
	// Host is where network transports probe their published port and
	// where stream bridges listen. Defaults differ per variant; see
	// NewNetwork and NewStream.
	Host string
	// Probe overrides DefaultProbe for network transports.
	Probe  *retry.Policy
	Logger *slog.Logger
}

// Create returns a new handle for mode.
func (f Factory) Create(mode Mode, port int) (Handle, error) {
	switch mode {
	case ModeNetwork:
		probe := DefaultProbe
		if f.Probe != nil {
			probe = *f.Probe
		}
		return NewNetwork(port, f.Host, probe, f.Logger), nil
	case ModeStream:
		return NewStream(port, f.Host, f.Logger), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
}

var (
	_ Provider = Factory{}
	_ Handle   = (*Network)(nil)
	_ Handle   = (*Stream)(nil)
)
