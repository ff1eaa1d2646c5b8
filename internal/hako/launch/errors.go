package launch

import (
	"errors"
	"fmt"

	"github.com/bdobrica/Hako/internal/hako/runtime"
)

// ErrInvalidArgument is returned for requests the caller must fix. It is
// always reported before anything is allocated.
var ErrInvalidArgument = errors.New("invalid argument")

// Stage names the launch step that failed.
type Stage int

const (
	StageValidate Stage = iota + 1
	StageAcquire
	StagePreBind
	StagePreSetup
	StageCreate
	StageResolveAddress
	StagePostSetup
	StageStart
)

var stageNames = map[Stage]string{
	StageValidate:       "validate",
	StageAcquire:        "acquire",
	StagePreBind:        "pre-bind",
	StagePreSetup:       "pre-setup",
	StageCreate:         "create",
	StageResolveAddress: "resolve-address",
	StagePostSetup:      "post-setup",
	StageStart:          "start",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Error describes a failed launch. ContainerID is set when the container was
// already running at the time of failure; it is left running for the caller
// to inspect or stop.
type Error struct {
	Stage       Stage
	Name        string
	ContainerID string
	Err         error
}

func (e *Error) Error() string {
	if e.ContainerID != "" {
		return fmt.Sprintf("launch %s: %s (container %s): %v", e.Name, e.Stage, runtime.ShortID(e.ContainerID), e.Err)
	}
	return fmt.Sprintf("launch %s: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ensure wraps err with sentinel unless it already matches.
func ensure(err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
