package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hako/internal/hako/config"
	"github.com/bdobrica/Hako/internal/hako/launch"
	"github.com/bdobrica/Hako/internal/hako/permissions"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// Exit codes for hako.
const (
	exitSuccess   = 0
	exitGeneral   = 1
	exitInvalid   = 2
	exitProfile   = 3
	exitEngine    = 4
	exitTransport = 5
)

// usageError marks command-line mistakes caught by cobra itself.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// exitCode maps err to the process exit status.
func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &usage),
		errors.Is(err, launch.ErrInvalidArgument),
		errors.Is(err, config.ErrUnknownKey),
		errors.Is(err, config.ErrInvalidValue):
		return exitInvalid
	case errors.Is(err, permissions.ErrProfileNotFound),
		errors.Is(err, permissions.ErrProfileMalformed):
		return exitProfile
	case errors.Is(err, runtime.ErrEngineUnavailable),
		errors.Is(err, runtime.ErrCreationFailed):
		return exitEngine
	case errors.Is(err, transport.ErrSetupFailed),
		errors.Is(err, transport.ErrStartFailed):
		return exitTransport
	default:
		return exitGeneral
	}
}

// usageArgs reports positional argument errors as usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
