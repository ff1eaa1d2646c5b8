package runtime

import "errors"

var (
	// ErrEngineUnavailable means no container engine could be reached.
	ErrEngineUnavailable = errors.New("container engine unavailable")

	// ErrCreationFailed means a container could not be created or started.
	ErrCreationFailed = errors.New("container creation failed")

	// ErrAddressUnresolved means the engine reported no network address for
	// the container.
	ErrAddressUnresolved = errors.New("container address unresolved")

	// ErrContainerNotFound means the engine has no container with that ID.
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerNotRunning means the operation needs a running container.
	ErrContainerNotRunning = errors.New("container not running")

	// ErrAttachFailed means the container's streams could not be attached.
	ErrAttachFailed = errors.New("attach to container failed")

	// ErrContainerExited is reported by Monitor when a watched container
	// stops unexpectedly.
	ErrContainerExited = errors.New("container exited unexpectedly")
)
