// Package runtime defines the container engine abstraction used to launch MCP
// servers: a Provider that mints engine handles and the Runtime handle itself.
package runtime

import (
	"context"
	"io"
	"net/netip"
)

// Provider yields handles to a container engine. Each call returns an
// independent handle; callers own what they receive and must Close it.
type Provider interface {
	// Create connects to the engine. It fails with ErrEngineUnavailable when
	// no usable engine is reachable.
	Create(ctx context.Context) (Runtime, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Runtime, error)

// Create calls f.
func (f ProviderFunc) Create(ctx context.Context) (Runtime, error) {
	return f(ctx)
}

// Runtime is a handle to a container engine. Implementations must be safe for
// concurrent use.
type Runtime interface {
	// CreateAndStart creates a container from spec and starts it, returning
	// the engine-assigned container ID. Failures wrap ErrCreationFailed; a
	// container that was created but failed to start is removed.
	CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error)

	// ResolveAddress returns the container's network address. It fails with
	// ErrAddressUnresolved when the engine reports none.
	ResolveAddress(ctx context.Context, containerID string) (netip.Addr, error)

	// Attach connects to the container's standard streams. The container must
	// have been created with ContainerSpec.AttachStdio.
	Attach(ctx context.Context, containerID string) (io.WriteCloser, io.ReadCloser, error)

	// Status reports the container's live state.
	Status(ctx context.Context, containerID string) (Status, error)

	// List returns the containers carrying the managed-by label.
	List(ctx context.Context) ([]ContainerInfo, error)

	// Logs returns the container's combined stdout and stderr.
	Logs(ctx context.Context, containerID string) (string, error)

	// Stop stops the container, waiting a grace period before killing it.
	Stop(ctx context.Context, containerID string) error

	// Remove deletes the container. Removing a missing container is not an
	// error.
	Remove(ctx context.Context, containerID string) error

	// ImageExists reports whether the image is present locally.
	ImageExists(ctx context.Context, image string) (bool, error)

	// PullImage fetches the image from its registry.
	PullImage(ctx context.Context, image string) error

	// Close releases the engine connection.
	Close() error
}
