package runtime

import (
	"strconv"
	"time"
)

// Mount is a host path bound into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// SandboxConfig is the engine-facing encoding of a permission profile. It is
// bound at container creation and never changes afterwards.
type SandboxConfig struct {
	Mounts []Mount
	// NetworkMode is "none" when the profile grants no network access.
	NetworkMode string
	CapDrop     []string
	CapAdd      []string
	SecurityOpt []string
}

// PortBinding publishes a container port on the host.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	// HostIP restricts the published port to one host interface. Empty
	// means all interfaces.
	HostIP string
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Image   string
	Name    string
	Args    []string
	Env     map[string]string
	Labels  map[string]string
	Sandbox SandboxConfig
	// AttachStdio keeps stdin open so the container's standard streams can
	// be attached after start.
	AttachStdio bool
	Ports       []PortBinding
}

// ContainerState mirrors engine container states.
type ContainerState string

const (
	StateRunning  ContainerState = "running"
	StateStopped  ContainerState = "stopped"
	StateExited   ContainerState = "exited"
	StateCreated  ContainerState = "created"
	StatePaused   ContainerState = "paused"
	StateRemoving ContainerState = "removing"
	StateUnknown  ContainerState = "unknown"
)

// Status is a point-in-time view of a container.
type Status struct {
	ContainerID string
	State       ContainerState
	StartedAt   time.Time
	FinishedAt  time.Time
	ExitCode    int
	Error       string
}

// ContainerInfo summarises a managed container found by List.
type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	State   ContainerState
	Created time.Time
	Labels  map[string]string
}

// Label keys attached to every managed container.
const (
	LabelManagedBy = "hako.managed-by"
	LabelName      = "hako.name"
	LabelTransport = "hako.transport"
	LabelPort      = "hako.port"

	ManagedByValue = "hako"
)

// ManagedLabels returns the label set marking a container as managed, named
// and bound to a transport.
func ManagedLabels(name, transport string, port int) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelName:      name,
		LabelTransport: transport,
		LabelPort:      strconv.Itoa(port),
	}
}

// IsManaged reports whether labels mark a hako-managed container.
func IsManaged(labels map[string]string) bool {
	return labels[LabelManagedBy] == ManagedByValue
}

// ServerName returns the declared server name from labels, falling back to
// the container name.
func (c ContainerInfo) ServerName() string {
	if n := c.Labels[LabelName]; n != "" {
		return n
	}
	return c.Name
}
