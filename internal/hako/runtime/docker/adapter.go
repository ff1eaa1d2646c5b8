// Package docker implements runtime.Runtime on the Docker Engine API. It also
// talks to Podman through its Docker-compatible socket.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/bdobrica/Hako/internal/hako/runtime"
)

// stopTimeout is how long to wait for graceful container stop before SIGKILL.
const stopTimeout = 10 * time.Second

// Provider mints Adapter handles. Every Create opens a new engine client.
type Provider struct {
	// Host is an engine URL such as unix:///run/podman/podman.sock. When
	// empty DOCKER_HOST is used, then the well-known sockets are probed.
	Host string
}

// Create connects to the engine.
func (p Provider) Create(ctx context.Context) (runtime.Runtime, error) {
	return New(ctx, p.Host)
}

// Adapter implements runtime.Runtime using the Docker Engine API.
type Adapter struct {
	client *dockerclient.Client
	host   string
}

// New connects to the engine at host and pings it. See Provider.Host for how
// an empty host is resolved.
func New(ctx context.Context, host string) (*Adapter, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	switch {
	case host != "":
		opts = append(opts, dockerclient.WithHost(host))
	case os.Getenv(dockerHostEnv) != "":
		opts = append(opts, dockerclient.FromEnv)
	default:
		home, _ := os.UserHomeDir()
		found, err := findSocket(os.Getenv, home, socketExists)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", runtime.ErrEngineUnavailable, err)
		}
		host = found
		opts = append(opts, dockerclient.WithHost(host))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: docker client: %v", runtime.ErrEngineUnavailable, err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", runtime.ErrEngineUnavailable, cli.DaemonHost(), err)
	}
	return &Adapter{client: cli, host: cli.DaemonHost()}, nil
}

// Host returns the engine URL the adapter talks to.
func (a *Adapter) Host() string { return a.host }

// CreateAndStart creates and starts a container from spec.
func (a *Adapter) CreateAndStart(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("%w: image is required", runtime.ErrCreationFailed)
	}

	containerCfg, hostCfg, err := buildConfig(spec)
	if err != nil {
		return "", fmt.Errorf("%w: %w", runtime.ErrCreationFailed, err)
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("%w: create container %s: %w", runtime.ErrCreationFailed, spec.Name, err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("engine warning", "name", spec.Name, "warning", w)
	}

	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup; a created-but-not-started container is never
		// handed back to the caller.
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("%w: start container %s: %w", runtime.ErrCreationFailed, spec.Name, err)
	}
	return resp.ID, nil
}

// ResolveAddress returns the first IP address the engine assigned.
func (a *Adapter) ResolveAddress(ctx context.Context, containerID string) (netip.Addr, error) {
	inspect, err := a.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: inspect %s: %w", runtime.ErrAddressUnresolved, runtime.ShortID(containerID), err)
	}
	addr, ok := addressFromInspect(inspect)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: %s has no network address", runtime.ErrAddressUnresolved, runtime.ShortID(containerID))
	}
	return addr, nil
}

// Attach connects to the container's stdin and demultiplexed stdout. Stderr
// is forwarded to the log.
func (a *Adapter) Attach(ctx context.Context, containerID string) (io.WriteCloser, io.ReadCloser, error) {
	resp, err := a.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", runtime.ErrAttachFailed, runtime.ShortID(containerID), err)
	}

	pr, pw := io.Pipe()
	stderr := &logWriter{container: runtime.ShortID(containerID)}
	go func() {
		_, err := stdcopy.StdCopy(pw, stderr, resp.Reader)
		stderr.flush()
		pw.CloseWithError(err)
	}()

	return &attachedStdin{resp: resp}, &attachedStdout{PipeReader: pr, resp: resp}, nil
}

type attachedStdin struct {
	resp types.HijackedResponse
}

func (w *attachedStdin) Write(p []byte) (int, error) { return w.resp.Conn.Write(p) }

// Close half-closes the connection so the container sees EOF on stdin.
func (w *attachedStdin) Close() error { return w.resp.CloseWrite() }

type attachedStdout struct {
	*io.PipeReader
	resp types.HijackedResponse
}

func (r *attachedStdout) Close() error {
	r.resp.Close()
	return r.PipeReader.Close()
}

// logWriter logs container stderr one line at a time.
type logWriter struct {
	container string
	buf       bytes.Buffer
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		if s := strings.TrimRight(line, "\r\n"); s != "" {
			slog.Debug("container stderr", "container", w.container, "line", s)
		}
	}
}

func (w *logWriter) flush() {
	if s := strings.TrimSpace(w.buf.String()); s != "" {
		slog.Debug("container stderr", "container", w.container, "line", s)
	}
	w.buf.Reset()
}

// Status returns the live state of a container.
func (a *Adapter) Status(ctx context.Context, containerID string) (runtime.Status, error) {
	inspect, err := a.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.Status{}, fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, runtime.ShortID(containerID))
		}
		return runtime.Status{}, fmt.Errorf("inspect container: %w", err)
	}
	return statusFromInspect(inspect), nil
}

// List returns all hako-managed containers, running or not.
func (a *Adapter) List(ctx context.Context) ([]runtime.ContainerInfo, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", runtime.LabelManagedBy+"="+runtime.ManagedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]runtime.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, runtime.ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   parseContainerState(c.State),
			Created: time.Unix(c.Created, 0),
			Labels:  c.Labels,
		})
	}
	return out, nil
}

// Logs returns the container's combined output.
func (a *Adapter) Logs(ctx context.Context, containerID string) (string, error) {
	rc, err := a.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return "", fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, runtime.ShortID(containerID))
		}
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), fmt.Errorf("read container logs: %w", err)
	}
	return buf.String(), nil
}

// Stop gracefully stops the container.
func (a *Adapter) Stop(ctx context.Context, containerID string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, runtime.ShortID(containerID))
		}
		return fmt.Errorf("stop container %s: %w", runtime.ShortID(containerID), err)
	}
	return nil
}

// Remove force-removes the container.
func (a *Adapter) Remove(ctx context.Context, containerID string) error {
	err := a.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", runtime.ShortID(containerID), err)
	}
	return nil
}

// ImageExists reports whether ref is present locally.
func (a *Adapter) ImageExists(ctx context.Context, ref string) (bool, error) {
	images, err := a.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, fmt.Errorf("list images: %w", err)
	}
	return len(images) > 0, nil
}

// PullImage pulls ref and waits for the pull to finish.
func (a *Adapter) PullImage(ctx context.Context, ref string) error {
	rc, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// Close releases the engine client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// --- helpers ---

func buildConfig(spec runtime.ContainerSpec) (*container.Config, *container.HostConfig, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Args,
		Env:    envList(spec.Env),
		Labels: spec.Labels,
	}
	if spec.AttachStdio {
		cfg.AttachStdin = true
		cfg.AttachStdout = true
		cfg.AttachStderr = true
		cfg.OpenStdin = true
	}

	sb := spec.Sandbox
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(sb.NetworkMode),
		CapDrop:     sb.CapDrop,
		CapAdd:      sb.CapAdd,
		SecurityOpt: sb.SecurityOpt,
		Mounts:      bindMounts(sb.Mounts),
	}

	if len(spec.Ports) > 0 {
		if hostCfg.NetworkMode.IsNone() {
			slog.Warn("port publishing ignored for container without network", "name", spec.Name)
			return cfg, hostCfg, nil
		}
		exposed, bindings, err := portConfig(spec.Ports)
		if err != nil {
			return nil, nil, err
		}
		cfg.ExposedPorts = exposed
		hostCfg.PortBindings = bindings
	}
	return cfg, hostCfg, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func bindMounts(mounts []runtime.Mount) []mount.Mount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:        mount.TypeBind,
			Source:      m.Source,
			Target:      m.Target,
			ReadOnly:    m.ReadOnly,
			BindOptions: &mount.BindOptions{CreateMountpoint: true},
		})
	}
	return out
}

func portConfig(ports []runtime.PortBinding) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port, err := nat.NewPort("tcp", strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %d: %w", p.ContainerPort, err)
		}
		exposed[port] = struct{}{}
		hostPort := p.HostPort
		if hostPort == 0 {
			hostPort = p.ContainerPort
		}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: strconv.Itoa(hostPort),
		})
	}
	return exposed, bindings, nil
}

func parseContainerState(s string) runtime.ContainerState {
	switch strings.ToLower(s) {
	case "running":
		return runtime.StateRunning
	case "stopped":
		return runtime.StateStopped
	case "exited", "dead":
		return runtime.StateExited
	case "created":
		return runtime.StateCreated
	case "paused":
		return runtime.StatePaused
	case "removing":
		return runtime.StateRemoving
	default:
		return runtime.StateUnknown
	}
}

func statusFromInspect(inspect types.ContainerJSON) runtime.Status {
	st := runtime.Status{State: runtime.StateUnknown}
	if inspect.ContainerJSONBase == nil {
		return st
	}
	st.ContainerID = inspect.ID
	if inspect.State == nil {
		return st
	}
	st.State = parseContainerState(inspect.State.Status)
	st.StartedAt, _ = time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	st.FinishedAt, _ = time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)
	st.ExitCode = inspect.State.ExitCode
	st.Error = inspect.State.Error
	return st
}

// addressFromInspect picks the container's address, preferring per-network
// endpoints in name order over the legacy default-bridge field.
func addressFromInspect(inspect types.ContainerJSON) (netip.Addr, bool) {
	ns := inspect.NetworkSettings
	if ns == nil {
		return netip.Addr{}, false
	}
	names := make([]string, 0, len(ns.Networks))
	for name := range ns.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ep := ns.Networks[name]
		if ep == nil {
			continue
		}
		if addr, err := netip.ParseAddr(ep.IPAddress); err == nil {
			return addr, true
		}
	}
	if addr, err := netip.ParseAddr(ns.IPAddress); err == nil {
		return addr, true
	}
	return netip.Addr{}, false
}

var (
	_ runtime.Runtime  = (*Adapter)(nil)
	_ runtime.Provider = Provider{}
)

