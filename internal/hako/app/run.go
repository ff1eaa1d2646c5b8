package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/kballard/go-shellquote"

	"github.com/bdobrica/Hako/common/trace"
	"github.com/bdobrica/Hako/internal/hako/audit"
	"github.com/bdobrica/Hako/internal/hako/config"
	"github.com/bdobrica/Hako/internal/hako/launch"
	"github.com/bdobrica/Hako/internal/hako/logging"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/store"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// DefaultTransport is used when neither the flag nor a stored default names
// a transport.
const DefaultTransport = transport.TokenSSE

// RunOptions describe one `hako run`.
type RunOptions struct {
	Request launch.Request
	// Keep leaves the container in place when the session closes.
	Keep bool
	// Detach hands the container off after launch instead of supervising
	// it. Only the sse transport can be detached: the stdio bridge lives in
	// this process.
	Detach bool
}

// ApplyDefaults fills the transport, port and permission profile of req
// from the stored run defaults where req leaves them unset.
func (a *App) ApplyDefaults(ctx context.Context, req *launch.Request) error {
	d, err := config.LoadRunDefaults(ctx, a.defaults)
	if err != nil {
		return err
	}
	if req.Transport == "" {
		req.Transport = d.Transport
	}
	if req.Transport == "" {
		req.Transport = DefaultTransport
	}
	if req.Port == 0 && req.Transport == transport.TokenSSE {
		req.Port = d.Port
	}
	if req.PermissionProfile == "" {
		req.PermissionProfile = d.PermissionProfile
	}
	return nil
}

// Start launches the server described by opts, records it in the registry
// and returns the session supervising it. The request and its permission
// profile are checked before the engine is contacted. On failure nothing is
// left running: a container created by a partially failed launch is removed.
func (a *App) Start(ctx context.Context, opts RunOptions) (*Session, error) {
	ctx = trace.Ensure(ctx)
	req := opts.Request
	log := logging.FromLogger(ctx, a.log).With("name", req.Name)

	fail := func(err error) (*Session, error) {
		a.notifier.Notify(ctx, audit.Event{
			Kind:    audit.KindLaunchFailed,
			Server:  req.Name,
			Image:   req.Image,
			Message: err.Error(),
		})
		return nil, err
	}

	plan, err := a.orch.Prepare(ctx, req)
	if err != nil {
		return fail(err)
	}
	if opts.Detach && req.Transport != transport.TokenSSE {
		return fail(fmt.Errorf("%w: --detach requires the %s transport", launch.ErrInvalidArgument, transport.TokenSSE))
	}
	if err := a.checkDuplicate(ctx, req.Name); err != nil {
		return fail(err)
	}
	if err := a.ensureImage(ctx, log, req.Image); err != nil {
		return fail(err)
	}

	res, err := a.orch.Execute(ctx, plan)
	if err != nil {
		if res != nil {
			a.discard(ctx, log, res)
		}
		return fail(err)
	}

	srv := &store.Server{
		Name:        res.Name,
		ContainerID: res.ContainerID,
		Image:       req.Image,
		Transport:   res.Mode.String(),
		Port:        res.Port,
		Profile:     req.PermissionProfile,
		Command:     shellquote.Join(req.Args...),
		Endpoint:    res.Transport.Endpoint(),
		Status:      store.StatusRunning,
	}
	if res.Address.IsValid() {
		srv.Address = res.Address.String()
	}
	if in, ok := res.Transport.(internalEndpointer); ok {
		srv.InternalEndpoint = in.InternalEndpoint()
	}
	if err := a.store.SaveServer(ctx, srv); err != nil {
		a.discard(ctx, log, res)
		return fail(err)
	}

	msg := "launched (" + srv.Transport
	if srv.Port != 0 {
		msg += " :" + strconv.Itoa(srv.Port)
	}
	msg += ")"
	a.notifier.Notify(ctx, audit.Event{
		Kind:        audit.KindServerLaunched,
		Server:      srv.Name,
		Image:       srv.Image,
		ContainerID: runtime.ShortID(srv.ContainerID),
		Message:     msg,
	})
	log.Info("server registered", "container", runtime.ShortID(srv.ContainerID), "endpoint", srv.Endpoint, "command", srv.Command)

	return &Session{app: a, traceID: trace.FromContext(ctx), res: res, server: srv, keep: opts.Keep, log: log}, nil
}

// internalEndpointer is implemented by transports reachable on the
// container network, such as transport.Network.
type internalEndpointer interface {
	InternalEndpoint() string
}

// checkDuplicate rejects names the registry records as live.
func (a *App) checkDuplicate(ctx context.Context, name string) error {
	srv, err := a.store.GetServer(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if srv.Status == store.StatusRunning || srv.Status == store.StatusStarting {
		return fmt.Errorf("%w: server %q is already %s (container %s)",
			launch.ErrInvalidArgument, name, srv.Status, runtime.ShortID(srv.ContainerID))
	}
	return nil
}

// ensureImage pulls image when the engine does not have it.
func (a *App) ensureImage(ctx context.Context, log *slog.Logger, image string) error {
	return a.withRuntime(ctx, func(rt runtime.Runtime) error {
		ok, err := rt.ImageExists(ctx, image)
		if err != nil {
			return fmt.Errorf("check image %s: %w", image, err)
		}
		if ok {
			return nil
		}
		log.Info("pulling image", "image", image)
		if err := rt.PullImage(ctx, image); err != nil {
			return fmt.Errorf("%w: pull image %s: %w", runtime.ErrCreationFailed, image, err)
		}
		return nil
	})
}

// discard tears down what a failed launch left behind.
func (a *App) discard(ctx context.Context, log *slog.Logger, res *launch.Result) {
	ctx = context.WithoutCancel(ctx)
	if res.Transport != nil {
		if err := res.Transport.Stop(ctx); err != nil {
			log.Warn("stop transport", "err", err)
		}
	}
	if res.Runtime == nil {
		return
	}
	defer func() {
		if err := res.Runtime.Close(); err != nil {
			log.Warn("close runtime", "err", err)
		}
	}()
	if res.ContainerID == "" {
		return
	}
	if err := res.Runtime.Stop(ctx, res.ContainerID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
		log.Warn("stop container", "container", runtime.ShortID(res.ContainerID), "err", err)
	}
	if err := res.Runtime.Remove(ctx, res.ContainerID); err != nil {
		log.Warn("remove container", "container", runtime.ShortID(res.ContainerID), "err", err)
	}
}

// Session supervises one launched server.
type Session struct {
	app     *App
	traceID string
	res     *launch.Result
	server  *store.Server
	keep    bool
	log     *slog.Logger

	once   sync.Once
	exited error
}

// Server returns the registry record of the session's server.
func (s *Session) Server() store.Server {
	return *s.server
}

// Result returns the launch result.
func (s *Session) Result() *launch.Result {
	return s.res
}

// Wait blocks until ctx is done, returning nil, or until the container stops
// on its own, returning an error wrapping runtime.ErrContainerExited.
func (s *Session) Wait(ctx context.Context) error {
	err := runtime.NewMonitor(s.res.Runtime, s.res.ContainerID, s.res.Name, s.app.monitorInterval).Watch(ctx)
	if err == nil {
		return nil
	}
	s.exited = err
	s.log.Warn("server exited", "err", err)
	if uerr := s.app.store.UpdateServerStatus(context.WithoutCancel(ctx), s.res.Name, store.StatusExited, err.Error()); uerr != nil {
		s.log.Warn("update server status", "err", uerr)
	}
	s.notify(audit.Event{
		Kind:        audit.KindServerExited,
		Server:      s.res.Name,
		ContainerID: runtime.ShortID(s.res.ContainerID),
		Message:     "exited unexpectedly",
	})
	return err
}

// Close stops the transport and the container and, unless the session keeps
// it, removes the container and its registry record. It is safe to call more
// than once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() { err = s.close(context.WithoutCancel(ctx)) })
	return err
}

func (s *Session) close(ctx context.Context) error {
	rt := s.res.Runtime
	var errs []error
	defer func() {
		if err := rt.Close(); err != nil {
			s.log.Warn("close runtime", "err", err)
		}
	}()

	if err := s.res.Transport.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop transport: %w", err))
	}
	if err := rt.Stop(ctx, s.res.ContainerID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
		errs = append(errs, fmt.Errorf("stop container: %w", err))
	}

	kind, msg := audit.KindServerStopped, "stopped"
	if s.keep {
		lastErr := ""
		if s.exited != nil {
			lastErr = s.exited.Error()
		}
		status := store.StatusStopped
		if s.exited != nil {
			status = store.StatusExited
		}
		if err := s.app.store.UpdateServerStatus(ctx, s.res.Name, status, lastErr); err != nil {
			errs = append(errs, err)
		}
	} else {
		if err := rt.Remove(ctx, s.res.ContainerID); err != nil {
			errs = append(errs, fmt.Errorf("remove container: %w", err))
		}
		if err := s.app.store.DeleteServer(ctx, s.res.Name); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
		}
		kind, msg = audit.KindServerRemoved, "stopped and removed"
	}

	s.notify(audit.Event{
		Kind:        kind,
		Server:      s.res.Name,
		ContainerID: runtime.ShortID(s.res.ContainerID),
		Message:     msg,
	})
	s.log.Info("session closed", "kept", s.keep)
	return errors.Join(errs...)
}

func (s *Session) notify(evt audit.Event) {
	evt.TraceID = s.traceID
	s.app.notifier.Notify(context.Background(), evt)
}

// Detach releases the session's handles and leaves the container running
// under the engine's supervision.
func (s *Session) Detach(ctx context.Context) error {
	if s.res.Mode != transport.ModeNetwork {
		return fmt.Errorf("%w: only %s servers can be detached", launch.ErrInvalidArgument, transport.TokenSSE)
	}
	var err error
	s.once.Do(func() {
		if serr := s.res.Transport.Stop(ctx); serr != nil {
			err = serr
		}
		if cerr := s.res.Runtime.Close(); cerr != nil {
			s.log.Warn("close runtime", "err", cerr)
		}
		s.log.Info("session detached", "container", runtime.ShortID(s.res.ContainerID))
	})
	return err
}
