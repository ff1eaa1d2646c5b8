package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdobrica/Hako/common/trace"
	"github.com/bdobrica/Hako/internal/hako/audit"
	"github.com/bdobrica/Hako/internal/hako/launch"
	"github.com/bdobrica/Hako/internal/hako/logging"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/store"
)

// ErrServerRunning is returned by Remove for a running server without force.
var ErrServerRunning = errors.New("server is running")

// List reconciles the registry with the engine and returns every recorded
// server, newest first. When the engine is unreachable the recorded statuses
// are returned as they are.
func (a *App) List(ctx context.Context) ([]*store.Server, error) {
	servers, err := a.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return servers, nil
	}

	err = a.withRuntime(ctx, func(rt runtime.Runtime) error {
		rec := runtime.NewReconciler(rt, a.store, runtime.ReconcilerConfig{
			AlertFunc: func(name, message string) {
				a.notifier.Notify(ctx, audit.Event{Kind: audit.KindServerExited, Server: name, Message: message})
			},
		})
		return rec.Reconcile(ctx)
	})
	if err != nil {
		logging.FromLogger(ctx, a.log).Warn("registry not reconciled; statuses may be stale", "err", err)
		return servers, nil
	}
	return a.store.ListServers(ctx)
}

// Stop stops the container of the server named or identified by ref. The
// record is kept with status stopped.
func (a *App) Stop(ctx context.Context, ref string) (*store.Server, error) {
	ctx = trace.Ensure(ctx)
	srv, err := a.store.FindServer(ctx, ref)
	if err != nil {
		return nil, err
	}
	log := logging.FromLogger(ctx, a.log).With("name", srv.Name, "container", runtime.ShortID(srv.ContainerID))

	err = a.withRuntime(ctx, func(rt runtime.Runtime) error {
		if err := rt.Stop(ctx, srv.ContainerID); err != nil {
			if errors.Is(err, runtime.ErrContainerNotFound) {
				log.Warn("container already gone")
				return nil
			}
			return fmt.Errorf("stop %s: %w", srv.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.UpdateServerStatus(ctx, srv.Name, store.StatusStopped, ""); err != nil {
		return nil, err
	}
	srv.Status = store.StatusStopped
	a.notifier.Notify(ctx, audit.Event{
		Kind:        audit.KindServerStopped,
		Server:      srv.Name,
		ContainerID: runtime.ShortID(srv.ContainerID),
		Message:     "stopped",
	})
	log.Info("server stopped")
	return srv, nil
}

// Remove deletes the container and the registry record of the server
// identified by ref. A server recorded as running is only removed with
// force, which stops it first.
func (a *App) Remove(ctx context.Context, ref string, force bool) (*store.Server, error) {
	ctx = trace.Ensure(ctx)
	srv, err := a.store.FindServer(ctx, ref)
	if err != nil {
		return nil, err
	}
	live := srv.Status == store.StatusRunning || srv.Status == store.StatusStarting
	if live && !force {
		return nil, fmt.Errorf("%w: %w: stop %s first or use --force", launch.ErrInvalidArgument, ErrServerRunning, srv.Name)
	}
	log := logging.FromLogger(ctx, a.log).With("name", srv.Name, "container", runtime.ShortID(srv.ContainerID))

	if srv.ContainerID != "" {
		err = a.withRuntime(ctx, func(rt runtime.Runtime) error {
			if live {
				if err := rt.Stop(ctx, srv.ContainerID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
					return fmt.Errorf("stop %s: %w", srv.Name, err)
				}
			}
			if err := rt.Remove(ctx, srv.ContainerID); err != nil {
				return fmt.Errorf("remove %s: %w", srv.Name, err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if err := a.store.DeleteServer(ctx, srv.Name); err != nil {
		return nil, err
	}
	a.notifier.Notify(ctx, audit.Event{
		Kind:        audit.KindServerRemoved,
		Server:      srv.Name,
		ContainerID: runtime.ShortID(srv.ContainerID),
		Message:     "removed",
	})
	log.Info("server removed")
	return srv, nil
}

// Logs returns the combined output of the server identified by ref.
func (a *App) Logs(ctx context.Context, ref string) (string, error) {
	srv, err := a.store.FindServer(ctx, ref)
	if err != nil {
		return "", err
	}
	var logs string
	err = a.withRuntime(ctx, func(rt runtime.Runtime) error {
		logs, err = rt.Logs(ctx, srv.ContainerID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", srv.Name, err)
	}
	return logs, nil
}
