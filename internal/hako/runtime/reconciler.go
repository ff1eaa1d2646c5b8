package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/Hako/internal/hako/store"
)

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// AlertFunc is called when a server changes state unexpectedly. If nil,
	// issues are only logged.
	AlertFunc func(name, message string)
}

// Reconciler syncs live container state into the server registry.
type Reconciler struct {
	runtime Runtime
	store   *store.Store
	cfg     ReconcilerConfig
}

// NewReconciler creates a Reconciler.
func NewReconciler(rt Runtime, s *store.Store, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{runtime: rt, store: s, cfg: cfg}
}

// Reconcile runs a single pass: every registered server that is not known to
// be stopped is matched with its container and its status updated.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	servers, err := r.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	if len(servers) == 0 {
		return nil
	}

	containers, err := r.runtime.List(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	byID := make(map[string]ContainerInfo, len(containers))
	byName := make(map[string]ContainerInfo, len(containers))
	for _, c := range containers {
		byID[c.ID] = c
		byName[c.ServerName()] = c
	}

	for _, srv := range servers {
		if srv.Status == store.StatusStopped {
			continue
		}

		info, found := byID[srv.ContainerID]
		if !found {
			info, found = byName[srv.Name]
		}
		if !found {
			if srv.Status == store.StatusRunning || srv.Status == store.StatusStarting {
				slog.Warn("container missing", "name", srv.Name, "container", ShortID(srv.ContainerID))
				r.update(ctx, srv.Name, store.StatusError, "container missing; expected running")
				r.alert(srv.Name, "container missing; expected running")
			}
			continue
		}

		status, err := r.runtime.Status(ctx, info.ID)
		if err != nil {
			slog.Warn("status check failed", "name", srv.Name, "container", ShortID(info.ID), "err", err)
			continue
		}

		next := serverStatus(status.State)
		if next == srv.Status {
			continue
		}
		lastError := ""
		if next != store.StatusRunning {
			lastError = fmt.Sprintf("container %s (exit_code=%d)", status.State, status.ExitCode)
		}
		slog.Info("server status changed", "name", srv.Name, "from", srv.Status, "to", next)
		r.update(ctx, srv.Name, next, lastError)

		if srv.Status == store.StatusRunning {
			r.alert(srv.Name, fmt.Sprintf("unexpected status change: %s → %s (exit_code=%d)",
				srv.Status, next, status.ExitCode))
		}
	}
	return nil
}

func (r *Reconciler) update(ctx context.Context, name, status, lastError string) {
	if err := r.store.UpdateServerStatus(ctx, name, status, lastError); err != nil {
		slog.Warn("update server status", "name", name, "err", err)
	}
}

func (r *Reconciler) alert(name, message string) {
	if r.cfg.AlertFunc != nil {
		r.cfg.AlertFunc(name, message)
		return
	}
	slog.Warn("server alert", "name", name, "message", message)
}

func serverStatus(state ContainerState) string {
	switch state {
	case StateRunning:
		return store.StatusRunning
	case StateCreated:
		return store.StatusStarting
	case StateStopped, StateExited:
		return store.StatusExited
	default:
		return store.StatusError
	}
}
