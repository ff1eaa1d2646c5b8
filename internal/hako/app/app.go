// Package app wires the registry, container engine, transports and audit
// notices into the operations behind the hako CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bdobrica/Hako/common/retry"
	"github.com/bdobrica/Hako/internal/hako/audit"
	"github.com/bdobrica/Hako/internal/hako/config"
	"github.com/bdobrica/Hako/internal/hako/launch"
	"github.com/bdobrica/Hako/internal/hako/matrix"
	"github.com/bdobrica/Hako/internal/hako/permissions"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/runtime/docker"
	"github.com/bdobrica/Hako/internal/hako/store"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// Config holds the collaborators of an App. Store, Runtimes and Transports
// are required.
type Config struct {
	Store      *store.Store
	Runtimes   runtime.Provider
	Transports transport.Provider
	// Profiles and Sandbox default to the permissions package
	// implementations.
	Profiles launch.ProfileResolver
	Sandbox  launch.SandboxTranslator
	// Notifier defaults to audit.Noop.
	Notifier    audit.Notifier
	PublishHost string
	// MonitorInterval is how often a foreground session polls its
	// container. Zero uses runtime.DefaultMonitorInterval.
	MonitorInterval time.Duration
	Logger          *slog.Logger
}

// App is the hako application.
type App struct {
	store           *store.Store
	defaults        config.Store
	runtimes        runtime.Provider
	orch            *launch.Orchestrator
	notifier        audit.Notifier
	monitorInterval time.Duration
	log             *slog.Logger
}

// New creates an App from cfg.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	orch, err := launch.New(launch.Config{
		Runtimes:    cfg.Runtimes,
		Transports:  cfg.Transports,
		Profiles:    cfg.Profiles,
		Sandbox:     cfg.Sandbox,
		PublishHost: cfg.PublishHost,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = audit.Noop{}
	}
	return &App{
		store:           cfg.Store,
		defaults:        config.New(cfg.Store),
		runtimes:        cfg.Runtimes,
		orch:            orch,
		notifier:        notifier,
		monitorInterval: cfg.MonitorInterval,
		log:             log,
	}, nil
}

// Open builds an App from process settings: it opens the registry, targets
// the Docker-compatible engine and enables Matrix audit notices when
// configured. The caller must Close the App.
func Open(s config.Settings, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := store.New(s.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	notifier := audit.Notifier(audit.Noop{})
	if s.Matrix.Enabled() {
		client, err := matrix.New(matrix.Config{
			Homeserver:  s.Matrix.Homeserver,
			UserID:      s.Matrix.UserID,
			AccessToken: s.Matrix.AccessToken,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		notifier = audit.NewMatrixNotifier(&roomSender{client: client}, s.Matrix.AuditRoom)
		log.Debug("audit notices enabled", "room", s.Matrix.AuditRoom, "user", client.UserID())
	}

	baseDir, err := os.Getwd()
	if err != nil {
		baseDir = ""
	}

	a, err := New(Config{
		Store:    db,
		Runtimes: docker.Provider{Host: s.Runtime.DockerHost},
		Transports: transport.Factory{
			Host: s.Runtime.PublishHost,
			Probe: &retry.Policy{
				Attempts: s.Runtime.ProbeAttempts,
				Delay:    s.Runtime.ProbeInterval.Duration,
			},
			Logger: log,
		},
		Sandbox:         permissions.Translator{BaseDir: baseDir, Logger: log},
		Notifier:        notifier,
		PublishHost:     s.Runtime.PublishHost,
		MonitorInterval: s.Runtime.MonitorInterval.Duration,
		Logger:          log,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the registry.
func (a *App) Close() error {
	return a.store.Close()
}

// Defaults returns the run defaults store.
func (a *App) Defaults() config.Store {
	return a.defaults
}

// withRuntime acquires a runtime handle for the duration of fn.
func (a *App) withRuntime(ctx context.Context, fn func(rt runtime.Runtime) error) error {
	rt, err := a.runtimes.Create(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// roomSender joins the audit room before its first notice.
type roomSender struct {
	client *matrix.Client
	once   sync.Once
}

func (r *roomSender) SendNotice(ctx context.Context, roomID, message string) error {
	r.once.Do(func() {
		if err := r.client.JoinRoom(ctx, roomID); err != nil {
			slog.Warn("audit: join room failed", "room", roomID, "err", err)
		}
	})
	return r.client.SendNotice(ctx, roomID, message)
}
