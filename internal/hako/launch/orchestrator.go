// Package launch sequences a server launch: it validates the request,
// translates the permission profile, creates the container and wires the
// transport to it.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"

	"github.com/bdobrica/Hako/common/redact"
	"github.com/bdobrica/Hako/common/trace"
	"github.com/bdobrica/Hako/internal/hako/logging"
	"github.com/bdobrica/Hako/internal/hako/permissions"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// ProfileResolver resolves permission profile selectors.
type ProfileResolver interface {
	Resolve(selector string) (*permissions.Profile, error)
}

// SandboxTranslator turns a profile into sandbox configuration.
type SandboxTranslator interface {
	Translate(p *permissions.Profile) runtime.SandboxConfig
}

// Config wires an Orchestrator.
type Config struct {
	Runtimes   runtime.Provider
	Transports transport.Provider
	// Profiles defaults to a permissions.Resolver reading local files.
	Profiles ProfileResolver
	// Sandbox defaults to a permissions.Translator without a base
	// directory.
	Sandbox SandboxTranslator
	// PublishHost restricts published network ports to one host address.
	// Empty publishes on all interfaces.
	PublishHost string
	Logger      *slog.Logger
}

// Orchestrator launches servers. It holds no per-launch state, so one
// Orchestrator may serve concurrent launches as long as its providers allow
// it.
type Orchestrator struct {
	runtimes    runtime.Provider
	transports  transport.Provider
	profiles    ProfileResolver
	sandbox     SandboxTranslator
	publishHost string
	log         *slog.Logger
}

// New returns an Orchestrator. Runtimes and Transports are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runtimes == nil {
		return nil, errors.New("launch: runtime provider is required")
	}
	if cfg.Transports == nil {
		return nil, errors.New("launch: transport provider is required")
	}
	o := &Orchestrator{
		runtimes:    cfg.Runtimes,
		transports:  cfg.Transports,
		profiles:    cfg.Profiles,
		sandbox:     cfg.Sandbox,
		publishHost: cfg.PublishHost,
		log:         cfg.Logger,
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.profiles == nil {
		o.profiles = permissions.Resolver{}
	}
	if o.sandbox == nil {
		o.sandbox = permissions.Translator{Logger: o.log}
	}
	return o, nil
}

// Plan is a request that passed validation, with its permission profile
// resolved and translated. It is produced by Prepare and consumed by
// Execute.
type Plan struct {
	req     validated
	sandbox runtime.SandboxConfig
}

// Launch runs the launch sequence for req: Prepare, then Execute. Every
// error is a *Error. When the failure happens after the container was
// created the returned Result is non-nil and carries the container ID and
// the handles the caller must release; the container is not removed.
func (o *Orchestrator) Launch(ctx context.Context, req Request) (*Result, error) {
	ctx = trace.Ensure(ctx)
	plan, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan)
}

// Prepare validates req, resolves its permission profile and translates it
// into sandbox configuration. It allocates nothing.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Plan, error) {
	log := logging.FromLogger(ctx, o.log).With("name", req.Name)
	fail := func(err error) error {
		log.Error("launch failed", "stage", StageValidate.String(), "err", err)
		return &Error{Stage: StageValidate, Name: req.Name, Err: err}
	}

	// 1. Validate.
	v, err := validate(req)
	if err != nil {
		return nil, fail(err)
	}
	profile, err := o.profiles.Resolve(v.profile)
	if err != nil {
		return nil, fail(err)
	}
	sandbox := o.sandbox.Translate(profile)
	if v.mode == transport.ModeNetwork && sandbox.NetworkMode == permissions.NetworkNone {
		return nil, fail(fmt.Errorf("%w: permission profile %q grants no network, which the %s transport needs",
			ErrInvalidArgument, v.profile, transport.TokenSSE))
	}
	log.Debug("sandbox resolved", "profile", v.profile, "network", sandbox.NetworkMode, "mounts", len(sandbox.Mounts))
	return &Plan{req: v, sandbox: sandbox}, nil
}

// Execute runs a prepared plan: it acquires the providers, creates the
// container and wires the transport to it. Errors and the partial Result
// follow Launch.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	ctx = trace.Ensure(ctx)
	v, sandbox := plan.req, plan.sandbox
	log := logging.FromLogger(ctx, o.log).With("name", v.Name)

	fail := func(stage Stage, err error) error {
		log.Error("launch failed", "stage", stage.String(), "err", err)
		return &Error{Stage: stage, Name: v.Name, Err: err}
	}
	closeRuntime := func(rt runtime.Runtime) {
		if err := rt.Close(); err != nil {
			log.Warn("close runtime", "err", err)
		}
	}

	// 2. Acquire providers.
	rt, err := o.runtimes.Create(ctx)
	if err != nil {
		return nil, fail(StageAcquire, ensure(err, runtime.ErrEngineUnavailable))
	}
	tr, err := o.transports.Create(v.mode, v.Port)
	if err != nil {
		closeRuntime(rt)
		return nil, fail(StageAcquire, ensure(err, transport.ErrSetupFailed))
	}

	// release undoes acquisition for failures before the container exists.
	release := func(rt runtime.Runtime) {
		if err := tr.Stop(ctx); err != nil {
			log.Warn("stop transport", "err", err)
		}
		if rt != nil {
			closeRuntime(rt)
		}
	}

	// 3. Pre-bind. The stream transport takes ownership of the first
	// runtime handle; lifecycle calls go through a fresh one.
	if v.mode == transport.ModeStream {
		bound, err := tr.WithRuntime(rt)
		if err != nil {
			release(rt)
			return nil, fail(StagePreBind, ensure(err, transport.ErrSetupFailed))
		}
		tr = bound
		rt, err = o.runtimes.Create(ctx)
		if err != nil {
			release(nil)
			return nil, fail(StagePreBind, ensure(err, runtime.ErrEngineUnavailable))
		}
	}

	// 4. Pre-setup.
	if err := tr.Setup(ctx, transport.PreSetup(v.Name, v.Port, v.Env)); err != nil {
		release(rt)
		return nil, fail(StagePreSetup, ensure(err, transport.ErrSetupFailed))
	}

	// 5. Create and start.
	spec := runtime.ContainerSpec{
		Image:       v.Image,
		Name:        v.Name,
		Args:        slices.Clone(v.Args),
		Env:         v.Env,
		Labels:      runtime.ManagedLabels(v.Name, v.mode.String(), v.Port),
		Sandbox:     sandbox,
		AttachStdio: v.mode == transport.ModeStream,
	}
	if v.mode == transport.ModeNetwork {
		spec.Ports = []runtime.PortBinding{{ContainerPort: v.Port, HostPort: v.Port, HostIP: o.publishHost}}
	}
	log.Debug("creating container", "image", spec.Image, "env", redact.Env(spec.Env))

	containerID, err := rt.CreateAndStart(ctx, spec)
	if err != nil {
		release(rt)
		return nil, fail(StageCreate, ensure(err, runtime.ErrCreationFailed))
	}
	log = log.With("container", runtime.ShortID(containerID))
	log.Info("container started", "image", spec.Image, "transport", v.mode.String())

	result := &Result{
		Name:        v.Name,
		ContainerID: containerID,
		Mode:        v.mode,
		Port:        v.Port,
		Transport:   tr,
		Runtime:     rt,
	}
	failRunning := func(stage Stage, err error) error {
		log.Error("launch failed, container left running", "stage", stage.String(), "err", err)
		return &Error{Stage: stage, Name: v.Name, ContainerID: containerID, Err: err}
	}

	// 6. Resolve address, best effort.
	addr, err := rt.ResolveAddress(ctx, containerID)
	if err != nil {
		log.Warn("container address unresolved", "err", err)
		addr = netip.Addr{}
	}
	result.Address = addr

	// 7. Post-setup.
	if err := tr.Setup(ctx, transport.PostSetup(containerID, v.Name, v.Port, addr)); err != nil {
		return result, failRunning(StagePostSetup, ensure(err, transport.ErrSetupFailed))
	}

	// 8. Start transport.
	if err := tr.Start(ctx); err != nil {
		return result, failRunning(StageStart, ensure(err, transport.ErrStartFailed))
	}

	log.Info("server launched", "endpoint", tr.Endpoint())
	return result, nil
}
