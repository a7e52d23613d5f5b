// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package extension is the extension host: it loads stored packages,
// activates them through a language runtime, hands each one a
// capability-scoped Context and revokes everything an extension
// contributed when it is deactivated.
package extension

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/quire-editor/quire/internal/capability"
	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/internal/resource"
	"github.com/quire-editor/quire/internal/settings"
	"github.com/quire-editor/quire/internal/shortcut"
	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/internal/workspace"
	"github.com/quire-editor/quire/pkg/errutil"
)

var tracer = otel.Tracer("quire/extension")

// Defaults applied by New.
const (
	DefaultHandlerTimeout           = 5 * time.Second
	DefaultMaxConcurrentActivations = 8
)

// Options configures a Host.
type Options struct {
	Logger *slog.Logger
	// Policy decides which declared capabilities are granted. Nil grants
	// everything an extension declares.
	Policy *capability.Policy
	// Runtimes executes extension code, one per manifest type.
	Runtimes []Runtime
	// Settings persists host and extension settings. Nil keeps them in
	// memory.
	Settings *settings.Store
	// KV backs the storage facility. Nil uses an in-memory store.
	KV store.KVStore
	// ActivationTimeout bounds one activation. Zero means no limit.
	ActivationTimeout time.Duration
	// HandlerTimeout bounds each command run and event handler call.
	// Zero uses DefaultHandlerTimeout; negative disables the limit.
	HandlerTimeout time.Duration
	// MaxConcurrentActivations limits parallel activations in LoadAll.
	MaxConcurrentActivations int
	// CompatShim exposes the legacy Vault facility on every Context.
	CompatShim bool
}

// Status is a point-in-time view of one installed extension.
type Status struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Version     string                `json:"version"`
	Description string                `json:"description,omitempty"`
	Author      string                `json:"author,omitempty"`
	Type        manifest.Type         `json:"type"`
	Enabled     bool                  `json:"enabled"`
	State       State                 `json:"state"`
	Error       string                `json:"error,omitempty"`
	Permissions []manifest.Capability `json:"permissions,omitempty"`
	Granted     []manifest.Capability `json:"granted,omitempty"`
	Digest      string                `json:"digest,omitempty"`
}

// record is the host's bookkeeping for one installed extension. op
// serializes lifecycle operations on the extension; mu guards the fields.
type record struct {
	id string
	op sync.Mutex

	mu        sync.Mutex
	m         *manifest.Manifest
	digest    string
	enabled   bool
	state     State
	lastErr   error
	instance  Instance
	ctx       *Context
	disposers dispose.Stack
}

func (r *record) snapshot() (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.enabled
}

// Host owns the registries, the event bus and every loaded extension.
type Host struct {
	opts       Options
	logger     *slog.Logger
	policy     capability.Policy
	repo       *resource.Repository
	regs       *registry.Set
	bus        *eventbus.Bus
	enforcer   *capability.Enforcer
	settings   *settings.Store
	kv         store.KVStore
	runtimes   map[manifest.Type]Runtime
	dispatcher *shortcut.Dispatcher

	mu       sync.RWMutex
	records  map[string]*record
	order    []string
	degraded error
	closed   bool

	vault    atomic.Pointer[workspace.Vault]
	inflight sync.WaitGroup
	watchers dispose.Stack
}

// New creates a Host over repo. It does not load anything; call LoadAll.
func New(repo *resource.Repository, opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HandlerTimeout == 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.MaxConcurrentActivations <= 0 {
		opts.MaxConcurrentActivations = DefaultMaxConcurrentActivations
	}
	policy := capability.AllowAll()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	st := opts.Settings
	if st == nil {
		st, _ = settings.Load("")
	}
	kv := opts.KV
	if kv == nil {
		kv = store.NewMemoryStore()
	}

	logger := opts.Logger.With("component", "extension-host")
	h := &Host{
		opts:     opts,
		logger:   logger,
		policy:   policy,
		repo:     repo,
		regs:     registry.NewSet(logger),
		bus:      eventbus.New(logger),
		enforcer: capability.NewEnforcer(),
		settings: st,
		kv:       kv,
		runtimes: make(map[manifest.Type]Runtime, len(opts.Runtimes)),
		records:  make(map[string]*record),
	}
	for _, rt := range opts.Runtimes {
		h.runtimes[rt.Type()] = rt
	}
	h.dispatcher = shortcut.NewDispatcher(h.regs.Commands, h.ExecuteCommand, logger)

	h.watchers.Push(watchSize(h.regs.Commands))
	h.watchers.Push(watchSize(h.regs.Panels))
	h.watchers.Push(watchSize(h.regs.Sidebar))
	h.watchers.Push(watchSize(h.regs.StatusBar))
	h.watchers.Push(watchSize(h.regs.Toolbar))
	h.watchers.Push(h.regs.Commands.Subscribe(func(ch registry.Change[registry.Command]) {
		if ch.Kind == registry.Removed {
			h.regs.Recent.Forget(ch.ID)
		}
	}))
	return h
}

func watchSize[T registry.Entry](r *registry.Registry[T]) dispose.Func {
	RegistryEntries.WithLabelValues(r.Name()).Set(float64(r.Len()))
	return r.Subscribe(func(ch registry.Change[T]) {
		RegistryEntries.WithLabelValues(r.Name()).Set(float64(len(ch.Snapshot.Items)))
	})
}

// Registries returns the UI registries.
func (h *Host) Registries() *registry.Set { return h.regs }

// Bus returns the event bus.
func (h *Host) Bus() *eventbus.Bus { return h.bus }

// Settings returns the settings store.
func (h *Host) Settings() *settings.Store { return h.settings }

// Repository returns the resource repository.
func (h *Host) Repository() *resource.Repository { return h.repo }

// Dispatcher returns the keyboard shortcut dispatcher.
func (h *Host) Dispatcher() *shortcut.Dispatcher { return h.dispatcher }

// Degraded returns the storage error from the last LoadAll, or nil.
func (h *Host) Degraded() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.degraded
}

// Vault returns the open workspace, or nil.
func (h *Host) Vault() *workspace.Vault { return h.vault.Load() }

// SetVault replaces the open workspace without announcing it and closes
// the previous one.
func (h *Host) SetVault(v *workspace.Vault) {
	if old := h.vault.Swap(v); old != nil && old != v {
		if err := old.Close(); err != nil {
			errutil.LogWarn(h.logger, "closing previous vault", err, "dir", old.Root())
		}
	}
}

// OpenVault opens dir as the workspace, records it as the last opened
// folder and emits workspace-opened.
func (h *Host) OpenVault(ctx context.Context, dir string) (*workspace.Vault, error) {
	v, err := workspace.New(dir, h.bus)
	if err != nil {
		return nil, err
	}
	h.SetVault(v)
	if err := h.settings.SetLastOpenedFolder(dir); err != nil {
		errutil.LogWarn(h.logger, "recording last opened folder", err, "dir", dir)
	}
	v.Announce(ctx)
	return v, nil
}

// handlerContext applies the handler timeout unless ctx already carries a
// deadline.
func (h *Host) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.opts.HandlerTimeout < 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.opts.HandlerTimeout)
}

func (h *Host) checkOpen() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return oops.In("extension").Code(CodeHostClosed).New("extension host is closed")
	}
	return nil
}

func (h *Host) get(id string) (*record, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, oops.In("extension").Code(CodeHostClosed).New("extension host is closed")
	}
	rec, ok := h.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return rec, nil
}

func (h *Host) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, id)
	h.order = slices.DeleteFunc(h.order, func(s string) bool { return s == id })
}

func (h *Host) grant(m *manifest.Manifest) error {
	return h.enforcer.SetGrants(m.ID, m.Permissions, h.policy.PatternsFor(m.ID))
}

// InstallOption configures Install.
type InstallOption func(*installOptions)

type installOptions struct {
	disabled bool
}

// InstallDisabled stores the package without activating it.
func InstallDisabled() InstallOption {
	return func(o *installOptions) { o.disabled = true }
}

// Install validates and persists a new package, then activates it unless
// InstallDisabled is given. A package that stores but fails to activate is
// still installed: the returned Status is in StateError and err is nil.
func (h *Host) Install(ctx context.Context, pkg *resource.PackageFile, opts ...InstallOption) (Status, error) {
	if err := h.checkOpen(); err != nil {
		return Status{}, err
	}
	var o installOptions
	for _, opt := range opts {
		opt(&o)
	}
	raw, err := pkg.ManifestBytes()
	if err != nil {
		return Status{}, err
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return Status{}, err
	}

	h.mu.Lock()
	if err := manifest.ValidateUnique(m, func(id string) bool {
		_, ok := h.records[id]
		return ok
	}); err != nil {
		h.mu.Unlock()
		return Status{}, err
	}
	// Reserve the id so a concurrent install of the same id is rejected.
	rec := &record{id: m.ID, m: m, enabled: !o.disabled, state: StateUnloaded}
	rec.op.Lock()
	defer rec.op.Unlock()
	h.records[m.ID] = rec
	h.order = append(h.order, m.ID)
	h.mu.Unlock()

	var storeOpts []resource.StoreOption
	if o.disabled {
		storeOpts = append(storeOpts, resource.Disabled())
	}
	stored, err := h.repo.StorePackage(ctx, m.ID, raw, pkg.CodeText, pkg.Resources, storeOpts...)
	if err != nil {
		h.forget(m.ID)
		return Status{}, err
	}
	rec.mu.Lock()
	rec.digest = stored.Digest
	rec.mu.Unlock()
	if err := h.grant(m); err != nil {
		errutil.LogWarn(h.logger, "invalid grant patterns", err, "extension", m.ID)
	}
	h.logger.Info("extension installed", "extension", m.ID, "version", m.Version)

	if o.disabled {
		h.setState(rec, StateDeactivated, nil)
		return h.status(rec), nil
	}
	_ = h.activateLocked(ctx, rec)
	return h.status(rec), nil
}

// Update replaces the package of an installed extension. Installing an
// older version fails with VERSION_DOWNGRADE. An active extension is
// deactivated and activated again with the new code.
func (h *Host) Update(ctx context.Context, pkg *resource.PackageFile) (Status, error) {
	raw, err := pkg.ManifestBytes()
	if err != nil {
		return Status{}, err
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return Status{}, err
	}
	rec, err := h.get(m.ID)
	if err != nil {
		return Status{}, err
	}
	rec.op.Lock()
	defer rec.op.Unlock()

	rec.mu.Lock()
	oldVersion := rec.m.Version
	state, enabled := rec.state, rec.enabled
	rec.mu.Unlock()

	if prev, perr := semver.NewVersion(oldVersion); perr == nil {
		if next, nerr := semver.NewVersion(m.Version); nerr == nil && next.LessThan(prev) {
			return Status{}, oops.In("extension").Code(CodeVersionDowngrade).
				With("extension", m.ID).
				With("installed", oldVersion).
				With("version", m.Version).
				Hint("uninstall first to install an older version").
				Errorf("%s: %s is older than installed %s", m.ID, m.Version, oldVersion)
		}
	}

	var storeOpts []resource.StoreOption
	if !enabled {
		storeOpts = append(storeOpts, resource.Disabled())
	}
	stored, err := h.repo.StorePackage(ctx, m.ID, raw, pkg.CodeText, pkg.Resources, storeOpts...)
	if err != nil {
		return Status{}, err
	}
	rec.mu.Lock()
	rec.m = m
	rec.digest = stored.Digest
	rec.mu.Unlock()
	if err := h.grant(m); err != nil {
		errutil.LogWarn(h.logger, "invalid grant patterns", err, "extension", m.ID)
	}
	h.logger.Info("extension updated", "extension", m.ID, "from", oldVersion, "to", m.Version)

	switch {
	case state == StateActivated:
		h.teardownLocked(ctx, rec)
		_ = h.activateLocked(ctx, rec)
	case state == StateError && enabled:
		_ = h.activateLocked(ctx, rec)
	}
	return h.status(rec), nil
}

// Uninstall deactivates the extension and deletes its package, storage
// namespace, settings and grants.
func (h *Host) Uninstall(ctx context.Context, id string) error {
	rec, err := h.get(id)
	if err != nil {
		return err
	}
	rec.op.Lock()
	defer rec.op.Unlock()

	h.deactivateLocked(ctx, rec)
	if err := h.repo.Delete(ctx, id); err != nil && !store.IsNotFound(err) {
		return err
	}
	if err := h.kv.DeleteNamespace(ctx, id); err != nil {
		errutil.LogWarn(h.logger, "deleting extension storage", err, "extension", id)
	}
	if err := h.settings.DeleteExtension(id); err != nil {
		errutil.LogWarn(h.logger, "deleting extension settings", err, "extension", id)
	}
	h.enforcer.RemoveGrants(id)
	h.setState(rec, StateUninstalled, nil)
	h.forget(id)
	h.logger.Info("extension uninstalled", "extension", id)
	return nil
}

// Enable persists enabled=true and activates the extension.
func (h *Host) Enable(ctx context.Context, id string) error {
	rec, err := h.get(id)
	if err != nil {
		return err
	}
	rec.op.Lock()
	defer rec.op.Unlock()

	if state, _ := rec.snapshot(); state == StateActivated {
		return nil
	}
	if err := h.repo.SetEnabled(ctx, id, true); err != nil {
		return err
	}
	rec.mu.Lock()
	rec.enabled = true
	rec.mu.Unlock()
	return h.activateLocked(ctx, rec)
}

// Disable persists enabled=false and deactivates the extension. Every
// command, panel, sidebar item, status bar item, toolbar item and event
// subscription it registered is gone when Disable returns.
func (h *Host) Disable(ctx context.Context, id string) error {
	rec, err := h.get(id)
	if err != nil {
		return err
	}
	rec.op.Lock()
	defer rec.op.Unlock()

	if err := h.repo.SetEnabled(ctx, id, false); err != nil {
		return err
	}
	rec.mu.Lock()
	rec.enabled = false
	rec.mu.Unlock()
	h.deactivateLocked(ctx, rec)
	return nil
}

// Retry activates an extension that is in StateError.
func (h *Host) Retry(ctx context.Context, id string) error {
	rec, err := h.get(id)
	if err != nil {
		return err
	}
	rec.op.Lock()
	defer rec.op.Unlock()

	if state, _ := rec.snapshot(); state != StateError {
		return invalidTransition(id, state, StateLoading)
	}
	return h.activateLocked(ctx, rec)
}

// LoadAll reads every stored package and activates the enabled ones in the
// background. A storage failure leaves the host running with no
// extensions: it is logged, reported by Degraded and LoadAll returns nil.
// Call Wait to block until background activations finish.
func (h *Host) LoadAll(ctx context.Context) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	infos, err := h.repo.List(ctx)
	if err != nil {
		h.mu.Lock()
		h.degraded = err
		h.mu.Unlock()
		errutil.LogError(h.logger, "extension storage unavailable, continuing without extensions", err)
		return nil
	}

	var (
		pending []*record
		parsed  []*manifest.Manifest
	)
	h.mu.Lock()
	h.degraded = nil
	for _, info := range infos {
		if _, ok := h.records[info.ExtensionID]; ok {
			continue
		}
		rec := &record{id: info.ExtensionID, enabled: info.Enabled, digest: info.Digest}
		m, perr := manifest.Parse(info.Manifest)
		switch {
		case perr != nil:
			rec.m = &manifest.Manifest{ID: info.ExtensionID, Name: info.ExtensionID}
			rec.state = StateError
			rec.lastErr = perr
			errutil.LogWarn(h.logger, "stored extension has an invalid manifest", perr, "extension", info.ExtensionID)
		case m.ID != info.ExtensionID:
			rec.m = &manifest.Manifest{ID: info.ExtensionID, Name: info.ExtensionID}
			rec.state = StateError
			rec.lastErr = manifest.ErrInvalid(info.ExtensionID, "manifest id "+m.ID+" does not match stored id")
			errutil.LogWarn(h.logger, "stored extension has a mismatched manifest", rec.lastErr, "extension", info.ExtensionID)
		default:
			rec.m = m
			parsed = append(parsed, m)
			if info.Enabled {
				rec.state = StateUnloaded
				pending = append(pending, rec)
			} else {
				rec.state = StateDeactivated
			}
		}
		h.records[rec.id] = rec
		h.order = append(h.order, rec.id)
	}
	h.mu.Unlock()

	for _, m := range parsed {
		if err := h.grant(m); err != nil {
			errutil.LogWarn(h.logger, "invalid grant patterns", err, "extension", m.ID)
		}
	}
	h.logger.Info("extensions loaded", "installed", len(infos), "activating", len(pending))
	if len(pending) == 0 {
		return nil
	}

	actx := context.WithoutCancel(ctx)
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		var g errgroup.Group
		g.SetLimit(h.opts.MaxConcurrentActivations)
		for _, rec := range pending {
			g.Go(func() error {
				rec.op.Lock()
				defer rec.op.Unlock()
				// Enable, Disable or Uninstall may have run first.
				if state, enabled := rec.snapshot(); state != StateUnloaded || !enabled {
					return nil
				}
				_ = h.activateLocked(actx, rec)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return nil
}

// Wait blocks until background activations started by LoadAll finish.
func (h *Host) Wait() { h.inflight.Wait() }

func (h *Host) setState(rec *record, to State, err error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.state = to
	rec.lastErr = err
}

// activateLocked runs the activation protocol. rec.op must be held.
func (h *Host) activateLocked(ctx context.Context, rec *record) error {
	from, _ := rec.snapshot()
	if !CanTransition(from, StateLoading) {
		return invalidTransition(rec.id, from, StateLoading)
	}
	h.setState(rec, StateLoading, nil)

	ctx, span := tracer.Start(ctx, "extension.activate",
		trace.WithAttributes(attribute.String("extension.id", rec.id)))
	defer span.End()

	if h.opts.ActivationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.ActivationTimeout)
		defer cancel()
	}
	start := time.Now()
	inst, c, err := h.start(ctx, rec)
	elapsed := time.Since(start)
	ActivationDuration.Observe(elapsed.Seconds())
	if err != nil {
		Activations.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.setState(rec, StateError, err)
		errutil.LogError(h.logger, "extension activation failed", err, "extension", rec.id)
		return err
	}
	Activations.WithLabelValues("ok").Inc()

	rec.mu.Lock()
	rec.instance = inst
	rec.ctx = c
	rec.state = StateActivated
	rec.lastErr = nil
	rec.mu.Unlock()
	h.logger.Info("extension activated", "extension", rec.id, "version", c.m.Version, "duration", elapsed)
	return nil
}

// start loads the stored package, instantiates it and runs its activation
// entry point. On failure everything it registered has been revoked.
func (h *Host) start(ctx context.Context, rec *record) (Instance, *Context, error) {
	pkg, err := h.repo.LoadPackage(ctx, rec.id)
	if err != nil {
		return nil, nil, activationFailed(rec.id, "load package", err)
	}
	m, err := manifest.Parse(pkg.Manifest)
	if err != nil {
		return nil, nil, activationFailed(rec.id, "manifest", err)
	}
	if m.ID != rec.id {
		return nil, nil, activationFailed(rec.id, "manifest",
			manifest.ErrInvalid(rec.id, "manifest id "+m.ID+" does not match stored id"))
	}
	rec.mu.Lock()
	rec.m = m
	rec.digest = pkg.Digest
	rec.mu.Unlock()
	if err := h.grant(m); err != nil {
		return nil, nil, activationFailed(rec.id, "grants", err)
	}

	rt, ok := h.runtimes[m.Type]
	if !ok {
		return nil, nil, activationFailed(rec.id, "runtime",
			oops.In("extension").Code(CodeRuntimeUnavailable).
				With("type", string(m.Type)).
				Errorf("no runtime for extension type %q", m.Type))
	}
	inst, err := rt.Load(ctx, m, pkg.Code)
	if err != nil {
		return nil, nil, activationFailed(rec.id, "load", err)
	}

	guard := NewGuard()
	c := newContext(h, m, guard, &rec.disposers)
	h.registerStatic(c)
	if err := guard.Do(ctx, func(ctx context.Context) error { return inst.Activate(ctx, c) }); err != nil {
		c.alive.Store(false)
		h.revoke(rec)
		if cerr := inst.Close(); cerr != nil {
			errutil.LogWarn(h.logger, "closing failed extension", cerr, "extension", rec.id)
		}
		return nil, nil, activationFailed(rec.id, "activate", err)
	}
	return inst, c, nil
}

// activationFailed reports a failed activation. The cause's own code is
// kept in the context instead of the chain so ACTIVATION_FAILED is the
// code callers see.
func activationFailed(id, stage string, cause error) error {
	return oops.In("extension").Code(CodeActivationFailed).
		With("extension", id).
		With("stage", stage).
		With("cause_code", errutil.Code(cause)).
		Errorf("activate %s: %s: %v", id, stage, cause)
}

// registerStatic registers the panels declared in the manifest.
func (h *Host) registerStatic(c *Context) {
	if c.m.UI == nil || len(c.m.UI.Panels) == 0 {
		return
	}
	if !c.Has(manifest.CapUIPanels) {
		c.logger.Warn("manifest declares panels without the ui:panels capability, skipping them")
		return
	}
	for _, p := range c.m.UI.Panels {
		if _, err := c.Panels().Register(registry.Panel{
			ID:       p.ID,
			Title:    p.Title,
			Position: registry.PanelPosition(p.Position),
			Schema:   p.Schema,
		}); err != nil {
			errutil.LogWarn(c.logger, "registering manifest panel", err, "panel", p.ID)
		}
	}
}

// revoke runs the extension's disposers and sweeps anything left in the
// registries or on the bus.
func (h *Host) revoke(rec *record) {
	if p := rec.disposers.Run(); p != nil {
		h.logger.Error("extension disposer panicked", "extension", rec.id, "panic", p)
	}
	if n := h.regs.RemoveOwner(rec.id) + h.bus.RemoveOwner(rec.id); n > 0 {
		h.logger.Debug("swept leftover registrations", "extension", rec.id, "count", n)
	}
}

// teardownLocked runs the deactivation hook and revokes the extension
// without changing its state. rec.op must be held.
func (h *Host) teardownLocked(ctx context.Context, rec *record) {
	rec.mu.Lock()
	inst, c := rec.instance, rec.ctx
	rec.instance, rec.ctx = nil, nil
	rec.mu.Unlock()

	if inst != nil && c != nil {
		dctx, cancel := h.handlerContext(ctx)
		if err := c.guard.Do(dctx, inst.Deactivate); err != nil {
			errutil.LogWarn(h.logger, "extension deactivation hook failed", err, "extension", rec.id)
		}
		cancel()
		c.alive.Store(false)
	}
	h.revoke(rec)
	if inst != nil {
		if err := inst.Close(); err != nil {
			errutil.LogWarn(h.logger, "closing extension instance", err, "extension", rec.id)
		}
	}
}

// deactivateLocked tears the extension down and moves it to
// StateDeactivated. rec.op must be held.
func (h *Host) deactivateLocked(ctx context.Context, rec *record) {
	state, _ := rec.snapshot()
	if state == StateActivated {
		h.teardownLocked(ctx, rec)
		h.logger.Info("extension deactivated", "extension", rec.id)
	}
	if state != StateDeactivated && CanTransition(state, StateDeactivated) {
		h.setState(rec, StateDeactivated, nil)
	}
}

// ExecuteCommand runs the registered command id.
func (h *Host) ExecuteCommand(ctx context.Context, id string) error {
	cmd, ok := h.regs.Commands.Get(id)
	if !ok {
		CommandExecutions.WithLabelValues("not_found").Inc()
		return oops.In("extension").Code(CodeCommandNotFound).
			With("command", id).
			Errorf("command %q is not registered", id)
	}
	h.regs.Recent.Touch(id)

	ctx, span := tracer.Start(ctx, "extension.command",
		trace.WithAttributes(
			attribute.String("command.id", id),
			attribute.String("extension.id", cmd.Owner),
		))
	defer span.End()

	ctx, cancel := h.handlerContext(ctx)
	defer cancel()
	if err := runCommand(ctx, cmd.Run); err != nil {
		CommandExecutions.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = withCode(err, CodeCommandFailed, "command", id, "extension", cmd.Owner)
		errutil.LogWarn(h.logger, "command failed", err, "command", id, "extension", cmd.Owner)
		return err
	}
	CommandExecutions.WithLabelValues("ok").Inc()
	return nil
}

func runCommand(ctx context.Context, run registry.RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("extension").With("panic", r).Errorf("command panicked: %v", r)
		}
	}()
	return run(ctx)
}

// Dispatch routes a key event to the first matching command.
func (h *Host) Dispatch(ctx context.Context, ev shortcut.KeyEvent) (shortcut.Result, error) {
	return h.dispatcher.Dispatch(ctx, ev)
}

// SetSetting validates and stores one setting of an installed extension.
func (h *Host) SetSetting(ctx context.Context, id, key string, value any) error {
	rec, err := h.get(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	m := rec.m
	rec.mu.Unlock()
	return h.settings.Set(ctx, m, key, value)
}

// Status returns the status of one extension.
func (h *Host) Status(id string) (Status, error) {
	rec, err := h.get(id)
	if err != nil {
		return Status{}, err
	}
	return h.status(rec), nil
}

// Extensions returns the status of every installed extension in install
// order.
func (h *Host) Extensions() []Status {
	h.mu.RLock()
	recs := make([]*record, 0, len(h.order))
	for _, id := range h.order {
		recs = append(recs, h.records[id])
	}
	h.mu.RUnlock()

	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.status(rec))
	}
	return out
}

func (h *Host) status(rec *record) Status {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	s := Status{
		ID:          rec.id,
		Name:        rec.m.Name,
		Version:     rec.m.Version,
		Description: rec.m.Description,
		Author:      rec.m.Author,
		Type:        rec.m.Type,
		Enabled:     rec.enabled,
		State:       rec.state,
		Permissions: slices.Clone(rec.m.Permissions),
		Granted:     h.enforcer.Effective(rec.id),
		Digest:      rec.digest,
	}
	if rec.lastErr != nil {
		s.Error = rec.lastErr.Error()
	}
	return s
}

// Close waits for background activations, deactivates every extension in
// reverse install order and closes the workspace. Persisted enabled flags
// are left untouched.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.inflight.Wait()

	h.mu.RLock()
	recs := make([]*record, 0, len(h.order))
	for _, id := range slices.Backward(h.order) {
		recs = append(recs, h.records[id])
	}
	h.mu.RUnlock()

	for _, rec := range recs {
		rec.op.Lock()
		if state, _ := rec.snapshot(); state == StateActivated {
			h.teardownLocked(ctx, rec)
			h.setState(rec, StateDeactivated, nil)
		}
		rec.op.Unlock()
	}
	h.watchers.Run()
	h.SetVault(nil)
	h.logger.Info("extension host closed", "extensions", len(recs))
	return nil
}
