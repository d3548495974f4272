// Package production implements the Production engine: it builds Hosts
// from a loaded Config via the ClassRegistry, starts them in
// operations-processes-services order and stops them in the reverse
// order, supervises restarts, serves
// hot-reload requests, and coordinates a phased shutdown on
// SIGINT/SIGTERM.
package production

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ionbridge/pkg/ackaction"
	"ionbridge/pkg/adapter"
	"ionbridge/pkg/apperror"
	"ionbridge/pkg/audit"
	"ionbridge/pkg/config"
	"ionbridge/pkg/database"
	"ionbridge/pkg/extqueue"
	"ionbridge/pkg/health"
	"ionbridge/pkg/host"
	"ionbridge/pkg/logger"
	"ionbridge/pkg/message"
	"ionbridge/pkg/metrics"
	"ionbridge/pkg/queue"
	"ionbridge/pkg/registry"
	"ionbridge/pkg/routing"
	"ionbridge/pkg/store"
	"ionbridge/pkg/telemetry"
	"ionbridge/pkg/transform"
	"ionbridge/pkg/wal"
)

// State is a Production's own supervised lifecycle position.
type State string

const (
	StateCreated  State = "created"
	StateLoading  State = "loading"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// CleanupFunc is a custom shutdown hook run in shutdown phase 4.
type CleanupFunc func(ctx context.Context) error

// hostEntry pairs a built Host with the ItemConfig that produced it, so
// the supervisor and hot-reload path can recover the item's name and
// class_name without threading a parallel map.
type hostEntry struct {
	item ItemHandle
	h    *host.Host
}

// ItemHandle is the subset of config.ItemConfig the supervisor keeps
// once a Host is instantiated.
type ItemHandle struct {
	Name      string
	ClassName string
	Enabled   bool
}

// itemArgs is the full per-Item build context passed through the
// ClassRegistry's settings map under the "_item" key.
type itemArgs struct {
	item config.ItemConfig
	deps *deps
}

// deps bundles the shared, Production-wide collaborators every Host
// specialisation's constructor needs.
type deps struct {
	registry   *registry.ServiceRegistry
	wal        *wal.WAL
	rules      *routing.RuleSet
	transforms *transform.Registry
	audit      audit.Logger
	store      store.Store
	extQueue   extqueue.Queue
}

// Production owns one configuration's worth of Items plus the shared
// infrastructure (ServiceRegistry, WAL, health/metrics registries) they
// run against.
type Production struct {
	cfg     *config.Config
	classes *registry.ClassRegistry
	reg     *registry.ServiceRegistry
	w       *wal.WAL
	health  *health.Registry
	trace   *telemetry.Provider

	mu            sync.RWMutex
	state         State
	operations    []hostEntry
	processes     []hostEntry
	services      []hostEntry
	cleanupHooks  []CleanupFunc
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// New constructs an unbuilt Production around cfg.
func New(cfg *config.Config) *Production {
	return &Production{
		cfg:     cfg,
		classes: registry.NewClassRegistry(),
		reg:     registry.NewServiceRegistry(),
		health:  health.NewRegistry(cfg.App.Version, cfg.App.Environment),
		state:   StateCreated,
	}
}

// State reports the Production's own lifecycle position.
func (p *Production) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Production) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Registry exposes the ServiceRegistry, for callers (e.g. an HTTP
// admin surface) that need to inspect or address a built Host directly.
func (p *Production) Registry() *registry.ServiceRegistry { return p.reg }

// Health exposes the health.Registry built-in and Host-derived checks
// are registered into, for wiring an HTTP server's probe endpoints.
func (p *Production) Health() *health.Registry { return p.health }

// AddCleanup registers a shutdown-phase-4 hook.
func (p *Production) AddCleanup(fn CleanupFunc) {
	p.mu.Lock()
	p.cleanupHooks = append(p.cleanupHooks, fn)
	p.mu.Unlock()
}

// Build resolves every configured Item's class, instantiates its Host
// (and any inbound/outbound Adapter it owns), registers it with the
// ServiceRegistry, and wires a health check for it. It does not start
// anything.
func (p *Production) Build(ctx context.Context) error {
	p.setState(StateLoading)

	if err := p.registerBuiltinAdapters(); err != nil {
		return err
	}
	if err := p.registerBuiltinHosts(); err != nil {
		return err
	}

	trace, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     p.cfg.Tracing.Enabled,
		Endpoint:    p.cfg.Tracing.Endpoint,
		ServiceName: p.cfg.Tracing.ServiceName,
		Version:     p.cfg.App.Version,
		Environment: p.cfg.App.Environment,
		SampleRate:  p.cfg.Tracing.SampleRate,
	})
	if err != nil {
		return apperror.Wrap(apperror.ConfigurationError, err, "production: telemetry init failed")
	}
	p.trace = trace
	p.AddCleanup(func(ctx context.Context) error { return p.trace.Shutdown(ctx) })

	if p.cfg.WAL.Enabled {
		w, err := wal.Open(walOptions(p.cfg.WAL))
		if err != nil {
			return apperror.Wrap(apperror.ConfigurationError, err, "production: wal open failed")
		}
		p.w = w
	}

	rules, err := routing.NewRuleSet(ruleConfigsToRules(p.cfg.Routing), nil)
	if err != nil {
		return err
	}

	msgStore, err := p.buildStore(ctx)
	if err != nil {
		return err
	}

	extQ, err := p.buildExtQueue(ctx)
	if err != nil {
		return err
	}

	d := &deps{
		registry:   p.reg,
		wal:        p.w,
		rules:      rules,
		transforms: transform.NewRegistry(),
		audit:      audit.NewMemoryLogger(0),
		store:      msgStore,
		extQueue:   extQ,
	}

	for _, item := range p.cfg.Items {
		if !item.Enabled && !p.cfg.Engine.StartDisabledItems {
			logger.Log.Info("skipping disabled item", "item", item.Name)
			continue
		}

		built, err := registry.Build[*host.Host](p.classes, item.ClassName, map[string]any{
			"_item": itemArgs{item: item, deps: d},
		})
		if err != nil {
			return apperror.Wrap(apperror.ConfigurationError, err, "production: failed to build item "+item.Name)
		}

		p.reg.Register(built)
		p.registerHostHealthCheck(built)

		entry := hostEntry{item: ItemHandle{Name: item.Name, ClassName: item.ClassName, Enabled: item.Enabled}, h: built}
		switch built.Kind() {
		case host.KindOperation:
			p.operations = append(p.operations, entry)
		case host.KindService:
			p.services = append(p.services, entry)
		default: // process, fhir
			p.processes = append(p.processes, entry)
		}
	}

	p.registerWALHealthCheck()
	p.warnUndeclaredConnections()
	metrics.Get().SetServiceInfo(p.cfg.App.Version, p.cfg.App.Environment)

	logger.Log.Info("production built",
		"operations", len(p.operations), "processes", len(p.processes), "services", len(p.services))
	return nil
}

// Start brings the Production to `running`: operations first, then
// processes, then services, each item after a configurable
// startup_delay, then the supervision loop.
func (p *Production) Start(ctx context.Context) error {
	p.setState(StateStarting)

	groups := [][]hostEntry{p.operations, p.processes, p.services}
	for _, group := range groups {
		for _, e := range group {
			if err := e.h.Start(ctx); err != nil {
				p.setState(StateError)
				return err
			}
			logger.Log.Info("item started", "item", e.item.Name, "kind", e.h.Kind())
			if p.cfg.Engine.StartupDelay > 0 {
				time.Sleep(p.cfg.Engine.StartupDelay)
			}
		}
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	p.monitorCancel = cancel
	p.monitorDone = make(chan struct{})
	go p.superviseLoop(monitorCtx)

	p.setState(StateRunning)
	logger.Log.Info("production running")
	return nil
}

// Run starts the Production and blocks until SIGINT/SIGTERM, then
// drives the phased shutdown with the Production's configured timeouts.
func (p *Production) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	return p.Shutdown(context.Background())
}

// Shutdown runs the four shutdown phases: pause, drain, stop (reverse
// start order), cleanup.
func (p *Production) Shutdown(ctx context.Context) error {
	p.setState(StateStopping)

	if p.monitorCancel != nil {
		p.monitorCancel()
		<-p.monitorDone
	}

	all := append(append(append([]hostEntry{}, p.services...), p.processes...), p.operations...)
	for _, e := range all {
		e.h.Pause()
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, p.cfg.Engine.DrainTimeout)
	p.drainAll(drainCtx, all)
	drainCancel()

	stopCtx, stopCancel := context.WithTimeout(ctx, p.cfg.Engine.ShutdownTimeout)
	defer stopCancel()
	for _, e := range all { // services, processes, operations: reverse of start order
		if err := e.h.Stop(stopCtx); err != nil {
			logger.Log.Warn("item stop error", "item", e.item.Name, "error", err)
		}
	}

	for _, fn := range p.cleanupHooks {
		if err := fn(ctx); err != nil {
			logger.Log.Warn("cleanup hook failed", "error", err)
		}
	}

	if p.w != nil {
		if err := p.w.Close(); err != nil {
			logger.Log.Warn("wal close error", "error", err)
		}
	}

	p.setState(StateStopped)
	logger.Log.Info("production stopped")
	return nil
}

// drainAll waits for every Host's queue to empty or drainCtx to expire,
// whichever comes first — a best-effort wait, not a guarantee: a Host
// wedged on a slow on_message keeps its queue non-empty regardless.
func (p *Production) drainAll(ctx context.Context, entries []hostEntry) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		empty := true
		for _, e := range entries {
			if e.h.Snapshot().QueueDepth > 0 {
				empty = false
				break
			}
		}
		if empty {
			return
		}
		select {
		case <-ctx.Done():
			logger.Log.Warn("drain timeout elapsed with items still queued")
			return
		case <-ticker.C:
		}
	}
}

// superviseLoop inspects every Host at MonitoringInterval and restarts
// those whose RestartPolicy permits it.
func (p *Production) superviseLoop(ctx context.Context) {
	defer close(p.monitorDone)
	interval := p.cfg.Engine.MonitoringInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.superviseOnce(ctx)
		}
	}
}

func (p *Production) superviseOnce(ctx context.Context) {
	all := append(append(append([]hostEntry{}, p.operations...), p.processes...), p.services...)
	for _, e := range all {
		e.h.Snapshot() // mirrors counters/state onto Prometheus gauges regardless of restart decision

		state := e.h.State()
		policy := e.h.RestartPolicy()
		shouldRestart := false
		switch policy {
		case host.RestartNever:
		case host.RestartOnFailure:
			shouldRestart = state == host.StateError && e.h.Snapshot().RestartCount < int64(e.h.MaxRestarts())
		case host.RestartAlways:
			shouldRestart = state != host.StateRunning && state != host.StateStarting && state != host.StateStopping
		}
		if !shouldRestart {
			continue
		}

		if delay := e.h.RestartDelay(); delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		logger.Log.Warn("restarting host", "host", e.item.Name, "state", state, "policy", policy)
		if err := e.h.Start(ctx); err != nil {
			logger.Log.Warn("host restart attempt failed", "host", e.item.Name, "error", err)
			continue
		}
		e.h.RecordRestart()
	}
}

// ReloadHostConfig invokes the named Host's own ReloadConfig with the
// runtime-safe subset of a new host_settings value.
func (p *Production) ReloadHostConfig(name string, settings config.HostSettings) error {
	entry, ok := p.findHost(name)
	if !ok {
		return apperror.New(apperror.ConfigurationError, "reload_host_config: unknown item "+name)
	}
	policy := host.RestartPolicy(settings.RestartPolicy)
	entry.h.ReloadConfig(settings.TargetConfigNames, settings.Timeout, policy, settings.MaxRestarts, settings.RestartDelay)
	logger.Log.Info("host config reloaded", "host", name)
	return nil
}

func (p *Production) findHost(name string) (hostEntry, bool) {
	for _, group := range [][]hostEntry{p.operations, p.processes, p.services} {
		for _, e := range group {
			if e.item.Name == name {
				return e, true
			}
		}
	}
	return hostEntry{}, false
}

func (p *Production) registerHostHealthCheck(h *host.Host) {
	p.health.Register(health.Check{
		Name:     "host:" + h.Name(),
		Critical: true,
		Fn: func(ctx context.Context) error {
			switch h.State() {
			case host.StateRunning, host.StatePaused, host.StateCreated, host.StateStarting, host.StateStopping, host.StateStopped:
				return nil
			default:
				return fmt.Errorf("host %s is in state %s", h.Name(), h.State())
			}
		},
	})
	p.health.Register(health.Check{
		Name:     "queue:" + h.Name(),
		Critical: false,
		Fn: func(ctx context.Context) error {
			depth := h.Snapshot().QueueDepth
			const threshold = 1000 // operator tuning belongs in a future per-Host setting
			if depth > threshold {
				return fmt.Errorf("queue depth %d exceeds threshold %d", depth, threshold)
			}
			return nil
		},
	})
}

func (p *Production) registerWALHealthCheck() {
	if p.w == nil {
		return
	}
	p.health.Register(health.Check{
		Name:     "wal",
		Critical: false,
		Fn: func(ctx context.Context) error {
			pending := len(p.w.Pending())
			metrics.Get().WALPending.Set(float64(pending))
			const threshold = 10000
			if pending > threshold {
				return fmt.Errorf("wal pending %d exceeds threshold %d", pending, threshold)
			}
			return nil
		},
	})
}

// warnUndeclaredConnections logs a warning for every fan-out target named
// in an Item's TargetConfigNames that the Production config does not also
// declare as a Connection — the config's static topology documentation
// and its Hosts' actual runtime wiring are independent, so nothing stops
// them from drifting apart; this surfaces that drift instead of silently
// tolerating it.
func (p *Production) warnUndeclaredConnections() {
	declared := make(map[string]bool, len(p.cfg.Connections))
	for _, c := range p.cfg.Connections {
		declared[c.From+"->"+c.To] = true
	}
	for _, item := range p.cfg.Items {
		for _, target := range item.HostSettings.TargetConfigNames {
			if !declared[item.Name+"->"+target] {
				logger.Log.Warn("target not declared as a connection", "from", item.Name, "to", target)
			}
		}
	}
}

// buildStore instantiates the Message store backend named by
// cfg.Store.Driver. An empty or "memory" driver keeps the engine
// runnable with zero external dependencies; "postgres" opens a pool and
// runs schema migrations before handing back a Store.
func (p *Production) buildStore(ctx context.Context) (store.Store, error) {
	switch p.cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		db, err := database.NewPostgresDB(ctx, p.cfg.Store)
		if err != nil {
			return nil, apperror.Wrap(apperror.ConfigurationError, err, "production: store connection failed")
		}
		if err := store.Migrate(ctx, db, p.cfg.Store); err != nil {
			db.Close()
			return nil, apperror.Wrap(apperror.ConfigurationError, err, "production: store migration failed")
		}
		p.AddCleanup(func(ctx context.Context) error { db.Close(); return nil })
		return store.NewPostgresStore(db), nil
	default:
		return nil, apperror.New(apperror.ConfigurationError, "production: unknown store driver "+p.cfg.Store.Driver)
	}
}

// buildExtQueue instantiates the optional external queue named by
// cfg.ExtQueue.Driver. An empty driver leaves every Host on its local
// Managed Queue; "redis" wires the cross-process backend Hosts with a
// non-empty HostSettings.ExternalQueueName delegate to.
func (p *Production) buildExtQueue(ctx context.Context) (extqueue.Queue, error) {
	switch p.cfg.ExtQueue.Driver {
	case "":
		return nil, nil
	case "redis":
		q, err := extqueue.NewRedisQueue(ctx, extqueue.Config{
			Addr:              p.cfg.ExtQueue.Addr,
			Password:          p.cfg.ExtQueue.Password,
			DB:                p.cfg.ExtQueue.DB,
			PoolSize:          p.cfg.ExtQueue.PoolSize,
			VisibilityTimeout: p.cfg.ExtQueue.VisibilityTimeout,
		})
		if err != nil {
			return nil, apperror.Wrap(apperror.ConfigurationError, err, "production: external queue connection failed")
		}
		p.AddCleanup(func(ctx context.Context) error { return q.Close() })
		return q, nil
	default:
		return nil, apperror.New(apperror.ConfigurationError, "production: unknown ext_queue driver "+p.cfg.ExtQueue.Driver)
	}
}

func walOptions(c config.WALConfig) wal.Options {
	var d wal.Durability
	switch c.Durability {
	case "async":
		d = wal.Async
	case "none":
		d = wal.None
	default:
		d = wal.Fsync
	}
	return wal.Options{
		Directory:       c.Directory,
		Durability:      d,
		SyncInterval:    c.SyncInterval,
		MaxFileSize:     c.MaxFileSize,
		TTL:             c.TTL,
		CheckpointEvery: c.CheckpointEvery,
	}
}

func ruleConfigsToRules(rc []config.RuleConfig) []routing.Rule {
	out := make([]routing.Rule, len(rc))
	for i, r := range rc {
		out[i] = routing.Rule{
			Name:        r.Name,
			Priority:    r.Priority,
			Condition:   r.Condition,
			Action:      routing.Action(r.Action),
			Targets:     r.Targets,
			TransformID: r.TransformID,
			Enabled:     r.Enabled,
		}
	}
	return out
}

func queueDiscipline(s string) queue.Discipline {
	switch s {
	case "lifo":
		return queue.LIFO
	case "priority":
		return queue.Priority
	case "unordered":
		return queue.Unordered
	default:
		return queue.FIFO
	}
}

func overflowPolicy(s string) queue.OverflowPolicy {
	switch s {
	case "drop_oldest":
		return queue.DropOldest
	case "drop_newest":
		return queue.DropNewest
	case "redirect":
		return queue.Redirect
	default:
		return queue.Block
	}
}

func baseHostConfig(item config.ItemConfig, kind host.Kind, d *deps) host.Config {
	hs := item.HostSettings
	return host.Config{
		Name:            item.Name,
		Kind:            kind,
		PoolSize:        item.PoolSize,
		Timeout:         hs.Timeout,
		Targets:         hs.TargetConfigNames,
		RestartPolicy:   host.RestartPolicy(hs.RestartPolicy),
		MaxRestarts:     hs.MaxRestarts,
		RestartDelay:    hs.RestartDelay,
		QueueDiscipline: queueDiscipline(hs.QueueType),
		QueueCapacity:   hs.QueueSize,
		OverflowPolicy:  overflowPolicy(hs.OverflowStrategy),
		Registry:        d.registry,
		WAL:             d.wal,
		Store:           d.store,
		ExtQueue:        d.extQueue,
		ExtQueueName:    hs.ExternalQueueName,
	}
}

func adapterType(settings map[string]any) string {
	return adapter.Settings(settings).String("Type", "mllp")
}

func (p *Production) buildServiceHost(a itemArgs) (*host.Host, error) {
	cfg := host.ServiceConfig{
		Config:     baseHostConfig(a.item, host.KindService, a.deps),
		Validation: host.Validation(a.item.HostSettings.Validation),
	}
	h, handler := host.NewService(cfg)

	className := "engine.adapters." + adapterType(a.item.AdapterSettings) + "_inbound"
	in, err := registry.Build[adapter.Adapter](p.classes, className, map[string]any{
		"_adapter_settings": a.item.AdapterSettings,
		"_handler":          handler,
	})
	if err != nil {
		return nil, err
	}
	h.SetInbound(in)
	return h, nil
}

func (p *Production) buildProcessHost(a itemArgs, kind host.Kind) (*host.Host, error) {
	cfg := host.ProcessConfig{
		Config:     baseHostConfig(a.item, kind, a.deps),
		Rules:      a.deps.rules,
		Transforms: a.deps.transforms,
		Audit:      a.deps.audit,
	}
	if kind == host.KindFHIR {
		return host.NewFHIR(cfg), nil
	}
	return host.NewProcess(cfg), nil
}

func (p *Production) buildOperationHost(a itemArgs) (*host.Host, error) {
	hs := a.item.HostSettings
	actions, err := ackaction.Parse(hs.ReplyCodeActions)
	if err != nil {
		return nil, err
	}

	className := "engine.adapters." + adapterType(a.item.AdapterSettings) + "_outbound"
	out, err := registry.Build[adapter.Adapter](p.classes, className, map[string]any{
		"_adapter_settings": a.item.AdapterSettings,
	})
	if err != nil {
		return nil, err
	}

	cfg := host.OperationConfig{
		Config:     baseHostConfig(a.item, host.KindOperation, a.deps),
		Send:       sendFuncFor(out),
		AckActions: actions,
		RetryDelay: hs.RestartDelay,
	}
	h := host.NewOperation(cfg)
	h.SetOutbound(out)
	return h, nil
}

// sendFuncFor adapts whichever concrete outbound Adapter was built into
// the host.SendFunc signature BusinessOperation needs, absorbing the
// File Adapter's different Send signature (no reply, an extra
// messageType parameter) behind the same closure type.
func sendFuncFor(a adapter.Adapter) host.SendFunc {
	switch out := a.(type) {
	case *adapter.MLLPOutbound:
		return func(ctx context.Context, msg message.Message) ([]byte, error) {
			return out.Send(ctx, msg.Payload.Raw)
		}
	case *adapter.HTTPOutbound:
		return func(ctx context.Context, msg message.Message) ([]byte, error) {
			return out.Send(ctx, msg.Payload.Raw)
		}
	case *adapter.FileOutbound:
		return func(ctx context.Context, msg message.Message) ([]byte, error) {
			return nil, out.Send(ctx, msg.Payload.Raw, msg.Envelope.MessageType)
		}
	default:
		return func(ctx context.Context, msg message.Message) ([]byte, error) {
			return nil, apperror.New(apperror.ConfigurationError, "unsupported outbound adapter type")
		}
	}
}
