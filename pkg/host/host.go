// Package host implements the Host worker-pool contract every configured
// Item in a Production becomes: a bounded queue drained by a pool of
// goroutines running a specialisation-specific on_message strategy,
// under a common supervised lifecycle.
//
// Service, Process, Operation, and the FHIR variant share one Host
// struct; only their onMessage closure and construction differ, in
// place of a class hierarchy.
package host

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ionbridge/pkg/adapter"
	"ionbridge/pkg/apperror"
	"ionbridge/pkg/extqueue"
	"ionbridge/pkg/logger"
	"ionbridge/pkg/message"
	"ionbridge/pkg/metrics"
	"ionbridge/pkg/queue"
	"ionbridge/pkg/registry"
	"ionbridge/pkg/store"
	"ionbridge/pkg/telemetry"
	"ionbridge/pkg/wal"
)

// Kind distinguishes the Host specialisations.
type Kind string

const (
	KindService   Kind = "service"
	KindProcess   Kind = "process"
	KindOperation Kind = "operation"
	KindFHIR      Kind = "fhir"
)

// State is a Host's supervised lifecycle position.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// RestartPolicy governs what the Production supervisor does when a
// Host's worker pool stops unexpectedly.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on_failure"
	RestartAlways    RestartPolicy = "always"
)

// pollTimeout bounds how long a worker blocks on an empty queue before
// re-checking the pause gate and shutdown context.
const pollTimeout = 2 * time.Second

// Metrics is a point-in-time snapshot of a Host's counters.
type Metrics struct {
	MessagesReceived  int64
	MessagesProcessed int64
	MessagesFailed    int64
	MessagesSent      int64
	RestartCount      int64
	QueueDepth        int
}

// Hooks bundle the optional lifecycle callbacks surrounding on_message.
type Hooks struct {
	BeforeProcess func(ctx context.Context, msg message.Message) (message.Message, error)
	AfterProcess  func(ctx context.Context, msg message.Message, result message.Message)
	// OnError is consulted when onMessage fails. Returning ok=true
	// recovers the message for fan-out as though processing had
	// succeeded; ok=false lets the failure stand.
	OnError func(ctx context.Context, msg message.Message, err error) (recovered message.Message, ok bool)
}

// Result is what a specialisation's onMessage produces for one message.
type Result struct {
	Message message.Message
	// Targets overrides the Host's static fan-out for this message.
	// Nil means "use the Host's configured target list".
	Targets []string
	// Drop suppresses fan-out entirely: a routing `delete` outcome, or a
	// BusinessOperation's terminal send with nowhere further to forward.
	Drop bool
}

// onMessageFunc is the specialisation-specific strategy a Host's worker
// invokes once per dequeued message.
type onMessageFunc func(ctx context.Context, h *Host, msg message.Message) (Result, error)

// Config is the subset of an Item's configuration the base Host needs;
// specialisation constructors translate config.ItemConfig/HostSettings
// into this before calling newBase.
type Config struct {
	Name          string
	Kind          Kind
	PoolSize      int
	Timeout       time.Duration
	Targets       []string
	RestartPolicy RestartPolicy
	MaxRestarts   int
	RestartDelay  time.Duration

	QueueDiscipline queue.Discipline
	QueueCapacity   int
	OverflowPolicy  queue.OverflowPolicy

	Registry *registry.ServiceRegistry
	WAL      *wal.WAL
	Store    store.Store

	// ExtQueue, when set, makes this Host delegate Enqueue and the
	// worker's get loop to the named external queue instead of its
	// local Managed Queue, per the engine's cross-process deployment
	// contract.
	ExtQueue     extqueue.Queue
	ExtQueueName string
}

// Host is the supervised worker-pool unit every Item becomes.
type Host struct {
	name          string
	kind          Kind
	poolSize      int
	timeout       time.Duration
	reg           *registry.ServiceRegistry
	w             *wal.WAL
	store         store.Store
	extQueue      extqueue.Queue
	extQueueName  string
	onMessage     onMessageFunc
	hooks         Hooks
	q             *queue.ManagedQueue[message.Message]
	inbound       adapter.Adapter
	outbound      adapter.Adapter

	mu            sync.RWMutex
	state         State
	targets       []string
	restartPolicy RestartPolicy
	maxRestarts   int
	restartDelay  time.Duration
	pauseCh       chan struct{}
	cancel        context.CancelFunc

	wg       sync.WaitGroup
	restarts atomic.Int64
	recvd    atomic.Int64
	procd    atomic.Int64
	failed   atomic.Int64
	sent     atomic.Int64
}

// newBase constructs the common Host scaffolding; specialisation
// constructors wire onMessage, hooks, and any adapters afterward.
func newBase(cfg Config, onMsg onMessageFunc, hooks Hooks) *Host {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	h := &Host{
		name:          cfg.Name,
		kind:          cfg.Kind,
		poolSize:      cfg.PoolSize,
		timeout:       cfg.Timeout,
		targets:       cfg.Targets,
		restartPolicy: cfg.RestartPolicy,
		maxRestarts:   cfg.MaxRestarts,
		restartDelay:  cfg.RestartDelay,
		reg:           cfg.Registry,
		w:             cfg.WAL,
		store:         cfg.Store,
		extQueue:      cfg.ExtQueue,
		extQueueName:  cfg.ExtQueueName,
		onMessage:     onMsg,
		hooks:         hooks,
		state:         StateCreated,
		q: queue.New[message.Message](queue.Options{
			Capacity:       cfg.QueueCapacity,
			Discipline:     cfg.QueueDiscipline,
			OverflowPolicy: cfg.OverflowPolicy,
		}),
	}
	h.pauseCh = make(chan struct{})
	close(h.pauseCh) // closed == not paused
	return h
}

// SetInbound wires the Adapter a Service or Process Host starts and
// stops alongside its own lifecycle.
func (h *Host) SetInbound(a adapter.Adapter) { h.inbound = a }

// SetOutbound wires the Adapter a BusinessOperation Host dispatches
// through.
func (h *Host) SetOutbound(a adapter.Adapter) { h.outbound = a }

// Name satisfies registry.Addressable.
func (h *Host) Name() string { return h.name }

// Kind reports which specialisation this Host is.
func (h *Host) Kind() Kind { return h.kind }

// Enqueue satisfies registry.Addressable: it accepts msg onto the Host's
// own queue, subject to that queue's discipline and overflow policy, or
// onto the configured external queue when one is wired.
func (h *Host) Enqueue(ctx context.Context, msg message.Message) error {
	h.recvd.Add(1)
	metrics.Get().MessagesReceived.WithLabelValues(h.name).Inc()

	if h.extQueue != nil {
		encoded, err := encodeMessage(msg)
		if err != nil {
			return apperror.Wrap(apperror.Internal, err, "host: encode message for external queue").WithHost(h.name)
		}
		return h.extQueue.Send(ctx, h.extQueueName, encoded, extqueue.SendOptions{
			Priority:      int(msg.Envelope.Priority),
			CorrelationID: msg.Envelope.CorrelationID,
		})
	}

	ok, err := h.q.Put(ctx, msg)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.New(apperror.Internal, "host queue rejected message").WithHost(h.name)
	}
	return nil
}

// Ingest builds a root Message from raw bytes and enqueues it, for use
// by a Service's inbound Adapter Handler.
func (h *Host) Ingest(ctx context.Context, msgType string, payload message.Payload) (message.Message, error) {
	msg := message.New(msgType, payload, h.name)
	if err := h.Enqueue(ctx, msg); err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// State reports the Host's current lifecycle position.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Host) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Snapshot returns a point-in-time view of the Host's counters and
// mirrors it onto the process-wide Prometheus gauges.
func (h *Host) Snapshot() Metrics {
	m := Metrics{
		MessagesReceived:  h.recvd.Load(),
		MessagesProcessed: h.procd.Load(),
		MessagesFailed:    h.failed.Load(),
		MessagesSent:      h.sent.Load(),
		RestartCount:      h.restarts.Load(),
		QueueDepth:        h.q.Size(),
	}
	metrics.Get().RecordHost(metrics.HostSnapshot{
		Name:              h.name,
		State:             string(h.State()),
		MessagesReceived:  m.MessagesReceived,
		MessagesProcessed: m.MessagesProcessed,
		MessagesFailed:    m.MessagesFailed,
		MessagesSent:      m.MessagesSent,
		RestartCount:      m.RestartCount,
		QueueDepth:        m.QueueDepth,
	})
	return m
}

// RestartPolicy, MaxRestarts, RestartDelay, and RecordRestart are
// consulted by the Production supervisor when a Host's worker pool
// exits unexpectedly.
func (h *Host) RestartPolicy() RestartPolicy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.restartPolicy
}

func (h *Host) MaxRestarts() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxRestarts
}

func (h *Host) RestartDelay() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.restartDelay
}

func (h *Host) RecordRestart() {
	h.restarts.Add(1)
	metrics.Get().RestartCount.WithLabelValues(h.name).Inc()
}

// ReloadConfig applies the runtime-safe subset of HostSettings: fan-out
// targets, timeout, and restart tuning. Pool size, queue discipline, and
// adapter settings are fixed when the Host is built: ReloadConfig does
// not change them, and nothing in the Production rebuilds a Host to
// apply them. The Host is not paused or drained while the fields change.
func (h *Host) ReloadConfig(targets []string, timeout time.Duration, policy RestartPolicy, maxRestarts int, restartDelay time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.targets = targets
	if timeout > 0 {
		h.timeout = timeout
	}
	h.restartPolicy = policy
	h.maxRestarts = maxRestarts
	h.restartDelay = restartDelay
}

// Start starts any wired adapters and the worker pool.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state == StateRunning {
		h.mu.Unlock()
		return nil
	}
	h.state = StateStarting
	h.mu.Unlock()

	if h.inbound != nil {
		if err := h.inbound.Start(ctx); err != nil {
			h.setState(StateError)
			return apperror.Wrap(apperror.ConfigurationError, err, "host: inbound adapter failed to start").WithHost(h.name)
		}
	}
	if h.outbound != nil {
		if err := h.outbound.Start(ctx); err != nil {
			h.setState(StateError)
			return apperror.Wrap(apperror.ConfigurationError, err, "host: outbound adapter failed to start").WithHost(h.name)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancel = cancel
	h.state = StateRunning
	h.mu.Unlock()

	for i := 0; i < h.poolSize; i++ {
		h.wg.Add(1)
		go h.worker(runCtx)
	}

	logger.Log.Info("host started", "host", h.name, "kind", h.kind, "pool_size", h.poolSize)
	return nil
}

// Pause blocks the worker pool from dequeuing further work without
// tearing it down; in-flight messages finish normally.
func (h *Host) Pause() {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return
	}
	h.state = StatePaused
	h.pauseCh = make(chan struct{})
	h.mu.Unlock()
	logger.Log.Info("host paused", "host", h.name)
}

// Resume lifts a prior Pause.
func (h *Host) Resume() {
	h.mu.Lock()
	if h.state != StatePaused {
		h.mu.Unlock()
		return
	}
	h.state = StateRunning
	close(h.pauseCh)
	h.mu.Unlock()
	logger.Log.Info("host resumed", "host", h.name)
}

func (h *Host) pauseGate() chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pauseCh
}

// Stop cancels the worker pool and waits (up to ctx's deadline) for
// in-flight work to finish, then stops any wired adapters.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.state == StateStopped || h.state == StateCreated {
		h.mu.Unlock()
		return nil
	}
	h.state = StateStopping
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() { h.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if h.inbound != nil {
		h.inbound.Stop(ctx)
	}
	if h.outbound != nil {
		h.outbound.Stop(ctx)
	}

	h.mu.Lock()
	h.state = StateStopped
	h.mu.Unlock()
	logger.Log.Info("host stopped", "host", h.name)
	return nil
}

func (h *Host) worker(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.pauseGate():
		}
		if ctx.Err() != nil {
			return
		}

		if h.extQueue != nil {
			h.workerStepExternal(ctx)
			continue
		}

		msg, ok := h.q.Get(ctx, pollTimeout)
		if !ok {
			continue
		}
		h.processOne(ctx, msg)
	}
}

// workerStepExternal dequeues one message from the configured external
// queue and acks or nacks it depending on whether processOne succeeded,
// standing in for the local queue's implicit "get removes it" semantics.
func (h *Host) workerStepExternal(ctx context.Context) {
	emsg, err := h.extQueue.Receive(ctx, h.extQueueName, pollTimeout)
	if err != nil {
		if err != extqueue.ErrTimeout && ctx.Err() == nil {
			logger.Log.Warn("external queue receive failed", "host", h.name, "error", err)
		}
		return
	}

	msg, err := decodeMessage(emsg.Payload)
	if err != nil {
		logger.Log.Warn("external queue message decode failed", "host", h.name, "error", err)
		if nackErr := h.extQueue.Nack(ctx, h.extQueueName, emsg, false); nackErr != nil {
			logger.Log.Warn("external queue nack failed", "host", h.name, "error", nackErr)
		}
		return
	}

	ok := h.processOne(ctx, msg)
	if ok {
		if err := h.extQueue.Ack(ctx, h.extQueueName, emsg); err != nil {
			logger.Log.Warn("external queue ack failed", "host", h.name, "error", err)
		}
		return
	}

	requeue := !msg.RetriesExhausted()
	if err := h.extQueue.Nack(ctx, h.extQueueName, emsg, requeue); err != nil {
		logger.Log.Warn("external queue nack failed", "host", h.name, "error", err)
	}
}

// processOne runs one message through the Host's full processing
// pipeline and reports whether it completed without error, so a caller
// reading from an external queue knows whether to ack or nack.
func (h *Host) processOne(ctx context.Context, msg message.Message) bool {
	var entryID string
	if h.w != nil {
		id, err := h.w.Append(h.name, msg.Envelope.MessageID, msg.Payload.Raw, msg.Envelope.MessageType)
		if err != nil {
			logger.Log.Warn("wal append failed", "host", h.name, "error", err)
		} else {
			entryID = id
			if err := h.w.MarkProcessing(entryID); err != nil {
				logger.Log.Warn("wal mark-processing failed", "host", h.name, "error", err)
			}
		}
	}

	if h.store != nil {
		h.recordMessage(ctx, msg)
	}

	if h.hooks.BeforeProcess != nil {
		updated, err := h.hooks.BeforeProcess(ctx, msg)
		if err != nil {
			h.handleFailure(ctx, msg, entryID, err)
			return false
		}
		msg = updated
	}

	procCtx, span := telemetry.StartSpan(ctx, "host.on_message",
		telemetry.WithAttributes(
			attribute.String("host.name", h.name),
			attribute.String("host.kind", string(h.kind)),
			attribute.String("message.id", msg.Envelope.MessageID),
			attribute.String("message.correlation_id", msg.Envelope.CorrelationID),
		))
	procCtx, cancel := context.WithTimeout(procCtx, h.timeout)
	start := time.Now()
	result, err := h.onMessage(procCtx, h, msg)
	cancel()
	if err != nil {
		telemetry.SetError(procCtx, err)
	}
	span.End()
	metrics.Get().ObserveLatency(h.name, time.Since(start))

	if err != nil && h.hooks.OnError != nil {
		if recovered, ok := h.hooks.OnError(ctx, msg, err); ok {
			result = Result{Message: recovered}
			err = nil
		}
	}
	if err != nil {
		h.handleFailure(ctx, msg, entryID, err)
		return false
	}

	if h.hooks.AfterProcess != nil {
		h.hooks.AfterProcess(ctx, msg, result.Message)
	}

	h.procd.Add(1)
	metrics.Get().MessagesProcessed.WithLabelValues(h.name).Inc()
	if entryID != "" {
		if err := h.w.Complete(entryID); err != nil {
			logger.Log.Warn("wal complete failed", "host", h.name, "error", err)
		}
	}
	if h.store != nil {
		if err := h.store.UpdateState(ctx, msg.Envelope.MessageID, message.StateDelivered, ""); err != nil {
			logger.Log.Warn("store update-state failed", "host", h.name, "error", err)
		}
	}

	if msg.Envelope.Routing.Pattern == string(registry.PatternSync) {
		if h.reg != nil {
			h.reg.SendResponse(msg.Envelope.CorrelationID, result.Message, nil)
		}
		return true
	}
	h.fanOut(ctx, result)
	return true
}

// handleFailure records a processing failure. The retry budget for
// transport faults already lives at the adapter layer (outbound
// MLLP/HTTP Send retries with backoff before returning an error here),
// so a failure reaching this point is treated as final; the WAL entry's
// retryable flag exists for crash recovery, not for this live retry.
func (h *Host) handleFailure(ctx context.Context, msg message.Message, entryID string, err error) {
	h.failed.Add(1)
	metrics.Get().MessagesFailed.WithLabelValues(h.name).Inc()
	logger.Log.Warn("host processing failed", "host", h.name, "message_id", msg.Envelope.MessageID, "error", err)

	if msg.Envelope.Routing.Pattern == string(registry.PatternSync) && h.reg != nil {
		h.reg.SendResponse(msg.Envelope.CorrelationID, message.Message{}, err)
	}

	if h.store != nil {
		if updErr := h.store.UpdateState(ctx, msg.Envelope.MessageID, message.StateFailed, err.Error()); updErr != nil {
			logger.Log.Warn("store update-state failed", "host", h.name, "error", updErr)
		}
	}

	if entryID == "" || h.w == nil {
		return
	}
	if _, walErr := h.w.Fail(entryID, err.Error(), false); walErr != nil {
		logger.Log.Warn("wal fail transition error", "host", h.name, "error", walErr)
	}
}

// recordMessage writes the initial message store record before
// on_message runs, so a crash mid-processing still leaves an audit trail
// with RetryCount and the envelope's pre-processing state.
func (h *Host) recordMessage(ctx context.Context, msg message.Message) {
	rec := store.Record{
		ID:            msg.Envelope.MessageID,
		MessageID:     msg.Envelope.MessageID,
		HostName:      h.name,
		MessageType:   msg.Envelope.MessageType,
		State:         msg.Envelope.State,
		Payload:       msg.Payload.Raw,
		Source:        msg.Envelope.Routing.Source,
		Target:        msg.Envelope.Routing.Destination,
		CorrelationID: msg.Envelope.CorrelationID,
		RetryCount:    msg.Envelope.RetryCount,
	}
	if err := h.store.Store(ctx, rec); err != nil {
		logger.Log.Warn("store record failed", "host", h.name, "error", err)
	}
}

func (h *Host) fanOut(ctx context.Context, result Result) {
	if result.Drop {
		return
	}
	targets := result.Targets
	if targets == nil {
		h.mu.RLock()
		targets = h.targets
		h.mu.RUnlock()
	}
	for _, t := range targets {
		if h.reg == nil {
			logger.Log.Warn("host has fan-out targets but no registry wired", "host", h.name, "target", t)
			continue
		}
		derived := result.Message.IncrementHop(t)
		if _, err := h.reg.SendRequestAsync(ctx, t, derived); err != nil {
			h.failed.Add(1)
			metrics.Get().MessagesFailed.WithLabelValues(h.name).Inc()
			logger.Log.Warn("fan-out failed", "host", h.name, "target", t, "error", err)
			continue
		}
		h.sent.Add(1)
		metrics.Get().MessagesSent.WithLabelValues(h.name, t).Inc()
	}
}
