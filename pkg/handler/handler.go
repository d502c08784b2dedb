package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/loaded-handler/pkg/core"
	"github.com/jdziat/loaded-handler/pkg/cronsched"
	"github.com/jdziat/loaded-handler/pkg/generator"
	"github.com/jdziat/loaded-handler/pkg/handlerctx"
	"github.com/jdziat/loaded-handler/pkg/retry"
	"github.com/jdziat/loaded-handler/pkg/security"
	"github.com/jdziat/loaded-handler/pkg/wrapperqueue"
)

// Initializer is what a Job Generator package hands the Package Loader
// before a Handler exists: the settings to construct it with and the
// opaque custom configuration blob to thread through to the generator.
type Initializer interface {
	GetHandlerSettings() core.HandlerSettings
	GetCustomHandlerSettings() generator.CustomSettings
}

// Handler is the Loaded Handler: it owns one job stream's three queues,
// its bound Job Generator, its cron start scheduler, and the state
// machine governing when the control loop runs.
type Handler struct {
	id       string
	fullName string
	jobName  string

	settings   core.HandlerSettings
	descriptor core.PackageDescriptor
	generator  generator.Generator

	available        *wrapperqueue.Available
	pending          *wrapperqueue.Pending
	finished         *wrapperqueue.Finished
	availableDrained *wrapperqueue.Signal
	resultReady      *wrapperqueue.Signal

	// stateMu is the "state lock": it guards state, lastStartTime, and the
	// current control task's cancel/done pair, and is shared between
	// manual Start/Stop and the cron scheduler's tryCronStart.
	stateMu       sync.Mutex
	state         core.HandlerState
	lastStartTime time.Time
	controlCancel context.CancelFunc
	controlDone   chan struct{}

	processedCount atomic.Int64
	failedCount    atomic.Int64

	scheduler       *cronsched.Scheduler
	schedulerCancel context.CancelFunc
	schedulerDone   chan struct{}

	logger           *slog.Logger
	nowFunc          func() time.Time
	waitInterval     time.Duration
	cronPollInterval time.Duration

	eventsMu  sync.Mutex
	eventSubs []chan core.Event

	hooksMu       sync.Mutex
	onStateChange []func(from, to core.HandlerState)
}

// Option configures a Handler at construction time.
type Option func(*Handler)

// WithLogger overrides the default slog.Default logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithWaitInterval overrides the control loop's 5 second idle wait, the
// upper bound on how long a stalled generator can delay a timeout sweep.
func WithWaitInterval(d time.Duration) Option {
	return func(h *Handler) { h.waitInterval = d }
}

// WithNowFunc overrides time.Now, for deterministic tests.
func WithNowFunc(f func() time.Time) Option {
	return func(h *Handler) { h.nowFunc = f }
}

// WithCronPollInterval overrides the cron scheduler's default 5 second
// poll interval, so tests don't wait on it.
func WithCronPollInterval(d time.Duration) Option {
	return func(h *Handler) { h.cronPollInterval = d }
}

// Initialize constructs a Handler from settings, a compiled package
// descriptor, and a generator registry, reporting one of the four
// structured failure reasons on anything that goes wrong. On success it
// returns the handler and an InitResult with Success true; on failure it
// returns a nil handler and an InitResult describing which reason applies.
func Initialize(registry *generator.Registry, descriptor core.PackageDescriptor, init Initializer, opts ...Option) (*Handler, core.InitResult) {
	if init == nil {
		return nil, core.InitResult{Success: false, Reason: core.ReasonJobInitializerMissing, Message: "no initializer supplied"}
	}
	if descriptor.PackageName == "" {
		return nil, core.InitResult{Success: false, Reason: core.ReasonCompilationFailed, Message: "package descriptor has no PackageName; compilation did not produce an artifact"}
	}

	settings := init.GetHandlerSettings()
	if err := security.ValidateHandlerName(settings.HandlerName); err != nil {
		return nil, core.InitResult{Success: false, Reason: core.ReasonJobInitializerMissing, Message: err.Error()}
	}
	if err := security.ValidateJobName(settings.JobName); err != nil {
		return nil, core.InitResult{Success: false, Reason: core.ReasonTypeException, Message: err.Error()}
	}

	gen, ok := registry.Resolve(settings.HandlerName)
	if !ok {
		return nil, core.InitResult{Success: false, Reason: core.ReasonJobHandlerMissing, Message: fmt.Sprintf("no generator registered for handler name %q", settings.HandlerName)}
	}

	h := &Handler{
		id:               uuid.New().String(),
		jobName:          settings.JobName,
		settings:         settings,
		descriptor:       descriptor,
		generator:        gen,
		available:        wrapperqueue.NewAvailable(),
		pending:          wrapperqueue.NewPending(),
		finished:         wrapperqueue.NewFinished(),
		availableDrained: wrapperqueue.NewSignal(),
		resultReady:      wrapperqueue.NewSignal(),
		state:            core.StateStopped,
		logger:           slog.Default(),
		nowFunc:          time.Now,
		waitInterval:     5 * time.Second,
	}
	h.fullName = fmt.Sprintf("%s/%s/%s", descriptor.PackageName, settings.HandlerName, settings.JobName)
	for _, opt := range opts {
		opt(h)
	}

	gen.BindEnqueue(h.enqueue)
	if err := gen.InitializeCustomSettings(init.GetCustomHandlerSettings()); err != nil {
		return nil, core.InitResult{Success: false, Reason: core.ReasonTypeException, Message: err.Error()}
	}
	if err := gen.Initialize(); err != nil {
		return nil, core.InitResult{Success: false, Reason: core.ReasonTypeException, Message: err.Error()}
	}

	if settings.Schedule != "" {
		schedOpts := []cronsched.Option{cronsched.WithLogger(h.logger)}
		if h.cronPollInterval > 0 {
			schedOpts = append(schedOpts, cronsched.WithPollInterval(h.cronPollInterval))
		}
		sched, err := cronsched.New(settings.Schedule, h.nowFunc(), schedOpts...)
		if err != nil {
			h.logger.Warn("cron schedule parse failed, scheduler disabled", "handler_id", h.id, "schedule", settings.Schedule, "error", err)
		} else {
			h.scheduler = sched
			h.startCronScheduler()
		}
	}

	result := core.InitResult{
		Success:      true,
		HandlerID:    h.id,
		AssemblyPath: filepath.Join(descriptor.BaseFolder, descriptor.PackageName),
		FullName:     h.fullName,
	}

	if settings.AutoStart {
		h.Start()
	}

	return h, result
}

// ID returns the handler's identity, assigned at construction.
func (h *Handler) ID() string { return h.id }

// FullName returns the handler's PackageName/HandlerName/JobName triple.
func (h *Handler) FullName() string { return h.fullName }

// State returns the current state machine value.
func (h *Handler) State() core.HandlerState {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state
}

// enqueue is the EnqueueFunc bound into the generator. It validates input
// sizes, assigns a fresh JobID, and appends to available.
func (h *Handler) enqueue(jobInput, additionalData []byte) (string, error) {
	if err := security.ValidateJobInput(jobInput); err != nil {
		return "", err
	}
	if err := security.ValidateAdditionalData(additionalData); err != nil {
		return "", err
	}

	w := &core.JobWrapper{
		JobID:          uuid.New().String(),
		HandlerID:      h.id,
		JobInput:       jobInput,
		AdditionalData: additionalData,
		EnqueueTime:    h.nowFunc(),
	}
	h.available.Enqueue(w)
	h.emit(&core.JobEnqueued{HandlerID: h.id, JobID: w.JobID, Timestamp: w.EnqueueTime})
	return w.JobID, nil
}

// GetNextJob leases the oldest available job to clientID.
func (h *Handler) GetNextJob(clientID string) (*core.Job, bool) {
	w, ok, drained := h.available.TryDequeue()
	if !ok {
		return nil, false
	}

	now := h.nowFunc()
	w.AssignedTime = now
	w.AssignedClientID = clientID
	h.pending.Insert(w)

	if drained {
		h.availableDrained.Raise()
	}

	h.emit(&core.JobLeased{HandlerID: h.id, JobID: w.JobID, ClientID: clientID, Timestamp: now})
	return &core.Job{
		JobID:          w.JobID,
		HandlerID:      w.HandlerID,
		JobInput:       w.JobInput,
		AdditionalData: w.AdditionalData,
	}, true
}

// SubmitResult accepts a worker client's outcome for a leased job: it
// claims the lease, resolves success versus failure, and moves the
// wrapper to its next queue in one atomic step. It returns true only
// when the result is accepted and the job reaches finished.
func (h *Handler) SubmitResult(result core.JobResult) bool {
	w, outcome := h.pending.Resolve(result.JobID, result.ClientID)
	now := h.nowFunc()

	switch outcome {
	case wrapperqueue.ResolveStopped:
		h.logger.Warn("submit result rejected, handler stopped", "handler_id", h.id, "job_id", result.JobID)
		return false
	case wrapperqueue.ResolveNotFound:
		h.logger.Warn("submit result rejected, unknown job id", "handler_id", h.id, "job_id", result.JobID, "client_id", result.ClientID)
		return false
	case wrapperqueue.ResolveMismatch:
		h.logger.Warn("submit result rejected, client id mismatch", "handler_id", h.id, "job_id", result.JobID, "client_id", result.ClientID)
		return false
	}

	clientID := w.AssignedClientID

	if result.HasError {
		h.failedCount.Add(1)
		w.Attempt++
		w.Reset()

		limit := security.ClampMaxJobAttempts(h.settings.MaxJobAttempts)
		if limit > 0 && w.Attempt >= limit {
			h.logger.Warn("job exceeded max attempts, dead-lettering", "handler_id", h.id, "job_id", w.JobID, "attempt", w.Attempt, "error", security.SanitizeMessage(result.ErrorMessage))
			w.ResultTime = now
			w.ResultString = fmt.Sprintf("dead-lettered after %d attempts: %s", w.Attempt, security.SanitizeMessage(result.ErrorMessage))
			h.finished.Enqueue(w)
			h.resultReady.Raise()
			h.emit(&core.JobDeadLettered{HandlerID: h.id, JobID: w.JobID, Attempt: w.Attempt, Timestamp: now})
			return false
		}

		h.available.Enqueue(w)
		h.emit(&core.JobFailed{HandlerID: h.id, JobID: w.JobID, ClientID: clientID, Timestamp: now})
		return false
	}

	h.processedCount.Add(1)
	w.ResultTime = now
	w.ResultString = security.SanitizeMessage(result.ResultString)
	h.finished.Enqueue(w)
	h.resultReady.Raise()
	h.emit(&core.JobCompleted{HandlerID: h.id, JobID: w.JobID, ClientID: clientID, Timestamp: now})
	return true
}

// GetInfo returns a reporting snapshot of the handler's current state.
func (h *Handler) GetInfo() core.HandlerInfo {
	h.stateMu.Lock()
	state := h.state
	last := h.lastStartTime
	h.stateMu.Unlock()

	var next time.Time
	if h.scheduler != nil {
		next = h.scheduler.NextStartTime()
	}

	return core.HandlerInfo{
		HandlerID:      h.id,
		FullName:       h.fullName,
		JobName:        h.jobName,
		State:          state,
		AvailableCount: h.available.Len(),
		PendingCount:   h.pending.Len(),
		ProcessedCount: h.processedCount.Load(),
		FailedCount:    h.failedCount.Load(),
		TotalJobCount:  h.generator.GetTotalJobCount(),
		LastStartTime:  last,
		NextStartTime:  next,
	}
}

// GetJobInfo returns the reporting snapshot worker clients compare
// against the artifact they last deployed.
func (h *Handler) GetJobInfo() core.HandlerJobInfo {
	return core.HandlerJobInfo{
		FullName:         h.fullName,
		AssemblyFileName: filepath.Base(h.descriptor.PackageName),
		Dependencies:     append([]string(nil), h.descriptor.WorkerDependencies...),
	}
}

// GetFile reads a file from the handler's package folder, retrying
// transient read failures. It returns nil, nil for a missing file or a
// path that would escape the package folder, reporting both as "no such
// file" to the caller rather than distinguishing the two at this layer.
func (h *Handler) GetFile(ctx context.Context, name string) ([]byte, error) {
	full, err := h.resolveArtifactPath(name)
	if err != nil {
		return nil, nil
	}

	var data []byte
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		b, readErr := os.ReadFile(full)
		if readErr != nil {
			return readErr
		}
		data = b
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (h *Handler) resolveArtifactPath(name string) (string, error) {
	base, err := filepath.Abs(h.descriptor.BaseFolder)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(base, name)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("loadedhandler: path escapes package folder")
	}
	return joined, nil
}

// startTransition carries the state captured while stateMu was held, so
// the generator's OnStart and event emission can happen after it is
// released.
type startTransition struct {
	ctx  context.Context
	done chan struct{}
	prev core.HandlerState
}

func (h *Handler) beginStart() (*startTransition, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if h.controlCancel != nil {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.controlCancel = cancel
	h.controlDone = done
	prev := h.state
	h.state = core.StateRunning
	h.lastStartTime = h.nowFunc()

	return &startTransition{ctx: ctx, done: done, prev: prev}, true
}

// doStart performs the full Start sequence under the state lock's
// idempotent guard, then runs the generator's OnStart hook and launches
// the control loop outside the lock. It is shared by Start and the cron
// scheduler's tryStart callback, which is how the two serialize through
// one shared state lock instead of racing each other.
func (h *Handler) doStart() bool {
	t, ok := h.beginStart()
	if !ok {
		return false
	}

	h.pending.Reopen()
	h.generator.OnStart()
	h.emitStateChange(t.prev, core.StateRunning)
	h.callStateHooks(t.prev, core.StateRunning)

	go h.runControlLoop(t.ctx, t.done)
	return true
}

// Start transitions the handler into Running and launches its control
// loop. It is idempotent: calling Start while already Running is a no-op.
func (h *Handler) Start() {
	h.doStart()
}

// tryCronStart is passed to cronsched.Scheduler.Run as its tryStart
// callback.
func (h *Handler) tryCronStart(now time.Time) bool {
	return h.doStart()
}

// Stop cancels the running control task and waits for it to finish
// resetting state, returning false if no control task was running.
func (h *Handler) Stop() bool {
	h.stateMu.Lock()
	cancel := h.controlCancel
	done := h.controlDone
	h.stateMu.Unlock()

	if cancel == nil {
		return false
	}

	cancel()
	<-done
	return true
}

// Shutdown stops the handler's cron scheduler task, if any, and waits for
// it to exit. It does not itself Stop a running handler.
func (h *Handler) Shutdown() {
	h.stateMu.Lock()
	cancel := h.schedulerCancel
	done := h.schedulerDone
	h.stateMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *Handler) startCronScheduler() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.schedulerCancel = cancel
	h.schedulerDone = done

	go func() {
		defer close(done)
		h.scheduler.Run(ctx, h.tryCronStart)
	}()
}

// finishStop performs a full Stop transition: queues cleared, counters
// zeroed, OnStop called once. It runs from the control loop's deferred
// exit path, after the loop has stopped iterating and before its done
// channel is closed, and
// is called exactly once per Running-to-Stopped transition, whether
// triggered by an external Stop or by the control loop's own fault
// recovery.
func (h *Handler) finishStop() {
	h.stateMu.Lock()
	prev := h.state
	h.state = core.StateStopped
	h.controlCancel = nil
	h.controlDone = nil
	h.stateMu.Unlock()

	h.available.Clear()
	h.pending.StopAndClear()
	h.finished.Clear()
	h.processedCount.Store(0)
	h.failedCount.Store(0)

	h.generator.OnStop()
	h.emitStateChange(prev, core.StateStopped)
	h.callStateHooks(prev, core.StateStopped)
}

func (h *Handler) transitionToFinished() {
	h.stateMu.Lock()
	prev := h.state
	h.state = core.StateFinished
	h.controlCancel = nil
	h.controlDone = nil
	h.stateMu.Unlock()

	h.generator.OnFinished()
	h.emitStateChange(prev, core.StateFinished)
	h.callStateHooks(prev, core.StateFinished)
}

// runControlLoop is the heart of the handler: drain finished results,
// sweep timed-out pending jobs, top up available, and check whether the
// generator considers itself done.
func (h *Handler) runControlLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	finishedNormally := false
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("control loop fault, stopping handler", "handler_id", h.id, "panic", r)
			h.finishStop()
			return
		}
		if !finishedNormally {
			h.finishStop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		for _, w := range h.finished.DrainAll() {
			resultCtx := handlerctx.With(ctx, handlerctx.Info{HandlerID: h.id})
			err := h.generator.ProcessResult(resultCtx, w.JobInput, w.ResultString)
			if err == nil {
				continue
			}
			h.handleProcessResultError(ctx, w, err)
		}

		if h.settings.JobTimeout > 0 {
			now := h.nowFunc()
			for _, w := range h.pending.Sweep(now, h.settings.JobTimeout) {
				h.logger.Warn("job timed out, requeueing", "handler_id", h.id, "job_id", w.JobID, "client_id", w.AssignedClientID)
				clientID := w.AssignedClientID
				w.Reset()
				h.available.Enqueue(w)
				h.emit(&core.JobTimedOut{HandlerID: h.id, JobID: w.JobID, ClientID: clientID, Timestamp: now})
			}
		}

		if h.available.Empty() {
			createCtx := handlerctx.With(ctx, handlerctx.Info{HandlerID: h.id})
			h.generator.CreateMoreJobs(createCtx)
		}

		if h.generator.IsFinished() {
			h.transitionToFinished()
			finishedNormally = true
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-h.availableDrained.C():
		case <-h.resultReady.C():
		case <-time.After(h.waitInterval):
		}
	}
}

// handleProcessResultError applies a Job Generator's ProcessResult
// requeue policy: a plain error is terminal (logged, and the wrapper,
// already drained from finished, is dropped), a *core.NoRetryError is
// terminal by explicit request, and a *core.RetryAfterError returns the
// wrapper to available once its delay has elapsed. ctx is the control
// loop's own context, so the delayed requeue goroutine exits without
// touching available if this run is stopped before the delay elapses —
// otherwise it would enqueue into an Available instance a later Start
// has already begun reusing, resurrecting a job outside its run.
func (h *Handler) handleProcessResultError(ctx context.Context, w *core.JobWrapper, err error) {
	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) {
		h.logger.Warn("process result requested delayed retry", "handler_id", h.id, "job_id", w.JobID, "delay", retryAfter.Delay, "error", retryAfter.Err)
		w.Attempt++
		w.Reset()
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(retryAfter.Delay):
				h.available.Enqueue(w)
			}
		}()
		return
	}

	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		h.logger.Warn("process result declined retry", "handler_id", h.id, "job_id", w.JobID, "error", noRetry.Err)
		return
	}

	h.logger.Warn("process result returned error", "handler_id", h.id, "job_id", w.JobID, "error", err)
}

// OnStateChange registers fn to be called, in registration order, on
// every state machine transition. It is a Supplemented observability
// hook beyond the base dispatch protocol; Events carries the same
// transitions as a typed event for consumers that prefer a stream.
func (h *Handler) OnStateChange(fn func(from, to core.HandlerState)) {
	h.hooksMu.Lock()
	h.onStateChange = append(h.onStateChange, fn)
	h.hooksMu.Unlock()
}

func (h *Handler) callStateHooks(from, to core.HandlerState) {
	h.hooksMu.Lock()
	hooks := append([]func(core.HandlerState, core.HandlerState){}, h.onStateChange...)
	h.hooksMu.Unlock()

	for _, fn := range hooks {
		fn(from, to)
	}
}

// Events returns a channel of every event this handler emits from now
// on. The channel is buffered and non-blocking from the handler's side:
// a slow subscriber drops events rather than stalling the control loop.
func (h *Handler) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	h.eventsMu.Lock()
	h.eventSubs = append(h.eventSubs, ch)
	h.eventsMu.Unlock()
	return ch
}

// Unsubscribe removes a channel previously returned by Events.
func (h *Handler) Unsubscribe(ch <-chan core.Event) {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	for i, sub := range h.eventSubs {
		if sub == ch {
			h.eventSubs = append(h.eventSubs[:i], h.eventSubs[i+1:]...)
			return
		}
	}
}

func (h *Handler) emit(e core.Event) {
	h.eventsMu.Lock()
	subs := make([]chan core.Event, len(h.eventSubs))
	copy(subs, h.eventSubs)
	h.eventsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *Handler) emitStateChange(from, to core.HandlerState) {
	h.emit(&core.HandlerStateChanged{HandlerID: h.id, From: from, To: to, Timestamp: h.nowFunc()})
}
