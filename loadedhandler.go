// Package loadedhandler provides the Loaded Handler: an in-process engine
// that owns the lifecycle and distribution of a single job stream.
//
// This is the main package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	registry := loadedhandler.NewRegistry()
//	registry.Register("fan-out-report", func() loadedhandler.Generator {
//	    return &reportGenerator{}
//	})
//
//	h, result := loadedhandler.Initialize(registry, loadedhandler.PackageDescriptor{
//	    PackageName: "reports",
//	    BaseFolder:  "/var/loaded-handler/reports",
//	}, myInitializer{})
//	if !result.Success {
//	    log.Fatalf("initialize failed: %s: %s", result.Reason, result.Message)
//	}
//
//	job, ok := h.GetNextJob("worker-7")
//	if ok {
//	    h.SubmitResult(loadedhandler.JobResult{JobID: job.JobID, ClientID: "worker-7", ResultString: "done"})
//	}
package loadedhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdziat/loaded-handler/pkg/core"
	"github.com/jdziat/loaded-handler/pkg/generator"
	"github.com/jdziat/loaded-handler/pkg/handler"
	"github.com/jdziat/loaded-handler/pkg/handlerctx"
	"github.com/jdziat/loaded-handler/pkg/security"
)

// Type aliases for a clean top-level API surface.
type (
	// Handler is the Loaded Handler engine. See pkg/handler.
	Handler = handler.Handler

	// Option configures a Handler at construction time.
	Option = handler.Option

	// Initializer supplies a Handler's construction-time settings.
	Initializer = handler.Initializer

	// HandlerState is one of Stopped, Running, or Finished.
	HandlerState = core.HandlerState

	// HandlerSettings are the recognized construction options for a Handler.
	HandlerSettings = core.HandlerSettings

	// PackageDescriptor describes the compiled plugin artifact a Handler is
	// constructed from.
	PackageDescriptor = core.PackageDescriptor

	// Job is the projection of a leased job handed to a worker client.
	Job = core.Job

	// JobResult carries a worker client's outcome for SubmitResult.
	JobResult = core.JobResult

	// HandlerInfo is the reporting snapshot returned by GetInfo.
	HandlerInfo = core.HandlerInfo

	// HandlerJobInfo is the reporting snapshot returned by GetJobInfo.
	HandlerJobInfo = core.HandlerJobInfo

	// InitResult is the structured result of Initialize.
	InitResult = core.InitResult

	// InitFailureReason enumerates the structured Initialize failure modes.
	InitFailureReason = core.InitFailureReason

	// Event is the interface implemented by everything a Handler emits.
	Event = core.Event

	// JobEnqueued is emitted when a generator adds a job to available.
	JobEnqueued = core.JobEnqueued

	// JobLeased is emitted when GetNextJob hands a job to a client.
	JobLeased = core.JobLeased

	// JobCompleted is emitted when SubmitResult accepts a successful result.
	JobCompleted = core.JobCompleted

	// JobFailed is emitted when SubmitResult accepts an error result and
	// requeues the job.
	JobFailed = core.JobFailed

	// JobTimedOut is emitted when the timeout sweep requeues a stale lease.
	JobTimedOut = core.JobTimedOut

	// JobDeadLettered is emitted when a job exceeds MaxJobAttempts.
	JobDeadLettered = core.JobDeadLettered

	// HandlerStateChanged is emitted on every state machine transition.
	HandlerStateChanged = core.HandlerStateChanged

	// NoRetryError indicates a failed job that must not be requeued.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates a failed job that may be requeued after a delay.
	RetryAfterError = core.RetryAfterError

	// Generator is the Job Generator Adapter contract a plugin implements.
	Generator = generator.Generator

	// CustomSettings is the opaque per-plugin configuration blob.
	CustomSettings = generator.CustomSettings

	// EnqueueFunc is the core's Enqueue entry point bound into a Generator.
	EnqueueFunc = generator.EnqueueFunc

	// Registry resolves a HandlerName to a fresh Generator instance.
	Registry = generator.Registry

	// NoopLifecycle is embeddable by a Generator that skips optional hooks.
	NoopLifecycle = generator.NoopLifecycle

	// NoopCustomSettings is embeddable by a Generator with no custom config.
	NoopCustomSettings = generator.NoopCustomSettings

	// EnqueueBinding is embeddable by a Generator to receive BindEnqueue.
	EnqueueBinding = generator.EnqueueBinding
)

// Handler state constants.
const (
	StateStopped  = core.StateStopped
	StateRunning  = core.StateRunning
	StateFinished = core.StateFinished
)

// Initialize failure reason constants.
const (
	ReasonCompilationFailed     = core.ReasonCompilationFailed
	ReasonJobInitializerMissing = core.ReasonJobInitializerMissing
	ReasonTypeException         = core.ReasonTypeException
	ReasonJobHandlerMissing     = core.ReasonJobHandlerMissing
)

// Security limits.
const (
	MaxHandlerNameLength  = security.MaxHandlerNameLength
	MaxJobNameLength      = security.MaxJobNameLength
	MaxJobInputSize       = security.MaxJobInputSize
	MaxAdditionalDataSize = security.MaxAdditionalDataSize
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxJobAttemptsLimit   = security.MaxJobAttempts
)

// Error variables.
var (
	ErrInvalidHandlerName     = core.ErrInvalidHandlerName
	ErrInvalidJobName         = core.ErrInvalidJobName
	ErrJobInputTooLarge       = core.ErrJobInputTooLarge
	ErrAdditionalDataTooLarge = core.ErrAdditionalDataTooLarge
	ErrHandlerNotFound        = core.ErrHandlerNotFound
	ErrAlreadyStopped         = core.ErrAlreadyStopped
)

// WithLogger overrides a Handler's default slog.Default logger.
func WithLogger(l *slog.Logger) Option {
	return handler.WithLogger(l)
}

// WithWaitInterval overrides a Handler's control loop idle wait.
func WithWaitInterval(d time.Duration) Option {
	return handler.WithWaitInterval(d)
}

// WithCronPollInterval overrides a Handler's cron scheduler poll interval.
func WithCronPollInterval(d time.Duration) Option {
	return handler.WithCronPollInterval(d)
}

// NewRegistry returns an empty Generator registry.
func NewRegistry() *Registry {
	return generator.NewRegistry()
}

// Initialize constructs a Handler from settings, a compiled package
// descriptor, and a generator registry.
func Initialize(registry *Registry, descriptor PackageDescriptor, init Initializer, opts ...Option) (*Handler, InitResult) {
	return handler.Initialize(registry, descriptor, init, opts...)
}

// NoRetry wraps err to signal a failed job must not be requeued.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps err to delay a failed job's return to available by d.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// HandlerIDFromContext returns the handler id attached to a CreateMoreJobs
// or ProcessResult context.
func HandlerIDFromContext(ctx context.Context) string {
	return handlerctx.HandlerIDFromContext(ctx)
}

// SanitizeMessage strips control characters and truncates msg for storage.
func SanitizeMessage(msg string) string {
	return security.SanitizeMessage(msg)
}

// ClampMaxJobAttempts keeps a MaxJobAttempts value within bounds.
func ClampMaxJobAttempts(n int) int {
	return security.ClampMaxJobAttempts(n)
}
