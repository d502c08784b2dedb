package generator

import "context"

// EnqueueFunc is the core's Enqueue entry point, bound into a Generator at
// construction time so user code can add jobs to available without
// holding a reference back to the Handler itself: the core hands the
// generator an explicit function handle rather than the generator
// reaching back into shared mutable state.
//
// It returns the freshly generated JobID, or an error if jobInput or
// additionalData exceed the configured size limits.
type EnqueueFunc func(jobInput, additionalData []byte) (string, error)

// CustomSettings is the opaque per-plugin configuration blob returned by
// an initializer's GetCustomHandlerSettings and threaded through to
// InitializeCustomSettings. The core never inspects its contents.
type CustomSettings any

// Generator is the capability set a Job Generator Adapter exposes to the
// control loop. A concrete implementation is registered under a
// HandlerName with Registry.Register and instantiated fresh for each
// Handler that names it.
type Generator interface {
	// BindEnqueue wires the core's Enqueue entry point into the generator.
	// Called once, before Initialize.
	BindEnqueue(enqueue EnqueueFunc)

	// InitializeCustomSettings hands the generator its opaque
	// configuration blob, as declared by its initializer.
	InitializeCustomSettings(custom CustomSettings) error

	// Initialize performs one-time setup after BindEnqueue and
	// InitializeCustomSettings have both run, and before the generator is
	// used by any control loop.
	Initialize() error

	// OnStart is called exactly once per transition into Running.
	OnStart()
	// OnStop is called exactly once per transition into Stopped.
	OnStop()
	// OnFinished is called exactly once per transition into Finished.
	OnFinished()

	// CreateMoreJobs populates the available queue via EnqueueFunc. It may
	// enqueue zero or more jobs and may block.
	CreateMoreJobs(ctx context.Context)

	// ProcessResult consumes one finished job's input and result string.
	// An error return is treated as a failed outcome and may be an
	// *core.NoRetryError or *core.RetryAfterError to influence requeueing.
	ProcessResult(ctx context.Context, jobInput []byte, resultString string) error

	// IsFinished is polled after each control loop iteration.
	IsFinished() bool

	// GetTotalJobCount reports the generator's estimate of total work for
	// reporting purposes. A negative value means "unknown".
	GetTotalJobCount() int64
}
