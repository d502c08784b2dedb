// Package core provides the domain types shared across the loaded handler
// packages: handler identity, state, job wrappers, and the dispatch-facing
// projections handed to worker clients.
package core

import "time"

// HandlerState is one of the three states a Handler's run can be in.
type HandlerState string

const (
	// StateStopped is the initial state and the state after Stop.
	StateStopped HandlerState = "stopped"
	// StateRunning means the control loop is driving the job stream.
	StateRunning HandlerState = "running"
	// StateFinished is terminal for the current run; Start re-enters Running.
	StateFinished HandlerState = "finished"
)

// PackageDescriptor describes the compiled plugin artifact a Handler was
// constructed from. The Package Loader (out of scope for this module)
// produces one of these; the Handler only reads it.
type PackageDescriptor struct {
	PackageName        string
	JobScript          string
	CompilerLibRefs    []string
	WorkerDependencies []string
	BaseFolder         string
}

// HandlerSettings are the recognized construction options for a Handler,
// supplied by the Job Generator's initializer.
type HandlerSettings struct {
	// HandlerName identifies the concrete Generator implementation to bind
	// (matched against the generator registry).
	HandlerName string
	// JobName is a cosmetic identifier used to build the handler's full name.
	JobName string
	// Schedule is a cron expression. Empty disables the cron scheduler.
	Schedule string
	// JobTimeout is the pending-job age after which a wrapper is reset and
	// requeued. Zero or negative disables the timeout sweep.
	JobTimeout time.Duration
	// AutoStart, if true, makes Initialize perform a Start before returning.
	AutoStart bool
	// MaxJobAttempts bounds retries on failed results. Zero means unlimited,
	// the default: a failed job keeps retrying forever unless the Host
	// opts into dead-lettering by setting a positive limit.
	MaxJobAttempts int
}

// JobWrapper is the core's internal bookkeeping record around a job. It is
// never exposed to worker clients directly; Dispatch returns a projected
// Job instead.
type JobWrapper struct {
	JobID            string
	HandlerID        string
	JobInput         []byte
	AdditionalData   []byte
	EnqueueTime      time.Time
	AssignedTime     time.Time
	AssignedClientID string
	ResultTime       time.Time
	ResultString     string
	Attempt          int
}

// Reset clears assignment fields, returning the wrapper to its
// never-leased shape before it is re-enqueued into available.
func (w *JobWrapper) Reset() {
	w.AssignedTime = time.Time{}
	w.AssignedClientID = ""
}

// IsAssigned reports whether the wrapper currently has a lease.
func (w *JobWrapper) IsAssigned() bool {
	return w.AssignedClientID != ""
}

// Job is the projection of a JobWrapper handed to a worker client by
// GetNextJob: identity and input only, no wrapper internals.
type Job struct {
	JobID          string
	HandlerID      string
	JobInput       []byte
	AdditionalData []byte
}

// JobResult carries a worker client's outcome for SubmitResult.
type JobResult struct {
	JobID        string
	ClientID     string
	HasError     bool
	ErrorMessage string
	ResultString string
}

// HandlerInfo is the read-only reporting snapshot returned by GetInfo.
type HandlerInfo struct {
	HandlerID         string
	FullName          string
	JobName           string
	State             HandlerState
	AvailableCount    int
	PendingCount      int
	ProcessedCount    int64
	FailedCount       int64
	TotalJobCount     int64
	LastStartTime     time.Time
	NextStartTime     time.Time
}

// HandlerJobInfo is the reporting snapshot returned by GetJobInfo, used by
// worker clients deciding whether to deploy a new copy of the artifact.
type HandlerJobInfo struct {
	FullName         string
	AssemblyFileName string
	Dependencies     []string
}

// InitFailureReason enumerates the structured Initialize failure modes.
type InitFailureReason string

const (
	ReasonCompilationFailed     InitFailureReason = "CompilationFailed"
	ReasonJobInitializerMissing InitFailureReason = "JobInitializerMissing"
	ReasonTypeException         InitFailureReason = "TypeException"
	ReasonJobHandlerMissing     InitFailureReason = "JobHandlerMissing"
)

// InitResult is the structured result of Initialize.
type InitResult struct {
	Success      bool
	HandlerID    string
	AssemblyPath string
	FullName     string
	Reason       InitFailureReason
	Message      string
}
