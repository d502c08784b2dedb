package handler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/loaded-handler/pkg/core"
	"github.com/jdziat/loaded-handler/pkg/generator"
)

// retryAfterGenerator rejects the first ProcessResult call with a
// RetryAfterError and accepts the second, to exercise the generator-driven
// retry path distinct from a worker-reported HasError result.
type retryAfterGenerator struct {
	generator.NoopLifecycle
	generator.NoopCustomSettings
	generator.EnqueueBinding

	mu       sync.Mutex
	created  bool
	attempts int
	finished bool
}

func (g *retryAfterGenerator) Initialize() error { return nil }

func (g *retryAfterGenerator) CreateMoreJobs(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.created {
		return
	}
	g.created = true
	_, _ = g.Enqueue([]byte("payload"), nil)
}

func (g *retryAfterGenerator) ProcessResult(ctx context.Context, jobInput []byte, resultString string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	if g.attempts < 2 {
		return core.RetryAfter(10*time.Millisecond, assert.AnError)
	}
	g.finished = true
	return nil
}

func (g *retryAfterGenerator) IsFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finished
}

func (g *retryAfterGenerator) GetTotalJobCount() int64 { return 1 }

func writeTestFile(dir, name, contents string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644)
}

type fakeGenerator struct {
	generator.NoopCustomSettings
	generator.EnqueueBinding

	mu              sync.Mutex
	totalJobs       int
	created         int
	finished        bool
	processed       []string
	onStartCalls    int
	onStopCalls     int
	onFinishedCalls int
	initErr         error
}

func (g *fakeGenerator) Initialize() error { return g.initErr }

func (g *fakeGenerator) OnStart() {
	g.mu.Lock()
	g.onStartCalls++
	g.mu.Unlock()
}

func (g *fakeGenerator) OnStop() {
	g.mu.Lock()
	g.onStopCalls++
	g.mu.Unlock()
}

func (g *fakeGenerator) OnFinished() {
	g.mu.Lock()
	g.onFinishedCalls++
	g.mu.Unlock()
}

func (g *fakeGenerator) CreateMoreJobs(ctx context.Context) {
	g.mu.Lock()
	remaining := g.totalJobs - g.created
	g.mu.Unlock()

	for i := 0; i < remaining; i++ {
		if _, err := g.Enqueue([]byte("payload"), nil); err != nil {
			return
		}
		g.mu.Lock()
		g.created++
		g.mu.Unlock()
	}
}

func (g *fakeGenerator) ProcessResult(ctx context.Context, jobInput []byte, resultString string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processed = append(g.processed, resultString)
	if len(g.processed) >= g.totalJobs {
		g.finished = true
	}
	return nil
}

func (g *fakeGenerator) IsFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finished
}

func (g *fakeGenerator) GetTotalJobCount() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(g.totalJobs)
}

type fakeInitializer struct {
	settings core.HandlerSettings
}

func (f fakeInitializer) GetHandlerSettings() core.HandlerSettings { return f.settings }
func (f fakeInitializer) GetCustomHandlerSettings() generator.CustomSettings { return nil }

func newTestHandler(t *testing.T, totalJobs int, settings core.HandlerSettings, opts ...Option) (*Handler, *fakeGenerator) {
	t.Helper()

	reg := generator.NewRegistry()
	gen := &fakeGenerator{totalJobs: totalJobs}
	reg.Register(settings.HandlerName, func() *fakeGenerator { return gen })

	descriptor := core.PackageDescriptor{PackageName: "testpkg", BaseFolder: t.TempDir()}
	h, result := Initialize(reg, descriptor, fakeInitializer{settings: settings}, opts...)
	require.True(t, result.Success, result.Message)
	return h, gen
}

func waitForJob(t *testing.T, h *Handler, clientID string) *core.Job {
	t.Helper()

	var job *core.Job
	require.Eventually(t, func() bool {
		j, ok := h.GetNextJob(clientID)
		if !ok {
			return false
		}
		job = j
		return true
	}, time.Second, 5*time.Millisecond)
	return job
}

func TestHandlerHappyPath(t *testing.T) {
	h, gen := newTestHandler(t, 2, core.HandlerSettings{HandlerName: "happy", JobName: "job", AutoStart: true}, WithWaitInterval(10*time.Millisecond))
	defer h.Stop()

	job1 := waitForJob(t, h, "client-a")
	job2 := waitForJob(t, h, "client-a")
	assert.NotEqual(t, job1.JobID, job2.JobID)

	assert.True(t, h.SubmitResult(core.JobResult{JobID: job1.JobID, ClientID: "client-a", ResultString: "ok-1"}))
	assert.True(t, h.SubmitResult(core.JobResult{JobID: job2.JobID, ClientID: "client-a", ResultString: "ok-2"}))

	require.Eventually(t, func() bool {
		return h.State() == core.StateFinished
	}, time.Second, 5*time.Millisecond)

	gen.mu.Lock()
	assert.ElementsMatch(t, []string{"ok-1", "ok-2"}, gen.processed)
	assert.Equal(t, 1, gen.onStartCalls)
	assert.Equal(t, 1, gen.onFinishedCalls)
	gen.mu.Unlock()

	info := h.GetInfo()
	assert.EqualValues(t, 2, info.ProcessedCount)
}

func TestHandlerRetryOnError(t *testing.T) {
	h, _ := newTestHandler(t, 1, core.HandlerSettings{HandlerName: "retry", JobName: "job", AutoStart: true}, WithWaitInterval(10*time.Millisecond))
	defer h.Stop()

	job := waitForJob(t, h, "client-a")
	assert.False(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-a", HasError: true, ErrorMessage: "boom"}))

	job2 := waitForJob(t, h, "client-b")
	assert.Equal(t, job.JobID, job2.JobID, "a failed job must return to available for re-lease")

	assert.True(t, h.SubmitResult(core.JobResult{JobID: job2.JobID, ClientID: "client-b", ResultString: "ok"}))

	info := h.GetInfo()
	assert.EqualValues(t, 1, info.FailedCount)
	assert.EqualValues(t, 1, info.ProcessedCount)
}

func TestHandlerTimeoutRequeue(t *testing.T) {
	h, _ := newTestHandler(t, 1, core.HandlerSettings{HandlerName: "timeout", JobName: "job", AutoStart: true, JobTimeout: 20 * time.Millisecond}, WithWaitInterval(10*time.Millisecond))
	defer h.Stop()

	job := waitForJob(t, h, "client-a")

	job2 := waitForJob(t, h, "client-b")
	assert.Equal(t, job.JobID, job2.JobID, "a timed-out lease must be requeued and re-leasable by a different client")

	assert.False(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-a", ResultString: "late"}), "the original client's lease was revoked by the timeout sweep")
	assert.True(t, h.SubmitResult(core.JobResult{JobID: job2.JobID, ClientID: "client-b", ResultString: "ok"}))
}

func TestHandlerSubmitResultClientMismatch(t *testing.T) {
	h, _ := newTestHandler(t, 1, core.HandlerSettings{HandlerName: "mismatch", JobName: "job", AutoStart: true}, WithWaitInterval(10*time.Millisecond))
	defer h.Stop()

	job := waitForJob(t, h, "client-a")
	before := h.GetInfo()

	assert.False(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-b", ResultString: "stolen"}))

	after := h.GetInfo()
	assert.Equal(t, before.PendingCount, after.PendingCount)
	assert.Equal(t, before.ProcessedCount, after.ProcessedCount)

	assert.True(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-a", ResultString: "ok"}))
}

func TestHandlerStopResetsState(t *testing.T) {
	h, gen := newTestHandler(t, 5, core.HandlerSettings{HandlerName: "stopreset", JobName: "job", AutoStart: true}, WithWaitInterval(10*time.Millisecond))

	job := waitForJob(t, h, "client-a")
	assert.True(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-a", ResultString: "ok"}))

	require.True(t, h.Stop())
	assert.Equal(t, core.StateStopped, h.State())

	info := h.GetInfo()
	assert.Equal(t, 0, info.AvailableCount)
	assert.Equal(t, 0, info.PendingCount)
	assert.EqualValues(t, 0, info.ProcessedCount)
	assert.EqualValues(t, 0, info.FailedCount)

	gen.mu.Lock()
	assert.Equal(t, 1, gen.onStopCalls)
	gen.mu.Unlock()

	assert.False(t, h.Stop(), "Stop on an already-stopped handler returns false")

	_, ok := h.GetNextJob("client-a")
	assert.False(t, ok)

	assert.False(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-a", ResultString: "late"}), "a result submitted after Stop must be rejected")
}

func TestHandlerDeadLettersAfterMaxAttempts(t *testing.T) {
	h, _ := newTestHandler(t, 1, core.HandlerSettings{HandlerName: "deadletter", JobName: "job", AutoStart: true, MaxJobAttempts: 2}, WithWaitInterval(10*time.Millisecond))
	defer h.Stop()

	job := waitForJob(t, h, "client-a")
	assert.False(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-a", HasError: true, ErrorMessage: "first failure"}))

	job2 := waitForJob(t, h, "client-b")
	assert.Equal(t, job.JobID, job2.JobID)
	assert.False(t, h.SubmitResult(core.JobResult{JobID: job2.JobID, ClientID: "client-b", HasError: true, ErrorMessage: "second failure"}))

	require.Eventually(t, func() bool {
		return h.State() == core.StateFinished
	}, time.Second, 5*time.Millisecond, "a dead-lettered job still reaches ProcessResult, so the generator can finish")

	_, ok := h.GetNextJob("client-c")
	assert.False(t, ok, "a job that exceeded MaxJobAttempts must not be requeued")
}

func TestHandlerGetFile(t *testing.T) {
	reg := generator.NewRegistry()
	gen := &fakeGenerator{totalJobs: 1}
	reg.Register("getfile", func() *fakeGenerator { return gen })

	base := t.TempDir()
	require.NoError(t, writeTestFile(base, "artifact.txt", "hello"))

	descriptor := core.PackageDescriptor{PackageName: "testpkg", BaseFolder: base}
	h, result := Initialize(reg, descriptor, fakeInitializer{settings: core.HandlerSettings{HandlerName: "getfile", JobName: "job"}})
	require.True(t, result.Success, result.Message)

	data, err := h.GetFile(context.Background(), "artifact.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = h.GetFile(context.Background(), "missing.txt")
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = h.GetFile(context.Background(), "../escape.txt")
	require.NoError(t, err)
	assert.Nil(t, data, "a path escaping the package folder must report missing, not the escaped file")
}

func TestHandlerCronStart(t *testing.T) {
	skewed := func() time.Time { return time.Now().Add(-2 * time.Minute) }

	h, _ := newTestHandler(t, 1, core.HandlerSettings{HandlerName: "cron", JobName: "job", Schedule: "* * * * *"},
		WithNowFunc(skewed), WithCronPollInterval(10*time.Millisecond), WithWaitInterval(10*time.Millisecond))
	defer h.Shutdown()
	defer h.Stop()

	assert.Equal(t, core.StateStopped, h.State())

	require.Eventually(t, func() bool {
		return h.State() == core.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerProcessResultRetryAfter(t *testing.T) {
	reg := generator.NewRegistry()
	gen := &retryAfterGenerator{}
	reg.Register("retry-after", func() *retryAfterGenerator { return gen })

	descriptor := core.PackageDescriptor{PackageName: "testpkg", BaseFolder: t.TempDir()}
	h, result := Initialize(reg, descriptor, fakeInitializer{settings: core.HandlerSettings{
		HandlerName: "retry-after", JobName: "job", AutoStart: true,
	}}, WithWaitInterval(10*time.Millisecond))
	require.True(t, result.Success, result.Message)
	defer h.Stop()

	job := waitForJob(t, h, "client-a")
	assert.True(t, h.SubmitResult(core.JobResult{JobID: job.JobID, ClientID: "client-a", ResultString: "first"}))

	// ProcessResult rejected the first attempt with a RetryAfterError, so
	// the same job must become leasable again once the delay elapses.
	job2 := waitForJob(t, h, "client-b")
	assert.Equal(t, job.JobID, job2.JobID)
	assert.True(t, h.SubmitResult(core.JobResult{JobID: job2.JobID, ClientID: "client-b", ResultString: "second"}))

	require.Eventually(t, func() bool {
		return h.State() == core.StateFinished
	}, time.Second, 5*time.Millisecond)

	gen.mu.Lock()
	assert.Equal(t, 2, gen.attempts)
	gen.mu.Unlock()
}

func TestHandlerEventsAndStateHooks(t *testing.T) {
	h, _ := newTestHandler(t, 1, core.HandlerSettings{HandlerName: "events", JobName: "job"}, WithWaitInterval(10*time.Millisecond))

	var hookMu sync.Mutex
	var hookTransitions [][2]core.HandlerState
	h.OnStateChange(func(from, to core.HandlerState) {
		hookMu.Lock()
		hookTransitions = append(hookTransitions, [2]core.HandlerState{from, to})
		hookMu.Unlock()
	})

	events := h.Events()
	h.Start()

	var gotStateChanged bool
	require.Eventually(t, func() bool {
		select {
		case e := <-events:
			if _, ok := e.(*core.HandlerStateChanged); ok {
				gotStateChanged = true
			}
		default:
		}
		return gotStateChanged
	}, time.Second, 5*time.Millisecond, "Events must carry the Stopped->Running transition")

	h.Unsubscribe(events)
	require.True(t, h.Stop())

	hookMu.Lock()
	assert.Contains(t, hookTransitions, [2]core.HandlerState{core.StateStopped, core.StateRunning})
	assert.Contains(t, hookTransitions, [2]core.HandlerState{core.StateRunning, core.StateStopped})
	hookMu.Unlock()

	// Unsubscribe does not close the channel: a receive that finds an
	// event still buffered from before Unsubscribe reports ok.
	select {
	case _, ok := <-events:
		assert.True(t, ok, "a channel drained right after Unsubscribe may still hold one buffered event")
	default:
	}
}
