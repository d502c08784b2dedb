package wrapperqueue

import (
	"sync"
	"time"

	"github.com/jdziat/loaded-handler/pkg/core"
)

// Signal is an edge-triggered, coalescing wakeup channel. Raise is
// non-blocking: one wakeup is held until a listener takes it, and any
// further Raise while it is still held is dropped, not queued, since the
// control loop only ever cares whether *something* changed since its last
// wait, not how many times.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a ready-to-use Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise wakes one waiter on C, if any is currently waiting or will wait
// before the next Raise.
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel to select on.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Available is the FIFO queue of ready-to-dispatch wrappers. It supports
// concurrent producers (control loop, failed SubmitResult, timeout sweep)
// and concurrent consumers (GetNextJob).
type Available struct {
	mu    sync.Mutex
	items []*core.JobWrapper
}

// NewAvailable returns an empty Available queue.
func NewAvailable() *Available {
	return &Available{}
}

// Enqueue appends w to the tail of the queue.
func (a *Available) Enqueue(w *core.JobWrapper) {
	a.mu.Lock()
	a.items = append(a.items, w)
	a.mu.Unlock()
}

// TryDequeue removes and returns the oldest wrapper. ok is false if the
// queue was empty. drained reports whether the queue is empty after this
// call, which the caller uses to decide whether to raise AvailableDrained.
func (a *Available) TryDequeue() (w *core.JobWrapper, ok bool, drained bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.items) == 0 {
		return nil, false, true
	}

	w = a.items[0]
	a.items[0] = nil
	a.items = a.items[1:]
	return w, true, len(a.items) == 0
}

// Len reports the number of wrappers currently available.
func (a *Available) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Empty reports whether the queue has no wrappers.
func (a *Available) Empty() bool {
	return a.Len() == 0
}

// Clear empties the queue in place, for a handler Stop.
func (a *Available) Clear() {
	a.mu.Lock()
	a.items = nil
	a.mu.Unlock()
}

// Pending is the mapping from JobID to leased wrapper. All access is
// serialized by a single mutex, the pending lock shared by every
// Dispatch API call that touches a lease. stopped additionally guards
// the Stop/SubmitResult race: it is flipped in the same critical section
// that wipes items, so a concurrent Resolve either observes the
// pre-wipe map in full or observes stopped and rejects, with no state in
// between.
type Pending struct {
	mu      sync.Mutex
	items   map[string]*core.JobWrapper
	stopped bool
}

// NewPending returns an empty Pending map.
func NewPending() *Pending {
	return &Pending{items: make(map[string]*core.JobWrapper)}
}

// Insert adds w to pending, keyed by w.JobID.
func (p *Pending) Insert(w *core.JobWrapper) {
	p.mu.Lock()
	p.items[w.JobID] = w
	p.mu.Unlock()
}

// Reopen clears the stopped flag set by StopAndClear, for a fresh Start.
func (p *Pending) Reopen() {
	p.mu.Lock()
	p.stopped = false
	p.mu.Unlock()
}

// StopAndClear marks pending stopped and empties it in the same critical
// section, so Resolve calls racing a Stop see one consistent outcome.
func (p *Pending) StopAndClear() {
	p.mu.Lock()
	p.stopped = true
	p.items = make(map[string]*core.JobWrapper)
	p.mu.Unlock()
}

// Len reports the number of wrappers currently pending.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// ResolveOutcome is the result of a single atomic Resolve call.
type ResolveOutcome int

const (
	// ResolveStopped means the handler was stopped before or during the call.
	ResolveStopped ResolveOutcome = iota
	// ResolveNotFound means no wrapper with that JobID is pending.
	ResolveNotFound
	// ResolveMismatch means the wrapper is pending under a different client.
	ResolveMismatch
	// ResolveOK means the wrapper was found, owned by clientID, and removed.
	ResolveOK
)

// Resolve atomically checks that the handler is not stopped, looks up the
// wrapper for jobID, checks it is still assigned to clientID, and if so
// removes it from pending. This backs SubmitResult's lookup-and-claim step
// as a single critical section so a concurrent Stop (which wipes the whole
// map via StopAndClear) can never interleave with a half-completed submit:
// Resolve either runs entirely before StopAndClear and sees the live map,
// or entirely after and sees ResolveStopped.
func (p *Pending) Resolve(jobID, clientID string) (*core.JobWrapper, ResolveOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ResolveStopped
	}

	w, found := p.items[jobID]
	if !found {
		return nil, ResolveNotFound
	}
	if w.AssignedClientID != clientID {
		return nil, ResolveMismatch
	}
	delete(p.items, jobID)
	return w, ResolveOK
}

// Sweep removes and returns every wrapper whose AssignedTime is older than
// timeout relative to now. Callers are expected to Reset() each returned
// wrapper and re-enqueue it into available.
func (p *Pending) Sweep(now time.Time, timeout time.Duration) []*core.JobWrapper {
	if timeout <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var timedOut []*core.JobWrapper
	for id, w := range p.items {
		if now.Sub(w.AssignedTime) > timeout {
			timedOut = append(timedOut, w)
			delete(p.items, id)
		}
	}
	return timedOut
}

// Finished is the single-consumer FIFO of wrappers awaiting ProcessResult.
type Finished struct {
	mu    sync.Mutex
	items []*core.JobWrapper
}

// NewFinished returns an empty Finished queue.
func NewFinished() *Finished {
	return &Finished{}
}

// Enqueue appends w to the tail of the queue.
func (f *Finished) Enqueue(w *core.JobWrapper) {
	f.mu.Lock()
	f.items = append(f.items, w)
	f.mu.Unlock()
}

// DrainAll removes and returns every wrapper currently queued, in
// insertion order, so the control loop can pass each to ProcessResult
// without holding the lock across user code.
func (f *Finished) DrainAll() []*core.JobWrapper {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return nil
	}
	drained := f.items
	f.items = nil
	return drained
}

// Len reports the number of wrappers currently finished but unconsumed.
func (f *Finished) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Clear empties the queue in place, for a handler Stop.
func (f *Finished) Clear() {
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
}
