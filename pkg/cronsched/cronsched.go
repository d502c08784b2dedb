package cronsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval overrides the default 5 second poll interval. Tests use
// this to avoid waiting on real cron boundaries.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler evaluates a parsed cron expression on a fixed poll interval and
// invokes a start callback when the computed NextStartTime has passed.
type Scheduler struct {
	mu           sync.Mutex
	sched        cron.Schedule
	next         time.Time
	pollInterval time.Duration
	logger       *slog.Logger
}

// New parses expr with minute/hour/day-of-month/month/day-of-week fields
// and returns a Scheduler whose NextStartTime is the next occurrence after
// now. A parse error is returned to the caller unchanged; it is the
// caller's responsibility to treat that as non-fatal and simply not
// construct a Scheduler.
func New(expr string, now time.Time, opts ...Option) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	parsed, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		sched:        parsed,
		pollInterval: 5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.next = parsed.Next(now)
	return s, nil
}

// NextStartTime returns the currently scheduled next start time.
func (s *Scheduler) NextStartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Run polls every pollInterval and, once NextStartTime has passed, calls
// tryStart with the current time. tryStart is expected to check that the
// handler is not already Running and invoke Start under the handler's own
// state lock, so a cron-triggered start and a manual Start never race.
// If tryStart reports that it actually started the handler, NextStartTime
// advances to the next cron occurrence from now; otherwise it is left
// unchanged so the next poll tries again immediately.
func (s *Scheduler) Run(ctx context.Context, tryStart func(now time.Time) bool) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()

			s.mu.Lock()
			due := s.next.Before(now)
			s.mu.Unlock()

			if !due {
				continue
			}

			started := tryStart(now)
			if !started {
				continue
			}

			s.mu.Lock()
			s.next = s.sched.Next(now)
			s.mu.Unlock()

			s.logger.Debug("cron scheduler advanced", "next_start", s.NextStartTime())
		}
	}
}
