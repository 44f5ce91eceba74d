// Package scheduler keeps one recurring tick per subscriber and tracks
// whether each subscriber is scheduled, paused or unscheduled.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner executes one tick for a subscriber.
type Runner interface {
	Run(ctx context.Context, subscriberID int64) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, subscriberID int64) error

func (f RunnerFunc) Run(ctx context.Context, id int64) error { return f(ctx, id) }

// Job is a point-in-time view of one subscriber's schedule.
type Job struct {
	SubscriberID int64     `json:"subscriberId"`
	State        State     `json:"state"`
	Next         time.Time `json:"next,omitempty"` // zero unless ACTIVE and started
}

// Scheduler wraps robfig/cron with one entry per ACTIVE subscriber.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	period time.Duration
	logger *slog.Logger
	chain  cron.Chain

	mu      sync.Mutex
	ctx     context.Context
	entries map[int64]cron.EntryID
	states  map[int64]State
}

// New creates a Scheduler that ticks every subscriber every period. The first
// tick of a new entry fires one period after it is scheduled.
func New(runner Runner, period time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl)),
		runner:  runner,
		period:  period,
		logger:  logger,
		chain:   cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		ctx:     context.Background(),
		entries: make(map[int64]cron.EntryID),
		states:  make(map[int64]State),
	}
}

// Start starts the cron loop. Ticks run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("cron started", "period", s.period.String(), "active", n)
}

// Stop stops the cron loop and waits for running ticks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

// ─── Lifecycle per subscriber ────────────────────────────────────────────────

// Ensure schedules id if it has no job yet and reports whether it did. It
// never resumes a paused subscriber.
func (s *Scheduler) Ensure(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked(id) != StateNoJob {
		return false
	}
	s.scheduleLocked(id)
	return true
}

// Pause removes the entry of id, if any, and marks it PAUSED.
func (s *Scheduler) Pause(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transitionLocked(id, StatePaused) {
		return
	}
	s.removeLocked(id)
	s.logger.Info("paused", "subscriber_id", id)
}

// Resume schedules id unless it is already ACTIVE.
func (s *Scheduler) Resume(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked(id) == StateActive {
		return
	}
	s.scheduleLocked(id)
	s.logger.Info("resumed", "subscriber_id", id)
}

// Cancel removes the entry of id and forgets it.
func (s *Scheduler) Cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	delete(s.states, id)
}

// RunNow runs one tick for id synchronously, independent of its entry.
func (s *Scheduler) RunNow(ctx context.Context, id int64) error {
	return s.runner.Run(ctx, id)
}

// ─── Introspection ───────────────────────────────────────────────────────────

// State returns the scheduling state of id.
func (s *Scheduler) State(id int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(id)
}

// ActiveCount returns the number of scheduled entries.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Jobs returns every known subscriber ordered by id.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.states))
	for id, st := range s.states {
		j := Job{SubscriberID: id, State: st}
		if eid, ok := s.entries[id]; ok {
			j.Next = s.cron.Entry(eid).Next
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].SubscriberID < jobs[k].SubscriberID })
	return jobs
}

// ─── internals (mu held) ─────────────────────────────────────────────────────

func (s *Scheduler) stateLocked(id int64) State {
	if st, ok := s.states[id]; ok {
		return st
	}
	return StateNoJob
}

func (s *Scheduler) transitionLocked(id int64, to State) bool {
	from := s.stateLocked(id)
	if !IsTransitionAllowed(from, to) {
		return false
	}
	s.states[id] = to
	return true
}

func (s *Scheduler) scheduleLocked(id int64) {
	if !s.transitionLocked(id, StateActive) {
		return
	}
	// At most one entry per subscriber.
	s.removeLocked(id)
	job := s.chain.Then(cron.FuncJob(func() { s.tick(id) }))
	s.entries[id] = s.cron.Schedule(cron.Every(s.period), job)
	s.logger.Debug("scheduled", "subscriber_id", id)
}

func (s *Scheduler) removeLocked(id int64) {
	if eid, ok := s.entries[id]; ok {
		s.cron.Remove(eid)
		delete(s.entries, id)
	}
}

func (s *Scheduler) tick(id int64) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.runner.Run(ctx, id); err != nil {
		s.logger.Warn("tick finished with errors", "subscriber_id", id, "err", err)
	}
}

// cronLogger routes robfig/cron's logging to slog. Its chatty Info lines go
// to Debug.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
