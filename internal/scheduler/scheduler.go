package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of periodic work. A returned error is logged and kept in
// the status; it does not stop the scheduler.
type Job func(ctx context.Context) error

type Option func(*Scheduler)

// WithContext decorates the context every run receives, e.g. to attach the
// identity the job runs as.
func WithContext(fn func(context.Context) context.Context) Option {
	return func(s *Scheduler) { s.decorate = fn }
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	Runs      int64      `json:"runs"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	decorate func(context.Context) context.Context

	running atomic.Bool
	runs    atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastMu    sync.Mutex
	lastRunAt time.Time
	lastErr   error
}

func New(name string, interval time.Duration, job Job, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	s := &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	if s.decorate != nil {
		ctx = s.decorate(ctx)
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "job", s.name, "interval", s.interval.String())

		s.safeRun(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping", "job", s.name)
				return
			case <-ticker.C:
				s.safeRun(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the current run and waits for it to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped", "job", s.name)
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Name:     s.name,
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Runs:     s.runs.Load(),
	}

	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if !s.lastRunAt.IsZero() {
		at := s.lastRunAt
		st.LastRunAt = &at
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) safeRun(ctx context.Context) {
	start := time.Now()
	err := s.run(ctx)

	s.runs.Add(1)
	s.lastMu.Lock()
	s.lastRunAt = start.UTC()
	s.lastErr = err
	s.lastMu.Unlock()

	if err != nil {
		slog.Error("scheduled run failed", "job", s.name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Info("scheduled run completed", "job", s.name, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler run panic recovered", "job", s.name, "panic", r)
			err = errors.New("job panicked")
		}
	}()
	return s.job(ctx)
}
