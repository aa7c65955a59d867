// Package cron drives time-based work: a robfig/cron scheduler with
// cancellable job handles, and the Poller that runs due scheduled reports.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/runner"
)

// Job is the unit of work the scheduler runs.
type Job func(ctx context.Context) error

// Scheduler wraps robfig/cron.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)

	logger   report.Logger
	parser   Parser
	logLevel LogLevel

	ctx    context.Context
	cancel context.CancelFunc

	nextHandleID int64
	handles      map[int64]*jobHandle
}

// NewScheduler creates a scheduler. Jobs do not fire until Start.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		handles:  make(map[int64]*jobHandle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = report.NormalizeLogger(s.logger)
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Error("scheduled job failed: %v", err)
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = rcron.New(s.build()...)
	return s
}

// ScheduleCron runs job on every match of opts.Expression. A failed run is
// reported and the job stays scheduled.
func (s *Scheduler) ScheduleCron(opts JobOptions, job Job) (Handle, error) {
	if opts.Expression == "" {
		return nil, report.NewError(report.ErrScheduleInvalid, "cron expression cannot be empty", nil, nil)
	}
	if job == nil {
		return nil, report.NewError(report.ErrScheduleInvalid, "job cannot be nil", nil, nil)
	}
	run := s.runnable(opts, job)

	h := s.newHandle()
	entryID, err := s.cron.AddJob(opts.Expression, rcron.FuncJob(func() {
		if h.Status().IsTerminal() {
			return
		}
		h.setStatus(JobRunning, nil)
		if err := run(); err != nil {
			h.setStatus(JobIdle, err)
			return
		}
		h.setStatus(JobIdle, nil)
	}))
	if err != nil {
		return nil, report.NewError(report.ErrScheduleInvalid, fmt.Sprintf("invalid cron expression %q", opts.Expression), err, map[string]any{
			"expression": opts.Expression,
		})
	}
	h.entryID = int(entryID)
	s.storeHandle(h)
	return h, nil
}

// ScheduleAfter runs job once after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, opts JobOptions, job Job) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), opts, job)
}

// ScheduleAt runs job once at at. It fires even if the scheduler was never
// started, and is stopped by Stop.
func (s *Scheduler) ScheduleAt(at time.Time, opts JobOptions, job Job) (Handle, error) {
	if job == nil {
		return nil, report.NewError(report.ErrScheduleInvalid, "job cannot be nil", nil, nil)
	}
	run := s.runnable(opts, job)

	h := s.newHandle()
	s.storeHandle(h)

	go func() {
		timer := time.NewTimer(max(time.Until(at), 0))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-h.Done():
			return
		}

		if h.Status().IsTerminal() {
			return
		}
		h.setStatus(JobRunning, nil)
		err := run()
		s.removeStoredHandle(h.id)
		if err != nil {
			h.setTerminal(JobFailed, err)
			return
		}
		h.setTerminal(JobCompleted, nil)
	}()

	return h, nil
}

// Start begins firing cron jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop halts the engine, waits for running cron jobs up to ctx and marks
// every live handle stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()

	s.mu.Lock()
	handles := make([]*jobHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[int64]*jobHandle)
	s.mu.Unlock()

	for _, h := range handles {
		if h.entryID > 0 {
			s.cron.Remove(rcron.EntryID(h.entryID))
		}
		h.setTerminal(JobStopped, nil)
	}

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the next fire time of every cron job.
func (s *Scheduler) Entries() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

func (s *Scheduler) runnable(opts JobOptions, job Job) func() error {
	h := runner.NewHandler(s.runnerOptions(opts)...)
	return func() error {
		return h.Run(s.ctx, job)
	}
}

func (s *Scheduler) runnerOptions(opts JobOptions) []runner.Option {
	out := []runner.Option{
		runner.WithMaxRetries(opts.MaxRetries),
		runner.WithDeadline(opts.Deadline),
		runner.WithRunOnce(opts.RunOnce),
		runner.WithErrorHandler(s.errorHandler),
		runner.WithLogger(s.logger),
	}
	if opts.Timeout > 0 {
		out = append(out, runner.WithTimeout(opts.Timeout))
	}
	if opts.MaxRuns > 0 {
		out = append(out, runner.WithMaxRuns(opts.MaxRuns))
	}
	return out
}

func (s *Scheduler) removeHandle(id int64) {
	h := s.removeStoredHandle(id)
	if h != nil && h.entryID > 0 {
		s.cron.Remove(rcron.EntryID(h.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *jobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handles[id]
	delete(s.handles, id)
	return h
}

func (s *Scheduler) storeHandle(h *jobHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.id] = h
}

func (s *Scheduler) newHandle() *jobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &jobHandle{
		scheduler: s,
		id:        s.nextHandleID,
		status:    JobScheduled,
		done:      make(chan struct{}),
	}
}

// build converts scheduler options to robfig options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0, 4)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithSeconds())
	}

	opts = append(opts, rcron.WithChain(
		rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
	))

	if s.logLevel > LogLevelSilent {
		opts = append(opts, rcron.WithLogger(&loggerAdapter{logger: s.logger, level: s.logLevel}))
	} else {
		opts = append(opts, rcron.WithLogger(rcron.DiscardLogger))
	}
	return opts
}
