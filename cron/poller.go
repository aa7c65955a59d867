package cron

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/dispatcher"
	"github.com/goliatone/go-report/lifecycle"
	"github.com/goliatone/go-report/metrics"
	"github.com/goliatone/go-report/repository"
	"github.com/goliatone/go-report/runner"
	"github.com/goliatone/go-report/schedule"
	"github.com/goliatone/go-report/status"
)

const (
	// DefaultPollSpec is how often the poller looks for due schedules.
	DefaultPollSpec = "@every 1m"
	// DefaultStaleAfter is how long an execution may stay running before the
	// poller treats it as abandoned.
	DefaultStaleAfter = 15 * time.Minute

	DefaultSaveRetries = 3
)

// PasswordResolver supplies the password of an encrypted scheduled report.
// Passwords are never persisted with the schedule.
type PasswordResolver func(ctx context.Context, sr schedule.ScheduledReport) (string, error)

// StaticPassword resolves every schedule to password.
func StaticPassword(password string) PasswordResolver {
	return func(context.Context, schedule.ScheduledReport) (string, error) {
		return password, nil
	}
}

// Executor runs one report request. *orchestrator.Orchestrator satisfies it.
type Executor interface {
	Execute(ctx context.Context, req report.Request) (lifecycle.Result, error)
}

// TickResult summarises one poll.
type TickResult struct {
	Due       int
	Completed int
	Failed    int
	Cancelled int
	// Skipped counts schedules another worker claimed first.
	Skipped int
}

// Poller finds due scheduled reports and runs them through an Executor,
// recording every outcome on the schedule.
type Poller struct {
	repo    repository.Repository
	exec    Executor
	clock   func() time.Time
	logger  report.Logger
	metrics *metrics.Collector
	events  *dispatcher.Dispatcher

	passwords    PasswordResolver
	staleAfter   time.Duration
	saveRetries  int
	saveStrategy runner.RetryStrategy
}

type PollerOption func(*Poller)

func WithPollerClock(clock func() time.Time) PollerOption {
	return func(p *Poller) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func WithPollerLogger(l report.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = l
	}
}

func WithPollerMetrics(c *metrics.Collector) PollerOption {
	return func(p *Poller) {
		p.metrics = c
	}
}

// WithPollerDispatcher publishes a ScheduleExecuted event per recorded run.
func WithPollerDispatcher(d *dispatcher.Dispatcher) PollerOption {
	return func(p *Poller) {
		p.events = d
	}
}

// WithPasswordResolver resolves passwords of encrypted templates before each
// run.
func WithPasswordResolver(r PasswordResolver) PollerOption {
	return func(p *Poller) {
		p.passwords = r
	}
}

// WithPollerStaleAfter sets how long a running execution may go without an
// outcome before it is marked failed. Use more than the execution timeout.
func WithPollerStaleAfter(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

// WithPollerSaveRetry configures retries of the outcome save.
func WithPollerSaveRetry(retries int, strategy runner.RetryStrategy) PollerOption {
	return func(p *Poller) {
		if retries >= 0 {
			p.saveRetries = retries
		}
		if strategy != nil {
			p.saveStrategy = strategy
		}
	}
}

func NewPoller(repo repository.Repository, exec Executor, opts ...PollerOption) *Poller {
	p := &Poller{
		repo:         repo,
		exec:         exec,
		clock:        time.Now,
		staleAfter:   DefaultStaleAfter,
		saveRetries:  DefaultSaveRetries,
		saveStrategy: runner.ExponentialBackoffStrategy{Base: 100 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = report.NormalizeLogger(p.logger)
	return p
}

// Register polls on spec using s.
func (p *Poller) Register(s *Scheduler, spec string) (Handle, error) {
	if spec == "" {
		spec = DefaultPollSpec
	}
	return s.ScheduleCron(JobOptions{Expression: spec}, func(ctx context.Context) error {
		_, err := p.Tick(ctx, p.clock())
		return err
	})
}

// Tick runs every schedule due at now concurrently and waits for them.
func (p *Poller) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	due, err := p.repo.ListDue(ctx, now)
	if err != nil {
		return TickResult{}, err
	}

	var (
		mu  sync.Mutex
		res = TickResult{Due: len(due)}
		wg  sync.WaitGroup
	)
	for _, sr := range due {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := "failed"
			func() {
				defer report.MakePanicHandler(report.LoggerPanicLogger(p.logger))("cron.poller.run", map[string]any{
					"schedule_id": sr.ID,
				})
				outcome = p.runOne(ctx, sr, now)
			}()
			p.metrics.ScheduleRun(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case "completed":
				res.Completed++
			case "cancelled":
				res.Cancelled++
			case "skipped":
				res.Skipped++
			default:
				res.Failed++
			}
		}()
	}
	wg.Wait()
	return res, nil
}

func (p *Poller) runOne(ctx context.Context, sr schedule.ScheduledReport, now time.Time) string {
	log := report.WithLoggerFields(p.logger, map[string]any{"schedule_id": sr.ID})

	if e, ok := sr.Running(); ok && now.Sub(e.StartedAt) > p.staleAfter {
		recovered, err := sr.AbandonExecution(e.ID, now)
		if err != nil {
			log.Error("abandon execution %s: %v", e.ID, err)
			return "failed"
		}
		log.Warn("execution %s started at %s never finished, marking it failed", e.ID, e.StartedAt.Format(time.RFC3339))
		if !recovered.IsDue(now) {
			if err := p.repo.Save(ctx, recovered); err != nil {
				log.Debug("claim lost: %v", err)
				return "skipped"
			}
			return "failed"
		}
		sr = recovered
	} else if ok {
		log.Info("execution %s still running since %s", e.ID, e.StartedAt.Format(time.RFC3339))
		return "skipped"
	}

	execID := uuid.NewString()
	claimed, err := sr.StartExecution(execID, now)
	if err != nil {
		log.Debug("not starting: %v", err)
		return "skipped"
	}
	if err := p.repo.Save(ctx, claimed); err != nil {
		log.Debug("claim lost: %v", err)
		return "skipped"
	}

	req := claimed.BuildRequest(now)
	var (
		result lifecycle.Result
		runErr error
	)
	if req.Options.Encrypt && req.Options.Password == "" && p.passwords != nil {
		req.Options.Password, runErr = p.passwords(ctx, claimed)
	}
	if runErr == nil {
		result, runErr = p.exec.Execute(ctx, req)
	}
	finished := p.clock()

	outcome := "failed"
	apply := func(cur schedule.ScheduledReport) (schedule.ScheduledReport, error) {
		next, err := cur.FailExecution(execID, runErr, finished)
		if err == nil {
			next, err = next.RecordExecution(false, runErr, finished)
		}
		return next, err
	}
	switch {
	case runErr == nil && result.Status == status.Cancelled:
		outcome = "cancelled"
		apply = func(cur schedule.ScheduledReport) (schedule.ScheduledReport, error) {
			next, err := cur.CancelExecution(execID, finished)
			if err == nil {
				next, err = next.SkipExecution(finished)
			}
			return next, err
		}
	case runErr == nil:
		outcome = "completed"
		apply = func(cur schedule.ScheduledReport) (schedule.ScheduledReport, error) {
			next, err := cur.CompleteExecution(execID, schedule.ExecutionResult{
				ReportID:    result.ID,
				FileID:      result.Metadata.FileID,
				URL:         result.URL,
				RecordCount: result.Metadata.RecordCount,
				FileSize:    result.Metadata.FileSize,
				ExpiresAt:   result.Metadata.ExpiresAt,
			}, finished)
			if err == nil {
				next, err = next.RecordExecution(true, nil, finished)
			}
			return next, err
		}
	default:
		log.Warn("scheduled run failed: %v", runErr)
	}

	if err := p.record(ctx, claimed, execID, apply); err != nil {
		log.Error("record outcome of %s: %v", execID, err)
		outcome = "failed"
	}

	evt := dispatcher.ScheduleExecuted{
		ScheduleID:  sr.ID,
		ExecutionID: execID,
		ReportID:    result.ID,
		Outcome:     outcome,
		Err:         runErr,
		At:          finished,
	}
	if err := dispatcher.Dispatch(context.WithoutCancel(ctx), p.events, evt); err != nil {
		log.Warn("publish %s: %v", evt.Type(), err)
	}
	return outcome
}

// record applies the outcome of execID and saves it. Failed saves are retried
// against a freshly loaded copy, so a lost write or a concurrent edit does not
// leave the execution running.
func (p *Poller) record(ctx context.Context, claimed schedule.ScheduledReport, execID string, apply func(schedule.ScheduledReport) (schedule.ScheduledReport, error)) error {
	ctx = context.WithoutCancel(ctx)
	base := claimed
	reload := false

	h := runner.NewHandler(
		runner.WithMaxRetries(p.saveRetries),
		runner.WithRetryStrategy(p.saveStrategy),
		runner.WithLogger(p.logger),
	)
	return h.Run(ctx, func(ctx context.Context) error {
		if reload {
			cur, err := p.repo.Get(ctx, claimed.ID)
			if err != nil {
				return err
			}
			if e, ok := cur.Running(); !ok || e.ID != execID {
				// already recorded, or abandoned by another poller
				return nil
			}
			base = cur
		}
		reload = true

		next, err := apply(base)
		if err != nil {
			return err
		}
		return p.repo.Save(ctx, next)
	})
}
