// Package orchestrator runs report requests: validation, permission checks,
// per-user admission, the deadline race and the final bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/dispatcher"
	"github.com/goliatone/go-report/export"
	"github.com/goliatone/go-report/lifecycle"
	"github.com/goliatone/go-report/metrics"
	"github.com/goliatone/go-report/runner"
	"github.com/goliatone/go-report/source"
	"github.com/goliatone/go-report/status"
	"github.com/goliatone/go-report/storage"
)

type execution struct {
	report *lifecycle.Report
	req    report.Request
	userID string
	ctl    *runner.ManualExecutionControl
}

// Orchestrator owns the running set. Create one per process and share it.
type Orchestrator struct {
	source   source.DataSource
	exporter export.Exporter
	store    storage.Store

	catalog        *report.Catalog
	maxPerUser     int
	timeout        time.Duration
	retention      time.Duration
	logger         report.Logger
	metrics        *metrics.Collector
	events         *dispatcher.Dispatcher
	tracerName     string
	tracer         trace.Tracer
	clock          func() time.Time
	uploadRetries  int
	uploadStrategy runner.RetryStrategy

	mu      sync.RWMutex
	running map[string]*execution
}

// New wires the collaborators.
func New(src source.DataSource, exp export.Exporter, store storage.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:         src,
		exporter:       exp,
		store:          store,
		catalog:        report.DefaultCatalog(),
		maxPerUser:     DefaultMaxConcurrentPerUser,
		timeout:        DefaultTimeout,
		retention:      lifecycle.DefaultRetention,
		tracerName:     defaultTracerName,
		clock:          time.Now,
		uploadRetries:  DefaultUploadRetries,
		uploadStrategy: runner.RetryableOnly{Strategy: runner.ExponentialBackoffStrategy{Base: 200 * time.Millisecond, Factor: 2, Max: 2 * time.Second}},
		running:        make(map[string]*execution),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = report.NormalizeLogger(o.logger)
	o.tracer = otel.GetTracerProvider().Tracer(o.tracerName)
	return o
}

// Execute runs req to a terminal status and returns its result.
//
// Validation, permission and admission failures return an error and no
// result. A timeout returns the timeout result with REPORT_TIMEOUT; a
// failure returns the failed result with REPORT_EXECUTION_FAILED.
// Cancellation is not an error.
func (o *Orchestrator) Execute(ctx context.Context, req report.Request) (lifecycle.Result, error) {
	rep, err := o.ExecuteReport(ctx, req)
	if rep == nil {
		return lifecycle.Result{}, err
	}
	return rep.ToResult(), err
}

// ExecuteReport is Execute returning the entity, which stays usable for the
// export sub-flow.
func (o *Orchestrator) ExecuteReport(ctx context.Context, req report.Request) (*lifecycle.Report, error) {
	ctx, span := o.tracer.Start(ctx, "report.execute", trace.WithAttributes(
		attribute.String("report.type", string(req.Type)),
		attribute.String("report.format", string(req.Format)),
		attribute.String("report.user_id", req.Context.UserID),
		attribute.String("report.agency_id", req.Context.AgencyID),
	))
	defer span.End()

	rep, err := o.admit(req)
	if err != nil {
		o.metrics.AdmissionRejected(report.ErrorCode(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("report.id", rep.report.ID()))
	publish(ctx, o, dispatcher.ReportStarted{
		ReportID:   rep.report.ID(),
		ReportType: req.Type,
		Format:     req.Format,
		UserID:     req.Context.UserID,
		AgencyID:   req.Context.AgencyID,
		At:         o.clock(),
	})

	err = o.run(ctx, rep, o.deadline(req))

	res := rep.report.ToResult()
	publish(context.WithoutCancel(ctx), o, dispatcher.ReportFinished{Result: res, Err: err})
	span.SetAttributes(attribute.String("report.status", string(res.Status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rep.report, err
}

// admit validates req and registers a started report under one lock, so the
// per-user count and the registration cannot interleave with another
// request.
func (o *Orchestrator) admit(req report.Request) (*execution, error) {
	def, err := o.catalog.Validate(req)
	if err != nil {
		return nil, err
	}
	caps, ok := o.exporter.Capabilities(req.Format)
	if !ok {
		return nil, report.NewError(report.ErrUnknownFormat, fmt.Sprintf("no renderer for %s", req.Format), nil, map[string]any{
			"format": string(req.Format),
		})
	}
	if err := export.ValidateOptions(req.Format, caps, req.Options); err != nil {
		return nil, err
	}
	if err := o.catalog.Authorize(def, req.Context); err != nil {
		return nil, err
	}

	rep, err := lifecycle.New(req, o.catalog,
		lifecycle.WithClock(o.clock),
		lifecycle.WithRetention(o.retention),
	)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	userID := req.Context.UserID
	inFlight := o.inFlightLocked(userID)
	if inFlight >= o.maxPerUser {
		return nil, report.NewError(report.ErrConcurrencyLimit,
			fmt.Sprintf("user %s already has %d reports running", userID, inFlight), nil, map[string]any{
				"user_id":   userID,
				"in_flight": inFlight,
				"limit":     o.maxPerUser,
			})
	}
	if err := rep.Start(); err != nil {
		return nil, err
	}
	exec := &execution{report: rep, req: req.Clone(), userID: userID, ctl: runner.NewManualExecutionControl()}
	o.running[rep.ID()] = exec
	o.metrics.ExecutionStarted()
	return exec, nil
}

func (o *Orchestrator) run(ctx context.Context, exec *execution, timeout time.Duration) error {
	rep := exec.report
	log := report.WithLoggerFields(o.logger, map[string]any{
		"report_id": rep.ID(),
		"type":      rep.Type(),
		"user_id":   exec.userID,
	})
	start := o.clock()

	defer func() {
		o.remove(rep.ID())
		o.metrics.ExecutionFinished(string(rep.Type()), string(rep.Status()), o.clock().Sub(start))
	}()

	// A worker that loses the race may still store its artifact later. The
	// settled flag hands cleanup to whichever side finishes second.
	var (
		mu      sync.Mutex
		out     workResult
		settled bool
	)
	outcome := runner.Race(ctx, timeout, exec.ctl, func(wctx context.Context) error {
		res, werr := o.work(wctx, rep, exec.req)
		mu.Lock()
		defer mu.Unlock()
		out = res
		if settled {
			o.discard(ctx, res.file, log)
		}
		return werr
	})

	mu.Lock()
	settled = true
	result := out
	mu.Unlock()

	if outcome.Kind == runner.OutcomeCompleted {
		err := rep.AttachFile(result.file)
		if err == nil {
			err = rep.Complete(result.data, result.file.URL)
		}
		if err != nil {
			o.discard(ctx, result.file, log)
			return o.settleCancelled(rep, log)
		}
		log.Info("report completed in %s (%d records)", outcome.Elapsed, result.data.Records())
		return nil
	}
	o.discard(ctx, result.file, log)

	switch outcome.Kind {
	case runner.OutcomeTimeout:
		if terr := rep.Timeout(); terr != nil && rep.Status() != status.Timeout {
			return o.settleCancelled(rep, log)
		}
		log.Warn("report timed out after %s", outcome.Elapsed)
		return report.NewError(report.ErrTimeout, fmt.Sprintf("report %s timed out after %s", rep.ID(), timeout), outcome.Err, map[string]any{
			"report_id":  rep.ID(),
			"timeout_ms": timeout.Milliseconds(),
		})

	case runner.OutcomeCancelled:
		return o.settleCancelled(rep, log)

	default:
		execErr := o.executionError(rep, outcome.Err)
		if ferr := rep.Fail(execErr); ferr != nil {
			return o.settleCancelled(rep, log)
		}
		log.Error("report failed: %v", outcome.Err)
		return execErr
	}
}

// settleCancelled handles the paths where the report was cancelled from
// outside while the orchestrator was finishing it.
func (o *Orchestrator) settleCancelled(rep *lifecycle.Report, log report.Logger) error {
	if !rep.Status().IsTerminal() {
		_ = rep.Cancel("")
	}
	log.Info("report cancelled")
	return nil
}

func (o *Orchestrator) executionError(rep *lifecycle.Report, cause error) error {
	code := report.ErrorCode(cause)
	switch code {
	case report.ErrCodeCapacityExceeded, report.ErrCodeUnsupportedOption:
		return cause
	}
	md := map[string]any{"report_id": rep.ID()}
	if code != "" {
		md["cause_code"] = code
	}
	return report.NewError(report.ErrExecutionFailed, fmt.Sprintf("report %s failed", rep.ID()), cause, md)
}

func (o *Orchestrator) deadline(req report.Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return o.timeout
}

func (o *Orchestrator) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
}

// Cancel signals the running report id to stop and removes it from the
// running set. It returns false when id is not running or has already
// reached a terminal status.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	exec, ok := o.running[id]
	if ok {
		delete(o.running, id)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}

	if err := exec.report.Cancel("cancelled by request"); err != nil {
		o.logger.Debug("cancel %s: %v", id, err)
		return false
	}
	exec.ctl.Cancel(nil)
	return true
}

// discard deletes an artifact that belongs to a report which did not
// complete.
func (o *Orchestrator) discard(ctx context.Context, file lifecycle.File, log report.Logger) {
	if file.ID == "" {
		return
	}
	if err := o.store.Delete(context.WithoutCancel(ctx), file.ID); err != nil {
		log.Warn("discard artifact %s: %v", file.ID, err)
		return
	}
	log.Debug("discarded artifact %s", file.ID)
}

// Status returns the live snapshot of a running report.
func (o *Orchestrator) Status(id string) (lifecycle.Result, error) {
	o.mu.RLock()
	exec, ok := o.running[id]
	o.mu.RUnlock()
	if !ok {
		return lifecycle.Result{}, report.NewError(report.ErrNotFound, fmt.Sprintf("report %s is not running", id), nil, map[string]any{
			"report_id": id,
		})
	}
	return exec.report.ToResult(), nil
}

// Running lists the ids of running reports.
func (o *Orchestrator) Running() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// InFlight counts running reports of userID.
func (o *Orchestrator) InFlight(userID string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.inFlightLocked(userID)
}

func (o *Orchestrator) inFlightLocked(userID string) int {
	n := 0
	for _, exec := range o.running {
		if exec.userID == userID {
			n++
		}
	}
	return n
}

// publish delivers evt to the configured dispatcher. Subscriber failures
// are logged only.
func publish[T dispatcher.Event](ctx context.Context, o *Orchestrator, evt T) {
	if err := dispatcher.Dispatch(ctx, o.events, evt); err != nil {
		o.logger.Warn("publish %s: %v", evt.Type(), err)
	}
}
