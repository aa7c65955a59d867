package runner

import (
	"context"
	stderrors "errors"
	"time"

	report "github.com/goliatone/go-report"
)

// OutcomeKind is how a raced execution resolved.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeTimeout   OutcomeKind = "timeout"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome of Race.
type Outcome struct {
	Kind    OutcomeKind
	Err     error
	Elapsed time.Duration
}

// Race runs fn in its own goroutine and returns as soon as the first of the
// following resolves: fn returns, timeout elapses, ctl is cancelled or ctx
// is done. On every path but completion the worker context is cancelled;
// the worker is expected to stop at its next checkpoint. Its late result is
// written to a buffered channel and dropped.
//
// A timeout of zero or less disables the deadline. Panics in fn surface as
// an OutcomeFailed with REPORT_EXECUTION_FAILED.
func Race(ctx context.Context, timeout time.Duration, ctl ExecutionControl, fn func(context.Context) error) Outcome {
	if ctl == nil {
		ctl = noopExecutionControl{}
	}
	start := time.Now()

	workCtx, cancel := context.WithCancelCause(ContextWithControl(ctx, ctl))
	defer cancel(nil)

	done := make(chan error, 1)
	go func() {
		var err error
		defer func() { done <- err }()
		defer report.CapturePanic(&err, "runner.Race")
		err = fn(workCtx)
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	outcome := func(kind OutcomeKind, err error) Outcome {
		return Outcome{Kind: kind, Err: err, Elapsed: time.Since(start)}
	}

	select {
	case err := <-done:
		switch {
		case err == nil:
			return outcome(OutcomeCompleted, nil)
		case isClosed(ctl.Done()):
			return outcome(OutcomeCancelled, ctl.CancelCause())
		default:
			return outcome(OutcomeFailed, err)
		}
	case <-deadline:
		err := report.NewError(report.ErrTimeout, "", nil, map[string]any{
			"timeout_ms": timeout.Milliseconds(),
		})
		cancel(err)
		return outcome(OutcomeTimeout, err)
	case <-ctl.Done():
		cause := ctl.CancelCause()
		cancel(cause)
		return outcome(OutcomeCancelled, cause)
	case <-ctx.Done():
		err := ctx.Err()
		cancel(err)
		if stderrors.Is(err, context.DeadlineExceeded) {
			return outcome(OutcomeTimeout, report.NewError(report.ErrTimeout, "", err, nil))
		}
		return outcome(OutcomeCancelled, err)
	}
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
