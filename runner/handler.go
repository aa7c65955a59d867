// Package runner holds the execution primitives of the engine: cooperative
// control, the deadline race and a retrying handler.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"

	report "github.com/goliatone/go-report"
)

type Handler struct {
	mu sync.Mutex

	logger        report.Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy

	runs           int
	successfulRuns int

	maxRuns    int
	maxRetries int
	timeout    time.Duration
	deadline   time.Time
	once       bool
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		errorHandler:  func(error) {},
		doneHandler:   func(*Handler) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Run calls fn until it succeeds or the retry budget is spent and returns
// the last error unchanged. Between attempts it waits as the retry strategy says,
// giving up early when ctx is done. A handler limited by WithRunOnce or
// WithMaxRuns returns nil without calling fn once the limit is reached.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	if h.once && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return nil
	}
	if h.successfulRuns >= h.maxRuns && h.maxRuns > 0 {
		h.mu.Unlock()
		return nil
	}
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		err = h.call(ctx, fn)
		if err == nil || attempt == maxRetries {
			break
		}

		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			h.logDebug("not retrying: %v", err)
			break
		}
		h.handleError(errors.Wrap(err, errors.CategoryHandler,
			fmt.Sprintf("run failed, attempt %d of %d", attempt+1, maxRetries+1)))

		if decision.Delay > 0 {
			if werr := sleep(ctx, decision.Delay); werr != nil {
				err = werr
				break
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs++
	if err == nil {
		h.successfulRuns++
	} else {
		h.handleError(errors.Wrap(err, errors.CategoryHandler,
			fmt.Sprintf("run failed after %d attempts", attempts)))
	}

	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.doneHandler(h)
	}
	return err
}

// Runs returns how many times Run executed and how many of those succeeded.
func (h *Handler) Runs() (total, successful int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

func (h *Handler) call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer report.CapturePanic(&err, "runner.Handler")
	return fn(ctx)
}

func (h *Handler) handleError(err error) {
	if h.logger != nil {
		h.logger.Error("runner: %v", err)
	}
	h.errorHandler(err)
}

func (h *Handler) logDebug(format string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(format, args...)
	}
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
