package runner

import (
	"context"
	"sync"

	report "github.com/goliatone/go-report"
)

// ExecutionControl provides cooperative execution control for workers.
type ExecutionControl interface {
	WaitIfPaused(ctx context.Context) error
	Done() <-chan struct{}
	CancelCause() error
}

type noopExecutionControl struct{}

func (noopExecutionControl) WaitIfPaused(ctx context.Context) error {
	return ctx.Err()
}

func (noopExecutionControl) Done() <-chan struct{} {
	return nil
}

func (noopExecutionControl) CancelCause() error {
	return nil
}

// NoopControl never pauses or cancels.
func NoopControl() ExecutionControl { return noopExecutionControl{} }

type controlKey struct{}

// ContextWithControl attaches ctl to ctx so workers deep in a call chain can
// reach their checkpoint.
func ContextWithControl(ctx context.Context, ctl ExecutionControl) context.Context {
	if ctl == nil {
		return ctx
	}
	return context.WithValue(ctx, controlKey{}, ctl)
}

// ControlFrom returns the control attached to ctx, or a no-op control.
func ControlFrom(ctx context.Context) ExecutionControl {
	if ctx != nil {
		if ctl, ok := ctx.Value(controlKey{}).(ExecutionControl); ok && ctl != nil {
			return ctl
		}
	}
	return noopExecutionControl{}
}

// ManualExecutionControl is a cooperative control that can be paused,
// resumed and cancelled from outside the worker.
type ManualExecutionControl struct {
	mu sync.RWMutex

	paused   bool
	resumeCh chan struct{}
	doneCh   chan struct{}
	cause    error
}

// NewManualExecutionControl creates a running, uncancelled control.
func NewManualExecutionControl() *ManualExecutionControl {
	return &ManualExecutionControl{
		resumeCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WaitIfPaused blocks while paused. It returns the cancel cause once the
// control is cancelled, or ctx.Err().
func (c *ManualExecutionControl) WaitIfPaused(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	for {
		c.mu.RLock()
		paused := c.paused
		resume := c.resumeCh
		done := c.doneCh
		cause := c.cause
		c.mu.RUnlock()

		if !paused {
			select {
			case <-done:
				return cause
			default:
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			c.mu.RLock()
			cause = c.cause
			c.mu.RUnlock()
			return cause
		case <-resume:
		}
	}
}

func (c *ManualExecutionControl) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doneCh
}

func (c *ManualExecutionControl) CancelCause() error {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

// Paused reports whether Pause is in effect.
func (c *ManualExecutionControl) Paused() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Pause blocks future WaitIfPaused calls until Resume is called.
func (c *ManualExecutionControl) Pause() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.cancelled() {
		return
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
}

// Resume unblocks waiters created by Pause.
func (c *ManualExecutionControl) Resume() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
}

// Cancel marks the control done with cause. A nil cause records
// REPORT_CANCELLED. Only the first call has effect; it returns whether this
// call cancelled.
func (c *ManualExecutionControl) Cancel(cause error) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled() {
		return false
	}
	if cause == nil {
		cause = report.NewError(report.ErrCancelled, "", nil, nil)
	}
	c.cause = cause
	if c.paused {
		c.paused = false
		close(c.resumeCh)
	}
	close(c.doneCh)
	return true
}

func (c *ManualExecutionControl) cancelled() bool {
	select {
	case <-c.doneCh:
		return true
	default:
		return false
	}
}
