// Package dispatcher fans report and schedule events out to subscribers.
// Each subscriber runs under its own runner.Handler, so retries, timeouts
// and panic capture are configured per subscription.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/runner"
)

// Event is anything with a routing type.
type Event interface {
	Type() string
}

// HandlerFunc consumes one event type.
type HandlerFunc[T Event] func(ctx context.Context, evt T) error

// Dispatcher holds subscribers by event type.
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string][]subscriber
	nextID    uint64
	ExitOnErr bool
	logger    report.Logger
}

type subscriber struct {
	id      uint64
	handler any
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	d         *Dispatcher
	id        uint64
	eventType string
}

// ID identifies the subscription within its dispatcher.
func (s Subscription) ID() uint64 { return s.id }

// EventType is the event type the subscription listens to.
func (s Subscription) EventType() string { return s.eventType }

// Unsubscribe removes the subscriber. It reports false when it was already
// removed.
func (s Subscription) Unsubscribe() bool {
	if s.d == nil {
		return false
	}
	return s.d.remove(s.eventType, s.id)
}

// Option defines the functional option signature.
type Option func(*Dispatcher)

// NewDispatcher applies the given options to a new instance of the dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[string][]subscriber),
		ExitOnErr: false,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = report.NormalizeLogger(d.logger)
	return d
}

// WithExitOnError stops a dispatch at the first failing subscriber.
func WithExitOnError() Option {
	return func(d *Dispatcher) {
		d.ExitOnErr = true
	}
}

func WithLogger(l report.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func (d *Dispatcher) register(eventType string, handler any) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[eventType] = append(d.handlers[eventType], subscriber{id: d.nextID, handler: handler})
	return d.nextID
}

func (d *Dispatcher) remove(eventType string, id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.handlers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			d.handlers[eventType] = slices.Delete(slices.Clone(subs), i, i+1)
			return true
		}
	}
	return false
}

// Subscribers counts the subscribers of eventType.
func (d *Dispatcher) Subscribers(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

func (d *Dispatcher) snapshot(eventType string) []subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.handlers[eventType])
}

// Subscribe registers h for events of type T.
func Subscribe[T Event](d *Dispatcher, h HandlerFunc[T], runnerOpts ...runner.Option) Subscription {
	var evt T
	w := &wrapper[T]{
		runner:  runner.NewHandler(runnerOpts...),
		handler: h,
	}
	id := d.register(evt.Type(), w)
	return Subscription{d: d, id: id, eventType: evt.Type()}
}

// Dispatch delivers evt to every subscriber of T in registration order.
// An event nobody listens to is not an error. A nil dispatcher is a no-op.
func Dispatch[T Event](ctx context.Context, d *Dispatcher, evt T) error {
	if d == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return report.NewError(report.ErrCancelled, "dispatch aborted", err, map[string]any{
			"event": evt.Type(),
		})
	}

	var errs error
	for _, sub := range d.snapshot(evt.Type()) {
		w, ok := sub.handler.(*wrapper[T])
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("handler for %s does not accept %T", evt.Type(), evt))
			continue
		}
		if err := w.runner.Run(ctx, func(ctx context.Context) error { return w.handler(ctx, evt) }); err != nil {
			wrapped := report.NewError(report.ErrExecutionFailed, fmt.Sprintf("handler failed for event %s", evt.Type()), err, map[string]any{
				"event": evt.Type(),
			})
			if d.ExitOnErr {
				return wrapped
			}
			d.logger.Warn("event %s handler failed: %v", evt.Type(), err)
			errs = errors.Join(errs, wrapped)
		}
	}
	return errs
}

type wrapper[T Event] struct {
	runner  *runner.Handler
	handler HandlerFunc[T]
}
