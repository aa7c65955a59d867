package cron

import (
	"fmt"
	"time"

	report "github.com/goliatone/go-report"
)

// LogLevel filters what the underlying cron engine logs.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser selects the cron expression dialect.
type Parser int

const (
	// DefaultParser is robfig's standard five field parser.
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

func WithLogger(logger report.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(s *Scheduler) {
		s.logLevel = level
	}
}

// WithErrorHandler receives job errors and recovered panics.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		if handler != nil {
			s.errorHandler = handler
		}
	}
}

func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// JobOptions describes how a job is triggered and retried.
type JobOptions struct {
	Expression string
	MaxRetries int
	Timeout    time.Duration
	Deadline   time.Time
	RunOnce    bool
	MaxRuns    int
}

// loggerAdapter adapts report.Logger to robfig/cron's logger.
type loggerAdapter struct {
	logger report.Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, keysAndValues ...any) {
	if l.level >= LogLevelInfo {
		l.logger.Debug("cron: %s %v", msg, keysAndValues)
	}
}

func (l *loggerAdapter) Error(err error, msg string, keysAndValues ...any) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s %v: %v", msg, keysAndValues, err)
	}
}

// errorHandlerAdapter feeds recovered panics to the error handler.
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(string, ...any) {}

func (e *errorHandlerAdapter) Error(err error, msg string, keysAndValues ...any) {
	if err == nil {
		err = fmt.Errorf("%s %v", msg, keysAndValues)
	}
	e.handler(report.NewError(report.ErrExecutionFailed, "cron job "+msg, err, nil))
}
