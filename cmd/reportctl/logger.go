package main

import (
	"context"
	"io"

	"github.com/goliatone/go-logger/glog"

	report "github.com/goliatone/go-report"
)

// glogLogger adapts go-logger to report.Logger.
type glogLogger struct {
	logger glog.Logger
}

func newLogger(out io.Writer, level string, json bool) report.Logger {
	if json {
		return glogLogger{logger: glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		)}
	}
	return glogLogger{logger: glog.NewLogger(glog.WithWriter(out), glog.WithLevel(level))}
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) report.Logger {
	if l.logger == nil {
		return report.NewFmtLogger(nil).WithContext(ctx)
	}
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) report.Logger {
	if l.logger == nil {
		return report.NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}
