package report

import (
	"fmt"
	"runtime"
	"strings"
)

type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler returns a function meant to be deferred directly; it
// recovers a panic and hands it to logger with a trimmed stack.
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			logger(funcName, err, panicStack(), fields...)
		}
	}
}

// LoggerPanicLogger adapts a Logger to PanicLogger.
func LoggerPanicLogger(logger Logger) PanicLogger {
	logger = NormalizeLogger(logger)
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		l := logger
		if len(fields) > 0 && fields[0] != nil {
			l = WithLoggerFields(logger, fields[0])
		}
		l.Error("recovered from panic in %s: %v\n%s", funcName, err, stack)
	}
}

// CapturePanic converts a panic into an execution error stored in errp.
// It must be deferred directly:
//
//	defer report.CapturePanic(&err, "source.generate")
func CapturePanic(errp *error, funcName string) {
	if r := recover(); r != nil {
		if errp == nil {
			return
		}
		*errp = NewError(ErrExecutionFailed, fmt.Sprintf("panic in %s: %v", funcName, r), nil, map[string]any{
			"panic": fmt.Sprint(r),
			"stack": string(panicStack()),
		})
	}
}

func panicStack() []byte {
	full := make([]byte, 8096)
	n := runtime.Stack(full, false)
	return cleanStackTrace(full[:n])
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() frame and its file reference
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
