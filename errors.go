package report

import (
	stderrors "errors"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	ErrCodeValidation        = "REPORT_VALIDATION_FAILED"
	ErrCodeUnknownType       = "REPORT_UNKNOWN_TYPE"
	ErrCodeUnknownFormat     = "REPORT_UNKNOWN_FORMAT"
	ErrCodeInvalidDateRange  = "REPORT_INVALID_DATE_RANGE"
	ErrCodeAccessDenied      = "REPORT_ACCESS_DENIED"
	ErrCodeConcurrencyLimit  = "REPORT_CONCURRENCY_LIMIT"
	ErrCodeCapacityExceeded  = "REPORT_CAPACITY_EXCEEDED"
	ErrCodeUnsupportedOption = "REPORT_UNSUPPORTED_OPTION"
	ErrCodeExecutionFailed   = "REPORT_EXECUTION_FAILED"
	ErrCodeTimeout           = "REPORT_TIMEOUT"
	ErrCodeCancelled         = "REPORT_CANCELLED"
	ErrCodeNotFound          = "REPORT_NOT_FOUND"
	ErrCodeInvalidTransition = "REPORT_INVALID_TRANSITION"
	ErrCodeInvalidState      = "REPORT_INVALID_STATE"
	ErrCodeScheduleInvalid   = "SCHEDULE_INVALID"
	ErrCodeScheduleNotFound  = "SCHEDULE_NOT_FOUND"
	ErrCodeVersionConflict   = "SCHEDULE_VERSION_CONFLICT"
	ErrCodeStorageFailed     = "STORAGE_FAILED"
	ErrCodeExportFailed      = "EXPORT_FAILED"
)

// Sentinels are templates: use NewError to derive a call-site error so the
// shared values never carry per-call metadata.
var (
	ErrValidation = errors.New("validation failed", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	ErrUnknownType = errors.New("unknown report type", errors.CategoryValidation).
			WithTextCode(ErrCodeUnknownType)
	ErrUnknownFormat = errors.New("unknown output format", errors.CategoryValidation).
				WithTextCode(ErrCodeUnknownFormat)
	ErrInvalidDateRange = errors.New("invalid date range", errors.CategoryValidation).
				WithTextCode(ErrCodeInvalidDateRange)
	ErrAccessDenied = errors.New("access denied", errors.CategoryAuthz).
			WithTextCode(ErrCodeAccessDenied)
	ErrConcurrencyLimit = errors.New("concurrent report limit reached", errors.CategoryRateLimit).
				WithTextCode(ErrCodeConcurrencyLimit)
	ErrCapacityExceeded = errors.New("format capacity exceeded", errors.CategoryBadInput).
				WithTextCode(ErrCodeCapacityExceeded)
	ErrUnsupportedOption = errors.New("option not supported by format", errors.CategoryBadInput).
				WithTextCode(ErrCodeUnsupportedOption)
	ErrExecutionFailed = errors.New("report execution failed", errors.CategoryHandler).
				WithTextCode(ErrCodeExecutionFailed)
	ErrTimeout = errors.New("report execution timed out", errors.CategoryHandler).
			WithTextCode(ErrCodeTimeout)
	ErrCancelled = errors.New("report execution cancelled", errors.CategoryHandler).
			WithTextCode(ErrCodeCancelled)
	ErrNotFound = errors.New("report not found", errors.CategoryNotFound).
			WithTextCode(ErrCodeNotFound)
	ErrInvalidTransition = errors.New("invalid status transition", errors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	ErrInvalidState = errors.New("operation not allowed in current state", errors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidState)
	ErrScheduleInvalid = errors.New("invalid schedule", errors.CategoryValidation).
				WithTextCode(ErrCodeScheduleInvalid)
	ErrScheduleNotFound = errors.New("schedule not found", errors.CategoryNotFound).
				WithTextCode(ErrCodeScheduleNotFound)
	ErrVersionConflict = errors.New("version conflict", errors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	ErrStorageFailed = errors.New("storage failed", errors.CategoryExternal).
				WithTextCode(ErrCodeStorageFailed)
	ErrExportFailed = errors.New("export failed", errors.CategoryExternal).
			WithTextCode(ErrCodeExportFailed)
)

// NewError clones base, overriding the message when given and attaching
// source and metadata.
func NewError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrExecutionFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the outermost go-errors error in err.
func ErrorCode(err error) string {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether any go-errors error in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var ge *errors.Error
		if !stderrors.As(err, &ge) {
			return false
		}
		if ge.TextCode == code {
			return true
		}
		err = ge.Source
	}
	return false
}

// ErrorMetadata returns metadata attached to the outermost go-errors error.
func ErrorMetadata(err error) map[string]any {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.Metadata
	}
	return nil
}

// IsRetryable reports whether the caller may retry the same request later.
// Validation and authorization failures never are.
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeConcurrencyLimit,
		ErrCodeExecutionFailed,
		ErrCodeTimeout,
		ErrCodeStorageFailed,
		ErrCodeExportFailed:
		return true
	default:
		return false
	}
}
