package runner

import (
	"math"
	"time"

	report "github.com/goliatone/go-report"
)

// RetryStrategy encapsulates the delay between retries.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next retry attempt.
	// The attempt index starts at 0, incrementing after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// RetryDecision is the outcome of DecideRetry.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
	Metadata    map[string]any
}

// RetryDecider is implemented by strategies that can veto a retry.
type RetryDecider interface {
	DecideRetry(attempt int, err error) RetryDecision
}

// DecideRetry asks strategy whether and when to retry. Strategies that do not
// implement RetryDecider always retry after SleepDuration.
func DecideRetry(strategy RetryStrategy, attempt int, err error) RetryDecision {
	if strategy == nil {
		return RetryDecision{ShouldRetry: true}
	}
	if d, ok := strategy.(RetryDecider); ok {
		return d.DecideRetry(attempt, err)
	}
	return RetryDecision{ShouldRetry: true, Delay: strategy.SleepDuration(attempt, err)}
}

// NoDelayStrategy performs all retries immediately.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	return 0
}

// ExponentialBackoffStrategy implements a capped backoff.
//
//	WithRetryStrategy(ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	})
type ExponentialBackoffStrategy struct {
	// Base is the starting delay
	Base time.Duration
	// Factor is multiplied each iteration (2 => 100ms, 200ms, 400ms, ...)
	Factor float64
	// Max caps the delay
	Max time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if time.Duration(delay) > e.Max && e.Max > 0 {
		return e.Max
	}
	return time.Duration(delay)
}

// RetryableOnly wraps a strategy and refuses to retry errors that
// report.IsRetryable rejects, such as validation or capacity failures.
type RetryableOnly struct {
	Strategy RetryStrategy
}

func (r RetryableOnly) SleepDuration(attempt int, err error) time.Duration {
	if r.Strategy == nil {
		return 0
	}
	return r.Strategy.SleepDuration(attempt, err)
}

func (r RetryableOnly) DecideRetry(attempt int, err error) RetryDecision {
	if err != nil && report.ErrorCode(err) != "" && !report.IsRetryable(err) {
		return RetryDecision{
			ShouldRetry: false,
			Metadata:    map[string]any{"code": report.ErrorCode(err)},
		}
	}
	return RetryDecision{ShouldRetry: true, Delay: r.SleepDuration(attempt, err)}
}
