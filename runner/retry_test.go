package runner

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	report "github.com/goliatone/go-report"
)

type fixedDecisionStrategy struct {
	decision RetryDecision
}

func (s fixedDecisionStrategy) SleepDuration(int, error) time.Duration {
	return s.decision.Delay
}

func (s fixedDecisionStrategy) DecideRetry(int, error) RetryDecision {
	return s.decision
}

func TestDecideRetryUsesDeciderWhenAvailable(t *testing.T) {
	strategy := fixedDecisionStrategy{
		decision: RetryDecision{
			ShouldRetry: false,
			Delay:       25 * time.Millisecond,
			Metadata: map[string]any{
				"source": "test",
			},
		},
	}

	decision := DecideRetry(strategy, 1, fmt.Errorf("boom"))
	if decision.ShouldRetry {
		t.Fatal("expected strategy decision to disable retry")
	}
	if decision.Delay != 25*time.Millisecond {
		t.Fatalf("unexpected delay: %s", decision.Delay)
	}
	if decision.Metadata["source"] != "test" {
		t.Fatal("expected metadata propagation")
	}
}

func TestDecideRetryFallsBackToSleepDuration(t *testing.T) {
	strategy := ExponentialBackoffStrategy{
		Base:   10 * time.Millisecond,
		Factor: 2,
		Max:    100 * time.Millisecond,
	}
	decision := DecideRetry(strategy, 2, nil)
	if !decision.ShouldRetry {
		t.Fatal("expected fallback strategy to retry")
	}
	if decision.Delay != 40*time.Millisecond {
		t.Fatalf("unexpected fallback delay: %s", decision.Delay)
	}
}

func TestExponentialBackoffCapsAtMax(t *testing.T) {
	strategy := ExponentialBackoffStrategy{Base: 100 * time.Millisecond, Factor: 2, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, strategy.SleepDuration(0, nil))
	assert.Equal(t, 800*time.Millisecond, strategy.SleepDuration(3, nil))
	assert.Equal(t, time.Second, strategy.SleepDuration(10, nil))
}

func TestRetryableOnly(t *testing.T) {
	strategy := RetryableOnly{Strategy: ExponentialBackoffStrategy{Base: time.Millisecond, Factor: 1}}

	denied := report.NewError(report.ErrAccessDenied, "", nil, nil)
	decision := DecideRetry(strategy, 0, denied)
	assert.False(t, decision.ShouldRetry)
	assert.Equal(t, report.ErrCodeAccessDenied, decision.Metadata["code"])

	storage := report.NewError(report.ErrStorageFailed, "", nil, nil)
	decision = DecideRetry(strategy, 0, storage)
	assert.True(t, decision.ShouldRetry)
	assert.Equal(t, time.Millisecond, decision.Delay)

	decision = DecideRetry(strategy, 0, fmt.Errorf("plain"))
	assert.True(t, decision.ShouldRetry)
}
