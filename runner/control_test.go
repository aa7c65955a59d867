package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	report "github.com/goliatone/go-report"
)

func TestManualControlPauseResume(t *testing.T) {
	ctl := NewManualExecutionControl()
	ctl.Pause()
	require.True(t, ctl.Paused())

	waited := make(chan error, 1)
	go func() { waited <- ctl.WaitIfPaused(context.Background()) }()

	select {
	case <-waited:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	ctl.Resume()
	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Resume")
	}
}

func TestManualControlCancelReleasesPausedWaiter(t *testing.T) {
	ctl := NewManualExecutionControl()
	ctl.Pause()

	waited := make(chan error, 1)
	go func() { waited <- ctl.WaitIfPaused(context.Background()) }()

	cause := errors.New("user asked")
	assert.True(t, ctl.Cancel(cause))
	assert.False(t, ctl.Cancel(errors.New("second")))

	select {
	case err := <-waited:
		assert.ErrorIs(t, err, cause)
	case <-time.After(time.Second):
		t.Fatal("cancel did not release waiter")
	}
	assert.ErrorIs(t, ctl.CancelCause(), cause)
	assert.False(t, ctl.Paused())
}

func TestManualControlDefaultCause(t *testing.T) {
	ctl := NewManualExecutionControl()
	ctl.Cancel(nil)
	assert.True(t, report.HasCode(ctl.CancelCause(), report.ErrCodeCancelled))
	assert.Error(t, ctl.WaitIfPaused(context.Background()))
}

func TestControlFromDefaultsToNoop(t *testing.T) {
	ctl := ControlFrom(context.Background())
	assert.Nil(t, ctl.Done())
	assert.NoError(t, ctl.WaitIfPaused(context.Background()))
}
