package status

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	report "github.com/goliatone/go-report"
)

func TestCanTransitionAgreesWithTable(t *testing.T) {
	for _, from := range All() {
		md, ok := Of(from)
		require.True(t, ok, "missing metadata for %s", from)
		for _, to := range All() {
			want := slices.Contains(md.NextStates, to)
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)

			err := ValidateTransition(from, to)
			if want {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.Equal(t, report.ErrCodeInvalidTransition, report.ErrorCode(err))
		}
	}
}

func TestTerminalStatesHaveNoExitsExceptExportFlow(t *testing.T) {
	for _, s := range []Status{Failed, Cancelled, Timeout, Exported} {
		md, _ := Of(s)
		assert.True(t, md.Terminal, s)
		assert.Empty(t, md.NextStates, s)
	}

	assert.True(t, Completed.IsTerminal())
	assert.True(t, CanTransition(Completed, Exporting))
	assert.False(t, CanTransition(Completed, Running))
}

func TestErrorAndRetryFlags(t *testing.T) {
	assert.True(t, Failed.IsError())
	assert.True(t, Timeout.IsError())
	assert.False(t, Cancelled.IsError(), "cancellation is not an error")
	assert.True(t, Cancelled.AllowsRetry())
	assert.False(t, Completed.AllowsRetry())
	assert.True(t, Running.ShowsProgress())
	assert.False(t, Pending.ShowsProgress())
}

func TestTerminalStatesCarryNextAction(t *testing.T) {
	for _, s := range All() {
		if s.IsTerminal() {
			assert.NotEmpty(t, s.NextAction(), s)
		}
	}
	assert.Contains(t, Timeout.NextAction(), "date range")
	assert.NotEqual(t, Timeout.NextAction(), Failed.NextAction())
}

func TestValidateTransitionMetadata(t *testing.T) {
	err := ValidateTransition(Completed, Running)
	require.Error(t, err)

	md := report.ErrorMetadata(err)
	assert.Equal(t, "completed", md["from"])
	assert.Equal(t, "running", md["to"])
	assert.Equal(t, []string{"exporting"}, md["allowed"])
}

func TestOfReturnsCopy(t *testing.T) {
	md, _ := Of(Running)
	md.NextStates[0] = Exported

	again, _ := Of(Running)
	assert.Equal(t, Processing, again.NextStates[0])
}

func TestParse(t *testing.T) {
	s, err := Parse(" Export_Failed ")
	require.NoError(t, err)
	assert.Equal(t, ExportFailed, s)

	_, err = Parse("done")
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeValidation, report.ErrorCode(err))

	_, ok := Of(Status("bogus"))
	assert.False(t, ok)
	assert.False(t, CanTransition(Status("bogus"), Running))
}
