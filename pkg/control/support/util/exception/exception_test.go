package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

func TestControlError_WrapsSentinel(t *testing.T) {
	err := exception.NewControlErrorf("batch", exception.KindRejected, "cannot pause batch %s", "B-1", exception.ErrInvalidTransition)

	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
	assert.True(t, exception.IsRejected(err))
	assert.Equal(t, "[batch] cannot pause batch B-1: batch state transition not permitted", err.Error())
	assert.Empty(t, err.StackTrace)
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	inner := exception.NewControlError("safety", exception.KindSafety, "discrepancy", nil)
	wrapped := fmt.Errorf("evaluate: %w", inner)

	assert.Equal(t, exception.KindSafety, exception.KindOf(wrapped))
	assert.True(t, exception.IsSafety(wrapped))
	assert.Equal(t, exception.KindUnknown, exception.KindOf(errors.New("plain")))
}

func TestFromPanic_CapturesStack(t *testing.T) {
	var err *exception.ControlError
	func() {
		defer func() {
			err = exception.FromPanic("scan", recover())
		}()
		panic("boom")
	}()

	require.NotNil(t, err)
	assert.Equal(t, exception.KindCycle, err.Kind)
	assert.Contains(t, err.Message, "boom")
	assert.NotEmpty(t, err.StackTrace)
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	err := exception.Rejected("alarm", exception.ErrUnknownAlarm, "acknowledge %s", "TIC-101_HI")
	assert.Equal(t, "acknowledge TIC-101_HI: unknown alarm id", exception.ExtractErrorMessage(err))
	assert.Equal(t, "CONFIGURATION", exception.KindConfiguration.String())
}
