package wait

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Options{Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestForDoneOnThirdAttempt(t *testing.T) {
	calls := 0
	res, err := For(time.Second, fast, func() (Status, error) {
		calls++
		if calls == 3 {
			return Done, nil
		}
		return Retry, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
}

func TestForFatalErrorStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	res, err := For(time.Second, fast, func() (Status, error) {
		calls++
		return Retry, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
}

func TestForTimeoutNotEarlyNotHanging(t *testing.T) {
	timeout := 80 * time.Millisecond
	start := time.Now()
	_, err := For(timeout, Options{Interval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}, func() (Status, error) {
		return Retry, nil
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout, "timed out early")
	assert.Less(t, elapsed, timeout+time.Second, "timeout overshot")
}

func TestForZeroTimeoutStillTriesOnce(t *testing.T) {
	calls := 0
	_, err := For(0, fast, func() (Status, error) {
		calls++
		return Retry, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, calls)

	calls = 0
	_, err = For(0, fast, func() (Status, error) {
		calls++
		return Done, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultInterval, o.Interval)
	assert.Equal(t, DefaultMaxInterval, o.MaxInterval)

	o = Options{Interval: time.Second}.withDefaults()
	assert.Equal(t, time.Second, o.MaxInterval, "max never below the first interval")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "retry", Retry.String())
}
