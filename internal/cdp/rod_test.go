package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimedReleasesDeadline(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want time.Duration
	}{
		{"call timeout by default", 0, time.Hour},
		{"explicit", time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &RodClient{browser: rod.New(), callTimeout: time.Hour}

			tb, release := c.timed(tt.d)
			ctx := tb.GetContext()
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(tt.want), deadline, 5*time.Second)
			require.NoError(t, ctx.Err())

			release()
			assert.ErrorIs(t, ctx.Err(), context.Canceled)
			assert.NoError(t, c.browser.GetContext().Err(), "the shared browser context stays usable")
		})
	}
}
