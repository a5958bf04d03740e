// Package wait runs bounded polling loops.
//
// A poll function reports one of three outcomes: Done, Retry (not ready yet),
// or a non-nil error which stops the loop immediately. Between attempts the
// caller's goroutine sleeps using go-rod's backoff sleeper; there is no
// external cancel, only the timeout.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod/lib/utils"
)

// Status is the non-error outcome of a single poll attempt.
type Status int

const (
	// Retry means the condition is not satisfied yet.
	Retry Status = iota
	// Done means the condition is satisfied and the loop should stop.
	Done
)

func (s Status) String() string {
	if s == Done {
		return "done"
	}
	return "retry"
}

// ErrTimeout is returned when the timeout elapses before the poll function
// reports Done.
var ErrTimeout = errors.New("timed out waiting for condition")

// Default intervals, in the range Chrome needs to bring up its DevTools agent.
const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultMaxInterval = 500 * time.Millisecond
)

// Options tune the sleep between attempts.
type Options struct {
	Interval    time.Duration // first sleep
	MaxInterval time.Duration // sleeps grow up to this
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = o.Interval
	}
	return o
}

// Result describes a finished loop.
type Result struct {
	Attempts int
	Elapsed  time.Duration
}

// For calls fn until it returns Done, returns an error, or timeout elapses.
// fn is always called at least once, and is called one final time after the
// deadline passes, so a condition that becomes true during the last sleep is
// still observed. The loop never returns ErrTimeout before timeout elapsed.
func For(timeout time.Duration, opts Options, fn func() (Status, error)) (Result, error) {
	opts = opts.withDefaults()
	start := time.Now()
	deadline := start.Add(timeout)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	sleep := utils.BackoffSleeper(opts.Interval, opts.MaxInterval, nil)

	var res Result
	for {
		res.Attempts++
		status, err := fn()
		res.Elapsed = time.Since(start)
		if err != nil {
			return res, err
		}
		if status == Done {
			return res, nil
		}
		if !time.Now().Before(deadline) {
			return res, ErrTimeout
		}

		// The sleeper returns early with ctx.Err() when the deadline hits;
		// the next iteration then makes the final attempt.
		_ = sleep(ctx)
	}
}
