package orkestra

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

// Sleeper suspends the calling goroutine. Implementations must return early
// with the context error when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSource is implemented by time sources that can schedule callbacks.
// Attempt timeouts run on it when the configured TimeSource provides it.
type TimerSource interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// afterFunc schedules f on ts, or on the wall clock when ts cannot.
func afterFunc(ts TimeSource, d time.Duration, f func()) func() bool {
	if timers, ok := ts.(TimerSource); ok {
		return timers.AfterFunc(d, f)
	}
	return time.AfterFunc(d, f).Stop
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// SystemTimeSource reads the wall clock.
type SystemTimeSource struct{}

func (SystemTimeSource) Now() time.Time { return time.Now() }

func (SystemTimeSource) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// DefaultSleeper sleeps on a real timer.
type DefaultSleeper struct{}

func (DefaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ClockTimeSource reads time from a clockwork.Clock.
type ClockTimeSource struct {
	Clock clockwork.Clock
}

func (c ClockTimeSource) Now() time.Time { return c.Clock.Now() }

func (c ClockTimeSource) AfterFunc(d time.Duration, f func()) func() bool {
	return c.Clock.AfterFunc(d, f).Stop
}

// ClockSleeper sleeps on a clockwork.Clock, so a fake clock can drive retries
// in tests.
type ClockSleeper struct {
	Clock clockwork.Clock
}

func (c ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
