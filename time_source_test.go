package orkestra

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockSleeperAdvances(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sleeper := ClockSleeper{Clock: clock}

	done := make(chan error, 1)
	go func() { done <- sleeper.Sleep(context.Background(), 5*time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(4 * time.Second)
	select {
	case <-done:
		t.Fatal("sleep returned before its duration elapsed")
	default:
	}

	clock.Advance(time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after the clock advanced")
	}
}

func TestClockSleeperCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ClockSleeper{Clock: clock}.Sleep(ctx, time.Hour) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sleep ignored cancellation")
	}
}

func TestSleepersWithZeroDuration(t *testing.T) {
	for name, sleeper := range map[string]Sleeper{
		"default": DefaultSleeper{},
		"clock":   ClockSleeper{Clock: clockwork.NewFakeClock()},
	} {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, sleeper.Sleep(context.Background(), 0))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			assert.ErrorIs(t, sleeper.Sleep(ctx, 0), context.Canceled)
		})
	}
}

func TestDefaultSleeperHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := DefaultSleeper{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClockTimeSource(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	ts := ClockTimeSource{Clock: clock}

	assert.Equal(t, start, ts.Now())
	clock.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), ts.Now())
}

func TestSleeperFunc(t *testing.T) {
	var got time.Duration
	s := SleeperFunc(func(_ context.Context, d time.Duration) error {
		got = d
		return nil
	})
	require.NoError(t, s.Sleep(context.Background(), 3*time.Second))
	assert.Equal(t, 3*time.Second, got)
}
