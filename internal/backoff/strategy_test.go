package backoff

import (
	"testing"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestParamsFrom(t *testing.T) {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 3 * time.Second
	b.Multiplier = 3
	b.RandomizationFactor = 0.2

	p := ParamsFrom(b)

	assert.Equal(t, Params{
		InitialInterval:     250 * time.Millisecond,
		MaxInterval:         3 * time.Second,
		Multiplier:          3,
		RandomizationFactor: 0.2,
	}, p)
}

func TestExponentialJitterStrategy(t *testing.T) {
	p := Params{InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second, Multiplier: 2, RandomizationFactor: 0.5}

	tests := []struct {
		name  string
		retry int
		rnd   float64
		want  time.Duration
	}{
		{"first retry midpoint", 1, 0.5, 100 * time.Millisecond},
		{"first retry low edge", 1, 0, 50 * time.Millisecond},
		{"third retry midpoint", 3, 0.5, 400 * time.Millisecond},
		{"capped at max interval", 10, 0.5, 2 * time.Second},
		{"spread above max is capped", 5, 0.99, 2 * time.Second},
		{"retry below one treated as one", 0, 0.5, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExponentialJitterStrategy{}.Calculate(tt.retry, p, fixedRand(tt.rnd))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExponentialJitterAlwaysPositive(t *testing.T) {
	p := Params{InitialInterval: time.Millisecond, MaxInterval: time.Second, Multiplier: 2, RandomizationFactor: 5}

	for retry := 1; retry < 40; retry++ {
		assert.Positive(t, ExponentialJitterStrategy{}.Calculate(retry, p, fixedRand(0)))
	}
}

func TestDecorrelatedJitterStrategy(t *testing.T) {
	p := Params{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, DecorrelatedJitterStrategy{}.Calculate(1, p, fixedRand(0.9)))
	assert.Equal(t, 100*time.Millisecond, DecorrelatedJitterStrategy{}.Calculate(2, p, fixedRand(0)))
	assert.Equal(t, 300*time.Millisecond, DecorrelatedJitterStrategy{}.Calculate(2, p, fixedRand(1)))
	assert.Equal(t, time.Second, DecorrelatedJitterStrategy{}.Calculate(20, p, fixedRand(1)))
}

func TestClampFactor(t *testing.T) {
	assert.Equal(t, 0.0, clampFactor(-1))
	assert.Equal(t, 0.3, clampFactor(0.3))
	assert.Equal(t, 0.99, clampFactor(1))
}
