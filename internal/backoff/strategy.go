package backoff

import (
	"math"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Rand supplies uniformly distributed values in [0, 1).
type Rand interface {
	Float64() float64
}

// Params are the inputs shared by every strategy.
type Params struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// ParamsFrom reads the interval settings of an exponential backoff policy.
func ParamsFrom(b *cbackoff.ExponentialBackOff) Params {
	return Params{
		InitialInterval:     b.InitialInterval,
		MaxInterval:         b.MaxInterval,
		Multiplier:          b.Multiplier,
		RandomizationFactor: b.RandomizationFactor,
	}
}

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Calculate returns the delay before retry number retry (1-based).
	Calculate(retry int, p Params, rnd Rand) time.Duration
}

// ExponentialJitterStrategy grows the delay by Multiplier per retry and
// spreads it by ±RandomizationFactor.
type ExponentialJitterStrategy struct{}

func (ExponentialJitterStrategy) Calculate(retry int, p Params, rnd Rand) time.Duration {
	if retry < 1 {
		retry = 1
	}
	// Prevent overflow by limiting the exponent
	if retry > 30 {
		retry = 30
	}

	base := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(retry-1))
	if base > float64(p.MaxInterval) || base < 0 {
		base = float64(p.MaxInterval)
	}

	factor := clampFactor(p.RandomizationFactor)
	delta := factor * base
	delay := base - delta + rnd.Float64()*(2*delta)

	return bound(time.Duration(delay), p)
}

// DecorrelatedJitterStrategy picks a delay between the initial interval and
// three times the exponential ceiling.
type DecorrelatedJitterStrategy struct{}

func (DecorrelatedJitterStrategy) Calculate(retry int, p Params, rnd Rand) time.Duration {
	if retry <= 1 {
		return bound(p.InitialInterval, p)
	}
	if retry > 10 {
		retry = 10
	}

	base := float64(p.InitialInterval)
	upper := base * math.Pow(3.0, float64(retry-1))
	if upper > float64(p.MaxInterval) || upper < 0 {
		upper = float64(p.MaxInterval)
	}
	if upper < base {
		upper = base
	}

	return bound(time.Duration(base+rnd.Float64()*(upper-base)), p)
}

// bound keeps the delay within (0, MaxInterval].
func bound(d time.Duration, p Params) time.Duration {
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	if d <= 0 {
		d = time.Nanosecond
	}
	return d
}

// clampFactor keeps the randomization factor in [0, 1) so the lower bound of
// the spread stays positive.
func clampFactor(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f >= 1 {
		return 0.99
	}
	return f
}
