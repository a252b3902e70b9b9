package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Calculator pairs a Strategy with a random source. It is safe for concurrent
// use.
type Calculator struct {
	strategy Strategy

	mu  sync.Mutex
	rnd Rand
}

// NewCalculator creates a calculator. A nil rnd uses a time-seeded source.
func NewCalculator(strategy Strategy, rnd Rand) *Calculator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter does not need crypto rand
	}
	return &Calculator{strategy: strategy, rnd: rnd}
}

// Calculate returns the delay before the given retry.
func (c *Calculator) Calculate(retry int, p Params) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Calculate(retry, p, c.rnd)
}

// CalculateWith is Calculate with a strategy chosen by the caller, sharing
// this calculator's random source.
func (c *Calculator) CalculateWith(strategy Strategy, retry int, p Params) time.Duration {
	if strategy == nil {
		strategy = c.strategy
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return strategy.Calculate(retry, p, c.rnd)
}

// Strategy returns the strategy used by this calculator.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}

// ForName maps a configuration name to a strategy. Unknown names use
// exponential jitter.
func ForName(name string) Strategy {
	switch name {
	case "decorrelated":
		return DecorrelatedJitterStrategy{}
	default:
		return ExponentialJitterStrategy{}
	}
}
