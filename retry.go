package orkestra

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ambiyansyah-risyal/orkestra/internal/backoff"
)

// RetryConfig controls the standard retry strategy. It can be set on the
// client or overridden per call through the config bag.
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts" validate:"min=1,max=100"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	Multiplier          float64       `mapstructure:"multiplier" validate:"gte=1"`
	RandomizationFactor float64       `mapstructure:"randomization_factor" validate:"gte=0,lt=1"`
	Backoff             string        `mapstructure:"backoff" validate:"omitempty,oneof=exponential decorrelated"`
}

// DefaultRetryConfig returns three attempts with exponential backoff from one
// second up to twenty.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         3,
		InitialBackoff:      time.Second,
		MaxBackoff:          20 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		Backoff:             "exponential",
	}
}

// Validate checks the configuration.
func (c RetryConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	return nil
}

// exponentialBackOff expresses the config as a cenkalti/backoff policy.
func (c RetryConfig) exponentialBackOff() *cbackoff.ExponentialBackOff {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.RandomizationFactor
	b.MaxElapsedTime = 0
	return b
}

// ShouldAttemptKind is the retry strategy verdict.
type ShouldAttemptKind int

const (
	ShouldAttemptNo ShouldAttemptKind = iota
	ShouldAttemptYes
	ShouldAttemptYesAfterDelay
)

func (k ShouldAttemptKind) String() string {
	switch k {
	case ShouldAttemptYes:
		return "yes"
	case ShouldAttemptYesAfterDelay:
		return "yes_after_delay"
	default:
		return "no"
	}
}

// ShouldAttempt tells the orchestrator whether and when to make another attempt.
type ShouldAttempt struct {
	Kind  ShouldAttemptKind
	Delay time.Duration
}

func No() ShouldAttempt  { return ShouldAttempt{Kind: ShouldAttemptNo} }
func Yes() ShouldAttempt { return ShouldAttempt{Kind: ShouldAttemptYes} }

// YesAfterDelay asks for another attempt after d.
func YesAfterDelay(d time.Duration) ShouldAttempt {
	return ShouldAttempt{Kind: ShouldAttemptYesAfterDelay, Delay: d}
}

// RetryStrategy decides whether to make the initial request and each retry.
type RetryStrategy interface {
	ShouldAttemptInitialRequest(ctx context.Context, rc *RuntimeComponents, cfg *ConfigBag) (ShouldAttempt, error)
	ShouldAttemptRetry(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) (ShouldAttempt, error)
}

// NeverRetryStrategy makes exactly one attempt.
type NeverRetryStrategy struct{}

func (NeverRetryStrategy) ShouldAttemptInitialRequest(context.Context, *RuntimeComponents, *ConfigBag) (ShouldAttempt, error) {
	return Yes(), nil
}

func (NeverRetryStrategy) ShouldAttemptRetry(context.Context, *InterceptorContext, *RuntimeComponents, *ConfigBag) (ShouldAttempt, error) {
	return No(), nil
}

// RandomSource supplies uniformly distributed values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// StandardRetryStrategy retries classified-retryable failures with jittered
// exponential backoff, bounded by max attempts and a shared token bucket.
type StandardRetryStrategy struct {
	defaults RetryConfig
	bucket   *TokenBucket
	calc     *backoff.Calculator
}

// StandardRetryOption configures a StandardRetryStrategy.
type StandardRetryOption func(*standardRetrySettings)

type standardRetrySettings struct {
	config RetryConfig
	bucket *TokenBucket
	rnd    RandomSource
}

// WithRetryDefaults sets the config used when the bag has none.
func WithRetryDefaults(cfg RetryConfig) StandardRetryOption {
	return func(s *standardRetrySettings) { s.config = cfg }
}

// WithTokenBucket shares a retry budget between strategies.
func WithTokenBucket(tb *TokenBucket) StandardRetryOption {
	return func(s *standardRetrySettings) { s.bucket = tb }
}

// WithRandomSource replaces the jitter source, e.g. for deterministic tests.
func WithRandomSource(r RandomSource) StandardRetryOption {
	return func(s *standardRetrySettings) { s.rnd = r }
}

// NewStandardRetryStrategy creates the default retry strategy.
func NewStandardRetryStrategy(opts ...StandardRetryOption) *StandardRetryStrategy {
	settings := standardRetrySettings{config: DefaultRetryConfig()}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.bucket == nil {
		settings.bucket = NewTokenBucket(DefaultRetryBudgetCapacity)
	}

	var rnd backoff.Rand
	if settings.rnd != nil {
		rnd = settings.rnd
	}
	return &StandardRetryStrategy{
		defaults: settings.config,
		bucket:   settings.bucket,
		calc:     backoff.NewCalculator(backoff.ForName(settings.config.Backoff), rnd),
	}
}

// TokenBucket returns the retry budget.
func (s *StandardRetryStrategy) TokenBucket() *TokenBucket { return s.bucket }

func (s *StandardRetryStrategy) ShouldAttemptInitialRequest(context.Context, *RuntimeComponents, *ConfigBag) (ShouldAttempt, error) {
	return Yes(), nil
}

func (s *StandardRetryStrategy) ShouldAttemptRetry(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) (ShouldAttempt, error) {
	logger := zerolog.Ctx(ctx)
	conf := RetryConfigKey.GetOr(cfg, s.defaults)
	attempts := RequestAttemptsKey.GetOr(cfg, 1)

	err := ic.Err()
	if err == nil {
		if permit := retryPermitKey.GetOr(cfg, 0); permit > 0 {
			s.bucket.Deposit(permit)
			retryPermitKey.Store(cfg, 0)
		} else {
			s.bucket.Deposit(PermitRegenerationAmount)
		}
		return No(), nil
	}

	if errors.Is(err, ErrAborted) {
		return No(), nil
	}
	if attempts >= conf.MaxAttempts {
		logger.Debug().Int("attempts", attempts).Int("max_attempts", conf.MaxAttempts).Msg("not retrying: out of attempts")
		return No(), nil
	}

	action := ClassifyRetry(ic, rc.RetryClassifiers())
	if action.Kind != RetryActionRetryable {
		logger.Trace().Str("action", action.String()).Msg("not retrying: error is not retryable")
		return No(), nil
	}

	cost := int64(RetryCost)
	if IsTimeout(err) {
		cost = RetryTimeoutCost
	}
	if !s.bucket.Withdraw(cost) {
		logger.Debug().Int64("cost", cost).Int64("available", s.bucket.Available()).Msg("not retrying: retry budget exhausted")
		return No(), nil
	}
	retryPermitKey.Store(cfg, retryPermitKey.GetOr(cfg, 0)+cost)

	delay := action.RetryAfter
	if delay > 0 {
		if delay > conf.MaxBackoff {
			delay = conf.MaxBackoff
		}
	} else {
		delay = s.calc.CalculateWith(backoff.ForName(conf.Backoff), attempts, backoff.ParamsFrom(conf.exponentialBackOff()))
	}

	logger.Debug().Int("attempt", attempts).Dur("delay", delay).Str("error_kind", action.ErrorKind.String()).Msg("retrying after delay")
	return YesAfterDelay(delay), nil
}
