package orkestra

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Option configures a Client.
type Option func(*Client)

// TimeoutConfig bounds a call. Zero disables a timeout.
type TimeoutConfig struct {
	// OperationTimeout bounds the whole call, retries and backoff included.
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gte=0"`
	// AttemptTimeout bounds transmit of a single attempt.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gte=0"`
}

// DefaultTimeoutConfig has no operation timeout and a 30s attempt timeout.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{AttemptTimeout: 30 * time.Second}
}

// WithMaxAttempts sets the maximum number of attempts, the first included.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.retryConfig.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.retryConfig.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.retryConfig.MaxBackoff = d
	}
}

// WithBackoffMultiplier sets the backoff multiplier
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.retryConfig.Multiplier = f
	}
}

// WithJitter sets the randomization factor for backoff (0.0 to <1.0)
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f >= 1 {
			f = 0.99
		}
		c.retryConfig.RandomizationFactor = f
	}
}

// WithRetryConfig replaces the whole retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retryConfig = cfg
	}
}

// WithRetryStrategy replaces the standard retry strategy.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(c *Client) {
		c.retryStrategy = s
	}
}

// WithRetryBudget sets the token bucket capacity of the standard strategy.
func WithRetryBudget(capacity int) Option {
	return func(c *Client) {
		c.tokenBucket = NewTokenBucket(capacity)
	}
}

// WithRetryClassifiers replaces the default classifiers. Calling it with no
// classifiers disables retries.
func WithRetryClassifiers(classifiers ...RetryClassifier) Option {
	return func(c *Client) {
		c.classifiers = append([]RetryClassifier{}, classifiers...)
	}
}

// WithTimeouts sets operation and attempt timeouts.
func WithTimeouts(cfg TimeoutConfig) Option {
	return func(c *Client) {
		c.timeoutConfig = cfg
	}
}

// WithHTTPClient sets the net/http client used by the default connector.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithConnector replaces the default HTTP connector.
func WithConnector(conn Connector) Option {
	return func(c *Client) {
		c.connector = conn
	}
}

// WithMiddleware adds connector middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithCircuitBreaker fails fast while the service keeps failing.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithEndpoint sets a fixed endpoint URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		c.endpoint = url
	}
}

// WithEndpointResolver sets a custom endpoint resolver.
func WithEndpointResolver(r EndpointResolver) Option {
	return func(c *Client) {
		c.endpointResolver = r
	}
}

// WithRegion sets the region passed to endpoint resolution.
func WithRegion(region string) Option {
	return func(c *Client) {
		c.region = region
	}
}

// WithAppID adds an application id to the User-Agent.
func WithAppID(id string) Option {
	return func(c *Client) {
		c.appID = id
	}
}

// WithAuthScheme registers an additional auth scheme.
func WithAuthScheme(s AuthScheme) Option {
	return func(c *Client) {
		c.authSchemes = append(c.authSchemes, s)
	}
}

// WithIdentityResolver registers the identity resolver for an auth scheme.
func WithIdentityResolver(schemeID string, r IdentityResolver) Option {
	return func(c *Client) {
		c.identityResolvers = append(c.identityResolvers, identityResolverEntry{schemeID: schemeID, resolver: r})
	}
}

// WithBearerToken resolves bearer identities from a fixed token.
func WithBearerToken(token string) Option {
	return WithIdentityResolver(BearerAuthSchemeID, StaticIdentityResolver{Identity: Identity{Data: BearerToken{Token: token}}})
}

// WithInterceptor appends interceptors after the built-in ones.
func WithInterceptor(interceptors ...Interceptor) Option {
	return func(c *Client) {
		c.interceptors = append(c.interceptors, interceptors...)
	}
}

// WithRuntimePlugin adds client plugins, applied to every call in order.
func WithRuntimePlugin(plugins ...RuntimePlugin) Option {
	return func(c *Client) {
		c.plugins = append(c.plugins, plugins...)
	}
}

// WithConfigValue writes into the client's base configuration layer.
func WithConfigValue(fn func(l *Layer)) Option {
	return func(c *Client) {
		fn(c.configLayer)
	}
}

// WithTimeSource replaces the wall clock.
func WithTimeSource(ts TimeSource) Option {
	return func(c *Client) {
		c.timeSource = ts
	}
}

// WithSleeper replaces the sleep implementation used for backoff.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleeper = s
	}
}

// WithLogger sets the logger. A logger attached to the call context takes
// precedence.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRequestLogging logs every call and attempt at debug level.
func WithRequestLogging() Option {
	return func(c *Client) {
		c.logRequests = true
	}
}

// WithTracerProvider creates spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// ValidateConfiguration checks all client options and reports every problem
// at once.
func (c *Client) ValidateConfiguration() error {
	errors := append([]string{}, c.configErrors...)

	if err := c.retryConfig.Validate(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := validate.Struct(c.timeoutConfig); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timeout config: %v", err))
	}
	if c.httpClient == nil && c.connector == nil {
		errors = append(errors, "either an HTTP client or a connector is required")
	}
	if c.timeSource == nil {
		errors = append(errors, "time source must not be nil")
	}
	if c.sleeper == nil {
		errors = append(errors, "sleeper must not be nil")
	}
	if c.tokenBucket == nil {
		errors = append(errors, "retry budget must not be nil")
	}
	for i, m := range c.middleware {
		if m == nil {
			errors = append(errors, fmt.Sprintf("middleware at index %d is nil", i))
		}
	}
	for i, in := range c.interceptors {
		if in == nil {
			errors = append(errors, fmt.Sprintf("interceptor at index %d is nil", i))
		}
	}
	if c.timeoutConfig.OperationTimeout > 0 && c.timeoutConfig.AttemptTimeout > c.timeoutConfig.OperationTimeout {
		errors = append(errors, "attempt timeout must not exceed operation timeout")
	}

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}
	return nil
}

// CallOption overrides configuration or components for a single call.
type CallOption func(*callOverrides)

type callOverrides struct {
	layer      *Layer
	components *RuntimeComponentsBuilder
}

func newCallOverrides() *callOverrides {
	return &callOverrides{
		layer:      NewLayer("call_overrides"),
		components: NewRuntimeComponentsBuilder("call_overrides"),
	}
}

// WithCallConfig writes values into the call's override layer.
func WithCallConfig(fn func(l *Layer)) CallOption {
	return func(o *callOverrides) { fn(o.layer) }
}

// WithCallRetryConfig overrides the retry configuration for one call.
func WithCallRetryConfig(cfg RetryConfig) CallOption {
	return func(o *callOverrides) { RetryConfigKey.Put(o.layer, cfg) }
}

// WithCallTimeouts overrides the timeouts for one call.
func WithCallTimeouts(cfg TimeoutConfig) CallOption {
	return func(o *callOverrides) { TimeoutConfigKey.Put(o.layer, cfg) }
}

// WithCallComponents merges a builder into the call's components.
func WithCallComponents(fn func(b *RuntimeComponentsBuilder)) CallOption {
	return func(o *callOverrides) { fn(o.components) }
}

// WithCallInterceptor adds interceptors for one call.
func WithCallInterceptor(interceptors ...Interceptor) CallOption {
	return func(o *callOverrides) {
		for _, i := range interceptors {
			o.components.AddInterceptor(i)
		}
	}
}
