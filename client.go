package orkestra

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Client runs operations through the orchestrator. Components and base
// configuration are fixed at construction; every call gets its own config
// bag and may override components. It is safe for concurrent use.
type Client struct {
	appID    string
	region   string
	endpoint string

	httpClient       *http.Client
	connector        Connector
	middleware       []Middleware
	circuitBreaker   *CircuitBreaker
	endpointResolver EndpointResolver

	retryConfig   RetryConfig
	timeoutConfig TimeoutConfig
	retryStrategy RetryStrategy
	tokenBucket   *TokenBucket
	classifiers   []RetryClassifier

	authSchemes       []AuthScheme
	identityResolvers []identityResolverEntry
	interceptors      []Interceptor
	plugins           []RuntimePlugin
	configLayer       *Layer

	timeSource TimeSource
	sleeper    Sleeper

	logger      zerolog.Logger
	logCloser   io.Closer
	logRequests bool
	tracer      trace.Tracer
	metrics     *MetricsCollector

	components      *RuntimeComponentsBuilder
	baseConfig      *ConfigBag
	configErrors    []string
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient:    &http.Client{},
		retryConfig:   DefaultRetryConfig(),
		timeoutConfig: DefaultTimeoutConfig(),
		tokenBucket:   NewTokenBucket(DefaultRetryBudgetCapacity),
		configLayer:   NewLayer("client"),
		timeSource:    SystemTimeSource{},
		sleeper:       DefaultSleeper{},
		logger:        zerolog.Nop(),
		tracer:        defaultTracer(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	client.components = client.defaultComponents()
	client.baseConfig = NewConfigBag(client.defaultLayer(), client.configLayer.Freeze())
	return client
}

// Close releases the log file opened by WithConfig, if any.
func (c *Client) Close() error {
	if c.logCloser == nil {
		return nil
	}
	err := c.logCloser.Close()
	c.logCloser = nil
	return err
}

// IsValid reports whether configuration validation passed.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// TokenBucket returns the retry budget shared by this client's calls.
func (c *Client) TokenBucket() *TokenBucket {
	return c.tokenBucket
}

// RuntimeComponents returns the client-level component builder. Callers must
// not modify it; merge it into a new builder instead.
func (c *Client) RuntimeComponents() *RuntimeComponentsBuilder {
	return c.components
}

func (c *Client) defaultLayer() *FrozenLayer {
	layer := NewLayer("client_defaults")
	RetryConfigKey.Put(layer, c.retryConfig)
	TimeoutConfigKey.Put(layer, c.timeoutConfig)
	if c.appID != "" {
		AppIDKey.Put(layer, c.appID)
	}
	if c.region != "" {
		EndpointParamsKey.Put(layer, EndpointParams{Region: c.region})
	}
	return layer.Freeze()
}

func (c *Client) defaultComponents() *RuntimeComponentsBuilder {
	b := NewRuntimeComponentsBuilder("client")

	connector := c.connector
	if connector == nil {
		connector = NewHTTPConnector(c.httpClient)
	}
	if c.circuitBreaker != nil {
		if c.metrics != nil && c.circuitBreaker.config.OnStateChange == nil {
			metrics := c.metrics
			c.circuitBreaker.config.OnStateChange = func(_, to CircuitState) {
				metrics.RecordCircuitBreakerState("connector", to)
			}
		}
		connector = c.circuitBreaker.Wrap(connector)
	}
	b.WithConnector(ChainConnector(connector, c.middleware...))

	switch {
	case c.endpointResolver != nil:
		b.WithEndpointResolver(c.endpointResolver)
	case c.endpoint != "":
		b.WithEndpointResolver(StaticEndpointResolver{URL: c.endpoint})
	}

	strategy := c.retryStrategy
	if strategy == nil {
		strategy = NewStandardRetryStrategy(WithRetryDefaults(c.retryConfig), WithTokenBucket(c.tokenBucket))
	}
	b.WithRetryStrategy(strategy)

	classifiers := c.classifiers
	if classifiers == nil {
		status := NewHTTPStatusCodeClassifier()
		status.TimeSource = c.timeSource
		classifiers = []RetryClassifier{ModeledAsRetryableClassifier{}, TransientErrorClassifier{}, status}
	}
	for _, rc := range classifiers {
		b.AddRetryClassifier(rc)
	}

	b.AddAuthScheme(NoAuthScheme{})
	b.AddAuthScheme(BearerAuthScheme{})
	for _, s := range c.authSchemes {
		b.AddAuthScheme(s)
	}
	for _, e := range c.identityResolvers {
		b.AddIdentityResolver(e.schemeID, e.resolver)
	}

	b.AddInterceptor(InvocationIDInterceptor{})
	b.AddInterceptor(RequestInfoInterceptor{})
	b.AddInterceptor(UserAgentInterceptor{})
	b.AddInterceptor(IdempotencyTokenInterceptor{})
	b.AddInterceptor(ContentMD5Interceptor{})
	if c.logRequests {
		b.AddInterceptor(LoggingInterceptor{})
	}
	if c.metrics != nil {
		b.AddInterceptor(NewMetricsInterceptor(c.metrics))
	}
	for _, i := range c.interceptors {
		b.AddInterceptor(i)
	}

	b.WithTimeSource(c.timeSource)
	b.WithSleeper(c.sleeper)
	return b
}
