package orkestra

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for orchestrated calls. It is
// safe for concurrent use and every Record method is a no-op on a nil receiver.
type MetricsCollector struct {
	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	callsInFlight  *prometheus.GaugeVec
	attemptsTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	retryBudget    *prometheus.GaugeVec
	circuitBreaker *prometheus.GaugeVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkestra_calls_total",
				Help: "Total number of operation calls by outcome",
			},
			[]string{"service", "operation", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orkestra_call_duration_seconds",
				Help:    "Duration of operation calls including retries, in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),
		callsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orkestra_calls_in_flight",
				Help: "Number of operation calls currently in flight",
			},
			[]string{"service", "operation"},
		),
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkestra_attempts_total",
				Help: "Total number of attempts by attempt number and status code",
			},
			[]string{"service", "operation", "attempt", "status_code"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkestra_errors_total",
				Help: "Total number of failed calls by error type",
			},
			[]string{"service", "operation", "type"},
		),
		retryBudget: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orkestra_retry_budget_tokens",
				Help: "Tokens left in the retry budget",
			},
			[]string{"service"},
		),
		circuitBreaker: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orkestra_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		registry: registry,
	}
}

// RecordCallStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordCallStart(service, operation string) {
	if mc == nil {
		return
	}
	mc.callsInFlight.WithLabelValues(service, operation).Inc()
}

// RecordCallEnd decrements the in-flight gauge and records the outcome.
func (mc *MetricsCollector) RecordCallEnd(service, operation, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.callsInFlight.WithLabelValues(service, operation).Dec()
	mc.callsTotal.WithLabelValues(service, operation, outcome).Inc()
	mc.callDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordAttempt counts one attempt. statusCode is 0 when nothing was received.
func (mc *MetricsCollector) RecordAttempt(service, operation string, attempt, statusCode int) {
	if mc == nil {
		return
	}
	mc.attemptsTotal.WithLabelValues(service, operation, strconv.Itoa(attempt), strconv.Itoa(statusCode)).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(service, operation, errorType string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordRetryBudget sets the retry budget gauge.
func (mc *MetricsCollector) RecordRetryBudget(service string, tokens int64) {
	if mc == nil {
		return
	}
	mc.retryBudget.WithLabelValues(service).Set(float64(tokens))
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreaker.WithLabelValues(name).Set(float64(state))
}

// Registerer exposes the underlying prometheus registerer.
func (mc *MetricsCollector) Registerer() prometheus.Registerer {
	return mc.registry
}

var metricsStartKey = NewKey[time.Time]("metrics_call_start")

// MetricsInterceptor records call and attempt metrics.
type MetricsInterceptor struct {
	collector *MetricsCollector
}

// NewMetricsInterceptor creates an interceptor reporting to collector.
func NewMetricsInterceptor(collector *MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

func (m *MetricsInterceptor) Name() string { return "metrics" }

func (m *MetricsInterceptor) ReadBeforeExecution(_ context.Context, _ *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	metricsStartKey.Store(cfg, rc.TimeSource().Now())
	m.collector.RecordCallStart(ServiceNameKey.GetOr(cfg, ""), OperationNameKey.GetOr(cfg, ""))
	return nil
}

func (m *MetricsInterceptor) ReadAfterAttempt(_ context.Context, ic *InterceptorContext, _ *RuntimeComponents, cfg *ConfigBag) error {
	status := 0
	if resp := ic.Response(); resp != nil {
		status = resp.StatusCode
	}
	m.collector.RecordAttempt(ServiceNameKey.GetOr(cfg, ""), OperationNameKey.GetOr(cfg, ""), RequestAttemptsKey.GetOr(cfg, 1), status)
	return nil
}

func (m *MetricsInterceptor) ReadAfterExecution(_ context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	service, operation := ServiceNameKey.GetOr(cfg, ""), OperationNameKey.GetOr(cfg, "")
	var duration time.Duration
	if start, ok := metricsStartKey.Get(cfg); ok {
		duration = rc.TimeSource().Now().Sub(start)
	}

	outcome := "success"
	if err := ic.Err(); err != nil {
		outcome = "error"
		kind := KindOther
		if oe := asOrchestratorError(err, KindOther); oe != nil {
			kind = oe.Kind
		}
		m.collector.RecordError(service, operation, kind.String())
	}
	m.collector.RecordCallEnd(service, operation, outcome, duration)

	if s, ok := rc.RetryStrategy().(*StandardRetryStrategy); ok {
		m.collector.RecordRetryBudget(service, s.TokenBucket().Available())
	}
	return nil
}
