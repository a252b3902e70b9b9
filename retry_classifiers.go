package orkestra

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind is the retry category of a retryable error.
type ErrorKind int

const (
	ErrorKindTransient ErrorKind = iota
	ErrorKindThrottling
	ErrorKindServer
	ErrorKindClient
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindThrottling:
		return "throttling"
	case ErrorKindServer:
		return "server"
	case ErrorKindClient:
		return "client"
	default:
		return "unknown"
	}
}

// RetryActionKind is a classifier verdict.
type RetryActionKind int

const (
	RetryActionDontCare RetryActionKind = iota
	RetryActionRetryable
	RetryActionNotRetryable
)

// RetryAction is the result of classifying an attempt.
type RetryAction struct {
	Kind       RetryActionKind
	ErrorKind  ErrorKind
	RetryAfter time.Duration
}

func (a RetryAction) String() string {
	switch a.Kind {
	case RetryActionRetryable:
		return "retryable(" + a.ErrorKind.String() + ")"
	case RetryActionNotRetryable:
		return "not_retryable"
	default:
		return "dont_care"
	}
}

// DontCare leaves the decision to later classifiers.
func DontCare() RetryAction { return RetryAction{Kind: RetryActionDontCare} }

// NotRetryable forbids a retry.
func NotRetryable() RetryAction { return RetryAction{Kind: RetryActionNotRetryable} }

// Retryable marks the error as retryable with the given kind.
func Retryable(kind ErrorKind) RetryAction {
	return RetryAction{Kind: RetryActionRetryable, ErrorKind: kind}
}

// RetryClassifier inspects an attempt result.
type RetryClassifier interface {
	Name() string
	ClassifyRetry(ic *InterceptorContext) RetryAction
}

type classifierFunc struct {
	name string
	fn   func(ic *InterceptorContext) RetryAction
}

func (c classifierFunc) Name() string { return c.name }

func (c classifierFunc) ClassifyRetry(ic *InterceptorContext) RetryAction { return c.fn(ic) }

// NewRetryClassifier builds a classifier from a function.
func NewRetryClassifier(name string, fn func(ic *InterceptorContext) RetryAction) RetryClassifier {
	return classifierFunc{name: name, fn: fn}
}

// ClassifyRetry runs classifiers in order and returns the first verdict that
// is not DontCare. No classifiers means DontCare, which never retries.
func ClassifyRetry(ic *InterceptorContext, classifiers []RetryClassifier) RetryAction {
	for _, c := range classifiers {
		if action := c.ClassifyRetry(ic); action.Kind != RetryActionDontCare {
			return action
		}
	}
	return DontCare()
}

// DefaultRetryClassifiers returns the classifiers used by a new client.
func DefaultRetryClassifiers() []RetryClassifier {
	return []RetryClassifier{
		ModeledAsRetryableClassifier{},
		TransientErrorClassifier{},
		NewHTTPStatusCodeClassifier(),
	}
}

// RetryableError is implemented by modeled errors that know their retry kind.
type RetryableError interface {
	error
	RetryableErrorKind() (ErrorKind, bool)
}

// ModeledAsRetryableClassifier trusts errors that declare themselves retryable.
type ModeledAsRetryableClassifier struct{}

func (ModeledAsRetryableClassifier) Name() string { return "modeled_as_retryable" }

func (ModeledAsRetryableClassifier) ClassifyRetry(ic *InterceptorContext) RetryAction {
	var re RetryableError
	if !errors.As(ic.Err(), &re) {
		return DontCare()
	}
	if kind, ok := re.RetryableErrorKind(); ok {
		return Retryable(kind)
	}
	return DontCare()
}

// TransientErrorClassifier retries connector timeouts and I/O failures.
type TransientErrorClassifier struct{}

func (TransientErrorClassifier) Name() string { return "transient_error" }

func (TransientErrorClassifier) ClassifyRetry(ic *InterceptorContext) RetryAction {
	var ce *ConnectorError
	if !errors.As(ic.Err(), &ce) {
		return DontCare()
	}
	switch ce.Kind {
	case ConnectorTimeout, ConnectorIO:
		return Retryable(ErrorKindTransient)
	default:
		return DontCare()
	}
}

// HTTPStatusCodeClassifier retries failed attempts whose response status is
// transient or throttling. A Retry-After header sets the delay.
type HTTPStatusCodeClassifier struct {
	Transient  []int
	Throttling []int
	TimeSource TimeSource
}

// NewHTTPStatusCodeClassifier retries 500, 502, 503, 504 and 429.
func NewHTTPStatusCodeClassifier() HTTPStatusCodeClassifier {
	return HTTPStatusCodeClassifier{
		Transient:  []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		Throttling: []int{http.StatusTooManyRequests},
		TimeSource: SystemTimeSource{},
	}
}

func (HTTPStatusCodeClassifier) Name() string { return "http_status_code" }

func (c HTTPStatusCodeClassifier) ClassifyRetry(ic *InterceptorContext) RetryAction {
	resp := ic.Response()
	if ic.Err() == nil || resp == nil {
		return DontCare()
	}

	var action RetryAction
	switch {
	case containsStatus(c.Throttling, resp.StatusCode):
		action = Retryable(ErrorKindThrottling)
	case containsStatus(c.Transient, resp.StatusCode):
		action = Retryable(ErrorKindTransient)
	default:
		return DontCare()
	}

	now := time.Now()
	if c.TimeSource != nil {
		now = c.TimeSource.Now()
	}
	action.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	return action
}

func containsStatus(codes []int, status int) bool {
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return false
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}

	// Try parsing as seconds first
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(value); err == nil {
		delay := t.Sub(now)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
