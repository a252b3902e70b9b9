package orkestra

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for common failure scenarios
var (
	// ErrMissingRequiredComponent is matched by every *BuildError.
	ErrMissingRequiredComponent = errors.New("orkestra: missing required runtime component")

	// ErrRetryBudgetExceeded is returned when the retry strategy refuses a request
	ErrRetryBudgetExceeded = errors.New("orkestra: retry budget exceeded")

	// ErrCannotRewind is returned when a request body cannot be replayed for a retry
	ErrCannotRewind = errors.New("orkestra: request cannot be rewound")

	// ErrNoConnector is returned when an attempt reaches transmit without a connector
	ErrNoConnector = errors.New("orkestra: no connector configured")

	// ErrNoEndpointResolver is returned when the request has no absolute URL and no resolver
	ErrNoEndpointResolver = errors.New("orkestra: no endpoint resolver configured")

	// ErrNoIdentityResolver is returned when no auth scheme option has a usable identity resolver
	ErrNoIdentityResolver = errors.New("orkestra: no identity resolver for any auth scheme option")

	// ErrAborted is matched by every *AbortError
	ErrAborted = errors.New("orkestra: aborted by interceptor")

	// ErrInvalidOperation is returned when Invoke gets an operation without a serializer or deserializer
	ErrInvalidOperation = errors.New("orkestra: operation must have a serializer and a deserializer")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("orkestra: circuit open")
)

// Error type constants reported on *ClientError.
const (
	ErrorTypeConstruction  = "ConstructionError"
	ErrorTypeValidation    = "ValidationError"
	ErrorTypeSerialization = "SerializationError"
	ErrorTypeInterceptor   = "InterceptorError"
	ErrorTypeDispatch      = "DispatchError"
	ErrorTypeResponse      = "ResponseError"
	ErrorTypeService       = "ServiceError"
	ErrorTypeTimeout       = "TimeoutError"
	ErrorTypeCancelled     = "CancelledError"
)

// ClientError is the error returned from Invoke. It carries the failing
// operation, how far the call got and the underlying cause.
type ClientError struct {
	Type         string
	Message      string
	Cause        error
	Service      string
	Operation    string
	InvocationID string
	Attempt      int
	MaxAttempts  int
	Timestamp    time.Time
	Duration     time.Duration
	Response     *http.Response
	sent         bool
}

// Sent reports whether at least one attempt reached the connector.
func (e *ClientError) Sent() bool {
	return e != nil && e.sent
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s.%s: %s", e.Service, e.Operation, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error Type: %s\n", e.Type)
	fmt.Fprintf(&b, "Message: %s\n", e.Message)
	if e.Operation != "" {
		fmt.Fprintf(&b, "Operation: %s.%s\n", e.Service, e.Operation)
	}
	if e.InvocationID != "" {
		fmt.Fprintf(&b, "Invocation ID: %s\n", e.InvocationID)
	}
	if e.Response != nil {
		fmt.Fprintf(&b, "Status Code: %d\n", e.Response.StatusCode)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(&b, "Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	fmt.Fprintf(&b, "Sent: %t\n", e.sent)
	if !e.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "Cause: %v\n", e.Cause)
	}
	return b.String()
}

// ComponentKind names a RuntimeComponents slot.
type ComponentKind string

const (
	ComponentConnector        ComponentKind = "connector"
	ComponentEndpointResolver ComponentKind = "endpoint_resolver"
	ComponentIdentityResolver ComponentKind = "identity_resolver"
	ComponentAuthScheme       ComponentKind = "auth_scheme"
	ComponentInterceptor      ComponentKind = "interceptor"
	ComponentRetryStrategy    ComponentKind = "retry_strategy"
	ComponentRetryClassifier  ComponentKind = "retry_classifier"
	ComponentTimeSource       ComponentKind = "time_source"
	ComponentSleeper          ComponentKind = "sleep_impl"
)

// BuildError reports required components absent after merging all builders.
type BuildError struct {
	Builder string
	Missing []ComponentKind
}

func (e *BuildError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = string(m)
	}
	return fmt.Sprintf("orkestra: runtime components %q missing required: %s", e.Builder, strings.Join(names, ", "))
}

// Is makes errors.Is(err, ErrMissingRequiredComponent) true.
func (e *BuildError) Is(target error) bool {
	return target == ErrMissingRequiredComponent
}

// OrchestratorErrorKind classifies where in the pipeline a failure happened.
type OrchestratorErrorKind int

const (
	KindOther OrchestratorErrorKind = iota
	KindInterceptor
	KindConnector
	KindSerialization
	KindResponse
	KindTimeout
	KindOperation
)

func (k OrchestratorErrorKind) String() string {
	switch k {
	case KindInterceptor:
		return "interceptor"
	case KindConnector:
		return "connector"
	case KindSerialization:
		return "serialization"
	case KindResponse:
		return "response"
	case KindTimeout:
		return "timeout"
	case KindOperation:
		return "operation"
	default:
		return "other"
	}
}

// OrchestratorError is the error recorded in the InterceptorContext.
type OrchestratorError struct {
	Kind OrchestratorErrorKind
	Err  error
	// Response is the raw response for response and operation errors.
	Response *http.Response
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// NewOperationError wraps a modeled error returned by a deserializer.
func NewOperationError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: KindOperation, Err: err}
}

// NewConnectorError wraps a connector failure.
func NewConnectorError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: KindConnector, Err: err}
}

// NewSerializationError wraps a serializer failure.
func NewSerializationError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: KindSerialization, Err: err}
}

// NewResponseError wraps an unmodeled deserialization failure.
func NewResponseError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: KindResponse, Err: err}
}

func asOrchestratorError(err error, kind OrchestratorErrorKind) *OrchestratorError {
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe
	}
	return &OrchestratorError{Kind: kind, Err: err}
}

// ConnectorErrorKind describes a transport failure.
type ConnectorErrorKind int

const (
	ConnectorOther ConnectorErrorKind = iota
	ConnectorTimeout
	ConnectorIO
	ConnectorUser
)

func (k ConnectorErrorKind) String() string {
	switch k {
	case ConnectorTimeout:
		return "timeout"
	case ConnectorIO:
		return "io"
	case ConnectorUser:
		return "user"
	default:
		return "other"
	}
}

// ConnectorError is returned by connectors for transport failures.
type ConnectorError struct {
	Kind ConnectorErrorKind
	Err  error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector %s error: %v", e.Kind, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// IsTimeout reports whether err carries a connector timeout.
func IsTimeout(err error) bool {
	var ce *ConnectorError
	return errors.As(err, &ce) && ce.Kind == ConnectorTimeout
}

// InterceptorError reports one or more interceptor failures in a hook.
type InterceptorError struct {
	Hook        Hook
	Interceptor string
	Err         error
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("interceptor %s failed in %s: %v", e.Interceptor, e.Hook, e.Err)
}

func (e *InterceptorError) Unwrap() error { return e.Err }

// AbortError stops an operation without retrying it.
type AbortError struct {
	Err error
}

// Abort wraps err so that the orchestrator stops the call and never retries it.
func Abort(err error) error {
	return &AbortError{Err: err}
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return ErrAborted.Error()
	}
	return fmt.Sprintf("%v: %v", ErrAborted, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAborted) true.
func (e *AbortError) Is(target error) bool { return target == ErrAborted }

// IsTransient determines if an error represents a transient failure that might succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAborted) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Kind == ConnectorTimeout || ce.Kind == ConnectorIO
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeTimeout:
			return true
		case ErrorTypeService, ErrorTypeResponse:
			return clientErr.Response != nil && (clientErr.Response.StatusCode == http.StatusTooManyRequests || clientErr.Response.StatusCode >= 500)
		}
	}
	return false
}
