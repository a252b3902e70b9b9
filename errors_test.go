package orkestra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientErrorFormatting(t *testing.T) {
	err := &ClientError{
		Type:        ErrorTypeService,
		Message:     "service returned an error",
		Cause:       errors.New("not found"),
		Service:     "things",
		Operation:   "GetThing",
		Attempt:     2,
		MaxAttempts: 3,
	}
	assert.Equal(t, "things.GetThing: ServiceError: service returned an error (not found) (attempt 2/3)", err.Error())

	var nilErr *ClientError
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
	assert.False(t, nilErr.Sent())
}

func TestClientErrorIsComparesType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ClientError{Type: ErrorTypeTimeout})

	assert.ErrorIs(t, err, &ClientError{Type: ErrorTypeTimeout})
	assert.NotErrorIs(t, err, &ClientError{Type: ErrorTypeService})
}

func TestClientErrorUnwrapChain(t *testing.T) {
	root := io.ErrUnexpectedEOF
	err := &ClientError{Type: ErrorTypeDispatch, Cause: NewConnectorError(&ConnectorError{Kind: ConnectorIO, Err: root})}

	assert.ErrorIs(t, err, root)
	var ce *ConnectorError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, ConnectorIO, ce.Kind)
}

func TestClientErrorDebugInfo(t *testing.T) {
	err := &ClientError{
		Type:         ErrorTypeService,
		Message:      "service returned an error",
		Service:      "things",
		Operation:    "GetThing",
		InvocationID: "abc",
		Attempt:      1,
		MaxAttempts:  3,
		Response:     &http.Response{StatusCode: 404},
		Timestamp:    time.Now(),
	}
	info := err.DebugInfo()
	assert.Contains(t, info, "Error Type: ServiceError")
	assert.Contains(t, info, "Operation: things.GetThing")
	assert.Contains(t, info, "Invocation ID: abc")
	assert.Contains(t, info, "Status Code: 404")
}

func TestBuildError(t *testing.T) {
	err := &BuildError{Builder: "client", Missing: []ComponentKind{ComponentRetryStrategy, ComponentSleeper}}
	assert.ErrorIs(t, err, ErrMissingRequiredComponent)
	assert.Contains(t, err.Error(), "retry_strategy, sleep_impl")
}

func TestAbortError(t *testing.T) {
	cause := errors.New("quota")
	err := Abort(cause)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrAborted.Error(), Abort(nil).Error())
	assert.False(t, IsTransient(err))
}

func TestAsOrchestratorErrorKeepsKind(t *testing.T) {
	inner := NewSerializationError(errors.New("bad input"))
	assert.Same(t, inner, asOrchestratorError(fmt.Errorf("ctx: %w", inner), KindOther))

	plain := asOrchestratorError(errors.New("plain"), KindConnector)
	assert.Equal(t, KindConnector, plain.Kind)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"io", &ConnectorError{Kind: ConnectorIO, Err: io.EOF}, true},
		{"timeout", &ConnectorError{Kind: ConnectorTimeout, Err: context.DeadlineExceeded}, true},
		{"user", &ConnectorError{Kind: ConnectorUser, Err: context.Canceled}, false},
		{"circuit open", &ConnectorError{Kind: ConnectorOther, Err: ErrCircuitOpen}, true},
		{"throttled", &ClientError{Type: ErrorTypeService, Response: &http.Response{StatusCode: 429}}, true},
		{"server", &ClientError{Type: ErrorTypeService, Response: &http.Response{StatusCode: 502}}, true},
		{"client", &ClientError{Type: ErrorTypeService, Response: &http.Response{StatusCode: 404}}, false},
		{"client timeout", &ClientError{Type: ErrorTypeTimeout}, true},
		{"plain", errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestErrorKindStrings(t *testing.T) {
	assert.Equal(t, "connector", KindConnector.String())
	assert.Equal(t, "other", OrchestratorErrorKind(42).String())
	assert.Equal(t, "timeout", ConnectorTimeout.String())
	assert.Equal(t, "throttling", ErrorKindThrottling.String())
}
