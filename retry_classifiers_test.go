package orkestra

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRetryFirstVerdictWins(t *testing.T) {
	ic := attemptResult(errors.New("x"), nil)
	var calls []string
	mk := func(name string, action RetryAction) RetryClassifier {
		return NewRetryClassifier(name, func(*InterceptorContext) RetryAction {
			calls = append(calls, name)
			return action
		})
	}

	action := ClassifyRetry(ic, []RetryClassifier{
		mk("indifferent", DontCare()),
		mk("refuses", NotRetryable()),
		mk("never asked", Retryable(ErrorKindTransient)),
	})
	assert.Equal(t, RetryActionNotRetryable, action.Kind)
	assert.Equal(t, []string{"indifferent", "refuses"}, calls)

	assert.Equal(t, RetryActionDontCare, ClassifyRetry(ic, nil).Kind)
}

func TestModeledAsRetryableClassifier(t *testing.T) {
	c := ModeledAsRetryableClassifier{}

	retryable := attemptResult(NewOperationError(&serviceError{Status: 500, retryable: true}), nil)
	action := c.ClassifyRetry(retryable)
	assert.Equal(t, RetryActionRetryable, action.Kind)
	assert.Equal(t, ErrorKindServer, action.ErrorKind)

	notDeclared := attemptResult(NewOperationError(&serviceError{Status: 500}), nil)
	assert.Equal(t, RetryActionDontCare, c.ClassifyRetry(notDeclared).Kind)

	assert.Equal(t, RetryActionDontCare, c.ClassifyRetry(attemptResult(nil, nil)).Kind)
}

func TestTransientErrorClassifier(t *testing.T) {
	c := TransientErrorClassifier{}
	tests := []struct {
		kind ConnectorErrorKind
		want RetryActionKind
	}{
		{ConnectorTimeout, RetryActionRetryable},
		{ConnectorIO, RetryActionRetryable},
		{ConnectorUser, RetryActionDontCare},
		{ConnectorOther, RetryActionDontCare},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			ic := attemptResult(NewConnectorError(&ConnectorError{Kind: tt.kind, Err: errors.New("x")}), nil)
			assert.Equal(t, tt.want, c.ClassifyRetry(ic).Kind)
		})
	}
}

func TestHTTPStatusCodeClassifier(t *testing.T) {
	c := NewHTTPStatusCodeClassifier()
	tests := []struct {
		status int
		want   RetryAction
	}{
		{http.StatusInternalServerError, Retryable(ErrorKindTransient)},
		{http.StatusBadGateway, Retryable(ErrorKindTransient)},
		{http.StatusServiceUnavailable, Retryable(ErrorKindTransient)},
		{http.StatusGatewayTimeout, Retryable(ErrorKindTransient)},
		{http.StatusTooManyRequests, Retryable(ErrorKindThrottling)},
		{http.StatusNotImplemented, DontCare()},
		{http.StatusBadRequest, DontCare()},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ic := attemptResult(NewOperationError(&serviceError{Status: tt.status}), textResponse(tt.status, ""))
			assert.Equal(t, tt.want, c.ClassifyRetry(ic))
		})
	}

	// A successful result is never retried, whatever the status.
	assert.Equal(t, DontCare(), c.ClassifyRetry(attemptResult(nil, textResponse(503, ""))))
}

func TestHTTPStatusCodeClassifierRetryAfterDate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	c := NewHTTPStatusCodeClassifier()
	c.TimeSource = ClockTimeSource{Clock: clock}

	resp := textResponse(503, "")
	resp.Header.Set("Retry-After", clock.Now().Add(30*time.Second).Format(http.TimeFormat))
	action := c.ClassifyRetry(attemptResult(errors.New("unavailable"), resp))
	assert.Equal(t, 30*time.Second, action.RetryAfter)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"padded seconds", " 7 ", 7 * time.Second},
		{"zero", "0", 0},
		{"negative", "-3", 0},
		{"capped", "7200", time.Hour},
		{"date", now.Add(time.Minute).Format(http.TimeFormat), time.Minute},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value, now))
		})
	}
}

func TestRetryActionString(t *testing.T) {
	assert.Equal(t, "retryable(throttling)", Retryable(ErrorKindThrottling).String())
	assert.Equal(t, "not_retryable", NotRetryable().String())
	assert.Equal(t, "dont_care", DontCare().String())
}
