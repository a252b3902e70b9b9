package orkestra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// recordingSleeper returns immediately and remembers every requested delay.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fixedRand always returns the same value.
type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// serviceError is the modeled error produced by testDeserializer.
type serviceError struct {
	Status    int
	Code      string
	retryable bool
}

func (e *serviceError) Error() string { return fmt.Sprintf("service error %d: %s", e.Status, e.Code) }

func (e *serviceError) RetryableErrorKind() (ErrorKind, bool) {
	return ErrorKindServer, e.retryable
}

type getThingInput struct {
	ID    string
	Token string
}

func (in *getThingInput) IdempotencyToken() string         { return in.Token }
func (in *getThingInput) SetIdempotencyToken(token string) { in.Token = token }

var testSerializer = SerializerFunc(func(ctx context.Context, input any, _ *ConfigBag) (*http.Request, error) {
	in, ok := input.(*getThingInput)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", input)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, "/things/"+in.ID, nil)
})

// testDeserializer returns the body for 2xx and a *serviceError otherwise.
var testDeserializer = DeserializerFunc(func(_ context.Context, resp *http.Response, _ *ConfigBag) (any, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewResponseError(err)
	}
	if resp.StatusCode >= 300 {
		return nil, &serviceError{Status: resp.StatusCode, Code: strings.TrimSpace(string(body))}
	}
	return string(body), nil
})

func testOperation() *Operation {
	return &Operation{
		Service:      "things",
		Name:         "GetThing",
		Serializer:   testSerializer,
		Deserializer: testDeserializer,
	}
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// scriptedConnector replays responses or errors in order and records every
// request it receives. The last entry repeats.
type scriptedConnector struct {
	mu       sync.Mutex
	script   []func(*http.Request) (*http.Response, error)
	requests []*http.Request
}

func (c *scriptedConnector) Call(_ context.Context, req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	i := len(c.requests) - 1
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i](req)
}

func (c *scriptedConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func respond(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) { return textResponse(status, body), nil }
}

func failWith(err error) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) { return nil, err }
}

// hookRecorder counts hook invocations.
type hookRecorder struct {
	mu    sync.Mutex
	calls map[Hook]int
}

func newHookRecorder() *hookRecorder { return &hookRecorder{calls: make(map[Hook]int)} }

func (r *hookRecorder) hook(h Hook) HookFunc {
	return func(context.Context, *InterceptorContext, *RuntimeComponents, *ConfigBag) error {
		r.mu.Lock()
		r.calls[h]++
		r.mu.Unlock()
		return nil
	}
}

func (r *hookRecorder) count(h Hook) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[h]
}

func (r *hookRecorder) interceptor() *InterceptorFuncs {
	return &InterceptorFuncs{
		ID:                              "recorder",
		OnReadBeforeExecution:           r.hook(HookReadBeforeExecution),
		OnModifyBeforeSerialization:     r.hook(HookModifyBeforeSerialization),
		OnReadAfterSerialization:        r.hook(HookReadAfterSerialization),
		OnModifyBeforeTransmit:          r.hook(HookModifyBeforeTransmit),
		OnModifyBeforeDeserialization:   r.hook(HookModifyBeforeDeserialization),
		OnReadAfterDeserialization:      r.hook(HookReadAfterDeserialization),
		OnModifyBeforeAttemptCompletion: r.hook(HookModifyBeforeAttemptCompletion),
		OnReadAfterAttempt:              r.hook(HookReadAfterAttempt),
		OnModifyBeforeCompletion:        r.hook(HookModifyBeforeCompletion),
		OnReadAfterExecution:            r.hook(HookReadAfterExecution),
	}
}

// newTestClient builds a client pointed at a fixed endpoint that never
// really sleeps.
func newTestClient(conn Connector, sleeper *recordingSleeper, opts ...Option) *Client {
	base := []Option{
		WithConnector(conn),
		WithEndpoint("https://things.example.com"),
		WithSleeper(sleeper),
		WithInitialBackoff(100 * time.Millisecond),
		WithMaxBackoff(time.Second),
	}
	return New(append(base, opts...)...)
}
