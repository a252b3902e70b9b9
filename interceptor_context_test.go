package orkestra

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterceptorContextPhaseGuards(t *testing.T) {
	ic := NewInterceptorContext("input")
	assert.Equal(t, PhaseBeforeSerialization, ic.Phase())

	ic.SetInput("replaced")
	assert.Equal(t, "replaced", ic.Input())

	assert.Panics(t, func() { ic.SetRequest(&http.Request{}) })
	assert.Panics(t, func() { ic.SetResponse(&http.Response{}) })
	assert.Panics(t, func() { ic.takeInput() })

	ic.advance(PhaseSerialization)
	assert.Equal(t, "replaced", ic.takeInput())
	assert.Nil(t, ic.Input())
	assert.Panics(t, func() { ic.SetInput("late") })

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
	ic.SetRequest(req)
	assert.Same(t, req, ic.Request())
}

func TestInterceptorContextAdvanceIsForwardOnly(t *testing.T) {
	ic := NewInterceptorContext(nil)
	assert.Panics(t, func() { ic.advance(PhaseBeforeTransmit) }, "skipping a phase")

	ic.advance(PhaseSerialization)
	assert.Panics(t, func() { ic.advance(PhaseBeforeSerialization) }, "going back")
	assert.Panics(t, func() { ic.advance(PhaseSerialization) }, "staying put")
}

func TestInterceptorContextResult(t *testing.T) {
	ic := NewInterceptorContext(nil)
	assert.False(t, ic.HasResult())
	assert.False(t, ic.IsFailed())

	ic.SetOutputOrError("out", nil)
	assert.True(t, ic.HasResult())
	assert.Equal(t, "out", ic.Output())

	first, second := errors.New("first"), errors.New("second")
	ic.Fail(first)
	assert.True(t, ic.IsFailed())
	assert.Nil(t, ic.Output())

	ic.Fail(second)
	out, err := ic.OutputOrError()
	assert.Nil(t, out)
	assert.Same(t, second, err)
}

func TestRecordModeledErrorReplacesConnectorError(t *testing.T) {
	ic := NewInterceptorContext(nil)
	ic.Fail(NewConnectorError(&ConnectorError{Kind: ConnectorIO, Err: io.EOF}))

	modeled := errors.New("ResourceNotFound")
	ic.recordModeledError(modeled)

	var oe *OrchestratorError
	require.ErrorAs(t, ic.Err(), &oe)
	assert.Equal(t, KindOperation, oe.Kind)
	assert.ErrorIs(t, ic.Err(), modeled)
	assert.False(t, IsTimeout(ic.Err()))
}

func toTransmit(t *testing.T, ic *InterceptorContext, req *http.Request) {
	t.Helper()
	ic.advance(PhaseSerialization)
	ic.takeInput()
	ic.SetRequest(req)
	ic.advance(PhaseBeforeTransmit)
}

func TestInterceptorContextRewind(t *testing.T) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "/things", bytes.NewReader([]byte("body")))
	require.NoError(t, err)

	ic := NewInterceptorContext(nil)
	toTransmit(t, ic, req)
	ic.saveCheckpoint()

	// First attempt mutates the request and consumes the body.
	ic.Request().Header.Set("X-Attempt", "1")
	_, _ = io.ReadAll(ic.Request().Body)
	ic.advance(PhaseTransmit)
	ic.SetResponse(textResponse(500, "boom"))
	ic.Fail(errors.New("boom"))

	require.NoError(t, ic.rewind())
	assert.Equal(t, PhaseBeforeTransmit, ic.Phase())
	assert.Nil(t, ic.Response())
	assert.False(t, ic.HasResult())
	assert.Empty(t, ic.Request().Header.Get("X-Attempt"))

	body, err := io.ReadAll(ic.Request().Body)
	require.NoError(t, err)
	assert.Equal(t, "body", string(body))
}

func TestInterceptorContextRewindUnreplayableBody(t *testing.T) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "/things", io.NopCloser(strings.NewReader("once")))
	require.NoError(t, err)

	ic := NewInterceptorContext(nil)
	toTransmit(t, ic, req)
	ic.saveCheckpoint()
	ic.Fail(errors.New("boom"))

	assert.ErrorIs(t, ic.rewind(), ErrCannotRewind)
	assert.True(t, ic.IsFailed(), "a failed rewind keeps the previous result")
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "BeforeTransmit", PhaseBeforeTransmit.String())
	assert.Equal(t, "Phase(42)", Phase(42).String())
}
