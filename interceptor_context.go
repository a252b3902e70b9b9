package orkestra

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Phase is the position of a call within the request/response pipeline.
type Phase int

const (
	PhaseBeforeSerialization Phase = iota
	PhaseSerialization
	PhaseBeforeTransmit
	PhaseTransmit
	PhaseBeforeDeserialization
	PhaseDeserialization
	PhaseAfterDeserialization
)

func (p Phase) String() string {
	switch p {
	case PhaseBeforeSerialization:
		return "BeforeSerialization"
	case PhaseSerialization:
		return "Serialization"
	case PhaseBeforeTransmit:
		return "BeforeTransmit"
	case PhaseTransmit:
		return "Transmit"
	case PhaseBeforeDeserialization:
		return "BeforeDeserialization"
	case PhaseDeserialization:
		return "Deserialization"
	case PhaseAfterDeserialization:
		return "AfterDeserialization"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// InterceptorContext carries the state of one call through the pipeline:
// the input, the transport request and response, and the output or error.
type InterceptorContext struct {
	phase Phase

	input    any
	request  *http.Request
	response *http.Response

	output    any
	err       error
	hasResult bool

	checkpoint   *http.Request
	rewindable   bool
	transmitted  int
	attemptsMade int

	logger zerolog.Logger
}

// NewInterceptorContext creates a context holding input.
func NewInterceptorContext(input any) *InterceptorContext {
	return &InterceptorContext{input: input, logger: zerolog.Nop()}
}

func (c *InterceptorContext) withLogger(l zerolog.Logger) *InterceptorContext {
	c.logger = l
	return c
}

// Phase returns the current phase.
func (c *InterceptorContext) Phase() Phase { return c.phase }

// Input returns the operation input. It is nil once serialization has taken it.
func (c *InterceptorContext) Input() any { return c.input }

// SetInput replaces the input. Only valid before serialization.
func (c *InterceptorContext) SetInput(v any) {
	c.requirePhase("SetInput", PhaseBeforeSerialization)
	c.input = v
}

func (c *InterceptorContext) takeInput() any {
	c.requirePhase("takeInput", PhaseSerialization)
	v := c.input
	c.input = nil
	return v
}

// Request returns the transport request, or nil before serialization.
func (c *InterceptorContext) Request() *http.Request { return c.request }

// SetRequest replaces the transport request. Only valid from serialization
// through transmit.
func (c *InterceptorContext) SetRequest(r *http.Request) {
	c.requirePhase("SetRequest", PhaseSerialization, PhaseBeforeTransmit, PhaseTransmit)
	c.request = r
}

// Response returns the transport response, or nil before transmit.
func (c *InterceptorContext) Response() *http.Response { return c.response }

// SetResponse replaces the transport response. Only valid from transmit
// until deserialization.
func (c *InterceptorContext) SetResponse(r *http.Response) {
	c.requirePhase("SetResponse", PhaseTransmit, PhaseBeforeDeserialization)
	c.response = r
}

// Output returns the successful output, if any.
func (c *InterceptorContext) Output() any {
	if c.err != nil {
		return nil
	}
	return c.output
}

// Err returns the recorded error, if any.
func (c *InterceptorContext) Err() error { return c.err }

// OutputOrError returns the result slot.
func (c *InterceptorContext) OutputOrError() (any, error) { return c.output, c.err }

// HasResult reports whether an output or an error has been recorded.
func (c *InterceptorContext) HasResult() bool { return c.hasResult }

// SetOutputOrError overwrites the result slot.
func (c *InterceptorContext) SetOutputOrError(out any, err error) {
	c.output, c.err, c.hasResult = out, err, true
	if err != nil {
		c.output = nil
	}
}

// Fail records err as the call result. A previously recorded error is logged
// and discarded.
func (c *InterceptorContext) Fail(err error) {
	if c.err != nil && c.err != err {
		c.logger.Debug().Err(c.err).Str("phase", c.phase.String()).Msg("discarding previous error in favour of a new one")
	}
	c.SetOutputOrError(nil, err)
}

// IsFailed reports whether an error is recorded.
func (c *InterceptorContext) IsFailed() bool { return c.err != nil }

// Sent reports whether any attempt reached the connector.
func (c *InterceptorContext) Sent() bool { return c.transmitted > 0 }

// Attempts returns the number of attempts started.
func (c *InterceptorContext) Attempts() int { return c.attemptsMade }

// recordModeledError stores a deserialized operation error. When a connector
// error is already recorded the two are contradictory; the modeled error wins.
func (c *InterceptorContext) recordModeledError(err error) {
	var oe *OrchestratorError
	if errors.As(c.err, &oe) && oe.Kind == KindConnector {
		c.logger.Error().
			AnErr("connector_error", c.err).
			AnErr("modeled_error", err).
			Msg("deserializer produced a modeled error while a connector error was recorded; keeping the modeled error")
	}
	oe := NewOperationError(err)
	oe.Response = c.response
	c.SetOutputOrError(nil, oe)
}

func (c *InterceptorContext) requirePhase(op string, allowed ...Phase) {
	for _, p := range allowed {
		if c.phase == p {
			return
		}
	}
	panic(fmt.Sprintf("orkestra: %s is not allowed in phase %s", op, c.phase))
}

// advance moves to the next phase. Any other transition is a programming error.
func (c *InterceptorContext) advance(to Phase) {
	if to != c.phase+1 {
		panic(fmt.Sprintf("orkestra: invalid phase transition %s -> %s", c.phase, to))
	}
	c.logger.Trace().Str("from", c.phase.String()).Str("to", to.String()).Msg("phase change")
	c.phase = to
}

// saveCheckpoint snapshots the serialized request so later attempts start
// from the same state.
func (c *InterceptorContext) saveCheckpoint() {
	if c.request == nil {
		c.rewindable = false
		return
	}
	c.checkpoint = c.request.Clone(c.request.Context())
	body := c.request.Body
	c.rewindable = body == nil || body == http.NoBody || c.request.GetBody != nil
}

// rewind restores the checkpoint before a retry, clearing the response and
// the previous result.
func (c *InterceptorContext) rewind() error {
	if c.checkpoint == nil || !c.rewindable {
		return ErrCannotRewind
	}

	req := c.checkpoint.Clone(c.checkpoint.Context())
	if c.checkpoint.GetBody != nil {
		body, err := c.checkpoint.GetBody()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCannotRewind, err)
		}
		req.Body = body
	}

	c.request = req
	c.response = nil
	c.output, c.err, c.hasResult = nil, nil, false
	c.phase = PhaseBeforeTransmit
	return nil
}
