package orkestra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var (
	errOperationTimeout = errors.New("orkestra: operation timeout exceeded")
	errAttemptTimeout   = errors.New("orkestra: attempt timeout exceeded")
)

// Operation describes one service operation: how to serialize its input,
// how to deserialize its response and which plugins it adds.
type Operation struct {
	Service      string
	Name         string
	Serializer   Serializer
	Deserializer Deserializer

	// AuthSchemeOptions lists acceptable auth scheme ids in preference order.
	AuthSchemeOptions []string
	// ChecksumRequired makes the request carry a Content-MD5 header.
	ChecksumRequired bool
	Plugins          []RuntimePlugin
}

// StopPoint ends a call early.
type StopPoint int

const (
	StopNone StopPoint = iota
	// StopBeforeTransmit returns once the request is resolved and signed,
	// without sending it.
	StopBeforeTransmit
)

// orchestration is the state of one Invoke.
type orchestration struct {
	op     *Operation
	rc     *RuntimeComponents
	cfg    *ConfigBag
	ic     *InterceptorContext
	chain  interceptorChain
	tracer trace.Tracer
	logger zerolog.Logger
	stop   StopPoint

	cancelAttempt context.CancelCauseFunc
}

// Invoke runs op with input and returns the deserialized output. On failure
// the error is a *ClientError.
func (c *Client) Invoke(ctx context.Context, op *Operation, input any, opts ...CallOption) (any, error) {
	ic, err := c.invoke(ctx, op, input, StopNone, opts)
	if err != nil {
		return nil, err
	}
	return ic.Output(), nil
}

// InvokeWithStopPoint runs op up to stop and returns the interceptor context,
// e.g. to obtain a signed request without sending it.
func (c *Client) InvokeWithStopPoint(ctx context.Context, op *Operation, input any, stop StopPoint, opts ...CallOption) (*InterceptorContext, error) {
	return c.invoke(ctx, op, input, stop, opts)
}

// InvokeAs is Invoke with a typed output.
func InvokeAs[T any](ctx context.Context, c *Client, op *Operation, input any, opts ...CallOption) (T, error) {
	var zero T
	out, err := c.Invoke(ctx, op, input, opts...)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok && out != nil {
		return zero, &ClientError{
			Type:      ErrorTypeResponse,
			Message:   fmt.Sprintf("unexpected output type %T", out),
			Service:   op.Service,
			Operation: op.Name,
			sent:      true,
		}
	}
	return typed, nil
}

func (c *Client) invoke(ctx context.Context, op *Operation, input any, stop StopPoint, opts []CallOption) (*InterceptorContext, error) {
	start := time.Now()
	if c.validationError != nil {
		return nil, c.validationError
	}
	if op == nil || op.Serializer == nil || op.Deserializer == nil {
		ce := &ClientError{
			Type:      ErrorTypeConstruction,
			Message:   "failed to configure operation",
			Cause:     ErrInvalidOperation,
			Timestamp: start,
		}
		if op != nil {
			ce.Service, ce.Operation = op.Service, op.Name
		}
		return nil, ce
	}

	logger := c.loggerFor(ctx).With().Str("service", op.Service).Str("operation", op.Name).Logger()
	ctx = logger.WithContext(ctx)
	ctx, span := startSpan(ctx, c.tracer, "invoke "+op.Service+"."+op.Name,
		AttrService.String(op.Service), AttrOperation.String(op.Name))

	cfg, rc, err := c.applyConfiguration(op, opts)
	if err != nil {
		ce := &ClientError{
			Type:      ErrorTypeConstruction,
			Message:   "failed to configure operation",
			Cause:     err,
			Service:   op.Service,
			Operation: op.Name,
			Timestamp: start,
		}
		endSpan(span, ce)
		return nil, ce
	}
	start = rc.TimeSource().Now()

	if timeouts := TimeoutConfigKey.GetOr(cfg, TimeoutConfig{}); timeouts.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeouts.OperationTimeout, errOperationTimeout)
		defer cancel()
	}

	o := &orchestration{
		op:     op,
		rc:     rc,
		cfg:    cfg,
		ic:     NewInterceptorContext(input).withLogger(logger),
		chain:  interceptorChain{interceptors: rc.Interceptors(), logger: logger},
		tracer: c.tracer,
		logger: logger,
		stop:   stop,
	}

	o.tryOp(ctx)
	o.finallyOp(ctx)

	if id, ok := InvocationIDKey.Get(cfg); ok {
		span.SetAttributes(AttrInvocationID.String(id))
	}
	if !o.ic.IsFailed() {
		endSpan(span, nil)
		return o.ic, nil
	}

	ce := o.clientError(ctx, start)
	span.SetAttributes(AttrErrorType.String(ce.Type))
	endSpan(span, ce)
	logger.Debug().Err(ce).Int("attempts", ce.Attempt).Bool("sent", ce.Sent()).Msg("operation failed")
	if stop != StopNone {
		return o.ic, ce
	}
	return nil, ce
}

func (c *Client) loggerFor(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return c.logger
}

// applyConfiguration builds the per-call bag and components: client plugins,
// then the operation, then operation plugins, then call overrides.
func (c *Client) applyConfiguration(op *Operation, opts []CallOption) (*ConfigBag, *RuntimeComponents, error) {
	cfg := c.baseConfig.Fork()
	builder := applyPlugins(cfg, c.components, c.plugins)

	opLayer := NewLayer("operation:" + op.Name)
	ServiceNameKey.Put(opLayer, op.Service)
	OperationNameKey.Put(opLayer, op.Name)
	params := EndpointParamsKey.GetOr(cfg, EndpointParams{})
	params.Service, params.Operation = op.Service, op.Name
	EndpointParamsKey.Put(opLayer, params)
	if len(op.AuthSchemeOptions) > 0 {
		AuthSchemeOptionsKey.Put(opLayer, op.AuthSchemeOptions)
	}
	if op.ChecksumRequired {
		ChecksumRequiredKey.Put(opLayer, true)
	}
	cfg.PushLayer(opLayer.Freeze())
	builder = applyPlugins(cfg, builder, op.Plugins)

	if len(opts) > 0 {
		ov := newCallOverrides()
		for _, opt := range opts {
			opt(ov)
		}
		cfg.PushLayer(ov.layer.Freeze())
		builder = builder.MergeFrom(ov.components)
	}

	rc, err := builder.Build()
	if err != nil {
		return nil, nil, err
	}
	return cfg, rc, nil
}

func (o *orchestration) fail(err error, kind OrchestratorErrorKind) {
	o.ic.Fail(asOrchestratorError(err, kind))
}

func (o *orchestration) runHook(ctx context.Context, h Hook) bool {
	if err := o.chain.run(ctx, h, o.ic, o.rc, o.cfg); err != nil {
		o.ic.Fail(&OrchestratorError{Kind: KindInterceptor, Err: err})
		return false
	}
	return true
}

func (o *orchestration) tryOp(ctx context.Context) {
	if !o.runHook(ctx, HookReadBeforeExecution) {
		return
	}
	if !o.runHook(ctx, HookModifyBeforeSerialization) {
		return
	}

	o.ic.advance(PhaseSerialization)
	_, span := startSpan(ctx, o.tracer, "serialize")
	req, err := o.op.Serializer.SerializeInput(ctx, o.ic.takeInput(), o.cfg)
	endSpan(span, err)
	if err != nil {
		o.fail(NewSerializationError(err), KindSerialization)
		return
	}
	if req == nil || req.URL == nil {
		o.fail(NewSerializationError(errors.New("serializer returned no request URL")), KindSerialization)
		return
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	o.ic.SetRequest(req)
	o.ic.advance(PhaseBeforeTransmit)

	if !o.runHook(ctx, HookReadAfterSerialization) {
		return
	}

	strategy := o.rc.RetryStrategy()
	initial, err := strategy.ShouldAttemptInitialRequest(ctx, o.rc, o.cfg)
	if err != nil {
		o.fail(err, KindOther)
		return
	}
	var delay time.Duration
	switch initial.Kind {
	case ShouldAttemptNo:
		o.fail(ErrRetryBudgetExceeded, KindOther)
		return
	case ShouldAttemptYesAfterDelay:
		delay = initial.Delay
	}

	o.ic.saveCheckpoint()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if err := o.ic.rewind(); err != nil {
				o.logger.Debug().Err(err).Msg("not retrying: request cannot be rewound")
				break
			}
		}

		layer := NewLayer(fmt.Sprintf("attempt:%d", attempt))
		RequestAttemptsKey.Put(layer, attempt)

		var next ShouldAttempt
		err := o.cfg.WithLayerScope(layer, func() error {
			if delay > 0 {
				if err := o.rc.Sleeper().Sleep(ctx, delay); err != nil {
					return err
				}
			}
			AttemptStartKey.Store(o.cfg, o.rc.TimeSource().Now())
			o.ic.attemptsMade = attempt
			o.logger.Debug().Int("attempt", attempt).Msg("beginning attempt")

			actx, span := startSpan(ctx, o.tracer, "attempt", AttrAttempt.Int(attempt))
			o.tryAttempt(actx)
			o.finallyAttempt(actx)
			if resp := o.ic.Response(); resp != nil {
				span.SetAttributes(AttrStatusCode.Int(resp.StatusCode))
			}
			endSpan(span, o.ic.Err())

			if o.stop == StopBeforeTransmit && !o.ic.IsFailed() {
				next = No()
				return nil
			}
			if ctx.Err() != nil {
				next = No()
				return nil
			}

			var err error
			next, err = strategy.ShouldAttemptRetry(ctx, o.ic, o.rc, o.cfg)
			if err != nil {
				o.fail(err, KindOther)
				next = No()
			}
			o.logger.Debug().Str("decision", next.Kind.String()).Dur("delay", next.Delay).Msg("retry strategy decision")
			return nil
		})
		if err != nil {
			o.fail(contextFailure(ctx, err), KindOther)
			break
		}
		if next.Kind == ShouldAttemptNo {
			break
		}
		delay = next.Delay
	}
}

func (o *orchestration) tryAttempt(ctx context.Context) {
	if err := o.orchestrateEndpoint(ctx); err != nil {
		o.fail(err, KindOther)
		return
	}

	auth, err := resolveAuth(ctx, o.rc, o.cfg)
	if err != nil {
		o.fail(err, KindOther)
		return
	}

	if !o.runHook(ctx, HookModifyBeforeTransmit) {
		return
	}

	if err := auth.scheme.Signer().SignRequest(ctx, o.ic.Request(), auth.identity, o.cfg); err != nil {
		o.fail(fmt.Errorf("sign request with %s: %w", auth.scheme.SchemeID(), err), KindOther)
		return
	}

	if o.stop == StopBeforeTransmit {
		return
	}

	o.ic.advance(PhaseTransmit)
	connector := o.rc.Connector()
	if connector == nil {
		o.fail(ErrNoConnector, KindOther)
		return
	}

	tctx, span := startSpan(ctx, o.tracer, "transmit")
	resp, err := o.transmit(tctx, connector)
	endSpan(span, err)
	o.ic.transmitted++
	if err != nil {
		o.fail(NewConnectorError(err), KindConnector)
		return
	}
	o.ic.SetResponse(resp)

	o.ic.advance(PhaseBeforeDeserialization)
	if !o.runHook(ctx, HookModifyBeforeDeserialization) {
		return
	}

	o.ic.advance(PhaseDeserialization)
	out, err := o.op.Deserializer.DeserializeResponse(ctx, o.ic.Response(), o.cfg)
	if err != nil {
		var oe *OrchestratorError
		if errors.As(err, &oe) {
			if oe.Response == nil && oe.Kind == KindResponse {
				oe.Response = o.ic.Response()
			}
			o.ic.Fail(oe)
		} else {
			o.ic.recordModeledError(err)
		}
	} else {
		o.ic.SetOutputOrError(out, nil)
	}

	o.ic.advance(PhaseAfterDeserialization)
	o.runHook(ctx, HookReadAfterDeserialization)
}

// transmit calls the connector, racing it against the attempt timeout when
// one is configured. The attempt context stays alive until the attempt ends
// so the response body can still be read.
func (o *orchestration) transmit(ctx context.Context, connector Connector) (*http.Response, error) {
	timeout := TimeoutConfigKey.GetOr(o.cfg, TimeoutConfig{}).AttemptTimeout
	if timeout <= 0 {
		return connector.Call(ctx, o.ic.Request())
	}

	actx, cancel := context.WithCancelCause(ctx)
	o.cancelAttempt = cancel
	stop := afterFunc(o.rc.TimeSource(), timeout, func() { cancel(errAttemptTimeout) })
	resp, err := connector.Call(actx, o.ic.Request())
	stop()

	if err != nil && errors.Is(context.Cause(actx), errAttemptTimeout) && ctx.Err() == nil {
		return nil, &ConnectorError{Kind: ConnectorTimeout, Err: fmt.Errorf("%w after %s: %v", errAttemptTimeout, timeout, err)}
	}
	return resp, err
}

func (o *orchestration) orchestrateEndpoint(ctx context.Context) error {
	req := o.ic.Request()
	resolver := o.rc.EndpointResolver()
	if resolver == nil {
		if req.URL != nil && req.URL.IsAbs() {
			return nil
		}
		return ErrNoEndpointResolver
	}

	params := EndpointParamsKey.GetOr(o.cfg, EndpointParams{Service: o.op.Service, Operation: o.op.Name})
	ep, err := resolver.ResolveEndpoint(ctx, params)
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}
	return applyEndpoint(req, ep)
}

func (o *orchestration) finallyAttempt(ctx context.Context) {
	o.runHook(ctx, HookModifyBeforeAttemptCompletion)
	o.chain.runBestEffort(ctx, HookReadAfterAttempt, o.ic, o.rc, o.cfg)
	if o.cancelAttempt != nil {
		o.cancelAttempt(nil)
		o.cancelAttempt = nil
	}
}

func (o *orchestration) finallyOp(ctx context.Context) {
	o.runHook(ctx, HookModifyBeforeCompletion)
	o.chain.runBestEffort(ctx, HookReadAfterExecution, o.ic, o.rc, o.cfg)
}

// contextFailure converts a cancelled sleep into the error recorded for the call.
func contextFailure(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errOperationTimeout) {
		return &OrchestratorError{Kind: KindTimeout, Err: errOperationTimeout}
	}
	return err
}

func (o *orchestration) clientError(ctx context.Context, start time.Time) *ClientError {
	err := o.ic.Err()
	now := o.rc.TimeSource().Now()
	maxAttempts := RetryConfigKey.GetOr(o.cfg, DefaultRetryConfig()).MaxAttempts
	if neverSleeps(o.rc.RetryStrategy()) {
		maxAttempts = 1
	}

	ce := &ClientError{
		Cause:        err,
		Service:      o.op.Service,
		Operation:    o.op.Name,
		InvocationID: InvocationIDKey.GetOr(o.cfg, ""),
		Attempt:      o.ic.Attempts(),
		MaxAttempts:  maxAttempts,
		Timestamp:    now,
		Duration:     now.Sub(start),
		Response:     o.ic.Response(),
		sent:         o.ic.Sent(),
	}

	var oe *OrchestratorError
	errors.As(err, &oe)
	switch {
	case errors.Is(context.Cause(ctx), errOperationTimeout):
		ce.Type, ce.Message = ErrorTypeTimeout, "operation timeout exceeded"
	case errors.Is(err, context.Canceled):
		ce.Type, ce.Message = ErrorTypeCancelled, "operation cancelled"
	case oe == nil:
		ce.Type, ce.Message = ErrorTypeDispatch, "request failed"
	case oe.Kind == KindInterceptor:
		ce.Type, ce.Message = ErrorTypeInterceptor, "interceptor failed"
	case oe.Kind == KindSerialization:
		ce.Type, ce.Message = ErrorTypeSerialization, "failed to serialize input"
	case oe.Kind == KindConnector && IsTimeout(err):
		ce.Type, ce.Message = ErrorTypeTimeout, "attempt timed out"
	case oe.Kind == KindConnector:
		ce.Type, ce.Message = ErrorTypeDispatch, "failed to dispatch request"
	case oe.Kind == KindResponse:
		ce.Type, ce.Message = ErrorTypeResponse, "failed to deserialize response"
	case oe.Kind == KindOperation:
		ce.Type, ce.Message = ErrorTypeService, "service returned an error"
	case oe.Kind == KindTimeout:
		ce.Type, ce.Message = ErrorTypeTimeout, "operation timeout exceeded"
	default:
		ce.Type, ce.Message = ErrorTypeDispatch, "request failed"
	}
	return ce
}
