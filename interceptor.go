package orkestra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Hook identifies an interception point.
type Hook int

const (
	HookReadBeforeExecution Hook = iota
	HookModifyBeforeSerialization
	HookReadAfterSerialization
	HookModifyBeforeTransmit
	HookModifyBeforeDeserialization
	HookReadAfterDeserialization
	HookModifyBeforeAttemptCompletion
	HookReadAfterAttempt
	HookModifyBeforeCompletion
	HookReadAfterExecution
)

var hookNames = [...]string{
	"read_before_execution",
	"modify_before_serialization",
	"read_after_serialization",
	"modify_before_transmit",
	"modify_before_deserialization",
	"read_after_deserialization",
	"modify_before_attempt_completion",
	"read_after_attempt",
	"modify_before_completion",
	"read_after_execution",
}

func (h Hook) String() string {
	if h < 0 || int(h) >= len(hookNames) {
		return fmt.Sprintf("Hook(%d)", int(h))
	}
	return hookNames[h]
}

// HookFunc is the signature shared by every hook.
type HookFunc func(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error

// Interceptor observes or modifies a call at defined points. An interceptor
// implements Name plus any of the hook interfaces below.
type Interceptor interface {
	Name() string
}

type ReadBeforeExecutionInterceptor interface {
	ReadBeforeExecution(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

type ModifyBeforeSerializationInterceptor interface {
	ModifyBeforeSerialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

type ReadAfterSerializationInterceptor interface {
	ReadAfterSerialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

// ModifyBeforeTransmitInterceptor runs once per attempt after the endpoint and
// identity are resolved and before the request is signed.
type ModifyBeforeTransmitInterceptor interface {
	ModifyBeforeTransmit(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

type ModifyBeforeDeserializationInterceptor interface {
	ModifyBeforeDeserialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

type ReadAfterDeserializationInterceptor interface {
	ReadAfterDeserialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

// ModifyBeforeAttemptCompletionInterceptor runs at the end of every attempt,
// including failed ones, and may replace the attempt result.
type ModifyBeforeAttemptCompletionInterceptor interface {
	ModifyBeforeAttemptCompletion(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

type ReadAfterAttemptInterceptor interface {
	ReadAfterAttempt(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

type ModifyBeforeCompletionInterceptor interface {
	ModifyBeforeCompletion(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

// ReadAfterExecutionInterceptor runs exactly once per call, however it ended.
type ReadAfterExecutionInterceptor interface {
	ReadAfterExecution(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error
}

// hookFunc returns the implementation of h on i, or nil.
func hookFunc(i Interceptor, h Hook) HookFunc {
	switch h {
	case HookReadBeforeExecution:
		if v, ok := i.(ReadBeforeExecutionInterceptor); ok {
			return v.ReadBeforeExecution
		}
	case HookModifyBeforeSerialization:
		if v, ok := i.(ModifyBeforeSerializationInterceptor); ok {
			return v.ModifyBeforeSerialization
		}
	case HookReadAfterSerialization:
		if v, ok := i.(ReadAfterSerializationInterceptor); ok {
			return v.ReadAfterSerialization
		}
	case HookModifyBeforeTransmit:
		if v, ok := i.(ModifyBeforeTransmitInterceptor); ok {
			return v.ModifyBeforeTransmit
		}
	case HookModifyBeforeDeserialization:
		if v, ok := i.(ModifyBeforeDeserializationInterceptor); ok {
			return v.ModifyBeforeDeserialization
		}
	case HookReadAfterDeserialization:
		if v, ok := i.(ReadAfterDeserializationInterceptor); ok {
			return v.ReadAfterDeserialization
		}
	case HookModifyBeforeAttemptCompletion:
		if v, ok := i.(ModifyBeforeAttemptCompletionInterceptor); ok {
			return v.ModifyBeforeAttemptCompletion
		}
	case HookReadAfterAttempt:
		if v, ok := i.(ReadAfterAttemptInterceptor); ok {
			return v.ReadAfterAttempt
		}
	case HookModifyBeforeCompletion:
		if v, ok := i.(ModifyBeforeCompletionInterceptor); ok {
			return v.ModifyBeforeCompletion
		}
	case HookReadAfterExecution:
		if v, ok := i.(ReadAfterExecutionInterceptor); ok {
			return v.ReadAfterExecution
		}
	}
	return nil
}

// InterceptorFuncs builds an interceptor from plain functions. Unset fields
// are skipped.
type InterceptorFuncs struct {
	ID string

	OnReadBeforeExecution           HookFunc
	OnModifyBeforeSerialization     HookFunc
	OnReadAfterSerialization        HookFunc
	OnModifyBeforeTransmit          HookFunc
	OnModifyBeforeDeserialization   HookFunc
	OnReadAfterDeserialization      HookFunc
	OnModifyBeforeAttemptCompletion HookFunc
	OnReadAfterAttempt              HookFunc
	OnModifyBeforeCompletion        HookFunc
	OnReadAfterExecution            HookFunc
}

func (f *InterceptorFuncs) Name() string {
	if f.ID == "" {
		return "funcs"
	}
	return f.ID
}

func callHook(ctx context.Context, fn HookFunc, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, ic, rc, cfg)
}

func (f *InterceptorFuncs) ReadBeforeExecution(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnReadBeforeExecution, ic, rc, cfg)
}

func (f *InterceptorFuncs) ModifyBeforeSerialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnModifyBeforeSerialization, ic, rc, cfg)
}

func (f *InterceptorFuncs) ReadAfterSerialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnReadAfterSerialization, ic, rc, cfg)
}

func (f *InterceptorFuncs) ModifyBeforeTransmit(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnModifyBeforeTransmit, ic, rc, cfg)
}

func (f *InterceptorFuncs) ModifyBeforeDeserialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnModifyBeforeDeserialization, ic, rc, cfg)
}

func (f *InterceptorFuncs) ReadAfterDeserialization(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnReadAfterDeserialization, ic, rc, cfg)
}

func (f *InterceptorFuncs) ModifyBeforeAttemptCompletion(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnModifyBeforeAttemptCompletion, ic, rc, cfg)
}

func (f *InterceptorFuncs) ReadAfterAttempt(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnReadAfterAttempt, ic, rc, cfg)
}

func (f *InterceptorFuncs) ModifyBeforeCompletion(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnModifyBeforeCompletion, ic, rc, cfg)
}

func (f *InterceptorFuncs) ReadAfterExecution(ctx context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	return callHook(ctx, f.OnReadAfterExecution, ic, rc, cfg)
}

// interceptorChain runs the hooks of an ordered interceptor list.
type interceptorChain struct {
	interceptors []Interceptor
	logger       zerolog.Logger
}

// run invokes hook h on every interceptor that implements it. Every
// interceptor runs even if an earlier one failed, except that an abort stops
// the remaining interceptors of the hook. Failures are combined into one
// *InterceptorError.
func (c interceptorChain) run(ctx context.Context, h Hook, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	var (
		failed []string
		merr   *multierror.Error
	)
	for _, i := range c.interceptors {
		fn := hookFunc(i, h)
		if fn == nil {
			continue
		}
		err := fn(ctx, ic, rc, cfg)
		if err == nil {
			continue
		}
		if merr != nil {
			c.logger.Debug().Err(merr.Errors[len(merr.Errors)-1]).Str("hook", h.String()).Msg("interceptor error superseded by a later one")
		}
		failed = append(failed, i.Name())
		merr = multierror.Append(merr, err)
		if errors.Is(err, ErrAborted) {
			break
		}
	}

	if merr == nil {
		return nil
	}
	ierr := &InterceptorError{Hook: h, Interceptor: strings.Join(failed, ", ")}
	if len(merr.Errors) == 1 {
		ierr.Err = merr.Errors[0]
	} else {
		ierr.Err = merr.ErrorOrNil()
	}
	return ierr
}

// runBestEffort invokes a read-only hook whose failures are only logged.
func (c interceptorChain) runBestEffort(ctx context.Context, h Hook, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) {
	if err := c.run(ctx, h, ic, rc, cfg); err != nil {
		c.logger.Warn().Err(err).Str("hook", h.String()).Msg("interceptor failed; result unchanged")
	}
}
