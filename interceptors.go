package orkestra

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Content-MD5 is an integrity header, not a security control
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header names set by the built-in interceptors.
const (
	HeaderInvocationID = "sdk-invocation-id"
	HeaderRequestInfo  = "sdk-request"
	HeaderContentMD5   = "Content-MD5"
	HeaderUserAgent    = "User-Agent"
)

// InvocationIDInterceptor gives every call a random id, sent with each attempt
// so the server can correlate retries.
type InvocationIDInterceptor struct{}

func (InvocationIDInterceptor) Name() string { return "invocation_id" }

func (InvocationIDInterceptor) ReadBeforeExecution(_ context.Context, _ *InterceptorContext, _ *RuntimeComponents, cfg *ConfigBag) error {
	InvocationIDKey.Store(cfg, uuid.NewString())
	return nil
}

func (InvocationIDInterceptor) ModifyBeforeTransmit(_ context.Context, ic *InterceptorContext, _ *RuntimeComponents, cfg *ConfigBag) error {
	if id, ok := InvocationIDKey.Get(cfg); ok {
		ic.Request().Header.Set(HeaderInvocationID, id)
	}
	return nil
}

// RequestInfoInterceptor tells the server which attempt it is receiving.
type RequestInfoInterceptor struct{}

func (RequestInfoInterceptor) Name() string { return "request_info" }

func (RequestInfoInterceptor) ModifyBeforeTransmit(_ context.Context, ic *InterceptorContext, rc *RuntimeComponents, cfg *ConfigBag) error {
	attempt := RequestAttemptsKey.GetOr(cfg, 1)
	value := fmt.Sprintf("attempt=%d", attempt)
	if !neverSleeps(rc.RetryStrategy()) {
		value += fmt.Sprintf("; max=%d", RetryConfigKey.GetOr(cfg, DefaultRetryConfig()).MaxAttempts)
	}
	ic.Request().Header.Set(HeaderRequestInfo, value)
	return nil
}

// UserAgentInterceptor appends the library version and app id to the
// User-Agent header.
type UserAgentInterceptor struct{}

func (UserAgentInterceptor) Name() string { return "user_agent" }

func (UserAgentInterceptor) ModifyBeforeTransmit(_ context.Context, ic *InterceptorContext, _ *RuntimeComponents, cfg *ConfigBag) error {
	ua := UserAgent(AppIDKey.GetOr(cfg, ""))
	if existing := ic.Request().Header.Get(HeaderUserAgent); existing != "" {
		ua = existing + " " + ua
	}
	ic.Request().Header.Set(HeaderUserAgent, ua)
	return nil
}

// IdempotencyTokenProvider is implemented by inputs with an idempotency token
// member.
type IdempotencyTokenProvider interface {
	IdempotencyToken() string
	SetIdempotencyToken(token string)
}

// IdempotencyTokenInterceptor fills an empty idempotency token with a random
// UUID before serialization, so every retry carries the same token.
type IdempotencyTokenInterceptor struct{}

func (IdempotencyTokenInterceptor) Name() string { return "idempotency_token" }

func (IdempotencyTokenInterceptor) ModifyBeforeSerialization(_ context.Context, ic *InterceptorContext, _ *RuntimeComponents, _ *ConfigBag) error {
	if p, ok := ic.Input().(IdempotencyTokenProvider); ok && p.IdempotencyToken() == "" {
		p.SetIdempotencyToken(uuid.NewString())
	}
	return nil
}

// ContentMD5Interceptor adds a Content-MD5 header to operations that require
// a checksum.
type ContentMD5Interceptor struct{}

func (ContentMD5Interceptor) Name() string { return "content_md5" }

func (ContentMD5Interceptor) ModifyBeforeTransmit(_ context.Context, ic *InterceptorContext, _ *RuntimeComponents, cfg *ConfigBag) error {
	if !ChecksumRequiredKey.GetOr(cfg, false) {
		return nil
	}
	req := ic.Request()
	if req.Header.Get(HeaderContentMD5) != "" || req.Body == nil || req.Body == http.NoBody {
		return nil
	}

	body, err := readBody(req)
	if err != nil {
		return fmt.Errorf("compute Content-MD5: %w", err)
	}
	sum := md5.Sum(body) //nolint:gosec
	req.Header.Set(HeaderContentMD5, base64.StdEncoding.EncodeToString(sum[:]))
	return nil
}

// readBody returns the request body, leaving the request readable again.
func readBody(req *http.Request) ([]byte, error) {
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return data, nil
}

// LoggingInterceptor logs calls and attempts at debug level.
type LoggingInterceptor struct{}

func (LoggingInterceptor) Name() string { return "logging" }

func (LoggingInterceptor) ReadBeforeExecution(ctx context.Context, _ *InterceptorContext, _ *RuntimeComponents, cfg *ConfigBag) error {
	zerolog.Ctx(ctx).Debug().
		Str("invocation_id", InvocationIDKey.GetOr(cfg, "")).
		Msg("starting call")
	return nil
}

func (LoggingInterceptor) ReadAfterAttempt(ctx context.Context, ic *InterceptorContext, _ *RuntimeComponents, cfg *ConfigBag) error {
	event := zerolog.Ctx(ctx).Debug().Int("attempt", RequestAttemptsKey.GetOr(cfg, 1))
	if req := ic.Request(); req != nil && req.URL != nil {
		event = event.Str("method", req.Method).Str("url", req.URL.String())
	}
	if resp := ic.Response(); resp != nil {
		event = event.Int("status", resp.StatusCode)
	}
	if err := ic.Err(); err != nil {
		event = event.Err(err)
	}
	event.Msg("attempt finished")
	return nil
}

func (LoggingInterceptor) ReadAfterExecution(ctx context.Context, ic *InterceptorContext, _ *RuntimeComponents, _ *ConfigBag) error {
	zerolog.Ctx(ctx).Debug().
		Int("attempts", ic.Attempts()).
		Bool("sent", ic.Sent()).
		AnErr("error", ic.Err()).
		Msg("call finished")
	return nil
}
