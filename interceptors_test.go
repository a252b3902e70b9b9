package orkestra

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transmitContext(t *testing.T, req *http.Request) *InterceptorContext {
	t.Helper()
	ic := NewInterceptorContext(nil)
	toTransmit(t, ic, req)
	return ic
}

func TestUserAgentInterceptorAppends(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/things", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderUserAgent, "inventory-cli/1.2")

	layer := NewLayer("client")
	AppIDKey.Put(layer, "inventory")
	cfg := NewConfigBag(layer.Freeze())

	ic := transmitContext(t, req)
	require.NoError(t, UserAgentInterceptor{}.ModifyBeforeTransmit(context.Background(), ic, nil, cfg))
	assert.Equal(t, "inventory-cli/1.2 "+UserAgent("inventory"), ic.Request().Header.Get(HeaderUserAgent))
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "orkestra/"+Version+" lang/go#"+GoVersion, UserAgent(""))
	assert.True(t, strings.HasSuffix(UserAgent("billing"), " app/billing"))
	assert.Contains(t, GetVersion(), Version)
	assert.Equal(t, Version, GetVersionInfo()["version"])
}

func TestRequestInfoInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		strategy RetryStrategy
		attempt  int
		want     string
	}{
		{"standard", NewStandardRetryStrategy(), 2, "attempt=2; max=3"},
		{"never retries", NeverRetryStrategy{}, 1, "attempt=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := completeBuilder("info").WithRetryStrategy(tt.strategy).Build()
			require.NoError(t, err)
			cfg := NewConfigBag()
			RequestAttemptsKey.Store(cfg, tt.attempt)

			req, err := http.NewRequest(http.MethodGet, "/things", nil)
			require.NoError(t, err)
			ic := transmitContext(t, req)

			require.NoError(t, RequestInfoInterceptor{}.ModifyBeforeTransmit(context.Background(), ic, rc, cfg))
			assert.Equal(t, tt.want, ic.Request().Header.Get(HeaderRequestInfo))
		})
	}
}

func TestInvocationIDInterceptor(t *testing.T) {
	cfg := NewConfigBag()
	require.NoError(t, InvocationIDInterceptor{}.ReadBeforeExecution(context.Background(), nil, nil, cfg))
	id, ok := InvocationIDKey.Get(cfg)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "/things", nil)
	require.NoError(t, err)
	ic := transmitContext(t, req)
	require.NoError(t, InvocationIDInterceptor{}.ModifyBeforeTransmit(context.Background(), ic, nil, cfg))
	assert.Equal(t, id, ic.Request().Header.Get(HeaderInvocationID))
}

func TestIdempotencyTokenInterceptor(t *testing.T) {
	t.Run("fills empty token", func(t *testing.T) {
		in := &getThingInput{ID: "1"}
		require.NoError(t, IdempotencyTokenInterceptor{}.ModifyBeforeSerialization(context.Background(), NewInterceptorContext(in), nil, NewConfigBag()))
		_, err := uuid.Parse(in.Token)
		assert.NoError(t, err)
	})
	t.Run("keeps caller token", func(t *testing.T) {
		in := &getThingInput{ID: "1", Token: "caller-token"}
		require.NoError(t, IdempotencyTokenInterceptor{}.ModifyBeforeSerialization(context.Background(), NewInterceptorContext(in), nil, NewConfigBag()))
		assert.Equal(t, "caller-token", in.Token)
	})
	t.Run("ignores other inputs", func(t *testing.T) {
		assert.NoError(t, IdempotencyTokenInterceptor{}.ModifyBeforeSerialization(context.Background(), NewInterceptorContext("plain"), nil, NewConfigBag()))
	})
}

func TestContentMD5Interceptor(t *testing.T) {
	body := "quantity=3"
	sum := md5.Sum([]byte(body)) //nolint:gosec
	want := base64.StdEncoding.EncodeToString(sum[:])

	required := func() *ConfigBag {
		l := NewLayer("op")
		ChecksumRequiredKey.Put(l, true)
		return NewConfigBag(l.Freeze())
	}

	t.Run("rewindable body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPut, "/things/1", strings.NewReader(body))
		require.NoError(t, err)
		ic := transmitContext(t, req)

		require.NoError(t, ContentMD5Interceptor{}.ModifyBeforeTransmit(context.Background(), ic, nil, required()))
		assert.Equal(t, want, ic.Request().Header.Get(HeaderContentMD5))

		sent, err := io.ReadAll(ic.Request().Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(sent))
	})

	t.Run("streamed body is buffered", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPut, "/things/1", io.NopCloser(strings.NewReader(body)))
		require.NoError(t, err)
		require.Nil(t, req.GetBody)
		ic := transmitContext(t, req)

		require.NoError(t, ContentMD5Interceptor{}.ModifyBeforeTransmit(context.Background(), ic, nil, required()))
		assert.Equal(t, want, ic.Request().Header.Get(HeaderContentMD5))
		require.NotNil(t, ic.Request().GetBody)

		sent, err := io.ReadAll(ic.Request().Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(sent))
	})

	t.Run("existing header kept", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPut, "/things/1", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(HeaderContentMD5, "precomputed")
		ic := transmitContext(t, req)

		require.NoError(t, ContentMD5Interceptor{}.ModifyBeforeTransmit(context.Background(), ic, nil, required()))
		assert.Equal(t, "precomputed", ic.Request().Header.Get(HeaderContentMD5))
	})

	t.Run("not required", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPut, "/things/1", strings.NewReader(body))
		require.NoError(t, err)
		ic := transmitContext(t, req)

		require.NoError(t, ContentMD5Interceptor{}.ModifyBeforeTransmit(context.Background(), ic, nil, NewConfigBag()))
		assert.Empty(t, ic.Request().Header.Get(HeaderContentMD5))
	})
}
