package orkestra

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Connector transmits a fully prepared request. Transport failures should be
// returned as *ConnectorError so retry classifiers can inspect them.
type Connector interface {
	Call(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f ConnectorFunc) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Middleware wraps connector calls for cross-cutting transport concerns.
type Middleware func(ctx context.Context, req *http.Request, next Connector) (*http.Response, error)

// ChainConnector folds middleware around base. The first middleware is the
// outermost.
func ChainConnector(base Connector, middleware ...Middleware) Connector {
	if len(middleware) == 0 {
		return base
	}

	current := base
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := current
		current = ConnectorFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return mw(ctx, req, next)
		})
	}
	return current
}

// HTTPConnector sends requests with a net/http client.
type HTTPConnector struct {
	client *http.Client
}

// NewHTTPConnector creates a connector. A nil client uses http.DefaultClient.
func NewHTTPConnector(client *http.Client) *HTTPConnector {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPConnector{client: client}
}

func (c *HTTPConnector) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return resp, nil
}

func classifyTransportError(ctx context.Context, err error) *ConnectorError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectorError{Kind: ConnectorTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &ConnectorError{Kind: ConnectorUser, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectorError{Kind: ConnectorTimeout, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ConnectorError{Kind: ConnectorIO, Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "EOF") || strings.Contains(msg, "broken pipe") {
		return &ConnectorError{Kind: ConnectorIO, Err: err}
	}
	return &ConnectorError{Kind: ConnectorOther, Err: err}
}
