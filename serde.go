package orkestra

import (
	"context"
	"net/http"
)

// Serializer turns an operation input into a transport request.
type Serializer interface {
	SerializeInput(ctx context.Context, input any, cfg *ConfigBag) (*http.Request, error)
}

// Deserializer turns a transport response into an output or a modeled error.
// Errors that are not *OrchestratorError are treated as the modeled
// operation error.
type Deserializer interface {
	DeserializeResponse(ctx context.Context, resp *http.Response, cfg *ConfigBag) (any, error)
}

// SerializerFunc adapts a function to Serializer.
type SerializerFunc func(ctx context.Context, input any, cfg *ConfigBag) (*http.Request, error)

func (f SerializerFunc) SerializeInput(ctx context.Context, input any, cfg *ConfigBag) (*http.Request, error) {
	return f(ctx, input, cfg)
}

// DeserializerFunc adapts a function to Deserializer.
type DeserializerFunc func(ctx context.Context, resp *http.Response, cfg *ConfigBag) (any, error)

func (f DeserializerFunc) DeserializeResponse(ctx context.Context, resp *http.Response, cfg *ConfigBag) (any, error) {
	return f(ctx, resp, cfg)
}
