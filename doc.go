// Package orkestra is a client-side request orchestration runtime. It drives
// a single service call through serialization, endpoint resolution, identity
// resolution, signing, transmission and deserialization, retrying failed
// attempts under a pluggable retry strategy.
//
// Building blocks:
//
//   - ConfigBag: layered, typed configuration. Values are looked up newest
//     layer first; each call gets its own interceptor state layer.
//   - RuntimeComponents: connector, endpoint resolver, auth schemes, identity
//     resolvers, interceptors, retry strategy and classifiers, time source and
//     sleeper. Builders from the client, plugins and call overrides are merged
//     in order; later explicit values win and lists concatenate.
//   - InterceptorContext: input, request, response and result of one call,
//     guarded by a forward-only phase machine.
//   - Interceptors: ten hooks around every phase. Failures of every
//     interceptor in a hook are collected; Abort stops a call for good.
//   - StandardRetryStrategy: max attempts, jittered exponential backoff and a
//     token bucket retry budget shared by all calls of a client.
//
// Typical usage:
//
//	client := orkestra.New(
//	    orkestra.WithEndpoint("https://api.example.com"),
//	    orkestra.WithMaxAttempts(4),
//	    orkestra.WithTimeouts(orkestra.TimeoutConfig{OperationTimeout: 10 * time.Second}),
//	    orkestra.WithBearerToken(token),
//	)
//	out, err := orkestra.InvokeAs[*GetItemOutput](ctx, client, getItemOp, &GetItemInput{ID: "42"})
//
// Every error returned from Invoke is a *ClientError; its Type says whether
// the call failed while building, serializing, dispatching, deserializing or
// because the service returned an error, and Sent reports whether any
// attempt reached the network.
package orkestra
