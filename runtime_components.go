package orkestra

import (
	"fmt"
	"strings"
)

// tracked remembers which builder supplied a component.
type tracked[T any] struct {
	origin string
	value  T
}

type identityResolverEntry struct {
	schemeID string
	resolver IdentityResolver
}

// RuntimeComponentsBuilder collects runtime components from one source (client
// defaults, a plugin, a call override). Builders are merged in order and then
// built into RuntimeComponents.
type RuntimeComponentsBuilder struct {
	name string

	connector         *tracked[Connector]
	endpointResolver  *tracked[EndpointResolver]
	identityResolvers []tracked[identityResolverEntry]
	authSchemes       []tracked[AuthScheme]
	interceptors      []tracked[Interceptor]
	retryStrategy     *tracked[RetryStrategy]
	retryClassifiers  []tracked[RetryClassifier]
	timeSource        *tracked[TimeSource]
	sleeper           *tracked[Sleeper]
}

// NewRuntimeComponentsBuilder creates an empty builder. The name is recorded
// as the origin of every component it sets.
func NewRuntimeComponentsBuilder(name string) *RuntimeComponentsBuilder {
	return &RuntimeComponentsBuilder{name: name}
}

// Name returns the builder name.
func (b *RuntimeComponentsBuilder) Name() string { return b.name }

func single[T any](b *RuntimeComponentsBuilder, v T) *tracked[T] {
	return &tracked[T]{origin: b.name, value: v}
}

func (b *RuntimeComponentsBuilder) WithConnector(c Connector) *RuntimeComponentsBuilder {
	b.connector = single(b, c)
	return b
}

func (b *RuntimeComponentsBuilder) WithEndpointResolver(r EndpointResolver) *RuntimeComponentsBuilder {
	b.endpointResolver = single(b, r)
	return b
}

// AddIdentityResolver registers a resolver for an auth scheme. Later
// registrations for the same scheme shadow earlier ones.
func (b *RuntimeComponentsBuilder) AddIdentityResolver(schemeID string, r IdentityResolver) *RuntimeComponentsBuilder {
	b.identityResolvers = append(b.identityResolvers, tracked[identityResolverEntry]{
		origin: b.name,
		value:  identityResolverEntry{schemeID: schemeID, resolver: r},
	})
	return b
}

func (b *RuntimeComponentsBuilder) AddAuthScheme(s AuthScheme) *RuntimeComponentsBuilder {
	b.authSchemes = append(b.authSchemes, tracked[AuthScheme]{origin: b.name, value: s})
	return b
}

func (b *RuntimeComponentsBuilder) AddInterceptor(i Interceptor) *RuntimeComponentsBuilder {
	b.interceptors = append(b.interceptors, tracked[Interceptor]{origin: b.name, value: i})
	return b
}

func (b *RuntimeComponentsBuilder) WithRetryStrategy(s RetryStrategy) *RuntimeComponentsBuilder {
	b.retryStrategy = single(b, s)
	return b
}

func (b *RuntimeComponentsBuilder) AddRetryClassifier(c RetryClassifier) *RuntimeComponentsBuilder {
	b.retryClassifiers = append(b.retryClassifiers, tracked[RetryClassifier]{origin: b.name, value: c})
	return b
}

func (b *RuntimeComponentsBuilder) WithTimeSource(ts TimeSource) *RuntimeComponentsBuilder {
	b.timeSource = single(b, ts)
	return b
}

func (b *RuntimeComponentsBuilder) WithSleeper(s Sleeper) *RuntimeComponentsBuilder {
	b.sleeper = single(b, s)
	return b
}

// Connector returns the configured connector, or nil.
func (b *RuntimeComponentsBuilder) Connector() Connector {
	if b.connector == nil {
		return nil
	}
	return b.connector.value
}

// RetryStrategy returns the configured retry strategy, or nil.
func (b *RuntimeComponentsBuilder) RetryStrategy() RetryStrategy {
	if b.retryStrategy == nil {
		return nil
	}
	return b.retryStrategy.value
}

// Interceptors returns the configured interceptors in order.
func (b *RuntimeComponentsBuilder) Interceptors() []Interceptor {
	return values(b.interceptors)
}

// RetryClassifiers returns the configured classifiers in order.
func (b *RuntimeComponentsBuilder) RetryClassifiers() []RetryClassifier {
	return values(b.retryClassifiers)
}

// Origin returns the name of the builder that set a single-valued slot.
func (b *RuntimeComponentsBuilder) Origin(kind ComponentKind) string {
	switch kind {
	case ComponentConnector:
		return originOf(b.connector)
	case ComponentEndpointResolver:
		return originOf(b.endpointResolver)
	case ComponentRetryStrategy:
		return originOf(b.retryStrategy)
	case ComponentTimeSource:
		return originOf(b.timeSource)
	case ComponentSleeper:
		return originOf(b.sleeper)
	default:
		return ""
	}
}

func originOf[T any](t *tracked[T]) string {
	if t == nil {
		return ""
	}
	return t.origin
}

func values[T any](list []tracked[T]) []T {
	out := make([]T, len(list))
	for i, t := range list {
		out[i] = t.value
	}
	return out
}

func concat[T any](a, b []tracked[T]) []tracked[T] {
	out := make([]tracked[T], 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func pick[T any](mine, theirs *tracked[T]) *tracked[T] {
	if theirs != nil {
		return theirs
	}
	return mine
}

// MergeFrom returns a new builder where single slots explicitly set in other
// replace those of b and list slots are concatenated, b's entries first.
// Neither input is modified.
func (b *RuntimeComponentsBuilder) MergeFrom(other *RuntimeComponentsBuilder) *RuntimeComponentsBuilder {
	if other == nil {
		other = &RuntimeComponentsBuilder{}
	}
	return &RuntimeComponentsBuilder{
		name:              b.name,
		connector:         pick(b.connector, other.connector),
		endpointResolver:  pick(b.endpointResolver, other.endpointResolver),
		identityResolvers: concat(b.identityResolvers, other.identityResolvers),
		authSchemes:       concat(b.authSchemes, other.authSchemes),
		interceptors:      concat(b.interceptors, other.interceptors),
		retryStrategy:     pick(b.retryStrategy, other.retryStrategy),
		retryClassifiers:  concat(b.retryClassifiers, other.retryClassifiers),
		timeSource:        pick(b.timeSource, other.timeSource),
		sleeper:           pick(b.sleeper, other.sleeper),
	}
}

// Build validates the merged components. The retry strategy and time source
// are always required; a sleep implementation is required unless the retry
// strategy never retries.
func (b *RuntimeComponentsBuilder) Build() (*RuntimeComponents, error) {
	var missing []ComponentKind
	if b.retryStrategy == nil {
		missing = append(missing, ComponentRetryStrategy)
	}
	if b.timeSource == nil {
		missing = append(missing, ComponentTimeSource)
	}
	if b.sleeper == nil && !neverSleeps(b.RetryStrategy()) {
		missing = append(missing, ComponentSleeper)
	}
	if len(missing) > 0 {
		return nil, &BuildError{Builder: b.name, Missing: missing}
	}

	rc := &RuntimeComponents{
		builder:           b.name,
		identityResolvers: values(b.identityResolvers),
		authSchemes:       values(b.authSchemes),
		interceptors:      values(b.interceptors),
		retryStrategy:     b.retryStrategy.value,
		retryClassifiers:  values(b.retryClassifiers),
		timeSource:        b.timeSource.value,
		origins:           make(map[ComponentKind]string),
	}
	if b.connector != nil {
		rc.connector = b.connector.value
	}
	if b.endpointResolver != nil {
		rc.endpointResolver = b.endpointResolver.value
	}
	if b.sleeper != nil {
		rc.sleeper = b.sleeper.value
	} else {
		rc.sleeper = DefaultSleeper{}
	}
	for _, kind := range []ComponentKind{ComponentConnector, ComponentEndpointResolver, ComponentRetryStrategy, ComponentTimeSource, ComponentSleeper} {
		if origin := b.Origin(kind); origin != "" {
			rc.origins[kind] = origin
		}
	}
	return rc, nil
}

func neverSleeps(s RetryStrategy) bool {
	switch s.(type) {
	case NeverRetryStrategy, *NeverRetryStrategy:
		return true
	}
	return false
}

// RuntimeComponents is the validated, immutable set of components for one
// call.
type RuntimeComponents struct {
	builder string

	connector         Connector
	endpointResolver  EndpointResolver
	identityResolvers []identityResolverEntry
	authSchemes       []AuthScheme
	interceptors      []Interceptor
	retryStrategy     RetryStrategy
	retryClassifiers  []RetryClassifier
	timeSource        TimeSource
	sleeper           Sleeper
	origins           map[ComponentKind]string
}

func (rc *RuntimeComponents) Connector() Connector               { return rc.connector }
func (rc *RuntimeComponents) EndpointResolver() EndpointResolver { return rc.endpointResolver }
func (rc *RuntimeComponents) Interceptors() []Interceptor        { return rc.interceptors }
func (rc *RuntimeComponents) RetryStrategy() RetryStrategy       { return rc.retryStrategy }
func (rc *RuntimeComponents) RetryClassifiers() []RetryClassifier {
	return rc.retryClassifiers
}
func (rc *RuntimeComponents) TimeSource() TimeSource { return rc.timeSource }
func (rc *RuntimeComponents) Sleeper() Sleeper       { return rc.sleeper }

// IdentityResolver returns the most recently registered resolver for schemeID.
func (rc *RuntimeComponents) IdentityResolver(schemeID string) (IdentityResolver, bool) {
	for i := len(rc.identityResolvers) - 1; i >= 0; i-- {
		if rc.identityResolvers[i].schemeID == schemeID {
			return rc.identityResolvers[i].resolver, true
		}
	}
	return nil, false
}

// AuthScheme returns the most recently registered scheme with the given id.
func (rc *RuntimeComponents) AuthScheme(schemeID string) (AuthScheme, bool) {
	for i := len(rc.authSchemes) - 1; i >= 0; i-- {
		if rc.authSchemes[i].SchemeID() == schemeID {
			return rc.authSchemes[i], true
		}
	}
	return nil, false
}

// Origin returns the builder that supplied a single-valued component.
func (rc *RuntimeComponents) Origin(kind ComponentKind) string { return rc.origins[kind] }

func (rc *RuntimeComponents) String() string {
	parts := make([]string, 0, len(rc.origins))
	for _, kind := range []ComponentKind{ComponentConnector, ComponentEndpointResolver, ComponentRetryStrategy, ComponentTimeSource, ComponentSleeper} {
		if origin, ok := rc.origins[kind]; ok {
			parts = append(parts, fmt.Sprintf("%s<-%s", kind, origin))
		}
	}
	return fmt.Sprintf("RuntimeComponents{%s, interceptors=%d, classifiers=%d}",
		strings.Join(parts, " "), len(rc.interceptors), len(rc.retryClassifiers))
}
