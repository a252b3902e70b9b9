package orkestra

import (
	"context"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/orkestra/internal/singleflight"
)

// Identity is a resolved credential. Data holds the scheme-specific value,
// e.g. a BearerToken.
type Identity struct {
	Data       any
	Expiration time.Time
}

// Expired reports whether the identity expires within buffer of now.
func (i Identity) Expired(now time.Time, buffer time.Duration) bool {
	if i.Expiration.IsZero() {
		return false
	}
	return !now.Add(buffer).Before(i.Expiration)
}

// BearerToken is the identity data used by the bearer auth scheme.
type BearerToken struct {
	Token string
}

// IdentityResolver resolves the identity used to sign a request.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, cfg *ConfigBag) (Identity, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, cfg *ConfigBag) (Identity, error)

func (f IdentityResolverFunc) ResolveIdentity(ctx context.Context, cfg *ConfigBag) (Identity, error) {
	return f(ctx, cfg)
}

// StaticIdentityResolver always returns the same identity.
type StaticIdentityResolver struct {
	Identity Identity
}

func (s StaticIdentityResolver) ResolveIdentity(context.Context, *ConfigBag) (Identity, error) {
	return s.Identity, nil
}

const (
	defaultIdentityExpiryBuffer = 10 * time.Second
	identityFlightKey           = "identity"
)

// CachingIdentityResolver caches the identity of an inner resolver until it
// comes within a buffer of its expiration. Concurrent refreshes are coalesced.
type CachingIdentityResolver struct {
	inner      IdentityResolver
	timeSource TimeSource
	buffer     time.Duration
	group      *singleflight.Group[Identity]

	mu         sync.RWMutex
	cached     *Identity
	generation uint64
}

// NewCachingIdentityResolver wraps inner. A nil time source uses the wall clock.
func NewCachingIdentityResolver(inner IdentityResolver, ts TimeSource) *CachingIdentityResolver {
	if ts == nil {
		ts = SystemTimeSource{}
	}
	return &CachingIdentityResolver{
		inner:      inner,
		timeSource: ts,
		buffer:     defaultIdentityExpiryBuffer,
		group:      singleflight.New[Identity](),
	}
}

// WithExpiryBuffer sets how long before expiration an identity is refreshed.
func (r *CachingIdentityResolver) WithExpiryBuffer(d time.Duration) *CachingIdentityResolver {
	r.buffer = d
	return r
}

func (r *CachingIdentityResolver) ResolveIdentity(ctx context.Context, cfg *ConfigBag) (Identity, error) {
	r.mu.RLock()
	cached, generation := r.cached, r.generation
	r.mu.RUnlock()
	if cached != nil && !cached.Expired(r.timeSource.Now(), r.buffer) {
		return *cached, nil
	}

	return r.group.DoContext(ctx, identityFlightKey, func() (Identity, error) {
		// Shared by every waiter, so one caller's cancellation must not fail the others.
		id, err := r.inner.ResolveIdentity(context.WithoutCancel(ctx), cfg)
		if err != nil {
			return Identity{}, err
		}
		r.mu.Lock()
		// A refresh detached by Invalidate must not repopulate the cache.
		if r.generation == generation {
			r.cached = &id
		}
		r.mu.Unlock()
		return id, nil
	})
}

// Invalidate drops the cached identity. A refresh already in flight is
// detached so the next caller starts a new one.
func (r *CachingIdentityResolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.generation++
	r.mu.Unlock()
	r.group.Forget(identityFlightKey)
}
