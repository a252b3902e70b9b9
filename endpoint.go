package orkestra

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Endpoint is a resolved service location.
type Endpoint struct {
	URL        string
	Headers    http.Header
	Properties map[string]any
}

// EndpointParams are the inputs to endpoint resolution.
type EndpointParams struct {
	Service   string
	Operation string
	Region    string
	Custom    map[string]string
}

// cacheKey renders params into a stable string.
func (p EndpointParams) cacheKey() string {
	var b strings.Builder
	b.WriteString(p.Service)
	b.WriteByte('|')
	b.WriteString(p.Operation)
	b.WriteByte('|')
	b.WriteString(p.Region)
	keys := make([]string, 0, len(p.Custom))
	for k := range p.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, p.Custom[k])
	}
	return b.String()
}

// EndpointResolver resolves the endpoint for a call.
type EndpointResolver interface {
	ResolveEndpoint(ctx context.Context, params EndpointParams) (Endpoint, error)
}

// EndpointResolverFunc adapts a function to EndpointResolver.
type EndpointResolverFunc func(ctx context.Context, params EndpointParams) (Endpoint, error)

func (f EndpointResolverFunc) ResolveEndpoint(ctx context.Context, params EndpointParams) (Endpoint, error) {
	return f(ctx, params)
}

// StaticEndpointResolver returns one fixed URL.
type StaticEndpointResolver struct {
	URL string
}

func (s StaticEndpointResolver) ResolveEndpoint(context.Context, EndpointParams) (Endpoint, error) {
	if s.URL == "" {
		return Endpoint{}, fmt.Errorf("static endpoint resolver: empty URL")
	}
	return Endpoint{URL: s.URL}, nil
}

// CachingEndpointResolver caches discovered endpoints with a TTL. It suits
// services whose endpoints are found by a discovery call.
type CachingEndpointResolver struct {
	inner EndpointResolver
	ttl   time.Duration
	cache *ristretto.Cache[string, Endpoint]
}

// NewCachingEndpointResolver wraps inner with a bounded TTL cache.
func NewCachingEndpointResolver(inner EndpointResolver, ttl time.Duration, maxEntries int64) (*CachingEndpointResolver, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Endpoint]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create endpoint cache: %w", err)
	}
	return &CachingEndpointResolver{inner: inner, ttl: ttl, cache: cache}, nil
}

func (r *CachingEndpointResolver) ResolveEndpoint(ctx context.Context, params EndpointParams) (Endpoint, error) {
	key := params.cacheKey()
	if ep, ok := r.cache.Get(key); ok {
		return ep, nil
	}

	ep, err := r.inner.ResolveEndpoint(ctx, params)
	if err != nil {
		return Endpoint{}, err
	}
	r.cache.SetWithTTL(key, ep, 1, r.ttl)
	r.cache.Wait()
	return ep, nil
}

// Invalidate removes the cached endpoint for params, e.g. after the service
// reports it as stale.
func (r *CachingEndpointResolver) Invalidate(params EndpointParams) {
	r.cache.Del(params.cacheKey())
}

// Close releases the cache goroutines.
func (r *CachingEndpointResolver) Close() {
	r.cache.Close()
}

// applyEndpoint points req at ep. The endpoint path is prefixed to the
// request path and endpoint headers are added.
func applyEndpoint(req *http.Request, ep Endpoint) error {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL %q: %w", ep.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint URL %q is not absolute", ep.URL)
	}

	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	req.Host = u.Host
	if prefix := strings.TrimSuffix(u.Path, "/"); prefix != "" {
		path := req.URL.Path
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		req.URL.Path = prefix + path
		req.URL.RawPath = ""
	}
	for name, values := range ep.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return nil
}
