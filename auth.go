package orkestra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Auth scheme identifiers for the built-in schemes.
const (
	NoAuthSchemeID     = "noAuth"
	BearerAuthSchemeID = "httpBearerAuth"
)

// Signer applies an identity to a request.
type Signer interface {
	SignRequest(ctx context.Context, req *http.Request, identity Identity, cfg *ConfigBag) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, req *http.Request, identity Identity, cfg *ConfigBag) error

func (f SignerFunc) SignRequest(ctx context.Context, req *http.Request, identity Identity, cfg *ConfigBag) error {
	return f(ctx, req, identity, cfg)
}

// AuthScheme pairs a scheme identifier with the signer for that scheme.
type AuthScheme interface {
	SchemeID() string
	Signer() Signer
}

// NoAuthScheme leaves requests unsigned. It needs no identity resolver.
type NoAuthScheme struct{}

func (NoAuthScheme) SchemeID() string { return NoAuthSchemeID }

func (NoAuthScheme) Signer() Signer {
	return SignerFunc(func(context.Context, *http.Request, Identity, *ConfigBag) error { return nil })
}

// BearerAuthScheme sets an Authorization bearer header from a BearerToken identity.
type BearerAuthScheme struct{}

func (BearerAuthScheme) SchemeID() string { return BearerAuthSchemeID }

func (BearerAuthScheme) Signer() Signer {
	return SignerFunc(func(_ context.Context, req *http.Request, identity Identity, _ *ConfigBag) error {
		token, ok := identity.Data.(BearerToken)
		if !ok {
			return fmt.Errorf("bearer auth: unexpected identity type %T", identity.Data)
		}
		if token.Token == "" {
			return errors.New("bearer auth: empty token")
		}
		req.Header.Set("Authorization", "Bearer "+token.Token)
		return nil
	})
}

// selectedAuth is the outcome of auth scheme resolution for one attempt.
type selectedAuth struct {
	scheme   AuthScheme
	identity Identity
}

// resolveAuth walks the auth scheme options in order and picks the first one
// for which the components have a scheme and, unless it is noAuth, an identity
// resolver.
func resolveAuth(ctx context.Context, rc *RuntimeComponents, cfg *ConfigBag) (selectedAuth, error) {
	options, ok := AuthSchemeOptionsKey.Get(cfg)
	if !ok || len(options) == 0 {
		options = []string{NoAuthSchemeID}
	}

	for _, id := range options {
		scheme, ok := rc.AuthScheme(id)
		if !ok {
			if id != NoAuthSchemeID {
				continue
			}
			scheme = NoAuthScheme{}
		}
		if id == NoAuthSchemeID {
			return selectedAuth{scheme: scheme}, nil
		}

		resolver, ok := rc.IdentityResolver(id)
		if !ok {
			continue
		}
		identity, err := resolver.ResolveIdentity(ctx, cfg)
		if err != nil {
			return selectedAuth{}, fmt.Errorf("resolve identity for %s: %w", id, err)
		}
		return selectedAuth{scheme: scheme, identity: identity}, nil
	}

	return selectedAuth{}, fmt.Errorf("%w: options %v", ErrNoIdentityResolver, options)
}
