package authz

import (
	"context"
	"errors"
)

// ErrNoPrincipal is returned when no principal is available.
var ErrNoPrincipal = errors.New("no principal in context")

// principalCtxKey is an unexported type used as the context key for Principal.
type principalCtxKey struct{}

// WithPrincipal returns a new context with the given Principal attached.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the Principal from the context.
// Returns the zero value and false if no principal is set.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// Provider resolves the current caller.
type Provider interface {
	Principal(ctx context.Context) (Principal, error)
}

// ContextProvider reads the principal stored by WithPrincipal.
type ContextProvider struct{}

// Principal returns the context principal or ErrNoPrincipal.
func (ContextProvider) Principal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, p.Validate()
}

// StaticProvider always returns the same principal. The command layer uses
// it with the identity from flags or config.
type StaticProvider struct {
	Fixed Principal
}

// Principal returns the fixed principal, preferring one set on ctx.
func (s StaticProvider) Principal(ctx context.Context) (Principal, error) {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p, p.Validate()
	}
	return s.Fixed, s.Fixed.Validate()
}
