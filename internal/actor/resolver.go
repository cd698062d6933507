// Package actor resolves "who is doing this" and "from where" for audit
// records. The engine never knows how identity works in the host application
// (a session, a JWT, an RPC peer), so the host registers
// two resolver functions once at startup. Using the recorder before
// registration is a configuration error surfaced as ErrNotConfigured; a
// registered resolver that fails at runtime is an ordinary resolution failure
// the recorder swallows.
package actor

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when identity is requested before the host
// registered a resolver. This is a startup-time wiring defect, not a runtime
// condition, and is never swallowed by the recorder.
var ErrNotConfigured = errors.New("actor: resolver not configured")

// PrincipalFunc returns the current user's identity.
type PrincipalFunc func(ctx context.Context) (string, error)

// OriginFunc returns the caller's network origin.
type OriginFunc func(ctx context.Context) (string, error)

// Resolver supplies the current principal and network origin.
type Resolver struct {
	principal PrincipalFunc
	origin    OriginFunc
}

// NewResolver creates a Resolver from the host's lookup functions. Either
// function may be nil; the corresponding accessor then reports
// ErrNotConfigured.
func NewResolver(principal PrincipalFunc, origin OriginFunc) *Resolver {
	return &Resolver{principal: principal, origin: origin}
}

// CurrentUserID returns the current principal's identity.
func (r *Resolver) CurrentUserID(ctx context.Context) (string, error) {
	if r == nil || r.principal == nil {
		return "", ErrNotConfigured
	}
	return r.principal(ctx)
}

// CurrentUserIP returns the caller's network origin.
func (r *Resolver) CurrentUserIP(ctx context.Context) (string, error) {
	if r == nil || r.origin == nil {
		return "", ErrNotConfigured
	}
	return r.origin(ctx)
}
