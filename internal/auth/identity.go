package auth

import (
	"context"
	"crypto/x509"
	"errors"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Identity is the authenticated caller of a request.
type Identity struct {
	// Subject is the OIDC subject of a bearer token caller.
	Subject string
	// Certificate is the verified client certificate of a certificate caller.
	Certificate *x509.Certificate
}

// ReadOnly reports whether the identity is limited to reads, which is the
// case for every client certificate identity.
func (i *Identity) ReadOnly() bool {
	return i.Subject == ""
}

type contextKey int

const (
	identityContextKey contextKey = iota
)

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext returns the identity of the request, or nil for an
// unauthenticated request.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// AuthorizeRead allows client certificate callers and the OIDC subject that
// owns the resource.
func AuthorizeRead(id *Identity, ownerSubject string) error {
	if id == nil {
		return ErrUnauthenticated
	}
	if id.Certificate != nil || id.Subject == ownerSubject {
		return nil
	}
	return ErrForbidden
}

// AuthorizeWrite allows only the OIDC subject that owns the resource.
func AuthorizeWrite(id *Identity, ownerSubject string) error {
	if id == nil {
		return ErrUnauthenticated
	}
	if id.ReadOnly() || id.Subject != ownerSubject {
		return ErrForbidden
	}
	return nil
}
