package utils

import (
	"context"
	"net/http"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the authenticated caller of r, or "" when the request
// did not pass through the auth middleware.
func IdentityFrom(r *http.Request) string {
	identity, _ := r.Context().Value(identityKey{}).(string)
	return identity
}
