package users

import "context"

type identityContextKey struct{}

// ContextWithIdentity stores the active identity for the request.
func ContextWithIdentity(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, identityContextKey{}, u)
}

// IdentityFromContext returns the active identity, if any.
func IdentityFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(identityContextKey{}).(User)
	return u, ok
}
