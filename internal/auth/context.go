package auth

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated caller to the context. Only
// the HTTP boundary reads it back; core operations take the identity as an
// argument.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the authenticated caller from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
