package access

import (
	"context"

	"github.com/TimLCooley-SGS/core-sub002/controlplane"
)

type ctxKey string

const tokenKey ctxKey = "access_session_token"

// ContextWithIdentity stores the authenticated global identity id in the
// context. The registry reads the same value to stamp audit rows.
func ContextWithIdentity(ctx context.Context, identityID string) context.Context {
	return controlplane.WithActor(ctx, identityID)
}

// IdentityFromContext extracts the authenticated identity id from context.
func IdentityFromContext(ctx context.Context) (string, bool) {
	return controlplane.ActorFromContext(ctx)
}

// ContextWithToken stores the raw bearer token inside the context for
// user-scoped tenant access.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
