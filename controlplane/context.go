package controlplane

import (
	"context"
	"strings"
)

type ctxKey string

const actorKey ctxKey = "controlplane_actor_id"

// WithActor stores the acting global identity id in the context. Privileged
// writes stamp it onto the audit rows they append.
func WithActor(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, actorKey, strings.TrimSpace(identityID))
}

// ActorFromContext extracts the acting identity id, if present.
func ActorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
