package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type keyType string

const (
	TenantIDKey keyType = "tenant_id"
	ActorKey    keyType = "actor"
)

// Actor identifies who triggered an operation, for audit purposes.
type Actor struct {
	Type string
	ID   string
}

const (
	ActorTypeUser    = "user"
	ActorTypeSystem  = "system"
	ActorTypeWebhook = "webhook"
)

// WithTenantID stores the resolved tenant in ctx. The id is trusted: it comes
// from the authentication collaborator.
func WithTenantID(ctx context.Context, tenantID snowflake.ID) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantID returns the tenant stored in ctx, if any.
func TenantID(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch v := ctx.Value(TenantIDKey).(type) {
	case snowflake.ID:
		return v, v != 0
	case int64:
		return snowflake.ID(v), v != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(v))
		if err == nil && parsed != 0 {
			return parsed, true
		}
	}
	return 0, false
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromContext defaults to the system actor.
func ActorFromContext(ctx context.Context) Actor {
	if ctx != nil {
		if actor, ok := ctx.Value(ActorKey).(Actor); ok && actor.Type != "" {
			return actor
		}
	}
	return Actor{Type: ActorTypeSystem}
}
