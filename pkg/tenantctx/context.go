// Package tenantctx threads the current tenant through call chains explicitly.
// One engine process iterates many tenants sequentially, so tenant identity is
// always carried on the context rather than held in package state.
package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type orgIDKey struct{}

type actorKey struct{}

// WithOrgID returns a context scoped to the given tenant organization.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

// OrgID returns the tenant organization id carried by the context, if any.
func OrgID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(orgIDKey{}).(snowflake.ID)
	return id, ok
}

// WithActor records who is driving the current call chain (e.g. system/cron).
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, [2]string{actorType, actorID})
}

// Actor returns the actor type and id carried by the context.
func Actor(ctx context.Context) (actorType, actorID string) {
	if pair, ok := ctx.Value(actorKey{}).([2]string); ok {
		return pair[0], pair[1]
	}
	return "", ""
}
