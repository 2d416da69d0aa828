package utils

import (
	"context"

	"github.com/mmdatafocus/stock_ledger/appctx"
)

var (
	ContextKeyActor         = appctx.ContextKeyActor
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActor)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetActorInContext(ctx context.Context, actor string) context.Context {
	return appctx.Set(ctx, ContextKeyActor, actor)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// ActorOrSystem returns actor if set, otherwise the actor stored in ctx, otherwise "System".
func ActorOrSystem(ctx context.Context, actor string) string {
	if actor != "" {
		return actor
	}
	if v, ok := GetActorFromContext(ctx); ok && v != "" {
		return v
	}
	return "System"
}
