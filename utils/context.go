package utils

import (
	"context"

	"github.com/google/uuid"
)

type rqIDKey struct{}

func GetRequestIDFromCtx(ctx context.Context) string {
	rqID, ok := ctx.Value(rqIDKey{}).(string)
	if !ok {
		return ""
	}
	return rqID
}

// CtxWithRequestID attaches a fresh request id unless the context already
// carries one. Scheduler jobs and the reconciler loop call it once per run.
func CtxWithRequestID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(rqIDKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, rqIDKey{}, uuid.NewString())
}
