package logx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

// With returns a child context whose logger carries the extra fields.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, contextKey{}, From(ctx).With(fields...))
}

// From returns the logger stored by With, falling back to L.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L
}
