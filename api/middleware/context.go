package middleware

import (
	"context"

	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// PrincipalFromContext returns the authenticated actor, if any.
func PrincipalFromContext(ctx context.Context) (realtime.Principal, bool) {
	if ctx == nil {
		return realtime.Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(realtime.Principal)
	return p, ok
}

// WithPrincipal injects the authenticated actor into the context.
func WithPrincipal(ctx context.Context, p realtime.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}
