package auth

import "context"

type ctxKey int

const (
	principalKey ctxKey = iota
	guardKey
	requestIDKey
	tokenIDKey
)

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// WithGuard attaches the guard a request was admitted under.
func WithGuard(ctx context.Context, guard string) context.Context {
	return context.WithValue(ctx, guardKey, guard)
}

func GuardFromContext(ctx context.Context) string {
	g, _ := ctx.Value(guardKey).(string)
	return g
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTokenID records which bearer token authenticated the request.
func WithTokenID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tokenIDKey, id)
}

func TokenIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tokenIDKey).(string)
	return id
}
