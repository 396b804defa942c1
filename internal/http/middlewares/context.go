package middlewares

import (
	"context"

	"github.com/dropDatabas3/vdigate/internal/jwt"
)

type ctxKey string

const (
	ctxIdentityKey  ctxKey = "identity"
	ctxRawTokenKey  ctxKey = "raw_token"
	ctxRequestIDKey ctxKey = "request_id"
)

// WithIdentity inyecta la identidad verificada (y el token crudo) en el contexto.
func WithIdentity(ctx context.Context, id *jwt.VerifiedIdentity, raw string) context.Context {
	ctx = context.WithValue(ctx, ctxIdentityKey, id)
	return context.WithValue(ctx, ctxRawTokenKey, raw)
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetIdentity devuelve la identidad verificada o nil si la ruta no pasó por RequireAuth.
func GetIdentity(ctx context.Context) *jwt.VerifiedIdentity {
	if v, ok := ctx.Value(ctxIdentityKey).(*jwt.VerifiedIdentity); ok {
		return v
	}
	return nil
}

// GetRawToken devuelve el token con el que se autenticó el request.
func GetRawToken(ctx context.Context) string {
	s, _ := ctx.Value(ctxRawTokenKey).(string)
	return s
}

func GetRequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxRequestIDKey).(string)
	return s
}
