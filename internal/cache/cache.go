// Package cache provee un key/value con TTL sobre dos backends:
//
//   - memory (go-cache, in-process, para desarrollo o una sola réplica)
//   - redis (compartido entre réplicas, para producción)
//
// Lo usa el broker OAuth2 para el registro de states consumidos.
package cache

import (
	"context"
	"time"
)

// Client es lo que el broker necesita de un cache: un registro set-if-absent con TTL.
type Client interface {
	// SetNX guarda solo si la key no existe. Devuelve false si ya existía.
	// ttl 0 = sin expiración.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
