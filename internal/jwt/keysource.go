package jwt

import (
	"context"
	"crypto"
	"fmt"
)

// KeySource resuelve la clave pública de verificación para un kid.
// Falla con ErrKeyNotFound o ErrIssuerUnreachable (reintentable).
type KeySource interface {
	Resolve(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// StaticKeySource es un KeySource en memoria, sin red.
type StaticKeySource map[string]crypto.PublicKey

func (s StaticKeySource) Resolve(_ context.Context, kid string) (crypto.PublicKey, error) {
	if k, ok := s[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}
