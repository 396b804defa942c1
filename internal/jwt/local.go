package jwt

import (
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// SigningKey es la clave privada local con la que este servicio firma.
type SigningKey struct {
	KID       string
	Algorithm string
	Scope     string // "session-token" | "access-token"
	Private   *rsa.PrivateKey
}

// LocalKeySet es un KeySource sin red sobre un documento JWKS preconfigurado.
// El kid configurado tiene que existir en el documento: si falta, la carga falla
// con ErrConfigurationFatal y el proceso no debería arrancar.
type LocalKeySet struct {
	kid     string
	public  map[string]crypto.PublicKey
	signer  *SigningKey
	pubJWKS []byte
}

// LoadLocalKeySet lee el documento JWKS desde path.
func LoadLocalKeySet(path, kid string) (*LocalKeySet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key set %s: %v", ErrConfigurationFatal, path, err)
	}
	return ParseLocalKeySet(b, kid)
}

// ParseLocalKeySet parsea un JWKS (con o sin miembros privados) y fija kid como clave propia.
func ParseLocalKeySet(doc []byte, kid string) (*LocalKeySet, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: empty kid", ErrConfigurationFatal)
	}
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse key set: %v", ErrConfigurationFatal, err)
	}
	if _, ok := set.LookupKeyID(kid); !ok {
		return nil, fmt.Errorf("%w: kid %q not in key set", ErrConfigurationFatal, kid)
	}

	ls := &LocalKeySet{kid: kid, public: map[string]crypto.PublicKey{}}
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		k, ok := key.KeyID()
		if !ok || k == "" {
			continue
		}
		pub, err := exportPublic(key)
		if err != nil {
			return nil, fmt.Errorf("%w: kid %s: %v", ErrConfigurationFatal, k, err)
		}
		ls.public[k] = pub

		if k != kid {
			continue
		}
		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			return nil, fmt.Errorf("%w: kid %s: %v", ErrConfigurationFatal, k, err)
		}
		if priv, ok := raw.(*rsa.PrivateKey); ok {
			alg := "RS256"
			if a, ok := key.Algorithm(); ok && a.String() != "" {
				alg = a.String()
			}
			ls.signer = &SigningKey{KID: k, Algorithm: alg, Scope: "session-token", Private: priv}
		}
	}

	pubSet, err := jwk.PublicSetOf(set)
	if err != nil {
		return nil, fmt.Errorf("%w: public set: %v", ErrConfigurationFatal, err)
	}
	if ls.pubJWKS, err = json.Marshal(pubSet); err != nil {
		return nil, fmt.Errorf("%w: marshal public set: %v", ErrConfigurationFatal, err)
	}
	return ls, nil
}

// Resolve implementa KeySource sin red.
func (l *LocalKeySet) Resolve(_ context.Context, kid string) (crypto.PublicKey, error) {
	if k, ok := l.public[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

// KID devuelve el kid configurado.
func (l *LocalKeySet) KID() string { return l.kid }

// Signer devuelve la clave privada del kid configurado, o ErrSigningKeyUnavailable
// si el documento solo trae la mitad pública.
func (l *LocalKeySet) Signer() (*SigningKey, error) {
	if l == nil || l.signer == nil {
		return nil, ErrSigningKeyUnavailable
	}
	return l.signer, nil
}

// PublicJWKS devuelve el JWKS público (sin miembros privados) para publicarlo.
func (l *LocalKeySet) PublicJWKS() []byte {
	out := make([]byte, len(l.pubJWKS))
	copy(out, l.pubJWKS)
	return out
}
