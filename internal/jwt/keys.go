package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// GenerateRSAKeySet genera un JWKS con una clave RSA privada (RS256, use=sig).
// Es el documento que consume LoadLocalKeySet; no debe salir del host.
func GenerateRSAKeySet(kid string, bits int) ([]byte, error) {
	if kid == "" {
		return nil, fmt.Errorf("kid required")
	}
	if bits < 2048 {
		bits = 2048
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return RSAKeySetJSON(kid, priv)
}

// RSAKeySetJSON serializa priv como JWKS de una clave.
func RSAKeySetJSON(kid string, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := jwk.Import(priv)
	if err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return json.MarshalIndent(set, "", "  ")
}
