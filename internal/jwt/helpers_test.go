package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://hydra.greenion.local/"

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

func sign(t *testing.T, priv *rsa.PrivateKey, kid string, claims jwtv5.MapClaims) string {
	t.Helper()
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	if kid != "" {
		tk.Header["kid"] = kid
	}
	s, err := tk.SignedString(priv)
	require.NoError(t, err)
	return s
}

func validClaims(sub string, scopes ...string) jwtv5.MapClaims {
	now := time.Now()
	c := jwtv5.MapClaims{
		"iss": testIssuer,
		"sub": sub,
		"aud": []string{"rest-app"},
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if len(scopes) > 0 {
		c["scp"] = scopes
	}
	return c
}

// jwksServer sirve el JWKS de las claves dadas y cuenta los hits.
func jwksServer(t *testing.T, keys map[string]*rsa.PrivateKey, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	doc := publicJWKS(t, keys)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func publicJWKS(t *testing.T, keys map[string]*rsa.PrivateKey) []byte {
	t.Helper()
	set := jwk.NewSet()
	for kid, k := range keys {
		key, err := jwk.Import(&k.PublicKey)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, kid))
		require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
		require.NoError(t, set.AddKey(key))
	}
	b, err := json.Marshal(set)
	require.NoError(t, err)
	return b
}
