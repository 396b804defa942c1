package jwt

import (
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/vdigate/internal/metrics"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

const (
	defaultJWKSTimeout     = 10 * time.Second
	defaultMinRefreshEvery = 5 * time.Second
	maxJWKSBody            = 1 << 20
	maxMissedKids          = 1024
)

// RemoteKeySource resuelve claves contra un JWKS remoto que rota del lado del issuer.
// Cache por kid; ante un miss re-descarga el set completo una sola vez.
// Misses concurrentes colapsan en una única descarga y un kid que ya falló
// contra un set recién bajado no vuelve a disparar descargas durante minRefreshEvery.
type RemoteKeySource struct {
	URL string

	http            *http.Client
	minRefreshEvery time.Duration
	now             func() time.Time

	mu     sync.RWMutex
	keys   map[string]crypto.PublicKey
	etag   string
	missed map[string]time.Time

	sf singleflight.Group
}

// RemoteOption configura un RemoteKeySource.
type RemoteOption func(*RemoteKeySource)

// WithHTTPClient reemplaza el cliente HTTP (debe tener Timeout acotado).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *RemoteKeySource) { r.http = c }
}

// WithTimeout fija el timeout de la descarga del JWKS.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *RemoteKeySource) {
		if d > 0 {
			r.http = &http.Client{Timeout: d}
		}
	}
}

// WithMinRefreshInterval evita re-descargar por el mismo kid desconocido más seguido que d.
func WithMinRefreshInterval(d time.Duration) RemoteOption {
	return func(r *RemoteKeySource) { r.minRefreshEvery = d }
}

// NewRemoteKeySource crea la fuente para jwksURL (ej: {issuer}/.well-known/jwks.json).
func NewRemoteKeySource(jwksURL string, opts ...RemoteOption) *RemoteKeySource {
	r := &RemoteKeySource{
		URL:             jwksURL,
		http:            &http.Client{Timeout: defaultJWKSTimeout},
		minRefreshEvery: defaultMinRefreshEvery,
		now:             time.Now,
		keys:            map[string]crypto.PublicKey{},
		missed:          map[string]time.Time{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve implementa KeySource.
func (r *RemoteKeySource) Resolve(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if k, ok := r.cached(kid); ok {
		return k, nil
	}

	// Este kid ya faltó en un set recién bajado.
	if r.recentlyMissed(kid) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}

	// Un solo refresh en vuelo sin importar cuántos kids fallen a la vez.
	_, err, _ := r.sf.Do("refresh", func() (interface{}, error) {
		// Otro caller pudo terminar el refresh entre el chequeo de arriba y este punto.
		if _, ok := r.cached(kid); ok || r.recentlyMissed(kid) {
			return nil, nil
		}
		// Desacoplado de la cancelación del primer caller; el http.Client acota la duración.
		if err := r.refresh(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		if _, ok := r.cached(kid); !ok {
			r.markMissed(kid)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	if k, ok := r.cached(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

// Refresh fuerza la descarga del JWKS (precalentado al arrancar y /readyz).
// Comparte el vuelo con Resolve, así que la descarga no hereda la cancelación de ctx.
func (r *RemoteKeySource) Refresh(ctx context.Context) error {
	ch := r.sf.DoChan("refresh", func() (interface{}, error) {
		return nil, r.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrIssuerUnreachable, ctx.Err())
	}
}

func (r *RemoteKeySource) recentlyMissed(kid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.missed[kid]
	return ok && r.now().Sub(at) < r.minRefreshEvery
}

func (r *RemoteKeySource) markMissed(kid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.missed) >= maxMissedKids {
		r.missed = map[string]time.Time{}
	}
	r.missed[kid] = r.now()
}

func (r *RemoteKeySource) cached(kid string) (crypto.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[kid]
	return k, ok
}

// refresh descarga el set sin tener tomado el lock; solo lo toma para el swap.
func (r *RemoteKeySource) refresh(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("jwt.remote"), logger.Op("refresh"))

	r.mu.RLock()
	etag := r.etag
	r.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		metrics.JWKSFetchTotal.WithLabelValues("error").Inc()
		log.Warn("jwks fetch failed", logger.Err(err))
		return fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		metrics.JWKSFetchTotal.WithLabelValues("not_modified").Inc()
		return nil
	}
	if resp.StatusCode/100 != 2 {
		metrics.JWKSFetchTotal.WithLabelValues("error").Inc()
		log.Warn("jwks fetch rejected", logger.Status(resp.StatusCode))
		return fmt.Errorf("%w: jwks http %d", ErrIssuerUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		metrics.JWKSFetchTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
	}
	keys, err := publicKeysFromJWKS(body)
	if err != nil {
		metrics.JWKSFetchTotal.WithLabelValues("error").Inc()
		log.Warn("jwks unparsable", logger.Err(err))
		return fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
	}

	r.mu.Lock()
	r.keys = keys
	r.etag = resp.Header.Get("ETag")
	r.mu.Unlock()

	metrics.JWKSFetchTotal.WithLabelValues("ok").Inc()
	log.Debug("jwks refreshed", logger.Int("keys", len(keys)))
	return nil
}

// publicKeysFromJWKS parsea un JWKS y devuelve kid -> clave pública.
// Claves sin kid se ignoran.
func publicKeysFromJWKS(doc []byte) (map[string]crypto.PublicKey, error) {
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crypto.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid, ok := key.KeyID()
		if !ok || kid == "" {
			continue
		}
		pub, err := exportPublic(key)
		if err != nil {
			return nil, fmt.Errorf("kid %s: %w", kid, err)
		}
		out[kid] = pub
	}
	return out, nil
}

func exportPublic(key jwk.Key) (crypto.PublicKey, error) {
	pk, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := jwk.Export(pk, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
