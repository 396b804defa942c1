// Package app arma el proceso a partir de la configuración: construye
// explícitamente cada dependencia del rol (o roles) que se sirve y las
// inyecta en services, controllers y router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/vdigate/internal/ca"
	"github.com/dropDatabas3/vdigate/internal/cache"
	"github.com/dropDatabas3/vdigate/internal/config"
	"github.com/dropDatabas3/vdigate/internal/http/controllers"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	"github.com/dropDatabas3/vdigate/internal/http/router"
	"github.com/dropDatabas3/vdigate/internal/http/services"
	"github.com/dropDatabas3/vdigate/internal/http/services/health"
	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/metrics"
	"github.com/dropDatabas3/vdigate/internal/oauth/ory"
	"github.com/dropDatabas3/vdigate/internal/oauth/rp"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/rate"
)

// App es el proceso ya cableado.
type App struct {
	Handler http.Handler

	closers []func() error
}

// Close libera cache y conexiones en orden inverso de creación.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type options struct {
	registry   *prometheus.Registry
	httpClient *http.Client
	version    string
}

type Option func(*options)

// WithRegistry usa un registry propio en lugar del global (tests).
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithHTTPClient reemplaza el cliente HTTP hacia Hydra y Kratos.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New construye el proceso. Cualquier error acá es fatal para el arranque
// (CA ilegible, key set sin el kid configurado, redis caído).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log := logger.From(ctx).With(logger.Component("app"), logger.String("role", cfg.App.Role))
	a := &App{}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	// Métricas
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	metricsHandler := promhttp.Handler()
	if o.registry != nil {
		reg = o.registry
		metricsHandler = promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
	}
	if err := metrics.RegisterTrust(reg); err != nil {
		return nil, err
	}
	if err := metrics.RegisterHTTP(reg); err != nil {
		return nil, err
	}

	// Cache (ledger de states) + rate limiter sobre el mismo backend
	store, limiter, err := buildCache(cfg)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, store.Close)
	checks := []health.Check{{Name: "cache", Critical: true, Run: store.Ping}}

	// Dominios de confianza
	keyOpts := []jwt.RemoteOption{
		jwt.WithTimeout(cfg.Upstream.Timeout),
		jwt.WithMinRefreshInterval(cfg.Upstream.JWKSMissBackoff),
	}
	hydraKeys := jwt.NewRemoteKeySource(cfg.Hydra.JWKSURL, keyOpts...)
	checks = append(checks, health.Check{Name: "hydra_jwks", Run: hydraKeys.Refresh})
	primary := jwt.Domain{
		Name:     "hydra",
		Keys:     hydraKeys,
		Issuer:   cfg.Hydra.PublicURL,
		Audience: cfg.Hydra.AccessToken.Audience,
	}

	var (
		localKeys *jwt.LocalKeySet
		vopts     []jwt.VerifierOption
	)
	if cfg.Hydra.SessionVDI.KeySetPath != "" {
		localKeys, err = jwt.LoadLocalKeySet(cfg.Hydra.SessionVDI.KeySetPath, cfg.Hydra.SessionVDI.KID)
		if err != nil {
			return fail(err)
		}
	}
	switch {
	case localKeys != nil:
		vopts = append(vopts, jwt.WithSecondary(jwt.Domain{Name: "session", Keys: localKeys, Issuer: cfg.Hydra.SessionVDI.Issuer}))
	case cfg.Hydra.SessionVDI.JWKSURL != "":
		sessionKeys := jwt.NewRemoteKeySource(cfg.Hydra.SessionVDI.JWKSURL, keyOpts...)
		vopts = append(vopts, jwt.WithSecondary(jwt.Domain{Name: "session", Keys: sessionKeys, Issuer: cfg.Hydra.SessionVDI.Issuer}))
	}
	verifier, err := jwt.NewVerifier(primary, vopts...)
	if err != nil {
		return fail(err)
	}

	oryOpts := []ory.Option{ory.WithTimeout(cfg.Upstream.Timeout)}
	if o.httpClient != nil {
		oryOpts = append(oryOpts, ory.WithHTTPClient(o.httpClient))
	}

	deps := services.Deps{
		StateTTL: cfg.Authorization.StateTTL,
		Health:   health.Deps{Role: cfg.App.Role, Version: o.version},
	}
	var publicJWKS []byte

	if cfg.Serves(config.RoleAuth) {
		ttl, err := cfg.SessionTTL()
		if err != nil {
			return fail(err)
		}
		issuer, err := jwt.NewIssuer(cfg.Hydra.SessionVDI.Issuer, localKeys, ttl)
		if err != nil {
			return fail(err)
		}
		hydra, err := ory.NewHydra(cfg.Hydra.AdminURL, oryOpts...)
		if err != nil {
			return fail(err)
		}
		kratos, err := ory.NewKratos(cfg.Kratos.PublicURL, cfg.Kratos.AdminURL, oryOpts...)
		if err != nil {
			return fail(err)
		}

		var caOpts []ca.Option
		if cfg.Certificates.Output.Enabled {
			caOpts = append(caOpts, ca.WithSink(ca.FSSink{Dir: cfg.Certificates.Output.Path}))
			log.Warn("certificate debug output enabled", logger.String("path", cfg.Certificates.Output.Path))
		}
		authority, err := ca.Load(ca.Config{
			CertificatePath: cfg.Certificates.CA.Certificate,
			PrivateKeyPath:  cfg.Certificates.CA.PrivateKey,
			Organization:    cfg.Certificates.CSR.OrganizationName,
			Country:         cfg.Certificates.CSR.CountryName,
		}, caOpts...)
		if err != nil {
			return fail(err)
		}

		deps.Hydra, deps.Kratos = hydra, kratos
		deps.Issuer, deps.Authority = issuer, authority
		deps.Health.ActiveKID = issuer.KID()
		publicJWKS = localKeys.PublicJWKS()
	}

	if cfg.Serves(config.RoleApp) {
		client, err := rp.New(rp.Config{
			Issuer:                cfg.Hydra.PublicURL,
			ClientID:              cfg.Hydra.Client.ID,
			ClientSecret:          cfg.Hydra.Client.Secret,
			RedirectURL:           cfg.Hydra.Client.RedirectCallback,
			Scopes:                rp.DefaultScopes,
			Audience:              cfg.RequestedAudience(),
			PostLogoutRedirectURI: cfg.Hydra.Client.PostLogoutRedirectURI,
			HTTPClient:            o.httpClient,
			Timeout:               cfg.Upstream.Timeout,
		})
		if err != nil {
			return fail(err)
		}
		deps.OIDC, deps.Ledger = client, store
	}
	deps.Health.Checks = checks

	cookie := helpers.CookieConfig{
		Name:     cfg.Authorization.Cookie.Name,
		Domain:   cfg.Server.Domain,
		SameSite: cfg.Authorization.Cookie.SameSite,
		Secure:   cfg.Authorization.Cookie.Secure,
		TTL:      cfg.Authorization.Cookie.TTL,
	}
	stateCookie := cookie
	stateCookie.Name = "state"
	stateCookie.TTL = cfg.Authorization.StateTTL

	ctrls := controllers.New(controllers.Deps{
		Services:      services.New(deps),
		StateCookie:   stateCookie,
		SessionCookie: cookie,
		PublicJWKS:    publicJWKS,
		Verify:        cfg.Serves(config.RoleCatalog),
	})

	a.Handler = router.New(router.Deps{
		Controllers:   ctrls,
		Verifier:      verifier,
		SessionCookie: cookie.Name,
		Limiter:       limiter,
		Metrics:       metricsHandler,
		CORSOrigins:   cfg.Server.CORSOrigins,
	})

	log.Info("app wired",
		logger.Bool("auth", cfg.Serves(config.RoleAuth)),
		logger.Bool("app", cfg.Serves(config.RoleApp)),
		logger.Bool("catalog", cfg.Serves(config.RoleCatalog)),
		logger.String("cache", cfg.Cache.Kind),
		logger.Bool("rate_limit", limiter != nil),
	)
	return a, nil
}

// buildCache comparte un único cliente redis entre el ledger y el limiter.
// El limiter es nil si rate.enabled=false.
func buildCache(cfg *config.Config) (cache.Client, rate.Limiter, error) {
	prefix := cfg.Cache.Redis.Prefix
	switch cfg.Cache.Kind {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		store, err := cache.NewRedis(rdb, prefix)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		if !cfg.Rate.Enabled {
			return store, nil, nil
		}
		return store, rate.NewRedisLimiter(rdb, prefix+":rl", cfg.Rate.MaxRequests, cfg.RateWindow()), nil
	default:
		store := cache.NewMemory(prefix, cfg.CacheDefaultTTL())
		if !cfg.Rate.Enabled {
			return store, nil, nil
		}
		return store, rate.NewMemoryLimiter(prefix+":rl", cfg.Rate.MaxRequests, cfg.RateWindow()), nil
	}
}
