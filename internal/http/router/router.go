// Package router arma el árbol de rutas chi según los controllers disponibles.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/vdigate/internal/http/controllers"
	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	mw "github.com/dropDatabas3/vdigate/internal/http/middlewares"
	"github.com/dropDatabas3/vdigate/internal/rate"
)

type Deps struct {
	Controllers *controllers.Controllers

	// Verifier valida bearers y la cookie de sesión de la webapp.
	Verifier mw.TokenVerifier
	// Nombre de la cookie de sesión de la webapp.
	SessionCookie string
	// Opcional: rate limit por IP y ruta en los endpoints del flujo.
	Limiter rate.Limiter
	// Opcional: handler de /metrics.
	Metrics http.Handler
	// Orígenes CORS de los frontends.
	CORSOrigins []string
}

// New devuelve el handler raíz. Las rutas de cada rol se montan solo si su controller existe.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithCORS(d.CORSOrigins),
		mw.WithLogging(),
		mw.WithMetrics(),
		mw.WithSecurityHeaders(),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	c := d.Controllers
	r.Get("/healthz", c.Health.Healthz)
	r.Get("/readyz", c.Health.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if c.JWKS != nil {
		r.Method(http.MethodGet, "/.well-known/jwks.json",
			mw.ChainFunc(c.JWKS.Get, mw.WithCacheControl("public, max-age=300")))
	}

	bearer := mw.RequireAuth(d.Verifier, mw.AuthOptions{})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(mw.WithNoStore())

		if c.Provider != nil {
			api.Group(func(g chi.Router) {
				g.Use(mw.WithRateLimit(d.Limiter, nil))
				g.Get("/auth/login", c.Provider.Login)
				g.Post("/auth/login/{flowId}", c.Provider.SubmitLogin)
				g.Get("/auth/consent", c.Provider.Consent)
				g.Get("/auth/logout", c.Provider.Logout)
			})
		}
		if c.Session != nil {
			api.With(bearer).Post("/token", c.Session.Issue)
		}
		if c.Certificates != nil {
			api.With(bearer, mw.RequireAdmin()).Post("/certificates", c.Certificates.Issue)
		}
		if c.Users != nil {
			api.With(bearer, mw.RequireAdmin()).Post("/admin/users", c.Users.Create)
		}
		if c.Verify != nil {
			api.With(mw.RequireAuth(d.Verifier, mw.AuthOptions{AllowSecondary: true})).
				Post("/token/verify", c.Verify.Verify)
		}
	})

	if c.Webapp != nil {
		r.Route("/app/v1/auth", func(app chi.Router) {
			app.Use(mw.WithNoStore(), mw.WithRateLimit(d.Limiter, nil))
			app.Get("/login", c.Webapp.Login)
			app.Get("/token", c.Webapp.Token)
			app.Get("/logout", c.Webapp.Logout)
			app.Get("/logout/callback", c.Webapp.LogoutCallback)
			app.With(mw.RequireAuth(d.Verifier, mw.AuthOptions{
				CookieName:      d.SessionCookie,
				Unauthenticated: c.Webapp.SessionRejected,
			})).Get("/user/info", c.Webapp.UserInfo)
		})
	}

	return r
}
