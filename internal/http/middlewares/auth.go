package middlewares

import (
	"context"
	"net/http"

	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/util"
)

// TokenVerifier es lo que necesita RequireAuth de jwt.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string, opts ...jwt.VerifyOption) (*jwt.VerifiedIdentity, error)
}

// AuthOptions configura de dónde sale el token y cómo se valida.
type AuthOptions struct {
	// Cookie de sesión a usar si no viene Authorization. Vacío = solo bearer.
	CookieName string
	// Acepta tokens del dominio secundario (sesiones VDI).
	AllowSecondary bool
	// Override del audience del dominio primario.
	Audience string
	// Si no es nil, reemplaza la respuesta por defecto ante un token ausente o inválido.
	// Los errores reintentables (JWKS caído) no pasan por acá.
	Unauthenticated func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireAuth valida el token (Authorization o cookie de sesión) y guarda la identidad en el contexto.
func RequireAuth(v TokenVerifier, o AuthOptions) Middleware {
	var vopts []jwt.VerifyOption
	if o.AllowSecondary {
		vopts = append(vopts, jwt.AllowSecondary())
	}
	if o.Audience != "" {
		vopts = append(vopts, jwt.ExpectAudience(o.Audience))
	}

	fail := func(w http.ResponseWriter, r *http.Request, err error) {
		if err != httperrors.ErrTokenMissing && !jwt.IsAuthentication(err) {
			httperrors.WriteError(w, err)
			return
		}
		if o.Unauthenticated != nil {
			o.Unauthenticated(w, r, err)
			return
		}
		desc := jwt.Class(err)
		if err == httperrors.ErrTokenMissing {
			desc = "missing bearer token"
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="`+desc+`"`)
		httperrors.WriteError(w, err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := helpers.BearerToken(r)
			if raw == "" && o.CookieName != "" {
				raw = helpers.CookieConfig{Name: o.CookieName}.Read(r)
			}
			if raw == "" {
				fail(w, r, httperrors.ErrTokenMissing)
				return
			}

			id, err := v.Verify(r.Context(), raw, vopts...)
			if err != nil {
				logger.From(r.Context()).Debug("token rejected",
					logger.ErrorClass(jwt.Class(err)),
					logger.String("token", util.MaskToken(raw)),
				)
				fail(w, r, err)
				return
			}

			ctx := WithIdentity(r.Context(), id, raw)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.Subject(id.Subject)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin exige rol admin. Debe usarse después de RequireAuth.
func RequireAdmin() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil {
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			if !id.HasRole(jwt.RoleAdmin) {
				httperrors.WriteError(w, httperrors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
