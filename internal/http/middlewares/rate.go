package middlewares

import (
	"net/http"
	"strconv"

	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	"github.com/dropDatabas3/vdigate/internal/metrics"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/rate"
)

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// IPPathKey: una ventana por IP de cliente y ruta.
func IPPathKey(r *http.Request) string {
	return helpers.ClientIP(r) + "|" + r.URL.Path
}

// WithRateLimit aplica el limiter. Si el backend falla, deja pasar y loguea.
func WithRateLimit(l rate.Limiter, key RateKeyFunc) Middleware {
	if key == nil {
		key = IPPathKey
	}
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), key(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				secs := int(res.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				metrics.RateLimitRejectsTotal.WithLabelValues(routeLabel(r)).Inc()
				httperrors.WriteError(w, httperrors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
