// Package health contiene el controller para health checks y el JWKS público.
package health

import (
	"net/http"

	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	svc "github.com/dropDatabas3/vdigate/internal/http/services/health"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

// HealthController maneja las rutas de health check.
type HealthController struct {
	service *svc.Service
}

func NewHealthController(s *svc.Service) *HealthController {
	return &HealthController{service: s}
}

// Healthz: el proceso está vivo.
func (c *HealthController) Healthz(w http.ResponseWriter, _ *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz maneja GET /readyz
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("HealthController.Readyz"))

	resp := c.service.Check(ctx)
	if resp.Version != "" {
		w.Header().Set("X-Service-Version", resp.Version)
	}
	if resp.ActiveKeyID != "" {
		w.Header().Set("X-JWKS-KID", resp.ActiveKeyID)
	}

	status := http.StatusOK
	if resp.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	log.Debug("health check completed", logger.String("status", resp.Status), logger.Int("components_count", len(resp.Components)))
	helpers.WriteJSON(w, status, resp)
}

// JWKSController sirve la mitad pública del key set de sesión.
type JWKSController struct {
	doc []byte
}

func NewJWKSController(publicJWKS []byte) *JWKSController {
	return &JWKSController{doc: publicJWKS}
}

// Get maneja GET /.well-known/jwks.json
func (c *JWKSController) Get(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.doc)
}
