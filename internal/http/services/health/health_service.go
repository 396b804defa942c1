// Package health contiene el service para health checks.
package health

import (
	"context"
	"fmt"
	"time"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/health"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

// Check es un chequeo de un componente. Critical=true lo vuelve bloqueante para ready.
type Check struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

type Deps struct {
	Role      string
	Version   string
	ActiveKID string
	Checks    []Check
	// Timeout por chequeo. 0 = 2s.
	Timeout time.Duration
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	if deps.Timeout <= 0 {
		deps.Timeout = 2 * time.Second
	}
	return &Service{deps: deps}
}

func (s *Service) Check(ctx context.Context) dto.HealthResponse {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("health"), logger.Op("Check"))

	resp := dto.HealthResponse{
		Role:        s.deps.Role,
		Version:     s.deps.Version,
		ActiveKeyID: s.deps.ActiveKID,
		Components:  make(map[string]dto.HealthStatus, len(s.deps.Checks)),
		Timestamp:   time.Now().UTC(),
	}

	hasErrors, hasCritical := false, false
	for _, c := range s.deps.Checks {
		cctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
		err := c.Run(cctx)
		cancel()
		if err != nil {
			resp.Components[c.Name] = dto.HealthStatus{Status: "error", Message: fmt.Sprintf("unavailable: %v", err)}
			hasErrors = true
			if c.Critical {
				hasCritical = true
			}
			log.Warn("health check failed", logger.String("component", c.Name), logger.Err(err))
			continue
		}
		resp.Components[c.Name] = dto.HealthStatus{Status: "ok"}
	}

	switch {
	case hasCritical:
		resp.Status = "unavailable"
	case hasErrors:
		resp.Status = "degraded"
	default:
		resp.Status = "ready"
	}
	return resp
}
