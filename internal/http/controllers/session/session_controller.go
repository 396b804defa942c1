// Package session contiene los controllers de tokens de sesión VDI.
package session

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/session"
	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	"github.com/dropDatabas3/vdigate/internal/http/middlewares"
	svc "github.com/dropDatabas3/vdigate/internal/http/services/session"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

type SessionController struct {
	service *svc.Service
}

func NewSessionController(s *svc.Service) *SessionController {
	return &SessionController{service: s}
}

// Issue maneja POST /api/v1/token. El subject es el del bearer que llama.
func (c *SessionController) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("SessionController.Issue"))

	id := middlewares.GetIdentity(ctx)
	if id == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	var req dto.TokenRequest
	if err := helpers.ReadJSON(r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}

	tok, err := c.service.Issue(ctx, id.Subject, req)
	if err != nil {
		c.handleError(w, err, log)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.TokenResponse{JWT: tok})
}

// Verify maneja POST /api/v1/token/verify: describe el bearer ya verificado.
func (c *SessionController) Verify(w http.ResponseWriter, r *http.Request) {
	id := middlewares.GetIdentity(r.Context())
	if id == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, svc.Describe(id))
}

func (c *SessionController) handleError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, svc.ErrMissingAudience):
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail(err.Error()))
	case errors.Is(err, svc.ErrInvalidSession),
		errors.Is(err, svc.ErrInvalidIP),
		errors.Is(err, svc.ErrInvalidPort):
		httperrors.WriteError(w, httperrors.ErrInvalidFormat.WithDetail(err.Error()))
	default:
		log.Error("session token error", logger.Err(err))
		httperrors.WriteError(w, err)
	}
}
