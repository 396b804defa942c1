// Package users contiene el controller de alta de identidades.
package users

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/users"
	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	svc "github.com/dropDatabas3/vdigate/internal/http/services/users"
	"github.com/dropDatabas3/vdigate/internal/oauth/ory"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

type UsersController struct {
	service *svc.Service
}

func NewUsersController(s *svc.Service) *UsersController {
	return &UsersController{service: s}
}

// Create maneja POST /api/v1/admin/users.
func (c *UsersController) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("UsersController.Create"))

	var req dto.CreateRequest
	if err := helpers.ReadJSON(r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}

	out, err := c.service.Create(ctx, req)
	if err != nil {
		c.handleError(w, err, log)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, out)
}

func (c *UsersController) handleError(w http.ResponseWriter, err error, log *zap.Logger) {
	if _, ok := ory.AsProviderError(err); ok {
		httperrors.WriteError(w, err)
		return
	}
	switch {
	case errors.Is(err, svc.ErrMissingFields):
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail(err.Error()))
	case errors.Is(err, svc.ErrInvalidEmail), errors.Is(err, svc.ErrInvalidRole):
		httperrors.WriteError(w, httperrors.ErrInvalidFormat.WithDetail(err.Error()))
	default:
		log.Error("identity not created", logger.Err(err))
		httperrors.WriteError(w, err)
	}
}
