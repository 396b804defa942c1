// Package certificates contiene el controller de emisión de certificados de máquina.
package certificates

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/certificates"
	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	svc "github.com/dropDatabas3/vdigate/internal/http/services/certificates"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

type CertificatesController struct {
	service *svc.Service
}

func NewCertificatesController(s *svc.Service) *CertificatesController {
	return &CertificatesController{service: s}
}

// Issue maneja POST /api/v1/certificates (solo admin).
func (c *CertificatesController) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("CertificatesController.Issue"))

	var req dto.IssueRequest
	if err := helpers.ReadJSON(r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}

	out, err := c.service.Issue(ctx, req)
	if err != nil {
		c.handleError(w, err, log)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

func (c *CertificatesController) handleError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, svc.ErrInvalidMachineID), errors.Is(err, svc.ErrInvalidIP):
		httperrors.WriteError(w, httperrors.ErrInvalidFormat.WithDetail(err.Error()))
	default:
		log.Error("certificate not issued", logger.Err(err))
		httperrors.WriteError(w, err)
	}
}
