// Package errors traduce los errores de dominio a respuestas HTTP.
// Es el único lugar donde se decide el status code.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/vdigate/internal/ca"
	"github.com/dropDatabas3/vdigate/internal/http/services/broker"
	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/oauth/ory"
	"github.com/dropDatabas3/vdigate/internal/oauth/rp"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta para cualquier error.
// Los rechazos del proveedor de identidad se devuelven con su status y cuerpo original.
func WriteError(w http.ResponseWriter, err error) {
	if pe, ok := ory.AsProviderError(err); ok {
		WriteProviderError(w, pe)
		return
	}

	appErr := Classify(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// WriteProviderError reenvía la respuesta de error del proveedor tal cual.
func WriteProviderError(w http.ResponseWriter, pe *ory.ProviderError) {
	status := pe.Status
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(pe.Payload)
}

// Classify mapea un error de dominio a su AppError.
// Lo que no se reconoce es un 500 que conserva la causa.
func Classify(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case err == nil:
		return ErrInternalServerError

	// Validación
	case stderrors.Is(err, ca.ErrInvalidSubjectAltName):
		return ErrInvalidFormat.WithDetail("machineExternalIp must be an IP address").WithCause(err)
	case stderrors.Is(err, ca.ErrInvalidMachineID):
		return ErrInvalidFormat.WithDetail("machineId must be a positive integer").WithCause(err)
	case stderrors.Is(err, broker.ErrStateMismatch):
		return ErrStateMismatch.WithCause(err)
	case stderrors.Is(err, broker.ErrMissingChallenge),
		stderrors.Is(err, broker.ErrMissingCode):
		return ErrMissingFields.WithDetail(err.Error()).WithCause(err)

	// Autenticación
	case stderrors.Is(err, jwt.ErrExpiredToken):
		return ErrTokenExpired.WithCause(err)
	case jwt.IsAuthentication(err):
		return ErrTokenInvalid.WithDetail(jwt.Class(err)).WithCause(err)
	case stderrors.Is(err, rp.ErrExchange):
		return ErrUnauthorized.WithDetail("authorization code rejected").WithCause(err)

	// Upstream
	case stderrors.Is(err, jwt.ErrIssuerUnreachable),
		stderrors.Is(err, ory.ErrUpstreamUnavailable),
		stderrors.Is(err, rp.ErrDiscovery),
		stderrors.Is(err, rp.ErrTokenEndpoint):
		return ErrServiceUnavailable.WithCause(err)

	case stderrors.Is(err, broker.ErrInvariant):
		return ErrInternalServerError.WithDetail("unexpected identity provider response").WithCause(err)

	default:
		return ErrInternalServerError.WithCause(err)
	}
}
