// Package session emite y describe tokens de sesión VDI.
package session

import (
	"context"
	"errors"
	"strings"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/session"
	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/validation"
)

var (
	ErrMissingAudience = errors.New("audience is required")
	ErrInvalidSession  = errors.New("payload.sessionId must be positive")
	ErrInvalidIP       = errors.New("payload.machineExternalIp must be an IP address")
	ErrInvalidPort     = errors.New("payload.machineExternalPort must be in 1..65535")
)

// Issuer es la parte de jwt.Issuer que emite tokens de sesión.
type Issuer interface {
	IssueSession(ctx context.Context, subject, machineID string, s jwt.SessionClaims) (string, error)
}

type Service struct {
	issuer Issuer
}

func NewService(issuer Issuer) *Service {
	return &Service{issuer: issuer}
}

// Issue firma un token de sesión para subject (el usuario autenticado).
func (s *Service) Issue(ctx context.Context, subject string, in dto.TokenRequest) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Session.Issue"))

	aud := strings.TrimSpace(in.Audience)
	switch {
	case aud == "":
		return "", ErrMissingAudience
	case in.Payload.SessionID <= 0:
		return "", ErrInvalidSession
	case !validation.ValidIP(in.Payload.MachineExternalIP):
		return "", ErrInvalidIP
	case !validation.ValidPort(in.Payload.MachineExternalPort):
		return "", ErrInvalidPort
	}

	tok, err := s.issuer.IssueSession(ctx, subject, aud, jwt.SessionClaims{
		SessionID:           in.Payload.SessionID,
		MachineExternalIP:   in.Payload.MachineExternalIP,
		MachineExternalPort: in.Payload.MachineExternalPort,
	})
	if err != nil {
		log.Error("session token not issued", logger.Err(err))
		return "", err
	}
	log.Info("session token issued", logger.String("aud", aud), logger.Int("session_id", int(in.Payload.SessionID)))
	return tok, nil
}

// Describe arma la respuesta de verificación a partir de la identidad ya verificada.
func Describe(id *jwt.VerifiedIdentity) dto.VerifyResponse {
	out := dto.VerifyResponse{
		Subject:   id.Subject,
		Role:      id.Role.String(),
		Domain:    id.Domain,
		Scopes:    id.Scopes,
		ExpiresAt: id.ExpiresAt.Unix(),
	}
	if v, ok := number(id.Claims["sessionId"]); ok {
		sid := int64(v)
		out.SessionID = &sid
	}
	if v, ok := id.Claims["machineExternalIp"].(string); ok {
		out.MachineExternalIP = v
	}
	if v, ok := number(id.Claims["machineExternalPort"]); ok {
		out.MachineExternalPort = int(v)
	}
	return out
}

// number: los claims numéricos llegan como float64 desde el parser JSON.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
