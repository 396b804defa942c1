// Package users administra identidades de Kratos (alta de usuarios por un admin).
package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/users"
	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/oauth/ory"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/util"
	"github.com/dropDatabas3/vdigate/internal/validation"
)

var (
	ErrMissingFields = errors.New("email and password are required")
	ErrInvalidEmail  = errors.New("invalid email")
	ErrInvalidRole   = errors.New("role must be a valid scope name")
)

// IdentityAdmin es la parte de la API admin de Kratos que usa el service.
type IdentityAdmin interface {
	CreateIdentity(ctx context.Context, in ory.CreateIdentity) (*ory.Identity, error)
}

type Service struct {
	kratos IdentityAdmin
}

func NewService(k IdentityAdmin) *Service {
	return &Service{kratos: k}
}

// Create da de alta una identidad con schema "default" y el rol en metadata_public.
// Los rechazos de Kratos (email duplicado, password débil) vuelven como *ory.ProviderError.
func (s *Service) Create(ctx context.Context, in dto.CreateRequest) (*dto.CreateResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Users.Create"))

	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = jwt.RoleUser.String()
	}
	if !validation.ValidScopeName(role) {
		return nil, ErrInvalidRole
	}

	ident, err := s.kratos.CreateIdentity(ctx, ory.CreateIdentity{Email: email, Password: in.Password, Role: role})
	if err != nil {
		log.Warn("identity not created", logger.Email(util.MaskEmail(email)), logger.Err(err))
		return nil, err
	}
	log.Info("identity created", logger.Email(util.MaskEmail(email)), logger.String("role", role))
	return &dto.CreateResponse{ID: ident.ID, Email: ident.Email, Role: ident.Role}, nil
}
