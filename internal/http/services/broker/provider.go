package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/oauth/ory"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/util"
	"github.com/dropDatabas3/vdigate/internal/validation"
)

// HydraAdmin es la parte de la API admin de Hydra que usa el broker.
type HydraAdmin interface {
	GetLoginRequest(ctx context.Context, challenge string) (*ory.LoginRequest, error)
	AcceptLoginRequest(ctx context.Context, challenge string, body ory.AcceptLogin) (*ory.Redirect, error)
	GetConsentRequest(ctx context.Context, challenge string) (*ory.ConsentRequest, error)
	AcceptConsentRequest(ctx context.Context, challenge string, body ory.AcceptConsent) (*ory.Redirect, error)
	AcceptLogoutRequest(ctx context.Context, challenge string) (*ory.Redirect, error)
}

// Identities es la parte de Kratos que usa el broker.
type Identities interface {
	CreateBrowserLoginFlow(ctx context.Context, loginChallenge, returnTo string) (*ory.LoginFlow, error)
	UpdateLoginFlow(ctx context.Context, flowID, cookie string, body ory.UpdateLogin) (*ory.LoginResult, error)
	GetIdentity(ctx context.Context, id string) (*ory.Identity, error)
}

// LoginOutcome: o Hydra ya conoce al usuario (RedirectTo) o hay que mostrar un flow.
type LoginOutcome struct {
	RedirectTo string
	Flow       *ory.LoginFlow
}

type SubmitLogin struct {
	FlowID    string
	Cookie    string
	CSRFToken string
	Email     string
	Password  string
	// Opcional: si viene, se acepta el login en Hydra directamente.
	LoginChallenge string
}

type SubmitOutcome struct {
	RedirectTo string
	SetCookies []string
	// Respuesta de Kratos cuando no hay challenge que aceptar.
	Payload json.RawMessage
}

// Provider atiende los challenges de Hydra (rol auth).
type Provider struct {
	hydra  HydraAdmin
	kratos Identities
}

func NewProvider(hydra HydraAdmin, kratos Identities) *Provider {
	return &Provider{hydra: hydra, kratos: kratos}
}

// Login resuelve un login_challenge.
func (p *Provider) Login(ctx context.Context, challenge string) (*LoginOutcome, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Provider.Login"))
	if strings.TrimSpace(challenge) == "" {
		return nil, fmt.Errorf("%w: login_challenge", ErrMissingChallenge)
	}

	lr, err := p.hydra.GetLoginRequest(ctx, challenge)
	if err != nil {
		return nil, p.providerFailure(log, err)
	}

	if lr.Skip {
		if lr.Subject == "" {
			return nil, fmt.Errorf("%w: skipped login without subject", ErrInvariant)
		}
		red, err := p.hydra.AcceptLoginRequest(ctx, challenge, ory.AcceptLogin{Subject: lr.Subject})
		if err != nil {
			return nil, p.providerFailure(log, err)
		}
		log.Debug("login skipped", logger.Subject(lr.Subject))
		return &LoginOutcome{RedirectTo: red.RedirectTo}, nil
	}

	flow, err := p.kratos.CreateBrowserLoginFlow(ctx, challenge, lr.RequestURL)
	if err != nil {
		if errors.Is(err, ory.ErrCSRFNodeMissing) {
			return nil, fmt.Errorf("%w: %v", ErrInvariant, err)
		}
		return nil, p.providerFailure(log, err)
	}
	return &LoginOutcome{Flow: flow}, nil
}

// SubmitLogin envía las credenciales al flow de Kratos.
// Un 422 de Kratos se devuelve tal cual; si trae ui.messages se responde 400 con esos mensajes.
func (p *Provider) SubmitLogin(ctx context.Context, in SubmitLogin) (*SubmitOutcome, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Provider.SubmitLogin"))
	if strings.TrimSpace(in.FlowID) == "" {
		return nil, fmt.Errorf("%w: flow id", ErrMissingChallenge)
	}

	res, err := p.kratos.UpdateLoginFlow(ctx, in.FlowID, in.Cookie, ory.UpdateLogin{
		CSRFToken:  in.CSRFToken,
		Identifier: in.Email,
		Password:   in.Password,
	})
	if err != nil {
		if pe, ok := ory.AsProviderError(err); ok && pe.Status != http.StatusUnprocessableEntity {
			if msgs, ok := pe.UIMessages(); ok {
				log.Info("login rejected", logger.Email(util.MaskEmail(in.Email)))
				return nil, &ory.ProviderError{
					Provider: pe.Provider,
					Op:       pe.Op,
					Status:   http.StatusBadRequest,
					Reason:   pe.Reason,
					Message:  pe.Message,
					Payload:  msgs,
				}
			}
		}
		return nil, p.providerFailure(log, err)
	}

	out := &SubmitOutcome{SetCookies: res.SetCookies, Payload: res.Payload}
	if in.LoginChallenge == "" {
		return out, nil
	}
	if res.IdentityID == "" {
		return nil, fmt.Errorf("%w: login flow completed without identity", ErrInvariant)
	}
	red, err := p.hydra.AcceptLoginRequest(ctx, in.LoginChallenge, ory.AcceptLogin{Subject: res.IdentityID})
	if err != nil {
		return nil, p.providerFailure(log, err)
	}
	out.RedirectTo = red.RedirectTo
	out.Payload = nil
	return out, nil
}

// Consent concede los scopes pedidos más el rol del usuario como scope extra.
func (p *Provider) Consent(ctx context.Context, challenge string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Provider.Consent"))
	if strings.TrimSpace(challenge) == "" {
		return "", fmt.Errorf("%w: consent_challenge", ErrMissingChallenge)
	}

	cr, err := p.hydra.GetConsentRequest(ctx, challenge)
	if err != nil {
		return "", p.providerFailure(log, err)
	}
	if cr.Subject == "" {
		return "", fmt.Errorf("%w: consent request without subject", ErrInvariant)
	}

	ident, err := p.kratos.GetIdentity(ctx, cr.Subject)
	if err != nil {
		if errors.Is(err, ory.ErrInvalidIdentityID) {
			return "", fmt.Errorf("%w: %v", ErrInvariant, err)
		}
		return "", p.providerFailure(log, err)
	}

	role := grantedRole(ident.Role)
	if role != ident.Role && ident.Role != "" {
		log.Warn("identity role rejected, using default", logger.Subject(cr.Subject), logger.String("role", ident.Role))
	}

	grant := slices.Clone(cr.RequestedScope)
	if !slices.Contains(grant, role) {
		grant = append(grant, role)
	}
	body := ory.AcceptConsent{
		GrantScope:               grant,
		GrantAccessTokenAudience: cr.RequestedAccessTokenAudience,
	}
	if slices.Contains(cr.RequestedScope, "openid") && slices.Contains(cr.RequestedScope, "email") {
		body.Session = &ory.ConsentSession{IDToken: map[string]any{"email": ident.Email}}
	}

	red, err := p.hydra.AcceptConsentRequest(ctx, challenge, body)
	if err != nil {
		return "", p.providerFailure(log, err)
	}
	log.Info("consent accepted", logger.Subject(cr.Subject), logger.String("role", role))
	return red.RedirectTo, nil
}

// Logout acepta el logout_challenge y devuelve a dónde redirigir.
func (p *Provider) Logout(ctx context.Context, challenge string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Provider.Logout"))
	if strings.TrimSpace(challenge) == "" {
		return "", fmt.Errorf("%w: logout_challenge", ErrMissingChallenge)
	}
	red, err := p.hydra.AcceptLogoutRequest(ctx, challenge)
	if err != nil {
		return "", p.providerFailure(log, err)
	}
	return red.RedirectTo, nil
}

// grantedRole: metadata_public.role si es un nombre de scope válido, si no "user".
func grantedRole(raw string) string {
	if raw == "" || !validation.ValidScopeName(raw) {
		return string(jwt.RoleUser)
	}
	return raw
}

// providerFailure loguea el rechazo del proveedor (sin reintentar) y devuelve el error intacto.
func (p *Provider) providerFailure(log *zap.Logger, err error) error {
	if pe, ok := ory.AsProviderError(err); ok {
		log.Warn("provider rejected request",
			logger.Component(pe.Provider),
			logger.String("provider_op", pe.Op),
			logger.Int("status", pe.Status),
			logger.String("reason", pe.Reason),
			logger.String("message", pe.Message),
		)
		return err
	}
	log.Warn("provider call failed", logger.Err(err))
	return err
}
