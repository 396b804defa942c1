// Package broker contiene los controllers del flujo OAuth2: el lado proveedor
// (challenges de Hydra) y el lado webapp (relying party).
package broker

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/broker"
	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	svc "github.com/dropDatabas3/vdigate/internal/http/services/broker"
	"github.com/dropDatabas3/vdigate/internal/oauth/ory"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

// ProviderController atiende /api/v1/auth/{login,consent,logout}.
type ProviderController struct {
	service *svc.Provider
}

func NewProviderController(s *svc.Provider) *ProviderController {
	return &ProviderController{service: s}
}

// Login maneja GET /api/v1/auth/login?login_challenge=...
func (c *ProviderController) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	challenge := r.URL.Query().Get("login_challenge")
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProviderController.Login"), logger.Challenge(challenge))

	out, err := c.service.Login(ctx, challenge)
	if err != nil {
		handleError(w, err, log)
		return
	}
	if out.Flow == nil {
		helpers.WriteJSON(w, http.StatusOK, dto.RedirectResponse{RedirectTo: out.RedirectTo})
		return
	}

	helpers.ForwardSetCookies(w, out.Flow.SetCookies)
	helpers.WriteJSON(w, http.StatusOK, dto.LoginFlowResponse{ID: out.Flow.ID, CSRFToken: out.Flow.CSRFToken})
	log.Debug("login flow created", logger.String("flow_id", out.Flow.ID))
}

// SubmitLogin maneja POST /api/v1/auth/login/{flowId}[?login_challenge=...]
func (c *ProviderController) SubmitLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProviderController.SubmitLogin"))

	var req dto.SubmitLoginRequest
	if err := helpers.ReadJSON(r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.CSRFToken == "" || req.Email == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("csrfToken, email and password are required"))
		return
	}

	out, err := c.service.SubmitLogin(ctx, svc.SubmitLogin{
		FlowID:         chi.URLParam(r, "flowId"),
		Cookie:         r.Header.Get("Cookie"),
		CSRFToken:      req.CSRFToken,
		Email:          req.Email,
		Password:       req.Password,
		LoginChallenge: r.URL.Query().Get("login_challenge"),
	})
	if err != nil {
		handleError(w, err, log)
		return
	}

	helpers.ForwardSetCookies(w, out.SetCookies)
	if out.RedirectTo != "" {
		helpers.WriteJSON(w, http.StatusOK, dto.RedirectResponse{RedirectTo: out.RedirectTo})
		return
	}
	helpers.WriteRawJSON(w, http.StatusOK, out.Payload)
}

// Consent maneja GET /api/v1/auth/consent?consent_challenge=...
func (c *ProviderController) Consent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	challenge := r.URL.Query().Get("consent_challenge")
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProviderController.Consent"), logger.Challenge(challenge))

	redirectTo, err := c.service.Consent(ctx, challenge)
	if err != nil {
		handleError(w, err, log)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RedirectResponse{RedirectTo: redirectTo})
}

// Logout maneja GET /api/v1/auth/logout?logout_challenge=... y redirige a donde diga Hydra.
func (c *ProviderController) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	challenge := r.URL.Query().Get("logout_challenge")
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProviderController.Logout"), logger.Challenge(challenge))

	redirectTo, err := c.service.Logout(ctx, challenge)
	if err != nil {
		handleError(w, err, log)
		return
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// handleError loguea lo que termina en 5xx y delega el mapeo en httperrors.
func handleError(w http.ResponseWriter, err error, log *zap.Logger) {
	appErr := httperrors.Classify(err)
	if _, ok := ory.AsProviderError(err); !ok && appErr.HTTPStatus >= http.StatusInternalServerError {
		log.Error("request failed", logger.Err(err))
	}
	httperrors.WriteError(w, err)
}
