package broker

import (
	"net/http"

	"go.uber.org/zap"

	dto "github.com/dropDatabas3/vdigate/internal/http/dto/broker"
	httperrors "github.com/dropDatabas3/vdigate/internal/http/errors"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	"github.com/dropDatabas3/vdigate/internal/http/middlewares"
	svc "github.com/dropDatabas3/vdigate/internal/http/services/broker"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
	"github.com/dropDatabas3/vdigate/internal/util"
)

// WebappController atiende /app/v1/auth/* (rol app).
type WebappController struct {
	service *svc.RelyingParty
	state   helpers.CookieConfig
	session helpers.CookieConfig
	// a dónde vuelve el navegador tras establecer la sesión
	home string
}

func NewWebappController(s *svc.RelyingParty, state, session helpers.CookieConfig) *WebappController {
	return &WebappController{service: s, state: state, session: session, home: "/"}
}

// Login maneja GET /app/v1/auth/login.
func (c *WebappController) Login(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op("WebappController.Login"))

	redirectTo, ok := c.beginLogin(w, r, log)
	if !ok {
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RedirectResponse{RedirectTo: redirectTo})
}

// Token maneja GET /app/v1/auth/token?code=&scope=&state= (callback de Hydra).
// La cookie de state se borra siempre, salga bien o mal.
func (c *WebappController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("WebappController.Token"))

	cookieState := c.state.Read(r)
	http.SetCookie(w, c.state.Deletion())

	q := r.URL.Query()
	tokens, err := c.service.CompleteLogin(ctx, cookieState, q.Get("state"), q.Get("code"))
	if err != nil {
		handleError(w, err, log)
		return
	}

	http.SetCookie(w, c.session.Build(tokens.AccessToken))
	log.Info("webapp session established")
	http.Redirect(w, r, c.home, http.StatusFound)
}

// Logout maneja GET /app/v1/auth/logout: devuelve el end_session_endpoint.
func (c *WebappController) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("WebappController.Logout"))

	redirectTo, err := c.service.LogoutURL(ctx)
	if err != nil {
		handleError(w, err, log)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RedirectResponse{RedirectTo: redirectTo})
}

// LogoutCallback maneja GET /app/v1/auth/logout/callback: borra la sesión y vuelve a empezar el login.
func (c *WebappController) LogoutCallback(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op("WebappController.LogoutCallback"))

	http.SetCookie(w, c.session.Deletion())
	redirectTo, ok := c.beginLogin(w, r, log)
	if !ok {
		return
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// UserInfo maneja GET /app/v1/auth/user/info. Requiere la sesión verificada por RequireAuth.
func (c *WebappController) UserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("WebappController.UserInfo"))

	id := middlewares.GetIdentity(ctx)
	if id == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}
	info, err := c.service.UserInfo(ctx, middlewares.GetRawToken(ctx))
	if err != nil {
		handleError(w, err, log)
		return
	}
	log.Debug("user info", logger.Email(util.MaskEmail(info.Email)))
	helpers.WriteJSON(w, http.StatusOK, dto.UserInfoResponse{
		ID:    id.Subject,
		Email: info.Email,
		Role:  id.Role.String(),
	})
}

// SessionRejected responde a una cookie de sesión ausente o inválida con
// 400 {redirect_to} y un state nuevo, para que el frontend reinicie el login.
func (c *WebappController) SessionRejected(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op("WebappController.SessionRejected"))
	log.Debug("session cookie rejected", logger.Err(err))

	redirectTo, ok := c.beginLogin(w, r, log)
	if !ok {
		return
	}
	helpers.WriteJSON(w, http.StatusBadRequest, dto.RedirectResponse{RedirectTo: redirectTo})
}

// beginLogin genera un state, lo deja en la cookie y devuelve la URL de autorización.
// Si falla ya escribió la respuesta de error.
func (c *WebappController) beginLogin(w http.ResponseWriter, r *http.Request, log *zap.Logger) (string, bool) {
	state, redirectTo, err := c.service.BeginLogin(r.Context())
	if err != nil {
		handleError(w, err, log)
		return "", false
	}
	http.SetCookie(w, c.state.Build(state))
	return redirectTo, true
}
