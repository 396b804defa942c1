// Package controllers agrupa los controllers HTTP por dominio.
package controllers

import (
	"github.com/dropDatabas3/vdigate/internal/http/controllers/broker"
	"github.com/dropDatabas3/vdigate/internal/http/controllers/certificates"
	"github.com/dropDatabas3/vdigate/internal/http/controllers/health"
	"github.com/dropDatabas3/vdigate/internal/http/controllers/session"
	"github.com/dropDatabas3/vdigate/internal/http/controllers/users"
	"github.com/dropDatabas3/vdigate/internal/http/helpers"
	"github.com/dropDatabas3/vdigate/internal/http/services"
)

type Deps struct {
	Services      services.Services
	StateCookie   helpers.CookieConfig
	SessionCookie helpers.CookieConfig
	// JWKS público del key set de sesión (rol auth). nil = no se publica.
	PublicJWKS []byte
	// Verify habilita POST /api/v1/token/verify (rol catalog).
	Verify bool
}

// Controllers: un campo nil significa que el rol que lo sirve no corre.
type Controllers struct {
	Provider     *broker.ProviderController
	Webapp       *broker.WebappController
	Session      *session.SessionController
	Verify       *session.SessionController
	Certificates *certificates.CertificatesController
	Users        *users.UsersController
	Health       *health.HealthController
	JWKS         *health.JWKSController
}

func New(d Deps) *Controllers {
	s := d.Services
	c := &Controllers{Health: health.NewHealthController(s.Health)}
	if s.Provider != nil {
		c.Provider = broker.NewProviderController(s.Provider)
	}
	if s.RelyingParty != nil {
		c.Webapp = broker.NewWebappController(s.RelyingParty, d.StateCookie, d.SessionCookie)
	}
	if s.Session != nil {
		c.Session = session.NewSessionController(s.Session)
	}
	if d.Verify {
		c.Verify = session.NewSessionController(s.Session)
	}
	if s.Certificates != nil {
		c.Certificates = certificates.NewCertificatesController(s.Certificates)
	}
	if s.Users != nil {
		c.Users = users.NewUsersController(s.Users)
	}
	if len(d.PublicJWKS) > 0 {
		c.JWKS = health.NewJWKSController(d.PublicJWKS)
	}
	return c
}
