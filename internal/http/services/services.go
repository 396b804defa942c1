// Package services es el composition root de los services HTTP.
//
// Cada rol del binario arma solo los services que sirve: los de los roles
// que no corren quedan en nil y el router no monta sus rutas.
package services

import (
	"time"

	"github.com/dropDatabas3/vdigate/internal/http/services/broker"
	"github.com/dropDatabas3/vdigate/internal/http/services/certificates"
	"github.com/dropDatabas3/vdigate/internal/http/services/health"
	"github.com/dropDatabas3/vdigate/internal/http/services/session"
	"github.com/dropDatabas3/vdigate/internal/http/services/users"
)

// Kratos cubre lo que piden el broker y el alta de usuarios.
type Kratos interface {
	broker.Identities
	users.IdentityAdmin
}

// Deps son las dependencias ya construidas. Una dependencia nil apaga su service.
type Deps struct {
	Hydra     broker.HydraAdmin
	Kratos    Kratos
	OIDC      broker.OIDCClient
	Ledger    broker.StateLedger
	StateTTL  time.Duration
	Issuer    session.Issuer
	Authority certificates.Authority
	Health    health.Deps
}

// Services agrupa los services por dominio.
type Services struct {
	Provider     *broker.Provider
	RelyingParty *broker.RelyingParty
	Session      *session.Service
	Certificates *certificates.Service
	Users        *users.Service
	Health       *health.Service
}

func New(d Deps) Services {
	s := Services{Health: health.NewService(d.Health)}
	if d.Hydra != nil && d.Kratos != nil {
		s.Provider = broker.NewProvider(d.Hydra, d.Kratos)
		s.Users = users.NewService(d.Kratos)
	}
	if d.OIDC != nil && d.Ledger != nil {
		s.RelyingParty = broker.NewRelyingParty(d.OIDC, d.Ledger, d.StateTTL)
	}
	if d.Issuer != nil {
		s.Session = session.NewService(d.Issuer)
	}
	if d.Authority != nil {
		s.Certificates = certificates.NewService(d.Authority)
	}
	return s
}
