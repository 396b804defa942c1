package jwt

import (
	"context"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/vdigate/internal/metrics"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

// DefaultSessionTTL es la vida de un token de sesión VDI (un día).
const DefaultSessionTTL = 24 * time.Hour

// Claims reservados que los claims custom no pueden pisar.
var reservedClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {},
}

// Issuer firma tokens de sesión con la única clave local configurada.
// Todos los campos son deterministas salvo la firma y los timestamps.
type Issuer struct {
	Iss string        // "iss": endpoint canónico de este servicio
	TTL time.Duration // TTL por defecto

	key *SigningKey
	now func() time.Time
}

// NewIssuer falla con ErrSigningKeyUnavailable si el key set no trae la privada del kid.
func NewIssuer(iss string, keys *LocalKeySet, ttl time.Duration) (*Issuer, error) {
	if keys == nil {
		return nil, ErrSigningKeyUnavailable
	}
	sk, err := keys.Signer()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Issuer{Iss: iss, TTL: ttl, key: sk, now: time.Now}, nil
}

// KID devuelve el kid con el que firma.
func (i *Issuer) KID() string {
	if i == nil || i.key == nil {
		return ""
	}
	return i.key.KID
}

// Issue firma un token con iss/sub/aud/iat/exp más claims custom.
// ttl <= 0 usa el TTL del issuer.
func (i *Issuer) Issue(ctx context.Context, subject, audience string, claims map[string]any, ttl time.Duration) (string, error) {
	if i == nil || i.key == nil || i.key.Private == nil {
		metrics.TokensIssuedTotal.WithLabelValues("error").Inc()
		return "", ErrSigningKeyUnavailable
	}
	if ttl <= 0 {
		ttl = i.TTL
	}
	now := i.now().UTC()

	mc := jwtv5.MapClaims{}
	for k, v := range claims {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		mc[k] = v
	}
	mc["iss"] = i.Iss
	mc["sub"] = subject
	mc["aud"] = audience
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(ttl).Unix()

	method := jwtv5.GetSigningMethod(i.key.Algorithm)
	if method == nil {
		metrics.TokensIssuedTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: unsupported alg %s", ErrSigningKeyUnavailable, i.key.Algorithm)
	}
	tk := jwtv5.NewWithClaims(method, mc)
	tk.Header["kid"] = i.key.KID
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(i.key.Private)
	if err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrSigningKeyUnavailable, err)
	}

	metrics.TokensIssuedTotal.WithLabelValues("ok").Inc()
	logger.From(ctx).Debug("token issued",
		logger.Component("jwt.issuer"),
		logger.Kid(i.key.KID),
		logger.Subject(subject),
		logger.String("aud", audience),
	)
	return signed, nil
}

// SessionClaims son los campos propios de un token de sesión VDI.
type SessionClaims struct {
	SessionID           int64  `json:"sessionId"`
	MachineExternalIP   string `json:"machineExternalIp"`
	MachineExternalPort int    `json:"machineExternalPort"`
}

// IssueSession emite el token que el agente de la máquina valida: aud = id de máquina.
func (i *Issuer) IssueSession(ctx context.Context, subject, machineID string, s SessionClaims) (string, error) {
	return i.Issue(ctx, subject, machineID, map[string]any{
		"sessionId":           s.SessionID,
		"machineExternalIp":   s.MachineExternalIP,
		"machineExternalPort": s.MachineExternalPort,
	}, 0)
}
