package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/vdigate/internal/metrics"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

// defaultLeeway solo tolera desfasaje de reloj en nbf/iat; exp se compara sin margen.
const defaultLeeway = 30 * time.Second

var validMethods = []string{"RS256", "RS384", "RS512", "PS256", "ES256"}

// Domain es un dominio de confianza: de dónde salen las claves y qué iss/aud se exigen.
// Audience vacío desactiva el chequeo de aud.
type Domain struct {
	Name     string
	Keys     KeySource
	Issuer   string
	Audience string
}

// VerifiedIdentity es el resultado de una verificación exitosa. Vive lo que dura el request.
type VerifiedIdentity struct {
	Subject   string
	Role      Role
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Domain    string
	Claims    map[string]any
}

// HasRole indica si la identidad tiene el rol dado.
func (v *VerifiedIdentity) HasRole(r Role) bool {
	return v != nil && v.Role == r
}

// Verifier valida tokens contra un dominio primario y, opcionalmente, uno secundario
// (tokens de sesión VDI emitidos por el servicio par). Los dominios no comparten claves:
// el secundario solo se consulta si el caller lo habilita y si su propio KeySource
// conoce el kid.
type Verifier struct {
	primary   Domain
	secondary *Domain
	leeway    time.Duration
	now       func() time.Time
}

// VerifierOption configura un Verifier.
type VerifierOption func(*Verifier)

// WithSecondary agrega el dominio secundario.
func WithSecondary(d Domain) VerifierOption {
	return func(v *Verifier) { v.secondary = &d }
}

// WithLeeway fija la tolerancia de reloj para nbf/iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier crea un verifier. El dominio primario necesita KeySource e Issuer.
func NewVerifier(primary Domain, opts ...VerifierOption) (*Verifier, error) {
	if primary.Keys == nil || primary.Issuer == "" {
		return nil, fmt.Errorf("%w: primary trust domain needs keys and issuer", ErrConfigurationFatal)
	}
	v := &Verifier{
		primary: primary,
		leeway:  defaultLeeway,
		now:     time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	if v.secondary != nil && (v.secondary.Keys == nil || v.secondary.Issuer == "") {
		return nil, fmt.Errorf("%w: secondary trust domain needs keys and issuer", ErrConfigurationFatal)
	}
	return v, nil
}

type verifyOpts struct {
	allowSecondary bool
	audience       *string
}

// VerifyOption ajusta una verificación puntual.
type VerifyOption func(*verifyOpts)

// AllowSecondary habilita el dominio secundario para esta verificación.
func AllowSecondary() VerifyOption {
	return func(o *verifyOpts) { o.allowSecondary = true }
}

// ExpectAudience pisa el aud del dominio (vacío desactiva el chequeo).
func ExpectAudience(aud string) VerifyOption {
	return func(o *verifyOpts) { o.audience = &aud }
}

// Verify valida el token y devuelve la identidad. No loguea el token; solo la clase del error.
func (v *Verifier) Verify(ctx context.Context, raw string, opts ...VerifyOption) (*VerifiedIdentity, error) {
	var o verifyOpts
	for _, fn := range opts {
		fn(&o)
	}

	id, domain, err := v.verify(ctx, raw, o)
	metrics.TokenVerifyTotal.WithLabelValues(domain, Class(err)).Inc()
	if err != nil {
		logger.From(ctx).Debug("token rejected",
			logger.Component("jwt.verifier"),
			logger.Domain(domain),
			logger.ErrorClass(Class(err)),
		)
		return nil, err
	}
	return id, nil
}

func (v *Verifier) verify(ctx context.Context, raw string, o verifyOpts) (*VerifiedIdentity, string, error) {
	domainName := v.primary.Name

	// 1) header sin verificar: kid obligatorio
	parser := jwtv5.NewParser()
	unverified, _, err := parser.ParseUnverified(raw, jwtv5.MapClaims{})
	if err != nil {
		return nil, domainName, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, domainName, fmt.Errorf("%w: kid missing", ErrMalformedToken)
	}

	// exp es obligatorio y un token vencido se rechaza como tal aunque la firma no valga.
	uc, _ := unverified.Claims.(jwtv5.MapClaims)
	exp, err := uc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, domainName, fmt.Errorf("%w: exp missing", ErrMalformedToken)
	}
	if !v.now().Before(exp.Time) {
		return nil, domainName, ErrExpiredToken
	}

	// 2) y 3) resolver la clave y con ella el dominio de confianza
	domain, pub, err := v.resolve(ctx, kid, o.allowSecondary)
	if domain != nil {
		domainName = domain.Name
	}
	if err != nil {
		return nil, domainName, err
	}

	// 4) firma, iss, aud, exp, nbf/iat
	audience := domain.Audience
	if o.audience != nil {
		audience = *o.audience
	}
	popts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods(validMethods),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithIssuedAt(),
		jwtv5.WithLeeway(v.leeway),
		jwtv5.WithIssuer(domain.Issuer),
		jwtv5.WithTimeFunc(v.now),
	}
	if audience != "" {
		popts = append(popts, jwtv5.WithAudience(audience))
	}
	claims := jwtv5.MapClaims{}
	tok, err := jwtv5.ParseWithClaims(raw, claims, func(*jwtv5.Token) (any, error) { return pub, nil }, popts...)
	if err != nil {
		return nil, domainName, mapParseError(err)
	}
	if !tok.Valid {
		return nil, domainName, ErrBadSignature
	}

	// 5) sub obligatorio
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, domainName, ErrMissingSubject
	}

	// 6) rol centralizado
	scopes := scopesFromClaims(claims)
	role := RoleFromScopes(scopes)

	id := &VerifiedIdentity{
		Subject: sub,
		Role:    role,
		Scopes:  scopes,
		Domain:  domainName,
		Claims:  map[string]any(claims),
	}
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		id.IssuedAt = iat.Time
	}
	if e, _ := claims.GetExpirationTime(); e != nil {
		id.ExpiresAt = e.Time
	}
	return id, domainName, nil
}

// resolve busca el kid primero en el dominio secundario (si está habilitado) y luego
// en el primario. Un fallo transitorio del JWKS se propaga como ErrIssuerUnreachable.
func (v *Verifier) resolve(ctx context.Context, kid string, allowSecondary bool) (*Domain, any, error) {
	if allowSecondary && v.secondary != nil {
		pub, err := v.secondary.Keys.Resolve(ctx, kid)
		switch {
		case err == nil:
			return v.secondary, pub, nil
		case errors.Is(err, ErrIssuerUnreachable):
			return v.secondary, nil, err
		}
	}

	pub, err := v.primary.Keys.Resolve(ctx, kid)
	switch {
	case err == nil:
		return &v.primary, pub, nil
	case errors.Is(err, ErrIssuerUnreachable):
		return &v.primary, nil, err
	default:
		return &v.primary, nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
	}
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwtv5.ErrTokenExpired),
		errors.Is(err, jwtv5.ErrTokenNotValidYet),
		errors.Is(err, jwtv5.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	case errors.Is(err, jwtv5.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	case errors.Is(err, jwtv5.ErrTokenInvalidAudience):
		return ErrAudienceMismatch
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid),
		errors.Is(err, jwtv5.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwtv5.ErrTokenMalformed),
		errors.Is(err, jwtv5.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
}
