package broker

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dropDatabas3/vdigate/internal/oauth/rp"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

// stateBytes: el state viaja como hex de 64 bytes aleatorios.
const stateBytes = 64

// OIDCClient es lo que el relying party necesita de rp.Client.
type OIDCClient interface {
	AuthCodeURL(ctx context.Context, state string) (string, error)
	Exchange(ctx context.Context, code string) (*rp.Tokens, error)
	EndSessionURL(ctx context.Context, idTokenHint string) (string, error)
	UserInfo(ctx context.Context, accessToken string) (*rp.UserInfo, error)
}

// StateLedger registra los states ya consumidos. cache.Client lo implementa.
type StateLedger interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// RelyingParty es el lado webapp del flujo (rol app).
type RelyingParty struct {
	oidc     OIDCClient
	ledger   StateLedger
	stateTTL time.Duration
	random   func([]byte) (int, error)
}

func NewRelyingParty(client OIDCClient, ledger StateLedger, stateTTL time.Duration) *RelyingParty {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &RelyingParty{oidc: client, ledger: ledger, stateTTL: stateTTL, random: rand.Read}
}

// BeginLogin genera un state nuevo y la URL de autorización que lo lleva.
// El llamador guarda el state en la cookie.
func (r *RelyingParty) BeginLogin(ctx context.Context) (state, redirectTo string, err error) {
	buf := make([]byte, stateBytes)
	if _, err := r.random(buf); err != nil {
		return "", "", fmt.Errorf("broker: generate state: %w", err)
	}
	state = hex.EncodeToString(buf)

	redirectTo, err = r.oidc.AuthCodeURL(ctx, state)
	if err != nil {
		return "", "", err
	}
	return state, redirectTo, nil
}

// CompleteLogin valida el state del callback contra la cookie, lo marca como
// consumido y canjea el code. Un state ya usado falla aunque la cookie vieja se reenvíe.
func (r *RelyingParty) CompleteLogin(ctx context.Context, cookieState, paramState, code string) (*rp.Tokens, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("RelyingParty.CompleteLogin"))

	if cookieState == "" || paramState == "" ||
		subtle.ConstantTimeCompare([]byte(cookieState), []byte(paramState)) != 1 {
		log.Info("state does not match cookie")
		return nil, ErrStateMismatch
	}

	sum := sha256.Sum256([]byte(paramState))
	fresh, err := r.ledger.SetNX(ctx, "state:"+hex.EncodeToString(sum[:]), "1", r.stateTTL)
	if err != nil {
		return nil, fmt.Errorf("broker: state ledger: %w", err)
	}
	if !fresh {
		log.Warn("state replayed")
		return nil, fmt.Errorf("%w: already consumed", ErrStateMismatch)
	}

	if code == "" {
		return nil, ErrMissingCode
	}
	return r.oidc.Exchange(ctx, code)
}

// LogoutURL devuelve el end_session_endpoint del proveedor.
func (r *RelyingParty) LogoutURL(ctx context.Context) (string, error) {
	return r.oidc.EndSessionURL(ctx, "")
}

// UserInfo consulta el perfil del usuario con el access token de la sesión.
func (r *RelyingParty) UserInfo(ctx context.Context, accessToken string) (*rp.UserInfo, error) {
	return r.oidc.UserInfo(ctx, accessToken)
}
