package ory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var (
	// ErrCSRFNodeMissing: el flow de login no trae el nodo csrf_token.
	ErrCSRFNodeMissing = errors.New("ory: login flow without csrf_token node")
	// ErrInvalidIdentityID: el id no es un UUID de identidad de Kratos.
	ErrInvalidIdentityID = errors.New("ory: invalid identity id")
)

// Kratos agrupa la API pública (self-service) y la admin (identities).
type Kratos struct {
	public *endpoint
	admin  *endpoint
}

func NewKratos(publicURL, adminURL string, opts ...Option) (*Kratos, error) {
	pub, err := newEndpoint("kratos", publicURL, opts...)
	if err != nil {
		return nil, err
	}
	adm, err := newEndpoint("kratos", adminURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Kratos{public: pub, admin: adm}, nil
}

type LoginFlow struct {
	ID        string
	CSRFToken string
	// Set-Cookie del proveedor, a reenviar al navegador.
	SetCookies []string
}

type UpdateLogin struct {
	CSRFToken  string
	Identifier string
	Password   string
}

type LoginResult struct {
	IdentityID string
	SetCookies []string
	Payload    json.RawMessage
}

type Identity struct {
	ID    string
	Email string
	// metadata_public.role tal cual viene (puede estar vacío)
	Role string
}

type CreateIdentity struct {
	Email    string
	Password string
	Role     string
}

// CreateBrowserLoginFlow abre un flow de login para el navegador.
// loginChallenge y returnTo son opcionales.
func (k *Kratos) CreateBrowserLoginFlow(ctx context.Context, loginChallenge, returnTo string) (*LoginFlow, error) {
	q := url.Values{}
	if loginChallenge != "" {
		q.Set("login_challenge", loginChallenge)
	}
	if returnTo != "" {
		q.Set("return_to", returnTo)
	}
	resp, err := k.public.do(ctx, request{
		op:     "create_browser_login_flow",
		method: http.MethodGet,
		path:   "/self-service/login/browser",
		query:  q,
	})
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(resp.payload)
	csrf := doc.Get(`ui.nodes.#(attributes.name=="csrf_token").attributes.value`)
	if !csrf.Exists() {
		return nil, ErrCSRFNodeMissing
	}
	return &LoginFlow{
		ID:         doc.Get("id").String(),
		CSRFToken:  csrf.String(),
		SetCookies: resp.header.Values("Set-Cookie"),
	}, nil
}

// UpdateLoginFlow envía credenciales (method=password) reenviando la cookie del navegador.
func (k *Kratos) UpdateLoginFlow(ctx context.Context, flowID, cookie string, body UpdateLogin) (*LoginResult, error) {
	resp, err := k.public.do(ctx, request{
		op:     "update_login_flow",
		method: http.MethodPost,
		path:   "/self-service/login",
		query:  url.Values{"flow": []string{flowID}},
		cookie: cookie,
		body: map[string]string{
			"method":     "password",
			"csrf_token": body.CSRFToken,
			"identifier": body.Identifier,
			"password":   body.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		IdentityID: gjson.GetBytes(resp.payload, "session.identity.id").String(),
		SetCookies: resp.header.Values("Set-Cookie"),
		Payload:    json.RawMessage(resp.payload),
	}, nil
}

func (k *Kratos) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentityID, id)
	}
	resp, err := k.admin.do(ctx, request{
		op:     "get_identity",
		method: http.MethodGet,
		path:   "/admin/identities/" + id,
	})
	if err != nil {
		return nil, err
	}
	return decodeIdentity(resp.payload), nil
}

func (k *Kratos) CreateIdentity(ctx context.Context, in CreateIdentity) (*Identity, error) {
	body := map[string]any{
		"schema_id": "default",
		"traits": map[string]any{
			"email": in.Email,
		},
		"credentials": map[string]any{
			"password": map[string]any{
				"config": map[string]any{"password": in.Password},
			},
		},
		"metadata_public": map[string]any{
			"role": in.Role,
		},
	}
	resp, err := k.admin.do(ctx, request{
		op:     "create_identity",
		method: http.MethodPost,
		path:   "/admin/identities",
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	return decodeIdentity(resp.payload), nil
}

func decodeIdentity(payload []byte) *Identity {
	doc := gjson.ParseBytes(payload)
	return &Identity{
		ID:    doc.Get("id").String(),
		Email: doc.Get("traits.email").String(),
		Role:  doc.Get("metadata_public.role").String(),
	}
}
