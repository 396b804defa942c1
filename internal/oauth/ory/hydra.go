package ory

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// Hydra es el cliente de la API admin de Ory Hydra (login/consent/logout).
type Hydra struct {
	admin *endpoint
}

func NewHydra(adminURL string, opts ...Option) (*Hydra, error) {
	e, err := newEndpoint("hydra", adminURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Hydra{admin: e}, nil
}

type LoginRequest struct {
	Challenge  string
	Skip       bool
	Subject    string
	RequestURL string
	ClientID   string
}

type ConsentRequest struct {
	Challenge                    string
	Subject                      string
	Skip                         bool
	RequestedScope               []string
	RequestedAccessTokenAudience []string
	ClientID                     string
}

type AcceptLogin struct {
	Subject     string `json:"subject"`
	Remember    bool   `json:"remember,omitempty"`
	RememberFor int    `json:"remember_for,omitempty"`
}

type ConsentSession struct {
	IDToken     map[string]any `json:"id_token,omitempty"`
	AccessToken map[string]any `json:"access_token,omitempty"`
}

type AcceptConsent struct {
	GrantScope               []string        `json:"grant_scope"`
	GrantAccessTokenAudience []string        `json:"grant_access_token_audience"`
	Remember                 bool            `json:"remember,omitempty"`
	RememberFor              int             `json:"remember_for,omitempty"`
	Session                  *ConsentSession `json:"session,omitempty"`
}

func challengeQuery(name, v string) url.Values {
	return url.Values{name: []string{v}}
}

func (h *Hydra) GetLoginRequest(ctx context.Context, challenge string) (*LoginRequest, error) {
	resp, err := h.admin.do(ctx, request{
		op:     "get_login_request",
		method: http.MethodGet,
		path:   "/admin/oauth2/auth/requests/login",
		query:  challengeQuery("login_challenge", challenge),
	})
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(resp.payload)
	return &LoginRequest{
		Challenge:  doc.Get("challenge").String(),
		Skip:       doc.Get("skip").Bool(),
		Subject:    doc.Get("subject").String(),
		RequestURL: doc.Get("request_url").String(),
		ClientID:   doc.Get("client.client_id").String(),
	}, nil
}

func (h *Hydra) AcceptLoginRequest(ctx context.Context, challenge string, body AcceptLogin) (*Redirect, error) {
	resp, err := h.admin.do(ctx, request{
		op:     "accept_login_request",
		method: http.MethodPut,
		path:   "/admin/oauth2/auth/requests/login/accept",
		query:  challengeQuery("login_challenge", challenge),
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	return decodeRedirect("hydra", "accept_login_request", resp.payload)
}

func (h *Hydra) GetConsentRequest(ctx context.Context, challenge string) (*ConsentRequest, error) {
	resp, err := h.admin.do(ctx, request{
		op:     "get_consent_request",
		method: http.MethodGet,
		path:   "/admin/oauth2/auth/requests/consent",
		query:  challengeQuery("consent_challenge", challenge),
	})
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(resp.payload)
	return &ConsentRequest{
		Challenge:                    doc.Get("challenge").String(),
		Subject:                      doc.Get("subject").String(),
		Skip:                         doc.Get("skip").Bool(),
		RequestedScope:               stringArray(doc.Get("requested_scope")),
		RequestedAccessTokenAudience: stringArray(doc.Get("requested_access_token_audience")),
		ClientID:                     doc.Get("client.client_id").String(),
	}, nil
}

func (h *Hydra) AcceptConsentRequest(ctx context.Context, challenge string, body AcceptConsent) (*Redirect, error) {
	if body.GrantScope == nil {
		body.GrantScope = []string{}
	}
	if body.GrantAccessTokenAudience == nil {
		body.GrantAccessTokenAudience = []string{}
	}
	resp, err := h.admin.do(ctx, request{
		op:     "accept_consent_request",
		method: http.MethodPut,
		path:   "/admin/oauth2/auth/requests/consent/accept",
		query:  challengeQuery("consent_challenge", challenge),
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	return decodeRedirect("hydra", "accept_consent_request", resp.payload)
}

func (h *Hydra) AcceptLogoutRequest(ctx context.Context, challenge string) (*Redirect, error) {
	resp, err := h.admin.do(ctx, request{
		op:     "accept_logout_request",
		method: http.MethodPut,
		path:   "/admin/oauth2/auth/requests/logout/accept",
		query:  challengeQuery("logout_challenge", challenge),
	})
	if err != nil {
		return nil, err
	}
	return decodeRedirect("hydra", "accept_logout_request", resp.payload)
}

func stringArray(r gjson.Result) []string {
	arr := r.Array()
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.String())
	}
	return out
}
