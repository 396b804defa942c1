package ory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const identityID = "7f1c0b2e-3f5a-4c3e-9a53-0d6a7e1b9c10"

func newHydra(t *testing.T, h http.HandlerFunc) *Hydra {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHydra(srv.URL)
	require.NoError(t, err)
	return c
}

func newKratos(t *testing.T, h http.HandlerFunc) *Kratos {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewKratos(srv.URL, srv.URL)
	require.NoError(t, err)
	return c
}

func TestHydra_LoginRequestAndAccept(t *testing.T) {
	var accepted map[string]any
	h := newHydra(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ch-1", r.URL.Query().Get("login_challenge"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/oauth2/auth/requests/login":
			_, _ = io.WriteString(w, `{"challenge":"ch-1","skip":true,"subject":"`+identityID+`","request_url":"https://hydra/oauth2/auth?x=1","client":{"client_id":"rest-app"},"unknown":{"a":1}}`)
		case r.Method == http.MethodPut && r.URL.Path == "/admin/oauth2/auth/requests/login/accept":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&accepted))
			_, _ = io.WriteString(w, `{"redirect_to":"https://hydra/next"}`)
		default:
			http.NotFound(w, r)
		}
	})

	lr, err := h.GetLoginRequest(context.Background(), "ch-1")
	require.NoError(t, err)
	require.True(t, lr.Skip)
	require.Equal(t, identityID, lr.Subject)
	require.Equal(t, "rest-app", lr.ClientID)

	red, err := h.AcceptLoginRequest(context.Background(), "ch-1", AcceptLogin{Subject: lr.Subject})
	require.NoError(t, err)
	require.Equal(t, "https://hydra/next", red.RedirectTo)
	require.Equal(t, identityID, accepted["subject"])
}

func TestHydra_ConsentAccept(t *testing.T) {
	var body []byte
	h := newHydra(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/oauth2/auth/requests/consent":
			_, _ = io.WriteString(w, `{"subject":"`+identityID+`","requested_scope":["openid","email"],"requested_access_token_audience":["rest-app"]}`)
		case "/admin/oauth2/auth/requests/consent/accept":
			body, _ = io.ReadAll(r.Body)
			_, _ = io.WriteString(w, `{"redirect_to":"https://hydra/done"}`)
		}
	})

	cr, err := h.GetConsentRequest(context.Background(), "c-1")
	require.NoError(t, err)
	require.Equal(t, []string{"openid", "email"}, cr.RequestedScope)
	require.Equal(t, []string{"rest-app"}, cr.RequestedAccessTokenAudience)

	_, err = h.AcceptConsentRequest(context.Background(), "c-1", AcceptConsent{
		GrantScope: append(cr.RequestedScope, "admin"),
		Session:    &ConsentSession{IDToken: map[string]any{"email": "a@b.c"}},
	})
	require.NoError(t, err)
	require.Equal(t, `["openid","email","admin"]`, gjson.GetBytes(body, "grant_scope").Raw)
	require.Equal(t, `[]`, gjson.GetBytes(body, "grant_access_token_audience").Raw)
	require.Equal(t, "a@b.c", gjson.GetBytes(body, "session.id_token.email").String())
}

func TestHydra_ProviderErrorKeepsPayload(t *testing.T) {
	h := newHydra(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Not Found","error_description":"Unable to locate the resource"}`)
	})

	_, err := h.AcceptLogoutRequest(context.Background(), "x")
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, pe.Status)
	require.Equal(t, "Not Found", pe.Reason)
	require.Equal(t, "Unable to locate the resource", pe.Message)
	require.JSONEq(t, `{"error":"Not Found","error_description":"Unable to locate the resource"}`, string(pe.Payload))
}

func TestHydra_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(block); srv.Close() })

	h, err := NewHydra(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = h.GetLoginRequest(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestHydra_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h, err := NewHydra(url)
	require.NoError(t, err)
	_, err = h.GetConsentRequest(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestNewHydra_InvalidURL(t *testing.T) {
	_, err := NewHydra("not a url")
	require.Error(t, err)
}

func TestKratos_CreateBrowserLoginFlow(t *testing.T) {
	k := newKratos(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/self-service/login/browser", r.URL.Path)
		require.Equal(t, "ch-1", r.URL.Query().Get("login_challenge"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		http.SetCookie(w, &http.Cookie{Name: "csrf_token_abc", Value: "v1"})
		_, _ = io.WriteString(w, `{"id":"flow-1","ui":{"nodes":[
			{"type":"input","attributes":{"name":"identifier","value":""}},
			{"type":"input","attributes":{"name":"csrf_token","value":"tok-123"}}
		]}}`)
	})

	flow, err := k.CreateBrowserLoginFlow(context.Background(), "ch-1", "")
	require.NoError(t, err)
	require.Equal(t, "flow-1", flow.ID)
	require.Equal(t, "tok-123", flow.CSRFToken)
	require.Len(t, flow.SetCookies, 1)
	require.Contains(t, flow.SetCookies[0], "csrf_token_abc=v1")
}

func TestKratos_CreateBrowserLoginFlowWithoutCSRF(t *testing.T) {
	k := newKratos(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"flow-1","ui":{"nodes":[]}}`)
	})
	_, err := k.CreateBrowserLoginFlow(context.Background(), "", "")
	require.ErrorIs(t, err, ErrCSRFNodeMissing)
}

func TestKratos_UpdateLoginFlow(t *testing.T) {
	k := newKratos(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "flow-1", r.URL.Query().Get("flow"))
		require.Equal(t, "csrf_token_abc=v1", r.Header.Get("Cookie"))
		b, _ := io.ReadAll(r.Body)
		require.Equal(t, "password", gjson.GetBytes(b, "method").String())
		require.Equal(t, "user@greenion.local", gjson.GetBytes(b, "identifier").String())

		if gjson.GetBytes(b, "password").String() != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"id":"flow-1","ui":{"messages":[{"id":4000006,"text":"The provided credentials are invalid","type":"error"}]}}`)
			return
		}
		w.Header().Add("Set-Cookie", "ory_kratos_session=s; Path=/")
		_, _ = io.WriteString(w, `{"session":{"identity":{"id":"`+identityID+`"}}}`)
	})

	res, err := k.UpdateLoginFlow(context.Background(), "flow-1", "csrf_token_abc=v1", UpdateLogin{
		CSRFToken: "tok", Identifier: "user@greenion.local", Password: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, identityID, res.IdentityID)
	require.Len(t, res.SetCookies, 1)

	_, err = k.UpdateLoginFlow(context.Background(), "flow-1", "csrf_token_abc=v1", UpdateLogin{
		CSRFToken: "tok", Identifier: "user@greenion.local", Password: "wrong",
	})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, pe.Status)
	require.Equal(t, "The provided credentials are invalid", pe.Message)
	msgs, ok := pe.UIMessages()
	require.True(t, ok)
	require.JSONEq(t, `[{"id":4000006,"text":"The provided credentials are invalid","type":"error"}]`, string(msgs))
}

func TestKratos_Identities(t *testing.T) {
	var created []byte
	k := newKratos(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/identities/"+identityID:
			_, _ = io.WriteString(w, `{"id":"`+identityID+`","traits":{"email":"admin@greenion.local"},"metadata_public":{"role":"admin"}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/admin/identities":
			created, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"`+identityID+`","traits":{"email":"new@greenion.local"},"metadata_public":{"role":"user"}}`)
		default:
			http.NotFound(w, r)
		}
	})

	id, err := k.GetIdentity(context.Background(), identityID)
	require.NoError(t, err)
	require.Equal(t, "admin", id.Role)
	require.Equal(t, "admin@greenion.local", id.Email)

	out, err := k.CreateIdentity(context.Background(), CreateIdentity{Email: "new@greenion.local", Password: "pw", Role: "user"})
	require.NoError(t, err)
	require.Equal(t, "user", out.Role)
	require.Equal(t, "default", gjson.GetBytes(created, "schema_id").String())
	require.Equal(t, "pw", gjson.GetBytes(created, "credentials.password.config.password").String())
	require.Equal(t, "user", gjson.GetBytes(created, "metadata_public.role").String())

	_, err = k.GetIdentity(context.Background(), "not-a-uuid")
	require.True(t, errors.Is(err, ErrInvalidIdentityID))
}

func TestKratos_ConflictPassthrough(t *testing.T) {
	k := newKratos(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":{"code":409,"status":"Conflict","reason":"This identity conflicts with another identity that already exists.","message":"The resource could not be created due to a conflict"}}`)
	})
	_, err := k.CreateIdentity(context.Background(), CreateIdentity{Email: "x@y.z", Password: "p", Role: "user"})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusConflict, pe.Status)
	require.Equal(t, "This identity conflicts with another identity that already exists.", pe.Reason)
	require.Equal(t, "The resource could not be created due to a conflict", pe.Message)
}
