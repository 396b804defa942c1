package rp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHydra struct {
	*httptest.Server
	discoveries atomic.Int32
	failFirst   atomic.Bool
	delay       time.Duration
}

func newFakeHydra(t *testing.T) *fakeHydra {
	t.Helper()
	f := &fakeHydra{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		f.discoveries.Add(1)
		if f.failFirst.CompareAndSwap(true, false) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		time.Sleep(f.delay)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 f.URL,
			"authorization_endpoint": f.URL + "/oauth2/auth",
			"token_endpoint":         f.URL + "/oauth2/token",
			"jwks_uri":               f.URL + "/.well-known/jwks.json",
			"end_session_endpoint":   f.URL + "/oauth2/sessions/logout",
			"userinfo_endpoint":      f.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","id_token":"idt-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"user-1","email":"user@greenion.local"}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newClient(t *testing.T, f *fakeHydra) *Client {
	t.Helper()
	c, err := New(Config{
		Issuer:                f.URL,
		ClientID:              "rest-app",
		ClientSecret:          "secret",
		RedirectURL:           "http://greenion.local:5001/callback",
		Audience:              []string{"rest-app", "rest-catalog"},
		PostLogoutRedirectURI: "http://greenion.local/",
	})
	require.NoError(t, err)
	return c
}

func TestAuthCodeURL(t *testing.T) {
	f := newFakeHydra(t)
	c := newClient(t, f)

	raw, err := c.AuthCodeURL(context.Background(), "st-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/oauth2/auth", u.Path)
	q := u.Query()
	require.Equal(t, "st-1", q.Get("state"))
	require.Equal(t, "openid offline email", q.Get("scope"))
	require.Equal(t, "rest-app rest-catalog", q.Get("audience"))
	require.Equal(t, "rest-app", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
}

func TestDiscovery_ConcurrentCallersShareOneCall(t *testing.T) {
	f := newFakeHydra(t)
	f.delay = 50 * time.Millisecond
	c := newClient(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.AuthCodeURL(context.Background(), "s")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := c.EndSessionURL(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, int32(1), f.discoveries.Load())
}

func TestDiscovery_FailureNotCached(t *testing.T) {
	f := newFakeHydra(t)
	f.failFirst.Store(true)
	c := newClient(t, f)

	_, err := c.AuthCodeURL(context.Background(), "s")
	require.ErrorIs(t, err, ErrDiscovery)

	_, err = c.AuthCodeURL(context.Background(), "s")
	require.NoError(t, err)
	require.Equal(t, int32(2), f.discoveries.Load())
}

func TestExchange(t *testing.T) {
	f := newFakeHydra(t)
	c := newClient(t, f)

	tok, err := c.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	require.Equal(t, "at-1", tok.AccessToken)
	require.Equal(t, "rt-1", tok.RefreshToken)
	require.Equal(t, "idt-1", tok.IDToken)

	_, err = c.Exchange(context.Background(), "bad-code")
	require.ErrorIs(t, err, ErrExchange)
}

func TestEndSessionURL(t *testing.T) {
	f := newFakeHydra(t)
	c := newClient(t, f)

	raw, err := c.EndSessionURL(context.Background(), "")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/oauth2/sessions/logout", u.Path)
	require.Equal(t, "http://greenion.local/", u.Query().Get("post_logout_redirect_uri"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Issuer: "https://hydra"})
	require.ErrorIs(t, err, ErrMissingClientID)

	_, err = New(Config{Issuer: "::", ClientID: "x"})
	require.Error(t, err)
}

func TestUserInfo(t *testing.T) {
	f := newFakeHydra(t)
	c := newClient(t, f)

	ui, err := c.UserInfo(context.Background(), "at-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", ui.Subject)
	require.Equal(t, "user@greenion.local", ui.Email)

	_, err = c.UserInfo(context.Background(), "other")
	require.ErrorIs(t, err, ErrTokenEndpoint)
}
