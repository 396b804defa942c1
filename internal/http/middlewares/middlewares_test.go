package middlewares

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/rate"
)

type fakeVerifier struct {
	ids  map[string]*jwt.VerifiedIdentity
	err  error
	opts int
}

func (f *fakeVerifier) Verify(_ context.Context, raw string, opts ...jwt.VerifyOption) (*jwt.VerifiedIdentity, error) {
	f.opts = len(opts)
	if id, ok := f.ids[raw]; ok {
		return id, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, jwt.ErrBadSignature
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r.Context())
	if id == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"sub": id.Subject, "role": id.Role.String()})
}

func newVerifier() *fakeVerifier {
	return &fakeVerifier{ids: map[string]*jwt.VerifiedIdentity{
		"user-token":  {Subject: "u1", Role: jwt.RoleUser},
		"admin-token": {Subject: "a1", Role: jwt.RoleAdmin},
	}}
}

func TestRequireAuth_Bearer(t *testing.T) {
	h := Chain(http.HandlerFunc(okHandler), RequireAuth(newVerifier(), AuthOptions{}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"sub":"u1","role":"user"}`, w.Body.String())
}

func TestRequireAuth_MissingAndInvalid(t *testing.T) {
	h := Chain(http.HandlerFunc(okHandler), RequireAuth(newVerifier(), AuthOptions{}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("WWW-Authenticate"), "missing bearer token")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer forged")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "TOKEN_INVALID")
	require.NotContains(t, w.Body.String(), "forged")
}

func TestRequireAuth_IssuerUnreachableIs503(t *testing.T) {
	v := newVerifier()
	v.err = jwt.ErrIssuerUnreachable
	h := Chain(http.HandlerFunc(okHandler), RequireAuth(v, AuthOptions{}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer unknown")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireAuth_CookieAndOptions(t *testing.T) {
	v := newVerifier()
	h := Chain(http.HandlerFunc(okHandler), RequireAuth(v, AuthOptions{
		CookieName:     "webapp_session",
		AllowSecondary: true,
		Audience:       "rest-catalog",
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "webapp_session", Value: "admin-token"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, v.opts)
}

func TestRequireAuth_CustomUnauthenticated(t *testing.T) {
	h := Chain(http.HandlerFunc(okHandler), RequireAuth(newVerifier(), AuthOptions{
		CookieName: "webapp_session",
		Unauthenticated: func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusBadRequest)
		},
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireAuth_CustomUnauthenticatedSkipsRetryable(t *testing.T) {
	v := newVerifier()
	v.err = jwt.ErrIssuerUnreachable
	called := false
	h := Chain(http.HandlerFunc(okHandler), RequireAuth(v, AuthOptions{
		CookieName: "webapp_session",
		Unauthenticated: func(w http.ResponseWriter, r *http.Request, err error) {
			called = true
			w.WriteHeader(http.StatusBadRequest)
		},
	}))

	r := httptest.NewRequest(http.MethodGet, "/app/v1/auth/user/info", nil)
	r.AddCookie(&http.Cookie{Name: "webapp_session", Value: "unknown"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.False(t, called)
	require.Empty(t, w.Header().Values("Set-Cookie"))

	// un token inválido sí pasa por el handler custom
	v.err = jwt.ErrExpiredToken
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.True(t, called)
}

func TestRequireAdmin(t *testing.T) {
	h := Chain(http.HandlerFunc(okHandler), RequireAuth(newVerifier(), AuthOptions{}), RequireAdmin())

	for token, want := range map[string]int{
		"user-token":  http.StatusForbidden,
		"admin-token": http.StatusOK,
	} {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, want, w.Code, token)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}), WithRequestID())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, seen, 36)
	require.Equal(t, seen, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, "abc", seen)
}

func TestWithRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithRecover())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWithRateLimit(t *testing.T) {
	l := rate.NewMemoryLimiter("", 1, time.Minute)
	h := Chain(http.HandlerFunc(okHandler), WithRateLimit(l, nil))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/token", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/token", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/api/v1/auth/login/:param", normalizePath("/api/v1/auth/login/7f1c0b2e-3f5a-4c3e-9a53-0d6a7e1b9c10"))
	require.Equal(t, "/api/v1/machines/:param", normalizePath("/api/v1/machines/42"))
	require.Equal(t, "/", normalizePath(""))
}

func TestWithCORS(t *testing.T) {
	h := Chain(http.HandlerFunc(okHandler), WithCORS([]string{"https://app.greenion.local/"}))

	r := httptest.NewRequest(http.MethodOptions, "/app/v1/auth/login", nil)
	r.Header.Set("Origin", "https://app.greenion.local")
	r.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.greenion.local", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	r = httptest.NewRequest(http.MethodGet, "/app/v1/auth/login", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
