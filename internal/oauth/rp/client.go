// Package rp es el lado relying-party del flujo OAuth2/OIDC contra Hydra:
// arma la URL de autorización, canjea el code y resuelve el end_session_endpoint.
//
// El discovery se hace lazy, una sola vez: los primeros llamadores concurrentes
// comparten la misma llamada y un fallo no queda cacheado.
package rp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/vdigate/internal/metrics"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

var (
	ErrDiscovery = errors.New("rp: provider discovery failed")
	// ErrExchange: el token endpoint rechazó el code.
	ErrExchange = errors.New("rp: code exchange rejected")
	// ErrTokenEndpoint: el token endpoint no respondió.
	ErrTokenEndpoint   = errors.New("rp: token endpoint unavailable")
	ErrNoEndSession    = errors.New("rp: provider has no end_session_endpoint")
	ErrMissingClientID = errors.New("rp: client id is required")
)

// DefaultScopes son los scopes que pide la webapp.
var DefaultScopes = []string{"openid", "offline", "email"}

type Config struct {
	Issuer                string
	ClientID              string
	ClientSecret          string
	RedirectURL           string
	Scopes                []string
	Audience              []string
	PostLogoutRedirectURI string
	HTTPClient            *http.Client
	Timeout               time.Duration
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

type UserInfo struct {
	Subject string
	Email   string
}

type provider struct {
	op         *oidc.Provider
	oauth2     *oauth2.Config
	endSession string
}

// Client se construye explícitamente al arrancar y se inyecta en el broker.
type Client struct {
	cfg  Config
	http *http.Client

	mu   sync.RWMutex
	prov *provider
	sf   singleflight.Group
}

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, ErrMissingClientID
	}
	u, err := url.Parse(cfg.Issuer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rp: invalid issuer %q", cfg.Issuer)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc}, nil
}

func (c *Client) discover(ctx context.Context) (*provider, error) {
	c.mu.RLock()
	p := c.prov
	c.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	v, err, _ := c.sf.Do("discover", func() (any, error) {
		c.mu.RLock()
		cached := c.prov
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		// El resultado se comparte entre llamadores: no depende de la cancelación de uno solo.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		dctx = oidc.ClientContext(dctx, c.http)

		op, err := oidc.NewProvider(dctx, c.cfg.Issuer)
		if err != nil {
			metrics.ProviderCallsTotal.WithLabelValues("hydra", "discovery", "unavailable").Inc()
			return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
		}
		var extra struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := op.Claims(&extra); err != nil {
			metrics.ProviderCallsTotal.WithLabelValues("hydra", "discovery", "unavailable").Inc()
			return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
		}
		metrics.ProviderCallsTotal.WithLabelValues("hydra", "discovery", "ok").Inc()

		ep := op.Endpoint()
		np := &provider{
			op: op,
			oauth2: &oauth2.Config{
				ClientID:     c.cfg.ClientID,
				ClientSecret: c.cfg.ClientSecret,
				RedirectURL:  c.cfg.RedirectURL,
				Scopes:       c.cfg.Scopes,
				Endpoint: oauth2.Endpoint{
					AuthURL:  ep.AuthURL,
					TokenURL: ep.TokenURL,
				},
			},
			endSession: extra.EndSessionEndpoint,
		}

		c.mu.Lock()
		c.prov = np
		c.mu.Unlock()

		logger.L().Info("oidc discovery completed",
			logger.Component("rp"),
			logger.String("issuer", c.cfg.Issuer),
		)
		return np, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*provider), nil
}

// AuthCodeURL arma la URL de autorización con state y audience.
func (c *Client) AuthCodeURL(ctx context.Context, state string) (string, error) {
	p, err := c.discover(ctx)
	if err != nil {
		return "", err
	}
	var opts []oauth2.AuthCodeOption
	if len(c.cfg.Audience) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("audience", strings.Join(c.cfg.Audience, " ")))
	}
	return p.oauth2.AuthCodeURL(state, opts...), nil
}

// Exchange canjea el authorization code por tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*Tokens, error) {
	p, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			metrics.ProviderCallsTotal.WithLabelValues("hydra", "token_exchange", "rejected").Inc()
			return nil, fmt.Errorf("%w: %s", ErrExchange, re.ErrorCode)
		}
		metrics.ProviderCallsTotal.WithLabelValues("hydra", "token_exchange", "unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTokenEndpoint, err)
	}
	metrics.ProviderCallsTotal.WithLabelValues("hydra", "token_exchange", "ok").Inc()

	out := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = id
	}
	return out, nil
}

// EndSessionURL devuelve el end_session_endpoint del discovery con
// post_logout_redirect_uri si está configurado.
func (c *Client) EndSessionURL(ctx context.Context, idTokenHint string) (string, error) {
	p, err := c.discover(ctx)
	if err != nil {
		return "", err
	}
	if p.endSession == "" {
		return "", ErrNoEndSession
	}
	u, err := url.Parse(p.endSession)
	if err != nil {
		return "", fmt.Errorf("%w: end_session_endpoint: %v", ErrDiscovery, err)
	}
	q := u.Query()
	if c.cfg.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", c.cfg.PostLogoutRedirectURI)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UserInfo consulta el userinfo endpoint con el access token de la sesión.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	p, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx = oidc.ClientContext(ctx, c.http)

	ui, err := p.op.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("hydra", "userinfo", "unavailable").Inc()
		return nil, fmt.Errorf("%w: userinfo: %v", ErrTokenEndpoint, err)
	}
	metrics.ProviderCallsTotal.WithLabelValues("hydra", "userinfo", "ok").Inc()
	return &UserInfo{Subject: ui.Subject, Email: ui.Email}, nil
}
