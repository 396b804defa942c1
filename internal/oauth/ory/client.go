// Package ory implementa los clientes HTTP mínimos contra Ory Hydra (admin)
// y Ory Kratos (public + admin) que usa el broker OAuth2.
//
// Los payloads se recorren con gjson: los campos desconocidos se ignoran
// y los errores del proveedor se conservan tal cual en ProviderError.
package ory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dropDatabas3/vdigate/internal/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	maxBody        = 1 << 20
)

// ErrUpstreamUnavailable: el proveedor no respondió (timeout, conexión, respuesta ilegible).
var ErrUpstreamUnavailable = errors.New("ory: upstream unavailable")

// ProviderError es una respuesta de error del proveedor. Payload es el cuerpo original.
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	Reason   string
	Message  string
	Payload  json.RawMessage
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = e.Reason + ": " + msg
	}
	return fmt.Sprintf("ory: %s %s: status %d: %s", e.Provider, e.Op, e.Status, msg)
}

// UIMessages devuelve ui.messages de un flow de Kratos si el error lo trae.
func (e *ProviderError) UIMessages() (json.RawMessage, bool) {
	r := gjson.GetBytes(e.Payload, "ui.messages")
	if !r.Exists() {
		return nil, false
	}
	return json.RawMessage(r.Raw), true
}

// AsProviderError es un atajo de errors.As.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

type Option func(*endpoint)

// WithHTTPClient reemplaza el cliente HTTP (tests, transportes custom).
func WithHTTPClient(c *http.Client) Option {
	return func(e *endpoint) { e.http = c }
}

// WithTimeout fija el timeout por llamada.
func WithTimeout(d time.Duration) Option {
	return func(e *endpoint) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// endpoint es una base URL de un proveedor + cliente HTTP.
type endpoint struct {
	provider string
	base     *url.URL
	http     *http.Client
	timeout  time.Duration
}

func newEndpoint(provider, rawURL string, opts ...Option) (*endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ory: invalid %s url %q", provider, rawURL)
	}
	e := &endpoint{
		provider: provider,
		base:     u,
		http:     &http.Client{},
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	cookie string
}

type response struct {
	status  int
	header  http.Header
	payload []byte
}

// do ejecuta la llamada y clasifica el resultado. Nunca reintenta.
func (e *endpoint) do(ctx context.Context, r request) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	u := e.base.JoinPath(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("ory: %s %s: encode body: %w", e.provider, r.op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("ory: %s %s: %w", e.provider, r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cookie != "" {
		req.Header.Set("Cookie", r.cookie)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(e.provider, r.op, "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUpstreamUnavailable, e.provider, r.op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(e.provider, r.op, "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s %s: read body: %v", ErrUpstreamUnavailable, e.provider, r.op, err)
	}

	if resp.StatusCode >= 400 {
		metrics.ProviderCallsTotal.WithLabelValues(e.provider, r.op, "rejected").Inc()
		return nil, e.providerError(r.op, resp.StatusCode, payload)
	}
	if len(payload) > 0 && !gjson.ValidBytes(payload) {
		metrics.ProviderCallsTotal.WithLabelValues(e.provider, r.op, "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s %s: invalid json", ErrUpstreamUnavailable, e.provider, r.op)
	}

	metrics.ProviderCallsTotal.WithLabelValues(e.provider, r.op, "ok").Inc()
	return &response{status: resp.StatusCode, header: resp.Header, payload: payload}, nil
}

// providerError arma el error con los formatos de Kratos ({error:{reason,message}})
// y de Hydra ({error, error_description}).
func (e *endpoint) providerError(op string, status int, payload []byte) *ProviderError {
	pe := &ProviderError{
		Provider: e.provider,
		Op:       op,
		Status:   status,
	}
	if gjson.ValidBytes(payload) {
		pe.Payload = json.RawMessage(payload)
	} else {
		b, _ := json.Marshal(map[string]string{"error": strings.TrimSpace(string(payload))})
		pe.Payload = b
	}

	doc := gjson.ParseBytes(pe.Payload)
	if errObj := doc.Get("error"); errObj.IsObject() {
		pe.Reason = errObj.Get("reason").String()
		pe.Message = errObj.Get("message").String()
	} else {
		pe.Reason = errObj.String()
		pe.Message = doc.Get("error_description").String()
	}
	if pe.Message == "" {
		pe.Message = doc.Get("ui.messages.0.text").String()
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(status)
	}
	return pe
}

// Redirect es la respuesta común de los accept de Hydra.
type Redirect struct {
	RedirectTo string `json:"redirect_to"`
}

func decodeRedirect(provider, op string, payload []byte) (*Redirect, error) {
	to := gjson.GetBytes(payload, "redirect_to").String()
	if to == "" {
		return nil, fmt.Errorf("%w: %s %s: missing redirect_to", ErrUpstreamUnavailable, provider, op)
	}
	return &Redirect{RedirectTo: to}, nil
}
