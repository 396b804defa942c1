package helpers

import (
	"net/http"
	"strings"
	"time"
)

// CookieConfig describe una cookie HttpOnly del servicio (sesión o state).
type CookieConfig struct {
	Name     string
	Domain   string
	SameSite string
	Secure   bool
	TTL      time.Duration
}

func ParseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Build arma la cookie con el valor dado. TTL 0 = cookie de sesión del navegador.
func (c CookieConfig) Build(value string) *http.Cookie {
	ck := &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: ParseSameSite(c.SameSite),
	}
	if d := strings.TrimSpace(c.Domain); d != "" {
		ck.Domain = d
	}
	if c.TTL > 0 {
		ck.Expires = time.Now().Add(c.TTL).UTC()
		ck.MaxAge = int(c.TTL.Seconds())
	}
	return ck
}

// Deletion arma la cookie que borra a c en el navegador.
func (c CookieConfig) Deletion() *http.Cookie {
	ck := c.Build("")
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	return ck
}

// Read devuelve el valor de la cookie o "" si no vino.
func (c CookieConfig) Read(r *http.Request) string {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// ForwardSetCookies copia los Set-Cookie de un upstream a la respuesta.
func ForwardSetCookies(w http.ResponseWriter, cookies []string) {
	for _, c := range cookies {
		w.Header().Add("Set-Cookie", c)
	}
}
