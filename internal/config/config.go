package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Roles del binario. "all" monta todo en un solo proceso (dev).
const (
	RoleAuth    = "auth"
	RoleApp     = "app"
	RoleCatalog = "catalog"
	RoleAll     = "all"
)

type Config struct {
	App struct {
		// dev | test | prod
		Env      string `yaml:"env"`
		Role     string `yaml:"role"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// Endpoint público del servicio; es el iss de los tokens de sesión.
		Endpoint string `yaml:"endpoint"`
		// Dominio de las cookies.
		Domain string `yaml:"domain"`
		// Orígenes de los frontends (login y webapp) habilitados para CORS.
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Hydra struct {
		AdminURL  string `yaml:"admin_url"`
		PublicURL string `yaml:"public_url"`
		// Si está vacío se usa {public_url}/.well-known/jwks.json
		JWKSURL string `yaml:"jwks_url"`

		AccessToken struct {
			Audience string `yaml:"audience"`
		} `yaml:"access_token"`

		SessionVDI struct {
			KID        string `yaml:"kid"`
			KeySetPath string `yaml:"keyset_path"`
			// Go duration o "N day(s)"
			ExpirationTime string `yaml:"expiration_time"`
			// Catalog: JWKS del servicio auth para validar tokens de sesión.
			JWKSURL string `yaml:"jwks_url"`
			// iss de los tokens de sesión. Default: server.endpoint.
			Issuer string `yaml:"issuer"`
		} `yaml:"session_vdi"`

		Client struct {
			ID                    string `yaml:"id"`
			Secret                string `yaml:"secret"`
			RedirectCallback      string `yaml:"redirect_callback"`
			RequestedAudience     string `yaml:"requested_audience"`
			PostLogoutRedirectURI string `yaml:"post_logout_redirect_uri"`
		} `yaml:"client"`
	} `yaml:"hydra"`

	Kratos struct {
		PublicURL string `yaml:"public_url"`
		AdminURL  string `yaml:"admin_url"`
	} `yaml:"kratos"`

	Upstream struct {
		Timeout time.Duration `yaml:"timeout"`
		// Ventana en la que un kid desconocido no vuelve a disparar la descarga del JWKS.
		JWKSMissBackoff time.Duration `yaml:"jwks_miss_backoff"`
	} `yaml:"upstream"`

	Authorization struct {
		Cookie struct {
			Name     string        `yaml:"name"`
			Secure   bool          `yaml:"secure"`
			SameSite string        `yaml:"samesite"`
			TTL      time.Duration `yaml:"ttl"`
		} `yaml:"cookie"`
		StateTTL time.Duration `yaml:"state_ttl"`
	} `yaml:"authorization"`

	Certificates struct {
		CA struct {
			Certificate string `yaml:"certificate"`
			PrivateKey  string `yaml:"private_key"`
		} `yaml:"ca"`
		CSR struct {
			OrganizationName string `yaml:"organization_name"`
			CountryName      string `yaml:"country_name"`
		} `yaml:"csr"`
		// Escribe los certificados generados en disco. Solo debug; nunca en prod.
		Output struct {
			Enabled bool   `yaml:"enabled"`
			Path    string `yaml:"path"`
			// true si Load lo apagó por estar en prod
			ForcedOff bool `yaml:"-"`
		} `yaml:"output"`
	} `yaml:"certificates"`

	Cache struct {
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
	} `yaml:"rate"`
}

// Load lee el YAML (si path != ""), aplica defaults y overrides de entorno.
// Un path vacío equivale a configurar todo por variables de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if _, err := c.SessionTTL(); err != nil {
		return nil, err
	}
	if _, err := time.ParseDuration(c.Rate.Window); err != nil {
		return nil, fmt.Errorf("config: rate.window: %w", err)
	}
	if _, err := time.ParseDuration(c.Cache.Memory.DefaultTTL); err != nil {
		return nil, fmt.Errorf("config: cache.memory.default_ttl: %w", err)
	}

	// En prod nunca se escriben claves privadas a disco.
	if c.IsProd() && c.Certificates.Output.Enabled {
		c.Certificates.Output.Enabled = false
		c.Certificates.Output.ForcedOff = true
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Role == "" {
		c.App.Role = RoleAll
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:4002"
	}
	if c.Server.Domain == "" {
		c.Server.Domain = "greenion.local"
	}
	if c.Server.Endpoint == "" {
		c.Server.Endpoint = "http://" + c.Server.Addr
	}
	if c.Hydra.AdminURL == "" {
		c.Hydra.AdminURL = "http://172.17.0.1:4445"
	}
	if c.Hydra.PublicURL == "" {
		c.Hydra.PublicURL = "http://" + c.Server.Domain + ":5004/"
	}
	if c.Hydra.JWKSURL == "" {
		c.Hydra.JWKSURL = strings.TrimSuffix(c.Hydra.PublicURL, "/") + "/.well-known/jwks.json"
	}
	if c.Hydra.SessionVDI.Issuer == "" {
		c.Hydra.SessionVDI.Issuer = c.Server.Endpoint
	}
	if c.Hydra.SessionVDI.ExpirationTime == "" {
		c.Hydra.SessionVDI.ExpirationTime = "1 day"
	}
	if c.Hydra.Client.RedirectCallback == "" {
		c.Hydra.Client.RedirectCallback = "http://" + c.Server.Domain + ":5001/callback"
	}
	if c.Hydra.Client.RequestedAudience == "" {
		c.Hydra.Client.RequestedAudience = "rest-app rest-catalog"
	}
	if c.Kratos.PublicURL == "" {
		c.Kratos.PublicURL = "http://172.17.0.1:4433"
	}
	if c.Kratos.AdminURL == "" {
		c.Kratos.AdminURL = "http://172.17.0.1:4434"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 10 * time.Second
	}
	if c.Upstream.JWKSMissBackoff == 0 {
		c.Upstream.JWKSMissBackoff = 5 * time.Second
	}
	if c.Authorization.Cookie.Name == "" {
		c.Authorization.Cookie.Name = "webapp_session"
	}
	if c.Authorization.Cookie.SameSite == "" {
		c.Authorization.Cookie.SameSite = "Lax"
	}
	if c.Authorization.Cookie.TTL == 0 {
		c.Authorization.Cookie.TTL = 24 * time.Hour
	}
	if c.Authorization.StateTTL == 0 {
		c.Authorization.StateTTL = 10 * time.Minute
	}
	if c.Certificates.CA.Certificate == "" {
		c.Certificates.CA.Certificate = "/opt/greenion/certs/rootCA.crt.pem"
	}
	if c.Certificates.CA.PrivateKey == "" {
		c.Certificates.CA.PrivateKey = "/opt/greenion/certs/rootCA.key.pem"
	}
	if c.Certificates.CSR.OrganizationName == "" {
		c.Certificates.CSR.OrganizationName = "GREENION"
	}
	if c.Certificates.CSR.CountryName == "" {
		c.Certificates.CSR.CountryName = "FR"
	}
	if c.Certificates.Output.Path == "" {
		c.Certificates.Output.Path = "/opt/greenion/certs/output"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "vdigate"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "10m"
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}
}

// IsProd indica si corremos en producción.
func (c *Config) IsProd() bool {
	return strings.EqualFold(c.App.Env, "prod") || strings.EqualFold(c.App.Env, "production")
}

// Serves indica si el proceso monta el rol dado.
func (c *Config) Serves(role string) bool {
	return c.App.Role == RoleAll || c.App.Role == role
}

// SessionTTL interpreta hydra.session_vdi.expiration_time.
func (c *Config) SessionTTL() (time.Duration, error) {
	d, err := ParseTTL(c.Hydra.SessionVDI.ExpirationTime)
	if err != nil {
		return 0, fmt.Errorf("config: hydra.session_vdi.expiration_time: %w", err)
	}
	return d, nil
}

// RateWindow ya fue validado en Load.
func (c *Config) RateWindow() time.Duration {
	d, _ := time.ParseDuration(c.Rate.Window)
	return d
}

func (c *Config) CacheDefaultTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.Memory.DefaultTTL)
	return d
}

// RequestedAudience: lista separada por espacios (formato Hydra).
func (c *Config) RequestedAudience() []string {
	return strings.Fields(c.Hydra.Client.RequestedAudience)
}

// ParseTTL acepta una duración Go ("24h") o el formato "N day(s)" / "N hour(s)".
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("ttl must be positive: %q", s)
		}
		return d, nil
	}
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid ttl %q", s)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid ttl %q", s)
	}
	switch strings.TrimSuffix(strings.ToLower(parts[1]), "s") {
	case "day", "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "hour", "h":
		return time.Duration(n) * time.Hour, nil
	case "minute", "min", "m":
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid ttl unit %q", parts[1])
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
// Los nombres son los que ya usa el despliegue (HYDRA_*, KRATOS_*, CERTIFICATES_*).
func (c *Config) applyEnvOverrides() {
	strs := map[string]*string{
		"APP_ENV":                                &c.App.Env,
		"VDIGATE_ROLE":                           &c.App.Role,
		"LOG_LEVEL":                              &c.App.LogLevel,
		"SERVER_ENDPOINT":                        &c.Server.Endpoint,
		"DOMAIN":                                 &c.Server.Domain,
		"HYDRA_ADMIN_URL":                        &c.Hydra.AdminURL,
		"HYDRA_PUBLIC_URL":                       &c.Hydra.PublicURL,
		"HYDRA_JWKS_URL":                         &c.Hydra.JWKSURL,
		"HYDRA_JWKS_ACCESS_TOKEN_AUDIENCE":       &c.Hydra.AccessToken.Audience,
		"HYDRA_JWKS_SESSION_VDI_KID":             &c.Hydra.SessionVDI.KID,
		"HYDRA_JWKS_SESSION_VDI_KEYSET":          &c.Hydra.SessionVDI.KeySetPath,
		"HYDRA_JWKS_SESSION_VDI_EXPIRATION_TIME": &c.Hydra.SessionVDI.ExpirationTime,
		"HYDRA_JWKS_SESSION_VDI_JWKS_URL":        &c.Hydra.SessionVDI.JWKSURL,
		"HYDRA_JWKS_SESSION_VDI_ISSUER":          &c.Hydra.SessionVDI.Issuer,
		"HYDRA_CLIENT_ID":                        &c.Hydra.Client.ID,
		"HYDRA_CLIENT_SECRET":                    &c.Hydra.Client.Secret,
		"HYDRA_CLIENT_REDIRECT_CALLBACK":         &c.Hydra.Client.RedirectCallback,
		"HYDRA_CLIENT_REQUESTED_AUDIENCE":        &c.Hydra.Client.RequestedAudience,
		"HYDRA_CLIENT_POST_LOGOUT_REDIRECT_URI":  &c.Hydra.Client.PostLogoutRedirectURI,
		"KRATOS_PUBLIC_URL":                      &c.Kratos.PublicURL,
		"KRATOS_ADMIN_URL":                       &c.Kratos.AdminURL,
		"AUTHORIZATION_COOKIE_NAME":              &c.Authorization.Cookie.Name,
		"AUTHORIZATION_COOKIE_SAMESITE":          &c.Authorization.Cookie.SameSite,
		"CERTIFICATES_CA_CERTIFICATE":            &c.Certificates.CA.Certificate,
		"CERTIFICATES_CA_PRIVATE_KEY":            &c.Certificates.CA.PrivateKey,
		"CERTIFICATES_CSR_ORGANIZATION_NAME":     &c.Certificates.CSR.OrganizationName,
		"CERTIFICATES_CSR_COUNTRY_NAME":          &c.Certificates.CSR.CountryName,
		"CERTIFICATES_OUTPUT_PATH":               &c.Certificates.Output.Path,
		"CACHE_KIND":                             &c.Cache.Kind,
		"REDIS_ADDR":                             &c.Cache.Redis.Addr,
		"REDIS_PASSWORD":                         &c.Cache.Redis.Password,
		"REDIS_PREFIX":                           &c.Cache.Redis.Prefix,
		"CACHE_MEMORY_DEFAULT_TTL":               &c.Cache.Memory.DefaultTTL,
		"RATE_WINDOW":                            &c.Rate.Window,
	}
	for k, dst := range strs {
		if v, ok := getEnvStr(k); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	// LISTEN_ON + LISTEN_PORT (formato del despliegue actual) o SERVER_ADDR.
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	} else {
		host, hok := getEnvStr("LISTEN_ON")
		port, pok := getEnvInt("LISTEN_PORT")
		if hok || pok {
			if !hok {
				host = "127.0.0.1"
			}
			if !pok {
				port = 4002
			}
			c.Server.Addr = fmt.Sprintf("%s:%d", host, port)
		}
	}

	if v, ok := getEnvStr("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, o)
			}
		}
	}
	if v, ok := getEnvBool("CERTIFICATES_OUTPUT_IS_ENABLED"); ok {
		c.Certificates.Output.Enabled = v
	}
	if v, ok := getEnvBool("AUTHORIZATION_COOKIE_SECURE"); ok {
		c.Authorization.Cookie.Secure = v
	}
	if v, ok := getEnvDur("AUTHORIZATION_COOKIE_TTL"); ok {
		c.Authorization.Cookie.TTL = v
	}
	if v, ok := getEnvDur("AUTHORIZATION_STATE_TTL"); ok {
		c.Authorization.StateTTL = v
	}
	if v, ok := getEnvDur("UPSTREAM_TIMEOUT"); ok {
		c.Upstream.Timeout = v
	}
	if v, ok := getEnvDur("UPSTREAM_JWKS_MISS_BACKOFF"); ok {
		c.Upstream.JWKSMissBackoff = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_MAX_REQUESTS"); ok {
		c.Rate.MaxRequests = v
	}
}

// Validate revisa los valores críticos según el rol que monta el proceso.
func (c *Config) Validate() error {
	var errs []error

	switch c.App.Role {
	case RoleAuth, RoleApp, RoleCatalog, RoleAll:
	default:
		errs = append(errs, fmt.Errorf("app.role: unknown role %q", c.App.Role))
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required when cache.kind=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind: unknown kind %q", c.Cache.Kind))
	}

	checkURL := func(name, v string) {
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid url %q", name, v))
		}
	}
	checkURL("hydra.jwks_url", c.Hydra.JWKSURL)

	if c.Serves(RoleAuth) {
		checkURL("hydra.admin_url", c.Hydra.AdminURL)
		checkURL("kratos.public_url", c.Kratos.PublicURL)
		checkURL("kratos.admin_url", c.Kratos.AdminURL)
		if c.Hydra.SessionVDI.KID == "" {
			errs = append(errs, errors.New("hydra.session_vdi.kid is required for role auth"))
		}
		if c.Hydra.SessionVDI.KeySetPath == "" {
			errs = append(errs, errors.New("hydra.session_vdi.keyset_path is required for role auth"))
		}
	}
	if c.Serves(RoleApp) {
		checkURL("hydra.public_url", c.Hydra.PublicURL)
		checkURL("hydra.client.redirect_callback", c.Hydra.Client.RedirectCallback)
		if c.Hydra.Client.ID == "" {
			errs = append(errs, errors.New("hydra.client.id is required for role app"))
		}
	}
	if c.Serves(RoleCatalog) && c.App.Role == RoleCatalog {
		if c.Hydra.SessionVDI.JWKSURL == "" && c.Hydra.SessionVDI.KeySetPath == "" {
			errs = append(errs, errors.New("hydra.session_vdi.jwks_url or keyset_path is required for role catalog"))
		}
	}
	if c.IsProd() && c.Certificates.Output.Enabled {
		errs = append(errs, errors.New("certificates.output.enabled must be false in prod"))
	}
	return errors.Join(errs...)
}
