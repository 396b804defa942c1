package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "dev", c.App.Env)
	require.Equal(t, RoleAll, c.App.Role)
	require.Equal(t, "webapp_session", c.Authorization.Cookie.Name)
	require.Equal(t, "GREENION", c.Certificates.CSR.OrganizationName)
	require.Equal(t, "FR", c.Certificates.CSR.CountryName)
	require.Equal(t, "http://greenion.local:5004/.well-known/jwks.json", c.Hydra.JWKSURL)
	require.Equal(t, []string{"rest-app", "rest-catalog"}, c.RequestedAudience())
	require.Equal(t, 5*time.Second, c.Upstream.JWKSMissBackoff)

	ttl, err := c.SessionTTL()
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, ttl)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	p := writeYAML(t, `
app:
  env: staging
  role: catalog
hydra:
  public_url: https://hydra.example.com/
  session_vdi:
    jwks_url: https://auth.example.com/.well-known/jwks.json
authorization:
  state_ttl: 5m
`)
	t.Setenv("AUTHORIZATION_COOKIE_NAME", "vdi_session")
	t.Setenv("LISTEN_ON", "0.0.0.0")
	t.Setenv("LISTEN_PORT", "4003")
	t.Setenv("UPSTREAM_JWKS_MISS_BACKOFF", "1s")

	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, RoleCatalog, c.App.Role)
	require.Equal(t, "vdi_session", c.Authorization.Cookie.Name)
	require.Equal(t, "0.0.0.0:4003", c.Server.Addr)
	require.Equal(t, 5*time.Minute, c.Authorization.StateTTL)
	require.Equal(t, time.Second, c.Upstream.JWKSMissBackoff)
	require.Equal(t, "https://hydra.example.com/.well-known/jwks.json", c.Hydra.JWKSURL)
	require.True(t, c.Serves(RoleCatalog))
	require.False(t, c.Serves(RoleAuth))
	require.NoError(t, c.Validate())
}

func TestLoad_ProdForcesCertificateOutputOff(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("CERTIFICATES_OUTPUT_IS_ENABLED", "true")

	c, err := Load("")
	require.NoError(t, err)
	require.False(t, c.Certificates.Output.Enabled)
	require.True(t, c.Certificates.Output.ForcedOff)
}

func TestLoad_InvalidSessionTTL(t *testing.T) {
	t.Setenv("HYDRA_JWKS_SESSION_VDI_EXPIRATION_TIME", "forever")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidate_RoleRequirements(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	err = c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "hydra.session_vdi.kid")
	require.Contains(t, err.Error(), "hydra.client.id")

	c.Hydra.SessionVDI.KID = "vdi-1"
	c.Hydra.SessionVDI.KeySetPath = "/etc/vdigate/session.jwks.json"
	c.Hydra.Client.ID = "rest-app"
	require.NoError(t, c.Validate())

	c.Cache.Kind = "redis"
	require.ErrorContains(t, c.Validate(), "cache.redis.addr")
}

func TestParseTTL(t *testing.T) {
	cases := map[string]time.Duration{
		"1 day":   24 * time.Hour,
		"2 days":  48 * time.Hour,
		"3 hours": 3 * time.Hour,
		"90m":     90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseTTL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "day", "0 days", "-1h", "1 week"} {
		_, err := ParseTTL(bad)
		require.Error(t, err, bad)
	}
}
