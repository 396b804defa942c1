package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vdigate/internal/jwt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Equal(t, "dev\n", out)
}

func TestEnvFile(t *testing.T) {
	// sin --env-file un .env ausente no es error
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"version"})
	t.Chdir(t.TempDir())
	require.NoError(t, cmd.Execute())

	// pedido explícitamente, sí
	_, err := run(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "version")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("VDIGATE_TEST_ENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("VDIGATE_TEST_ENV") })
	_, err = run(t, "--env-file", path, "version")
	require.NoError(t, err)
	require.Equal(t, "loaded", os.Getenv("VDIGATE_TEST_ENV"))
}

func TestKeysGen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jwks.json")

	out, err := run(t, "keys", "gen", "--kid", "session-1", "--out", path)
	require.NoError(t, err)
	require.Contains(t, out, "kid=session-1")

	ks, err := jwt.LoadLocalKeySet(path, "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, ks.PublicJWKS())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// no pisa una clave existente
	_, err = run(t, "keys", "gen", "--kid", "session-2", "--out", path)
	require.Error(t, err)
}

func TestCAInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	_, err := run(t, "ca", "init", "--dir", dir, "--cn", "test root")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "rootCA.crt.pem"))
	require.FileExists(t, filepath.Join(dir, "rootCA.key.pem"))
}
