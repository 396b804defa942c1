package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []Artifacts
}

func (s *recordingSink) Put(_ context.Context, a Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, a)
	return nil
}

func newTestAuthority(t *testing.T, opts ...Option) *Authority {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certPEM, keyPEM, err := selfSign(key, "Greenion Root CA", "GREENION", "FR", 10*365*24*time.Hour)
	require.NoError(t, err)
	a, err := FromPEM(certPEM, keyPEM, Config{}, opts...)
	require.NoError(t, err)
	return a
}

func parseLeaf(t *testing.T, b []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(b)
	require.NotNil(t, block)
	require.Equal(t, "CERTIFICATE", block.Type)
	c, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return c
}

func TestIssueCertificate_Structure(t *testing.T) {
	a := newTestAuthority(t)
	before := time.Now().Truncate(time.Second)

	out, err := a.IssueCertificate(context.Background(), "42", "10.0.0.5")
	require.NoError(t, err)

	leaf := parseLeaf(t, out.CertificatePEM)
	require.Equal(t, "42", leaf.Subject.CommonName)
	require.Equal(t, []string{"GREENION"}, leaf.Subject.Organization)
	require.Equal(t, []string{"FR"}, leaf.Subject.Country)
	require.Equal(t, a.Certificate().Subject.String(), leaf.Issuer.String())

	require.Len(t, leaf.IPAddresses, 1)
	require.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("10.0.0.5")))
	require.Empty(t, leaf.DNSNames)
	require.Empty(t, leaf.EmailAddresses)
	require.Empty(t, leaf.URIs)

	require.Equal(t, leaf.NotBefore.AddDate(1, 0, 0), leaf.NotAfter)
	require.False(t, leaf.NotBefore.Before(before))
	require.Equal(t, x509.SHA256WithRSA, leaf.SignatureAlgorithm)
	require.NoError(t, leaf.CheckSignatureFrom(a.Certificate()))

	pool := x509.NewCertPool()
	pool.AddCert(a.Certificate())
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:       pool,
		CurrentTime: leaf.NotBefore,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	require.NoError(t, err)
}

func TestIssueCertificate_PrivateKeyMatchesLeaf(t *testing.T) {
	a := newTestAuthority(t)
	out, err := a.IssueCertificate(context.Background(), "7", "192.168.1.20")
	require.NoError(t, err)

	block, _ := pem.Decode(out.PrivateKeyPEM)
	require.NotNil(t, block)
	require.Equal(t, "RSA PRIVATE KEY", block.Type)
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	require.NoError(t, err)
	require.GreaterOrEqual(t, key.N.BitLen(), 2048)

	leaf := parseLeaf(t, out.CertificatePEM)
	require.True(t, key.PublicKey.Equal(leaf.PublicKey))
}

func TestIssueCertificate_FreshKeyEveryTime(t *testing.T) {
	a := newTestAuthority(t)
	first, err := a.IssueCertificate(context.Background(), "42", "10.0.0.5")
	require.NoError(t, err)
	second, err := a.IssueCertificate(context.Background(), "42", "10.0.0.5")
	require.NoError(t, err)

	require.NotEqual(t, first.PrivateKeyPEM, second.PrivateKeyPEM)
	require.NotEqual(t, first.CertificatePEM, second.CertificatePEM)
	require.NotEqual(t, first.Serial, second.Serial)
}

func TestIssueCertificate_InvalidIPRejectedBeforeSigning(t *testing.T) {
	sink := &recordingSink{}
	a := newTestAuthority(t, WithSink(sink))

	for _, ip := range []string{"not-an-ip", "", "10.0.0.256", "fe80::1%eth0"} {
		_, err := a.IssueCertificate(context.Background(), "42", ip)
		require.ErrorIs(t, err, ErrInvalidSubjectAltName, ip)
	}
	require.Empty(t, sink.calls)
}

func TestIssueCertificate_EmptyMachineID(t *testing.T) {
	a := newTestAuthority(t)
	_, err := a.IssueCertificate(context.Background(), "", "10.0.0.5")
	require.ErrorIs(t, err, ErrInvalidMachineID)
}

func TestIssueCertificate_IPv6(t *testing.T) {
	a := newTestAuthority(t)
	out, err := a.IssueCertificate(context.Background(), "9", "2001:db8::5")
	require.NoError(t, err)
	leaf := parseLeaf(t, out.CertificatePEM)
	require.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("2001:db8::5")))
}

func TestIssueCertificate_CancelledContext(t *testing.T) {
	a := newTestAuthority(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.IssueCertificate(ctx, "42", "10.0.0.5")
	require.ErrorIs(t, err, context.Canceled)
}

func TestIssueCertificate_SinkReceivesArtifacts(t *testing.T) {
	sink := &recordingSink{}
	a := newTestAuthority(t, WithSink(sink))
	out, err := a.IssueCertificate(context.Background(), "42", "10.0.0.5")
	require.NoError(t, err)

	require.Len(t, sink.calls, 1)
	require.Equal(t, "42", sink.calls[0].MachineID)
	require.Equal(t, out.CertificatePEM, sink.calls[0].CertificatePEM)
}

func TestFSSink_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	a := newTestAuthority(t, WithSink(FSSink{Dir: dir}))
	_, err := a.IssueCertificate(context.Background(), "42", "10.0.0.5")
	require.NoError(t, err)

	for _, name := range []string{"machine-42.key", "machine-42.csr", "machine-42.crt.pem"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
}

func TestLoad_Failures(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(Config{CertificatePath: filepath.Join(dir, "nope.pem"), PrivateKeyPath: filepath.Join(dir, "nope.key")})
	require.ErrorIs(t, err, ErrCAUnavailable)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certPEM, _, err := selfSign(key, "ca", "O", "FR", time.Hour)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(other)})

	_, err = FromPEM(certPEM, otherPEM, Config{})
	require.ErrorIs(t, err, ErrCAUnavailable)

	_, err = FromPEM([]byte("garbage"), otherPEM, Config{})
	require.ErrorIs(t, err, ErrCAUnavailable)

	// CA con clave EC: solo se firma con RSA
	ecCert, ecKey := ecdsaRoot(t)
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)
	for _, keyPEM := range [][]byte{
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}),
	} {
		_, err = FromPEM(ecCert, keyPEM, Config{})
		require.ErrorIs(t, err, ErrCAUnavailable)
	}
}

func ecdsaRoot(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ec root"},
		NotBefore:             now,
		NotAfter:              now.Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), key
}

func TestIssueCertificate_NotBeforeNeverPrecedesIssuance(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	a := newTestAuthority(t, WithClock(func() time.Time { return issuedAt }))

	out, err := a.IssueCertificate(context.Background(), "42", "10.0.0.5")
	require.NoError(t, err)
	leaf := parseLeaf(t, out.CertificatePEM)
	require.Equal(t, issuedAt.Truncate(time.Second).Add(time.Second), leaf.NotBefore.UTC())
	require.Equal(t, leaf.NotBefore.AddDate(1, 0, 0), leaf.NotAfter)

	// en un segundo exacto no se corre
	exact := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a = newTestAuthority(t, WithClock(func() time.Time { return exact }))
	out, err = a.IssueCertificate(context.Background(), "42", "10.0.0.5")
	require.NoError(t, err)
	require.Equal(t, exact, parseLeaf(t, out.CertificatePEM).NotBefore.UTC())
}

func TestLoad_FromDisk(t *testing.T) {
	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certPEM, keyPEM, err := selfSign(key, "ca", "GREENION", "FR", time.Hour)
	require.NoError(t, err)
	cp, kp := filepath.Join(dir, "rootCA.crt.pem"), filepath.Join(dir, "rootCA.key.pem")
	require.NoError(t, os.WriteFile(cp, certPEM, 0o644))
	require.NoError(t, os.WriteFile(kp, keyPEM, 0o600))

	a, err := Load(Config{CertificatePath: cp, PrivateKeyPath: kp, Organization: "ACME", Country: "AR"})
	require.NoError(t, err)
	out, err := a.IssueCertificate(context.Background(), "1", "127.0.0.1")
	require.NoError(t, err)
	leaf := parseLeaf(t, out.CertificatePEM)
	require.Equal(t, []string{"ACME"}, leaf.Subject.Organization)
	require.Equal(t, []string{"AR"}, leaf.Subject.Country)
}

func TestIssueCertificate_Concurrent(t *testing.T) {
	a := newTestAuthority(t)
	var wg sync.WaitGroup
	serials := make([]string, 4)
	for i := range serials {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := a.IssueCertificate(context.Background(), "42", "10.0.0.5")
			if err == nil {
				serials[i] = out.Serial
			}
		}(i)
	}
	wg.Wait()
	seen := map[string]bool{}
	for _, s := range serials {
		require.NotEmpty(t, s)
		require.False(t, seen[s])
		seen[s] = true
	}
}
