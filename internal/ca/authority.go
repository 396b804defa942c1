// Package ca opera la autoridad certificante propia: genera el par RSA de cada
// máquina, arma el CSR con CN = id de máquina y lo firma con la CA raíz cargada
// de disco al arrancar. La CA nunca guarda las claves privadas que emite.
package ca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/dropDatabas3/vdigate/internal/metrics"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

var (
	// ErrCAUnavailable: material de la CA ausente o ilegible. Fatal al arrancar.
	ErrCAUnavailable = errors.New("ca_unavailable")
	// ErrInvalidSubjectAltName: externalIp no es una IP literal. Se rechaza antes de firmar.
	ErrInvalidSubjectAltName = errors.New("invalid_subject_alt_name")
	// ErrInvalidMachineID: CN vacío.
	ErrInvalidMachineID = errors.New("invalid_machine_id")
)

const leafKeyBits = 2048

var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// Config describe dónde está la CA y qué sujeto llevan los CSR.
type Config struct {
	CertificatePath string
	PrivateKeyPath  string
	Organization    string // default "GREENION"
	Country         string // default "FR"
}

// Issued es el resultado de una emisión: certificado y clave de la máquina en PEM.
type Issued struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	CSRPEM         []byte
	Serial         string
	NotBefore      time.Time
	NotAfter       time.Time
}

// Authority firma certificados de máquina. Es de solo lectura tras Load y segura
// para uso concurrente: cada emisión genera su propio material.
type Authority struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	org     string
	country string
	sink    ArtifactSink
	now     func() time.Time
}

// Option configura una Authority.
type Option func(*Authority)

// WithSink inyecta el sink de artefactos (default NopSink).
func WithSink(s ArtifactSink) Option {
	return func(a *Authority) {
		if s != nil {
			a.sink = s
		}
	}
}

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// Load lee certificado y clave de la CA de disco. Cualquier fallo es ErrCAUnavailable.
func Load(cfg Config, opts ...Option) (*Authority, error) {
	certPEM, err := os.ReadFile(cfg.CertificatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read certificate: %v", ErrCAUnavailable, err)
	}
	keyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %v", ErrCAUnavailable, err)
	}
	return FromPEM(certPEM, keyPEM, cfg, opts...)
}

// FromPEM arma la Authority desde PEM en memoria.
func FromPEM(certPEM, keyPEM []byte, cfg Config, opts ...Option) (*Authority, error) {
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCAUnavailable, err)
	}
	signer, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCAUnavailable, err)
	}
	// las hojas se firman siempre SHA-256 con RSA
	key, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: ca private key is %T, want RSA", ErrCAUnavailable, signer)
	}
	if !publicKeysMatch(cert.PublicKey, key.Public()) {
		return nil, fmt.Errorf("%w: private key does not match certificate", ErrCAUnavailable)
	}

	a := &Authority{
		cert:    cert,
		key:     key,
		org:     cfg.Organization,
		country: cfg.Country,
		sink:    NopSink{},
		now:     time.Now,
	}
	if a.org == "" {
		a.org = "GREENION"
	}
	if a.country == "" {
		a.country = "FR"
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Certificate devuelve el certificado de la CA.
func (a *Authority) Certificate() *x509.Certificate { return a.cert }

// IssueCertificate genera par RSA + CSR para machineID y lo firma con la CA.
// Validez [now, now+1 año], SAN = IP:externalIP, SHA-256.
func (a *Authority) IssueCertificate(ctx context.Context, machineID, externalIP string) (*Issued, error) {
	log := logger.From(ctx).With(logger.Component("ca"), logger.Op("IssueCertificate"), logger.MachineID(machineID))
	started := time.Now()

	if machineID == "" {
		metrics.CertificatesIssuedTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidMachineID
	}
	addr, err := netip.ParseAddr(externalIP)
	if err != nil || addr.Zone() != "" {
		metrics.CertificatesIssuedTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubjectAltName, externalIP)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1) par de la máquina, nunca reutilizado
	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		metrics.CertificatesIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generate key: %w", err)
	}

	// 2) CSR con CN = machineID y O/C de configuración
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:   machineID,
			Organization: []string{a.org},
			Country:      []string{a.country},
		},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}, leafKey)
	if err != nil {
		metrics.CertificatesIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create csr: %w", err)
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		metrics.CertificatesIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("parse csr: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		metrics.CertificatesIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("csr signature: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3) y 4) hoja: sujeto del CSR, issuer de la CA, SAN IP
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		metrics.CertificatesIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("serial: %w", err)
	}
	// segundo entero siguiente: la validez nunca arranca antes de la emisión
	issuedAt := a.now().UTC()
	notBefore := issuedAt.Truncate(time.Second)
	if notBefore.Before(issuedAt) {
		notBefore = notBefore.Add(time.Second)
	}
	notAfter := notBefore.AddDate(1, 0, 0)

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               csr.Subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		IPAddresses:           []net.IP{net.IP(addr.AsSlice())},
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	// 5) firma con la clave de la CA
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.cert, csr.PublicKey, a.key)
	if err != nil {
		metrics.CertificatesIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sign certificate: %w", err)
	}

	// 6) PEM
	out := &Issued{
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(leafKey)}),
		CSRPEM:         pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER}),
		Serial:         serial.Text(16),
		NotBefore:      notBefore,
		NotAfter:       notAfter,
	}

	if err := a.sink.Put(ctx, Artifacts{
		MachineID:      machineID,
		PrivateKeyPEM:  out.PrivateKeyPEM,
		CSRPEM:         out.CSRPEM,
		CertificatePEM: out.CertificatePEM,
	}); err != nil {
		// El sink es solo de debug: no rompe la emisión.
		log.Warn("artifact sink failed", logger.Err(err))
	}

	metrics.CertificatesIssuedTotal.WithLabelValues("ok").Inc()
	metrics.CertificateSignLatency.Observe(time.Since(started).Seconds())
	log.Info("certificate issued",
		logger.String("serial", out.Serial),
		logger.String("subject", csr.Subject.String()),
	)
	return out, nil
}

func parseCertificate(b []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(b)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("ca certificate: no CERTIFICATE pem block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca certificate: %w", err)
	}
	if !cert.IsCA {
		return nil, errors.New("ca certificate: not a CA")
	}
	return cert, nil
}

// parsePrivateKey acepta PKCS#1 ("RSA PRIVATE KEY") y PKCS#8.
func parsePrivateKey(b []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("ca private key: no pem block")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ca private key: %w", err)
		}
		s, ok := k.(crypto.Signer)
		if !ok {
			return nil, errors.New("ca private key: unsupported key type")
		}
		return s, nil
	default:
		return nil, fmt.Errorf("ca private key: unexpected pem type %q", block.Type)
	}
}

func publicKeysMatch(a, b crypto.PublicKey) bool {
	type equaler interface{ Equal(crypto.PublicKey) bool }
	if e, ok := a.(equaler); ok {
		return e.Equal(b)
	}
	return false
}
