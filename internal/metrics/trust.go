package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del núcleo de confianza. Viven en un paquete aparte para que jwt, ca
// y los servicios HTTP las usen sin ciclos de import.

var (
	TokenVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdigate_token_verify_total",
		Help: "Verificaciones de tokens por dominio de confianza y resultado",
	}, []string{"domain", "result"})

	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdigate_tokens_issued_total",
		Help: "Tokens de sesión VDI emitidos",
	}, []string{"result"})

	JWKSFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdigate_jwks_fetch_total",
		Help: "Descargas del JWKS remoto por resultado (ok|not_modified|error)",
	}, []string{"result"})

	CertificatesIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdigate_certificates_issued_total",
		Help: "Certificados de cliente emitidos por resultado",
	}, []string{"result"})

	CertificateSignLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vdigate_certificate_sign_seconds",
		Help:    "Duración de keygen + firma de un certificado de máquina",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	ProviderCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdigate_provider_calls_total",
		Help: "Llamadas al identity provider (hydra|kratos) por operación y resultado",
	}, []string{"provider", "op", "result"})
)

// RegisterTrust registra las métricas en el registry dado (o el default si es nil).
func RegisterTrust(reg prometheus.Registerer) error {
	return registerAll(reg,
		TokenVerifyTotal,
		TokensIssuedTotal,
		JWKSFetchTotal,
		CertificatesIssuedTotal,
		CertificateSignLatency,
		ProviderCallsTotal,
	)
}
