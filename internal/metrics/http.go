package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "Requests en vuelo por método y ruta",
	}, []string{"method", "path"})

	RateLimitRejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdigate_rate_limit_rejects_total",
		Help: "Requests rechazadas por rate limit",
	}, []string{"path"})
)

// RegisterHTTP registra las métricas HTTP, ignorando duplicados.
func RegisterHTTP(reg prometheus.Registerer) error {
	return registerAll(reg,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPInflight,
		RateLimitRejectsTotal,
	)
}

func registerAll(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
