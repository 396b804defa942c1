package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterTrustIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterTrust(reg))
	require.NoError(t, RegisterTrust(reg))
}

func TestCountersAccumulate(t *testing.T) {
	before := testutil.ToFloat64(JWKSFetchTotal.WithLabelValues("ok"))
	JWKSFetchTotal.WithLabelValues("ok").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(JWKSFetchTotal.WithLabelValues("ok")))
}

func TestRegisterHTTPIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterHTTP(reg))
	require.NoError(t, RegisterHTTP(reg))
}
