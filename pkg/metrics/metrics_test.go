package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryServesMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.PacketsReceived.Inc()
	reg.PacketsLost.WithLabelValues("session-1").Add(4)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "airplay_rtp_packets_received_total")
	require.Contains(t, body, "airplay_rtp_packets_lost_total")
}
