package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.Claimed(15)
	m.Claimed(0)
	m.Claimed(3)
	m.Retried("fetch_worklist")
	m.Retried("fetch_worklist")
	m.Contention("complete_sale")
	m.Sold()

	assert.Equal(t, 18.0, testutil.ToFloat64(m.TicketsClaimed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClaimRetries.WithLabelValues("fetch_worklist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContentionFailures.WithLabelValues("complete_sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sales))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Claimed(1)
	m.Retried("x")
	m.Contention("x")
	m.Sold()
	m.Request("GET", 200)
	m.ObserveFetch(time.Now())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Claimed(2)
	m.ObserveFetch(time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ticketdesk_tickets_claimed_total 2")
	assert.Contains(t, string(body), "ticketdesk_worklist_fetch_duration_seconds_count 1")
}
