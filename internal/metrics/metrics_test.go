package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerCounters(t *testing.T) {
	m := New()

	m.ObserveMutation("sale")
	m.ObserveMutation("sale")
	m.ObserveMutation("add")
	m.ObserveRejection("order")
	m.ObserveCommit("order")
	m.ObserveTx("order", time.Now(), nil)
	m.ObserveTx("order", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues("sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("order")))
}

func TestNilLedgerIsSafe(t *testing.T) {
	var m *Ledger
	m.ObserveMutation("sale")
	m.ObserveRejection("mutate")
	m.ObserveCommit("return")
	m.ObserveTx("mutate", time.Now(), nil)
	m.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesLedgerMetrics(t *testing.T) {
	m := New()
	m.ObserveCommit("backfill")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stockledger_ledger_commits_total{operation="backfill"} 1`)
}
