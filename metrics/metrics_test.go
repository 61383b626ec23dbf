package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/refactorgen/model"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveOracle("suggest", "ok")
	m.ObserveOracle("suggest", "ok")
	m.ObserveOracle("correct", "error")
	m.ObserveRecord(model.KindVerified)
	m.RunStarted()
	m.RunFinished(model.RunComplete)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.oracleCallsTotal.WithLabelValues("suggest", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCallsTotal.WithLabelValues("correct", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.issuesTotal.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("complete")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsInFlight))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveValidation(1500*time.Millisecond, false)
	m.ObserveRecord(model.KindRejectedBothFailed)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `refactorgen_issues_total{kind="rejected_both_failed"} 1`)
	assert.Contains(t, string(body), `refactorgen_validation_duration_seconds_count{result="fail"} 1`)
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveOracle("optimize", "ok")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.oracleCallsTotal.WithLabelValues("optimize", "ok")))
}
