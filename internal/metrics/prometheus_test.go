package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionLifecycleMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionStarted()
	m.RecordSessionStarted()
	m.RecordSessionStarted()

	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Errorf("Expected 3 active sessions, got %v", got)
	}

	m.RecordSessionCompleted(0.01)
	m.RecordSessionAborted("parse_ident", 0.002)
	m.RecordSessionAborted("decode_payload", 0.003)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsAccepted); got != 3 {
		t.Errorf("Expected 3 accepted sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsCompleted); got != 1 {
		t.Errorf("Expected 1 completed session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsAborted.WithLabelValues("parse_ident")); got != 1 {
		t.Errorf("Expected 1 parse_ident abort, got %v", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 1 {
		t.Errorf("Expected one duration histogram series, got %d", got)
	}
}

func TestReportMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordReportStored(30)
	m.RecordReportStored(5)

	if got := testutil.ToFloat64(m.ReportsStored); got != 2 {
		t.Errorf("Expected 2 reports stored, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReportBytes); got != 35 {
		t.Errorf("Expected 35 bytes stored, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors, so building twice must not
	// panic with a duplicate registration.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
