package session

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/sales-intake-service/internal/metrics"
	"github.com/skypro1111/sales-intake-service/internal/store"
)

func TestManagerOpen(t *testing.T) {
	mgr := NewManager(testLogger(), nil)

	s1 := mgr.Open("127.0.0.1:5000")
	s2 := mgr.Open("127.0.0.1:5001")

	if s1.ID == "" || s1.ID == s2.ID {
		t.Errorf("Expected distinct session IDs, got %q and %q", s1.ID, s2.ID)
	}
	if s1.Stage() != StageAwaitIdent {
		t.Errorf("Expected new session in %s, got %s", StageAwaitIdent, s1.Stage())
	}
	if mgr.GetActiveSessionCount() != 2 {
		t.Errorf("Expected 2 active sessions, got %d", mgr.GetActiveSessionCount())
	}

	got, exists := mgr.GetSession(s2.ID)
	if !exists || got != s2 {
		t.Error("Expected to find the second session by ID")
	}
	if _, exists := mgr.GetSession("missing"); exists {
		t.Error("Expected unknown session ID to be absent")
	}
}

func TestManagerCloseUpdatesStatistics(t *testing.T) {
	mgr := NewManager(testLogger(), nil)

	ok := mgr.Open("a")
	ok.setStage(StageDone)
	mgr.Close(ok, nil)

	badIdent := mgr.Open("b")
	mgr.Close(badIdent, abort(StageParseIdent, errors.New("no field")))

	badPayload := mgr.Open("c")
	mgr.Close(badPayload, abort(StageDecodePayload, errors.New("bad base64")))

	// A plain error falls back to the session's current stage.
	hungUp := mgr.Open("d")
	hungUp.setStage(StageAwaitPayload)
	mgr.Close(hungUp, io.ErrUnexpectedEOF)

	stats := mgr.GetStatistics()
	if stats.Accepted != 4 {
		t.Errorf("Expected 4 accepted, got %d", stats.Accepted)
	}
	if stats.Completed != 1 {
		t.Errorf("Expected 1 completed, got %d", stats.Completed)
	}
	if stats.Aborted != 3 {
		t.Errorf("Expected 3 aborted, got %d", stats.Aborted)
	}
	for _, stage := range []Stage{StageParseIdent, StageDecodePayload, StageAwaitPayload} {
		if stats.ByStage[stage] != 1 {
			t.Errorf("Expected one abort in %s, got %d", stage, stats.ByStage[stage])
		}
	}
	if stats.Active != 0 {
		t.Errorf("Expected no active sessions, got %d", stats.Active)
	}
}

func TestManagerGetAllSessionsOrdered(t *testing.T) {
	mgr := NewManager(testLogger(), nil)

	first := mgr.Open("a")
	time.Sleep(time.Millisecond)
	second := mgr.Open("b")
	second.setBranch("BR01")

	sessions := mgr.GetAllSessions()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0] != first || sessions[1] != second {
		t.Error("Expected sessions ordered by start time")
	}

	info := sessions[1].GetSessionInfo()
	if info.Branch != "BR01" || info.RemoteAddr != "b" || info.Stage != StageAwaitIdent {
		t.Errorf("Unexpected session info %+v", info)
	}
}

func TestManagerRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mgr := NewManager(testLogger(), m)

	ok := mgr.Open("a")
	ok.setReceipt(&store.Receipt{Branch: "BR01", Size: 30})
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("Expected 1 active session, got %v", got)
	}
	mgr.Close(ok, nil)

	bad := mgr.Open("b")
	mgr.Close(bad, abort(StageDecodePayload, errors.New("bad base64")))

	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsCompleted); got != 1 {
		t.Errorf("Expected 1 completed session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsAborted.WithLabelValues(string(StageDecodePayload))); got != 1 {
		t.Errorf("Expected 1 decode_payload abort, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReportBytes); got != 30 {
		t.Errorf("Expected 30 report bytes, got %v", got)
	}
}
