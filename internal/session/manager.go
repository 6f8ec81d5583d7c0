package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/sales-intake-service/internal/metrics"
)

// Manager tracks sessions in flight and keeps running totals
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// Totals since start
	accepted  uint64
	completed uint64
	aborted   map[Stage]uint64
}

// Statistics represents session totals
type Statistics struct {
	Accepted  uint64           `json:"accepted"`
	Completed uint64           `json:"completed"`
	Aborted   uint64           `json:"aborted"`
	ByStage   map[Stage]uint64 `json:"aborted_by_stage"`
	Active    int              `json:"active"`
}

// NewManager creates a session manager. m may be nil.
func NewManager(logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  m,
		aborted:  make(map[Stage]uint64),
	}
}

// Open registers a new session for a connection from remoteAddr
func (m *Manager) Open(remoteAddr string) *Session {
	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		LastActivity: now,
		stage:        StageAwaitIdent,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.accepted++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionStarted()
	}

	return session
}

// Close removes a session from the registry. err is the result of the
// session; nil means the session reached StageDone.
func (m *Manager) Close(session *Session, err error) {
	duration := time.Since(session.StartTime)

	stage := StageDone
	if err != nil {
		stage = session.Stage()
		var abortErr *AbortError
		if errors.As(err, &abortErr) {
			stage = abortErr.Stage
		}
	}

	m.mu.Lock()
	delete(m.sessions, session.ID)
	if stage == StageDone {
		m.completed++
	} else {
		m.aborted[stage]++
	}
	m.mu.Unlock()

	m.logger.Debug("Session removed",
		slog.String("session_id", session.ID),
		slog.String("stage", string(stage)),
		slog.Duration("duration", duration),
	)

	if m.metrics != nil {
		if stage == StageDone {
			m.metrics.RecordSessionCompleted(duration.Seconds())
		} else {
			m.metrics.RecordSessionAborted(string(stage), duration.Seconds())
		}
		if receipt := session.Receipt(); receipt != nil {
			m.metrics.RecordReportStored(receipt.Size)
		}
	}
}

// GetSession retrieves a session in flight
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of sessions in flight
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of sessions in flight, oldest first
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	return sessions
}

// GetStatistics returns session totals
func (m *Manager) GetStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		Accepted:  m.accepted,
		Completed: m.completed,
		ByStage:   make(map[Stage]uint64, len(m.aborted)),
		Active:    len(m.sessions),
	}
	for stage, n := range m.aborted {
		stats.ByStage[stage] = n
		stats.Aborted += n
	}

	return stats
}
