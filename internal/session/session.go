package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/sales-intake-service/internal/store"
)

// Stage is a state of the session protocol.
type Stage string

// Protocol stages
const (
	StageAwaitIdent    Stage = "await_ident"
	StageParseIdent    Stage = "parse_ident"
	StageEnsureBranch  Stage = "ensure_branch"
	StageAckIdent      Stage = "ack_ident"
	StageAwaitPayload  Stage = "await_payload"
	StageDecodePayload Stage = "decode_payload"
	StageWriteReport   Stage = "write_report"
	StageAckDone       Stage = "ack_done"
	StageDone          Stage = "done"
)

// AbortError ends a session. Stage is where the session failed.
type AbortError struct {
	Stage Stage
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("session aborted in %s: %v", e.Stage, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

func abort(stage Stage, err error) *AbortError {
	return &AbortError{Stage: stage, Err: err}
}

// Session is one client connection working through the protocol
type Session struct {
	ID           string
	RemoteAddr   string
	StartTime    time.Time
	LastActivity time.Time

	branch  string
	stage   Stage
	receipt *store.Receipt

	mu sync.RWMutex
}

// SessionInfo is a point-in-time view of a session for monitoring
type SessionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	Branch       string    `json:"branch,omitempty"`
	Stage        Stage     `json:"stage"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	Duration     string    `json:"duration"`
}

// Branch returns the branch code, empty until identification succeeds.
func (s *Session) Branch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.branch
}

// Stage returns the current protocol stage.
func (s *Session) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// Receipt returns the stored report receipt, nil until the report has
// been written.
func (s *Session) Receipt() *store.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipt
}

// GetSessionInfo returns session information for monitoring
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:           s.ID,
		RemoteAddr:   s.RemoteAddr,
		Branch:       s.branch,
		Stage:        s.stage,
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity,
		Duration:     time.Since(s.StartTime).String(),
	}
}

func (s *Session) setStage(stage Stage) {
	s.mu.Lock()
	s.stage = stage
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setBranch(branch string) {
	s.mu.Lock()
	s.branch = branch
	s.mu.Unlock()
}

func (s *Session) setReceipt(receipt *store.Receipt) {
	s.mu.Lock()
	s.receipt = receipt
	s.mu.Unlock()
}
