package domain

import (
	"fmt"
	"time"
)

// SessionStatus captures lifecycle state for an import session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusAnalyzing  SessionStatus = "analyzing"
	SessionStatusMapping    SessionStatus = "mapping"
	SessionStatusPreviewing SessionStatus = "previewing"
	SessionStatusExecuting  SessionStatus = "executing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// CancelledReason is the error message recorded when execution is cancelled.
const CancelledReason = "cancelled"

// ExpiredReason is the error message recorded when a session's working state expired.
const ExpiredReason = "session expired"

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:    {SessionStatusAnalyzing},
	SessionStatusAnalyzing:  {SessionStatusMapping},
	SessionStatusMapping:    {SessionStatusPreviewing},
	SessionStatusPreviewing: {SessionStatusPreviewing, SessionStatusMapping, SessionStatusExecuting},
	SessionStatusExecuting:  {SessionStatusCompleted},
}

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusAnalyzing, SessionStatusMapping, SessionStatusPreviewing,
		SessionStatusExecuting, SessionStatusCompleted, SessionStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
// Every non-terminal state may fail.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == SessionStatusFailed {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may move to next.
func TransitionSources(next SessionStatus) []SessionStatus {
	var sources []SessionStatus
	for _, status := range []SessionStatus{
		SessionStatusPending, SessionStatusAnalyzing, SessionStatusMapping,
		SessionStatusPreviewing, SessionStatusExecuting,
	} {
		if status.CanTransition(next) {
			sources = append(sources, status)
		}
	}
	return sources
}

// TransitionError describes a transition the state machine rejects.
type TransitionError struct {
	From SessionStatus
	To   SessionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session in status %s cannot move to %s", e.From, e.To)
}

// ImportSession mirrors the persisted state of one bulk-import attempt.
type ImportSession struct {
	ID            int64         `json:"id"`
	Status        SessionStatus `json:"status"`
	FileName      string        `json:"file_name,omitempty"`
	TotalRows     *int          `json:"total_rows,omitempty"`
	ValidRows     *int          `json:"valid_rows,omitempty"`
	ProcessedRows int           `json:"processed_rows"`
	CreatedCount  int           `json:"created_count"`
	UpdatedCount  int           `json:"updated_count"`
	SkippedCount  int           `json:"skipped_count"`
	FailedCount   int           `json:"failed_count"`
	Failures      []RowFailure  `json:"failures,omitempty"`
	ErrorMessage  *string       `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// NewImportSession creates a pending session for an uploaded file.
func NewImportSession(fileName string) ImportSession {
	now := time.Now().UTC()
	return ImportSession{
		Status:    SessionStatusPending,
		FileName:  fileName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RowFailure records a row that could not be committed.
type RowFailure struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ExecutionProgress is the running tally reported while a session executes.
type ExecutionProgress struct {
	ProcessedRows int `json:"processed_rows"`
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// ExecutionResult summarizes a finished execution.
type ExecutionResult struct {
	ExecutionProgress
	Failures []RowFailure `json:"failures"`
}
