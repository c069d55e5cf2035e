package repository

import (
	"context"
	"errors"

	"github.com/rpattn/crmimport/internal/domain"
)

var (
	// ErrSessionNotFound indicates that no import session has the requested id.
	ErrSessionNotFound = errors.New("import session not found")
	// ErrSessionStatusConflict indicates that a session cannot transition from its current state.
	ErrSessionStatusConflict = errors.New("import session status conflict")
	// ErrLeadNotFound indicates that no lead has the requested id.
	ErrLeadNotFound = errors.New("lead not found")
	// ErrTemplateNotFound indicates that no mapping template matched.
	ErrTemplateNotFound = errors.New("mapping template not found")
	// ErrUnavailable marks failures of the storage backend itself rather than of one statement.
	ErrUnavailable = errors.New("storage unavailable")
)

// LeadRepository defines the interface for lead operations
type LeadRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Lead, error)
	// FindByEmails returns leads whose canonical email is in emails, ordered by id.
	FindByEmails(ctx context.Context, emails []string) ([]domain.Lead, error)
	// FindSimilar returns up to limit leads whose name or email is trigram-similar to the inputs.
	FindSimilar(ctx context.Context, fullName, email string, limit int) ([]domain.Lead, error)
	Create(ctx context.Context, lead domain.Lead) (domain.Lead, error)
	Update(ctx context.Context, id int64, patch domain.LeadPatch) (domain.Lead, error)
}

// ImportSessionRepository persists import sessions and their status transitions.
type ImportSessionRepository interface {
	Create(ctx context.Context, session domain.ImportSession) (domain.ImportSession, error)
	GetByID(ctx context.Context, id int64) (domain.ImportSession, error)
	// Transition moves a session to next only if its current status is one of from.
	Transition(ctx context.Context, id int64, from []domain.SessionStatus, next domain.SessionStatus) (domain.ImportSession, error)
	// UpdateCounts stores the row totals; a nil validRows clears the valid count.
	UpdateCounts(ctx context.Context, id int64, totalRows int, validRows *int) error
	UpdateProgress(ctx context.Context, id int64, progress domain.ExecutionProgress) error
	MarkCompleted(ctx context.Context, id int64, progress domain.ExecutionProgress) (domain.ImportSession, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string) (domain.ImportSession, error)
}

// MappingTemplateRepository stores named column mappings.
type MappingTemplateRepository interface {
	Upsert(ctx context.Context, name string, mapping domain.ColumnMapping) (domain.MappingTemplate, error)
	GetByName(ctx context.Context, name string) (domain.MappingTemplate, error)
	List(ctx context.Context) ([]domain.MappingTemplate, error)
	Delete(ctx context.Context, id int64) error
}

// ImportLogRepository records row level import problems.
type ImportLogRepository interface {
	Record(ctx context.Context, entry domain.ImportLogEntry) error
	DeleteStage(ctx context.Context, sessionID int64, stage domain.ImportLogStage) error
	List(ctx context.Context, sessionID int64, stage domain.ImportLogStage, limit int, offset int) ([]domain.ImportLogEntry, error)
}
