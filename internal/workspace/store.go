// Package workspace keeps the per-session working state of an import between
// requests: the parsed upload, the accepted mapping, and the duplicate report.
package workspace

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/ingestion"
)

// ErrWorkspaceNotFound is returned when a session has no live workspace,
// either because it never existed or because it expired.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// DefaultTTL is how long an untouched workspace is kept.
const DefaultTTL = time.Hour

// Workspace is the mutable working state owned by one import session.
type Workspace struct {
	SessionID  int64                   `json:"session_id"`
	FileName   string                  `json:"file_name"`
	Table      ingestion.Table         `json:"table"`
	Suggested  map[string]string       `json:"suggested"`
	Mapping    *domain.ColumnMapping   `json:"mapping,omitempty"`
	Duplicates *domain.DuplicateReport `json:"duplicates,omitempty"`
}

// Store persists workspaces with a sliding TTL.
type Store interface {
	Save(ctx context.Context, ws Workspace) error
	// Load returns the workspace and refreshes its TTL.
	Load(ctx context.Context, sessionID int64) (Workspace, error)
	Delete(ctx context.Context, sessionID int64) error
}
