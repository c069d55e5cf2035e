package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const importSessionColumns = `id, status, file_name, total_rows, valid_rows, processed_rows,
	created_count, updated_count, skipped_count, failed_count, error_message,
	created_at, updated_at, completed_at`

type importSessionRepository struct {
	pool *pgxpool.Pool
}

// NewImportSessionRepository wires a session repository backed by pgxpool.
func NewImportSessionRepository(pool *pgxpool.Pool) ImportSessionRepository {
	return &importSessionRepository{pool: pool}
}

func (r *importSessionRepository) Create(ctx context.Context, session domain.ImportSession) (domain.ImportSession, error) {
	status := session.Status
	if status == "" {
		status = domain.SessionStatusPending
	}
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO import_sessions (status, file_name)
		 VALUES ($1, $2)
		 RETURNING `+importSessionColumns,
		string(status),
		session.FileName,
	)
	created, err := scanImportSession(row)
	if err != nil {
		return domain.ImportSession{}, wrapErr("insert import session", err)
	}
	return created, nil
}

func (r *importSessionRepository) GetByID(ctx context.Context, id int64) (domain.ImportSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importSessionColumns+` FROM import_sessions WHERE id = $1`, id)
	session, err := scanImportSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportSession{}, ErrSessionNotFound
		}
		return domain.ImportSession{}, wrapErr("get import session", err)
	}
	return session, nil
}

func (r *importSessionRepository) Transition(ctx context.Context, id int64, from []domain.SessionStatus, next domain.SessionStatus) (domain.ImportSession, error) {
	if len(from) == 0 {
		return domain.ImportSession{}, ErrSessionStatusConflict
	}
	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_sessions
		 SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($3)
		 RETURNING `+importSessionColumns,
		id,
		string(next),
		statusStrings(from),
	)
	return r.afterConditionalUpdate(ctx, id, row, "transition import session")
}

func (r *importSessionRepository) UpdateCounts(ctx context.Context, id int64, totalRows int, validRows *int) error {
	valid := pgtype.Int4{}
	if validRows != nil {
		valid = pgtype.Int4{Int32: int32(max(*validRows, 0)), Valid: true}
	}
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE import_sessions SET total_rows = $2, valid_rows = $3, updated_at = NOW() WHERE id = $1`,
		id,
		int32(max(totalRows, 0)),
		valid,
	)
	if err != nil {
		return wrapErr("update import session counts", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *importSessionRepository) UpdateProgress(ctx context.Context, id int64, progress domain.ExecutionProgress) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE import_sessions
		 SET processed_rows = $2, created_count = $3, updated_count = $4,
		     skipped_count = $5, failed_count = $6, updated_at = NOW()
		 WHERE id = $1 AND status = 'executing'`,
		id,
		progress.ProcessedRows,
		progress.Created,
		progress.Updated,
		progress.Skipped,
		progress.Failed,
	)
	if err != nil {
		return wrapErr("update import progress", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionStatusConflict
	}
	return nil
}

func (r *importSessionRepository) MarkCompleted(ctx context.Context, id int64, progress domain.ExecutionProgress) (domain.ImportSession, error) {
	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_sessions
		 SET status = 'completed', processed_rows = $2, created_count = $3, updated_count = $4,
		     skipped_count = $5, failed_count = $6, updated_at = NOW(), completed_at = NOW()
		 WHERE id = $1 AND status = 'executing'
		 RETURNING `+importSessionColumns,
		id,
		progress.ProcessedRows,
		progress.Created,
		progress.Updated,
		progress.Skipped,
		progress.Failed,
	)
	return r.afterConditionalUpdate(ctx, id, row, "mark import session completed")
}

func (r *importSessionRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) (domain.ImportSession, error) {
	msg := pgtype.Text{}
	if errorMessage != "" {
		msg = pgtype.Text{String: errorMessage, Valid: true}
	}
	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_sessions
		 SET status = 'failed', error_message = $2, updated_at = NOW(), completed_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')
		 RETURNING `+importSessionColumns,
		id,
		msg,
	)
	return r.afterConditionalUpdate(ctx, id, row, "mark import session failed")
}

// afterConditionalUpdate distinguishes a missing session from a status mismatch
// when a guarded UPDATE touched no rows.
func (r *importSessionRepository) afterConditionalUpdate(ctx context.Context, id int64, row pgx.Row, op string) (domain.ImportSession, error) {
	session, err := scanImportSession(row)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ImportSession{}, wrapErr(op, err)
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return domain.ImportSession{}, getErr
	}
	return domain.ImportSession{}, fmt.Errorf("%s: %w", op, ErrSessionStatusConflict)
}

func statusStrings(statuses []domain.SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

func scanImportSession(row pgx.Row) (domain.ImportSession, error) {
	var (
		session      domain.ImportSession
		status       string
		totalRows    pgtype.Int4
		validRows    pgtype.Int4
		errorMessage pgtype.Text
		completedAt  pgtype.Timestamptz
	)
	if err := row.Scan(
		&session.ID,
		&status,
		&session.FileName,
		&totalRows,
		&validRows,
		&session.ProcessedRows,
		&session.CreatedCount,
		&session.UpdatedCount,
		&session.SkippedCount,
		&session.FailedCount,
		&errorMessage,
		&session.CreatedAt,
		&session.UpdatedAt,
		&completedAt,
	); err != nil {
		return domain.ImportSession{}, err
	}

	session.Status = domain.SessionStatus(status)
	if totalRows.Valid {
		value := int(totalRows.Int32)
		session.TotalRows = &value
	}
	if validRows.Valid {
		value := int(validRows.Int32)
		session.ValidRows = &value
	}
	if errorMessage.Valid {
		value := errorMessage.String
		session.ErrorMessage = &value
	}
	if completedAt.Valid {
		value := completedAt.Time
		session.CompletedAt = &value
	}
	return session, nil
}
