package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type importLogRepository struct {
	pool *pgxpool.Pool
}

// NewImportLogRepository wires a repository backed by pgxpool.
func NewImportLogRepository(pool *pgxpool.Pool) ImportLogRepository {
	return &importLogRepository{pool: pool}
}

func (r *importLogRepository) Record(ctx context.Context, entry domain.ImportLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("import log repository not initialized")
	}

	var rowNumber any
	if entry.RowNumber != nil {
		rowNumber = *entry.RowNumber
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_logs (session_id, stage, row_number, error_message)
		 VALUES ($1, $2, $3, $4)`,
		entry.SessionID,
		string(entry.Stage),
		rowNumber,
		entry.ErrorMessage,
	)
	if err != nil {
		return wrapErr("record import log", err)
	}

	return nil
}

func (r *importLogRepository) DeleteStage(ctx context.Context, sessionID int64, stage domain.ImportLogStage) error {
	if r.pool == nil {
		return fmt.Errorf("import log repository not initialized")
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM import_logs WHERE session_id = $1 AND stage = $2`, sessionID, string(stage)); err != nil {
		return wrapErr("delete import logs", err)
	}
	return nil
}

func (r *importLogRepository) List(ctx context.Context, sessionID int64, stage domain.ImportLogStage, limit int, offset int) ([]domain.ImportLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("import log repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, session_id, stage, row_number, error_message, created_at
		 FROM import_logs
		 WHERE session_id = $1
		   AND stage = $2
		 ORDER BY row_number NULLS LAST, id
		 LIMIT $3 OFFSET $4`,
		sessionID,
		string(stage),
		limit,
		offset,
	)
	if err != nil {
		return nil, wrapErr("list import logs", err)
	}
	defer rows.Close()

	logs := []domain.ImportLogEntry{}
	for rows.Next() {
		var (
			entry     domain.ImportLogEntry
			stageText string
			rowNumber pgtype.Int4
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&stageText,
			&rowNumber,
			&entry.ErrorMessage,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", scanErr)
		}

		entry.Stage = domain.ImportLogStage(stageText)
		if rowNumber.Valid {
			value := int(rowNumber.Int32)
			entry.RowNumber = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, wrapErr("iterate import logs", rowsErr)
	}

	return logs, nil
}
