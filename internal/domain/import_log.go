package domain

import "time"

// ImportLogStage names where in the pipeline a row problem was found.
type ImportLogStage string

const (
	ImportLogStageValidation ImportLogStage = "validation"
	ImportLogStageExecution  ImportLogStage = "execution"
)

// ImportLogEntry captures row level issues that occur during an import.
type ImportLogEntry struct {
	ID           int64          `json:"id"`
	SessionID    int64          `json:"session_id"`
	Stage        ImportLogStage `json:"stage"`
	RowNumber    *int           `json:"row_number,omitempty"`
	ErrorMessage string         `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
}
