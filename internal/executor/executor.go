// Package executor commits normalized import rows according to the caller's
// duplicate decisions.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/repository"

	"go.uber.org/zap"
)

// DefaultProgressEvery is how many rows pass between progress reports.
const DefaultProgressEvery = 25

// LeadWriter persists leads.
type LeadWriter interface {
	Create(ctx context.Context, lead domain.Lead) (domain.Lead, error)
	Update(ctx context.Context, id int64, patch domain.LeadPatch) (domain.Lead, error)
}

// Hooks receive execution side effects. Errors returned from hooks abort the run.
type Hooks struct {
	OnProgress func(ctx context.Context, progress domain.ExecutionProgress) error
	OnFailure  func(ctx context.Context, failure domain.RowFailure) error
	OnRow      func(outcome Outcome)
}

// Outcome is what happened to a single row.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Executor applies decisions row by row. Each row is one statement, so a row
// either commits completely or not at all.
type Executor struct {
	leads         LeadWriter
	progressEvery int
	logger        *zap.Logger
}

// New builds an executor. A non-positive progressEvery uses DefaultProgressEvery.
func New(leads LeadWriter, progressEvery int, logger *zap.Logger) *Executor {
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{leads: leads, progressEvery: progressEvery, logger: logger}
}

type rowPlan struct {
	action   domain.DuplicateAction
	targetID int64
	group    *domain.InFileGroup
}

// Run processes rows in order. Row failures are collected and processing
// continues; storage outages and context cancellation abort the run with an
// error, returning the progress made so far.
func (e *Executor) Run(ctx context.Context, rows []domain.NormalizedRow, report domain.DuplicateReport, decisions map[string]domain.DuplicateAction, hooks Hooks) (domain.ExecutionResult, error) {
	result := domain.ExecutionResult{Failures: []domain.RowFailure{}}
	plans := buildPlans(report, decisions)
	groupRecords := make(map[string]int64)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		plan := plans[row.Row]
		outcome, leadID, err := e.applyRow(ctx, row, plan, decisions, groupRecords)
		if err != nil {
			if isFatal(ctx, err) {
				return result, err
			}
			outcome = OutcomeFailed
			failure := domain.RowFailure{Row: row.Row, Error: err.Error()}
			result.Failures = append(result.Failures, failure)
			e.logger.Warn("import row failed", zap.Int("row", row.Row), zap.Error(err))
			if hooks.OnFailure != nil {
				if hookErr := hooks.OnFailure(ctx, failure); hookErr != nil {
					return result, fmt.Errorf("record row failure: %w", hookErr)
				}
			}
		}

		if plan.group != nil && leadID != 0 {
			if _, ok := groupRecords[plan.group.MatchKey]; !ok {
				groupRecords[plan.group.MatchKey] = leadID
			}
		}

		result.ProcessedRows++
		switch outcome {
		case OutcomeCreated:
			result.Created++
		case OutcomeUpdated:
			result.Updated++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}
		if hooks.OnRow != nil {
			hooks.OnRow(outcome)
		}

		if hooks.OnProgress != nil && (i+1)%e.progressEvery == 0 && i+1 < len(rows) {
			if err := hooks.OnProgress(ctx, result.ExecutionProgress); err != nil {
				return result, fmt.Errorf("report progress: %w", err)
			}
		}
	}

	return result, nil
}

// applyRow commits one row and returns the id of the lead it produced, if any.
func (e *Executor) applyRow(ctx context.Context, row domain.NormalizedRow, plan rowPlan, decisions map[string]domain.DuplicateAction, groupRecords map[string]int64) (Outcome, int64, error) {
	if plan.group != nil && plan.group.Rows[0] != row.Row {
		switch decisions[plan.group.MatchKey] {
		case domain.DuplicateActionSkip:
			return OutcomeSkipped, 0, nil
		case domain.DuplicateActionUpdate:
			if target, ok := groupRecords[plan.group.MatchKey]; ok {
				updated, err := e.leads.Update(ctx, target, row.Lead.Patch())
				if err != nil {
					return OutcomeFailed, 0, fmt.Errorf("update lead %d: %w", target, err)
				}
				return OutcomeUpdated, updated.ID, nil
			}
		}
	}

	switch plan.action {
	case domain.DuplicateActionSkip:
		return OutcomeSkipped, 0, nil
	case domain.DuplicateActionUpdate:
		updated, err := e.leads.Update(ctx, plan.targetID, row.Lead.Patch())
		if err != nil {
			return OutcomeFailed, 0, fmt.Errorf("update lead %d: %w", plan.targetID, err)
		}
		return OutcomeUpdated, updated.ID, nil
	default:
		created, err := e.leads.Create(ctx, row.Lead.ToLead())
		if err != nil {
			return OutcomeFailed, 0, fmt.Errorf("create lead: %w", err)
		}
		return OutcomeCreated, created.ID, nil
	}
}

func buildPlans(report domain.DuplicateReport, decisions map[string]domain.DuplicateAction) map[int]rowPlan {
	plans := make(map[int]rowPlan)
	for _, match := range report.ExistingDuplicates {
		plans[match.ImportRow] = rowPlan{action: decisions[match.MatchKey], targetID: match.ExistingLead.ID}
	}
	for _, match := range report.SmartMatches {
		plans[match.ImportRow] = rowPlan{action: decisions[match.MatchKey], targetID: match.ExistingLead.ID}
	}
	for i := range report.InFileDuplicates {
		group := &report.InFileDuplicates[i]
		for _, member := range group.Rows {
			plan := plans[member]
			plan.group = group
			plans[member] = plan
		}
	}
	return plans
}

func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, repository.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
