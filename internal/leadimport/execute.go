package leadimport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/executor"
	"github.com/rpattn/crmimport/internal/metrics"
	"github.com/rpattn/crmimport/internal/repository"

	"go.uber.org/zap"
)

var (
	errCancelled        = errors.New(domain.CancelledReason)
	errExecutionTimeout = errors.New("execution timed out")
	errShuttingDown     = errors.New("interrupted by shutdown")
)

type executionJob struct {
	sessionID int64
	rows      []domain.NormalizedRow
	report    domain.DuplicateReport
	decisions map[string]domain.DuplicateAction
}

// Execute validates the decisions and starts committing the valid rows in the
// background. Repeating it while the session executes or after it completed
// is a no-op.
func (s *Service) Execute(ctx context.Context, sessionID int64, req domain.ExecuteRequest) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch session.Status {
	case domain.SessionStatusExecuting, domain.SessionStatusCompleted:
		return nil
	case domain.SessionStatusPreviewing:
	default:
		return &domain.TransitionError{From: session.Status, To: domain.SessionStatusExecuting}
	}

	ws, err := s.loadWorkspace(ctx, session)
	if err != nil {
		return err
	}
	if ws.Mapping == nil {
		return &domain.TransitionError{From: domain.SessionStatusMapping, To: domain.SessionStatusExecuting}
	}

	rows := s.normalizer.Run(ws.Table, *ws.Mapping).Valid
	report := domain.DuplicateReport{}
	if ws.Duplicates != nil {
		report = *ws.Duplicates
	} else {
		report, err = s.detector.Detect(ctx, s.emailLookup(ctx), rows)
		if err != nil {
			if ctx.Err() == nil {
				s.failSession(context.WithoutCancel(ctx), sessionID, err)
			}
			return fmt.Errorf("detect duplicates: %w", err)
		}
	}
	if err := executor.ValidateDecisions(report, req.DuplicateDecisions); err != nil {
		return err
	}

	if _, err := s.transition(ctx, sessionID, domain.SessionStatusExecuting); err != nil {
		var transitionErr *domain.TransitionError
		if errors.As(err, &transitionErr) && (transitionErr.From == domain.SessionStatusExecuting || transitionErr.From == domain.SessionStatusCompleted) {
			return nil
		}
		return err
	}

	decisions := make(map[string]domain.DuplicateAction, len(req.DuplicateDecisions))
	for key, action := range req.DuplicateDecisions {
		decisions[key] = action
	}
	s.launchWorker(executionJob{sessionID: sessionID, rows: rows, report: report, decisions: decisions})
	s.logger.Info("import execution started",
		zap.Int64("session_id", sessionID),
		zap.Int("rows", len(rows)),
		zap.Int("decisions", len(decisions)),
	)
	return nil
}

// Cancel stops an executing session and marks it failed. Rows already
// committed stay committed.
func (s *Service) Cancel(ctx context.Context, sessionID int64) (domain.ImportSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.ImportSession{}, err
	}
	if session.Status != domain.SessionStatusExecuting {
		return domain.ImportSession{}, &domain.TransitionError{From: session.Status, To: domain.SessionStatusFailed}
	}

	failed, err := s.sessions.MarkFailed(ctx, sessionID, domain.CancelledReason)
	if err != nil {
		if errors.Is(err, repository.ErrSessionStatusConflict) {
			current, getErr := s.sessions.GetByID(ctx, sessionID)
			if getErr != nil {
				return domain.ImportSession{}, getErr
			}
			return domain.ImportSession{}, &domain.TransitionError{From: current.Status, To: domain.SessionStatusFailed}
		}
		return domain.ImportSession{}, err
	}
	if value, ok := s.workerCancels.Load(sessionID); ok {
		if cancel, ok := value.(context.CancelCauseFunc); ok {
			cancel(errCancelled)
		}
	}
	_ = s.workspaces.Delete(ctx, sessionID)
	s.finished(ctx, failed, "cancelled")
	s.logger.Info("import execution cancelled", zap.Int64("session_id", sessionID))
	return failed, nil
}

// Shutdown interrupts running executions and waits for their workers to
// record the outcome, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.workerCancels.Range(func(_, value any) bool {
		if cancel, ok := value.(context.CancelCauseFunc); ok {
			cancel(errShuttingDown)
		}
		return true
	})
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) launchWorker(job executionJob) {
	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	ctx := baseCtx
	cancelFunc := baseCancel
	if s.executeTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeoutCause(baseCtx, s.executeTimeout, errExecutionTimeout)
		ctx = timeoutCtx
		cancelFunc = func(cause error) {
			baseCancel(cause)
			timeoutCancel()
		}
	}

	s.workerCancels.Store(job.sessionID, cancelFunc)
	s.workers.Add(1)
	metrics.ExecutionsInFlight.Inc()

	go func() {
		started := time.Now()
		defer func() {
			cancelFunc(nil)
			s.workerCancels.Delete(job.sessionID)
			metrics.ExecutionsInFlight.Dec()
			metrics.ExecutionDuration.Observe(time.Since(started).Seconds())
			s.workers.Done()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("execution panic: %v", rec)
				s.logger.Error("import execution panicked", zap.Int64("session_id", job.sessionID), zap.Any("panic", rec))
				s.failSession(context.Background(), job.sessionID, err)
			}
		}()

		if err := s.runExecution(ctx, job); err != nil {
			cause := context.Cause(ctx)
			switch {
			case errors.Is(cause, errCancelled):
				s.logger.Info("import execution stopped after cancel", zap.Int64("session_id", job.sessionID))
			case errors.Is(cause, errExecutionTimeout):
				s.failSession(context.Background(), job.sessionID, errExecutionTimeout)
			case errors.Is(cause, errShuttingDown):
				s.failSession(context.Background(), job.sessionID, errShuttingDown)
			case errors.Is(err, repository.ErrSessionStatusConflict):
				s.logger.Info("import session left executing while running", zap.Int64("session_id", job.sessionID))
			default:
				s.logger.Error("import execution failed", zap.Int64("session_id", job.sessionID), zap.Error(err))
				s.failSession(context.Background(), job.sessionID, err)
			}
		}
	}()
}

func (s *Service) runExecution(ctx context.Context, job executionJob) error {
	hooks := executor.Hooks{
		OnProgress: func(ctx context.Context, progress domain.ExecutionProgress) error {
			return s.sessions.UpdateProgress(ctx, job.sessionID, progress)
		},
		OnFailure: func(ctx context.Context, failure domain.RowFailure) error {
			row := failure.Row
			return s.logs.Record(ctx, domain.ImportLogEntry{
				SessionID:    job.sessionID,
				Stage:        domain.ImportLogStageExecution,
				RowNumber:    &row,
				ErrorMessage: failure.Error,
			})
		},
		OnRow: func(outcome executor.Outcome) {
			metrics.RowsProcessedTotal.WithLabelValues(string(outcome)).Inc()
		},
	}

	result, err := s.executor.Run(ctx, job.rows, job.report, job.decisions, hooks)
	if err != nil {
		return err
	}

	completed, err := s.sessions.MarkCompleted(ctx, job.sessionID, result.ExecutionProgress)
	if err != nil {
		if errors.Is(err, repository.ErrSessionStatusConflict) {
			s.logger.Info("import session left executing before completion", zap.Int64("session_id", job.sessionID))
			return nil
		}
		return fmt.Errorf("mark import session completed: %w", err)
	}
	if err := s.workspaces.Delete(ctx, job.sessionID); err != nil {
		s.logger.Warn("failed to delete workspace", zap.Int64("session_id", job.sessionID), zap.Error(err))
	}
	s.finished(ctx, completed, "done")
	s.logger.Info("import execution completed",
		zap.Int64("session_id", job.sessionID),
		zap.Int("processed_rows", result.ProcessedRows),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return nil
}
