// Package leadimport drives an import session from upload to execution.
package leadimport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rpattn/crmimport/internal/dedupe"
	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/events"
	"github.com/rpattn/crmimport/internal/executor"
	"github.com/rpattn/crmimport/internal/ingestion"
	"github.com/rpattn/crmimport/internal/leadloader"
	"github.com/rpattn/crmimport/internal/mapping"
	"github.com/rpattn/crmimport/internal/metrics"
	"github.com/rpattn/crmimport/internal/middleware"
	"github.com/rpattn/crmimport/internal/normalize"
	"github.com/rpattn/crmimport/internal/repository"
	"github.com/rpattn/crmimport/internal/workspace"
	"github.com/rpattn/crmimport/pkg/validator"

	"go.uber.org/zap"
)

var (
	// ErrSessionExpired is returned when a session's working state is gone.
	ErrSessionExpired = errors.New("import session expired")
)

const (
	defaultSampleRows     = 5
	defaultExecuteTimeout = 30 * time.Minute
	failureListLimit      = 1000
)

// Service owns import sessions and their transitions.
type Service struct {
	sessions   repository.ImportSessionRepository
	leads      repository.LeadRepository
	templates  repository.MappingTemplateRepository
	logs       repository.ImportLogRepository
	workspaces workspace.Store
	publisher  events.Publisher
	logger     *zap.Logger

	sampleRows     int
	sampleSize     int
	threshold      float64
	candidates     int
	progressEvery  int
	sessionTTL     time.Duration
	executeTimeout time.Duration
	now            func() time.Time

	normalizer *normalize.Normalizer
	detector   *dedupe.Detector
	executor   *executor.Executor

	locks         keyedMutex
	workerCancels sync.Map // map[int64]context.CancelCauseFunc
	workers       sync.WaitGroup
}

type Option func(*Service)

// WithSampleRows sets how many raw rows the upload analysis returns.
func WithSampleRows(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sampleRows = n
		}
	}
}

// WithSampleSize sets how many normalized leads a preview returns.
func WithSampleSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sampleSize = n
		}
	}
}

func WithSmartMatch(threshold float64, candidates int) Option {
	return func(s *Service) {
		if threshold > 0 && threshold <= 1 {
			s.threshold = threshold
		}
		if candidates > 0 {
			s.candidates = candidates
		}
	}
}

func WithProgressEvery(rows int) Option {
	return func(s *Service) {
		if rows > 0 {
			s.progressEvery = rows
		}
	}
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func WithExecuteTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.executeTimeout = timeout
		}
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(
	sessions repository.ImportSessionRepository,
	leads repository.LeadRepository,
	templates repository.MappingTemplateRepository,
	logs repository.ImportLogRepository,
	workspaces workspace.Store,
	opts ...Option,
) *Service {
	service := &Service{
		sessions:       sessions,
		leads:          leads,
		templates:      templates,
		logs:           logs,
		workspaces:     workspaces,
		publisher:      events.NoopPublisher{},
		logger:         zap.NewNop(),
		sampleRows:     defaultSampleRows,
		sampleSize:     normalize.DefaultSampleSize,
		threshold:      dedupe.DefaultThreshold,
		candidates:     dedupe.DefaultCandidates,
		progressEvery:  executor.DefaultProgressEvery,
		sessionTTL:     workspace.DefaultTTL,
		executeTimeout: defaultExecuteTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	service.normalizer = normalize.NewNormalizer(validator.NewFieldValidator(), service.sampleSize)
	service.detector = dedupe.NewDetector(leads, dedupe.Options{
		Threshold:  service.threshold,
		Candidates: service.candidates,
	}, service.logger.Named("dedupe"))
	service.executor = executor.New(leads, service.progressEvery, service.logger.Named("executor"))
	return service
}

// Upload parses a file, opens a session for it, and suggests a mapping.
// templateName, when set, seeds the suggestions from a saved template.
func (s *Service) Upload(ctx context.Context, fileName string, data io.Reader, templateName string) (domain.UploadAnalysis, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return domain.UploadAnalysis{}, domain.NewRequestError("file name is required")
	}
	if _, err := ingestion.DetectFormat(fileName); err != nil {
		return domain.UploadAnalysis{}, domain.NewRequestError(err.Error())
	}

	var template *domain.MappingTemplate
	if name := strings.TrimSpace(templateName); name != "" {
		found, err := s.templates.GetByName(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrTemplateNotFound) {
				return domain.UploadAnalysis{}, domain.NewRequestError("unknown mapping template",
					domain.FieldError{Field: "template_name", Message: fmt.Sprintf("no template named %q", name)})
			}
			return domain.UploadAnalysis{}, fmt.Errorf("load mapping template: %w", err)
		}
		template = &found
	}

	session, err := s.sessions.Create(ctx, domain.NewImportSession(fileName))
	if err != nil {
		return domain.UploadAnalysis{}, fmt.Errorf("create import session: %w", err)
	}
	logger := s.logger.With(zap.Int64("session_id", session.ID), zap.String("file_name", fileName))

	if _, err := s.transition(ctx, session.ID, domain.SessionStatusAnalyzing); err != nil {
		return domain.UploadAnalysis{}, err
	}

	table, err := ingestion.Read(fileName, data)
	if err != nil {
		logger.Info("upload rejected", zap.Error(err))
		s.failSession(context.WithoutCancel(ctx), session.ID, err)
		return domain.UploadAnalysis{}, domain.NewRequestError(err.Error())
	}

	suggested := domain.ColumnMapping{}
	if template != nil {
		suggested = mapping.FromTemplate(table.Columns, template.Mapping)
	} else {
		suggested.Mappings = mapping.Suggest(table.Columns)
	}

	if err := s.workspaces.Save(ctx, workspace.Workspace{
		SessionID: session.ID,
		FileName:  fileName,
		Table:     table,
		Suggested: suggested.Mappings,
	}); err != nil {
		s.failSession(context.WithoutCancel(ctx), session.ID, err)
		return domain.UploadAnalysis{}, fmt.Errorf("save workspace: %w", err)
	}
	if err := s.sessions.UpdateCounts(ctx, session.ID, len(table.Rows), nil); err != nil {
		s.failSession(context.WithoutCancel(ctx), session.ID, err)
		return domain.UploadAnalysis{}, fmt.Errorf("record row count: %w", err)
	}
	if _, err := s.transition(ctx, session.ID, domain.SessionStatusMapping); err != nil {
		s.failSession(context.WithoutCancel(ctx), session.ID, err)
		return domain.UploadAnalysis{}, err
	}

	metrics.UploadsTotal.WithLabelValues(string(table.Format)).Inc()
	metrics.UploadRows.Observe(float64(len(table.Rows)))
	logger.Info("upload analyzed", zap.Int("rows", len(table.Rows)), zap.Int("columns", len(table.Columns)))

	return domain.UploadAnalysis{
		SessionID:               session.ID,
		DetectedColumns:         table.Columns,
		SuggestedMappings:       suggested.Mappings,
		SuggestedMergeRules:     suggested.MergeRules,
		SuggestedIgnoredColumns: suggested.IgnoredColumns,
		SampleRows:              table.Sample(s.sampleRows),
		AvailableCRMFields:      append([]string{}, domain.CRMFields...),
	}, nil
}

// SubmitMapping validates and stores a mapping, optionally saving it as a
// template. Any previously computed duplicate report is discarded.
func (s *Service) SubmitMapping(ctx context.Context, sessionID int64, submission domain.MappingSubmission) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionStatusMapping && session.Status != domain.SessionStatusPreviewing {
		return &domain.TransitionError{From: session.Status, To: domain.SessionStatusPreviewing}
	}

	ws, err := s.loadWorkspace(ctx, session)
	if err != nil {
		return err
	}
	accepted, err := mapping.Accept(ws.Table.Columns, submission)
	if err != nil {
		return err
	}

	if submission.SaveAsTemplate {
		name := strings.TrimSpace(*submission.TemplateName)
		if _, err := s.templates.Upsert(ctx, name, accepted); err != nil {
			return fmt.Errorf("save mapping template: %w", err)
		}
	}

	ws.Mapping = &accepted
	ws.Duplicates = nil
	if err := s.workspaces.Save(ctx, ws); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}

	if session.Status == domain.SessionStatusPreviewing {
		if _, err := s.transition(ctx, sessionID, domain.SessionStatusMapping); err != nil {
			return err
		}
	}
	if _, err := s.transition(ctx, sessionID, domain.SessionStatusPreviewing); err != nil {
		return err
	}
	s.logger.Info("mapping accepted",
		zap.Int64("session_id", sessionID),
		zap.Int("mapped_columns", len(accepted.Mappings)),
		zap.Int("merge_rules", len(accepted.MergeRules)),
		zap.Int("ignored_columns", len(accepted.IgnoredColumns)),
	)
	return nil
}

// Preview normalizes every row under the stored mapping and records the
// validation errors found.
func (s *Service) Preview(ctx context.Context, sessionID int64) (domain.PreviewResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, ws, err := s.previewingWorkspace(ctx, sessionID)
	if err != nil {
		return domain.PreviewResult{}, err
	}

	result := s.normalizer.Run(ws.Table, *ws.Mapping)
	valid := result.Preview.ValidRows
	if err := s.sessions.UpdateCounts(ctx, session.ID, result.Preview.TotalRows, &valid); err != nil {
		return domain.PreviewResult{}, fmt.Errorf("record row counts: %w", err)
	}
	if err := s.replaceValidationLog(ctx, session.ID, result.Preview.ValidationErrors); err != nil {
		return domain.PreviewResult{}, err
	}
	return result.Preview, nil
}

// Duplicates reports existing, fuzzy, and in-file duplicates of the valid rows.
// A storage failure while matching fails the session.
func (s *Service) Duplicates(ctx context.Context, sessionID int64) (domain.DuplicateReport, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, ws, err := s.previewingWorkspace(ctx, sessionID)
	if err != nil {
		return domain.DuplicateReport{}, err
	}

	rows := s.normalizer.Run(ws.Table, *ws.Mapping).Valid
	report, err := s.detector.Detect(ctx, s.emailLookup(ctx), rows)
	if err != nil {
		if ctx.Err() == nil {
			s.failSession(context.WithoutCancel(ctx), session.ID, err)
		}
		return domain.DuplicateReport{}, fmt.Errorf("detect duplicates: %w", err)
	}

	ws.Duplicates = &report
	if err := s.workspaces.Save(ctx, ws); err != nil {
		return domain.DuplicateReport{}, fmt.Errorf("save workspace: %w", err)
	}

	metrics.DuplicatesFoundTotal.WithLabelValues(domain.MatchKindExisting).Add(float64(len(report.ExistingDuplicates)))
	metrics.DuplicatesFoundTotal.WithLabelValues(domain.MatchKindSmart).Add(float64(len(report.SmartMatches)))
	metrics.DuplicatesFoundTotal.WithLabelValues(domain.MatchKindInFile).Add(float64(len(report.InFileDuplicates)))
	s.logger.Info("duplicates detected",
		zap.Int64("session_id", session.ID),
		zap.Int("existing", len(report.ExistingDuplicates)),
		zap.Int("smart", len(report.SmartMatches)),
		zap.Int("in_file", len(report.InFileDuplicates)),
	)
	return report, nil
}

// GetSession returns the session with its execution failures. A session
// idle past its TTL is failed first.
func (s *Service) GetSession(ctx context.Context, sessionID int64) (domain.ImportSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.ImportSession{}, err
	}
	session, err = s.expireIfStale(ctx, session)
	if err != nil && !errors.Is(err, ErrSessionExpired) {
		return domain.ImportSession{}, err
	}

	switch session.Status {
	case domain.SessionStatusExecuting, domain.SessionStatusCompleted, domain.SessionStatusFailed:
		failures, err := s.failures(ctx, session.ID)
		if err != nil {
			return domain.ImportSession{}, err
		}
		session.Failures = failures
	}
	return session, nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]domain.MappingTemplate, error) {
	return s.templates.List(ctx)
}

func (s *Service) DeleteTemplate(ctx context.Context, templateID int64) error {
	return s.templates.Delete(ctx, templateID)
}

func (s *Service) failures(ctx context.Context, sessionID int64) ([]domain.RowFailure, error) {
	entries, err := s.logs.List(ctx, sessionID, domain.ImportLogStageExecution, failureListLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("list execution failures: %w", err)
	}
	failures := make([]domain.RowFailure, 0, len(entries))
	for _, entry := range entries {
		failure := domain.RowFailure{Error: entry.ErrorMessage}
		if entry.RowNumber != nil {
			failure.Row = *entry.RowNumber
		}
		failures = append(failures, failure)
	}
	return failures, nil
}

func (s *Service) replaceValidationLog(ctx context.Context, sessionID int64, errs []domain.ValidationError) error {
	if err := s.logs.DeleteStage(ctx, sessionID, domain.ImportLogStageValidation); err != nil {
		return fmt.Errorf("clear validation log: %w", err)
	}
	for _, validationErr := range errs {
		row := validationErr.Row
		entry := domain.ImportLogEntry{
			SessionID:    sessionID,
			Stage:        domain.ImportLogStageValidation,
			RowNumber:    &row,
			ErrorMessage: fmt.Sprintf("%s: %s", validationErr.Field, validationErr.Error),
		}
		if err := s.logs.Record(ctx, entry); err != nil {
			return fmt.Errorf("record validation log: %w", err)
		}
	}
	return nil
}

// emailLookup prefers the request-scoped loader so concurrent lookups batch.
func (s *Service) emailLookup(ctx context.Context) dedupe.EmailLookup {
	if loader := middleware.LeadLoaderFromContext(ctx); loader != nil {
		return loader
	}
	return leadloader.NewLeadLoader(s.leads)
}

// activeSession loads a session, failing it first when it has gone stale.
func (s *Service) activeSession(ctx context.Context, sessionID int64) (domain.ImportSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.ImportSession{}, err
	}
	return s.expireIfStale(ctx, session)
}

func (s *Service) previewingWorkspace(ctx context.Context, sessionID int64) (domain.ImportSession, workspace.Workspace, error) {
	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return domain.ImportSession{}, workspace.Workspace{}, err
	}
	if session.Status != domain.SessionStatusPreviewing {
		return domain.ImportSession{}, workspace.Workspace{}, &domain.TransitionError{From: session.Status, To: domain.SessionStatusPreviewing}
	}
	ws, err := s.loadWorkspace(ctx, session)
	if err != nil {
		return domain.ImportSession{}, workspace.Workspace{}, err
	}
	if ws.Mapping == nil {
		return domain.ImportSession{}, workspace.Workspace{}, &domain.TransitionError{From: domain.SessionStatusMapping, To: domain.SessionStatusPreviewing}
	}
	// Touch the session so its idle clock follows the workspace TTL.
	touched, err := s.sessions.Transition(ctx, sessionID, []domain.SessionStatus{domain.SessionStatusPreviewing}, domain.SessionStatusPreviewing)
	if err != nil {
		if errors.Is(err, repository.ErrSessionStatusConflict) {
			return domain.ImportSession{}, workspace.Workspace{}, &domain.TransitionError{From: session.Status, To: domain.SessionStatusPreviewing}
		}
		return domain.ImportSession{}, workspace.Workspace{}, err
	}
	return touched, ws, nil
}

// loadWorkspace returns the session's workspace, failing the session when
// the workspace has expired.
func (s *Service) loadWorkspace(ctx context.Context, session domain.ImportSession) (workspace.Workspace, error) {
	ws, err := s.workspaces.Load(ctx, session.ID)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, workspace.ErrWorkspaceNotFound) {
		return workspace.Workspace{}, fmt.Errorf("load workspace: %w", err)
	}
	s.expire(ctx, session.ID)
	return workspace.Workspace{}, ErrSessionExpired
}

// expireIfStale fails a non-terminal session idle for longer than the TTL.
// A session executing in this process is never stale.
func (s *Service) expireIfStale(ctx context.Context, session domain.ImportSession) (domain.ImportSession, error) {
	if session.Status.IsTerminal() {
		return session, nil
	}
	if _, running := s.workerCancels.Load(session.ID); running {
		return session, nil
	}
	if s.now().Sub(session.UpdatedAt) <= s.sessionTTL {
		return session, nil
	}
	if expired, ok := s.expire(ctx, session.ID); ok {
		return expired, ErrSessionExpired
	}
	current, err := s.sessions.GetByID(ctx, session.ID)
	if err != nil {
		return domain.ImportSession{}, err
	}
	return current, ErrSessionExpired
}

func (s *Service) expire(ctx context.Context, sessionID int64) (domain.ImportSession, bool) {
	expired, err := s.sessions.MarkFailed(ctx, sessionID, domain.ExpiredReason)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionStatusConflict) {
			s.logger.Warn("failed to expire import session", zap.Int64("session_id", sessionID), zap.Error(err))
		}
		return domain.ImportSession{}, false
	}
	_ = s.workspaces.Delete(ctx, sessionID)
	s.finished(ctx, expired, "expired")
	return expired, true
}

// transition moves a session to next from whichever statuses may reach it.
// A status mismatch is reported as a TransitionError naming the current status.
func (s *Service) transition(ctx context.Context, sessionID int64, next domain.SessionStatus) (domain.ImportSession, error) {
	updated, err := s.sessions.Transition(ctx, sessionID, domain.TransitionSources(next), next)
	if err == nil {
		s.publish(ctx, updated)
		return updated, nil
	}
	if !errors.Is(err, repository.ErrSessionStatusConflict) {
		return domain.ImportSession{}, err
	}
	current, getErr := s.sessions.GetByID(ctx, sessionID)
	if getErr != nil {
		return domain.ImportSession{}, getErr
	}
	return domain.ImportSession{}, &domain.TransitionError{From: current.Status, To: next}
}

func (s *Service) failSession(ctx context.Context, sessionID int64, cause error) {
	failed, err := s.sessions.MarkFailed(ctx, sessionID, truncateError(cause))
	if err != nil {
		s.logger.Warn("failed to mark import session failed",
			zap.Int64("session_id", sessionID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	_ = s.workspaces.Delete(ctx, sessionID)
	s.finished(ctx, failed, "error")
}

// finished records a session reaching a terminal status.
func (s *Service) finished(ctx context.Context, session domain.ImportSession, reason string) {
	metrics.SessionsFinishedTotal.WithLabelValues(string(session.Status), reason).Inc()
	s.publish(ctx, session)
}

func (s *Service) publish(ctx context.Context, session domain.ImportSession) {
	if err := s.publisher.PublishSession(ctx, session); err != nil {
		s.logger.Warn("failed to publish session event",
			zap.Int64("session_id", session.ID),
			zap.String("status", string(session.Status)),
			zap.Error(err),
		)
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToValidUTF8(err.Error(), "")
	const maxLen = 512
	if len(msg) <= maxLen {
		return msg
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
