package leadimport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/repository"
)

type fakeSessions struct {
	mu        sync.Mutex
	nextID    int64
	sessions  map[int64]domain.ImportSession
	countsErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[int64]domain.ImportSession{}}
}

func (f *fakeSessions) Create(_ context.Context, session domain.ImportSession) (domain.ImportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	session.ID = f.nextID
	session.Status = domain.SessionStatusPending
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id int64) (domain.ImportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return domain.ImportSession{}, repository.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeSessions) Transition(_ context.Context, id int64, from []domain.SessionStatus, next domain.SessionStatus) (domain.ImportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return domain.ImportSession{}, repository.ErrSessionNotFound
	}
	for _, status := range from {
		if session.Status == status {
			session.Status = next
			session.UpdatedAt = time.Now()
			f.sessions[id] = session
			return session, nil
		}
	}
	return domain.ImportSession{}, fmt.Errorf("transition: %w", repository.ErrSessionStatusConflict)
}

func (f *fakeSessions) UpdateCounts(_ context.Context, id int64, totalRows int, validRows *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countsErr != nil {
		return f.countsErr
	}
	session, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	session.TotalRows = &totalRows
	session.ValidRows = validRows
	f.sessions[id] = session
	return nil
}

func (f *fakeSessions) UpdateProgress(_ context.Context, id int64, progress domain.ExecutionProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.Status != domain.SessionStatusExecuting {
		return repository.ErrSessionStatusConflict
	}
	applyProgress(&session, progress)
	f.sessions[id] = session
	return nil
}

func (f *fakeSessions) MarkCompleted(_ context.Context, id int64, progress domain.ExecutionProgress) (domain.ImportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return domain.ImportSession{}, repository.ErrSessionNotFound
	}
	if session.Status != domain.SessionStatusExecuting {
		return domain.ImportSession{}, repository.ErrSessionStatusConflict
	}
	applyProgress(&session, progress)
	now := time.Now()
	session.Status = domain.SessionStatusCompleted
	session.CompletedAt = &now
	f.sessions[id] = session
	return session, nil
}

func (f *fakeSessions) MarkFailed(_ context.Context, id int64, errorMessage string) (domain.ImportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return domain.ImportSession{}, repository.ErrSessionNotFound
	}
	if session.Status.IsTerminal() {
		return domain.ImportSession{}, repository.ErrSessionStatusConflict
	}
	now := time.Now()
	session.Status = domain.SessionStatusFailed
	session.ErrorMessage = &errorMessage
	session.CompletedAt = &now
	f.sessions[id] = session
	return session, nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func applyProgress(session *domain.ImportSession, progress domain.ExecutionProgress) {
	session.ProcessedRows = progress.ProcessedRows
	session.CreatedCount = progress.Created
	session.UpdatedCount = progress.Updated
	session.SkippedCount = progress.Skipped
	session.FailedCount = progress.Failed
	session.UpdatedAt = time.Now()
}

type fakeLeads struct {
	mu        sync.Mutex
	nextID    int64
	leads     map[int64]domain.Lead
	lookupErr error
	// block, when set, holds every Create until the context ends.
	block   bool
	started chan struct{}
}

func newFakeLeads(existing ...domain.Lead) *fakeLeads {
	f := &fakeLeads{nextID: 100, leads: map[int64]domain.Lead{}, started: make(chan struct{}, 16)}
	for _, lead := range existing {
		f.leads[lead.ID] = lead
	}
	return f
}

func (f *fakeLeads) GetByID(_ context.Context, id int64) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrLeadNotFound
	}
	return lead, nil
}

func (f *fakeLeads) FindByEmails(_ context.Context, emails []string) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	wanted := map[string]bool{}
	for _, email := range emails {
		wanted[email] = true
	}
	var out []domain.Lead
	for _, lead := range f.leads {
		if wanted[strings.ToLower(lead.Email)] {
			out = append(out, lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLeads) FindSimilar(context.Context, string, string, int) ([]domain.Lead, error) {
	return nil, nil
}

func (f *fakeLeads) Create(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	if f.block {
		f.started <- struct{}{}
		<-ctx.Done()
		return domain.Lead{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	lead.ID = f.nextID
	f.leads[lead.ID] = lead
	return lead, nil
}

func (f *fakeLeads) Update(_ context.Context, id int64, patch domain.LeadPatch) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrLeadNotFound
	}
	lead = patch.Apply(lead)
	f.leads[id] = lead
	return lead, nil
}

func (f *fakeLeads) byEmail(email string) []domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Lead
	for _, lead := range f.leads {
		if lead.Email == email {
			out = append(out, lead)
		}
	}
	return out
}

type fakeTemplates struct {
	mu        sync.Mutex
	nextID    int64
	templates map[string]domain.MappingTemplate
}

func newFakeTemplates() *fakeTemplates {
	return &fakeTemplates{templates: map[string]domain.MappingTemplate{}}
}

func (f *fakeTemplates) Upsert(_ context.Context, name string, mapping domain.ColumnMapping) (domain.MappingTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	template, ok := f.templates[name]
	if !ok {
		f.nextID++
		template = domain.MappingTemplate{ID: f.nextID, Name: name, CreatedAt: time.Now()}
	}
	template.Mapping = mapping
	template.UpdatedAt = time.Now()
	f.templates[name] = template
	return template, nil
}

func (f *fakeTemplates) GetByName(_ context.Context, name string) (domain.MappingTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	template, ok := f.templates[name]
	if !ok {
		return domain.MappingTemplate{}, repository.ErrTemplateNotFound
	}
	return template, nil
}

func (f *fakeTemplates) List(context.Context) ([]domain.MappingTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MappingTemplate, 0, len(f.templates))
	for _, template := range f.templates {
		out = append(out, template)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeTemplates) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, template := range f.templates {
		if template.ID == id {
			delete(f.templates, name)
			return nil
		}
	}
	return repository.ErrTemplateNotFound
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []domain.ImportLogEntry
}

func (f *fakeLogs) Record(_ context.Context, entry domain.ImportLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLogs) DeleteStage(_ context.Context, sessionID int64, stage domain.ImportLogStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	for _, entry := range f.entries {
		if entry.SessionID != sessionID || entry.Stage != stage {
			kept = append(kept, entry)
		}
	}
	f.entries = kept
	return nil
}

func (f *fakeLogs) List(_ context.Context, sessionID int64, stage domain.ImportLogStage, limit int, offset int) ([]domain.ImportLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ImportLogEntry
	for _, entry := range f.entries {
		if entry.SessionID == sessionID && entry.Stage == stage {
			out = append(out, entry)
		}
	}
	if offset >= len(out) {
		return []domain.ImportLogEntry{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLogs) stage(sessionID int64, stage domain.ImportLogStage) []domain.ImportLogEntry {
	entries, _ := f.List(context.Background(), sessionID, stage, 0, 0)
	return entries
}
