package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/pkg/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunImportDecidesEveryDuplicate(t *testing.T) {
	var executed domain.ExecuteRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /leads/import/upload", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.UploadAnalysis{
			SessionID:         9,
			DetectedColumns:   []string{"Name", "Email", "Notes"},
			SuggestedMappings: map[string]string{"Name": domain.FieldFullName, "Email": domain.FieldEmail},
		})
	})
	mux.HandleFunc("POST /leads/import/9/mapping", func(w http.ResponseWriter, r *http.Request) {
		var submission domain.MappingSubmission
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&submission))
		assert.Equal(t, domain.FieldEmail, submission.Mappings["Email"])
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /leads/import/9/preview", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.PreviewResult{TotalRows: 2, ValidRows: 2})
	})
	mux.HandleFunc("GET /leads/import/9/duplicates", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.DuplicateReport{
			TotalDuplicates:    1,
			ExistingDuplicates: []domain.DuplicateMatch{{MatchKey: "existing:2", ImportRow: 2}},
		})
	})
	mux.HandleFunc("POST /leads/import/9/execute", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&executed))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /leads/import/sessions/9", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.ImportSession{
			ID: 9, Status: domain.SessionStatusCompleted, ProcessedRows: 2, CreatedCount: 1, UpdatedCount: 1,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte("Name,Email,Notes\nAda,ada@x.com,\nGrace,grace@x.com,\n"), 0o600))

	var out bytes.Buffer
	opts := importOptions{onDuplicate: string(domain.DuplicateActionUpdate)}
	c := client.New(server.URL, client.WithPollInterval(time.Millisecond))
	require.NoError(t, runImport(context.Background(), c, path, opts, &out))

	assert.Equal(t, map[string]domain.DuplicateAction{"existing:2": domain.DuplicateActionUpdate}, executed.DuplicateDecisions)
	assert.Contains(t, out.String(), "Notes")
	assert.Contains(t, out.String(), "(ignored)")
	assert.Contains(t, out.String(), "completed: 2 processed, 1 created, 1 updated, 0 skipped, 0 failed")
}

func TestRunImportSubmitsTemplateMergeRules(t *testing.T) {
	var submitted domain.MappingSubmission
	rule := domain.MergeRule{SourceColumns: []string{"First", "Last"}, TargetField: domain.FieldFullName, Separator: " "}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /leads/import/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "split names", r.FormValue("template_name"))
		_ = json.NewEncoder(w).Encode(domain.UploadAnalysis{
			SessionID:               4,
			DetectedColumns:         []string{"First", "Last", "Email", "Notes"},
			SuggestedMappings:       map[string]string{"Email": domain.FieldEmail},
			SuggestedMergeRules:     []domain.MergeRule{rule},
			SuggestedIgnoredColumns: []string{"Notes"},
		})
	})
	mux.HandleFunc("POST /leads/import/4/mapping", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /leads/import/4/preview", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.PreviewResult{TotalRows: 1, ValidRows: 1})
	})
	mux.HandleFunc("GET /leads/import/4/duplicates", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.DuplicateReport{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "split.csv")
	require.NoError(t, os.WriteFile(path, []byte("First,Last,Email,Notes\nAda,Lovelace,ada@x.com,\n"), 0o600))

	var out bytes.Buffer
	opts := importOptions{template: "split names", onDuplicate: string(domain.DuplicateActionSkip), dryRun: true}
	require.NoError(t, runImport(context.Background(), client.New(server.URL), path, opts, &out))

	assert.Equal(t, map[string]string{"Email": domain.FieldEmail}, submitted.Mappings)
	assert.Equal(t, []domain.MergeRule{rule}, submitted.MergeRules)
	assert.Equal(t, []string{"Notes"}, submitted.IgnoredColumns)
	assert.Contains(t, out.String(), "merge into full_name")
}

func TestImportCmdRejectsUnknownAction(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"import", "--on-duplicate", "merge", "leads.csv"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --on-duplicate")
}
