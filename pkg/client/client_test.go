package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadSendsMultipartFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/leads/import/upload", r.URL.Path)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		assert.Equal(t, "leads.csv", header.Filename)
		assert.Equal(t, "name,email\n", string(content))
		assert.Equal(t, "partner", r.FormValue("template_name"))

		_ = json.NewEncoder(w).Encode(domain.UploadAnalysis{SessionID: 42, DetectedColumns: []string{"name", "email"}})
	}))
	defer server.Close()

	c := New(server.URL + "/api/v1/")
	analysis, err := c.Upload(context.Background(), "leads.csv", strings.NewReader("name,email\n"), "partner")
	require.NoError(t, err)
	assert.Equal(t, int64(42), analysis.SessionID)
	assert.Equal(t, []string{"name", "email"}, analysis.DetectedColumns)
}

func TestErrorsDecodeDetailAndFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads/import/7/execute", r.URL.Path)
		var req domain.ExecuteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotNil(t, req.DuplicateDecisions)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"duplicate_decisions must cover every reported duplicate","errors":[{"field":"existing:1","error":"decision is required"}]}`))
	}))
	defer server.Close()

	err := New(server.URL).Execute(context.Background(), 7, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, []domain.FieldError{{Field: "existing:1", Message: "decision is required"}}, apiErr.Errors)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.Contains(t, err.Error(), "existing:1: decision is required")
}

func TestNonJSONErrorFallsBackToBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL).GetSession(context.Background(), 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Detail)
}

func TestWaitForSessionPollsWhileExecuting(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads/import/sessions/3", r.URL.Path)
		status := domain.SessionStatusExecuting
		if calls.Add(1) >= 3 {
			status = domain.SessionStatusCompleted
		}
		_ = json.NewEncoder(w).Encode(domain.ImportSession{ID: 3, Status: status, ProcessedRows: int(calls.Load())})
	}))
	defer server.Close()

	var snapshots []domain.ImportSession
	c := New(server.URL, WithPollInterval(5*time.Millisecond))
	session, err := c.WaitForSession(context.Background(), 3, func(s domain.ImportSession) {
		snapshots = append(snapshots, s)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, session.Status)
	assert.Len(t, snapshots, 3)
}

func TestWaitForSessionStopsOnContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.ImportSession{ID: 3, Status: domain.SessionStatusExecuting})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(server.URL, WithPollInterval(5*time.Millisecond)).WaitForSession(ctx, 3, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
