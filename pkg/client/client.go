// Package client is a Go client for the lead import REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rpattn/crmimport/internal/domain"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// DefaultPollInterval is how often WaitForSession polls while a session executes
	DefaultPollInterval = 2 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int                 `json:"-"`
	Detail     string              `json:"detail"`
	Errors     []domain.FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("lead import api: %d %s", e.StatusCode, e.Detail)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, field := range e.Errors {
		parts = append(parts, field.Field+": "+field.Message)
	}
	return fmt.Sprintf("lead import api: %d %s (%s)", e.StatusCode, e.Detail, strings.Join(parts, "; "))
}

// Client calls the lead import endpoints under a base URL such as
// http://localhost:8000/api/v1.
type Client struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: DefaultTimeout},
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload sends a file for analysis. templateName may be empty.
func (c *Client) Upload(ctx context.Context, fileName string, data io.Reader, templateName string) (domain.UploadAnalysis, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return domain.UploadAnalysis{}, err
	}
	if _, err := io.Copy(part, data); err != nil {
		return domain.UploadAnalysis{}, fmt.Errorf("read upload: %w", err)
	}
	if templateName != "" {
		if err := writer.WriteField("template_name", templateName); err != nil {
			return domain.UploadAnalysis{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return domain.UploadAnalysis{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/leads/import/upload", body)
	if err != nil {
		return domain.UploadAnalysis{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var analysis domain.UploadAnalysis
	if err := c.do(req, &analysis); err != nil {
		return domain.UploadAnalysis{}, err
	}
	return analysis, nil
}

func (c *Client) SubmitMapping(ctx context.Context, sessionID int64, submission domain.MappingSubmission) error {
	return c.send(ctx, http.MethodPost, sessionPath(sessionID, "mapping"), submission, nil)
}

func (c *Client) Preview(ctx context.Context, sessionID int64) (domain.PreviewResult, error) {
	var preview domain.PreviewResult
	err := c.send(ctx, http.MethodGet, sessionPath(sessionID, "preview"), nil, &preview)
	return preview, err
}

func (c *Client) Duplicates(ctx context.Context, sessionID int64) (domain.DuplicateReport, error) {
	var report domain.DuplicateReport
	err := c.send(ctx, http.MethodGet, sessionPath(sessionID, "duplicates"), nil, &report)
	return report, err
}

func (c *Client) Execute(ctx context.Context, sessionID int64, decisions map[string]domain.DuplicateAction) error {
	if decisions == nil {
		decisions = map[string]domain.DuplicateAction{}
	}
	req := domain.ExecuteRequest{DuplicateDecisions: decisions}
	return c.send(ctx, http.MethodPost, sessionPath(sessionID, "execute"), req, nil)
}

func (c *Client) Cancel(ctx context.Context, sessionID int64) (domain.ImportSession, error) {
	var session domain.ImportSession
	err := c.send(ctx, http.MethodPost, sessionPath(sessionID, "cancel"), nil, &session)
	return session, err
}

func (c *Client) GetSession(ctx context.Context, sessionID int64) (domain.ImportSession, error) {
	var session domain.ImportSession
	err := c.send(ctx, http.MethodGet, fmt.Sprintf("/leads/import/sessions/%d", sessionID), nil, &session)
	return session, err
}

func (c *Client) ListTemplates(ctx context.Context) ([]domain.MappingTemplate, error) {
	var templates []domain.MappingTemplate
	err := c.send(ctx, http.MethodGet, "/leads/import/templates", nil, &templates)
	return templates, err
}

func (c *Client) DeleteTemplate(ctx context.Context, templateID int64) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/leads/import/templates/%d", templateID), nil, nil)
}

// WaitForSession polls the session until it leaves the executing status.
// onProgress, when set, sees every polled snapshot.
func (c *Client) WaitForSession(ctx context.Context, sessionID int64, onProgress func(domain.ImportSession)) (domain.ImportSession, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		session, err := c.GetSession(ctx, sessionID)
		if err != nil {
			return domain.ImportSession{}, err
		}
		if onProgress != nil {
			onProgress(session)
		}
		if session.Status != domain.SessionStatusExecuting {
			return session, nil
		}
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case <-ticker.C:
		}
	}
}

func sessionPath(sessionID int64, action string) string {
	return fmt.Sprintf("/leads/import/%d/%s", sessionID, url.PathEscape(action))
}

func (c *Client) send(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("lead import request failed", zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.Error(err))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(payload) > MaxResponseSize {
		return fmt.Errorf("response body too large: %d bytes (max %d)", len(payload), MaxResponseSize)
	}
	c.logger.Debug("lead import request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(payload, apiErr); err != nil || apiErr.Detail == "" {
			apiErr.Detail = strings.TrimSpace(string(payload))
			if apiErr.Detail == "" {
				apiErr.Detail = http.StatusText(resp.StatusCode)
			}
		}
		return apiErr
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
