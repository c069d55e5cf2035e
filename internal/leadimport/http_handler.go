package leadimport

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/repository"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string              `json:"detail"`
	Errors []domain.FieldError `json:"errors,omitempty"`
}

// Handler exposes the import service over HTTP.
type Handler struct {
	service        *Service
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewHTTPHandler(service *Service, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, maxUploadBytes: maxUploadBytes, logger: logger}
}

// RegisterRoutes registers the lead import routes
func (h *Handler) RegisterRoutes(g *echo.Group) {
	imports := g.Group("/leads/import")
	imports.POST("/upload", h.Upload)
	imports.GET("/templates", h.ListTemplates)
	imports.DELETE("/templates/:template_id", h.DeleteTemplate)
	imports.GET("/sessions/:session_id", h.GetSession)
	imports.POST("/:session_id/mapping", h.SubmitMapping)
	imports.GET("/:session_id/preview", h.Preview)
	imports.GET("/:session_id/duplicates", h.Duplicates)
	imports.POST("/:session_id/execute", h.Execute)
	imports.POST("/:session_id/cancel", h.Cancel)
}

// Upload handles POST /leads/import/upload
func (h *Handler) Upload(c echo.Context) error {
	req := c.Request()
	tooLarge := domain.NewRequestError(fmt.Sprintf("file exceeds the %d byte upload limit", h.maxUploadBytes))
	if h.maxUploadBytes > 0 {
		if req.ContentLength > h.maxUploadBytes {
			return h.fail(c, tooLarge)
		}
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return h.fail(c, tooLarge)
		}
		return h.fail(c, domain.NewRequestError("multipart field \"file\" is required"))
	}
	file, err := header.Open()
	if err != nil {
		return h.fail(c, domain.NewRequestError(fmt.Sprintf("cannot open upload: %v", err)))
	}
	defer file.Close()

	analysis, err := h.service.Upload(req.Context(), header.Filename, file, c.FormValue("template_name"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, analysis)
}

// SubmitMapping handles POST /leads/import/:session_id/mapping
func (h *Handler) SubmitMapping(c echo.Context) error {
	sessionID, err := pathID(c, "session_id")
	if err != nil {
		return h.fail(c, err)
	}
	var submission domain.MappingSubmission
	if err := c.Bind(&submission); err != nil {
		return h.fail(c, domain.NewRequestError("invalid request body"))
	}
	if err := h.service.SubmitMapping(c.Request().Context(), sessionID, submission); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// Preview handles GET /leads/import/:session_id/preview
func (h *Handler) Preview(c echo.Context) error {
	sessionID, err := pathID(c, "session_id")
	if err != nil {
		return h.fail(c, err)
	}
	preview, err := h.service.Preview(c.Request().Context(), sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, preview)
}

// Duplicates handles GET /leads/import/:session_id/duplicates
func (h *Handler) Duplicates(c echo.Context) error {
	sessionID, err := pathID(c, "session_id")
	if err != nil {
		return h.fail(c, err)
	}
	report, err := h.service.Duplicates(c.Request().Context(), sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// Execute handles POST /leads/import/:session_id/execute
func (h *Handler) Execute(c echo.Context) error {
	sessionID, err := pathID(c, "session_id")
	if err != nil {
		return h.fail(c, err)
	}
	var req domain.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, domain.NewRequestError("invalid request body"))
	}
	if err := h.service.Execute(c.Request().Context(), sessionID, req); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// Cancel handles POST /leads/import/:session_id/cancel
func (h *Handler) Cancel(c echo.Context) error {
	sessionID, err := pathID(c, "session_id")
	if err != nil {
		return h.fail(c, err)
	}
	session, err := h.service.Cancel(c.Request().Context(), sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// GetSession handles GET /leads/import/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	sessionID, err := pathID(c, "session_id")
	if err != nil {
		return h.fail(c, err)
	}
	session, err := h.service.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// ListTemplates handles GET /leads/import/templates
func (h *Handler) ListTemplates(c echo.Context) error {
	templates, err := h.service.ListTemplates(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if templates == nil {
		templates = []domain.MappingTemplate{}
	}
	return c.JSON(http.StatusOK, templates)
}

// DeleteTemplate handles DELETE /leads/import/templates/:template_id
func (h *Handler) DeleteTemplate(c echo.Context) error {
	templateID, err := pathID(c, "template_id")
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.service.DeleteTemplate(c.Request().Context(), templateID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewRequestError(fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}

// fail writes err as an ErrorResponse with the status its kind maps to.
func (h *Handler) fail(c echo.Context, err error) error {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("import request failed",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.Error(err),
		)
	}
	return c.JSON(status, body)
}

func errorResponse(err error) (int, ErrorResponse) {
	var requestErr *domain.RequestError
	var transitionErr *domain.TransitionError
	switch {
	case errors.As(err, &requestErr):
		return http.StatusBadRequest, ErrorResponse{Detail: requestErr.Message, Errors: requestErr.Fields}
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrTemplateNotFound),
		errors.Is(err, repository.ErrLeadNotFound):
		return http.StatusNotFound, ErrorResponse{Detail: err.Error()}
	case errors.Is(err, ErrSessionExpired):
		return http.StatusGone, ErrorResponse{Detail: domain.ExpiredReason}
	case errors.As(err, &transitionErr):
		return http.StatusConflict, ErrorResponse{Detail: transitionErr.Error()}
	case errors.Is(err, repository.ErrSessionStatusConflict):
		return http.StatusConflict, ErrorResponse{Detail: err.Error()}
	case errors.Is(err, repository.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Detail: "storage unavailable"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Detail: "internal server error"}
	}
}

// HTTPErrorHandler renders errors raised outside the handlers, such as
// unknown routes, in the same shape as handler errors.
func HTTPErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			detail := http.StatusText(httpErr.Code)
			if msg, ok := httpErr.Message.(string); ok && msg != "" {
				detail = msg
			}
			_ = c.JSON(httpErr.Code, ErrorResponse{Detail: detail})
			return
		}
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError && logger != nil {
			logger.Error("unhandled request error", zap.Error(err))
		}
		_ = c.JSON(status, body)
	}
}
