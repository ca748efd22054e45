// Package v1 provides the HTTP handlers for the chat orchestrator.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/linggo/orchestrator/internal/domain"
	"github.com/linggo/orchestrator/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions", h.StartSession)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.POST("/v1/sessions/:session_id/complete", h.CompleteSession)
	e.POST("/v1/sessions/:session_id/messages", h.SubmitMessage)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)

	e.GET("/v1/scenarios", h.ListScenarios)
	e.GET("/v1/scenarios/:scenario_id/stats", h.GetScenarioStats)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

type errorBody struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

// writeError maps a domain error kind onto an HTTP status and a
// machine-readable body.
func writeError(c echo.Context, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = &domain.Error{Kind: domain.KindPersistence, Message: "internal error"}
	}

	status := http.StatusInternalServerError
	switch de.Kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindPolicyRejected:
		status = http.StatusUnprocessableEntity
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindGenerationFailure, domain.KindGenerationTimeout:
		status = http.StatusBadGateway
	}

	return c.JSON(status, map[string]errorBody{"error": {
		Kind:    de.Kind,
		Message: de.Message,
		Field:   de.Field,
	}})
}
