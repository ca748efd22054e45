package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/linggo/orchestrator/internal/domain"
)

// SubmitMessage submits one user utterance and returns the persisted pair.
// POST /v1/sessions/:session_id/messages
func (h *Handler) SubmitMessage(c echo.Context) error {
	var req domain.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.Validationf("body", "invalid request body"))
	}

	resp, err := h.service.SubmitMessage(c.Request().Context(), c.Param("session_id"), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSessionMessages retrieves one page of history for a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	channel := domain.Channel(c.QueryParam("chat_type"))
	before := c.QueryParam("before")

	page, err := h.service.GetMessages(c.Request().Context(), c.Param("session_id"), channel, limit, before)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}
