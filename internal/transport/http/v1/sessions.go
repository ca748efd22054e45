package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/linggo/orchestrator/internal/domain"
)

// StartSession starts a new session for a scenario.
// POST /v1/sessions
func (h *Handler) StartSession(c echo.Context) error {
	var req domain.StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.Validationf("body", "invalid request body"))
	}
	if req.ScenarioID == "" {
		return writeError(c, domain.Validationf("scenario_id", "must not be empty"))
	}

	resp, err := h.service.StartSession(c.Request().Context(), req.ScenarioID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetSession retrieves a session.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// CompleteSession explicitly completes a session.
// POST /v1/sessions/:session_id/complete
func (h *Handler) CompleteSession(c echo.Context) error {
	session, err := h.service.CompleteSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// ListScenarios lists the active scenarios.
// GET /v1/scenarios
func (h *Handler) ListScenarios(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"scenarios": h.service.ListScenarios(),
	})
}

// GetScenarioStats returns aggregate session counters for a scenario.
// GET /v1/scenarios/:scenario_id/stats
func (h *Handler) GetScenarioStats(c echo.Context) error {
	stats, err := h.service.GetScenarioStats(c.Request().Context(), c.Param("scenario_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
