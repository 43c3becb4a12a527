// Package web provides HTTP handlers and REST API endpoints for session management.
package web

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/report"
	"github.com/dukex/stagehand/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	manager   *workflow.Manager
	store     persistence.Persistence
	validator *validator.Validate
}

func NewAPIHandlers(
	manager *workflow.Manager,
	store persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		manager:   manager,
		store:     store,
		validator: validator,
	}
}

func (h *APIHandlers) CreateSession(c fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.manager.Start(c.Context(), workflow.StartOptions{
		WorkflowType: models.WorkflowType(req.WorkflowType),
		SelectedStep: models.StageName(req.SelectedStep),
		Profile:      req.Profile,
		Requirements: req.Requirements,
	})
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *APIHandlers) GetSessions(c fiber.Ctx) error {
	opts, err := h.parseListSessionsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.manager.List(c.Context(), *opts)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.JSON(fiber.Map{
		"sessions":      result.Sessions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

// parseListSessionsRequest parses and validates query parameters for listing sessions.
func (h *APIHandlers) parseListSessionsRequest(c fiber.Ctx) (*persistence.ListSessionsOptions, error) {
	opts := &persistence.ListSessionsOptions{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.SessionStatus(statusStr)
		opts.Status = &status
	}

	if typeStr := c.Query("workflow_type"); typeStr != "" {
		workflowType := models.WorkflowType(typeStr)
		opts.WorkflowType = &workflowType
	}

	return opts, nil
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	session, err := h.manager.Get(c.Context(), id)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) CancelSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	err := h.manager.Cancel(c.Context(), id)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetSessionReport(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	session, err := h.manager.Get(c.Context(), id)
	if err != nil {
		return handleOrchestrationError(c, err)
	}

	switch c.Query("format", "json") {
	case "json":
		return c.JSON(report.Build(session))
	case "csv":
		var buf bytes.Buffer
		if err := report.WriteCSV(&buf, session); err != nil {
			return internalError(c, err)
		}

		c.Set(fiber.HeaderContentType, "text/csv")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+id+`.csv"`)

		return c.Send(buf.Bytes())
	case "text":
		return c.SendString(report.Render(session))
	default:
		return badRequest(c, "Unsupported report format, expected json, csv or text")
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.store.HealthCheck(c.Context())

	status := "healthy"
	message := "Stagehand API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Stagehand API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": status,
		},
		"timestamp": time.Now().UTC(),
	})
}
