package web

import (
	"errors"

	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/profile"
	"github.com/dukex/stagehand/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleOrchestrationError provides typed error handling for manager errors.
func handleOrchestrationError(c fiber.Ctx, err error) error {
	switch {
	case workflow.IsInvalidWorkflow(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("invalid_workflow").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case errors.Is(err, profile.ErrProfileNotFound):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("profile_not_found").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsSessionNotFound(err):
		return notFound(c, "session not found")

	case errors.Is(err, workflow.ErrSessionNotRunning):
		return conflict(c, err.Error())

	default:
		// Log unexpected errors but don't expose details
		return internalError(c, err)
	}
}
