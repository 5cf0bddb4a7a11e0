// Package http contains the fiber handlers for the fanout API.
package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"fanout/internal/dispatch"
	"fanout/internal/runner"
	"fanout/internal/runs"
)

const (
	errInvalidRequest = "Invalid request"
	maxRunListLimit   = 200
)

type taskInput struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

type createRunRequest struct {
	Tasks       []taskInput `json:"tasks"`
	Concurrency int         `json:"concurrency"`
	Runner      string      `json:"runner"`
	Serial      bool        `json:"serial"`
}

// CreateRunHandler starts a new dispatch run from a submitted batch.
func CreateRunHandler(manager *runs.Manager, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req createRunRequest
		if err := c.BodyParser(&req); err != nil {
			logger.Debug("Failed to parse run request", slog.Any("error", err))
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": errInvalidRequest,
				"code":  "INVALID_REQUEST",
			})
		}

		if req.Concurrency < 0 {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Concurrency must be a positive integer",
				"code":  "INVALID_CONCURRENCY",
			})
		}

		tasks := make([]dispatch.Task[string], len(req.Tasks))
		for i, in := range req.Tasks {
			tasks[i] = dispatch.Task[string]{ID: in.ID, Payload: in.Payload}
		}

		run, err := manager.StartRun(runs.StartInput{
			Tasks:       tasks,
			Concurrency: req.Concurrency,
			Runner:      req.Runner,
			Serial:      req.Serial,
		})
		if err != nil {
			var dup *runs.DuplicateTaskIDError
			switch {
			case errors.As(err, &dup):
				return c.Status(http.StatusConflict).JSON(fiber.Map{
					"error": dup.Error(),
					"code":  "DUPLICATE_TASK_ID",
				})
			case errors.Is(err, runner.ErrUnknownRunner):
				return c.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
					"code":  "UNKNOWN_RUNNER",
				})
			default:
				logger.Error("Failed to start run", slog.Any("error", err))
				return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to start run",
					"code":  "RUN_START_ERROR",
				})
			}
		}

		return c.Status(http.StatusCreated).JSON(run)
	}
}

// GetRunHandler returns one run with its collected results.
func GetRunHandler(manager *runs.Manager, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		run, err := manager.GetRun(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(http.StatusNotFound).JSON(fiber.Map{
					"error": "Run not found",
					"code":  "RUN_NOT_FOUND",
				})
			}
			logger.Error("Failed to load run", slog.Any("error", err))
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load run",
				"code":  "RUN_LOAD_ERROR",
			})
		}
		return c.JSON(run)
	}
}

// ListRunsHandler returns recent runs, newest first.
func ListRunsHandler(manager *runs.Manager, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		if limit > maxRunListLimit {
			limit = maxRunListLimit
		}

		out, err := manager.ListRuns(limit)
		if err != nil {
			logger.Error("Failed to list runs", slog.Any("error", err))
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to list runs",
				"code":  "RUN_LIST_ERROR",
			})
		}
		return c.JSON(fiber.Map{"runs": out})
	}
}

// StopRunHandler stops an active run; stopping a finished run is a no-op.
func StopRunHandler(manager *runs.Manager, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := manager.StopRun(id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(http.StatusNotFound).JSON(fiber.Map{
					"error": "Run not found",
					"code":  "RUN_NOT_FOUND",
				})
			}
			logger.Error("Failed to stop run", slog.Any("error", err))
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to stop run",
				"code":  "RUN_STOP_ERROR",
			})
		}
		return c.JSON(fiber.Map{"message": "Run stopped", "id": id})
	}
}

// ListRunnersHandler lists the runner names available to this deployment.
func ListRunnersHandler(reg *runner.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"runners": reg.Names()})
	}
}
