package generation

import (
	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, engine *Engine, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		var req Request
		if err := c.BodyParser(&req); err != nil {
			return apperr.Wrap(apperr.InvalidRequest, err, "invalid payload")
		}
		task, err := engine.Submit(c.Context(), userID, req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"task_id":  task.ID,
			"status":   StatusProcessing,
			"progress": 0,
		})
	})

	r.Get("/:taskID", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		task, err := engine.Poll(c.Context(), userID, c.Params("taskID"))
		if err != nil {
			return err
		}
		return c.JSON(task)
	})
}
