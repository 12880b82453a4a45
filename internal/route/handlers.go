package route

import (
	"backend-shaperun/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		routes, err := svc.List(c.Context(), userID)
		if err != nil {
			return err
		}
		return c.JSON(routes)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		rt, err := svc.Get(c.Context(), userID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(rt)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		if err := svc.Delete(c.Context(), userID, c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
