package workout

import (
	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/auth"
	"backend-shaperun/internal/route"

	"github.com/gofiber/fiber/v2"
)

type trackRequest struct {
	Fixes []Fix `json:"fixes"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		var req StartRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.Wrap(apperr.InvalidRequest, err, "invalid payload")
		}
		w, err := svc.Start(c.Context(), userID, req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(w)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		page, err := svc.List(c.Context(), userID, ListQuery{
			Page:  c.QueryInt("page", 1),
			Limit: c.QueryInt("limit", DefaultPageSize),
			Mode:  route.Mode(c.Query("mode")),
			Sort:  c.Query("sort", SortDate),
		})
		if err != nil {
			return err
		}
		return c.JSON(page)
	})

	r.Get("/active", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		w, err := svc.GetActive(c.Context(), userID)
		if err != nil {
			return err
		}
		return c.JSON(w)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		w, err := svc.Get(c.Context(), userID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(w)
	})

	r.Get("/:id/gpx", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		doc, err := svc.GPX(c.Context(), userID, c.Params("id"))
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="workout-`+c.Params("id")+`.gpx"`)
		return c.Send(doc)
	})

	r.Post("/:id/track", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		var req trackRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.Wrap(apperr.InvalidRequest, err, "invalid payload")
		}
		if len(req.Fixes) == 0 {
			return apperr.New(apperr.InvalidRequest, "fixes must not be empty")
		}
		results, err := svc.Track(c.Context(), userID, c.Params("id"), req.Fixes)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"results": results})
	})

	r.Post("/:id/pause", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		w, err := svc.Pause(c.Context(), userID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": w.ID, "status": w.Status})
	})

	r.Post("/:id/resume", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		w, err := svc.Resume(c.Context(), userID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": w.ID, "status": w.Status})
	})

	r.Post("/:id/complete", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		w, err := svc.Complete(c.Context(), userID, c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(w)
	})

	r.Post("/:id/cancel", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		if err := svc.Cancel(c.Context(), userID, c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
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
