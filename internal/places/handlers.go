package places

import (
	"strconv"

	"backend-shaperun/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/features", authMiddleware, func(c *fiber.Ctx) error {
		var req Feature
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		f, err := svc.AddFeature(c.Context(), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(f)
	})

	r.Delete("/features/:kind/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid id")
		}
		if err := svc.DeleteFeature(c.Context(), Kind(c.Params("kind")), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/sidewalks", authMiddleware, func(c *fiber.Ctx) error {
		var req Sidewalk
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		sw, err := svc.AddSidewalk(c.Context(), req.Path)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(sw)
	})

	r.Get("/nearby", authMiddleware, func(c *fiber.Ctx) error {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		center := geo.LatLng{Lat: lat, Lng: lng}
		if errLat != nil || errLng != nil || !center.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		radius, err := strconv.ParseFloat(c.Query("radius", "300"), 64)
		if err != nil || radius <= 0 || radius > 5000 {
			return fiber.NewError(fiber.StatusBadRequest, "radius must be between 0 and 5000")
		}
		nearby, err := svc.Near(c.Context(), center, radius)
		if err != nil {
			return err
		}
		return c.JSON(nearby)
	})
}
