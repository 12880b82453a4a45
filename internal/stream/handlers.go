package stream

import (
	"context"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Owners reports whether a user may watch a workout's live fixes.
type Owners interface {
	Owns(ctx context.Context, userID, workoutID string) (bool, error)
}

// RegisterRoutes serves the live feed of a workout to its owner. The
// identity check and ownership lookup run before the upgrade, so strangers
// get a plain HTTP error.
func RegisterRoutes(r fiber.Router, hub *Hub, authMiddleware fiber.Handler, owners Owners) {
	r.Get("/ws/:workoutID", authMiddleware, func(c *fiber.Ctx) error {
		userID, err := auth.RequireUser(c)
		if err != nil {
			return err
		}
		ok, err := owners.Owns(c.Context(), userID, c.Params("workoutID"))
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.NotFound, "workout not found")
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		client := hub.Register(c.Params("workoutID"))
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
