package server

import (
	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/auth"
	"backend-shaperun/internal/config"
	"backend-shaperun/internal/db"
	"backend-shaperun/internal/generation"
	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/places"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/stream"
	"backend-shaperun/internal/workout"

	"github.com/go-kit/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

// Deps are the long-lived collaborators the caller owns and shuts down.
type Deps struct {
	DB     db.Querier
	Redis  *redis.Client
	Engine *generation.Engine
	Places *places.Service
	Logger log.Logger
}

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     db.Querier
	Redis  *redis.Client
	Stream *stream.Hub
	Engine *generation.Engine
	Places *places.Service
	Logger log.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	if deps.Places == nil {
		deps.Places = places.NewService(deps.DB, nil)
	}

	app := fiber.New(fiber.Config{ErrorHandler: apperr.FiberHandler})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())
	app.Use(metrics.Middleware())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     deps.DB,
		Redis:  deps.Redis,
		Stream: stream.NewHub(deps.Redis, deps.Logger),
		Engine: deps.Engine,
		Places: deps.Places,
		Logger: deps.Logger,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", metrics.Handler())

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	routes := route.NewService(s.DB)

	shape.RegisterRoutes(s.App.Group("/shapes"), shape.NewService(s.DB), jwtMiddleware)
	// registered before /routes so /:id does not capture "generate"
	generation.RegisterRoutes(s.App.Group("/routes/generate"), s.Engine, jwtMiddleware)
	route.RegisterRoutes(s.App.Group("/routes"), routes, jwtMiddleware)
	places.RegisterRoutes(s.App.Group("/places"), s.Places, jwtMiddleware)
	workouts := workout.NewService(s.DB, routes, s.Stream, s.Logger)
	workout.RegisterRoutes(s.App.Group("/workouts"), workouts, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, auth.QueryTokenMiddleware(s.Cfg.JWTSecret), workouts)
}
