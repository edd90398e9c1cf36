// Package server contains the HTTP handlers for the post and comment API.
package server

import (
	"context"
	"time"

	_ "penpoint/docs" // swagger docs
	"penpoint/internal/config"
	"penpoint/internal/engagement"
	"penpoint/internal/middleware"
	"penpoint/internal/repository"
	"penpoint/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
)

// Pinger reports whether the record store is reachable.
type Pinger func(ctx context.Context) error

// Deps are the already initialised dependencies of a Server.
type Deps struct {
	Store      repository.Store
	Redis      *redis.Client
	Reconciler *engagement.Reconciler
	PingStore  Pinger
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          repository.Store
	redis          *redis.Client
	pingStore      Pinger
	promMiddleware *fiberprometheus.FiberPrometheus
	reconciler     *engagement.Reconciler
	postService    *service.PostService
	commentService *service.CommentService
}

// NewServer wires the services over deps.
func NewServer(cfg *config.Config, deps Deps) *Server {
	middleware.InitMiddleware(cfg)

	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = engagement.NewReconciler(deps.Store, cfg.ReconcileBatchSize)
	}
	return &Server{
		config:         cfg,
		store:          deps.Store,
		redis:          deps.Redis,
		pingStore:      deps.PingStore,
		promMiddleware: middleware.InitMetrics("penpoint-api"),
		reconciler:     reconciler,
		postService:    service.NewPostService(deps.Store),
		commentService: service.NewCommentService(deps.Store),
	}
}

// App builds a Fiber app with middleware and routes installed.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "penpoint",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before anything that can short-circuit so error responses
	// still carry the headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	limit := s.config.RateLimitPerMinute
	writeLimit := func(name string) fiber.Handler {
		return middleware.RateLimit(s.redis, limit, time.Minute, name)
	}

	posts := api.Group("/posts")
	posts.Get("/", middleware.OptionalAuth, s.ListPosts)
	posts.Post("/", middleware.AuthRequired, writeLimit("create_post"), s.CreatePost)
	// Specific routes before the generic /:id ones.
	posts.Get("/slug/:slug", middleware.OptionalAuth, s.GetPostBySlug)
	posts.Get("/:id/comments", middleware.OptionalAuth, s.ListComments)
	posts.Post("/:id/comments", middleware.AuthRequired, writeLimit("create_comment"), s.CreateComment)
	posts.Post("/:id/like", middleware.AuthRequired, s.TogglePostLike)
	posts.Post("/:id/view", middleware.OptionalAuth, s.RecordView)
	posts.Put("/:id/featured", middleware.AuthRequired, s.SetFeatured)
	posts.Get("/:id", middleware.OptionalAuth, s.GetPost)
	posts.Patch("/:id", middleware.AuthRequired, s.UpdatePost)
	posts.Delete("/:id", middleware.AuthRequired, s.DeletePost)

	comments := api.Group("/comments")
	comments.Post("/:commentId/like", middleware.AuthRequired, s.ToggleCommentLike)
	comments.Get("/:commentId", middleware.OptionalAuth, s.GetComment)
	comments.Patch("/:commentId", middleware.AuthRequired, s.EditComment)
	comments.Delete("/:commentId", middleware.AuthRequired, s.DeleteComment)

	admin := api.Group("/admin", middleware.AuthRequired, AdminRequired)
	admin.Post("/reconcile", s.RunReconcile)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports the state of the record store and Redis. Redis is
// optional: without it the cache and rate limiter are disabled.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if s.pingStore != nil {
		if err := s.pingStore(ctx); err != nil {
			storeStatus = "unhealthy"
		}
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if storeStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
		"time": time.Now(),
	})
}

// AdminRequired rejects non-admin callers. It must run after AuthRequired.
func AdminRequired(c *fiber.Ctx) error {
	if !middleware.ActorFrom(c).IsAdmin() {
		return respondError(c, errAdminOnly)
	}
	return c.Next()
}

// RunReconcile handles POST /api/admin/reconcile
// @Summary Reconcile engagement counters
// @Description Recounts likes and comments for every post and comment and repairs drifted counters.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} engagement.Report
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/reconcile [post]
func (s *Server) RunReconcile(c *fiber.Ctx) error {
	rep, err := s.reconciler.RunOnce(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rep)
}
