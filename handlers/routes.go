package handlers

import (
	"time"

	"desperado-club/middleware"
	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Options carries the wiring that differs between deployments
type Options struct {
	// StreamAuth, when set, authenticates /notifications/stream from query params instead of the
	// gateway headers
	StreamAuth     middleware.TokenValidator
	StreamInterval time.Duration
}

const StreamPath = "/notifications/stream"

// Setup registers every route. Order matters: routes mounted before the secured group are not
// gated by UserContextMiddleware.
func Setup(app *fiber.App, svc *services.Services, log *zap.Logger, opts Options) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	stream := StreamHandler(svc, opts.StreamInterval, log.Named("sse"))
	if opts.StreamAuth != nil {
		app.Get(StreamPath, middleware.SSEAuthMiddleware(opts.StreamAuth, log), stream)
	}

	secured := app.Group("/", middleware.UserContextMiddleware(log))
	admin := secured.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))

	if opts.StreamAuth == nil {
		secured.Get(StreamPath, stream)
	}

	SetupProgressionRoutes(secured, admin, svc, log)
	SetupAchievementRoutes(secured, admin, svc, log)
	SetupLootBoxRoutes(secured, admin, svc, log)
	SetupNotificationRoutes(secured, svc, log)
	SetupOnboardingRoutes(secured, svc, log)
	SetupActivityRoutes(secured, svc, log)
}
