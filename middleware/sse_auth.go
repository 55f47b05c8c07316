package middleware

import (
	"context"
	"strings"

	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// TokenValidator checks an end-user token against the auth service
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates `token` and `device_id` query params, since EventSource clients
// cannot set headers. On success it sets the same locals as UserContextMiddleware.
//
// Usage:
//
//	app.Get("/notifications/stream", middleware.SSEAuthMiddleware(authClient, log), h.Stream)
func SSEAuthMiddleware(validator TokenValidator, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token or device_id in query",
			})
		}

		resp, err := validator.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Warn("sse token rejected",
				zap.String("token_prefix", accessToken[:min(10, len(accessToken))]),
				zap.String("device_id", deviceID),
				zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		c.Locals(LocalUserID, resp.UserID)
		c.Locals(LocalUserRoles, resp.Roles)
		return c.Next()
	}
}
