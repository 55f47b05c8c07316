package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Locals keys
const (
	LocalUserID      = "user_id"
	LocalUserRoles   = "user_roles"
	LocalHouseholdID = "household_id"
)

const RoleAdmin = "admin"

// UserContextMiddleware extracts the identity the gateway forwards (X-User-ID, X-User-Roles,
// X-Household-ID). Routes behind it always have a user id.
func UserContextMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn("missing X-User-ID on secured route", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalUserRoles, roles)
		c.Locals(LocalHouseholdID, strings.TrimSpace(c.Get("X-Household-ID")))
		return c.Next()
	}
}

// RequireRole rejects users without the role; mount after UserContextMiddleware
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(LocalUserRoles).([]string)
		if !slices.Contains(roles, role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		}
		return c.Next()
	}
}

// UserID returns the authenticated user id set by the context middlewares
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func HouseholdID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalHouseholdID).(string)
	return id
}
