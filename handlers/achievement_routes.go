package handlers

import (
	"desperado-club/middleware"
	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupAchievementRoutes(secured, admin fiber.Router, svc *services.Services, log *zap.Logger) {
	achievements := svc.Achievements

	secured.Get("/achievements", func(c *fiber.Ctx) error {
		views, err := achievements.ListForUser(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(views)
	})

	// Context-only triggers (zero overdue, budget, party streaks, custom) are reported by the caller
	secured.Post("/achievements/check", func(c *fiber.Ctx) error {
		var req struct {
			TriggerType string                  `json:"trigger_type" validate:"required"`
			Context     services.TriggerContext `json:"context"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		trigger := services.TriggerType(req.TriggerType)
		if !trigger.Known() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown trigger type"})
		}
		unlocked, err := achievements.CheckAchievements(c.UserContext(), middleware.UserID(c), trigger, req.Context)
		if err != nil {
			return writeError(c, log, err)
		}
		if unlocked == nil {
			unlocked = []services.UnlockedAchievement{}
		}
		return c.JSON(fiber.Map{"unlocked": unlocked})
	})

	admin.Post("/achievements", func(c *fiber.Ctx) error {
		var req services.DefinitionInput
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		def, err := achievements.CreateDefinition(c.UserContext(), req)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(def)
	})

	admin.Patch("/achievements/:id/active", func(c *fiber.Ctx) error {
		var req struct {
			Active *bool `json:"active" validate:"required"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		if err := achievements.SetDefinitionActive(c.UserContext(), c.Params("id"), *req.Active); err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"id": c.Params("id"), "active": *req.Active})
	})
}
