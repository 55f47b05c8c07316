// handlers/progression_routes.go
package handlers

import (
	"desperado-club/middleware"
	"desperado-club/models"
	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupProgressionRoutes(secured, admin fiber.Router, svc *services.Services, log *zap.Logger) {
	progression := svc.Progression

	secured.Get("/user/profile", func(c *fiber.Ctx) error {
		prof, err := progression.EnsureProfile(c.UserContext(), middleware.UserID(c), middleware.HouseholdID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"profile": prof,
			"level":   services.CalculateLevel(prof.TotalXP),
			"floor":   services.GetFloorForLevel(prof.CurrentLevel),
		})
	})

	secured.Get("/user/xp/history", func(c *fiber.Ctx) error {
		page := queryInt(c, "page", 1)
		size := queryInt(c, "size", 20)
		entries, total, err := progression.History(c.UserContext(), middleware.UserID(c), page, size)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"entries": entries,
			"total":   total,
			"page":    page,
		})
	})

	secured.Get("/user/xp/reconcile", func(c *fiber.Ctx) error {
		rec, err := progression.Reconcile(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(rec)
	})

	secured.Post("/user/login", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		if hh := middleware.HouseholdID(c); hh != "" {
			if _, err := progression.EnsureProfile(c.UserContext(), userID, hh); err != nil {
				return writeError(c, log, err)
			}
		}
		res, err := progression.UpdateLoginStreak(c.UserContext(), userID)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(res)
	})

	secured.Put("/user/showcase", func(c *fiber.Ctx) error {
		var req struct {
			AchievementIDs []string `json:"achievement_ids" validate:"max=3,dive,uuid"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		prof, err := svc.Achievements.SetShowcase(c.UserContext(), middleware.UserID(c), req.AchievementIDs)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(prof)
	})

	admin.Post("/xp/grant", func(c *fiber.Ctx) error {
		var req struct {
			UserID string `json:"user_id" validate:"required,uuid"`
			XP     int64  `json:"xp" validate:"required,ne=0"`
			Reason string `json:"reason" validate:"max=255"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}

		action := models.ActionAdminGrant
		if req.XP < 0 {
			action = models.ActionPenalty
		}
		res, err := progression.AwardXP(c.UserContext(), services.AwardRequest{
			UserID:      req.UserID,
			Amount:      req.XP,
			ActionType:  action,
			Description: req.Reason,
			Metadata:    map[string]any{"granted_by": middleware.UserID(c)},
		})
		if err != nil {
			return writeError(c, log, err)
		}
		if res.LeveledUp {
			if _, err := svc.Achievements.CheckAchievements(c.UserContext(), req.UserID, services.TriggerLevelReached, services.TriggerContext{}); err != nil {
				log.Error("level achievement check failed", zap.String("user_id", req.UserID), zap.Error(err))
			}
		}
		return c.JSON(fiber.Map{
			"message": "XP granted successfully",
			"user_id": req.UserID,
			"result":  res,
		})
	})
}
