package handlers

import (
	"desperado-club/middleware"
	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func SetupLootBoxRoutes(secured, admin fiber.Router, svc *services.Services, log *zap.Logger) {
	boxes := svc.LootBoxes
	rewards := svc.Rewards

	secured.Get("/loot-boxes", func(c *fiber.Ctx) error {
		list, err := boxes.ListBoxes(c.UserContext(), middleware.UserID(c), services.BoxFilter{
			Opened:   queryBool(c, "opened"),
			Redeemed: queryBool(c, "redeemed"),
		})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})

	secured.Post("/loot-boxes/:id/open", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid loot box id"})
		}
		reward, err := boxes.OpenLootBox(c.UserContext(), middleware.UserID(c), id)
		if err != nil {
			return writeError(c, log, err)
		}
		if reward == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "loot box not found, already opened, or no reward available",
			})
		}
		return c.JSON(fiber.Map{"box_id": id, "reward": reward})
	})

	secured.Post("/loot-boxes/:id/redeem", func(c *fiber.Ctx) error {
		box, err := boxes.Redeem(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(box)
	})

	// users manage their own pool; household pools go through admin
	secured.Get("/rewards", func(c *fiber.Ctx) error {
		list, err := rewards.ListRewards(c.UserContext(), services.RewardScope{
			UserID: middleware.UserID(c),
			Tier:   c.Query("tier"),
		})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})

	secured.Post("/rewards", func(c *fiber.Ctx) error {
		var req services.RewardInput
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		req.UserID = middleware.UserID(c)
		req.HouseholdID = ""
		reward, err := rewards.CreateReward(c.UserContext(), req)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(reward)
	})

	admin.Get("/rewards", func(c *fiber.Ctx) error {
		list, err := rewards.ListRewards(c.UserContext(), services.RewardScope{
			UserID:      c.Query("user_id"),
			HouseholdID: c.Query("household_id"),
			Tier:        c.Query("tier"),
		})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})

	admin.Post("/rewards", func(c *fiber.Ctx) error {
		var req services.RewardInput
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		reward, err := rewards.CreateReward(c.UserContext(), req)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(reward)
	})

	admin.Patch("/rewards/:id", func(c *fiber.Ctx) error {
		var req services.RewardPatch
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		reward, err := rewards.UpdateReward(c.UserContext(), c.Params("id"), req)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(reward)
	})

	admin.Delete("/rewards/:id", func(c *fiber.Ctx) error {
		if err := rewards.DeleteReward(c.UserContext(), c.Params("id")); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/rewards/:id/icon", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("icon")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "icon file is required"})
		}
		f, err := fh.Open()
		if err != nil {
			return writeError(c, log, err)
		}
		defer f.Close()

		reward, err := rewards.UploadIcon(c.UserContext(), c.Params("id"), fh.Filename, fh.Header.Get("Content-Type"), f)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(reward)
	})
}
