package handlers

import (
	"context"

	"desperado-club/middleware"
	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func SetupActivityRoutes(secured fiber.Router, svc *services.Services, log *zap.Logger) {
	activity := svc.Activity

	withMentions := func(fn func(ctx context.Context, actorID, id string, opts services.ActivityOptions) (*services.ActivityResult, error)) fiber.Handler {
		return func(c *fiber.Ctx) error {
			id := c.Params("id")
			if _, err := uuid.Parse(id); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
			}
			var opts services.ActivityOptions
			if len(c.Body()) > 0 {
				if err := parseBody(c, &opts); err != nil {
					return writeError(c, log, err)
				}
			}
			res, err := fn(c.UserContext(), middleware.UserID(c), id, opts)
			if err != nil {
				return writeError(c, log, err)
			}
			return c.JSON(res)
		}
	}

	plain := func(fn func(ctx context.Context, actorID, id string) (*services.ActivityResult, error)) fiber.Handler {
		return func(c *fiber.Ctx) error {
			id := c.Params("id")
			if _, err := uuid.Parse(id); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
			}
			res, err := fn(c.UserContext(), middleware.UserID(c), id)
			if err != nil {
				return writeError(c, log, err)
			}
			return c.JSON(res)
		}
	}

	secured.Post("/tasks/:id/complete", withMentions(activity.CompleteTask))
	secured.Post("/shopping-lists/:id/complete", withMentions(activity.CompleteShoppingList))
	secured.Post("/habits/:id/checkin", plain(activity.CheckInHabit))
	secured.Post("/goals/:id/complete", plain(activity.CompleteGoal))
}
