package handlers

import (
	"desperado-club/middleware"
	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupOnboardingRoutes(secured fiber.Router, svc *services.Services, log *zap.Logger) {
	onboarding := svc.Onboarding
	group := secured.Group("/onboarding")

	group.Get("/", func(c *fiber.Ctx) error {
		st, err := onboarding.Get(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(st)
	})

	group.Get("/questions", func(c *fiber.Ctx) error {
		return c.JSON(services.InterviewQuestions)
	})

	group.Post("/start", func(c *fiber.Ctx) error {
		var req struct {
			Track string `json:"track" validate:"omitempty,oneof=full quick"`
		}
		if len(c.Body()) > 0 {
			if err := parseBody(c, &req); err != nil {
				return writeError(c, log, err)
			}
		}
		st, err := onboarding.Start(c.UserContext(), middleware.UserID(c), req.Track)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(st)
	})

	group.Post("/answers", func(c *fiber.Ctx) error {
		var req struct {
			QuestionKey string `json:"question_key" validate:"required,max=64"`
			Answer      string `json:"answer" validate:"required"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		st, err := onboarding.Answer(c.UserContext(), middleware.UserID(c), req.QuestionKey, req.Answer)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(st)
	})

	group.Post("/interview/complete", func(c *fiber.Ctx) error {
		st, err := onboarding.CompleteInterview(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(st)
	})

	group.Post("/refinement/complete", func(c *fiber.Ctx) error {
		st, err := onboarding.CompleteRefinement(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(st)
	})

	group.Get("/next-question", func(c *fiber.Ctx) error {
		q, err := onboarding.NextDeferredQuestion(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		if q == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(q)
	})

	group.Get("/observations", func(c *fiber.Ctx) error {
		obs, err := onboarding.Observations(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(obs)
	})
}
