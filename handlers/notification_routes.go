package handlers

import (
	"bufio"
	"context"
	"errors"
	"time"

	"desperado-club/middleware"
	"desperado-club/models"
	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupNotificationRoutes(secured fiber.Router, svc *services.Services, log *zap.Logger) {
	notifications := svc.Notifications

	secured.Get("/notifications", func(c *fiber.Ctx) error {
		opts := services.ListOptions{
			UnreadOnly: c.QueryBool("unread", false),
			Limit:      queryInt(c, "limit", 50),
		}
		if b := c.Query("before"); b != "" {
			t, err := time.Parse(time.RFC3339, b)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "before must be RFC3339"})
			}
			opts.Before = &t
		}
		rows, unread, err := notifications.List(c.UserContext(), middleware.UserID(c), opts)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"notifications": rows, "unread": unread})
	})

	secured.Post("/notifications/read-all", func(c *fiber.Ctx) error {
		n, err := notifications.MarkAllRead(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"marked": n})
	})

	secured.Post("/notifications/:id/read", func(c *fiber.Ctx) error {
		if err := notifications.MarkRead(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"id": c.Params("id"), "read": true})
	})

	secured.Get("/notifications/subscriptions", func(c *fiber.Ctx) error {
		subs, err := notifications.ListSubscriptions(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(subs)
	})

	secured.Put("/notifications/subscriptions", func(c *fiber.Ctx) error {
		var req struct {
			EventType string `json:"event_type" validate:"required,max=50"`
			Enabled   *bool  `json:"enabled" validate:"required"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		sub, err := notifications.SetSubscription(c.UserContext(), middleware.UserID(c), req.EventType, *req.Enabled)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(sub)
	})

	secured.Get("/notifications/preferences", func(c *fiber.Ctx) error {
		pref, err := notifications.GetPreferences(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(pref)
	})

	secured.Put("/notifications/preferences", func(c *fiber.Ctx) error {
		var req services.PreferenceInput
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		pref, err := notifications.UpsertPreferences(c.UserContext(), middleware.UserID(c), req)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(pref)
	})

	secured.Get("/watchers", func(c *fiber.Ctx) error {
		entityType, entityID := c.Query("entity_type"), c.Query("entity_id")
		if entityType == "" || entityID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "entity_type and entity_id are required"})
		}
		list, err := notifications.ListWatchers(c.UserContext(), entityType, entityID)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})

	secured.Put("/watchers", func(c *fiber.Ctx) error {
		var req struct {
			EntityType string `json:"entity_type" validate:"required,max=40"`
			EntityID   string `json:"entity_id" validate:"required,max=64"`
			WatchLevel string `json:"watch_level" validate:"required,oneof=all mentions_only muted"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		w, err := notifications.SetWatchLevel(c.UserContext(), req.EntityType, req.EntityID, middleware.UserID(c), req.WatchLevel)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(w)
	})

	secured.Delete("/watchers", func(c *fiber.Ctx) error {
		entityType, entityID := c.Query("entity_type"), c.Query("entity_id")
		if entityType == "" || entityID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "entity_type and entity_id are required"})
		}
		if err := notifications.Unwatch(c.UserContext(), entityType, entityID, middleware.UserID(c)); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// comments and other entity events raised by the rest of the household app
	secured.Post("/notifications/dispatch", func(c *fiber.Ctx) error {
		var req struct {
			EventType  string         `json:"event_type" validate:"required,max=50"`
			EntityType string         `json:"entity_type" validate:"required,max=40"`
			EntityID   string         `json:"entity_id" validate:"required,max=64"`
			Title      string         `json:"title" validate:"required,max=200"`
			Body       string         `json:"body"`
			Mentioned  []string       `json:"mentioned_user_ids"`
			Skip       []string       `json:"skip_user_ids"`
			Metadata   map[string]any `json:"metadata"`
		}
		if err := parseBody(c, &req); err != nil {
			return writeError(c, log, err)
		}
		actorID := middleware.UserID(c)
		if err := notifications.EnsureWatching(c.UserContext(), req.EntityType, req.EntityID, actorID, models.WatchAll); err != nil {
			log.Warn("ensure watching failed", zap.String("user_id", actorID), zap.Error(err))
		}
		res, err := notifications.NotifyEntity(c.UserContext(), services.NotifyRequest{
			EventType:        req.EventType,
			EntityType:       req.EntityType,
			EntityID:         req.EntityID,
			ActorID:          actorID,
			Title:            req.Title,
			Body:             req.Body,
			MentionedUserIDs: req.Mentioned,
			SkipUserIDs:      req.Skip,
			Metadata:         req.Metadata,
		})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(res)
	})
}

// StreamHandler serves GET /notifications/stream as server-sent events
func StreamHandler(svc *services.Services, interval time.Duration, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// initial keepalive
			_, _ = w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			err := svc.Notifications.Stream(ctx, userID, interval, func(n models.Notification) error {
				return services.WriteSSE(w, n)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Debug("notification stream closed", zap.String("user_id", userID), zap.Error(err))
			}
		})
		return nil
	}
}
