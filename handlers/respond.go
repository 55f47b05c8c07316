package handlers

import (
	"errors"
	"strconv"
	"strings"

	"desperado-club/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// parseBody decodes the JSON body into out and validates its struct tags
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	return validate.Struct(out)
}

// writeError maps service errors to status codes
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var fe *fiber.Error
	var ve validator.ValidationErrors

	switch {
	case errors.As(err, &fe):
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	case errors.As(err, &ve):
		fields := make(map[string]string, len(ve))
		for _, f := range ve {
			fields[strings.ToLower(f.Field())] = f.Tag()
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation failed", "fields": fields})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, services.ErrInvalidArgument):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrOptimisticLock):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrUploadsDisabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Error("request failed", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// queryBool returns nil when the parameter is absent or not a bool
func queryBool(c *fiber.Ctx, key string) *bool {
	v, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return nil
	}
	return &v
}
