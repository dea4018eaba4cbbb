package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"go.uber.org/zap"
)

// ErrorHandler writes every error as {"message": ...}. Only 5xx responses
// are logged at error level.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		}

		log := observability.WithContextLogger(logger, c.UserContext()).With(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
		if code >= fiber.StatusInternalServerError {
			log.Error("request error")
		} else {
			log.Debug("request rejected")
		}

		return c.Status(code).JSON(fiber.Map{
			"message": message,
		})
	}
}
