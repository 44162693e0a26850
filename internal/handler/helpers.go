package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-engine/internal/grading"
	"github.com/noah-isme/gema-grading-engine/internal/middleware"
)

// retryAfterSeconds is advertised when a grading dependency is unavailable.
const retryAfterSeconds = "30"

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := strings.TrimSpace(c.Params(name))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid " + name)
	}
	return uint(parsed), nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// statusForKind maps a grading error kind onto an HTTP status code.
func statusForKind(kind grading.ErrorKind) int {
	switch kind {
	case grading.KindInvalidResponse:
		return fiber.StatusBadRequest
	case grading.KindNotFound:
		return fiber.StatusNotFound
	case grading.KindRetriesExhausted, grading.KindSubmissionClosed:
		return fiber.StatusConflict
	case grading.KindContentPolicyViolation, grading.KindInvalidQuestion:
		return fiber.StatusUnprocessableEntity
	case grading.KindGradingOutputInvalid:
		return fiber.StatusBadGateway
	case grading.KindDependencyUnavailable:
		return fiber.StatusServiceUnavailable
	case grading.KindCancelled:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
