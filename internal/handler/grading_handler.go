package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-engine/internal/dto"
	"github.com/noah-isme/gema-grading-engine/internal/grading"
	"github.com/noah-isme/gema-grading-engine/internal/service"
)

// GradingHandler exposes the grade endpoint.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. Extra handlers run before grading.
func (h *GradingHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	handlers := append(guards, h.grade)
	router.Post("/grade", handlers...)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.GradeResponse{
			Success: false,
			Error: &dto.GradeError{
				Kind:    grading.KindInvalidResponse,
				Message: "invalid request body",
			},
		})
	}

	result, err := h.service.RecordResponse(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	body := dto.NewGradeError(err)
	status := statusForKind(body.Kind)

	if body.Kind == grading.KindDependencyUnavailable {
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
	}
	if status >= fiber.StatusInternalServerError && body.Kind == grading.KindInternal {
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
	}

	return c.Status(status).JSON(dto.GradeResponse{Success: false, Error: body})
}
