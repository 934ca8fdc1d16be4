package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/service"
	"github.com/evo-learning/assess-api/internal/utils"
)

// GradingHandler manages assessment endpoints.
type GradingHandler struct {
	service   service.GradingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(service service.GradingService, validator *validator.Validate, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Get("/:id/assessment", h.assessParticipation)
	router.Get("/:id/assessment/slots/:slot", h.assessSlot)
	router.Put("/:id/assessment/slots/:slot", h.override)
	router.Get("/:id/assessment/slots/:slot/suggestion", h.suggest)
}

func (h *GradingHandler) assessParticipation(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assessment, err := h.service.AssessParticipation(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assessment computed", assessment)
}

func (h *GradingHandler) assessSlot(c *fiber.Ctx) error {
	id, slot, err := h.slotParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.AssessSlot(c.UserContext(), id, slot)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "slot assessment computed", result)
}

func (h *GradingHandler) override(c *fiber.Ctx) error {
	id, slot, err := h.slotParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AssessmentOverrideRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Override(c.UserContext(), id, slot, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assessment override saved", result)
}

func (h *GradingHandler) suggest(c *fiber.Ctx) error {
	id, slot, err := h.slotParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	suggestion, err := h.service.Suggest(c.UserContext(), id, slot)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "suggestion drafted", suggestion)
}

func (h *GradingHandler) slotParams(c *fiber.Ctx) (uint, int, error) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return 0, 0, err
	}
	slot, err := parseIntParam(c, "slot")
	if err != nil {
		return 0, 0, err
	}
	return id, slot, nil
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrParticipationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "participation not found")
	case errors.Is(err, service.ErrSlotNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "slot not found")
	case errors.Is(err, service.ErrInvalidScore):
		return utils.SendError(c, fiber.StatusBadRequest, "score is not a valid decimal")
	case errors.Is(err, service.ErrNotSuggestible):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "slot has no answer suitable for a suggestion")
	case errors.Is(err, service.ErrAdvisorUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "grading advisor not configured")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
