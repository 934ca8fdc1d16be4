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

// ParticipationHandler manages event participation endpoints.
type ParticipationHandler struct {
	service   service.ParticipationService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewParticipationHandler builds a participation handler instance.
func NewParticipationHandler(service service.ParticipationService, validator *validator.Validate, logger zerolog.Logger) *ParticipationHandler {
	return &ParticipationHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "participation_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *ParticipationHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Get("/:id/current-slot", h.currentSlot)
	router.Post("/:id/forward", h.moveForward)
	router.Post("/:id/back", h.moveBack)
	router.Post("/:id/turn-in", h.turnIn)
}

func (h *ParticipationHandler) create(c *fiber.Ctx) error {
	var payload dto.ParticipationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	participation, err := h.service.Create(c.UserContext(), userID, payload.EventID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "participation created", participation)
}

func (h *ParticipationHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	forStudent := userRoleFromContext(c) != "teacher"
	participation, err := h.service.Get(c.UserContext(), id, forStudent)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "participation retrieved", participation)
}

func (h *ParticipationHandler) currentSlot(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	slot, err := h.service.CurrentSlot(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "current slot retrieved", slot)
}

func (h *ParticipationHandler) moveForward(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	slot, err := h.service.MoveForward(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "moved to next slot", slot)
}

func (h *ParticipationHandler) moveBack(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	slot, err := h.service.MoveBack(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "moved to previous slot", slot)
}

func (h *ParticipationHandler) turnIn(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	participation, err := h.service.TurnIn(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "participation turned in", participation)
}

func (h *ParticipationHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrEventNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "event not found")
	case errors.Is(err, service.ErrParticipationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "participation not found")
	case errors.Is(err, service.ErrEventNotOpen):
		return utils.SendError(c, fiber.StatusForbidden, "event is not open")
	case errors.Is(err, service.ErrEventHasNoTemplate):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "event has no template")
	case errors.Is(err, service.ErrParticipationTurnedIn):
		return utils.SendError(c, fiber.StatusConflict, "participation already turned in")
	case errors.Is(err, service.ErrCursorOutOfRange):
		return utils.SendError(c, fiber.StatusConflict, "no further slot in that direction")
	case errors.Is(err, service.ErrGoingBackNotAllowed):
		return utils.SendError(c, fiber.StatusForbidden, "going back is not allowed in this event")
	case errors.Is(err, service.ErrTimeUp):
		return utils.SendError(c, fiber.StatusForbidden, "time limit exceeded")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
