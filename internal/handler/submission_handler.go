package handler

import (
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/service"
	"github.com/evo-learning/assess-api/internal/utils"
)

// SubmissionHandler manages answer and attachment endpoints for a participation.
type SubmissionHandler struct {
	service   service.SubmissionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, validator *validator.Validate, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. The group is
// expected to be rooted at a single participation (":id" param).
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Put("/:id/slots/:slot/answer", h.saveAnswer)
	router.Post("/:id/slots/:slot/attachment", h.saveAttachment)
}

func (h *SubmissionHandler) saveAnswer(c *fiber.Ctx) error {
	participationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	ref, err := slotRefFromRequest(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	slot, err := h.service.SaveAnswer(c.UserContext(), participationID, ref, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "answer saved", slot)
}

func (h *SubmissionHandler) saveAttachment(c *fiber.Ctx) error {
	participationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	ref, err := slotRefFromRequest(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}

	slot, err := h.service.SaveAttachment(c.UserContext(), participationID, ref, fileHeader.Filename, data)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attachment saved", slot)
}

func slotRefFromRequest(c *fiber.Ctx) (service.SlotRef, error) {
	slotNumber, err := parseIntParam(c, "slot")
	if err != nil {
		return service.SlotRef{}, err
	}
	subSlot, err := parseQueryIntPtr(c, "sub_slot")
	if err != nil {
		return service.SlotRef{}, err
	}
	return service.SlotRef{SlotNumber: slotNumber, SubSlotNumber: subSlot}, nil
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrParticipationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "participation not found")
	case errors.Is(err, service.ErrSlotNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "slot not found")
	case errors.Is(err, service.ErrParticipationTurnedIn):
		return utils.SendError(c, fiber.StatusConflict, "participation already turned in")
	case errors.Is(err, service.ErrTimeUp):
		return utils.SendError(c, fiber.StatusForbidden, "time limit exceeded")
	case errors.Is(err, service.ErrInvalidChoice):
		return utils.SendError(c, fiber.StatusBadRequest, "selected choice does not belong to the exercise")
	case errors.Is(err, service.ErrSingleChoiceOnly):
		return utils.SendError(c, fiber.StatusBadRequest, "exercise accepts a single selection")
	case errors.Is(err, service.ErrNotAttachmentExercise):
		return utils.SendError(c, fiber.StatusBadRequest, "exercise does not accept attachments")
	case errors.Is(err, service.ErrUnsupportedAttachment):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, "unsupported attachment format")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
