package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/service"
	"github.com/evo-learning/assess-api/internal/utils"
)

// LockHandler manages advisory edit lock endpoints.
type LockHandler struct {
	service service.LockService
	logger  zerolog.Logger
}

// NewLockHandler builds a lock handler instance.
func NewLockHandler(service service.LockService, logger zerolog.Logger) *LockHandler {
	return &LockHandler{
		service: service,
		logger:  logger.With().Str("component", "lock_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *LockHandler) Register(router fiber.Router) {
	router.Post("/:kind/:id", h.tryLock)
	router.Delete("/:kind/:id", h.unlock)
	router.Post("/:kind/:id/heartbeat", h.heartbeat)
}

func (h *LockHandler) tryLock(c *fiber.Ctx) error {
	kind, entityID, userID, err := h.lockParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	lock, err := h.service.TryLock(c.UserContext(), kind, entityID, userID)
	if err != nil {
		return h.handleError(c, err)
	}

	if !lock.Acquired {
		return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "lock queued", lock)
	}
	return utils.SendSuccess(c, "lock acquired", lock)
}

func (h *LockHandler) unlock(c *fiber.Ctx) error {
	kind, entityID, userID, err := h.lockParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	lock, err := h.service.Unlock(c.UserContext(), kind, entityID, userID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "lock released", lock)
}

func (h *LockHandler) heartbeat(c *fiber.Ctx) error {
	kind, entityID, userID, err := h.lockParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	lock, err := h.service.Heartbeat(c.UserContext(), kind, entityID, userID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "lock refreshed", lock)
}

func (h *LockHandler) lockParams(c *fiber.Ctx) (models.LockableKind, uint, uint, error) {
	kind, err := parseLockableKind(c.Params("kind"))
	if err != nil {
		return "", 0, 0, err
	}

	entityID, err := parseUintParam(c, "id")
	if err != nil {
		return "", 0, 0, err
	}

	userID := userIDFromContext(c)
	if userID == 0 {
		return "", 0, 0, errors.New("authentication required")
	}

	return kind, entityID, userID, nil
}

func parseLockableKind(raw string) (models.LockableKind, error) {
	switch models.LockableKind(strings.ToLower(strings.TrimSpace(raw))) {
	case models.LockableExercise:
		return models.LockableExercise, nil
	case models.LockableEvent:
		return models.LockableEvent, nil
	default:
		return "", errors.New("unknown lockable kind")
	}
}

func (h *LockHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrLockNotHeld):
		return utils.SendError(c, fiber.StatusConflict, "edit lock not held")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
