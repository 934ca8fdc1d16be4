package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/service"
	"github.com/evo-learning/assess-api/internal/utils"
)

// ExecutionHandler manages code execution endpoints including the websocket
// stream that delivers run results as they complete.
type ExecutionHandler struct {
	service service.ExecutionService
	logger  zerolog.Logger
}

// NewExecutionHandler builds an execution handler instance.
func NewExecutionHandler(service service.ExecutionService, logger zerolog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		service: service,
		logger:  logger.With().Str("component", "execution_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *ExecutionHandler) Register(router fiber.Router) {
	router.Post("/:id/slots/:slot/execute", h.enqueue)

	router.Use("/:id/executions/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/:id/executions/ws", websocket.New(h.stream))
}

func (h *ExecutionHandler) enqueue(c *fiber.Ctx) error {
	participationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	slot, err := parseIntParam(c, "slot")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	enqueued, err := h.service.Enqueue(c.UserContext(), participationID, slot)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "execution enqueued", enqueued)
}

func (h *ExecutionHandler) stream(conn *websocket.Conn) {
	raw := strings.TrimSpace(conn.Params("id"))
	participationID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "invalid participation id"))
		_ = conn.Close()
		return
	}

	events, cancel := h.service.Subscribe(uint(participationID))
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info().Uint64("participation_id", participationID).Msg("execution stream connected")
	defer h.logger.Info().Uint64("participation_id", participationID).Msg("execution stream disconnected")

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.Close()
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *ExecutionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrParticipationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "participation not found")
	case errors.Is(err, service.ErrSlotNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "slot not found")
	case errors.Is(err, service.ErrParticipationTurnedIn):
		return utils.SendError(c, fiber.StatusConflict, "participation already turned in")
	case errors.Is(err, service.ErrTimeUp):
		return utils.SendError(c, fiber.StatusForbidden, "time limit exceeded")
	case errors.Is(err, service.ErrNotCodingExercise):
		return utils.SendError(c, fiber.StatusBadRequest, "exercise is not a coding exercise")
	case errors.Is(err, service.ErrEmptySubmission):
		return utils.SendError(c, fiber.StatusBadRequest, "slot has no code to run")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
