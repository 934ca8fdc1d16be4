package handler_test

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/evo-learning/assess-api/internal/dto"
)

func TestLockAcquireQueueAndHandover(t *testing.T) {
	app, db := setupAssessmentApp(t)
	seedAssessmentFixture(t, db)

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/locks/exercise/1", 2, "teacher", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	lock := decodeData[dto.LockResponse](t, resp)
	require.True(t, lock.Acquired)
	require.NotNil(t, lock.OwnerID)
	require.Equal(t, uint(2), *lock.OwnerID)

	// A second teacher does not get the lock, only a queue position.
	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/locks/exercise/1", 3, "teacher", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	queued := decodeData[dto.LockResponse](t, resp)
	require.False(t, queued.Acquired)
	require.Equal(t, []uint{3}, queued.AwaitingUsers)

	// The owner's release hands the lock to the first waiter.
	resp = doJSON(t, app, fiber.MethodDelete, "/api/v1/locks/exercise/1", 2, "teacher", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	released := decodeData[dto.LockResponse](t, resp)
	require.NotNil(t, released.OwnerID)
	require.Equal(t, uint(3), *released.OwnerID)
}

func TestLockHeartbeatRequiresOwnership(t *testing.T) {
	app, db := setupAssessmentApp(t)
	seedAssessmentFixture(t, db)

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/locks/event/7", 2, "teacher", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/locks/event/7/heartbeat", 2, "teacher", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/locks/event/7/heartbeat", 3, "teacher", nil)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestLockRejectsUnknownKind(t *testing.T) {
	app, db := setupAssessmentApp(t)
	seedAssessmentFixture(t, db)

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/locks/gallery/1", 2, "teacher", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLockEndpointsAreTeacherOnly(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, _ := seedAssessmentFixture(t, db)

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/locks/exercise/1", student.ID, "student", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
