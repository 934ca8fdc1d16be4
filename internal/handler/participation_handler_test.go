package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/config"
	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/handler"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
	"github.com/evo-learning/assess-api/internal/router"
	"github.com/evo-learning/assess-api/internal/service"
)

var assessmentAppCounter int

func setupAssessmentApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	assessmentAppCounter++
	dsn := fmt.Sprintf("file:handler%d?mode=memory&cache=shared", assessmentAppCounter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Tag{},
		&models.Exercise{},
		&models.ExerciseChoice{},
		&models.ExerciseTestCase{},
		&models.EventTemplate{},
		&models.EventTemplateRule{},
		&models.EventTemplateRuleClause{},
		&models.Event{},
		&models.EventInstance{},
		&models.EventInstanceSlot{},
		&models.EventParticipation{},
		&models.SubmissionSlot{},
		&models.AssessmentSlot{},
		&models.EditLock{},
	))

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	eventRepo := repository.NewEventRepository(db)
	exerciseRepo := repository.NewExerciseRepository(db)
	instanceRepo := repository.NewInstanceRepository(db)
	participationRepo := repository.NewParticipationRepository(db)
	userRepo := repository.NewUserRepository(db)
	lockRepo := repository.NewLockRepository(db)

	pickerService := service.NewPickerService(exerciseRepo, logger)
	participationService := service.NewParticipationService(eventRepo, instanceRepo, participationRepo, userRepo, pickerService, redisClient, 0, logger)
	submissionService := service.NewSubmissionService(participationRepo, participationService, nil, logger)
	gradingService := service.NewGradingService(participationRepo, nil, logger)
	lockService := service.NewLockService(lockRepo, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		ParticipationHandler: handler.NewParticipationHandler(participationService, validate, logger),
		SubmissionHandler:    handler.NewSubmissionHandler(submissionService, validate, logger),
		GradingHandler:       handler.NewGradingHandler(gradingService, validate, logger),
		LockHandler:          handler.NewLockHandler(lockService, logger),
		JWTMiddleware:        headerAuth,
	})

	return app, db
}

// headerAuth stands in for the JWT middleware: identity comes from request
// headers so a single app can serve requests for several test users.
func headerAuth(c *fiber.Ctx) error {
	if raw := c.Get("X-User-ID"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			c.Locals("user_id", uint(id))
		}
	}
	if role := c.Get("X-User-Role"); role != "" {
		c.Locals("user_role", role)
	}
	return c.Next()
}

func seedAssessmentFixture(t *testing.T, db *gorm.DB) (models.User, models.Event) {
	t.Helper()

	student := models.User{Email: "student@example.com", FullName: "Stu Dent", Role: models.UserRoleStudent}
	require.NoError(t, db.Create(&student).Error)
	teacher := models.User{Email: "teacher@example.com", FullName: "Tea Cher", Role: models.UserRoleTeacher}
	require.NoError(t, db.Create(&teacher).Error)

	right := models.Exercise{CourseID: 1, Kind: models.ExerciseKindMultipleChoiceSingle, State: models.ExerciseStatePublic, Text: "pick one"}
	require.NoError(t, db.Create(&right).Error)
	require.NoError(t, db.Create(&models.ExerciseChoice{ExerciseID: right.ID, Text: "yes", Correctness: decimal.NewFromInt(1)}).Error)
	require.NoError(t, db.Create(&models.ExerciseChoice{ExerciseID: right.ID, Text: "no", Correctness: decimal.Zero}).Error)

	open := models.Exercise{CourseID: 1, Kind: models.ExerciseKindOpenAnswer, State: models.ExerciseStatePublic, Text: "explain"}
	require.NoError(t, db.Create(&open).Error)

	template := models.EventTemplate{CourseID: 1, Name: "quiz"}
	require.NoError(t, db.Create(&template).Error)
	rule := models.EventTemplateRule{TemplateID: template.ID, Kind: models.RuleKindIDBased, Amount: 2, Ordering: 0}
	require.NoError(t, db.Create(&rule).Error)
	require.NoError(t, db.Model(&rule).Association("Exercises").Append(&right, &open))

	event := models.Event{
		CourseID:   1,
		Name:       "weekly quiz",
		Kind:       models.EventKindInClassPractice,
		State:      models.EventStateOpen,
		TemplateID: &template.ID,
	}
	require.NoError(t, db.Create(&event).Error)

	return student, event
}

func doJSON(t *testing.T, app *fiber.App, method, target string, userID uint, role string, payload any) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-ID", strconv.FormatUint(uint64(userID), 10))
	req.Header.Set("X-User-Role", role)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

	var data T
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	return data
}

func TestParticipationJoinBuildsSlots(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, event := seedAssessmentFixture(t, db)

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	participation := decodeData[dto.ParticipationResponse](t, resp)
	require.Equal(t, event.ID, participation.EventID)
	require.Equal(t, student.ID, participation.UserID)
	require.Equal(t, string(models.ParticipationInProgress), participation.State)
	require.Len(t, participation.Slots, 2)

	// Student-facing exercises never reveal grading material.
	for _, slot := range participation.Slots {
		require.Empty(t, slot.Exercise.Solution)
		for _, choice := range slot.Exercise.Choices {
			require.Nil(t, choice.Correctness)
		}
	}
}

func TestParticipationJoinIsIdempotent(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, event := seedAssessmentFixture(t, db)

	first := decodeData[dto.ParticipationResponse](t, doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID}))
	second := decodeData[dto.ParticipationResponse](t, doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID}))
	require.Equal(t, first.ID, second.ID)
}

func TestParticipationJoinRejectsClosedEvent(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, event := seedAssessmentFixture(t, db)
	require.NoError(t, db.Model(&models.Event{}).Where("id = ?", event.ID).Update("state", models.EventStateClosed).Error)

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestParticipationAnswerAndNavigation(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, event := seedAssessmentFixture(t, db)

	participation := decodeData[dto.ParticipationResponse](t, doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID}))
	base := fmt.Sprintf("/api/v1/participations/%d", participation.ID)

	var choiceSlot *dto.SubmissionSlotResponse
	for i := range participation.Slots {
		if len(participation.Slots[i].Exercise.Choices) > 0 {
			choiceSlot = &participation.Slots[i]
		}
	}
	require.NotNil(t, choiceSlot)

	answerURL := fmt.Sprintf("%s/slots/%d/answer", base, choiceSlot.SlotNumber)
	resp := doJSON(t, app, fiber.MethodPut, answerURL, student.ID, "student", dto.AnswerRequest{SelectedChoices: []uint{choiceSlot.Exercise.Choices[0].ID}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	saved := decodeData[dto.SubmissionSlotResponse](t, resp)
	require.NotNil(t, saved.AnsweredAt)

	resp = doJSON(t, app, fiber.MethodPost, base+"/forward", student.ID, "student", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	next := decodeData[dto.SubmissionSlotResponse](t, resp)
	require.Equal(t, 1, next.SlotNumber)
	require.NotNil(t, next.SeenAt)

	resp = doJSON(t, app, fiber.MethodPost, base+"/forward", student.ID, "student", nil)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, fiber.MethodPost, base+"/back", student.ID, "student", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	prev := decodeData[dto.SubmissionSlotResponse](t, resp)
	require.Equal(t, 0, prev.SlotNumber)
}

func TestParticipationTurnInIsTerminal(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, event := seedAssessmentFixture(t, db)

	participation := decodeData[dto.ParticipationResponse](t, doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID}))
	base := fmt.Sprintf("/api/v1/participations/%d", participation.ID)

	resp := doJSON(t, app, fiber.MethodPost, base+"/turn-in", student.ID, "student", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	turnedIn := decodeData[dto.ParticipationResponse](t, resp)
	require.Equal(t, string(models.ParticipationTurnedIn), turnedIn.State)
	require.NotNil(t, turnedIn.EndTimestamp)

	resp = doJSON(t, app, fiber.MethodPost, base+"/turn-in", student.ID, "student", nil)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, fiber.MethodPut, base+"/slots/0/answer", student.ID, "student", dto.AnswerRequest{AnswerText: "late"})
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestAssessmentRequiresGraderRole(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, event := seedAssessmentFixture(t, db)

	participation := decodeData[dto.ParticipationResponse](t, doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID}))
	target := fmt.Sprintf("/api/v1/participations/%d/assessment", participation.ID)

	resp := doJSON(t, app, fiber.MethodGet, target, student.ID, "student", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, app, fiber.MethodGet, target, 2, "teacher", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assessment := decodeData[dto.AssessmentResponse](t, resp)
	require.Equal(t, participation.ID, assessment.ParticipationID)
	require.True(t, assessment.Pending)
}

func TestAssessmentOverrideFlow(t *testing.T) {
	app, db := setupAssessmentApp(t)
	student, event := seedAssessmentFixture(t, db)

	participation := decodeData[dto.ParticipationResponse](t, doJSON(t, app, fiber.MethodPost, "/api/v1/participations", student.ID, "student", dto.ParticipationRequest{EventID: event.ID}))
	target := fmt.Sprintf("/api/v1/participations/%d/assessment/slots/1", participation.ID)

	resp := doJSON(t, app, fiber.MethodPut, target, 2, "teacher", dto.AssessmentOverrideRequest{Score: "0.5", Comment: "half right"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	slot := decodeData[dto.AssessmentSlotResponse](t, resp)
	require.NotNil(t, slot.Score)
	require.Equal(t, "0.5", slot.Score.String())
	require.Equal(t, "half right", slot.Comment)

	resp = doJSON(t, app, fiber.MethodPut, target, 2, "teacher", dto.AssessmentOverrideRequest{Score: "not-a-number"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
