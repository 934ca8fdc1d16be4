package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
)

var (
	// ErrEventNotFound indicates the requested event does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventNotOpen indicates the event does not accept participations.
	ErrEventNotOpen = errors.New("event is not open")
	// ErrEventHasNoTemplate indicates the event cannot be materialized.
	ErrEventHasNoTemplate = errors.New("event has no template")
	// ErrParticipationNotFound indicates the participation does not exist.
	ErrParticipationNotFound = errors.New("participation not found")
	// ErrParticipationTurnedIn rejects writes against a turned in participation.
	ErrParticipationTurnedIn = errors.New("participation already turned in")
	// ErrCursorOutOfRange rejects navigation past either end of the slot list.
	ErrCursorOutOfRange = errors.New("cursor out of range")
	// ErrGoingBackNotAllowed rejects backward navigation when the event forbids it.
	ErrGoingBackNotAllowed = errors.New("going back is not allowed in this event")
	// ErrTimeUp rejects writes after the participation's time limit ran out.
	ErrTimeUp = errors.New("time limit exceeded")
)

// timeLimitGrace absorbs clock skew and in-flight requests: writes are still
// accepted this long after the nominal deadline.
const timeLimitGrace = 30 * time.Second

// ParticipationService manages a user's attempt at an event, from joining to
// turning in.
type ParticipationService interface {
	Create(ctx context.Context, userID, eventID uint) (dto.ParticipationResponse, error)
	Get(ctx context.Context, participationID uint, forStudent bool) (dto.ParticipationResponse, error)
	CurrentSlot(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error)
	MoveForward(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error)
	MoveBack(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error)
	TurnIn(ctx context.Context, participationID uint) (dto.ParticipationResponse, error)
	// CheckWritable returns the participation when it still accepts answer
	// writes, and a sentinel error otherwise.
	CheckWritable(ctx context.Context, participationID uint) (models.EventParticipation, error)
}

type participationService struct {
	events         repository.EventRepository
	instances      repository.InstanceRepository
	participations repository.ParticipationRepository
	users          repository.UserRepository
	picker         PickerService
	cache          *redis.Client
	cacheTTL       time.Duration
	logger         zerolog.Logger
	now            func() time.Time
}

// NewParticipationService builds a new participation service. The redis
// client is optional; without it instance lookups always hit the database.
func NewParticipationService(
	events repository.EventRepository,
	instances repository.InstanceRepository,
	participations repository.ParticipationRepository,
	users repository.UserRepository,
	picker PickerService,
	cache *redis.Client,
	cacheTTL time.Duration,
	logger zerolog.Logger,
) ParticipationService {
	return &participationService{
		events:         events,
		instances:      instances,
		participations: participations,
		users:          users,
		picker:         picker,
		cache:          cache,
		cacheTTL:       cacheTTL,
		logger:         logger.With().Str("component", "participation_service").Logger(),
		now:            time.Now,
	}
}

// Create joins the user to the event. Joining twice returns the existing
// participation. The first participation of an event materializes the shared
// event instance; a concurrent first join is resolved through the unique
// constraints on instances and participations.
func (s *participationService) Create(ctx context.Context, userID, eventID uint) (dto.ParticipationResponse, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ParticipationResponse{}, ErrEventNotFound
		}
		return dto.ParticipationResponse{}, err
	}
	if event.State != models.EventStateOpen && event.State != models.EventStateRestricted {
		return dto.ParticipationResponse{}, ErrEventNotOpen
	}

	existing, err := s.participations.GetByUserAndEvent(ctx, userID, eventID)
	if err == nil {
		return dto.NewParticipationResponse(existing, true), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ParticipationResponse{}, err
	}

	instance, err := s.instanceForEvent(ctx, userID, event)
	if err != nil {
		return dto.ParticipationResponse{}, err
	}

	participation := models.EventParticipation{
		UserID:     userID,
		EventID:    eventID,
		InstanceID: instance.ID,
		State:      models.ParticipationInProgress,
	}
	seen := s.now()
	for _, slot := range instance.BaseSlots() {
		submission := models.SubmissionSlot{
			SlotNumber: slot.SlotNumber,
			ExerciseID: slot.ExerciseID,
			Exercise:   slot.Exercise,
		}
		assessment := models.AssessmentSlot{
			SlotNumber: slot.SlotNumber,
			ExerciseID: slot.ExerciseID,
		}
		if slot.SlotNumber == 0 {
			submission.SeenAt = &seen
		}
		for _, sub := range subSlotsOf(instance, slot.ID) {
			submission.SubSlots = append(submission.SubSlots, models.SubmissionSlot{
				SlotNumber: sub.SlotNumber,
				ExerciseID: sub.ExerciseID,
				Exercise:   sub.Exercise,
			})
			assessment.SubSlots = append(assessment.SubSlots, models.AssessmentSlot{
				SlotNumber: sub.SlotNumber,
				ExerciseID: sub.ExerciseID,
			})
		}
		participation.SubmissionSlots = append(participation.SubmissionSlots, submission)
		participation.AssessmentSlots = append(participation.AssessmentSlots, assessment)
	}

	if err := s.participations.Create(ctx, &participation); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, err := s.participations.GetByUserAndEvent(ctx, userID, eventID)
			if err != nil {
				return dto.ParticipationResponse{}, err
			}
			return dto.NewParticipationResponse(existing, true), nil
		}
		return dto.ParticipationResponse{}, err
	}

	created, err := s.participations.GetByID(ctx, participation.ID)
	if err != nil {
		return dto.ParticipationResponse{}, err
	}
	s.logger.Info().
		Uint("user_id", userID).
		Uint("event_id", eventID).
		Uint("participation_id", created.ID).
		Msg("participation created")
	return dto.NewParticipationResponse(created, true), nil
}

func (s *participationService) Get(ctx context.Context, participationID uint, forStudent bool) (dto.ParticipationResponse, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return dto.ParticipationResponse{}, err
	}
	return dto.NewParticipationResponse(participation, forStudent), nil
}

func (s *participationService) CurrentSlot(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	return s.slotResponse(ctx, participation, participation.CurrentSlotNumber)
}

// MoveForward advances the cursor by one slot and stamps the newly revealed
// slot as seen.
func (s *participationService) MoveForward(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	if participation.IsTurnedIn() {
		return dto.SubmissionSlotResponse{}, ErrParticipationTurnedIn
	}
	if participation.CurrentSlotNumber >= participation.Instance.LastSlotNumber() {
		return dto.SubmissionSlotResponse{}, ErrCursorOutOfRange
	}

	participation.CurrentSlotNumber++
	if err := s.participations.Update(ctx, &participation); err != nil {
		return dto.SubmissionSlotResponse{}, err
	}

	slot, err := s.participations.GetSubmissionSlotByNumber(ctx, participation.ID, participation.CurrentSlotNumber)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	if slot.SeenAt == nil {
		seen := s.now()
		slot.SeenAt = &seen
		if err := s.participations.UpdateSubmissionSlot(ctx, &slot); err != nil {
			return dto.SubmissionSlotResponse{}, err
		}
	}
	return dto.NewSubmissionSlotResponse(slot, true), nil
}

// MoveBack moves the cursor back by one slot, unless the event forbids
// revisiting earlier slots.
func (s *participationService) MoveBack(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	if participation.IsTurnedIn() {
		return dto.SubmissionSlotResponse{}, ErrParticipationTurnedIn
	}
	if !participation.Event.AllowGoingBack {
		return dto.SubmissionSlotResponse{}, ErrGoingBackNotAllowed
	}
	if participation.CurrentSlotNumber <= 0 {
		return dto.SubmissionSlotResponse{}, ErrCursorOutOfRange
	}

	participation.CurrentSlotNumber--
	if err := s.participations.Update(ctx, &participation); err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	return s.slotResponse(ctx, participation, participation.CurrentSlotNumber)
}

// TurnIn moves the participation to its terminal state. Turning in twice is
// rejected; there is no way back to in_progress.
func (s *participationService) TurnIn(ctx context.Context, participationID uint) (dto.ParticipationResponse, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return dto.ParticipationResponse{}, err
	}
	if participation.IsTurnedIn() {
		return dto.ParticipationResponse{}, ErrParticipationTurnedIn
	}

	end := s.now()
	participation.State = models.ParticipationTurnedIn
	participation.EndTimestamp = &end
	if err := s.participations.Update(ctx, &participation); err != nil {
		return dto.ParticipationResponse{}, err
	}
	s.logger.Info().
		Uint("participation_id", participation.ID).
		Uint("event_id", participation.EventID).
		Msg("participation turned in")
	return dto.NewParticipationResponse(participation, true), nil
}

// CheckWritable verifies the participation is still in progress and inside
// its time limit. The per-user limit honors event exceptions, and a short
// grace period absorbs requests already in flight at the deadline.
func (s *participationService) CheckWritable(ctx context.Context, participationID uint) (models.EventParticipation, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return models.EventParticipation{}, err
	}
	if participation.IsTurnedIn() {
		return models.EventParticipation{}, ErrParticipationTurnedIn
	}

	user, err := s.users.GetByID(ctx, participation.UserID)
	if err != nil {
		return models.EventParticipation{}, err
	}
	limit := participation.Event.EffectiveTimeLimit(user.Email)
	if limit == nil {
		return participation, nil
	}
	deadline := participation.BeginTimestamp.
		Add(time.Duration(*limit * float64(time.Second))).
		Add(timeLimitGrace)
	if s.now().After(deadline) {
		return models.EventParticipation{}, ErrTimeUp
	}
	return participation, nil
}

func (s *participationService) getParticipation(ctx context.Context, id uint) (models.EventParticipation, error) {
	participation, err := s.participations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.EventParticipation{}, ErrParticipationNotFound
		}
		return models.EventParticipation{}, err
	}
	return participation, nil
}

func (s *participationService) slotResponse(ctx context.Context, participation models.EventParticipation, slotNumber int) (dto.SubmissionSlotResponse, error) {
	slot, err := s.participations.GetSubmissionSlotByNumber(ctx, participation.ID, slotNumber)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	return dto.NewSubmissionSlotResponse(slot, true), nil
}

// instanceForEvent returns the event's instance, creating it on first use.
// Instances are immutable, so cache hits never serve stale data.
func (s *participationService) instanceForEvent(ctx context.Context, userID uint, event models.Event) (models.EventInstance, error) {
	cacheKey := fmt.Sprintf("event_instance:%d", event.ID)
	if s.cache != nil {
		if payload, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached models.EventInstance
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
			s.logger.Warn().Uint("event_id", event.ID).Msg("discarding malformed cached instance")
		}
	}

	instance, err := s.instances.GetByEvent(ctx, event.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		instance, err = s.materializeInstance(ctx, userID, event)
	}
	if err != nil {
		return models.EventInstance{}, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(instance); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Uint("event_id", event.ID).Msg("instance cache write failed")
			}
		}
	}
	return instance, nil
}

func (s *participationService) materializeInstance(ctx context.Context, userID uint, event models.Event) (models.EventInstance, error) {
	if event.Template == nil {
		return models.EventInstance{}, ErrEventHasNoTemplate
	}

	opts := PickOptions{
		PublicOnly:   event.Kind == models.EventKindSelfServicePractice,
		ShuffleSlots: event.RandomizeRuleOrder,
	}
	if event.Kind == models.EventKindSelfServicePractice {
		// Practice runs should surface fresh material, so exercises the
		// materializing user already worked on are left out of the draw.
		seen, err := s.participations.SeenExerciseIDs(ctx, userID)
		if err != nil {
			return models.EventInstance{}, err
		}
		opts.ExcludeIDs = seen
	}

	picked, err := s.picker.Pick(ctx, *event.Template, opts)
	if err != nil {
		return models.EventInstance{}, err
	}

	instance := models.EventInstance{EventID: event.ID}
	for i, pick := range picked {
		ruleID := pick.Rule.ID
		slot := models.EventInstanceSlot{
			SlotNumber: i,
			ExerciseID: pick.Exercise.ID,
			Exercise:   pick.Exercise,
			RuleID:     &ruleID,
		}
		for j, sub := range pick.Exercise.SubExercises {
			slot.SubSlots = append(slot.SubSlots, models.EventInstanceSlot{
				SlotNumber: j,
				ExerciseID: sub.ID,
				Exercise:   sub,
			})
		}
		instance.Slots = append(instance.Slots, slot)
	}

	if err := s.instances.Create(ctx, &instance); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.instances.GetByEvent(ctx, event.ID)
		}
		return models.EventInstance{}, err
	}
	s.logger.Info().
		Uint("event_id", event.ID).
		Int("slots", len(picked)).
		Msg("event instance materialized")
	return s.instances.GetByEvent(ctx, event.ID)
}

func subSlotsOf(instance models.EventInstance, parentID uint) []models.EventInstanceSlot {
	subs := make([]models.EventInstanceSlot, 0)
	for _, slot := range instance.Slots {
		if slot.ParentID != nil && *slot.ParentID == parentID {
			subs = append(subs, slot)
		}
	}
	return subs
}
