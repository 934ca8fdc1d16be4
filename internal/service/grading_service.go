package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/grading"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
	"github.com/evo-learning/assess-api/pkg/ai"
	"github.com/evo-learning/assess-api/pkg/sandbox"
)

var (
	// ErrInvalidScore indicates an override score that is not a decimal number.
	ErrInvalidScore = errors.New("score is not a valid decimal")
	// ErrAdvisorUnavailable indicates no AI advisor is configured.
	ErrAdvisorUnavailable = errors.New("grading advisor not configured")
	// ErrNotSuggestible rejects suggestion requests for slots the advisor
	// cannot help with.
	ErrNotSuggestible = errors.New("slot has no answer suitable for a suggestion")
)

// GradingService computes slot scores and participation totals. Automatic
// scores are derived on demand and never persisted; only teacher overrides
// are stored, so a stored score always wins over the computed one.
type GradingService interface {
	AssessParticipation(ctx context.Context, participationID uint) (dto.AssessmentResponse, error)
	AssessSlot(ctx context.Context, participationID uint, slotNumber int) (dto.AssessmentSlotResponse, error)
	Override(ctx context.Context, participationID uint, slotNumber int, req dto.AssessmentOverrideRequest) (dto.AssessmentSlotResponse, error)
	Suggest(ctx context.Context, participationID uint, slotNumber int) (dto.SuggestionResponse, error)
}

type gradingService struct {
	participations repository.ParticipationRepository
	advisor        ai.Advisor
	sanitizer      *bluemonday.Policy
	logger         zerolog.Logger
}

// NewGradingService builds a new grading service. The advisor is optional.
func NewGradingService(
	participations repository.ParticipationRepository,
	advisor ai.Advisor,
	logger zerolog.Logger,
) GradingService {
	return &gradingService{
		participations: participations,
		advisor:        advisor,
		sanitizer:      bluemonday.UGCPolicy(),
		logger:         logger.With().Str("component", "grading_service").Logger(),
	}
}

// AssessParticipation grades every base slot and sums the scores. The total
// is nil while any slot still needs manual grading.
func (s *gradingService) AssessParticipation(ctx context.Context, participationID uint) (dto.AssessmentResponse, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}

	mode := grading.ModeForEvent(participation.Event.Kind)
	response := dto.AssessmentResponse{ParticipationID: participation.ID}
	total := decimal.Zero

	for _, slot := range baseSubmissionSlots(participation) {
		graded, err := s.assessOne(ctx, participation, slot, mode)
		if err != nil {
			return dto.AssessmentResponse{}, err
		}
		response.Slots = append(response.Slots, graded)
		if graded.Score == nil {
			response.Pending = true
		} else {
			total = total.Add(*graded.Score)
		}
	}

	if !response.Pending {
		response.Score = &total
	}
	return response, nil
}

func (s *gradingService) AssessSlot(ctx context.Context, participationID uint, slotNumber int) (dto.AssessmentSlotResponse, error) {
	participation, err := s.getParticipation(ctx, participationID)
	if err != nil {
		return dto.AssessmentSlotResponse{}, err
	}

	slot, err := s.participations.GetSubmissionSlotByNumber(ctx, participationID, slotNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssessmentSlotResponse{}, ErrSlotNotFound
		}
		return dto.AssessmentSlotResponse{}, err
	}

	return s.assessOne(ctx, participation, slot, grading.ModeForEvent(participation.Event.Kind))
}

// Override stores a teacher-assigned score and comment for a base slot. The
// comment is sanitized before persisting since it is rendered to students.
func (s *gradingService) Override(ctx context.Context, participationID uint, slotNumber int, req dto.AssessmentOverrideRequest) (dto.AssessmentSlotResponse, error) {
	score, err := decimal.NewFromString(req.Score)
	if err != nil {
		return dto.AssessmentSlotResponse{}, ErrInvalidScore
	}

	assessment, err := s.participations.GetAssessmentSlotByNumber(ctx, participationID, slotNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssessmentSlotResponse{}, ErrSlotNotFound
		}
		return dto.AssessmentSlotResponse{}, err
	}

	assessment.Score = &score
	assessment.Comment = s.sanitizer.Sanitize(req.Comment)
	if err := s.participations.UpdateAssessmentSlot(ctx, &assessment); err != nil {
		return dto.AssessmentSlotResponse{}, err
	}

	s.logger.Info().
		Uint("participation_id", participationID).
		Int("slot_number", slotNumber).
		Str("score", score.String()).
		Msg("slot score overridden")
	return dto.NewAssessmentSlotResponse(assessment), nil
}

// Suggest asks the AI advisor to draft grading feedback for an open answer.
func (s *gradingService) Suggest(ctx context.Context, participationID uint, slotNumber int) (dto.SuggestionResponse, error) {
	if s.advisor == nil {
		return dto.SuggestionResponse{}, ErrAdvisorUnavailable
	}

	slot, err := s.participations.GetSubmissionSlotByNumber(ctx, participationID, slotNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SuggestionResponse{}, ErrSlotNotFound
		}
		return dto.SuggestionResponse{}, err
	}
	if !slot.Exercise.Kind.NeedsManualGrading() || slot.AnswerText == "" {
		return dto.SuggestionResponse{}, ErrNotSuggestible
	}

	maxScore := slot.Exercise.EffectiveMaxScore()
	suggestion, err := s.advisor.Suggest(ctx, ai.SuggestionInput{
		ExerciseText: slot.Exercise.Text,
		Solution:     slot.Exercise.Solution,
		AnswerText:   slot.AnswerText,
		MaxScore:     maxScore.String(),
	})
	if err != nil {
		return dto.SuggestionResponse{}, err
	}
	return dto.SuggestionResponse{
		SlotNumber: slotNumber,
		Suggestion: suggestion.Feedback,
	}, nil
}

// assessOne resolves one base slot: a stored (teacher) score wins, otherwise
// the score is computed from the answer.
func (s *gradingService) assessOne(ctx context.Context, participation models.EventParticipation, slot models.SubmissionSlot, mode grading.Mode) (dto.AssessmentSlotResponse, error) {
	stored, err := s.participations.GetAssessmentSlotByNumber(ctx, participation.ID, slot.SlotNumber)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AssessmentSlotResponse{}, err
	}
	if err == nil && stored.IsGraded() {
		return dto.NewAssessmentSlotResponse(stored), nil
	}

	view := buildSlotView(slot)
	score, err := grading.Assess(view, ruleWeightFor(participation, slot.SlotNumber), mode)
	if err != nil {
		return dto.AssessmentSlotResponse{}, err
	}

	return dto.AssessmentSlotResponse{
		SlotNumber: slot.SlotNumber,
		Score:      score,
		Comment:    stored.Comment,
		Pending:    score == nil,
	}, nil
}

func (s *gradingService) getParticipation(ctx context.Context, id uint) (models.EventParticipation, error) {
	participation, err := s.participations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.EventParticipation{}, ErrParticipationNotFound
		}
		return models.EventParticipation{}, err
	}
	return participation, nil
}

// buildSlotView converts a persisted slot (and its sub-slots) into the view
// the scoring core evaluates.
func buildSlotView(slot models.SubmissionSlot) grading.SlotView {
	view := grading.SlotView{
		Exercise: slot.Exercise,
		Answer: grading.Answer{
			Text:              slot.AnswerText,
			SelectedChoiceIDs: slot.SelectedChoices,
			HasAttachment:     slot.AttachmentURL != "",
		},
	}
	if len(slot.ExecutionResults) > 0 {
		var results sandbox.ExecutionResults
		if err := json.Unmarshal(slot.ExecutionResults, &results); err == nil {
			view.Answer.ExecutionResults = &results
		}
	}
	subs := append([]models.SubmissionSlot(nil), slot.SubSlots...)
	sort.Slice(subs, func(i, j int) bool { return subs[i].SlotNumber < subs[j].SlotNumber })
	for _, sub := range subs {
		view.Sub = append(view.Sub, buildSlotView(sub))
	}
	return view
}

// baseSubmissionSlots returns the participation's top-level slots in order,
// with their sub-slots attached from the flat preloaded list.
func baseSubmissionSlots(participation models.EventParticipation) []models.SubmissionSlot {
	base := make([]models.SubmissionSlot, 0, len(participation.SubmissionSlots))
	for _, slot := range participation.SubmissionSlots {
		if slot.ParentID != nil {
			continue
		}
		for _, candidate := range participation.SubmissionSlots {
			if candidate.ParentID != nil && *candidate.ParentID == slot.ID {
				slot.SubSlots = append(slot.SubSlots, candidate)
			}
		}
		base = append(base, slot)
	}
	sort.Slice(base, func(i, j int) bool { return base[i].SlotNumber < base[j].SlotNumber })
	return base
}

// ruleWeightFor looks up the weight of the rule that produced the slot. Slots
// without a rule weigh 1.
func ruleWeightFor(participation models.EventParticipation, slotNumber int) decimal.Decimal {
	for _, slot := range participation.Instance.Slots {
		if slot.ParentID == nil && slot.SlotNumber == slotNumber && slot.Rule != nil {
			return slot.Rule.Weight
		}
	}
	return decimal.NewFromInt(1)
}
