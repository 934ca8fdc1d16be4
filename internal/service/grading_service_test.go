package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/pkg/ai"
)

type stubAdvisor struct {
	input ai.SuggestionInput
	err   error
}

func (s *stubAdvisor) Suggest(ctx context.Context, input ai.SuggestionInput) (ai.Suggestion, error) {
	s.input = input
	if s.err != nil {
		return ai.Suggestion{}, s.err
	}
	return ai.Suggestion{Score: 0.5, Feedback: "cover the edge cases"}, nil
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	require.NoError(t, err)
	return d
}

func scoredChoiceExercise(t *testing.T, id uint) models.Exercise {
	return models.Exercise{
		ID:   id,
		Kind: models.ExerciseKindMultipleChoiceSingle,
		Choices: []models.ExerciseChoice{
			{ID: id*10 + 1, Correctness: dec(t, "1")},
			{ID: id*10 + 2, Correctness: dec(t, "0")},
		},
	}
}

// gradedParticipation has two single-choice slots: slot 0 answered right
// under a weight-2 rule, slot 1 answered wrong under a weight-1 rule.
func gradedParticipation(t *testing.T, repo *stubParticipationRepo, kind models.EventKind) models.EventParticipation {
	heavy := models.EventTemplateRule{ID: 1, Weight: dec(t, "2")}
	light := models.EventTemplateRule{ID: 2, Weight: dec(t, "1")}
	right := scoredChoiceExercise(t, 1)
	wrong := scoredChoiceExercise(t, 2)

	return repo.add(models.EventParticipation{
		UserID:  42,
		EventID: 1,
		Event:   models.Event{ID: 1, Kind: kind},
		Instance: models.EventInstance{
			ID:      1,
			EventID: 1,
			Slots: []models.EventInstanceSlot{
				{ID: 100, SlotNumber: 0, ExerciseID: right.ID, RuleID: &heavy.ID, Rule: &heavy},
				{ID: 101, SlotNumber: 1, ExerciseID: wrong.ID, RuleID: &light.ID, Rule: &light},
			},
		},
		SubmissionSlots: []models.SubmissionSlot{
			{SlotNumber: 0, ExerciseID: right.ID, Exercise: right, SelectedChoices: []uint{11}},
			{SlotNumber: 1, ExerciseID: wrong.ID, Exercise: wrong, SelectedChoices: []uint{22}},
		},
		AssessmentSlots: []models.AssessmentSlot{
			{SlotNumber: 0, ExerciseID: right.ID},
			{SlotNumber: 1, ExerciseID: wrong.ID},
		},
	})
}

func TestAssessParticipationSumsWeightedScores(t *testing.T) {
	repo := newStubParticipationRepo()
	p := gradedParticipation(t, repo, models.EventKindExam)
	svc := NewGradingService(repo, nil, zerolog.Nop())

	resp, err := svc.AssessParticipation(context.Background(), p.ID)
	require.NoError(t, err)
	require.False(t, resp.Pending)
	require.NotNil(t, resp.Score)
	require.True(t, resp.Score.Equal(dec(t, "2")), "got %s", resp.Score)
	require.True(t, resp.Slots[0].Score.Equal(dec(t, "2")))
	require.True(t, resp.Slots[1].Score.Equal(dec(t, "0")))
}

func TestAssessParticipationPendingWithManualSlot(t *testing.T) {
	repo := newStubParticipationRepo()
	open := models.Exercise{ID: 3, Kind: models.ExerciseKindOpenAnswer, MaxScore: ptr(dec(t, "4"))}
	p := repo.add(models.EventParticipation{
		UserID:  42,
		EventID: 1,
		Event:   models.Event{ID: 1, Kind: models.EventKindExam},
		SubmissionSlots: []models.SubmissionSlot{
			{SlotNumber: 0, ExerciseID: open.ID, Exercise: open, AnswerText: "my essay"},
		},
		AssessmentSlots: []models.AssessmentSlot{
			{SlotNumber: 0, ExerciseID: open.ID},
		},
	})
	svc := NewGradingService(repo, nil, zerolog.Nop())

	resp, err := svc.AssessParticipation(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, resp.Pending)
	require.Nil(t, resp.Score)
	require.Nil(t, resp.Slots[0].Score)
}

func TestAssessParticipationSelfPracticeScoresManualSlotsZero(t *testing.T) {
	repo := newStubParticipationRepo()
	open := models.Exercise{ID: 3, Kind: models.ExerciseKindOpenAnswer, MaxScore: ptr(dec(t, "4"))}
	p := repo.add(models.EventParticipation{
		UserID:  42,
		EventID: 1,
		Event:   models.Event{ID: 1, Kind: models.EventKindSelfServicePractice},
		SubmissionSlots: []models.SubmissionSlot{
			{SlotNumber: 0, ExerciseID: open.ID, Exercise: open},
		},
		AssessmentSlots: []models.AssessmentSlot{
			{SlotNumber: 0, ExerciseID: open.ID},
		},
	})
	svc := NewGradingService(repo, nil, zerolog.Nop())

	resp, err := svc.AssessParticipation(context.Background(), p.ID)
	require.NoError(t, err)
	require.False(t, resp.Pending)
	require.NotNil(t, resp.Score)
	require.True(t, resp.Score.IsZero())
}

func TestOverrideWinsOverComputedScore(t *testing.T) {
	repo := newStubParticipationRepo()
	p := gradedParticipation(t, repo, models.EventKindExam)
	svc := NewGradingService(repo, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Override(ctx, p.ID, 0, dto.AssessmentOverrideRequest{
		Score:   "0.5",
		Comment: `partially right <script>alert("x")</script>`,
	})
	require.NoError(t, err)

	slot, err := svc.AssessSlot(ctx, p.ID, 0)
	require.NoError(t, err)
	require.True(t, slot.Score.Equal(dec(t, "0.5")))
	require.Equal(t, "partially right ", slot.Comment)
	require.False(t, slot.Pending)

	total, err := svc.AssessParticipation(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, total.Score.Equal(dec(t, "0.5")))
}

func TestOverrideRejectsMalformedScore(t *testing.T) {
	repo := newStubParticipationRepo()
	p := gradedParticipation(t, repo, models.EventKindExam)
	svc := NewGradingService(repo, nil, zerolog.Nop())

	_, err := svc.Override(context.Background(), p.ID, 0, dto.AssessmentOverrideRequest{Score: "a lot"})
	require.ErrorIs(t, err, ErrInvalidScore)
}

func TestSuggestDraftsFeedbackForOpenAnswers(t *testing.T) {
	repo := newStubParticipationRepo()
	open := models.Exercise{
		ID:       3,
		Kind:     models.ExerciseKindOpenAnswer,
		Text:     "Explain TCP slow start.",
		Solution: "Window doubles per RTT until ssthresh.",
		MaxScore: ptr(dec(t, "4")),
	}
	p := repo.add(models.EventParticipation{
		UserID:  42,
		EventID: 1,
		SubmissionSlots: []models.SubmissionSlot{
			{SlotNumber: 0, ExerciseID: open.ID, Exercise: open, AnswerText: "it grows the window"},
		},
	})
	advisor := &stubAdvisor{}
	svc := NewGradingService(repo, advisor, zerolog.Nop())

	resp, err := svc.Suggest(context.Background(), p.ID, 0)
	require.NoError(t, err)
	require.Equal(t, "cover the edge cases", resp.Suggestion)
	require.Equal(t, "it grows the window", advisor.input.AnswerText)
	require.Equal(t, "4", advisor.input.MaxScore)
}

func TestSuggestRequiresAnswerAndAdvisor(t *testing.T) {
	repo := newStubParticipationRepo()
	open := models.Exercise{ID: 3, Kind: models.ExerciseKindOpenAnswer}
	p := repo.add(models.EventParticipation{
		UserID:  42,
		EventID: 1,
		SubmissionSlots: []models.SubmissionSlot{
			{SlotNumber: 0, ExerciseID: open.ID, Exercise: open},
		},
	})
	ctx := context.Background()

	svc := NewGradingService(repo, &stubAdvisor{}, zerolog.Nop())
	_, err := svc.Suggest(ctx, p.ID, 0)
	require.ErrorIs(t, err, ErrNotSuggestible)

	svc = NewGradingService(repo, nil, zerolog.Nop())
	_, err = svc.Suggest(ctx, p.ID, 0)
	require.ErrorIs(t, err, ErrAdvisorUnavailable)
}
