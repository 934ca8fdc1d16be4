package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/models"
)

func choiceExercise(id uint, kind models.ExerciseKind) models.Exercise {
	return models.Exercise{
		ID:   id,
		Kind: kind,
		Choices: []models.ExerciseChoice{
			{ID: 1, ExerciseID: id},
			{ID: 2, ExerciseID: id},
		},
	}
}

func submissionFixture(t *testing.T, exercise models.Exercise) (SubmissionService, *stubParticipationRepo, *stubUploader, models.EventParticipation) {
	t.Helper()
	participations := newStubParticipationRepo()
	participation := participations.add(models.EventParticipation{
		UserID:  42,
		EventID: 1,
		State:   models.ParticipationInProgress,
		SubmissionSlots: []models.SubmissionSlot{
			{SlotNumber: 0, ExerciseID: exercise.ID, Exercise: exercise},
		},
	})
	uploader := &stubUploader{}
	svc := NewSubmissionService(participations, &stubGuard{participation: participation}, uploader, zerolog.Nop())
	return svc, participations, uploader, participation
}

func TestSaveAnswerStoresSelectionAndStampsAnsweredAt(t *testing.T) {
	svc, _, _, p := submissionFixture(t, choiceExercise(10, models.ExerciseKindMultipleChoiceMultiple))

	resp, err := svc.SaveAnswer(context.Background(), p.ID, SlotRef{SlotNumber: 0}, dto.AnswerRequest{
		SelectedChoices: []uint{1, 2},
	})
	require.NoError(t, err)
	require.Equal(t, []uint{1, 2}, resp.SelectedChoices)
	require.NotNil(t, resp.AnsweredAt)
}

func TestSaveAnswerClearingAnswerClearsAnsweredAt(t *testing.T) {
	svc, _, _, p := submissionFixture(t, choiceExercise(10, models.ExerciseKindMultipleChoiceMultiple))
	ctx := context.Background()

	_, err := svc.SaveAnswer(ctx, p.ID, SlotRef{SlotNumber: 0}, dto.AnswerRequest{SelectedChoices: []uint{1}})
	require.NoError(t, err)

	resp, err := svc.SaveAnswer(ctx, p.ID, SlotRef{SlotNumber: 0}, dto.AnswerRequest{})
	require.NoError(t, err)
	require.Nil(t, resp.AnsweredAt)
}

func TestSaveAnswerRejectsForeignChoice(t *testing.T) {
	svc, _, _, p := submissionFixture(t, choiceExercise(10, models.ExerciseKindMultipleChoiceMultiple))

	_, err := svc.SaveAnswer(context.Background(), p.ID, SlotRef{SlotNumber: 0}, dto.AnswerRequest{
		SelectedChoices: []uint{99},
	})
	require.ErrorIs(t, err, ErrInvalidChoice)
}

func TestSaveAnswerRejectsMultipleSelectionsOnSingleChoice(t *testing.T) {
	svc, _, _, p := submissionFixture(t, choiceExercise(10, models.ExerciseKindMultipleChoiceSingle))

	_, err := svc.SaveAnswer(context.Background(), p.ID, SlotRef{SlotNumber: 0}, dto.AnswerRequest{
		SelectedChoices: []uint{1, 2},
	})
	require.ErrorIs(t, err, ErrSingleChoiceOnly)
}

func TestSaveAnswerRejectedWhenTurnedIn(t *testing.T) {
	participations := newStubParticipationRepo()
	svc := NewSubmissionService(participations, &stubGuard{err: ErrParticipationTurnedIn}, &stubUploader{}, zerolog.Nop())

	_, err := svc.SaveAnswer(context.Background(), 1, SlotRef{SlotNumber: 0}, dto.AnswerRequest{AnswerText: "late"})
	require.ErrorIs(t, err, ErrParticipationTurnedIn)
}

func TestSaveAnswerRejectedWhenTimeUp(t *testing.T) {
	participations := newStubParticipationRepo()
	svc := NewSubmissionService(participations, &stubGuard{err: ErrTimeUp}, &stubUploader{}, zerolog.Nop())

	_, err := svc.SaveAnswer(context.Background(), 1, SlotRef{SlotNumber: 0}, dto.AnswerRequest{AnswerText: "late"})
	require.ErrorIs(t, err, ErrTimeUp)
}

func TestSaveAnswerTargetsSubSlot(t *testing.T) {
	sub := choiceExercise(11, models.ExerciseKindMultipleChoiceSingle)
	participations := newStubParticipationRepo()
	participation := participations.add(models.EventParticipation{
		UserID:  42,
		EventID: 1,
		SubmissionSlots: []models.SubmissionSlot{
			{
				SlotNumber: 0,
				ExerciseID: 10,
				Exercise:   models.Exercise{ID: 10, Kind: models.ExerciseKindCompletion},
				SubSlots: []models.SubmissionSlot{
					{SlotNumber: 0, ExerciseID: 11, Exercise: sub},
				},
			},
		},
	})
	svc := NewSubmissionService(participations, &stubGuard{participation: participation}, &stubUploader{}, zerolog.Nop())

	resp, err := svc.SaveAnswer(context.Background(), participation.ID, SlotRef{SlotNumber: 0, SubSlotNumber: ptr(0)}, dto.AnswerRequest{
		SelectedChoices: []uint{2},
	})
	require.NoError(t, err)
	require.Equal(t, []uint{2}, resp.SelectedChoices)
	require.Equal(t, uint(11), resp.Exercise.ID)
}

func TestSaveAttachmentValidatesKindAndContent(t *testing.T) {
	svc, _, _, p := submissionFixture(t, choiceExercise(10, models.ExerciseKindMultipleChoiceSingle))

	_, err := svc.SaveAttachment(context.Background(), p.ID, SlotRef{SlotNumber: 0}, "notes.pdf", []byte("%PDF-1.4"))
	require.ErrorIs(t, err, ErrNotAttachmentExercise)
}

func TestSaveAttachmentRejectsUnknownBinary(t *testing.T) {
	exercise := models.Exercise{ID: 10, Kind: models.ExerciseKindAttachment}
	svc, _, _, p := submissionFixture(t, exercise)

	// An ELF header is not on the accepted list.
	payload := []byte{0x7f, 'E', 'L', 'F', 0x02, 0x01, 0x01, 0x00}
	_, err := svc.SaveAttachment(context.Background(), p.ID, SlotRef{SlotNumber: 0}, "a.out", payload)
	require.ErrorIs(t, err, ErrUnsupportedAttachment)
}

func TestSaveAttachmentStoresFile(t *testing.T) {
	exercise := models.Exercise{ID: 10, Kind: models.ExerciseKindAttachment}
	svc, _, uploader, p := submissionFixture(t, exercise)

	resp, err := svc.SaveAttachment(context.Background(), p.ID, SlotRef{SlotNumber: 0}, "../../escape.pdf", []byte("%PDF-1.4 content"))
	require.NoError(t, err)
	require.Equal(t, "escape.pdf", uploader.filename)
	require.Contains(t, resp.AttachmentURL, "escape.pdf")
	require.NotNil(t, resp.AnsweredAt)
}
