package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
)

var (
	// ErrSlotNotFound indicates the addressed slot does not exist.
	ErrSlotNotFound = errors.New("submission slot not found")
	// ErrInvalidChoice indicates a selected choice that does not belong to the exercise.
	ErrInvalidChoice = errors.New("selected choice does not belong to the exercise")
	// ErrSingleChoiceOnly rejects multiple selections on a single-choice exercise.
	ErrSingleChoiceOnly = errors.New("exercise accepts a single selection")
	// ErrNotAttachmentExercise rejects file uploads on non-attachment exercises.
	ErrNotAttachmentExercise = errors.New("exercise does not accept attachments")
	// ErrUnsupportedAttachment rejects files outside the accepted formats.
	ErrUnsupportedAttachment = errors.New("unsupported attachment format")
)

// allowedAttachmentTypes lists the MIME types accepted for attachment answers.
var allowedAttachmentTypes = []string{
	"application/pdf",
	"application/zip",
	"image/png",
	"image/jpeg",
	"text/plain",
}

// FileUploader persists attachment answers and returns a stable URL.
type FileUploader interface {
	Upload(ctx context.Context, folder, filename string, data []byte) (string, error)
}

// SlotRef addresses a slot inside a participation. SubSlotNumber is set when
// the answer targets a sub-exercise of a composite slot.
type SlotRef struct {
	SlotNumber    int
	SubSlotNumber *int
}

// SubmissionService records student answers. Every write goes through the
// participation's writability check, so answers to turned in or timed out
// participations are rejected at this boundary.
type SubmissionService interface {
	SaveAnswer(ctx context.Context, participationID uint, ref SlotRef, req dto.AnswerRequest) (dto.SubmissionSlotResponse, error)
	SaveAttachment(ctx context.Context, participationID uint, ref SlotRef, filename string, data []byte) (dto.SubmissionSlotResponse, error)
}

type submissionService struct {
	participations repository.ParticipationRepository
	guard          ParticipationService
	uploader       FileUploader
	logger         zerolog.Logger
	now            func() time.Time
}

// NewSubmissionService builds a new submission service.
func NewSubmissionService(
	participations repository.ParticipationRepository,
	guard ParticipationService,
	uploader FileUploader,
	logger zerolog.Logger,
) SubmissionService {
	return &submissionService{
		participations: participations,
		guard:          guard,
		uploader:       uploader,
		logger:         logger.With().Str("component", "submission_service").Logger(),
		now:            time.Now,
	}
}

// SaveAnswer stores an answer text or choice selection into the slot. The
// selection must reference choices of the slot's exercise, and single-choice
// exercises accept at most one selection.
func (s *submissionService) SaveAnswer(ctx context.Context, participationID uint, ref SlotRef, req dto.AnswerRequest) (dto.SubmissionSlotResponse, error) {
	participation, err := s.guard.CheckWritable(ctx, participationID)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}

	slot, err := s.resolveSlot(ctx, participation.ID, ref)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}

	if len(req.SelectedChoices) > 0 {
		if slot.Exercise.Kind == models.ExerciseKindMultipleChoiceSingle && len(req.SelectedChoices) > 1 {
			return dto.SubmissionSlotResponse{}, ErrSingleChoiceOnly
		}
		for _, choiceID := range req.SelectedChoices {
			if _, ok := slot.Exercise.ChoiceByID(choiceID); !ok {
				return dto.SubmissionSlotResponse{}, ErrInvalidChoice
			}
		}
	}

	slot.AnswerText = req.AnswerText
	slot.SelectedChoices = datatypes.NewJSONSlice(req.SelectedChoices)
	s.stampAnswered(&slot)

	if err := s.participations.UpdateSubmissionSlot(ctx, &slot); err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	return dto.NewSubmissionSlotResponse(slot, true), nil
}

// SaveAttachment stores an uploaded file as the slot's answer. The file type
// is sniffed from content, not trusted from the filename.
func (s *submissionService) SaveAttachment(ctx context.Context, participationID uint, ref SlotRef, filename string, data []byte) (dto.SubmissionSlotResponse, error) {
	participation, err := s.guard.CheckWritable(ctx, participationID)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}

	slot, err := s.resolveSlot(ctx, participation.ID, ref)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	if slot.Exercise.Kind != models.ExerciseKindAttachment {
		return dto.SubmissionSlotResponse{}, ErrNotAttachmentExercise
	}

	detected := mimetype.Detect(data)
	allowed := false
	for _, accepted := range allowedAttachmentTypes {
		if detected.Is(accepted) {
			allowed = true
			break
		}
	}
	if !allowed {
		s.logger.Warn().
			Str("mime", detected.String()).
			Uint("participation_id", participationID).
			Msg("rejected attachment upload")
		return dto.SubmissionSlotResponse{}, ErrUnsupportedAttachment
	}

	folder := fmt.Sprintf("participations/%d", participation.ID)
	url, err := s.uploader.Upload(ctx, folder, sanitizeFilename(filename), data)
	if err != nil {
		return dto.SubmissionSlotResponse{}, err
	}

	slot.AttachmentURL = url
	s.stampAnswered(&slot)

	if err := s.participations.UpdateSubmissionSlot(ctx, &slot); err != nil {
		return dto.SubmissionSlotResponse{}, err
	}
	return dto.NewSubmissionSlotResponse(slot, true), nil
}

func (s *submissionService) resolveSlot(ctx context.Context, participationID uint, ref SlotRef) (models.SubmissionSlot, error) {
	slot, err := s.participations.GetSubmissionSlotByNumber(ctx, participationID, ref.SlotNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.SubmissionSlot{}, ErrSlotNotFound
		}
		return models.SubmissionSlot{}, err
	}
	if ref.SubSlotNumber == nil {
		return slot, nil
	}
	sub, err := s.participations.GetSubmissionSubSlot(ctx, slot.ID, *ref.SubSlotNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.SubmissionSlot{}, ErrSlotNotFound
		}
		return models.SubmissionSlot{}, err
	}
	return sub, nil
}

func (s *submissionService) stampAnswered(slot *models.SubmissionSlot) {
	if slot.HasAnswer() {
		if slot.AnsweredAt == nil {
			now := s.now()
			slot.AnsweredAt = &now
		}
	} else {
		slot.AnsweredAt = nil
	}
}

func sanitizeFilename(filename string) string {
	base := path.Base(filename)
	if base == "." || base == "/" || base == "" {
		return "attachment"
	}
	return base
}
