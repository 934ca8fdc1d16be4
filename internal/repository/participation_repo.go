package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/models"
)

// ParticipationRepository defines data operations for event participations
// and their submission/assessment slots.
type ParticipationRepository interface {
	GetByID(ctx context.Context, id uint) (models.EventParticipation, error)
	GetByUserAndEvent(ctx context.Context, userID, eventID uint) (models.EventParticipation, error)
	Create(ctx context.Context, participation *models.EventParticipation) error
	SeenExerciseIDs(ctx context.Context, userID uint) ([]uint, error)
	Update(ctx context.Context, participation *models.EventParticipation) error
	GetSubmissionSlot(ctx context.Context, id uint) (models.SubmissionSlot, error)
	GetSubmissionSlotByNumber(ctx context.Context, participationID uint, slotNumber int) (models.SubmissionSlot, error)
	GetSubmissionSubSlot(ctx context.Context, parentID uint, slotNumber int) (models.SubmissionSlot, error)
	UpdateSubmissionSlot(ctx context.Context, slot *models.SubmissionSlot) error
	GetAssessmentSlot(ctx context.Context, id uint) (models.AssessmentSlot, error)
	GetAssessmentSlotByNumber(ctx context.Context, participationID uint, slotNumber int) (models.AssessmentSlot, error)
	UpdateAssessmentSlot(ctx context.Context, slot *models.AssessmentSlot) error
}

type participationRepository struct {
	db *gorm.DB
}

// NewParticipationRepository instantiates the repository.
func NewParticipationRepository(db *gorm.DB) ParticipationRepository {
	return &participationRepository{db: db}
}

func (r *participationRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.EventParticipation{}).
		Preload("Event").
		Preload("Instance.Slots", func(db *gorm.DB) *gorm.DB {
			return db.Order("slot_number ASC")
		}).
		Preload("Instance.Slots.Exercise.Choices").
		Preload("Instance.Slots.Exercise.SubExercises.Choices").
		Preload("Instance.Slots.Rule").
		Preload("SubmissionSlots", func(db *gorm.DB) *gorm.DB {
			return db.Order("slot_number ASC")
		}).
		Preload("SubmissionSlots.Exercise.Choices").
		Preload("SubmissionSlots.Exercise.SubExercises.Choices").
		Preload("AssessmentSlots", func(db *gorm.DB) *gorm.DB {
			return db.Order("slot_number ASC")
		})
}

func (r *participationRepository) GetByID(ctx context.Context, id uint) (models.EventParticipation, error) {
	var participation models.EventParticipation
	if err := r.baseQuery(ctx).First(&participation, id).Error; err != nil {
		return models.EventParticipation{}, err
	}
	return participation, nil
}

func (r *participationRepository) GetByUserAndEvent(ctx context.Context, userID, eventID uint) (models.EventParticipation, error) {
	var participation models.EventParticipation
	err := r.baseQuery(ctx).
		Where("user_id = ?", userID).
		Where("event_id = ?", eventID).
		First(&participation).Error
	if err != nil {
		return models.EventParticipation{}, err
	}
	return participation, nil
}

// SeenExerciseIDs lists the distinct exercises that appear in any submission
// slot of the user's earlier participations.
func (r *participationRepository) SeenExerciseIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.SubmissionSlot{}).
		Distinct("submission_slots.exercise_id").
		Joins("JOIN event_participations ON event_participations.id = submission_slots.participation_id").
		Where("event_participations.user_id = ?", userID).
		Pluck("submission_slots.exercise_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Create persists the participation and its slot mirrors in one transaction.
// Callers rely on gorm.ErrDuplicatedKey to detect a concurrently created
// participation for the same (user, event) pair. Sub-slots are inserted after
// their parent so both ParticipationID and ParentID are known.
func (r *participationRepository) Create(ctx context.Context, participation *models.EventParticipation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submissionSlots := participation.SubmissionSlots
		assessmentSlots := participation.AssessmentSlots
		participation.SubmissionSlots = nil
		participation.AssessmentSlots = nil
		if err := tx.Omit("Event", "Instance").Create(participation).Error; err != nil {
			return err
		}
		for i := range submissionSlots {
			subs := submissionSlots[i].SubSlots
			submissionSlots[i].SubSlots = nil
			submissionSlots[i].ParticipationID = participation.ID
			if err := tx.Omit("Exercise").Create(&submissionSlots[i]).Error; err != nil {
				return err
			}
			for j := range subs {
				parentID := submissionSlots[i].ID
				subs[j].ParticipationID = participation.ID
				subs[j].ParentID = &parentID
				if err := tx.Omit("Exercise").Create(&subs[j]).Error; err != nil {
					return err
				}
			}
			submissionSlots[i].SubSlots = subs
		}
		for i := range assessmentSlots {
			subs := assessmentSlots[i].SubSlots
			assessmentSlots[i].SubSlots = nil
			assessmentSlots[i].ParticipationID = participation.ID
			if err := tx.Create(&assessmentSlots[i]).Error; err != nil {
				return err
			}
			for j := range subs {
				parentID := assessmentSlots[i].ID
				subs[j].ParticipationID = participation.ID
				subs[j].ParentID = &parentID
				if err := tx.Create(&subs[j]).Error; err != nil {
					return err
				}
			}
			assessmentSlots[i].SubSlots = subs
		}
		participation.SubmissionSlots = submissionSlots
		participation.AssessmentSlots = assessmentSlots
		return nil
	})
}

func (r *participationRepository) Update(ctx context.Context, participation *models.EventParticipation) error {
	return r.db.WithContext(ctx).
		Omit("Event", "Instance", "SubmissionSlots", "AssessmentSlots").
		Save(participation).Error
}

func (r *participationRepository) GetSubmissionSlot(ctx context.Context, id uint) (models.SubmissionSlot, error) {
	var slot models.SubmissionSlot
	err := r.db.WithContext(ctx).
		Preload("Exercise.Choices").
		Preload("Exercise.TestCases").
		Preload("Exercise.SubExercises.Choices").
		Preload("SubSlots.Exercise.Choices").
		First(&slot, id).Error
	if err != nil {
		return models.SubmissionSlot{}, err
	}
	return slot, nil
}

func (r *participationRepository) GetSubmissionSlotByNumber(ctx context.Context, participationID uint, slotNumber int) (models.SubmissionSlot, error) {
	var slot models.SubmissionSlot
	err := r.db.WithContext(ctx).
		Preload("Exercise.Choices").
		Preload("Exercise.TestCases").
		Preload("Exercise.SubExercises.Choices").
		Preload("SubSlots.Exercise.Choices").
		Where("participation_id = ?", participationID).
		Where("parent_id IS NULL").
		Where("slot_number = ?", slotNumber).
		First(&slot).Error
	if err != nil {
		return models.SubmissionSlot{}, err
	}
	return slot, nil
}

func (r *participationRepository) GetSubmissionSubSlot(ctx context.Context, parentID uint, slotNumber int) (models.SubmissionSlot, error) {
	var slot models.SubmissionSlot
	err := r.db.WithContext(ctx).
		Preload("Exercise.Choices").
		Where("parent_id = ?", parentID).
		Where("slot_number = ?", slotNumber).
		First(&slot).Error
	if err != nil {
		return models.SubmissionSlot{}, err
	}
	return slot, nil
}

func (r *participationRepository) UpdateSubmissionSlot(ctx context.Context, slot *models.SubmissionSlot) error {
	return r.db.WithContext(ctx).
		Omit("Exercise", "SubSlots").
		Save(slot).Error
}

func (r *participationRepository) GetAssessmentSlot(ctx context.Context, id uint) (models.AssessmentSlot, error) {
	var slot models.AssessmentSlot
	if err := r.db.WithContext(ctx).Preload("SubSlots").First(&slot, id).Error; err != nil {
		return models.AssessmentSlot{}, err
	}
	return slot, nil
}

func (r *participationRepository) GetAssessmentSlotByNumber(ctx context.Context, participationID uint, slotNumber int) (models.AssessmentSlot, error) {
	var slot models.AssessmentSlot
	err := r.db.WithContext(ctx).
		Preload("SubSlots").
		Where("participation_id = ?", participationID).
		Where("parent_id IS NULL").
		Where("slot_number = ?", slotNumber).
		First(&slot).Error
	if err != nil {
		return models.AssessmentSlot{}, err
	}
	return slot, nil
}

func (r *participationRepository) UpdateAssessmentSlot(ctx context.Context, slot *models.AssessmentSlot) error {
	return r.db.WithContext(ctx).
		Omit("SubSlots").
		Save(slot).Error
}
