package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/models"
)

// InstanceRepository defines data operations for materialized event instances.
type InstanceRepository interface {
	GetByEvent(ctx context.Context, eventID uint) (models.EventInstance, error)
	Create(ctx context.Context, instance *models.EventInstance) error
}

type instanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository instantiates the repository.
func NewInstanceRepository(db *gorm.DB) InstanceRepository {
	return &instanceRepository{db: db}
}

func (r *instanceRepository) GetByEvent(ctx context.Context, eventID uint) (models.EventInstance, error) {
	var instance models.EventInstance
	err := r.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB {
			return db.Order("slot_number ASC")
		}).
		Preload("Slots.Exercise.Choices").
		Preload("Slots.Exercise.TestCases").
		Preload("Slots.Exercise.SubExercises.Choices").
		Preload("Slots.Rule").
		Where("event_id = ?", eventID).
		First(&instance).Error
	if err != nil {
		return models.EventInstance{}, err
	}
	return instance, nil
}

// Create persists the instance together with its slot tree in one
// transaction. Instances are immutable afterwards. Sub-slots are inserted
// after their parent so both InstanceID and ParentID are known.
func (r *instanceRepository) Create(ctx context.Context, instance *models.EventInstance) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slots := instance.Slots
		instance.Slots = nil
		if err := tx.Create(instance).Error; err != nil {
			return err
		}
		for i := range slots {
			subs := slots[i].SubSlots
			slots[i].SubSlots = nil
			slots[i].InstanceID = instance.ID
			if err := tx.Omit("Exercise", "Rule").Create(&slots[i]).Error; err != nil {
				return err
			}
			for j := range subs {
				parentID := slots[i].ID
				subs[j].InstanceID = instance.ID
				subs[j].ParentID = &parentID
				if err := tx.Omit("Exercise", "Rule").Create(&subs[j]).Error; err != nil {
					return err
				}
			}
			slots[i].SubSlots = subs
		}
		instance.Slots = slots
		return nil
	})
}
