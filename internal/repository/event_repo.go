package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/models"
)

// EventRepository defines data operations for events and their templates.
type EventRepository interface {
	GetByID(ctx context.Context, id uint) (models.Event, error)
	GetTemplate(ctx context.Context, id uint) (models.EventTemplate, error)
	Create(ctx context.Context, event *models.Event) error
	Update(ctx context.Context, event *models.Event) error
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository instantiates the repository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) GetByID(ctx context.Context, id uint) (models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).
		Preload("Template.Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("ordering ASC")
		}).
		Preload("Template.Rules.Exercises").
		Preload("Template.Rules.Clauses.Tags").
		First(&event, id).Error
	if err != nil {
		return models.Event{}, err
	}
	return event, nil
}

func (r *eventRepository) GetTemplate(ctx context.Context, id uint) (models.EventTemplate, error) {
	var template models.EventTemplate
	err := r.db.WithContext(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("ordering ASC")
		}).
		Preload("Rules.Exercises").
		Preload("Rules.Clauses.Tags").
		First(&template, id).Error
	if err != nil {
		return models.EventTemplate{}, err
	}
	return template, nil
}

func (r *eventRepository) Create(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) Update(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Save(event).Error
}
