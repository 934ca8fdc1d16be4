package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/models"
)

// ExercisePool narrows the eligible exercise set for picking.
type ExercisePool struct {
	CourseID   uint
	PublicOnly bool
	ExcludeIDs []uint
}

// ExerciseRepository defines data operations for exercises.
type ExerciseRepository interface {
	GetByID(ctx context.Context, id uint) (models.Exercise, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.Exercise, error)
	Satisfying(ctx context.Context, rule models.EventTemplateRule, pool ExercisePool) ([]models.Exercise, error)
	Create(ctx context.Context, exercise *models.Exercise) error
	Update(ctx context.Context, exercise *models.Exercise) error
}

type exerciseRepository struct {
	db *gorm.DB
}

// NewExerciseRepository instantiates the repository.
func NewExerciseRepository(db *gorm.DB) ExerciseRepository {
	return &exerciseRepository{db: db}
}

func (r *exerciseRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Exercise{}).
		Preload("Choices").
		Preload("TestCases").
		Preload("SubExercises.Choices").
		Preload("SubExercises.TestCases")
}

func (r *exerciseRepository) GetByID(ctx context.Context, id uint) (models.Exercise, error) {
	var exercise models.Exercise
	if err := r.baseQuery(ctx).First(&exercise, id).Error; err != nil {
		return models.Exercise{}, err
	}
	return exercise, nil
}

func (r *exerciseRepository) ListByIDs(ctx context.Context, ids []uint) ([]models.Exercise, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var exercises []models.Exercise
	if err := r.baseQuery(ctx).Where("id IN ?", ids).Find(&exercises).Error; err != nil {
		return nil, err
	}
	return exercises, nil
}

// Satisfying returns the base exercises that satisfy a template rule within
// the given pool. Draft exercises and sub-exercises are never eligible.
// Tag-based rules AND their clauses together; within a clause, carrying any
// of the clause's tags is enough.
func (r *exerciseRepository) Satisfying(ctx context.Context, rule models.EventTemplateRule, pool ExercisePool) ([]models.Exercise, error) {
	query := r.baseQuery(ctx).
		Where("parent_id IS NULL").
		Where("state <> ?", models.ExerciseStateDraft)

	if pool.CourseID != 0 {
		query = query.Where("course_id = ?", pool.CourseID)
	}
	if pool.PublicOnly {
		query = query.Where("state = ?", models.ExerciseStatePublic)
	}
	if len(pool.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", pool.ExcludeIDs)
	}

	switch rule.Kind {
	case models.RuleKindIDBased:
		ids := make([]uint, 0, len(rule.Exercises))
		for _, e := range rule.Exercises {
			ids = append(ids, e.ID)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		query = query.Where("id IN ?", ids)

	case models.RuleKindTagBased:
		for _, clause := range rule.Clauses {
			tagIDs := make([]uint, 0, len(clause.Tags))
			for _, tag := range clause.Tags {
				tagIDs = append(tagIDs, tag.ID)
			}
			if len(tagIDs) == 0 {
				continue
			}

			publicMatch := r.db.Table("exercise_public_tags").
				Select("exercise_id").
				Where("tag_id IN ?", tagIDs)

			if rule.SearchPublicTagsOnly {
				query = query.Where("id IN (?)", publicMatch)
			} else {
				privateMatch := r.db.Table("exercise_private_tags").
					Select("exercise_id").
					Where("tag_id IN ?", tagIDs)
				query = query.Where(
					r.db.Where("id IN (?)", publicMatch).Or("id IN (?)", privateMatch),
				)
			}
		}

	case models.RuleKindFullyRandom:
		// No extra filter: the whole eligible pool qualifies.
	}

	var exercises []models.Exercise
	if err := query.Find(&exercises).Error; err != nil {
		return nil, err
	}
	return exercises, nil
}

func (r *exerciseRepository) Create(ctx context.Context, exercise *models.Exercise) error {
	return r.db.WithContext(ctx).Create(exercise).Error
}

func (r *exerciseRepository) Update(ctx context.Context, exercise *models.Exercise) error {
	return r.db.WithContext(ctx).Save(exercise).Error
}
