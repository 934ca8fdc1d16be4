package service

import (
	"context"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
)

// PickedSlot pairs a drawn exercise with the template rule that produced it.
// The pairing must survive any later reordering because the rule weight
// scales the slot's score.
type PickedSlot struct {
	Exercise models.Exercise
	Rule     models.EventTemplateRule
}

// PickOptions tunes a single draw.
type PickOptions struct {
	// PublicOnly restricts the candidate pool to public exercises.
	PublicOnly bool
	// ExcludeIDs removes exercises from every rule's pool, typically ones
	// the user already saw in earlier practice runs.
	ExcludeIDs []uint
	// ShuffleSlots randomizes the final slot order while keeping each
	// exercise attached to its rule.
	ShuffleSlots bool
}

// PickerService draws exercises from a template's rules to build an event
// instance.
type PickerService interface {
	Pick(ctx context.Context, template models.EventTemplate, opts PickOptions) ([]PickedSlot, error)
}

type pickerService struct {
	exercises repository.ExerciseRepository
	logger    zerolog.Logger
}

// NewPickerService builds a new picker service.
func NewPickerService(exercises repository.ExerciseRepository, logger zerolog.Logger) PickerService {
	return &pickerService{
		exercises: exercises,
		logger:    logger.With().Str("component", "picker_service").Logger(),
	}
}

// Pick processes the template rules in their declared order. Each rule draws
// Amount exercises uniformly, without replacement, from the pool satisfying
// it; exercises already drawn by earlier rules are excluded so the same
// exercise never appears twice in one instance. When a pool is smaller than
// the rule asks for, the draw is silently clamped to the pool size.
func (s *pickerService) Pick(ctx context.Context, template models.EventTemplate, opts PickOptions) ([]PickedSlot, error) {
	picked := make([]PickedSlot, 0)
	taken := append([]uint(nil), opts.ExcludeIDs...)

	for _, rule := range template.Rules {
		pool, err := s.exercises.Satisfying(ctx, rule, repository.ExercisePool{
			CourseID:   template.CourseID,
			PublicOnly: opts.PublicOnly,
			ExcludeIDs: taken,
		})
		if err != nil {
			return nil, err
		}

		amount := rule.Amount
		if amount > len(pool) {
			s.logger.Warn().
				Uint("rule_id", rule.ID).
				Int("requested", rule.Amount).
				Int("available", len(pool)).
				Msg("rule pool smaller than requested amount, clamping")
			amount = len(pool)
		}

		for _, idx := range rand.Perm(len(pool))[:amount] {
			picked = append(picked, PickedSlot{Exercise: pool[idx], Rule: rule})
			taken = append(taken, pool[idx].ID)
		}
	}

	if opts.ShuffleSlots {
		rand.Shuffle(len(picked), func(i, j int) {
			picked[i], picked[j] = picked[j], picked[i]
		})
	}

	return picked, nil
}
