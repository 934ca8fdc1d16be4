// Package grading implements the scoring core: the per-exercise-kind
// correctness evaluator and the submission assessor that turns correctness
// into weighted slot scores. All arithmetic is exact decimal; scores feed
// into exam totals that must sum precisely.
package grading

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/pkg/sandbox"
)

// Mode selects how exercises that cannot be graded automatically are treated.
type Mode int

const (
	// BestEffort leaves open-answer and attachment slots ungraded (nil),
	// requiring a human. Used for proctored and graded events.
	BestEffort Mode = iota
	// FullyAutomatic scores manual-only slots 0 instead of nil. Used for
	// ungraded self-practice where no human ever grades.
	FullyAutomatic
)

// ModeForEvent returns the assessor variant an event kind uses.
func ModeForEvent(kind models.EventKind) Mode {
	if kind == models.EventKindSelfServicePractice {
		return FullyAutomatic
	}
	return BestEffort
}

// maxExerciseDepth bounds recursion over the sub-exercise tree; a malformed
// parent chain would otherwise loop.
const maxExerciseDepth = 16

// ErrExerciseTreeTooDeep signals a sub-exercise chain deeper than the
// supported bound, which in practice means a cycle.
var ErrExerciseTreeTooDeep = errors.New("exercise tree exceeds maximum depth")

// Answer is a student's answer to one exercise, decoupled from persistence.
type Answer struct {
	Text              string
	SelectedChoiceIDs []uint
	HasAttachment     bool
	ExecutionResults  *sandbox.ExecutionResults
}

// Empty reports whether no answer of any shape was given.
func (a Answer) Empty() bool {
	return a.Text == "" && len(a.SelectedChoiceIDs) == 0 && !a.HasAttachment
}

// SlotView pairs an exercise with the answer given to it. Sub holds the
// views of the sub-slots, aligned with the exercise's sub-exercises.
type SlotView struct {
	Exercise models.Exercise
	Answer   Answer
	Sub      []SlotView
}

// Correctness computes the raw, type-specific measure of answer quality for
// the slot, before any weighting. A nil result means the slot cannot be
// graded automatically and needs a human; under FullyAutomatic those slots
// score 0 instead.
func Correctness(slot SlotView, mode Mode) (*decimal.Decimal, error) {
	return correctness(slot, mode, 0)
}

func correctness(slot SlotView, mode Mode, depth int) (*decimal.Decimal, error) {
	if depth > maxExerciseDepth {
		return nil, ErrExerciseTreeTooDeep
	}

	kind := slot.Exercise.Kind

	switch {
	case kind.NeedsManualGrading():
		return noAutoScore(mode), nil

	case kind == models.ExerciseKindMultipleChoiceSingle || kind == models.ExerciseKindMultipleChoiceMultiple:
		total := decimal.Zero
		for _, id := range slot.Answer.SelectedChoiceIDs {
			choice, ok := slot.Exercise.ChoiceByID(id)
			if !ok {
				continue
			}
			total = total.Add(choice.Correctness)
		}
		return &total, nil

	case kind.IsComposite():
		return compositeCorrectness(slot, mode, depth)

	case kind.IsCoding():
		if slot.Answer.Text == "" {
			return noAutoScore(mode), nil
		}
		passed := decimal.Zero
		if slot.Answer.ExecutionResults != nil {
			passed = decimal.NewFromInt(int64(slot.Answer.ExecutionResults.PassedCount()))
		}
		return &passed, nil

	default:
		return noAutoScore(mode), nil
	}
}

// compositeCorrectness evaluates every sub-slot and combines the results as
// the child-weighted sum. A nil sub-result makes the whole composite nil:
// "needs manual grading" propagates upward.
func compositeCorrectness(slot SlotView, mode Mode, depth int) (*decimal.Decimal, error) {
	total := decimal.Zero
	for _, sub := range slot.Sub {
		subCorrectness, err := correctness(sub, mode, depth+1)
		if err != nil {
			return nil, err
		}
		if subCorrectness == nil {
			return nil, nil
		}
		total = total.Add(subCorrectness.Mul(sub.Exercise.ChildWeight))
	}
	return &total, nil
}

func noAutoScore(mode Mode) *decimal.Decimal {
	if mode == FullyAutomatic {
		zero := decimal.Zero
		return &zero
	}
	return nil
}
