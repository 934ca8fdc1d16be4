package grading

import (
	"github.com/shopspring/decimal"
)

// Assess computes the final score of a slot from its correctness, the
// exercise's maximum score, and the weight of the template rule that produced
// the slot. It returns nil when the slot needs manual grading; callers must
// treat that as "pending", never as zero.
func Assess(slot SlotView, ruleWeight decimal.Decimal, mode Mode) (*decimal.Decimal, error) {
	c, err := Correctness(slot, mode)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	maxScore := slot.Exercise.EffectiveMaxScore()
	if !maxScore.IsPositive() {
		zero := decimal.Zero
		return &zero, nil
	}

	if slot.Exercise.AllOrNothing && c.LessThan(maxScore) {
		zero := decimal.Zero
		return &zero, nil
	}

	score := c.Div(maxScore).Mul(ruleWeight)
	return &score, nil
}
