package dto

import (
	"github.com/shopspring/decimal"

	"github.com/evo-learning/assess-api/internal/models"
)

// AssessmentSlotResponse carries the grade for one slot. A nil score means
// the slot still needs manual grading.
type AssessmentSlotResponse struct {
	SlotNumber int                      `json:"slot_number"`
	Score      *decimal.Decimal         `json:"score"`
	Comment    string                   `json:"comment,omitempty"`
	Pending    bool                     `json:"pending"`
	SubSlots   []AssessmentSlotResponse `json:"sub_slots,omitempty"`
}

// AssessmentResponse aggregates the grades of a whole participation.
type AssessmentResponse struct {
	ParticipationID uint                     `json:"participation_id"`
	Score           *decimal.Decimal         `json:"score"`
	Pending         bool                     `json:"pending"`
	Slots           []AssessmentSlotResponse `json:"slots"`
}

// AssessmentOverrideRequest is the payload teachers send to grade a slot by
// hand or to adjust an automatic score.
type AssessmentOverrideRequest struct {
	Score   string `json:"score" validate:"required"`
	Comment string `json:"comment" validate:"max=10000"`
}

// SuggestionResponse carries an AI drafted grading hint for an open answer.
type SuggestionResponse struct {
	SlotNumber int    `json:"slot_number"`
	Suggestion string `json:"suggestion"`
}

// NewAssessmentSlotResponse builds a slot grade DTO.
func NewAssessmentSlotResponse(slot models.AssessmentSlot) AssessmentSlotResponse {
	response := AssessmentSlotResponse{
		SlotNumber: slot.SlotNumber,
		Score:      slot.Score,
		Comment:    slot.Comment,
		Pending:    slot.Score == nil,
	}
	for _, sub := range slot.SubSlots {
		response.SubSlots = append(response.SubSlots, NewAssessmentSlotResponse(sub))
	}
	return response
}
