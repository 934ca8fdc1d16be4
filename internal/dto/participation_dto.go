package dto

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/evo-learning/assess-api/internal/models"
)

// ParticipationRequest is the payload for joining an event.
type ParticipationRequest struct {
	EventID uint `json:"event_id" validate:"required,gt=0"`
}

// ParticipationResponse represents a participation to API consumers.
type ParticipationResponse struct {
	ID                uint                     `json:"id"`
	EventID           uint                     `json:"event_id"`
	UserID            uint                     `json:"user_id"`
	State             string                   `json:"state"`
	CurrentSlotNumber int                      `json:"current_slot_number"`
	BeginTimestamp    time.Time                `json:"begin_timestamp"`
	EndTimestamp      *time.Time               `json:"end_timestamp,omitempty"`
	Slots             []SubmissionSlotResponse `json:"slots,omitempty"`
}

// SubmissionSlotResponse represents one answer slot of a participation.
type SubmissionSlotResponse struct {
	SlotNumber       int                      `json:"slot_number"`
	Exercise         ExerciseResponse         `json:"exercise"`
	AnswerText       string                   `json:"answer_text"`
	SelectedChoices  []uint                   `json:"selected_choices"`
	AttachmentURL    string                   `json:"attachment_url,omitempty"`
	ExecutionResults json.RawMessage          `json:"execution_results,omitempty"`
	SeenAt           *time.Time               `json:"seen_at,omitempty"`
	AnsweredAt       *time.Time               `json:"answered_at,omitempty"`
	SubSlots         []SubmissionSlotResponse `json:"sub_slots,omitempty"`
}

// AnswerRequest is the payload for saving an answer into a slot.
type AnswerRequest struct {
	AnswerText      string `json:"answer_text" validate:"max=100000"`
	SelectedChoices []uint `json:"selected_choices" validate:"dive,gt=0"`
}

// NewSubmissionSlotResponse builds a slot DTO. The exercises embedded in
// student-facing responses are stripped of grading material.
func NewSubmissionSlotResponse(slot models.SubmissionSlot, forStudent bool) SubmissionSlotResponse {
	response := SubmissionSlotResponse{
		SlotNumber:       slot.SlotNumber,
		Exercise:         NewExerciseResponse(slot.Exercise, forStudent),
		AnswerText:       slot.AnswerText,
		SelectedChoices:  slot.SelectedChoices,
		AttachmentURL:    slot.AttachmentURL,
		ExecutionResults: json.RawMessage(slot.ExecutionResults),
		SeenAt:           slot.SeenAt,
		AnsweredAt:       slot.AnsweredAt,
	}
	for _, sub := range slot.SubSlots {
		response.SubSlots = append(response.SubSlots, NewSubmissionSlotResponse(sub, forStudent))
	}
	return response
}

// NewParticipationResponse builds a participation DTO from a model. The slot
// list is stored flat; sub-slots are nested under their parent here.
func NewParticipationResponse(participation models.EventParticipation, forStudent bool) ParticipationResponse {
	response := ParticipationResponse{
		ID:                participation.ID,
		EventID:           participation.EventID,
		UserID:            participation.UserID,
		State:             string(participation.State),
		CurrentSlotNumber: participation.CurrentSlotNumber,
		BeginTimestamp:    participation.BeginTimestamp,
		EndTimestamp:      participation.EndTimestamp,
	}
	for _, slot := range participation.SubmissionSlots {
		if slot.ParentID != nil {
			continue
		}
		if len(slot.SubSlots) == 0 {
			for _, candidate := range participation.SubmissionSlots {
				if candidate.ParentID != nil && *candidate.ParentID == slot.ID {
					slot.SubSlots = append(slot.SubSlots, candidate)
				}
			}
			sort.Slice(slot.SubSlots, func(i, j int) bool {
				return slot.SubSlots[i].SlotNumber < slot.SubSlots[j].SlotNumber
			})
		}
		response.Slots = append(response.Slots, NewSubmissionSlotResponse(slot, forStudent))
	}
	sort.Slice(response.Slots, func(i, j int) bool {
		return response.Slots[i].SlotNumber < response.Slots[j].SlotNumber
	})
	return response
}
