package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ParticipationState enumerates the states of an event participation.
// TurnedIn is terminal: there is no transition back to InProgress.
type ParticipationState string

const (
	ParticipationInProgress ParticipationState = "in_progress"
	ParticipationTurnedIn   ParticipationState = "turned_in"
)

// EventParticipation is one user's attempt at an event instance. A user can
// participate in an event at most once.
type EventParticipation struct {
	ID                uint               `gorm:"primaryKey" json:"id"`
	UserID            uint               `gorm:"not null;uniqueIndex:idx_user_event" json:"user_id"`
	EventID           uint               `gorm:"not null;uniqueIndex:idx_user_event" json:"event_id"`
	Event             Event              `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"event"`
	InstanceID        uint               `gorm:"not null" json:"instance_id"`
	Instance          EventInstance      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"instance"`
	State             ParticipationState `gorm:"size:16;not null;default:in_progress" json:"state"`
	CurrentSlotNumber int                `gorm:"not null;default:0" json:"current_slot_number"`
	BeginTimestamp    time.Time          `gorm:"autoCreateTime" json:"begin_timestamp"`
	EndTimestamp      *time.Time         `json:"end_timestamp"`

	SubmissionSlots []SubmissionSlot `gorm:"foreignKey:ParticipationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"submission_slots,omitempty"`
	AssessmentSlots []AssessmentSlot `gorm:"foreignKey:ParticipationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assessment_slots,omitempty"`
}

// IsTurnedIn reports whether the participation reached its terminal state.
func (p EventParticipation) IsTurnedIn() bool {
	return p.State == ParticipationTurnedIn
}

// SubmissionSlot holds the student's answer for one slot of a participation.
// Slot numbers mirror the event instance slots 1:1.
type SubmissionSlot struct {
	ID               uint                      `gorm:"primaryKey" json:"id"`
	ParticipationID  uint                      `gorm:"not null;uniqueIndex:idx_submission_slot" json:"participation_id"`
	ParentID         *uint                     `gorm:"uniqueIndex:idx_submission_slot" json:"parent_id"`
	SlotNumber       int                       `gorm:"not null;uniqueIndex:idx_submission_slot" json:"slot_number"`
	ExerciseID       uint                      `gorm:"not null" json:"exercise_id"`
	Exercise         Exercise                  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"exercise"`
	AnswerText       string                    `gorm:"type:text" json:"answer_text"`
	SelectedChoices  datatypes.JSONSlice[uint] `json:"selected_choices"`
	AttachmentURL    string                    `gorm:"size:512" json:"attachment_url"`
	ExecutionResults datatypes.JSON            `json:"execution_results"`
	ExecutionToken   string                    `gorm:"size:64" json:"-"`
	SeenAt           *time.Time                `json:"seen_at"`
	AnsweredAt       *time.Time                `json:"answered_at"`
	SubSlots         []SubmissionSlot          `gorm:"foreignKey:ParentID" json:"sub_slots,omitempty"`
}

// HasAnswer reports whether the slot carries any student answer.
func (s SubmissionSlot) HasAnswer() bool {
	return s.AnswerText != "" || len(s.SelectedChoices) > 0 || s.AttachmentURL != ""
}

// AssessmentSlot carries the score and teacher comment for one slot. A nil
// Score means "not yet graded", which is distinct from a zero score; the
// grading state always derives from that nullability.
type AssessmentSlot struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	ParticipationID uint             `gorm:"not null;uniqueIndex:idx_assessment_slot" json:"participation_id"`
	ParentID        *uint            `gorm:"uniqueIndex:idx_assessment_slot" json:"parent_id"`
	SlotNumber      int              `gorm:"not null;uniqueIndex:idx_assessment_slot" json:"slot_number"`
	ExerciseID      uint             `gorm:"not null" json:"exercise_id"`
	Score           *decimal.Decimal `gorm:"type:numeric(7,2)" json:"score"`
	Comment         string           `gorm:"type:text" json:"comment"`
	SubSlots        []AssessmentSlot `gorm:"foreignKey:ParentID" json:"sub_slots,omitempty"`
}

// IsGraded reports whether the slot carries a manually assigned score.
func (s AssessmentSlot) IsGraded() bool {
	return s.Score != nil
}
