package models

import "time"

// EventInstance is the materialization of an event template: a fixed, ordered
// sequence of exercise slots. It is created lazily by the first participation
// and never mutated afterwards, so every participation of the event sees the
// same exercise sequence.
type EventInstance struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	EventID   uint                `gorm:"not null;uniqueIndex" json:"event_id"`
	Slots     []EventInstanceSlot `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"slots,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// BaseSlots returns the top-level slots ordered by slot number.
func (i EventInstance) BaseSlots() []EventInstanceSlot {
	base := make([]EventInstanceSlot, 0, len(i.Slots))
	for _, s := range i.Slots {
		if s.ParentID == nil {
			base = append(base, s)
		}
	}
	return base
}

// LastSlotNumber returns the highest base slot number, or -1 when the
// instance has no slots.
func (i EventInstance) LastSlotNumber() int {
	last := -1
	for _, s := range i.Slots {
		if s.ParentID == nil && s.SlotNumber > last {
			last = s.SlotNumber
		}
	}
	return last
}

// EventInstanceSlot binds one slot number of an instance to an exercise and
// to the template rule that picked it. Sub-slots mirror sub-exercises.
type EventInstanceSlot struct {
	ID         uint               `gorm:"primaryKey" json:"id"`
	InstanceID uint               `gorm:"not null;uniqueIndex:idx_instance_slot" json:"instance_id"`
	ParentID   *uint              `gorm:"uniqueIndex:idx_instance_slot" json:"parent_id"`
	SlotNumber int                `gorm:"not null;uniqueIndex:idx_instance_slot" json:"slot_number"`
	ExerciseID uint               `gorm:"not null" json:"exercise_id"`
	Exercise   Exercise           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"exercise"`
	RuleID     *uint              `json:"rule_id"`
	Rule       *EventTemplateRule `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"rule,omitempty"`
	SubSlots   []EventInstanceSlot `gorm:"foreignKey:ParentID" json:"sub_slots,omitempty"`
}
