package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// EventKind enumerates the flavours of events students can participate in.
type EventKind string

const (
	EventKindSelfServicePractice EventKind = "self_service_practice"
	EventKindInClassPractice     EventKind = "in_class_practice"
	EventKindExam                EventKind = "exam"
	EventKindHomeAssignment      EventKind = "home_assignment"
)

// EventState enumerates event lifecycle states.
type EventState string

const (
	EventStateDraft      EventState = "draft"
	EventStatePlanned    EventState = "planned"
	EventStateOpen       EventState = "open"
	EventStateClosed     EventState = "closed"
	EventStateRestricted EventState = "restricted"
)

// TimeLimitException overrides an event's time limit for a single user.
type TimeLimitException struct {
	UserEmail string  `json:"user_email"`
	Seconds   float64 `json:"seconds"`
}

// Event is a graded or practice activity built from an exercise template.
type Event struct {
	ID                  uint                                       `gorm:"primaryKey" json:"id"`
	CourseID            uint                                       `gorm:"not null;index" json:"course_id"`
	CreatorID           *uint                                      `json:"creator_id"`
	Name                string                                     `gorm:"size:255" json:"name"`
	Instructions        string                                     `gorm:"type:text" json:"instructions"`
	Kind                EventKind                                  `gorm:"size:32;not null" json:"kind"`
	State               EventState                                 `gorm:"size:16;not null;default:draft" json:"state"`
	BeginTimestamp      *time.Time                                 `json:"begin_timestamp"`
	EndTimestamp        *time.Time                                 `json:"end_timestamp"`
	TimeLimitSeconds    *float64                                   `json:"time_limit_seconds"`
	TimeLimitExceptions datatypes.JSONSlice[TimeLimitException]    `json:"time_limit_exceptions"`
	AllowGoingBack      bool                                       `gorm:"default:true" json:"allow_going_back"`
	RandomizeRuleOrder  bool                                       `gorm:"default:false" json:"randomize_rule_order"`
	TemplateID          *uint                                      `json:"template_id"`
	Template            *EventTemplate                             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"template,omitempty"`
	CreatedAt           time.Time                                  `json:"created_at"`
	UpdatedAt           time.Time                                  `json:"updated_at"`
}

// EffectiveTimeLimit returns the time limit that applies to the given user,
// honoring per-user exceptions, or nil when the event has no limit.
func (e Event) EffectiveTimeLimit(userEmail string) *float64 {
	if e.TimeLimitSeconds == nil {
		return nil
	}
	for _, exc := range e.TimeLimitExceptions {
		if exc.UserEmail == userEmail {
			seconds := exc.Seconds
			return &seconds
		}
	}
	seconds := *e.TimeLimitSeconds
	return &seconds
}

// EventTemplate is the immutable blueprint an event instance is built from.
type EventTemplate struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	CourseID  uint                `gorm:"not null;index" json:"course_id"`
	Name      string              `gorm:"size:255" json:"name"`
	Public    bool                `gorm:"default:false" json:"public"`
	Rules     []EventTemplateRule `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"rules,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// RuleKind enumerates the ways a template rule selects exercises.
type RuleKind string

const (
	RuleKindIDBased     RuleKind = "id_based"
	RuleKindTagBased    RuleKind = "tag_based"
	RuleKindFullyRandom RuleKind = "fully_random"
)

// EventTemplateRule contributes Amount exercises to an event instance, either
// from an explicit id set or from the pool matching its tag clauses. Weight
// scales the score of every slot the rule produces.
type EventTemplateRule struct {
	ID                   uint                      `gorm:"primaryKey" json:"id"`
	TemplateID           uint                      `gorm:"not null;index" json:"template_id"`
	Kind                 RuleKind                  `gorm:"size:32;not null" json:"kind"`
	Amount               int                       `gorm:"not null;default:1" json:"amount"`
	Weight               decimal.Decimal           `gorm:"type:numeric(5,2);default:1" json:"weight"`
	SearchPublicTagsOnly bool                      `gorm:"default:false" json:"search_public_tags_only"`
	Ordering             int                       `gorm:"not null;default:0" json:"ordering"`
	Exercises            []Exercise                `gorm:"many2many:rule_exercises" json:"exercises,omitempty"`
	Clauses              []EventTemplateRuleClause `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"clauses,omitempty"`
}

// EventTemplateRuleClause is an OR-set of tags; an exercise satisfies the
// clause when it carries at least one of them. Clauses on a rule AND together.
type EventTemplateRuleClause struct {
	ID     uint  `gorm:"primaryKey" json:"id"`
	RuleID uint  `gorm:"not null;index" json:"rule_id"`
	Tags   []Tag `gorm:"many2many:clause_tags" json:"tags,omitempty"`
}
