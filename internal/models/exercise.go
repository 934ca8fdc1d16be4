package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExerciseKind enumerates the supported exercise variants.
type ExerciseKind string

const (
	ExerciseKindMultipleChoiceSingle   ExerciseKind = "multiple_choice_single"
	ExerciseKindMultipleChoiceMultiple ExerciseKind = "multiple_choice_multiple"
	ExerciseKindOpenAnswer             ExerciseKind = "open_answer"
	ExerciseKindCompletion             ExerciseKind = "completion"
	ExerciseKindAggregated             ExerciseKind = "aggregated"
	ExerciseKindJS                     ExerciseKind = "js"
	ExerciseKindAttachment             ExerciseKind = "attachment"
	ExerciseKindC                      ExerciseKind = "c"
	ExerciseKindPython                 ExerciseKind = "python"
)

// IsCoding reports whether the exercise is graded through code execution.
func (k ExerciseKind) IsCoding() bool {
	return k == ExerciseKindJS || k == ExerciseKindC || k == ExerciseKindPython
}

// IsComposite reports whether the exercise aggregates sub-exercises.
func (k ExerciseKind) IsComposite() bool {
	return k == ExerciseKindCompletion || k == ExerciseKindAggregated
}

// NeedsManualGrading reports whether the exercise cannot be graded automatically.
func (k ExerciseKind) NeedsManualGrading() bool {
	return k == ExerciseKindOpenAnswer || k == ExerciseKindAttachment
}

// ExerciseState enumerates exercise visibility states.
type ExerciseState string

const (
	ExerciseStateDraft   ExerciseState = "draft"
	ExerciseStatePrivate ExerciseState = "private"
	ExerciseStatePublic  ExerciseState = "public"
)

// Exercise represents a question or task that can appear in an event slot.
// Completion and aggregated exercises own sub-exercises through ParentID.
type Exercise struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	CourseID     uint             `gorm:"not null;index" json:"course_id"`
	ParentID     *uint            `gorm:"index" json:"parent_id"`
	Kind         ExerciseKind     `gorm:"size:32;not null" json:"kind"`
	State        ExerciseState    `gorm:"size:16;not null;default:draft" json:"state"`
	Label        string           `gorm:"size:75" json:"label"`
	Text         string           `gorm:"type:text" json:"text"`
	Solution     string           `gorm:"type:text" json:"solution"`
	InitialCode  string           `gorm:"type:text" json:"initial_code"`
	ChildWeight  decimal.Decimal  `gorm:"type:numeric(5,2);default:1" json:"child_weight"`
	AllOrNothing bool             `gorm:"default:false" json:"all_or_nothing"`
	MaxScore     *decimal.Decimal `gorm:"type:numeric(5,2)" json:"max_score"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`

	SubExercises []Exercise         `gorm:"foreignKey:ParentID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"sub_exercises,omitempty"`
	Choices      []ExerciseChoice   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"choices,omitempty"`
	TestCases    []ExerciseTestCase `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"testcases,omitempty"`
	PublicTags   []Tag              `gorm:"many2many:exercise_public_tags" json:"public_tags,omitempty"`
	PrivateTags  []Tag              `gorm:"many2many:exercise_private_tags" json:"private_tags,omitempty"`
}

// EffectiveMaxScore computes the maximum attainable correctness for the
// exercise. The definition depends on the exercise kind: multiple-selection
// exercises sum their positively scored choices, single-selection exercises
// take the best choice, composite exercises weight their sub-exercises, and
// every other kind uses the configured MaxScore value.
func (e Exercise) EffectiveMaxScore() decimal.Decimal {
	switch e.Kind {
	case ExerciseKindMultipleChoiceMultiple:
		total := decimal.Zero
		for _, c := range e.Choices {
			if c.Correctness.IsPositive() {
				total = total.Add(c.Correctness)
			}
		}
		return total
	case ExerciseKindMultipleChoiceSingle:
		best := decimal.Zero
		for i, c := range e.Choices {
			if i == 0 || c.Correctness.GreaterThan(best) {
				best = c.Correctness
			}
		}
		return best
	case ExerciseKindCompletion, ExerciseKindAggregated:
		total := decimal.Zero
		for _, sub := range e.SubExercises {
			total = total.Add(sub.ChildWeight.Mul(sub.EffectiveMaxScore()))
		}
		return total
	default:
		if e.MaxScore != nil {
			return *e.MaxScore
		}
		return decimal.Zero
	}
}

// ChoiceByID returns the choice with the given id, if it belongs to the exercise.
func (e Exercise) ChoiceByID(id uint) (ExerciseChoice, bool) {
	for _, c := range e.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return ExerciseChoice{}, false
}

// ExerciseChoice is one selectable option of a choice exercise. Correctness
// may be negative to penalize wrong selections.
type ExerciseChoice struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ExerciseID  uint            `gorm:"not null;index" json:"exercise_id"`
	Text        string          `gorm:"type:text" json:"text"`
	Correctness decimal.Decimal `gorm:"type:numeric(5,2);default:0" json:"correctness"`
	Ordering    int             `gorm:"not null;default:0" json:"ordering"`
}

// TestCaseVisibility controls how much of a test case students can see.
type TestCaseVisibility string

const (
	TestCaseShowCodeAndText TestCaseVisibility = "show_code_and_text"
	TestCaseShowTextOnly    TestCaseVisibility = "show_text_only"
	TestCaseHidden          TestCaseVisibility = "hidden"
)

// ExerciseTestCase is one check run against a coding submission. JS and
// Python exercises use Code as an assertion; C exercises use the
// stdin/expected-stdout pair.
type ExerciseTestCase struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	ExerciseID     uint               `gorm:"not null;index" json:"exercise_id"`
	Code           string             `gorm:"type:text" json:"code"`
	Text           string             `gorm:"type:text" json:"text"`
	Stdin          string             `gorm:"type:text" json:"stdin"`
	ExpectedStdout string             `gorm:"type:text" json:"expected_stdout"`
	Visibility     TestCaseVisibility `gorm:"size:32;not null;default:show_code_and_text" json:"visibility"`
	Ordering       int                `gorm:"not null;default:0" json:"ordering"`
}

// Tag labels exercises for tag-based template rules.
type Tag struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	CourseID uint   `gorm:"not null;uniqueIndex:idx_course_tag_name" json:"course_id"`
	Name     string `gorm:"size:255;not null;uniqueIndex:idx_course_tag_name" json:"name"`
}
