package ai

import "context"

// SuggestionInput contains the material needed to draft grading feedback for
// an answer that requires a human grade.
type SuggestionInput struct {
	ExerciseText string
	Solution     string
	AnswerText   string
	MaxScore     string
	Notes        string
}

// Suggestion is the structured grading draft returned by the advisor. Score
// is normalized to 0-1; the grader scales it to the slot's maximum.
type Suggestion struct {
	Score    float64                `json:"score"`
	Feedback string                 `json:"feedback"`
	Verdict  string                 `json:"verdict"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

// Advisor describes an AI model capable of drafting grading suggestions.
// Suggestions never become scores on their own; a teacher always confirms.
type Advisor interface {
	Suggest(ctx context.Context, input SuggestionInput) (Suggestion, error)
}
