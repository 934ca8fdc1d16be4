package dto

import (
	"github.com/shopspring/decimal"

	"github.com/evo-learning/assess-api/internal/models"
)

// ExerciseResponse represents an exercise to API consumers. Student-facing
// views strip the solution, choice scores and restricted test cases.
type ExerciseResponse struct {
	ID           uint                 `json:"id"`
	Kind         string               `json:"kind"`
	Label        string               `json:"label"`
	Text         string               `json:"text"`
	InitialCode  string               `json:"initial_code,omitempty"`
	Solution     string               `json:"solution,omitempty"`
	MaxScore     *decimal.Decimal     `json:"max_score,omitempty"`
	Choices      []ChoiceResponse     `json:"choices,omitempty"`
	TestCases    []TestCaseResponse   `json:"testcases,omitempty"`
	SubExercises []ExerciseResponse   `json:"sub_exercises,omitempty"`
}

// ChoiceResponse describes one selectable option.
type ChoiceResponse struct {
	ID          uint             `json:"id"`
	Text        string           `json:"text"`
	Correctness *decimal.Decimal `json:"correctness,omitempty"`
}

// TestCaseResponse describes one test case of a coding exercise.
type TestCaseResponse struct {
	ID             uint   `json:"id"`
	Code           string `json:"code,omitempty"`
	Text           string `json:"text,omitempty"`
	Stdin          string `json:"stdin,omitempty"`
	ExpectedStdout string `json:"expected_stdout,omitempty"`
}

// NewExerciseResponse builds an exercise DTO. When forStudent is true the
// grading material is withheld: solution, choice correctness, and any test
// case whose visibility restricts it.
func NewExerciseResponse(exercise models.Exercise, forStudent bool) ExerciseResponse {
	response := ExerciseResponse{
		ID:          exercise.ID,
		Kind:        string(exercise.Kind),
		Label:       exercise.Label,
		Text:        exercise.Text,
		InitialCode: exercise.InitialCode,
	}

	if !forStudent {
		response.Solution = exercise.Solution
		response.MaxScore = exercise.MaxScore
	}

	for _, choice := range exercise.Choices {
		item := ChoiceResponse{ID: choice.ID, Text: choice.Text}
		if !forStudent {
			correctness := choice.Correctness
			item.Correctness = &correctness
		}
		response.Choices = append(response.Choices, item)
	}

	for _, testcase := range exercise.TestCases {
		if forStudent && testcase.Visibility == models.TestCaseHidden {
			continue
		}
		item := TestCaseResponse{ID: testcase.ID, Text: testcase.Text}
		if !forStudent || testcase.Visibility == models.TestCaseShowCodeAndText {
			item.Code = testcase.Code
			item.Stdin = testcase.Stdin
			item.ExpectedStdout = testcase.ExpectedStdout
		}
		response.TestCases = append(response.TestCases, item)
	}

	for _, sub := range exercise.SubExercises {
		response.SubExercises = append(response.SubExercises, NewExerciseResponse(sub, forStudent))
	}

	return response
}
