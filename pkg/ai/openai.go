package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evo",
		Subsystem: "ai",
		Name:      "suggestion_duration_seconds",
		Help:      "Duration of AI grading suggestion requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evo",
		Subsystem: "ai",
		Name:      "suggestion_failures_total",
		Help:      "Number of AI grading suggestion failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI advisor.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIAdvisor implements Advisor against the OpenAI chat completion API.
type OpenAIAdvisor struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIAdvisor builds a new advisor using the provided configuration.
func NewOpenAIAdvisor(cfg OpenAIConfig) (*OpenAIAdvisor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	tracer := otel.Tracer("github.com/evo-learning/assess-api/pkg/ai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIAdvisor{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Suggest sends the grading request to OpenAI and parses the response.
func (a *OpenAIAdvisor) Suggest(parent context.Context, input SuggestionInput) (Suggestion, error) {
	ctx, span := a.tracer.Start(parent, "openai.suggest", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: advisorSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := a.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(a.cfg.Model).Observe(duration.Seconds())
	if err != nil {
		aiFailures.WithLabelValues(a.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Suggestion{}, fmt.Errorf("openai suggest: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(a.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Suggestion{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	suggestion, err := parseSuggestionResponse(content)
	if err != nil {
		aiFailures.WithLabelValues(a.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Suggestion{}, err
	}

	suggestion.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	return suggestion, nil
}

func advisorSystemPrompt() string {
	return "You are a teaching assistant drafting grading feedback. Compare the student answer against the reference solutio" +
		"n and respond with a JSON object containing score (0-1), verdict, and feedback written for the student. The feedback" +
		" is a draft the teacher will review, never a final grade."
}

func buildUserPrompt(input SuggestionInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Exercise\n")
	builder.WriteString(input.ExerciseText)
	builder.WriteString("\n\n## Reference Solution\n")
	builder.WriteString(input.Solution)
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.AnswerText)
	builder.WriteString("\n\n## Maximum Score\n")
	builder.WriteString(input.MaxScore)
	if input.Notes != "" {
		builder.WriteString("\n\n## Notes\n")
		builder.WriteString(input.Notes)
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseSuggestionResponse(content string) (Suggestion, error) {
	type payload struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
		Verdict  string  `json:"verdict"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return Suggestion{}, fmt.Errorf("parse suggestion json: %w", err)
	}

	if data.Score < 0 {
		data.Score = 0
	}
	if data.Score > 1 {
		data.Score = 1
	}

	return Suggestion{
		Score:    data.Score,
		Feedback: data.Feedback,
		Verdict:  data.Verdict,
	}, nil
}
