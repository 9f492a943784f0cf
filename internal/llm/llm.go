package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pop8234333/exam-system/internal/grading"
	"github.com/pop8234333/exam-system/internal/llm/prompts"
	"github.com/pop8234333/exam-system/internal/model"
)

var languageNames = map[string]string{
	"en": "English",
	"zh": "Chinese",
}

// gradeResponse is the JSON object the model is asked to return.
type gradeResponse struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
	Reason   string  `json:"reason"`
}

// Client is the AI grading adapter backed by an OpenAI-compatible API.
// It satisfies grading.Grader.
type Client struct {
	api      *openai.Client
	model    string
	prompts  *prompts.Set
	variant  prompts.PromptVariant
	language string
}

var _ grading.Grader = (*Client)(nil)

// New creates a new LLM client. lang selects the language of generated
// feedback and summaries.
func New(baseURL, apiKey, modelName, variant, lang string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	set, err := prompts.Load(prompts.FS)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	language, ok := languageNames[lang]
	if !ok {
		language = languageNames["en"]
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:      openai.NewClientWithConfig(config),
		model:    modelName,
		prompts:  set,
		variant:  prompts.PromptVariant(variant),
		language: language,
	}, nil
}

// Ping checks that the endpoint answers by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return &model.ExternalServiceError{Service: "llm", Op: "ping", Err: err}
	}
	return nil
}

// GradeText scores one free-text answer.
func (c *Client) GradeText(ctx context.Context, req grading.TextRequest) (grading.TextResult, error) {
	prompt, err := c.prompts.Grade(c.variant, prompts.GradeData{
		QuestionText: req.Question,
		Reference:    req.Reference,
		Analysis:     req.Analysis,
		MaxScore:     req.MaxScore,
		Answer:       req.Answer,
		Language:     c.language,
	})
	if err != nil {
		return grading.TextResult{}, fmt.Errorf("build grade prompt: %w", err)
	}

	raw, err := c.complete(ctx, "grade_text", prompt, 0.1, true)
	if err != nil {
		return grading.TextResult{}, err
	}

	var resp gradeResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		return grading.TextResult{}, &model.ExternalServiceError{
			Service: "llm",
			Op:      "grade_text",
			Err:     fmt.Errorf("parse response: %w (raw: %s)", err, abbreviate(raw)),
		}
	}

	return grading.TextResult{
		Score:     int(math.Round(resp.Score)),
		Positive:  strings.TrimSpace(resp.Feedback),
		Deduction: strings.TrimSpace(resp.Reason),
	}, nil
}

// Summarize writes a short comment on an attempt's totals.
func (c *Client) Summarize(ctx context.Context, req grading.SummaryRequest) (string, error) {
	prompt, err := c.prompts.Summary(prompts.SummaryData{
		TotalScore:    req.TotalScore,
		MaxScore:      req.MaxScore,
		AnsweredCount: req.AnsweredCount,
		CorrectCount:  req.CorrectCount,
		Language:      c.language,
	})
	if err != nil {
		return "", fmt.Errorf("build summary prompt: %w", err)
	}

	raw, err := c.complete(ctx, "summarize", prompt, 0.5, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stripCodeFence(raw)), nil
}

func (c *Client) complete(ctx context.Context, op, systemPrompt string, temperature float32, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &model.ExternalServiceError{Service: "llm", Op: op, Err: fmt.Errorf("LLM API call: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &model.ExternalServiceError{Service: "llm", Op: op, Err: errors.New("LLM returned no choices")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "op", op, "raw", abbreviate(raw))
	return raw, nil
}

// stripCodeFence unwraps a reply the model put inside a Markdown code block.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string, e.g. "json".
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func abbreviate(s string) string {
	const limit = 200
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
