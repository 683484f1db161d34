package client

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/windfall/francoflex_service/internal/errors"
)

// GenerationRequest is a single system+user completion with sampling limits.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// OpenAIClient wraps the OpenAI API client.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI client. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.GPT4oMini,
	}
}

// WithModel sets the model to use.
func (c *OpenAIClient) WithModel(model string) *OpenAIClient {
	if model != "" {
		c.model = model
	}
	return c
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Generate runs one chat completion and returns the first choice's text.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.UserPrompt,
			},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrFeedbackGeneration, "openai completion failed", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New(errors.ErrFeedbackGeneration, "openai returned no choices")
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.New(errors.ErrFeedbackGeneration,
			fmt.Sprintf("openai returned an empty completion (finish_reason=%s)", resp.Choices[0].FinishReason))
	}
	return content, nil
}
