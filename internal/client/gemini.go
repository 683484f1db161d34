package client

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/windfall/francoflex_service/internal/errors"
)

// GeminiClient wraps the Google Gen AI client.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client. With an API key it talks to the
// Gemini API; otherwise it uses Vertex AI with application default credentials.
func NewGeminiClient(ctx context.Context, apiKey, projectID, location string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	} else {
		if projectID == "" {
			return nil, fmt.Errorf("gemini requires GEMINI_API_KEY or GCP_PROJECT_ID")
		}
		cfg.Project = projectID
		cfg.Location = location
		cfg.Backend = genai.BackendVertexAI
	}

	return newGeminiClient(ctx, cfg)
}

func newGeminiClient(ctx context.Context, cfg *genai.ClientConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  "gemini-2.0-flash",
	}, nil
}

// WithModel sets the model to use.
func (c *GeminiClient) WithModel(model string) *GeminiClient {
	if model != "" {
		c.model = model
	}
	return c
}

// Close closes the client.
func (c *GeminiClient) Close() {
	// No explicit close needed for new SDK
}

// Generate runs one completion with the system prompt as system instruction.
func (c *GeminiClient) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(req.Temperature),
		MaxOutputTokens:   int32(req.MaxTokens),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.UserPrompt), cfg)
	if err != nil {
		return "", errors.Wrap(errors.ErrFeedbackGeneration, "gemini completion failed", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New(errors.ErrFeedbackGeneration, "gemini returned an empty completion")
	}
	return text, nil
}
