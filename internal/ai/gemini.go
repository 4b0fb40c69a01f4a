package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// Attachment is binary input sent next to the prompt.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Model generates text from a prompt and optional inline attachments.
type Model interface {
	Generate(ctx context.Context, prompt string, attachments ...Attachment) (string, error)
}

// GeminiClient calls the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ Model = (*GeminiClient)(nil)

// NewGeminiClient builds a client. An empty apiKey falls back to the
// GEMINI_API_KEY / GOOGLE_API_KEY environment the SDK reads itself.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

var errEmptyResponse = errors.New("empty response from model")

func (g *GeminiClient) Generate(ctx context.Context, prompt string, attachments ...Attachment) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, a := range attachments {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: a.MIMEType, Data: a.Data}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
