package narrative

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIModel implements Model over the OpenAI-compatible chat completion
// API. A custom base URL supports OpenAI-compatible gateways.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel creates a chat transport for the given model name.
func NewOpenAIModel(apiKey, baseURL, modelName string) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(cfg), model: modelName}
}

// Complete sends one system+user exchange and returns the reply text.
func (m *OpenAIModel) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("narrative: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
