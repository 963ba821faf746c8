package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig points an OpenAIModel at any OpenAI-compatible server, such as
// a local Ollama or LM Studio instance.
type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// OpenAIModel implements LanguageModel over the chat completions API.
type OpenAIModel struct {
	client openai.Client
	model  string
}

func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local servers ignore the key but the client insists on one.
		apiKey = "local"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAIModel{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

// Probe checks that the server knows the configured model.
func (m *OpenAIModel) Probe(ctx context.Context) error {
	if m.model == "" {
		return errors.New("no cleanup model configured")
	}
	if _, err := m.client.Models.Get(ctx, m.model); err != nil {
		return fmt.Errorf("get model %s: %w", m.model, err)
	}
	return nil
}

// Respond sends one chat completion with instructions as the system message.
func (m *OpenAIModel) Respond(ctx context.Context, instructions, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if instructions != "" {
		messages = append(messages, openai.SystemMessage(instructions))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(m.model),
		Messages:    messages,
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
