package answer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	DefaultModel = "gpt-4o-mini"

	defaultPrompt = "You are playing a party game. Answer the question the way a " +
		"regular person would, in one short casual sentence with no more than " +
		"fifteen words. Do not mention that you are an AI."
)

// OpenAIConfig configures the chat completions provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Prompt     string
	HTTPClient *http.Client
}

// OpenAI generates answers with a chat completion model.
type OpenAI struct {
	client openai.Client
	model  string
	prompt string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Request owns the single bounded attempt.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = defaultPrompt
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		prompt: cfg.Prompt,
	}
}

func (o *OpenAI) Generate(ctx context.Context, question string) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(o.prompt),
			openai.UserMessage(question),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyReply
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
