package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration // per call; zero means no client-side bound
}

// OpenAIGenerator implements port.Generator over any OpenAI-compatible
// chat completions API (Groq by default). SDK retries are disabled: retry
// policy belongs to the caller.
type OpenAIGenerator struct {
	client  openai.Client
	timeout time.Duration
}

// NewOpenAIGenerator creates a generator for cfg.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	return &OpenAIGenerator{client: client, timeout: cfg.Timeout}
}

// Generate sends prompt as a single user message and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt, modelID string, temperature float64) (string, error) {
	if modelID == "" {
		return "", &port.FatalError{Err: errors.New("no model id")}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(modelID),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", classifyOpenAIError(ctx, err))
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &port.FatalError{Err: fmt.Errorf("empty completion from %s", modelID)}
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if perr := ctx.Err(); perr != nil {
		return perr
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return port.ClassifyStatus(apiErr.StatusCode, err)
	}
	return classifyCallError(ctx, err)
}
