package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/fault"
)

// OpenAIGenerator implements Generator against the OpenAI chat API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
}

// NewOpenAIGenerator creates a rate-limited OpenAI-backed generator.
func NewOpenAIGenerator(cfg config.GenerationConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	return &OpenAIGenerator{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// Generate performs one chat completion call.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, contextLines []string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fault.New(fault.ClassTransient, err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if len(contextLines) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.Join(contextLines, "\n"),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in completion", fault.ErrMalformed)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", fault.ErrMalformed)
	}

	return content, nil
}

// Close releases resources. The OpenAI client holds none.
func (g *OpenAIGenerator) Close() error {
	return nil
}

// classifyOpenAIError maps API failures onto the fault taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%w: %v", fault.ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", fault.ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", fault.ErrMalformed, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", fault.ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %v", fault.ErrUnavailable, err)
}
