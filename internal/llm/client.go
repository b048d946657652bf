// Package llm provides the language-model text source that produces the
// response text the synthesis pipeline chunks and speaks.
package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/cadencehq/voicewire/internal/config"
)

// Message is one turn of conversation context
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// TextSource yields response text for a transcript. It is a black box to the
// rest of the pipeline.
type TextSource interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// OpenAIClient implements TextSource against any OpenAI-compatible API
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOpenAIClient creates a text source from service configuration
func NewOpenAIClient(cfg *config.Config, logger zerolog.Logger) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		clientConfig.BaseURL = cfg.LLMBaseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.LLMModel,
		timeout: time.Duration(cfg.LLMTimeout) * time.Second,
		logger:  logger.With().Str("component", "llm").Logger(),
	}
}

// Generate returns the complete response text for the given conversation
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Response text generated")

	return content, nil
}

// GenerateStream returns a channel of incremental response text deltas. The
// channel is closed when the response is complete or the context ends.
func (c *OpenAIClient) GenerateStream(ctx context.Context, messages []Message) (<-chan string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chat completion stream failed: %w", err)
	}

	deltas := make(chan string, 10)
	go func() {
		defer close(deltas)
		defer cancel()
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					c.logger.Warn().Err(err).Msg("Response stream ended with error")
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case deltas <- delta:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return deltas, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
