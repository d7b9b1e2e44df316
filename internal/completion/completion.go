// Package completion wraps the generative-completion service behind a
// narrow interface so callers (the outbox dispatcher, mostly) never see
// the underlying chat-model plumbing.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"concierge-go/internal/config"
	"concierge-go/internal/logger"
)

// Client is the black-box completion contract: prompt in, text out,
// fallible. The outbox treats every call through it as a slow external
// effect that must happen outside any database transaction.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const systemPrompt = "You are a concierge assistant for local-services orders. " +
	"Answer concisely and never invent order details."

// EinoClient adapts an eino chat model to the Client contract.
type EinoClient struct {
	chatModel model.BaseChatModel
	modelName string
	timeout   time.Duration
}

// NewEinoClient wraps a chat model with the configured request timeout.
func NewEinoClient(chatModel model.BaseChatModel, cfg *config.CompletionConfig) (*EinoClient, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EinoClient{
		chatModel: chatModel,
		modelName: cfg.Model,
		timeout:   timeout,
	}, nil
}

// Generate sends the prompt as a single user turn and returns the
// assistant's text. An empty prompt is a caller error.
func (c *EinoClient) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("empty completion prompt")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}

	response, err := c.chatModel.Generate(callCtx, messages)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", fmt.Errorf("completion returned empty content")
	}

	logger.Debug().
		Str("model", c.modelName).
		Int("prompt_len", len(prompt)).
		Int("response_len", len(response.Content)).
		Int64("elapsed_ms", time.Since(started).Milliseconds()).
		Msg("completion generated")
	return response.Content, nil
}
