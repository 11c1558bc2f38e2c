package llm_client

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harborlight/companion/pkg/logger"
)

type anthropicCompleter struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	log     logger.Logger
}

func newAnthropicCompleter(cfg Config, log logger.Logger) (*anthropicCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicCompleter{
		client:  anthropic.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

func (a *anthropicCompleter) Name() string {
	return a.model
}

func (a *anthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := callContext(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}

func (a *anthropicCompleter) Stream(ctx context.Context, req CompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := callContext(ctx, a.timeout)
		defer cancel()

		stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text := delta.Delta.Text; text != "" {
					if !yield(text, nil) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("anthropic stream error: %w", err))
		}
	}
}

func (a *anthropicCompleter) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	// The Messages API rejects an empty message list. Callers that send a
	// bare prompt with no conversation get it delivered as the user turn.
	system := req.SystemPrompt
	if len(messages) == 0 && system != "" {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(system)))
		system = ""
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}
