package llm_client

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harborlight/companion/pkg/logger"
)

// openaiCompleter serves any OpenAI-compatible chat completion endpoint.
type openaiCompleter struct {
	client  openai.Client
	model   string
	timeout time.Duration
	log     logger.Logger
}

func newOpenAICompleter(cfg Config, log logger.Logger) (*openaiCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &openaiCompleter{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

func (o *openaiCompleter) Name() string {
	return o.model
}

func (o *openaiCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := callContext(ctx, o.timeout)
	defer cancel()

	completion, err := o.client.Chat.Completions.New(ctx, o.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai response contained no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func (o *openaiCompleter) Stream(ctx context.Context, req CompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := callContext(ctx, o.timeout)
		defer cancel()

		stream := o.client.Chat.Completions.NewStreaming(ctx, o.buildParams(req))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("openai stream error: %w", err))
		}
	}
}

func (o *openaiCompleter) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model:     o.model,
		MaxTokens: openai.Int(maxTokens),
		Messages:  messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}
