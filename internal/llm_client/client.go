// Package llm_client abstracts LLM completion behind a small Completer
// interface with OpenAI-compatible and Anthropic implementations. The
// OpenAI implementation accepts a custom base URL, which also serves
// OpenRouter-style gateways.
package llm_client

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/harborlight/companion/pkg/logger"
)

// Provider identifiers accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Message is one conversation entry sent to the model.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest describes a single completion call.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int64
}

// Completer is the LLM capability consumed by the analysis pipeline.
// Implementations must tolerate being called concurrently.
type Completer interface {
	// Complete returns the model's full text response.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream yields incremental text chunks as the model produces them.
	Stream(ctx context.Context, req CompletionRequest) iter.Seq2[string, error]
	// Name returns the configured model name.
	Name() string
}

// Config selects and configures the completion provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	// Timeout bounds each completion call. Zero means no client-side bound.
	Timeout time.Duration
}

// New builds a Completer for the configured provider.
func New(cfg Config, log logger.Logger) (Completer, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return newOpenAICompleter(cfg, log)
	case ProviderAnthropic:
		return newAnthropicCompleter(cfg, log)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// callContext applies the configured per-call timeout.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
