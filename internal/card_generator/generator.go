// Package card_generator converts plain text descriptions into structured
// card payloads via an LLM, with retry and a plain-text fallback record
// when the model never produces parseable JSON.
package card_generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/internal/llm_client"
	"github.com/harborlight/companion/pkg/logger"
	"github.com/harborlight/companion/pkg/metrics"
	"github.com/harborlight/companion/pkg/retry"
)

// OperationLogger persists telemetry rows for generation attempts.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry cards.OperationEntry) error
}

// Result is a generated card payload ready for persistence.
type Result struct {
	CardType cards.CardType
	Payload  cards.Payload
	// Fallback is true when the payload is the minimal plain-text record
	// produced after parse retries were exhausted.
	Fallback bool
}

// Generator turns plain text into structured card payloads.
type Generator struct {
	completer llm_client.Completer
	tracker   *card_metadata.Tracker
	ops       OperationLogger
	metrics   *metrics.Metrics
	policy    retry.Policy
	log       logger.Logger
}

// New creates a Generator. The retry policy bounds JSON parse retries;
// transport errors are not retried.
func New(
	completer llm_client.Completer,
	tracker *card_metadata.Tracker,
	ops OperationLogger,
	m *metrics.Metrics,
	policy retry.Policy,
	log logger.Logger,
) *Generator {
	return &Generator{
		completer: completer,
		tracker:   tracker,
		ops:       ops,
		metrics:   m,
		policy:    policy,
		log:       log,
	}
}

type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// Generate converts plainText into a structured payload for cardType.
// extraContext and name are optional; name only applies to character cards.
//
// Parse failures retry under the configured policy and degrade to a
// fallback payload on exhaustion. Any other error propagates.
func (g *Generator) Generate(
	ctx context.Context,
	cardType cards.CardType,
	plainText, extraContext, name string,
) (*Result, error) {
	if _, err := cards.ParseCardType(string(cardType)); err != nil {
		return nil, err
	}

	prompt := buildPrompt(cardType, plainText, extraContext, name)
	start := time.Now()

	var payload cards.Payload
	err := retry.Do(ctx, g.policy, func(ctx context.Context, attempt int) error {
		text, err := g.completer.Complete(ctx, llm_client.CompletionRequest{
			SystemPrompt: prompt,
			Temperature:  0.7,
			MaxTokens:    4000,
		})
		if err != nil {
			return retry.PermanentError(fmt.Errorf("completion failed: %w", err))
		}

		parsed, err := parsePayload(text, cardType)
		if err != nil {
			g.log.Debug("Card generation parse failure",
				logger.IntField("attempt", attempt),
				logger.ErrorField(err),
			)
			return &parseError{err: err}
		}
		payload = parsed
		return nil
	})

	duration := time.Since(start)

	switch {
	case err == nil:
		g.tracker.Initialize(payload, card_metadata.SourceLLM)
		g.observe(ctx, metrics.StatusSuccess, duration, cardType, "")
		return &Result{CardType: cardType, Payload: payload}, nil

	case isParseExhaustion(err):
		// Degrade to a minimal record carrying the raw text
		fallback := cards.Payload{
			"plain_text": plainText,
			"fallback":   true,
			"name":       fallbackName(name),
		}
		g.tracker.Initialize(fallback, card_metadata.SourceLLM)
		g.observe(ctx, metrics.StatusFallback, duration, cardType, err.Error())
		return &Result{CardType: cardType, Payload: fallback, Fallback: true}, nil

	default:
		g.observe(ctx, metrics.StatusError, duration, cardType, err.Error())
		return nil, fmt.Errorf("generating %s card: %w", cardType, err)
	}
}

func isParseExhaustion(err error) bool {
	var pe *parseError
	return errors.As(err, &pe)
}

func fallbackName(name string) string {
	if name == "" {
		return "Untitled"
	}
	return name
}

func (g *Generator) observe(ctx context.Context, status string, duration time.Duration, cardType cards.CardType, errMsg string) {
	if g.metrics != nil {
		g.metrics.ObserveOperation("card_generate", status, duration)
	}
	if g.ops == nil {
		return
	}
	entry := cards.OperationEntry{
		Operation:    "card_generate",
		Status:       status,
		DurationMS:   duration.Milliseconds(),
		ErrorMessage: errMsg,
		Metadata: map[string]any{
			"model":     g.completer.Name(),
			"card_type": string(cardType),
		},
	}
	if err := g.ops.LogOperation(ctx, entry); err != nil {
		g.log.Warn("Failed to log generation telemetry", logger.ErrorField(err))
	}
}

func parsePayload(text string, cardType cards.CardType) (cards.Payload, error) {
	var payload cards.Payload
	if err := json.Unmarshal([]byte(llm_client.CleanJSON(text)), &payload); err != nil {
		return nil, fmt.Errorf("decoding generated card: %w", err)
	}
	if cardType == cards.TypeWorld {
		payload["spec"] = "world_event_v1"
		payload["spec_version"] = "1.0"
	}
	return payload, nil
}
