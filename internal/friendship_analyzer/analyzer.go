// Package friendship_analyzer scores completed session transcripts for
// relationship-depth signals and computes a bounded point delta toward the
// owner's friendship level with an advisor. A score of nil is a valid
// outcome and means "no change", never an error.
package friendship_analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/internal/llm_client"
	"github.com/harborlight/companion/pkg/logger"
	"github.com/harborlight/companion/pkg/metrics"
	"github.com/harborlight/companion/pkg/retry"
)

// MinPointsDelta and MaxPointsDelta bound a single session's score before
// the diminishing-returns multipliers are applied.
const (
	MinPointsDelta = -5
	MaxPointsDelta = 10
)

// OperationLogger records analyzer telemetry rows.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry cards.OperationEntry) error
}

// Result is a single session's friendship score.
type Result struct {
	PointsDelta     int      `json:"points_delta"`
	Reasoning       string   `json:"reasoning"`
	SignalsDetected []string `json:"signals_detected"`
	KeyQuotes       []string `json:"key_quotes"`
	FriendshipTier  string   `json:"friendship_tier"`
}

// wireResult uses a pointer delta so a response that parses but omits the
// score is treated as a failed attempt and retried.
type wireResult struct {
	PointsDelta     *int     `json:"points_delta"`
	Reasoning       string   `json:"reasoning"`
	SignalsDetected []string `json:"signals_detected"`
	KeyQuotes       []string `json:"key_quotes"`
	FriendshipTier  string   `json:"friendship_tier"`
}

// Analyzer scores transcripts via a single rubric-driven LLM call.
type Analyzer struct {
	completer llm_client.Completer
	ops       OperationLogger
	metrics   *metrics.Metrics
	policy    retry.Policy
	log       logger.Logger
}

// New creates an Analyzer. The policy's InitialBackoff doubles as the fixed
// delay between attempts when MaxBackoff equals it.
func New(
	completer llm_client.Completer,
	ops OperationLogger,
	m *metrics.Metrics,
	policy retry.Policy,
	log logger.Logger,
) *Analyzer {
	if policy.MaxAttempts < 1 {
		policy = retry.DefaultPolicy()
	}
	return &Analyzer{
		completer: completer,
		ops:       ops,
		metrics:   m,
		policy:    policy,
		log:       log,
	}
}

// Analyze scores one session transcript. It returns nil (and no error) when
// every attempt fails; callers treat that as a no-op.
func (a *Analyzer) Analyze(
	ctx context.Context,
	messages []cards.Message,
	counselorName string,
	currentLevel, currentPoints int,
) (*Result, error) {
	start := time.Now()
	prompt := buildRubricPrompt(formatTranscript(messages), counselorName, currentLevel, currentPoints)

	var result *Result
	err := retry.Do(ctx, a.policy, func(ctx context.Context, attempt int) error {
		response, err := a.completer.Complete(ctx, llm_client.CompletionRequest{
			SystemPrompt: "You are a precise JSON extraction system. Output ONLY valid JSON.",
			Messages:     []llm_client.Message{{Role: "user", Content: prompt}},
			Temperature:  0.2,
			MaxTokens:    500,
		})
		if err != nil {
			return fmt.Errorf("friendship completion: %w", err)
		}

		var wire wireResult
		if err := json.Unmarshal([]byte(llm_client.CleanJSON(response)), &wire); err != nil {
			return fmt.Errorf("parsing friendship score: %w", err)
		}
		if wire.PointsDelta == nil {
			return fmt.Errorf("friendship score missing points_delta")
		}

		result = &Result{
			PointsDelta:     clampDelta(*wire.PointsDelta),
			Reasoning:       wire.Reasoning,
			SignalsDetected: wire.SignalsDetected,
			KeyQuotes:       wire.KeyQuotes,
			FriendshipTier:  wire.FriendshipTier,
		}
		return nil
	})
	if err != nil {
		a.log.Warn("Friendship analysis exhausted retries",
			logger.StringField("counselor", counselorName),
			logger.ErrorField(err),
		)
		a.observe(ctx, metrics.StatusError, start, currentLevel, nil, err)
		return nil, nil
	}

	result.PointsDelta = applyDiminishingReturns(result.PointsDelta, currentLevel)

	a.observe(ctx, metrics.StatusSuccess, start, currentLevel, result, nil)
	return result, nil
}

// applyDiminishingReturns scales the delta down at higher levels. Both
// multipliers apply sequentially at level 4 and above, each truncating to
// an integer, so advancing gets progressively harder.
func applyDiminishingReturns(delta, currentLevel int) int {
	if currentLevel >= 3 {
		delta = int(float64(delta) * 0.7)
	}
	if currentLevel >= 4 {
		delta = int(float64(delta) * 0.5)
	}
	return delta
}

func clampDelta(delta int) int {
	if delta < MinPointsDelta {
		return MinPointsDelta
	}
	if delta > MaxPointsDelta {
		return MaxPointsDelta
	}
	return delta
}

func (a *Analyzer) observe(
	ctx context.Context,
	status string,
	start time.Time,
	currentLevel int,
	result *Result,
	cause error,
) {
	duration := time.Since(start)
	if a.metrics != nil {
		a.metrics.ObserveOperation("friendship", status, duration)
	}
	if a.ops == nil {
		return
	}

	entry := cards.OperationEntry{
		Operation:  "friendship",
		Status:     status,
		DurationMS: duration.Milliseconds(),
		Metadata: map[string]any{
			"model":         a.completer.Name(),
			"current_level": currentLevel,
		},
	}
	if result != nil {
		entry.Metadata["points_delta"] = result.PointsDelta
		entry.Metadata["friendship_tier"] = result.FriendshipTier
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	if err := a.ops.LogOperation(ctx, entry); err != nil {
		a.log.Warn("Failed to log friendship telemetry", logger.ErrorField(err))
	}
}

// formatTranscript renders messages with the roles the rubric expects.
func formatTranscript(messages []cards.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		speaker := msg.Speaker
		if speaker == "" {
			speaker = msg.Role
		}
		switch speaker {
		case "client":
			speaker = "User"
		case "counselor":
			speaker = "Advisor"
		case "":
			speaker = "unknown"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, msg.Content))
	}
	return strings.Join(lines, "\n")
}
