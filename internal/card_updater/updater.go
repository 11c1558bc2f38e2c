// Package card_updater analyzes completed session transcripts and applies
// confidence-gated, field-level updates to memory cards. One LLM call per
// session proposes a batch of diffs and new card suggestions; everything
// below the confidence thresholds is silently dropped and counted.
package card_updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harborlight/companion/internal/card_generator"
	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/internal/llm_client"
	"github.com/harborlight/companion/pkg/logger"
	"github.com/harborlight/companion/pkg/metrics"
)

// Store is the persistence surface the updater needs.
type Store interface {
	SelfCard(ctx context.Context, ownerID int64) (*cards.Card, error)
	CharacterCards(ctx context.Context, ownerID int64) ([]cards.Card, error)
	WorldCards(ctx context.Context, ownerID int64) ([]cards.Card, error)
	CardByID(ctx context.Context, ownerID int64, cardType cards.CardType, cardID int64) (*cards.Card, error)
	// SaveCard writes the card back, rejecting the write with
	// cards.ErrStaleRevision when the stored revision has moved on.
	SaveCard(ctx context.Context, card *cards.Card) error
	CreateSelfCard(ctx context.Context, ownerID int64, payload cards.Payload) (*cards.Card, error)
	CreateCharacterCard(ctx context.Context, ownerID int64, name string, category cards.RelationshipCategory, payload cards.Payload) (*cards.Card, error)
	LogOperation(ctx context.Context, entry cards.OperationEntry) error
}

// CardSource generates card payloads from plain text. Used for the one-time
// self card bootstrap.
type CardSource interface {
	Generate(ctx context.Context, cardType cards.CardType, plainText, extraContext, name string) (*card_generator.Result, error)
}

// Config holds the confidence thresholds.
type Config struct {
	// BatchConfidenceThreshold suppresses whole sessions the model is not
	// sure about. Default 0.3.
	BatchConfidenceThreshold float64
	// FieldConfidenceThreshold gates individual field diffs. Default 0.7.
	FieldConfidenceThreshold float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		BatchConfidenceThreshold: 0.3,
		FieldConfidenceThreshold: 0.7,
	}
}

// Change records the fields applied to one card.
type Change struct {
	CardID   int64          `json:"card_id"`
	CardType cards.CardType `json:"card_type"`
	Fields   []string       `json:"fields_updated"`
}

// Summary is the outcome of one updater invocation.
type Summary struct {
	CardsUpdated    int      `json:"cards_updated"`
	CardsSkipped    int      `json:"cards_skipped"`
	Changes         []Change `json:"updates_applied"`
	SelfCardCreated bool     `json:"self_card_created"`
	NewCards        []string `json:"new_cards_created"`
}

// Updater applies post-session card updates.
type Updater struct {
	store     Store
	completer llm_client.Completer
	generator CardSource
	tracker   *card_metadata.Tracker
	metrics   *metrics.Metrics
	cfg       Config
	log       logger.Logger
}

// New creates an Updater.
func New(
	store Store,
	completer llm_client.Completer,
	generator CardSource,
	tracker *card_metadata.Tracker,
	m *metrics.Metrics,
	cfg Config,
	log logger.Logger,
) *Updater {
	if cfg.BatchConfidenceThreshold == 0 {
		cfg.BatchConfidenceThreshold = 0.3
	}
	if cfg.FieldConfidenceThreshold == 0 {
		cfg.FieldConfidenceThreshold = 0.7
	}
	return &Updater{
		store:     store,
		completer: completer,
		generator: generator,
		tracker:   tracker,
		metrics:   m,
		cfg:       cfg,
		log:       log,
	}
}

// LLM proposal wire shapes.
type proposal struct {
	Confidence float64        `json:"confidence"`
	Updates    []recordUpdate `json:"updates"`
	NewCards   []newCard      `json:"new_cards"`
}

type recordUpdate struct {
	CardID   int64         `json:"card_id"`
	CardType string        `json:"card_type"`
	Updates  []fieldUpdate `json:"updates"`
}

type fieldUpdate struct {
	Field      string  `json:"field"`
	Action     string  `json:"action"`
	Value      any     `json:"value"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type newCard struct {
	CardType         string `json:"card_type"`
	Name             string `json:"name"`
	RelationshipType string `json:"relationship_type"`
	Personality      string `json:"personality"`
	Patterns         []any  `json:"patterns"`
}

// AnalyzeAndUpdate runs the full post-session pipeline for one transcript.
func (u *Updater) AnalyzeAndUpdate(
	ctx context.Context,
	ownerID, sessionID int64,
	messages []cards.Message,
) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	summary.SelfCardCreated = u.bootstrapSelfCard(ctx, ownerID, messages)

	prompt, err := u.buildUpdatePrompt(ctx, ownerID, messages)
	if err != nil {
		u.observe(ctx, metrics.StatusError, start, ownerID, sessionID, summary, err)
		return nil, err
	}

	response, err := u.completer.Complete(ctx, llm_client.CompletionRequest{
		SystemPrompt: prompt,
		Temperature:  0.7,
		MaxTokens:    2000,
	})
	if err != nil {
		err = fmt.Errorf("update proposal completion: %w", err)
		u.observe(ctx, metrics.StatusError, start, ownerID, sessionID, summary, err)
		return nil, err
	}

	var prop proposal
	if err := json.Unmarshal([]byte(llm_client.CleanJSON(response)), &prop); err != nil {
		// A malformed proposal degrades to zero changes, never an error
		u.log.Warn("Discarding unparseable update proposal",
			logger.Int64Field("session_id", sessionID),
			logger.ErrorField(err),
		)
		u.observe(ctx, metrics.StatusError, start, ownerID, sessionID, summary, err)
		return summary, nil
	}

	if prop.Confidence < u.cfg.BatchConfidenceThreshold {
		u.log.Debug("Batch confidence below threshold",
			logger.Int64Field("session_id", sessionID),
			logger.Float64Field("confidence", prop.Confidence),
		)
		u.observe(ctx, metrics.StatusSkipped, start, ownerID, sessionID, summary, nil)
		return summary, nil
	}

	for _, update := range prop.Updates {
		applied, skipped := u.applyRecordUpdate(ctx, ownerID, update)
		if skipped {
			summary.CardsSkipped++
			if u.metrics != nil && u.metrics.CardsSkippedCounter != nil {
				u.metrics.CardsSkippedCounter.Inc()
			}
			continue
		}
		if len(applied) > 0 {
			summary.CardsUpdated++
			cardType, _ := cards.ParseCardType(update.CardType)
			summary.Changes = append(summary.Changes, Change{
				CardID:   update.CardID,
				CardType: cardType,
				Fields:   applied,
			})
		}
	}

	summary.NewCards = u.createNewCards(ctx, ownerID, prop.NewCards)

	u.observe(ctx, metrics.StatusSuccess, start, ownerID, sessionID, summary, nil)
	return summary, nil
}

// bootstrapSelfCard synthesizes a self card from the transcript when the
// owner has none. Failures are swallowed so they never block the rest of
// the pipeline.
func (u *Updater) bootstrapSelfCard(ctx context.Context, ownerID int64, messages []cards.Message) bool {
	existing, err := u.store.SelfCard(ctx, ownerID)
	if err != nil || existing != nil {
		return false
	}

	result, err := u.generator.Generate(ctx, cards.TypeSelf, formatTranscript(messages), "", "")
	if err != nil || result == nil {
		u.log.Debug("Self card bootstrap failed", logger.Int64Field("owner_id", ownerID))
		return false
	}

	if _, err := u.store.CreateSelfCard(ctx, ownerID, result.Payload); err != nil {
		u.log.Warn("Failed to persist bootstrapped self card",
			logger.Int64Field("owner_id", ownerID),
			logger.ErrorField(err),
		)
		return false
	}
	return true
}

// applyRecordUpdate loads the target card, applies the gated field diffs
// and writes it back. Returns the applied field names, or skipped=true when
// the card opted out, vanished, or lost the revision race.
func (u *Updater) applyRecordUpdate(ctx context.Context, ownerID int64, update recordUpdate) (applied []string, skipped bool) {
	cardType, err := cards.ParseCardType(update.CardType)
	if err != nil {
		return nil, true
	}

	card, err := u.store.CardByID(ctx, ownerID, cardType, update.CardID)
	if err != nil || card == nil {
		return nil, true
	}
	if !card.AutoUpdateEnabled {
		return nil, true
	}

	for _, fu := range update.Updates {
		if fu.Confidence < u.cfg.FieldConfidenceThreshold {
			continue
		}
		if u.applyFieldUpdate(card, fu) {
			applied = append(applied, fu.Field)
		}
	}

	if len(applied) == 0 {
		return nil, false
	}

	if card.Payload == nil {
		card.Payload = cards.Payload{}
	}
	u.tracker.Touch(card.Payload, applied, card_metadata.SourceLLM)

	if err := u.store.SaveCard(ctx, card); err != nil {
		if errors.Is(err, cards.ErrStaleRevision) {
			u.log.Debug("Dropping update for concurrently modified card",
				logger.Int64Field("card_id", card.ID))
		} else {
			u.log.Warn("Failed to save card update",
				logger.Int64Field("card_id", card.ID),
				logger.ErrorField(err),
			)
		}
		return nil, true
	}

	if u.metrics != nil && u.metrics.CardsUpdatedCounter != nil {
		u.metrics.CardsUpdatedCounter.Inc()
	}
	return applied, false
}

// createNewCards creates character cards proposed by the model, skipping
// empty names and names that already exist case-insensitively.
func (u *Updater) createNewCards(ctx context.Context, ownerID int64, proposals []newCard) []string {
	if len(proposals) == 0 {
		return nil
	}

	existing, err := u.store.CharacterCards(ctx, ownerID)
	if err != nil {
		u.log.Warn("Skipping new card creation", logger.ErrorField(err))
		return nil
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[strings.ToLower(c.DisplayName)] = true
	}

	var created []string
	for _, nc := range proposals {
		if nc.CardType != string(cards.TypeCharacter) {
			continue
		}
		name := strings.TrimSpace(nc.Name)
		if name == "" || known[strings.ToLower(name)] {
			continue
		}

		payload := cards.Payload{
			"name":              name,
			"relationship_type": nc.RelationshipType,
		}
		if nc.Personality != "" {
			payload["personality"] = nc.Personality
		}
		if len(nc.Patterns) > 0 {
			payload[cards.PatternsField] = nc.Patterns
		}
		u.tracker.Initialize(payload, card_metadata.SourceLLM)

		category := parseCategory(nc.RelationshipType)
		if _, err := u.store.CreateCharacterCard(ctx, ownerID, name, category, payload); err != nil {
			u.log.Warn("Failed to create proposed card",
				logger.StringField("name", name),
				logger.ErrorField(err),
			)
			continue
		}
		known[strings.ToLower(name)] = true
		created = append(created, name)
	}
	return created
}

func parseCategory(s string) cards.RelationshipCategory {
	switch cards.RelationshipCategory(strings.ToLower(s)) {
	case cards.CategoryFamily, cards.CategoryFriend, cards.CategoryCoworker, cards.CategoryRomantic:
		return cards.RelationshipCategory(strings.ToLower(s))
	default:
		return cards.CategoryOther
	}
}

func (u *Updater) observe(
	ctx context.Context,
	status string,
	start time.Time,
	ownerID, sessionID int64,
	summary *Summary,
	cause error,
) {
	duration := time.Since(start)
	if u.metrics != nil {
		u.metrics.ObserveOperation("card_update", status, duration)
	}

	entry := cards.OperationEntry{
		Operation:  "card_update",
		Status:     status,
		DurationMS: duration.Milliseconds(),
		Metadata: map[string]any{
			"owner_id":      ownerID,
			"session_id":    sessionID,
			"model":         u.completer.Name(),
			"cards_updated": summary.CardsUpdated,
			"cards_skipped": summary.CardsSkipped,
		},
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	if err := u.store.LogOperation(ctx, entry); err != nil {
		u.log.Warn("Failed to log updater telemetry", logger.ErrorField(err))
	}
}

func formatTranscript(messages []cards.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n")
}
