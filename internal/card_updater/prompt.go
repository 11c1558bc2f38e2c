package card_updater

import (
	"context"
	"fmt"
	"strings"

	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/cards"
)

// buildUpdatePrompt assembles the single analysis prompt: the transcript
// plus a summary of every existing card so the model references real card
// IDs and avoids proposing duplicates.
func (u *Updater) buildUpdatePrompt(ctx context.Context, ownerID int64, messages []cards.Message) (string, error) {
	summary, err := u.existingCardsSummary(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(updateTemplate, formatTranscript(messages), summary), nil
}

func (u *Updater) existingCardsSummary(ctx context.Context, ownerID int64) (string, error) {
	var lines []string

	selfCard, err := u.store.SelfCard(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("loading self card: %w", err)
	}
	if selfCard != nil {
		root := card_metadata.ContentRoot(selfCard.Payload)
		lines = append(lines,
			fmt.Sprintf("Self Card (id=%d):", selfCard.ID),
			fmt.Sprintf("  Personality: %v", fieldOr(root, "personality", "N/A")),
			fmt.Sprintf("  Traits: %v", fieldOr(root, "traits", "[]")),
			"",
		)
	}

	characters, err := u.store.CharacterCards(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("loading character cards: %w", err)
	}
	for _, card := range characters {
		root := card_metadata.ContentRoot(card.Payload)
		patterns, _ := root[cards.PatternsField].([]any)
		lines = append(lines,
			fmt.Sprintf("Character Card %q (id=%d):", card.DisplayName, card.ID),
			fmt.Sprintf("  Personality: %v", fieldOr(root, "personality", "N/A")),
			fmt.Sprintf("  Patterns: %d patterns", len(patterns)),
			"",
		)
	}

	worldEvents, err := u.store.WorldCards(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("loading world cards: %w", err)
	}
	for _, event := range worldEvents {
		lines = append(lines,
			fmt.Sprintf("World Event %q (id=%d):", event.Title, event.ID),
			fmt.Sprintf("  Description: %s", truncate(event.Description, 100)),
			"",
		)
	}

	return strings.Join(lines, "\n"), nil
}

func fieldOr(root map[string]any, field string, fallback string) any {
	if v, ok := root[field]; ok {
		return v
	}
	return fallback
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

const updateTemplate = `You are a memory card updater for a therapeutic storytelling companion app, analyzing a counseling session transcript.

TRANSCRIPT:
---
%s

EXISTING CARDS:
---
%s

Output ONLY valid JSON proposing updates:
{
  "confidence": 0.0-1.0,  // Batch-level confidence
  "updates": [
    {
      "card_id": 12,
      "card_type": "character|self|world",
      "updates": [
        {
          "field": "personality|patterns|key_events|user_feelings|key_array|description|traits|interests|values",
          "action": "merge|append|replace",
          "value": "...",
          "reason": "...",
          "confidence": 0.0-1.0  // Per-field confidence
        }
      ]
    }
  ],
  "new_cards": [
    {
      "card_type": "character",
      "name": "...",
      "relationship_type": "family|friend|coworker|romantic|other",
      "personality": "...",
      "patterns": []
    }
  ]
}

Rules:
- Only propose updates if you're confident (confidence >= 0.7 per field)
- For personality: use "merge" action
- For patterns: use "append" action
- For arrays: use "append" action
- For simple fields: use "replace" action
- Propose a new card only for a person mentioned by name who has no existing card
- If batch confidence is low, return an empty updates array

Do not include any text outside of JSON.`
