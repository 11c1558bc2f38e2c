package card_generator

import (
	"fmt"

	"github.com/harborlight/companion/internal/cards"
)

func buildPrompt(cardType cards.CardType, plainText, extraContext, name string) string {
	contextSection := ""
	if extraContext != "" {
		contextSection = fmt.Sprintf("\nCONTEXT:\n---\n%s\n", extraContext)
	}

	nameSection := ""
	if name != "" && cardType == cards.TypeCharacter {
		nameSection = fmt.Sprintf("\nNAME:\n---\n%s\n", name)
	}

	switch cardType {
	case cards.TypeSelf:
		return fmt.Sprintf(selfTemplate, plainText, contextSection)
	case cards.TypeCharacter:
		return fmt.Sprintf(characterTemplate, plainText, contextSection, nameSection)
	default:
		return fmt.Sprintf(worldTemplate, plainText, contextSection)
	}
}

const selfTemplate = `You are a card generator for a therapeutic storytelling companion app.

Convert this plain text description into a structured self-card:

PLAIN TEXT:
---
%s
%s
Output ONLY valid JSON in this format:
{
  "spec": "self_card_v1",
  "spec_version": "1.0",
  "data": {
    "name": "optional_display_name",
    "summary": "1-2 sentence overview",
    "personality": "Short description",
    "traits": ["trait1", "trait2"],
    "interests": ["interest1", "interest2"],
    "values": ["value1", "value2"],
    "strengths": ["strength1", "strength2"],
    "challenges": ["challenge1", "challenge2"],
    "goals": [
      {"goal": "...", "timeframe": "..."}
    ],
    "triggers": ["trigger1", "trigger2"],
    "coping_strategies": ["strategy1", "strategy2"],
    "patterns": [
      {"pattern": "...", "weight": 0.0-1.0, "mentions": 1}
    ],
    "current_themes": ["theme1", "theme2"]
  }
}

Do not include any text outside of JSON.`

const characterTemplate = `You are a card generator for a therapeutic storytelling companion app.

Convert this plain text description into a structured character card:

PLAIN TEXT:
---
%s
%s%s
Output ONLY valid JSON in this format:
{
  "spec": "character_card_v1",
  "spec_version": "1.0",
  "data": {
    "name": "...",
    "relationship_type": "family|friend|coworker|romantic|other",
    "personality": "...",
    "patterns": [
      {"pattern": "...", "weight": 0.0-1.0, "mentions": 1}
    ],
    "key_events": [
      {"event": "...", "date": "...", "impact": "..."}
    ],
    "user_feelings": [
      {"feeling": "...", "weight": 0.0-1.0}
    ],
    "emotional_state": {
      "user_to_other": {
        "trust": 0-100,
        "emotional_bond": 0-100,
        "conflict": 0-100,
        "power_dynamic": -100 to 100,
        "fear_anxiety": 0-100
      },
      "other_to_user": null
    }
  }
}

Do not include any text outside of JSON.`

const worldTemplate = `You are a card generator for a therapeutic storytelling companion app.

Convert this plain text description into a structured world event card:

PLAIN TEXT:
---
%s
%s
Output ONLY valid JSON in this format:
{
  "title": "...",
  "event_type": "achievement|trauma|transition|unresolved",
  "key_array": ["keyword1", "keyword2", ...],
  "description": "...",
  "resolved": true|false
}

Do not include any text outside of JSON.`
