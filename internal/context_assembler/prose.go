package context_assembler

import (
	"fmt"
	"strings"

	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/cards"
)

// Section headings for the rendered context, in render order.
const (
	headingSelf    = "### Self Card"
	headingPinned  = "### People & Events Kept in Mind"
	headingCurrent = "### Currently Discussing"
	headingRecent  = "### Recently Referenced"
)

// FormatProse renders the bundle as prose for the LLM system prompt.
// Every scalar field is suffixed with its recency label when one exists.
func FormatProse(bundle *Bundle, tracker *card_metadata.Tracker) string {
	var sections []string

	if bundle.SelfCard != nil {
		var b strings.Builder
		b.WriteString(headingSelf + "\n")
		writeFields(&b, bundle.SelfCard.Payload, tracker, "")
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	for _, tier := range []struct {
		heading string
		cards   []cards.Card
	}{
		{headingPinned, bundle.Pinned},
		{headingCurrent, bundle.CurrentMentions},
		{headingRecent, bundle.Recent},
	} {
		if len(tier.cards) == 0 {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%d)\n", tier.heading, len(tier.cards))
		for _, card := range tier.cards {
			writeCard(&b, card, tracker)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(sections) == 0 {
		return "No context loaded"
	}
	return strings.Join(sections, "\n\n")
}

func writeCard(b *strings.Builder, card cards.Card, tracker *card_metadata.Tracker) {
	name := card.Name()
	if name == "" {
		name = fmt.Sprintf("Card %d", card.ID)
	}
	fmt.Fprintf(b, "- %s: %s\n", strings.ToUpper(string(card.Type)), name)
	if card.Type == cards.TypeWorld {
		writeWorldFields(b, card)
		return
	}
	writeFields(b, card.Payload, tracker, "  ")
}

func writeFields(b *strings.Builder, payload cards.Payload, tracker *card_metadata.Tracker, indent string) {
	for _, leaf := range card_metadata.Leaves(payload) {
		line := fmt.Sprintf("%s- %s: %v", indent, leaf.Path, leaf.Value)
		if label := tracker.RecencyLabel(payload, leaf.Path); label != "" {
			line += fmt.Sprintf(" [%s]", label)
		}
		b.WriteString(line + "\n")
	}
}

// World cards keep their content in typed columns rather than the payload.
func writeWorldFields(b *strings.Builder, card cards.Card) {
	if card.Description != "" {
		fmt.Fprintf(b, "  - description: %s\n", card.Description)
	}
	if card.EventType != "" {
		fmt.Fprintf(b, "  - event_type: %s\n", card.EventType)
	}
	if len(card.Keywords) > 0 {
		fmt.Fprintf(b, "  - keywords: %s\n", strings.Join(card.Keywords, ", "))
	}
	fmt.Fprintf(b, "  - resolved: %t\n", card.Resolved)
}
