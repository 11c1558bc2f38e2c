// Package entity_detector finds references to memory cards in free text
// using keyword matching. No embeddings, no semantic search: names,
// relationship keywords, event titles and event types, with linguistic
// normalization to catch possessives and common plurals.
package entity_detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/pkg/logger"
)

// MatchKind explains why a card matched.
type MatchKind string

const (
	MatchName      MatchKind = "name"
	MatchTitle     MatchKind = "title"
	MatchLabel     MatchKind = "label"
	MatchKeyword   MatchKind = "keyword"
	MatchEventType MatchKind = "event_type"
)

// Match is one detected card reference.
type Match struct {
	CardID   int64
	CardType cards.CardType
	Kind     MatchKind
}

// Store provides the candidate cards for an owner.
type Store interface {
	CharacterCards(ctx context.Context, ownerID int64) ([]cards.Card, error)
	WorldCards(ctx context.Context, ownerID int64) ([]cards.Card, error)
}

// Keywords maps a relationship category to the broad terms that refer to it.
type Keywords map[cards.RelationshipCategory][]string

// DefaultKeywords returns the built-in category keyword table.
func DefaultKeywords() Keywords {
	return Keywords{
		cards.CategoryFamily: {
			"mom", "mother", "mama", "mum", "mommy",
			"dad", "father", "papa", "pop", "daddy",
			"parent", "parents",
			"brother", "sister", "sibling", "siblings",
			"grandmother", "grandma", "grandfather", "grandpa",
			"grandparent", "grandparents",
			"aunt", "uncle", "cousin",
			"niece", "nephew",
		},
		cards.CategoryFriend: {
			"friend", "friends", "best friend", "bestfriend",
			"buddy", "pal", "bff", "homie",
		},
		cards.CategoryRomantic: {
			"partner", "boyfriend", "bf", "girlfriend", "gf",
			"wife", "husband", "spouse", "fiancé", "fiancée",
			"significant other", "so",
		},
		cards.CategoryCoworker: {
			"boss", "manager", "supervisor", "director",
			"coworker", "coworkers", "colleague", "colleagues",
			"teammate", "teammates",
			"teacher", "professor", "instructor", "coach", "mentor",
		},
	}
}

// Config carries detector options. A nil Keywords table falls back to
// DefaultKeywords, so tests and locale variants can substitute their own.
type Config struct {
	Keywords Keywords
}

// Detector detects card mentions in message text. It never writes mentions;
// persisting the result is the caller's responsibility.
type Detector struct {
	store    Store
	keywords Keywords
	log      logger.Logger
}

// New creates a Detector.
func New(store Store, cfg Config, log logger.Logger) *Detector {
	kw := cfg.Keywords
	if kw == nil {
		kw = DefaultKeywords()
	}
	return &Detector{
		store:    store,
		keywords: kw,
		log:      log,
	}
}

// Detect returns the cards plausibly referenced by text, each tagged with
// the first matching rule in priority order, deduplicated by card.
func (d *Detector) Detect(ctx context.Context, text string, ownerID int64) ([]Match, error) {
	normalized := normalizeText(text)

	characters, err := d.store.CharacterCards(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading character cards: %w", err)
	}
	worldEvents, err := d.store.WorldCards(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading world cards: %w", err)
	}

	var matches []Match
	matched := make(map[int64]bool)

	// First pass: names and custom relationship labels. Labels claimed here
	// are withheld from the broad keyword pass so that labeling one sibling
	// "Sister" does not make every family card match on the word.
	labelClaimed := make(map[string]bool)
	for _, card := range characters {
		if containsWholeWord(normalized, strings.ToLower(card.DisplayName)) {
			matches = append(matches, Match{CardID: card.ID, CardType: cards.TypeCharacter, Kind: MatchName})
			matched[card.ID] = true
			continue
		}
		if label := strings.ToLower(card.RelationshipLabel); label != "" && containsWholeWord(normalized, label) {
			matches = append(matches, Match{CardID: card.ID, CardType: cards.TypeCharacter, Kind: MatchLabel})
			matched[card.ID] = true
			labelClaimed[label] = true
		}
	}

	// Second pass: broad category keywords for the cards still unmatched.
	for _, card := range characters {
		if matched[card.ID] {
			continue
		}
		if d.matchesCategory(card.RelationshipCategory, normalized, labelClaimed) {
			matches = append(matches, Match{CardID: card.ID, CardType: cards.TypeCharacter, Kind: MatchKeyword})
		}
	}

	for _, event := range worldEvents {
		if containsWholeWord(normalized, strings.ToLower(event.Title)) {
			matches = append(matches, Match{CardID: event.ID, CardType: cards.TypeWorld, Kind: MatchTitle})
			continue
		}
		if kind, ok := matchWorldKeywords(event, normalized); ok {
			matches = append(matches, Match{CardID: event.ID, CardType: cards.TypeWorld, Kind: kind})
		}
	}

	matches = lo.UniqBy(matches, func(m Match) string {
		return fmt.Sprintf("%d/%s", m.CardID, m.CardType)
	})

	if d.log != nil && len(matches) > 0 {
		d.log.Debug("Detected card mentions",
			logger.Int64Field("owner_id", ownerID),
			logger.IntField("matches", len(matches)),
		)
	}
	return matches, nil
}

func (d *Detector) matchesCategory(category cards.RelationshipCategory, text string, claimed map[string]bool) bool {
	for _, kw := range d.keywords[category] {
		if claimed[kw] {
			continue
		}
		if containsWholeWord(text, kw) {
			return true
		}
	}
	return false
}

// matchWorldKeywords checks the event's keyword array, then its event type.
// Event-type matching is deliberately broad: every event sharing the type
// matches when the type word appears.
func matchWorldKeywords(event cards.Card, text string) (MatchKind, bool) {
	for _, kw := range event.Keywords {
		if containsWholeWord(text, strings.ToLower(kw)) {
			return MatchKeyword, true
		}
	}
	if et := strings.ToLower(event.EventType); et != "" && containsWholeWord(text, et) {
		return MatchEventType, true
	}
	return "", false
}
