// Package context_assembler selects a bounded, prioritized bundle of memory
// cards to inject into the next LLM turn.
//
// Loading priority:
//  1. Self card (always)
//  2. Pinned cards (always)
//  3. Cards mentioned in the current session
//  4. Cards mentioned in the most recent N prior sessions
//
// Later tiers exclude cards already included by earlier tiers, so the
// bundle never contains the same card twice.
package context_assembler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/pkg/logger"
)

// Store provides the persisted inputs for assembly.
type Store interface {
	// SelfCard returns nil, nil when the owner has no self card yet.
	SelfCard(ctx context.Context, ownerID int64) (*cards.Card, error)
	PinnedCards(ctx context.Context, ownerID int64) ([]cards.Card, error)
	// RecentMentions returns mentions for the owner, newest first, capped
	// at limit rows.
	RecentMentions(ctx context.Context, ownerID int64, limit int) ([]cards.Mention, error)
	// CardByID returns nil, nil when the card does not exist.
	CardByID(ctx context.Context, ownerID int64, cardType cards.CardType, cardID int64) (*cards.Card, error)
}

// Bundle is the assembled context for one turn.
type Bundle struct {
	SelfCard        *cards.Card  `json:"self_card,omitempty"`
	Pinned          []cards.Card `json:"pinned"`
	CurrentMentions []cards.Card `json:"current_mentions"`
	Recent          []cards.Card `json:"recent"`
	TotalCount      int          `json:"total_count"`
}

// Config carries assembly limits.
type Config struct {
	// RecentSessionLimit is the number of distinct prior sessions whose
	// mentions feed the recent tier. Validated to [1, 20] at startup.
	RecentSessionLimit int
	// MentionScanLimit caps how many mention rows are read per assembly.
	MentionScanLimit int
}

const defaultMentionScanLimit = 100

// Assembler builds context bundles.
type Assembler struct {
	store Store
	cfg   Config
	log   logger.Logger
}

// New creates an Assembler.
func New(store Store, cfg Config, log logger.Logger) *Assembler {
	if cfg.MentionScanLimit <= 0 {
		cfg.MentionScanLimit = defaultMentionScanLimit
	}
	return &Assembler{store: store, cfg: cfg, log: log}
}

// Assemble loads the prioritized card bundle for the owner and session.
// Hidden cards never enter the bundle.
func (a *Assembler) Assemble(ctx context.Context, ownerID, sessionID int64) (*Bundle, error) {
	bundle := &Bundle{}
	included := make(map[string]bool)

	selfCard, err := a.store.SelfCard(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading self card: %w", err)
	}
	if selfCard != nil {
		bundle.SelfCard = selfCard
		included[cardKey(selfCard.Type, selfCard.ID)] = true
	}

	pinned, err := a.store.PinnedCards(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading pinned cards: %w", err)
	}
	for _, card := range pinned {
		key := cardKey(card.Type, card.ID)
		if card.IsHidden || included[key] {
			continue
		}
		bundle.Pinned = append(bundle.Pinned, card)
		included[key] = true
	}

	mentions, err := a.store.RecentMentions(ctx, ownerID, a.cfg.MentionScanLimit)
	if err != nil {
		return nil, fmt.Errorf("loading mentions: %w", err)
	}

	current, err := a.currentSessionCards(ctx, ownerID, sessionID, mentions, included)
	if err != nil {
		return nil, err
	}
	bundle.CurrentMentions = current

	recent, err := a.recentCards(ctx, ownerID, sessionID, mentions, included)
	if err != nil {
		return nil, err
	}
	bundle.Recent = recent

	total := len(bundle.Pinned) + len(bundle.CurrentMentions) + len(bundle.Recent)
	if bundle.SelfCard != nil {
		total++
	}
	bundle.TotalCount = total

	if a.log != nil {
		a.log.Debug("Assembled context",
			logger.Int64Field("owner_id", ownerID),
			logger.Int64Field("session_id", sessionID),
			logger.IntField("total_cards", total),
		)
	}
	return bundle, nil
}

// currentSessionCards loads the cards referenced by mentions in the active
// session, newest first, skipping anything already included.
func (a *Assembler) currentSessionCards(
	ctx context.Context,
	ownerID, sessionID int64,
	mentions []cards.Mention,
	included map[string]bool,
) ([]cards.Card, error) {
	var result []cards.Card
	for _, mention := range mentions {
		if mention.SessionID != sessionID {
			continue
		}
		key := cardKey(mention.CardType, mention.CardID)
		if included[key] {
			continue
		}
		included[key] = true

		card, err := a.store.CardByID(ctx, ownerID, mention.CardType, mention.CardID)
		if err != nil {
			return nil, fmt.Errorf("loading mentioned card %d: %w", mention.CardID, err)
		}
		if card == nil || card.IsHidden {
			continue
		}
		result = append(result, *card)
	}
	return result, nil
}

// recentCards loads cards mentioned in the most recent N distinct prior
// sessions, ordered by their most recent mention timestamp descending.
func (a *Assembler) recentCards(
	ctx context.Context,
	ownerID, sessionID int64,
	mentions []cards.Mention,
	included map[string]bool,
) ([]cards.Card, error) {
	// Most recent N distinct sessions, excluding the active one.
	window := make(map[int64]bool)
	for _, mention := range mentions {
		if mention.SessionID == sessionID || window[mention.SessionID] {
			continue
		}
		if len(window) >= a.cfg.RecentSessionLimit {
			continue
		}
		window[mention.SessionID] = true
	}

	// Most recent mention per card inside the window.
	type ref struct {
		cardType cards.CardType
		cardID   int64
		at       time.Time
	}
	latest := make(map[string]ref)
	for _, mention := range mentions {
		if !window[mention.SessionID] {
			continue
		}
		key := cardKey(mention.CardType, mention.CardID)
		if included[key] {
			continue
		}
		if existing, ok := latest[key]; !ok || mention.MentionedAt.After(existing.at) {
			latest[key] = ref{cardType: mention.CardType, cardID: mention.CardID, at: mention.MentionedAt}
		}
	}

	refs := make([]ref, 0, len(latest))
	for _, r := range latest {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].at.After(refs[j].at) })

	var result []cards.Card
	for _, r := range refs {
		card, err := a.store.CardByID(ctx, ownerID, r.cardType, r.cardID)
		if err != nil {
			return nil, fmt.Errorf("loading recent card %d: %w", r.cardID, err)
		}
		if card == nil || card.IsHidden {
			continue
		}
		included[cardKey(r.cardType, r.cardID)] = true
		result = append(result, *card)
	}
	return result, nil
}

func cardKey(t cards.CardType, id int64) string {
	return fmt.Sprintf("%s/%d", t, id)
}
