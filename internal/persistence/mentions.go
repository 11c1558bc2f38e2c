package persistence

import (
	"context"
	"fmt"

	"github.com/harborlight/companion/internal/cards"
)

// AddMention appends one mention observation.
func (s *Store) AddMention(ctx context.Context, mention cards.Mention) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_mentions (owner_id, session_id, card_id, card_type, mention_context, mentioned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, mention.OwnerID, mention.SessionID, mention.CardID, string(mention.CardType),
		mention.ContextSnippet, mention.MentionedAt)
	if err != nil {
		return fmt.Errorf("add mention: %w", err)
	}
	return nil
}

// RecentMentions returns the owner's most recent mentions, newest first.
func (s *Store) RecentMentions(ctx context.Context, ownerID int64, limit int) ([]cards.Mention, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, session_id, card_id, card_type, mention_context, mentioned_at
		FROM entity_mentions
		WHERE owner_id = $1
		ORDER BY mentioned_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent mentions: %w", err)
	}
	defer rows.Close()

	var result []cards.Mention
	for rows.Next() {
		var m cards.Mention
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.SessionID, &m.CardID, &m.CardType,
			&m.ContextSnippet, &m.MentionedAt); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
