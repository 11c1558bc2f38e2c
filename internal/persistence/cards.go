package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/pkg/logger"
)

// SelfCard returns the owner's self card, or nil when none exists.
func (s *Store) SelfCard(ctx context.Context, ownerID int64) (*cards.Card, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, card_json, auto_update_enabled, revision, created_at, last_updated
		FROM self_cards
		WHERE owner_id = $1
	`, ownerID)

	card := cards.Card{Type: cards.TypeSelf}
	err := row.Scan(&card.ID, &card.OwnerID, &card.Payload, &card.AutoUpdateEnabled,
		&card.Revision, &card.CreatedAt, &card.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get self card: %w", err)
	}
	return &card, nil
}

// CreateSelfCard inserts the owner's self card.
func (s *Store) CreateSelfCard(ctx context.Context, ownerID int64, payload cards.Payload) (*cards.Card, error) {
	card := cards.Card{
		OwnerID:           ownerID,
		Type:              cards.TypeSelf,
		Payload:           payload,
		AutoUpdateEnabled: true,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO self_cards (owner_id, card_json)
		VALUES ($1, $2)
		RETURNING id, revision, created_at, last_updated
	`, ownerID, payload).Scan(&card.ID, &card.Revision, &card.CreatedAt, &card.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("create self card: %w", err)
	}

	s.log.Info("Created self card",
		logger.Int64Field("owner_id", ownerID),
		logger.Int64Field("card_id", card.ID),
	)
	return &card, nil
}

const characterColumns = `id, owner_id, card_name, relationship_type, COALESCE(relationship_label, ''),
	card_json, auto_update_enabled, is_pinned, is_hidden, revision, created_at, last_updated`

func scanCharacter(row pgx.Row) (cards.Card, error) {
	card := cards.Card{Type: cards.TypeCharacter}
	err := row.Scan(&card.ID, &card.OwnerID, &card.DisplayName, &card.RelationshipCategory,
		&card.RelationshipLabel, &card.Payload, &card.AutoUpdateEnabled, &card.IsPinned,
		&card.IsHidden, &card.Revision, &card.CreatedAt, &card.LastUpdated)
	return card, err
}

// CharacterCards returns every character card for the owner, ordered by name.
func (s *Store) CharacterCards(ctx context.Context, ownerID int64) ([]cards.Card, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+characterColumns+`
		FROM character_cards
		WHERE owner_id = $1
		ORDER BY card_name
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list character cards: %w", err)
	}
	defer rows.Close()

	var result []cards.Card
	for rows.Next() {
		card, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan character card: %w", err)
		}
		result = append(result, card)
	}
	return result, rows.Err()
}

// CreateCharacterCard inserts a new character card.
func (s *Store) CreateCharacterCard(
	ctx context.Context,
	ownerID int64,
	name string,
	category cards.RelationshipCategory,
	payload cards.Payload,
) (*cards.Card, error) {
	card := cards.Card{
		OwnerID:              ownerID,
		Type:                 cards.TypeCharacter,
		DisplayName:          name,
		RelationshipCategory: category,
		Payload:              payload,
		AutoUpdateEnabled:    true,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO character_cards (owner_id, card_name, relationship_type, card_json)
		VALUES ($1, $2, $3, $4)
		RETURNING id, revision, created_at, last_updated
	`, ownerID, name, string(category), payload).
		Scan(&card.ID, &card.Revision, &card.CreatedAt, &card.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("create character card: %w", err)
	}

	s.log.Info("Created character card",
		logger.Int64Field("owner_id", ownerID),
		logger.StringField("name", name),
	)
	return &card, nil
}

const worldColumns = `id, owner_id, title, description, key_array, event_type, resolved,
	auto_update_enabled, is_pinned, is_hidden, revision, created_at, last_updated`

func scanWorld(row pgx.Row) (cards.Card, error) {
	card := cards.Card{Type: cards.TypeWorld}
	err := row.Scan(&card.ID, &card.OwnerID, &card.Title, &card.Description, &card.Keywords,
		&card.EventType, &card.Resolved, &card.AutoUpdateEnabled, &card.IsPinned,
		&card.IsHidden, &card.Revision, &card.CreatedAt, &card.LastUpdated)
	return card, err
}

// WorldCards returns every world event for the owner, newest first.
func (s *Store) WorldCards(ctx context.Context, ownerID int64) ([]cards.Card, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+worldColumns+`
		FROM world_events
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list world events: %w", err)
	}
	defer rows.Close()

	var result []cards.Card
	for rows.Next() {
		card, err := scanWorld(rows)
		if err != nil {
			return nil, fmt.Errorf("scan world event: %w", err)
		}
		result = append(result, card)
	}
	return result, rows.Err()
}

// PinnedCards returns the owner's pinned character cards and world events.
func (s *Store) PinnedCards(ctx context.Context, ownerID int64) ([]cards.Card, error) {
	var result []cards.Card

	rows, err := s.pool.Query(ctx, `
		SELECT `+characterColumns+`
		FROM character_cards
		WHERE owner_id = $1 AND is_pinned
		ORDER BY card_name
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pinned characters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		card, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pinned character: %w", err)
		}
		result = append(result, card)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT `+worldColumns+`
		FROM world_events
		WHERE owner_id = $1 AND is_pinned
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pinned world events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		card, err := scanWorld(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pinned world event: %w", err)
		}
		result = append(result, card)
	}
	return result, rows.Err()
}

// CardByID loads one card of the given type, or nil when it does not exist
// or belongs to a different owner.
func (s *Store) CardByID(ctx context.Context, ownerID int64, cardType cards.CardType, cardID int64) (*cards.Card, error) {
	var (
		card cards.Card
		err  error
	)
	switch cardType {
	case cards.TypeSelf:
		row := s.pool.QueryRow(ctx, `
			SELECT id, owner_id, card_json, auto_update_enabled, revision, created_at, last_updated
			FROM self_cards
			WHERE id = $1 AND owner_id = $2
		`, cardID, ownerID)
		card = cards.Card{Type: cards.TypeSelf}
		err = row.Scan(&card.ID, &card.OwnerID, &card.Payload, &card.AutoUpdateEnabled,
			&card.Revision, &card.CreatedAt, &card.LastUpdated)
	case cards.TypeCharacter:
		card, err = scanCharacter(s.pool.QueryRow(ctx, `
			SELECT `+characterColumns+`
			FROM character_cards
			WHERE id = $1 AND owner_id = $2
		`, cardID, ownerID))
	case cards.TypeWorld:
		card, err = scanWorld(s.pool.QueryRow(ctx, `
			SELECT `+worldColumns+`
			FROM world_events
			WHERE id = $1 AND owner_id = $2
		`, cardID, ownerID))
	default:
		return nil, fmt.Errorf("unknown card type %q", cardType)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s card %d: %w", cardType, cardID, err)
	}
	return &card, nil
}

// SaveCard writes a read-modify-write update back. The card carries the
// revision it was read at; when the stored revision has moved on the write
// is rejected with cards.ErrStaleRevision.
func (s *Store) SaveCard(ctx context.Context, card *cards.Card) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch card.Type {
	case cards.TypeSelf:
		tag, err = s.pool.Exec(ctx, `
			UPDATE self_cards
			SET card_json = $1, revision = revision + 1, last_updated = NOW()
			WHERE id = $2 AND revision = $3
		`, card.Payload, card.ID, card.Revision)
	case cards.TypeCharacter:
		tag, err = s.pool.Exec(ctx, `
			UPDATE character_cards
			SET card_json = $1, revision = revision + 1, last_updated = NOW()
			WHERE id = $2 AND revision = $3
		`, card.Payload, card.ID, card.Revision)
	case cards.TypeWorld:
		tag, err = s.pool.Exec(ctx, `
			UPDATE world_events
			SET description = $1, key_array = $2, resolved = $3,
			    revision = revision + 1, last_updated = NOW()
			WHERE id = $4 AND revision = $5
		`, card.Description, card.Keywords, card.Resolved, card.ID, card.Revision)
	default:
		return fmt.Errorf("unknown card type %q", card.Type)
	}

	if err != nil {
		return fmt.Errorf("save %s card %d: %w", card.Type, card.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return cards.ErrStaleRevision
	}
	card.Revision++
	return nil
}

// ReplaceCardPayload overwrites a card's payload unconditionally and bumps
// the revision. Used for user edits, which always win over automatic
// updates; callers reset field metadata before passing the payload in.
func (s *Store) ReplaceCardPayload(
	ctx context.Context,
	ownerID int64,
	cardType cards.CardType,
	cardID int64,
	payload cards.Payload,
) error {
	var table string
	switch cardType {
	case cards.TypeSelf:
		table = "self_cards"
	case cards.TypeCharacter:
		table = "character_cards"
	default:
		return fmt.Errorf("payload replace not supported for card type %q", cardType)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE `+table+`
		SET card_json = $1, revision = revision + 1, last_updated = NOW()
		WHERE id = $2 AND owner_id = $3
	`, payload, cardID, ownerID)
	if err != nil {
		return fmt.Errorf("replace %s card %d: %w", cardType, cardID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s card %d not found", cardType, cardID)
	}
	return nil
}
