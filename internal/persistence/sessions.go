package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/harborlight/companion/internal/cards"
)

// Session is a counseling session header, read-only from this service.
type Session struct {
	ID            int64
	OwnerID       int64
	CounselorName string
}

// SessionByID loads a session header, or nil when it does not exist or
// belongs to a different owner.
func (s *Store) SessionByID(ctx context.Context, ownerID, sessionID int64) (*Session, error) {
	var session Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, counselor_name
		FROM sessions
		WHERE id = $1 AND owner_id = $2
	`, sessionID, ownerID).Scan(&session.ID, &session.OwnerID, &session.CounselorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", sessionID, err)
	}
	return &session, nil
}

// SessionMessages returns a session's transcript in order, verifying the
// session belongs to the owner.
func (s *Store) SessionMessages(ctx context.Context, ownerID, sessionID int64) ([]cards.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.role, m.speaker, m.content, m.created_at
		FROM messages m
		JOIN sessions sess ON sess.id = m.session_id
		WHERE m.session_id = $1 AND sess.owner_id = $2
		ORDER BY m.created_at, m.id
	`, sessionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list session messages: %w", err)
	}
	defer rows.Close()

	var result []cards.Message
	for rows.Next() {
		var msg cards.Message
		if err := rows.Scan(&msg.Role, &msg.Speaker, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
