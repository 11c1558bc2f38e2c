package persistence

import (
	"context"
	"fmt"

	"github.com/harborlight/companion/internal/cards"
)

// LogOperation appends one telemetry row for an analysis operation.
func (s *Store) LogOperation(ctx context.Context, entry cards.OperationEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO operation_log (operation, status, duration_ms, error_message, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, entry.Operation, entry.Status, entry.DurationMS, entry.ErrorMessage, metadata)
	if err != nil {
		return fmt.Errorf("log operation: %w", err)
	}
	return nil
}
