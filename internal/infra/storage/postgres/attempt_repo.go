package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

// AttemptRepo implements storage.AttemptRepository using PostgreSQL.
type AttemptRepo struct {
	db *DB
}

var _ storage.AttemptRepository = (*AttemptRepo)(nil)

// NewAttemptRepo creates a new PostgreSQL attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Record saves one attempt.
func (r *AttemptRepo) Record(ctx context.Context, a domain.Attempt) error {
	query := `
		INSERT INTO attempts (id, conversation_key, turn_id, attempt_number, model, status, error_kind, error_message, started_at, ended_at)
		VALUES (:id, :conversation_key, :turn_id, :attempt_number, :model, :status, :error_kind, :error_message, :started_at, :ended_at)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListByConversation returns attempts ordered by start time.
func (r *AttemptRepo) ListByConversation(ctx context.Context, key string) ([]domain.Attempt, error) {
	query := `
		SELECT id, conversation_key, turn_id, attempt_number, model, status, error_kind, error_message, started_at, ended_at
		FROM attempts
		WHERE conversation_key = $1
		ORDER BY started_at ASC, attempt_number ASC
	`
	var out []domain.Attempt
	if err := r.db.SelectContext(ctx, &out, query, key); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes attempts that ended before cutoff.
func (r *AttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attempts WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}
	return res.RowsAffected()
}
