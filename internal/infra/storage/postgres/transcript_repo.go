package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

// TranscriptRepo implements storage.TranscriptRepository using PostgreSQL.
type TranscriptRepo struct {
	db *DB
}

var _ storage.TranscriptRepository = (*TranscriptRepo)(nil)

// NewTranscriptRepo creates a new PostgreSQL transcript repository.
func NewTranscriptRepo(db *DB) *TranscriptRepo {
	return &TranscriptRepo{db: db}
}

type messageRow struct {
	ConversationKey string    `db:"conversation_key"`
	Position        int       `db:"position"`
	ID              string    `db:"id"`
	Role            string    `db:"role"`
	Content         string    `db:"content"`
	CreatedAt       time.Time `db:"created_at"`
	IsEdited        bool      `db:"is_edited"`
}

// Replace overwrites the transcript in a single transaction.
func (r *TranscriptRepo) Replace(ctx context.Context, key string, messages []domain.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE conversation_key = $1`, key); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}

	if len(messages) > 0 {
		rows := make([]messageRow, len(messages))
		for i, m := range messages {
			rows[i] = messageRow{
				ConversationKey: key,
				Position:        i,
				ID:              m.ID,
				Role:            string(m.Role),
				Content:         m.Content,
				CreatedAt:       m.CreatedAt,
				IsEdited:        m.IsEdited,
			}
		}

		query := `
			INSERT INTO transcript_messages (conversation_key, position, id, role, content, created_at, is_edited)
			VALUES (:conversation_key, :position, :id, :role, :content, :created_at, :is_edited)
		`
		if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
			return fmt.Errorf("failed to insert transcript: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	return nil
}

// Load retrieves the transcript in conversation order.
func (r *TranscriptRepo) Load(ctx context.Context, key string) ([]domain.Message, error) {
	query := `
		SELECT conversation_key, position, id, role, content, created_at, is_edited
		FROM transcript_messages
		WHERE conversation_key = $1
		ORDER BY position ASC
	`
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, key); err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrTranscriptNotFound
	}

	out := make([]domain.Message, len(rows))
	for i, row := range rows {
		out[i] = domain.Message{
			ID:        row.ID,
			Role:      domain.Role(row.Role),
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
			IsEdited:  row.IsEdited,
		}
	}
	return out, nil
}

// Delete removes a transcript.
func (r *TranscriptRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transcript_messages WHERE conversation_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

// DeleteOlderThan removes transcripts whose newest message predates cutoff.
func (r *TranscriptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM transcript_messages
		WHERE conversation_key IN (
			SELECT conversation_key FROM transcript_messages
			GROUP BY conversation_key
			HAVING MAX(created_at) < $1
		)
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transcripts: %w", err)
	}
	return res.RowsAffected()
}
