package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionArchive implements domain.SessionArchive
type SessionArchive struct {
	pool *pgxpool.Pool
}

// NewSessionArchive creates a new session archive
func NewSessionArchive(pool *pgxpool.Pool) *SessionArchive {
	return &SessionArchive{pool: pool}
}

const sessionColumns = `
	id, user_id, created_at, phase, task, scope, language, model,
	ratings, parameters, total_tokens_used, time_spent, completion_time,
	user_edit_count, ai_response_count, error_count, user_provided_credential
`

func (r *SessionArchive) Save(ctx context.Context, s *domain.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO archived_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			ratings = EXCLUDED.ratings,
			parameters = EXCLUDED.parameters,
			total_tokens_used = EXCLUDED.total_tokens_used,
			time_spent = EXCLUDED.time_spent,
			completion_time = EXCLUDED.completion_time,
			user_edit_count = EXCLUDED.user_edit_count,
			ai_response_count = EXCLUDED.ai_response_count,
			error_count = EXCLUDED.error_count
	`
	_, err = tx.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.CreatedAt,
		s.Phase,
		s.Task,
		s.Scope,
		s.Language,
		s.Model,
		s.Ratings,
		s.Parameters,
		s.TotalTokensUsed,
		s.TimeSpent,
		s.CompletionTime,
		s.UserEditCount,
		s.AIResponseCount,
		s.ErrorCount,
		s.UserProvidedCredential,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM archived_messages WHERE session_id = $1`, s.ID); err != nil {
		return fmt.Errorf("failed to replace session messages: %w", err)
	}

	batch := &pgx.Batch{}
	for i, m := range s.Messages {
		batch.Queue(`
			INSERT INTO archived_messages (session_id, position, message_id, role, content, timestamp, edited)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, s.ID, i, m.ID, string(m.Role), m.Content, m.Timestamp, m.Edited)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save session messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

func (r *SessionArchive) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM archived_sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if s.Messages, err = r.messages(ctx, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionArchive) ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM archived_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	for i := range sessions {
		if sessions[i].Messages, err = r.messages(ctx, sessions[i].ID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (r *SessionArchive) messages(ctx context.Context, sessionID uuid.UUID) ([]domain.ChatMessage, error) {
	query := `
		SELECT message_id, role, content, timestamp, edited
		FROM archived_messages
		WHERE session_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Timestamp, &m.Edited); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.CreatedAt,
		&s.Phase,
		&s.Task,
		&s.Scope,
		&s.Language,
		&s.Model,
		&s.Ratings,
		&s.Parameters,
		&s.TotalTokensUsed,
		&s.TimeSpent,
		&s.CompletionTime,
		&s.UserEditCount,
		&s.AIResponseCount,
		&s.ErrorCount,
		&s.UserProvidedCredential,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
