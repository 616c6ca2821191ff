package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const chatCols = `id, board_id, user_id, message, response, actions_taken, created_at`

func scanChatMessage(scan func(dest ...any) error) (ChatMessage, error) {
	var m ChatMessage
	err := scan(&m.ID, &m.BoardID, &m.UserID, &m.Message, &m.Response, &m.ActionsTaken, &m.CreatedAt)
	return m, err
}

// SaveChatMessage appends one audit row. boardID nil marks a global chat
// exchange; actionsTaken is serialized outcome JSON, nil when the exchange
// produced no outcomes.
func (s *PostgresStore) SaveChatMessage(ctx context.Context, boardID *string, userID, message, response string, actionsTaken *string) (ChatMessage, error) {
	query := fmt.Sprintf(`
		INSERT INTO chat_messages (id, board_id, user_id, message, response, actions_taken)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s
	`, chatCols)
	row := s.db.QueryRowContext(ctx, query, uuid.NewString(), boardID, userID, message, response, actionsTaken)
	m, err := scanChatMessage(row.Scan)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListBoardChatMessages(ctx context.Context, boardID string, limit int) ([]ChatMessage, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chat_messages
		WHERE board_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, chatCols)
	return s.queryChatMessages(ctx, query, boardID, limit)
}

func (s *PostgresStore) ListGlobalChatMessages(ctx context.Context, userID string, limit int) ([]ChatMessage, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chat_messages
		WHERE board_id IS NULL AND user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, chatCols)
	return s.queryChatMessages(ctx, query, userID, limit)
}

func (s *PostgresStore) ClearBoardChatMessages(ctx context.Context, boardID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE board_id = $1`, boardID); err != nil {
		return fmt.Errorf("clear board chat: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearGlobalChatMessages(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE board_id IS NULL AND user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear global chat: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryChatMessages(ctx context.Context, query string, args ...any) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		m, err := scanChatMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
