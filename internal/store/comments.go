package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const commentCols = `id, card_id, user_id, body, created_at, updated_at`

// scanComment reads the comment columns; writes return no author name, the
// service layer fills it from the session.
func scanComment(scan func(dest ...any) error) (Comment, error) {
	var c Comment
	err := scan(&c.ID, &c.CardID, &c.UserID, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanCommentWithAuthor(scan func(dest ...any) error) (Comment, error) {
	var c Comment
	err := scan(&c.ID, &c.CardID, &c.UserID, &c.Body, &c.CreatedAt, &c.UpdatedAt, &c.AuthorName)
	return c, err
}

func (s *PostgresStore) CreateComment(ctx context.Context, cardID, userID, body string) (Comment, error) {
	query := fmt.Sprintf(`
		INSERT INTO comments (id, card_id, user_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, commentCols)
	c, err := scanComment(s.db.QueryRowContext(ctx, query, uuid.NewString(), cardID, userID, body).Scan)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	query := fmt.Sprintf(`
		SELECT %s, u.name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.id = $1
	`, prefixColumns("c", commentCols))
	return scanCommentWithAuthor(s.db.QueryRowContext(ctx, query, commentID).Scan)
}

// ListCommentsByCard returns the card's comments oldest first, each carrying
// the author's display name.
func (s *PostgresStore) ListCommentsByCard(ctx context.Context, cardID string) ([]Comment, error) {
	query := fmt.Sprintf(`
		SELECT %s, u.name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.card_id = $1
		ORDER BY c.created_at
	`, prefixColumns("c", commentCols))
	rows, err := s.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		c, err := scanCommentWithAuthor(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, body string) (Comment, error) {
	query := fmt.Sprintf(`
		UPDATE comments SET body = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, commentCols)
	return scanComment(s.db.QueryRowContext(ctx, query, commentID, body).Scan)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
