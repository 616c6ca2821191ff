package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const tagCols = `id, board_id, owner_id, name, color, created_at`

func scanTag(scan func(dest ...any) error) (Tag, error) {
	var t Tag
	err := scan(&t.ID, &t.BoardID, &t.OwnerID, &t.Name, &t.Color, &t.CreatedAt)
	return t, err
}

func (s *PostgresStore) CreateBoardTag(ctx context.Context, boardID, name, color string) (Tag, error) {
	return s.insertTag(ctx, &boardID, nil, name, color)
}

func (s *PostgresStore) CreateUserTag(ctx context.Context, ownerID, name, color string) (Tag, error) {
	return s.insertTag(ctx, nil, &ownerID, name, color)
}

func (s *PostgresStore) insertTag(ctx context.Context, boardID, ownerID *string, name, color string) (Tag, error) {
	query := fmt.Sprintf(`
		INSERT INTO tags (id, board_id, owner_id, name, color)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s
	`, tagCols)
	row := s.db.QueryRowContext(ctx, query, uuid.NewString(), boardID, ownerID, name, color)
	t, err := scanTag(row.Scan)
	if err != nil {
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTag(ctx context.Context, tagID string) (Tag, error) {
	query := fmt.Sprintf(`SELECT %s FROM tags WHERE id = $1`, tagCols)
	return scanTag(s.db.QueryRowContext(ctx, query, tagID).Scan)
}

func (s *PostgresStore) ListTagsByBoard(ctx context.Context, boardID string) ([]Tag, error) {
	query := fmt.Sprintf(`SELECT %s FROM tags WHERE board_id = $1 ORDER BY name`, tagCols)
	return s.queryTags(ctx, query, boardID)
}

func (s *PostgresStore) ListTagsByOwner(ctx context.Context, ownerID string) ([]Tag, error) {
	query := fmt.Sprintf(`SELECT %s FROM tags WHERE owner_id = $1 ORDER BY name`, tagCols)
	return s.queryTags(ctx, query, ownerID)
}

func (s *PostgresStore) UpdateTag(ctx context.Context, tagID, name, color string) (Tag, error) {
	query := fmt.Sprintf(`
		UPDATE tags SET name = $2, color = $3
		WHERE id = $1
		RETURNING %s
	`, tagCols)
	return scanTag(s.db.QueryRowContext(ctx, query, tagID, name, color).Scan)
}

func (s *PostgresStore) DeleteTag(ctx context.Context, tagID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, tagID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddTagToCard is idempotent: tagging an already-tagged card is a no-op.
func (s *PostgresStore) AddTagToCard(ctx context.Context, cardID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_tags (card_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (card_id, tag_id) DO NOTHING
	`, cardID, tagID)
	if err != nil {
		return fmt.Errorf("add tag to card: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTagFromCard(ctx context.Context, cardID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM card_tags WHERE card_id = $1 AND tag_id = $2`, cardID, tagID)
	if err != nil {
		return fmt.Errorf("remove tag from card: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTagsByCard(ctx context.Context, cardID string) ([]Tag, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tags t
		JOIN card_tags ct ON ct.tag_id = t.id
		WHERE ct.card_id = $1
		ORDER BY t.name
	`, prefixColumns("t", tagCols))
	return s.queryTags(ctx, query, cardID)
}

func (s *PostgresStore) queryTags(ctx context.Context, query string, args ...any) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		t, err := scanTag(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
