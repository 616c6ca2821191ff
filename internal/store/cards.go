package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskboard/api/internal/position"
)

var cardsRel = position.Relation{
	Table:         "cards",
	ContainerCols: []string{"column_id"},
}

const cardCols = `id, column_id, owner_id, created_by, title, description, status, visibility, position, start_date, end_date, due_date, created_at, updated_at`

func scanCardRow(scan func(dest ...any) error) (Card, error) {
	var c Card
	err := scan(&c.ID, &c.ColumnID, &c.OwnerID, &c.CreatedBy, &c.Title, &c.Description,
		&c.Status, &c.Visibility, &c.Position, &c.StartDate, &c.EndDate, &c.DueDate, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

type CreateCardParams struct {
	ColumnID    *string
	OwnerID     *string
	Title       string
	Description string
	Status      string
	Visibility  string
	StartDate   *time.Time
	EndDate     *time.Time
	DueDate     *time.Time
	CreatedBy   string
	Position    *int
}

// CreateCard inserts a card. A card with a column participates in that
// column's position sequence; a standalone (inbox) card has OwnerID set,
// no column, and position 0.
func (s *PostgresStore) CreateCard(ctx context.Context, p CreateCardParams) (Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Card{}, fmt.Errorf("begin create card: %w", err)
	}
	defer tx.Rollback()

	pos := 0
	if p.ColumnID != nil {
		pos, err = position.Insert(ctx, tx, cardsRel, position.Container{*p.ColumnID}, p.Position)
		if err != nil {
			return Card{}, err
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO cards (id, column_id, owner_id, created_by, title, description, status, visibility, position, start_date, end_date, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING %s
	`, cardCols)
	row := tx.QueryRowContext(ctx, query, uuid.NewString(), p.ColumnID, p.OwnerID, p.CreatedBy,
		p.Title, p.Description, p.Status, p.Visibility, pos, p.StartDate, p.EndDate, p.DueDate)
	c, err := scanCardRow(row.Scan)
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Card{}, fmt.Errorf("commit create card: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	query := fmt.Sprintf(`SELECT %s FROM cards WHERE id = $1`, cardCols)
	return scanCardRow(s.db.QueryRowContext(ctx, query, cardID).Scan)
}

func (s *PostgresStore) ListCardsByColumn(ctx context.Context, columnID string) ([]Card, error) {
	query := fmt.Sprintf(`SELECT %s FROM cards WHERE column_id = $1 ORDER BY position`, cardCols)
	return s.queryCards(ctx, query, columnID)
}

// ListInboxCards returns the user's standalone cards, newest first.
func (s *PostgresStore) ListInboxCards(ctx context.Context, ownerID string) ([]Card, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM cards
		WHERE column_id IS NULL AND owner_id = $1
		ORDER BY created_at DESC
	`, cardCols)
	return s.queryCards(ctx, query, ownerID)
}

// CardFilter narrows board card listings. Zero values mean "no constraint".
type CardFilter struct {
	Query       string
	Status      string
	StartBefore *time.Time
	StartAfter  *time.Time
	EndBefore   *time.Time
	EndAfter    *time.Time
	DueBefore   *time.Time
	DueAfter    *time.Time
	TagID       string
}

// ListBoardCards returns cards on the board's columns matching the filter,
// ordered by column then position. Visibility filtering is the caller's
// concern.
func (s *PostgresStore) ListBoardCards(ctx context.Context, boardID string, f CardFilter) ([]Card, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM cards c
		JOIN columns col ON col.id = c.column_id
		WHERE col.board_id = $1
	`, prefixColumns("c", cardCols))
	args := []any{boardID}

	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		query += fmt.Sprintf(` AND (c.title ILIKE $%d OR c.description ILIKE $%d)`, len(args), len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(` AND c.status = $%d`, len(args))
	}
	if f.StartBefore != nil {
		args = append(args, *f.StartBefore)
		query += fmt.Sprintf(` AND c.start_date <= $%d`, len(args))
	}
	if f.StartAfter != nil {
		args = append(args, *f.StartAfter)
		query += fmt.Sprintf(` AND c.start_date >= $%d`, len(args))
	}
	if f.EndBefore != nil {
		args = append(args, *f.EndBefore)
		query += fmt.Sprintf(` AND c.end_date <= $%d`, len(args))
	}
	if f.EndAfter != nil {
		args = append(args, *f.EndAfter)
		query += fmt.Sprintf(` AND c.end_date >= $%d`, len(args))
	}
	if f.DueBefore != nil {
		args = append(args, *f.DueBefore)
		query += fmt.Sprintf(` AND c.due_date <= $%d`, len(args))
	}
	if f.DueAfter != nil {
		args = append(args, *f.DueAfter)
		query += fmt.Sprintf(` AND c.due_date >= $%d`, len(args))
	}
	if f.TagID != "" {
		args = append(args, f.TagID)
		query += fmt.Sprintf(` AND EXISTS(SELECT 1 FROM card_tags ct WHERE ct.card_id = c.id AND ct.tag_id = $%d)`, len(args))
	}
	query += ` ORDER BY col.position, c.position`

	return s.queryCards(ctx, query, args...)
}

type UpdateCardParams struct {
	Title       string
	Description string
	Visibility  string
	StartDate   *time.Time
	EndDate     *time.Time
	DueDate     *time.Time
}

func (s *PostgresStore) UpdateCard(ctx context.Context, cardID string, p UpdateCardParams) (Card, error) {
	query := fmt.Sprintf(`
		UPDATE cards
		SET title = $2, description = $3, visibility = $4, start_date = $5, end_date = $6, due_date = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, cardCols)
	row := s.db.QueryRowContext(ctx, query, cardID, p.Title, p.Description, p.Visibility, p.StartDate, p.EndDate, p.DueDate)
	return scanCardRow(row.Scan)
}

func (s *PostgresStore) UpdateCardStatus(ctx context.Context, cardID, status string) (Card, error) {
	query := fmt.Sprintf(`
		UPDATE cards SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, cardCols)
	return scanCardRow(s.db.QueryRowContext(ctx, query, cardID, status).Scan)
}

// MoveCard relocates a column card within or across columns. Standalone
// cards are moved between boards through card_boards, not here.
func (s *PostgresStore) MoveCard(ctx context.Context, cardID, toColumnID string, desired int) (Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Card{}, fmt.Errorf("begin move card: %w", err)
	}
	defer tx.Rollback()

	var fromColumnID *string
	if err := tx.QueryRowContext(ctx, `SELECT column_id FROM cards WHERE id = $1`, cardID).Scan(&fromColumnID); err != nil {
		return Card{}, err
	}
	if fromColumnID == nil {
		return Card{}, fmt.Errorf("card %s has no column", cardID)
	}

	_, err = position.Move(ctx, tx, cardsRel, cardID,
		position.Container{*fromColumnID}, position.Container{toColumnID}, desired)
	if err != nil {
		return Card{}, err
	}

	query := fmt.Sprintf(`SELECT %s FROM cards WHERE id = $1`, cardCols)
	c, err := scanCardRow(tx.QueryRowContext(ctx, query, cardID).Scan)
	if err != nil {
		return Card{}, fmt.Errorf("reread card: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Card{}, fmt.Errorf("commit move card: %w", err)
	}
	return c, nil
}

// DeleteCard removes the card and closes position gaps both in its own
// column and in every (board, column) bucket it was assigned to.
func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete card: %w", err)
	}
	defer tx.Rollback()

	var columnID *string
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT column_id, position FROM cards WHERE id = $1`, cardID).Scan(&columnID, &pos); err != nil {
		return err
	}

	type bucket struct {
		boardID  string
		columnID *string
		pos      int
	}
	rows, err := tx.QueryContext(ctx, `SELECT board_id, column_id, position FROM card_boards WHERE card_id = $1`, cardID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	var buckets []bucket
	for rows.Next() {
		var b bucket
		if err := rows.Scan(&b.boardID, &b.columnID, &b.pos); err != nil {
			rows.Close()
			return fmt.Errorf("scan assignment: %w", err)
		}
		buckets = append(buckets, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, cardID); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}

	if columnID != nil {
		if err := position.Remove(ctx, tx, cardsRel, position.Container{*columnID}, pos); err != nil {
			return err
		}
	}
	for _, b := range buckets {
		var col any
		if b.columnID != nil {
			col = *b.columnID
		}
		if err := position.Remove(ctx, tx, cardBoardsRel, position.Container{b.boardID, col}, b.pos); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete card: %w", err)
	}
	return nil
}

// GetUserRolesForCard returns the roles the user holds on every board the
// card is attached to, via its column or via card_boards.
func (s *PostgresStore) GetUserRolesForCard(ctx context.Context, cardID, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bp.role
		FROM board_permissions bp
		WHERE bp.user_id = $2
		  AND bp.board_id IN (
			SELECT col.board_id FROM cards c JOIN columns col ON col.id = c.column_id WHERE c.id = $1
			UNION
			SELECT cb.board_id FROM card_boards cb WHERE cb.card_id = $1
		  )
	`, cardID, userID)
	if err != nil {
		return nil, fmt.Errorf("roles for card: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *PostgresStore) queryCards(ctx context.Context, query string, args ...any) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCardRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}
