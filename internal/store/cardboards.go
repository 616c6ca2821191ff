package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"taskboard/api/internal/position"
)

// Assignments are positioned per (board, column) bucket; a NULL column is
// the board's "unplaced" bucket.
var cardBoardsRel = position.Relation{
	Table:         "card_boards",
	ContainerCols: []string{"board_id", "column_id"},
}

const assignmentCols = `id, card_id, board_id, column_id, position, created_at`

func scanAssignment(scan func(dest ...any) error) (CardBoardAssignment, error) {
	var a CardBoardAssignment
	err := scan(&a.ID, &a.CardID, &a.BoardID, &a.ColumnID, &a.Position, &a.CreatedAt)
	return a, err
}

func bucket(boardID string, columnID *string) position.Container {
	var col any
	if columnID != nil {
		col = *columnID
	}
	return position.Container{boardID, col}
}

// AssignCardToBoard attaches a standalone card to a board, optionally into
// a column. Duplicate attachment of the same card to the same board is a
// constraint violation surfaced to the caller.
func (s *PostgresStore) AssignCardToBoard(ctx context.Context, cardID, boardID string, columnID *string, desired *int) (CardBoardAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CardBoardAssignment{}, fmt.Errorf("begin assign card: %w", err)
	}
	defer tx.Rollback()

	pos, err := position.Insert(ctx, tx, cardBoardsRel, bucket(boardID, columnID), desired)
	if err != nil {
		return CardBoardAssignment{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO card_boards (id, card_id, board_id, column_id, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s
	`, assignmentCols)
	row := tx.QueryRowContext(ctx, query, uuid.NewString(), cardID, boardID, columnID, pos)
	a, err := scanAssignment(row.Scan)
	if err != nil {
		return CardBoardAssignment{}, fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CardBoardAssignment{}, fmt.Errorf("commit assign card: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, cardID, boardID string) (CardBoardAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM card_boards WHERE card_id = $1 AND board_id = $2`, assignmentCols)
	return scanAssignment(s.db.QueryRowContext(ctx, query, cardID, boardID).Scan)
}

func (s *PostgresStore) ListAssignmentsByCard(ctx context.Context, cardID string) ([]CardBoardAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM card_boards WHERE card_id = $1 ORDER BY created_at`, assignmentCols)
	return s.queryAssignments(ctx, query, cardID)
}

func (s *PostgresStore) ListAssignmentsByBoard(ctx context.Context, boardID string) ([]CardBoardAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM card_boards WHERE board_id = $1 ORDER BY column_id NULLS FIRST, position`, assignmentCols)
	return s.queryAssignments(ctx, query, boardID)
}

// MoveAssignment relocates a card's assignment between buckets of the same
// board (column to column, or in and out of the unplaced bucket).
func (s *PostgresStore) MoveAssignment(ctx context.Context, cardID, boardID string, toColumnID *string, desired int) (CardBoardAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CardBoardAssignment{}, fmt.Errorf("begin move assignment: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT %s FROM card_boards WHERE card_id = $1 AND board_id = $2`, assignmentCols)
	a, err := scanAssignment(tx.QueryRowContext(ctx, query, cardID, boardID).Scan)
	if err != nil {
		return CardBoardAssignment{}, err
	}

	_, err = position.Move(ctx, tx, cardBoardsRel, a.ID, bucket(boardID, a.ColumnID), bucket(boardID, toColumnID), desired)
	if err != nil {
		return CardBoardAssignment{}, err
	}

	a, err = scanAssignment(tx.QueryRowContext(ctx, query, cardID, boardID).Scan)
	if err != nil {
		return CardBoardAssignment{}, fmt.Errorf("reread assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CardBoardAssignment{}, fmt.Errorf("commit move assignment: %w", err)
	}
	return a, nil
}

// RemoveCardFromBoard detaches the card and closes the bucket's gap. The
// card itself survives.
func (s *PostgresStore) RemoveCardFromBoard(ctx context.Context, cardID, boardID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove assignment: %w", err)
	}
	defer tx.Rollback()

	var columnID *string
	var pos int
	err = tx.QueryRowContext(ctx, `
		SELECT column_id, position FROM card_boards WHERE card_id = $1 AND board_id = $2
	`, cardID, boardID).Scan(&columnID, &pos)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM card_boards WHERE card_id = $1 AND board_id = $2`, cardID, boardID); err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}

	if err := position.Remove(ctx, tx, cardBoardsRel, bucket(boardID, columnID), pos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryAssignments(ctx context.Context, query string, args ...any) ([]CardBoardAssignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []CardBoardAssignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
