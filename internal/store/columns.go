package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"taskboard/api/internal/position"
)

var columnsRel = position.Relation{
	Table:         "columns",
	ContainerCols: []string{"board_id"},
}

const columnCols = `id, board_id, name, position, created_at, updated_at`

func scanColumn(row *sql.Row) (Column, error) {
	var c Column
	err := row.Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateColumn appends by default; desired places the column at an explicit
// position, shifting later columns right.
func (s *PostgresStore) CreateColumn(ctx context.Context, boardID, name string, desired *int) (Column, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Column{}, fmt.Errorf("begin create column: %w", err)
	}
	defer tx.Rollback()

	pos, err := position.Insert(ctx, tx, columnsRel, position.Container{boardID}, desired)
	if err != nil {
		return Column{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO columns (id, board_id, name, position)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, columnCols)
	var c Column
	err = tx.QueryRowContext(ctx, query, uuid.NewString(), boardID, name, pos).
		Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Column{}, fmt.Errorf("insert column: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Column{}, fmt.Errorf("commit create column: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	query := fmt.Sprintf(`SELECT %s FROM columns WHERE id = $1`, columnCols)
	return scanColumn(s.db.QueryRowContext(ctx, query, columnID))
}

func (s *PostgresStore) ListColumnsByBoard(ctx context.Context, boardID string) ([]Column, error) {
	query := fmt.Sprintf(`SELECT %s FROM columns WHERE board_id = $1 ORDER BY position`, columnCols)
	rows, err := s.db.QueryContext(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (s *PostgresStore) RenameColumn(ctx context.Context, columnID, name string) (Column, error) {
	query := fmt.Sprintf(`
		UPDATE columns SET name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, columnCols)
	return scanColumn(s.db.QueryRowContext(ctx, query, columnID, name))
}

// MoveColumn relocates a column within its board.
func (s *PostgresStore) MoveColumn(ctx context.Context, columnID string, desired int) (Column, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Column{}, fmt.Errorf("begin move column: %w", err)
	}
	defer tx.Rollback()

	var boardID string
	if err := tx.QueryRowContext(ctx, `SELECT board_id FROM columns WHERE id = $1`, columnID).Scan(&boardID); err != nil {
		return Column{}, err
	}

	container := position.Container{boardID}
	if _, err := position.Move(ctx, tx, columnsRel, columnID, container, container, desired); err != nil {
		return Column{}, err
	}

	query := fmt.Sprintf(`SELECT %s FROM columns WHERE id = $1`, columnCols)
	var c Column
	err = tx.QueryRowContext(ctx, query, columnID).
		Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Column{}, fmt.Errorf("reread column: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Column{}, fmt.Errorf("commit move column: %w", err)
	}
	return c, nil
}

// DeleteColumn removes the column (its cards cascade) and closes the
// position gap in the board.
func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete column: %w", err)
	}
	defer tx.Rollback()

	var boardID string
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT board_id, position FROM columns WHERE id = $1`, columnID).Scan(&boardID, &pos); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM columns WHERE id = $1`, columnID); err != nil {
		return fmt.Errorf("delete column: %w", err)
	}

	if err := position.Remove(ctx, tx, columnsRel, position.Container{boardID}, pos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete column: %w", err)
	}
	return nil
}
