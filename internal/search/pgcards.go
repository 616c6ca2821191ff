package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgCards implements Searcher against Postgres directly, used when
// Meilisearch is absent or unhealthy.
type PgCards struct {
	db *sql.DB
}

func NewPgCards(db *sql.DB) *PgCards {
	return &PgCards{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgCards) Healthy() bool {
	return true
}

// Search matches card titles and descriptions with ILIKE across the boards
// in scope. Cards reach a board through their column or through an
// assignment.
func (p *PgCards) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.BoardIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const query = `
		SELECT c.id, c.title, LEFT(c.description, 160) AS snippet, col.board_id, c.status, COUNT(*) OVER () AS total
		FROM cards c
		JOIN columns col ON col.id = c.column_id
		WHERE col.board_id = ANY($1)
		  AND (c.title ILIKE $2 OR c.description ILIKE $2)
		ORDER BY c.updated_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := p.db.QueryContext(context.Background(), query, q.BoardIDs, "%"+q.Text+"%", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search cards: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.BoardID, &r.Status, &total); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every column card for bulk reindexing.
func (p *PgCards) LoadAllRecords(ctx context.Context) ([]CardRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.description, col.board_id, c.status, c.visibility
		FROM cards c
		JOIN columns col ON col.id = c.column_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load card records: %w", err)
	}
	defer rows.Close()

	var records []CardRecord
	for rows.Next() {
		var r CardRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.BoardID, &r.Status, &r.Visibility); err != nil {
			return nil, fmt.Errorf("scan card record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
