package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, name, email, password_hash, llm_context, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.LLMContext, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash string) (User, error) {
	query := fmt.Sprintf(`
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, userColumns)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, uuid.NewString(), name, email, passwordHash))
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(email) = LOWER($1)`, userColumns)
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(s.db.QueryRowContext(ctx, query, userID))
}

func (s *PostgresStore) UpdateUserLLMContext(ctx context.Context, userID string, llmContext *string) (User, error) {
	query := fmt.Sprintf(`
		UPDATE users SET llm_context = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, userColumns)
	return scanUser(s.db.QueryRowContext(ctx, query, userID, llmContext))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jtiHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti_hash) DO NOTHING
	`, jtiHash, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jtiHash string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti_hash = $1 AND expires_at > NOW())
	`, jtiHash).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const boardColumns = `id, name, description, owner_id, created_at, updated_at`

func scanBoard(row *sql.Row) (Board, error) {
	var b Board
	err := row.Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// CreateBoard inserts the board and its owner permission row in one
// transaction; a board never exists without exactly one owner.
func (s *PostgresStore) CreateBoard(ctx context.Context, name, description, ownerID string) (Board, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Board{}, fmt.Errorf("begin create board: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO boards (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, boardColumns)
	var b Board
	err = tx.QueryRowContext(ctx, query, uuid.NewString(), name, description, ownerID).
		Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO board_permissions (id, board_id, user_id, role)
		VALUES ($1, $2, $3, 'owner')
	`, uuid.NewString(), b.ID, ownerID)
	if err != nil {
		return Board{}, fmt.Errorf("insert owner permission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Board{}, fmt.Errorf("commit create board: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	query := fmt.Sprintf(`SELECT %s FROM boards WHERE id = $1`, boardColumns)
	return scanBoard(s.db.QueryRowContext(ctx, query, boardID))
}

// ListBoardsForUser returns every board the user holds a permission on,
// newest first.
func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM boards b
		JOIN board_permissions bp ON bp.board_id = b.id
		WHERE bp.user_id = $1
		ORDER BY b.created_at DESC
	`, prefixColumns("b", boardColumns))
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	var boards []Board
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID, name, description string) (Board, error) {
	query := fmt.Sprintf(`
		UPDATE boards SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, boardColumns)
	return scanBoard(s.db.QueryRowContext(ctx, query, boardID, name, description))
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetUserRole returns the user's role on the board; sql.ErrNoRows when the
// user holds no permission.
func (s *PostgresStore) GetUserRole(ctx context.Context, boardID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM board_permissions WHERE board_id = $1 AND user_id = $2
	`, boardID, userID).Scan(&role)
	return role, err
}

func (s *PostgresStore) ListPermissions(ctx context.Context, boardID string) ([]BoardPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, user_id, role, created_at
		FROM board_permissions
		WHERE board_id = $1
		ORDER BY created_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var perms []BoardPermission
	for rows.Next() {
		var p BoardPermission
		if err := rows.Scan(&p.ID, &p.BoardID, &p.UserID, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// UpsertPermission grants or changes a non-owner role. The owner row is
// written once at board creation and never through this path.
func (s *PostgresStore) UpsertPermission(ctx context.Context, boardID, userID, role string) (BoardPermission, error) {
	var p BoardPermission
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO board_permissions (id, board_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (board_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING id, board_id, user_id, role, created_at
	`, uuid.NewString(), boardID, userID, role).Scan(&p.ID, &p.BoardID, &p.UserID, &p.Role, &p.CreatedAt)
	if err != nil {
		return BoardPermission{}, fmt.Errorf("upsert permission: %w", err)
	}
	return p, nil
}

// RemovePermission deletes a non-owner permission row. Removing the owner
// is a no-op surfaced as sql.ErrNoRows.
func (s *PostgresStore) RemovePermission(ctx context.Context, boardID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM board_permissions
		WHERE board_id = $1 AND user_id = $2 AND role <> 'owner'
	`, boardID, userID)
	if err != nil {
		return fmt.Errorf("remove permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}
