package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	LLMContext   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Board struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type BoardPermission struct {
	ID        string
	BoardID   string
	UserID    string
	Role      string
	CreatedAt time.Time
}

type Column struct {
	ID        string
	BoardID   string
	Name      string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Card struct {
	ID          string
	ColumnID    *string
	OwnerID     *string
	CreatedBy   string
	Title       string
	Description string
	Status      string
	Visibility  string
	Position    int
	StartDate   *time.Time
	EndDate     *time.Time
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CardBoardAssignment attaches a standalone card to a board, optionally
// placed in one of its columns. Position is dense per (board, column)
// bucket; an unplaced assignment has ColumnID nil.
type CardBoardAssignment struct {
	ID        string
	CardID    string
	BoardID   string
	ColumnID  *string
	Position  int
	CreatedAt time.Time
}

// Tag is either board-scoped (BoardID set) or user-scoped (OwnerID set),
// never both.
type Tag struct {
	ID        string
	BoardID   *string
	OwnerID   *string
	Name      string
	Color     string
	CreatedAt time.Time
}

// Comment is a card comment. AuthorName is joined from users on reads and
// filled in by the service on writes.
type Comment struct {
	ID         string
	CardID     string
	UserID     string
	AuthorName string
	Body       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ChatMessage struct {
	ID           string
	BoardID      *string
	UserID       string
	Message      string
	Response     string
	ActionsTaken *string
	CreatedAt    time.Time
}
