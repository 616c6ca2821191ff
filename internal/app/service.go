package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"taskboard/api/internal/access"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/authpw"
	"taskboard/api/internal/config"
	"taskboard/api/internal/llm"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type SignUpInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type BoardInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type PermissionInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type ColumnInput struct {
	Name     string `json:"name"`
	Position *int   `json:"position"`
}

type CardInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Visibility  string     `json:"visibility"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	DueDate     *time.Time `json:"dueDate"`
	Position    *int       `json:"position"`
}

type UpdateCardInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Visibility  string     `json:"visibility"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	DueDate     *time.Time `json:"dueDate"`
}

type MoveCardInput struct {
	ColumnID string `json:"columnId"`
	Position int    `json:"position"`
}

type AssignCardInput struct {
	BoardID  string  `json:"boardId"`
	ColumnID *string `json:"columnId"`
	Position *int    `json:"position"`
}

type MoveAssignmentInput struct {
	ColumnID *string `json:"columnId"`
	Position int     `json:"position"`
}

type TagInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type CommentInput struct {
	Body string `json:"body"`
}

type LLMContextInput struct {
	Context string `json:"context"`
}

type dataStore interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	UpdateUserLLMContext(ctx context.Context, userID string, llmContext *string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jtiHash string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jtiHash string) (bool, error)

	CreateBoard(ctx context.Context, name, description, ownerID string) (store.Board, error)
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	ListBoardsForUser(ctx context.Context, userID string) ([]store.Board, error)
	UpdateBoard(ctx context.Context, boardID, name, description string) (store.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
	GetUserRole(ctx context.Context, boardID, userID string) (string, error)
	ListPermissions(ctx context.Context, boardID string) ([]store.BoardPermission, error)
	UpsertPermission(ctx context.Context, boardID, userID, role string) (store.BoardPermission, error)
	RemovePermission(ctx context.Context, boardID, userID string) error

	CreateColumn(ctx context.Context, boardID, name string, desired *int) (store.Column, error)
	GetColumn(ctx context.Context, columnID string) (store.Column, error)
	ListColumnsByBoard(ctx context.Context, boardID string) ([]store.Column, error)
	RenameColumn(ctx context.Context, columnID, name string) (store.Column, error)
	MoveColumn(ctx context.Context, columnID string, desired int) (store.Column, error)
	DeleteColumn(ctx context.Context, columnID string) error

	CreateCard(ctx context.Context, p store.CreateCardParams) (store.Card, error)
	GetCard(ctx context.Context, cardID string) (store.Card, error)
	ListCardsByColumn(ctx context.Context, columnID string) ([]store.Card, error)
	ListInboxCards(ctx context.Context, ownerID string) ([]store.Card, error)
	ListBoardCards(ctx context.Context, boardID string, f store.CardFilter) ([]store.Card, error)
	UpdateCard(ctx context.Context, cardID string, p store.UpdateCardParams) (store.Card, error)
	UpdateCardStatus(ctx context.Context, cardID, status string) (store.Card, error)
	MoveCard(ctx context.Context, cardID, toColumnID string, desired int) (store.Card, error)
	DeleteCard(ctx context.Context, cardID string) error
	GetUserRolesForCard(ctx context.Context, cardID, userID string) ([]string, error)

	AssignCardToBoard(ctx context.Context, cardID, boardID string, columnID *string, desired *int) (store.CardBoardAssignment, error)
	GetAssignment(ctx context.Context, cardID, boardID string) (store.CardBoardAssignment, error)
	ListAssignmentsByCard(ctx context.Context, cardID string) ([]store.CardBoardAssignment, error)
	ListAssignmentsByBoard(ctx context.Context, boardID string) ([]store.CardBoardAssignment, error)
	MoveAssignment(ctx context.Context, cardID, boardID string, toColumnID *string, desired int) (store.CardBoardAssignment, error)
	RemoveCardFromBoard(ctx context.Context, cardID, boardID string) error

	CreateBoardTag(ctx context.Context, boardID, name, color string) (store.Tag, error)
	CreateUserTag(ctx context.Context, ownerID, name, color string) (store.Tag, error)
	GetTag(ctx context.Context, tagID string) (store.Tag, error)
	ListTagsByBoard(ctx context.Context, boardID string) ([]store.Tag, error)
	ListTagsByOwner(ctx context.Context, ownerID string) ([]store.Tag, error)
	UpdateTag(ctx context.Context, tagID, name, color string) (store.Tag, error)
	DeleteTag(ctx context.Context, tagID string) error
	AddTagToCard(ctx context.Context, cardID, tagID string) error
	RemoveTagFromCard(ctx context.Context, cardID, tagID string) error
	ListTagsByCard(ctx context.Context, cardID string) ([]store.Tag, error)

	CreateComment(ctx context.Context, cardID, userID, body string) (store.Comment, error)
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	ListCommentsByCard(ctx context.Context, cardID string) ([]store.Comment, error)
	UpdateComment(ctx context.Context, commentID, body string) (store.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error

	SaveChatMessage(ctx context.Context, boardID *string, userID, message, response string, actionsTaken *string) (store.ChatMessage, error)
	ListBoardChatMessages(ctx context.Context, boardID string, limit int) ([]store.ChatMessage, error)
	ListGlobalChatMessages(ctx context.Context, userID string, limit int) ([]store.ChatMessage, error)
	ClearBoardChatMessages(ctx context.Context, boardID string) error
	ClearGlobalChatMessages(ctx context.Context, userID string) error

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type llmClient interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

type cardIndex interface {
	Search(q search.Query) search.Response
	IndexCard(card search.CardRecord)
	DeleteCard(id string)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	llm       llmClient
	search    cardIndex
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, llmClient *llm.Client, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		passwords: authpw.NewService(dataStore),
		llm:       llmClient,
		search:    searchService,
	}
}

func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	return s.sessions.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (Session, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if name == "" || email == "" || input.Password == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name, email, and password are required", nil)
	}
	if len(input.Password) < 8 {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "password must be at least 8 characters", nil)
	}

	user, err := s.passwords.SignUp(ctx, name, email, input.Password)
	if errors.Is(err, authpw.ErrEmailTaken) {
		return Session{}, domainError(http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, input SignInInput) (Session, error) {
	user, err := s.passwords.SignIn(ctx, strings.TrimSpace(strings.ToLower(input.Email)), input.Password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid or expired", nil)
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// boardRole loads the requester's role on a board. A missing permission row
// and a missing board both surface as Forbidden, so probing for board IDs
// reveals nothing.
func (s *Service) boardRole(ctx context.Context, boardID, userID string) (access.Role, error) {
	roleText, err := s.store.GetUserRole(ctx, boardID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errNoBoardAccess()
	}
	if err != nil {
		return "", err
	}
	role, err := access.ParseRole(roleText)
	if err != nil {
		return "", err
	}
	return role, nil
}

func errNoBoardAccess() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "no access to this board", nil)
}

func errEditRequired() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "edit permission required", nil)
}

func (s *Service) CreateBoard(ctx context.Context, sess Session, input BoardInput) (store.Board, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Board{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.store.CreateBoard(ctx, name, strings.TrimSpace(input.Description), sess.UserID)
}

func (s *Service) GetBoard(ctx context.Context, sess Session, boardID string) (store.Board, access.Role, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return store.Board{}, "", err
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, "", err
	}
	return board, role, nil
}

func (s *Service) ListBoards(ctx context.Context, sess Session) ([]store.Board, error) {
	return s.store.ListBoardsForUser(ctx, sess.UserID)
}

func (s *Service) UpdateBoard(ctx context.Context, sess Session, boardID string, input BoardInput) (store.Board, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return store.Board{}, err
	}
	if !role.CanEdit() {
		return store.Board{}, errEditRequired()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Board{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.store.UpdateBoard(ctx, boardID, name, strings.TrimSpace(input.Description))
}

func (s *Service) DeleteBoard(ctx context.Context, sess Session, boardID string) error {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return err
	}
	if !role.CanDeleteBoard() {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can delete a board", nil)
	}
	return s.store.DeleteBoard(ctx, boardID)
}

func (s *Service) ListBoardPermissions(ctx context.Context, sess Session, boardID string) ([]store.BoardPermission, error) {
	if _, err := s.boardRole(ctx, boardID, sess.UserID); err != nil {
		return nil, err
	}
	return s.store.ListPermissions(ctx, boardID)
}

func (s *Service) AddBoardPermission(ctx context.Context, sess Session, boardID string, input PermissionInput) (store.BoardPermission, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return store.BoardPermission{}, err
	}
	if !role.CanManagePermissions() {
		return store.BoardPermission{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can manage permissions", nil)
	}
	granted, err := access.ParseRole(input.Role)
	if err != nil {
		return store.BoardPermission{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be editor or reader", nil)
	}
	if granted == access.RoleOwner {
		return store.BoardPermission{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a board has exactly one owner, set at creation", nil)
	}
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(input.Email)))
	if err != nil {
		return store.BoardPermission{}, err
	}
	return s.store.UpsertPermission(ctx, boardID, user.ID, string(granted))
}

func (s *Service) RemoveBoardPermission(ctx context.Context, sess Session, boardID, userID string) error {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return err
	}
	if !role.CanManagePermissions() {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can manage permissions", nil)
	}
	return s.store.RemovePermission(ctx, boardID, userID)
}

func (s *Service) CreateColumn(ctx context.Context, sess Session, boardID string, input ColumnInput) (store.Column, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return store.Column{}, err
	}
	if !role.CanEdit() {
		return store.Column{}, errEditRequired()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Column{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.store.CreateColumn(ctx, boardID, name, input.Position)
}

func (s *Service) ListColumns(ctx context.Context, sess Session, boardID string) ([]store.Column, error) {
	if _, err := s.boardRole(ctx, boardID, sess.UserID); err != nil {
		return nil, err
	}
	return s.store.ListColumnsByBoard(ctx, boardID)
}

// columnForEdit loads a column and checks edit rights on its board.
func (s *Service) columnForEdit(ctx context.Context, sess Session, columnID string) (store.Column, error) {
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return store.Column{}, err
	}
	role, err := s.boardRole(ctx, column.BoardID, sess.UserID)
	if err != nil {
		return store.Column{}, err
	}
	if !role.CanEdit() {
		return store.Column{}, errEditRequired()
	}
	return column, nil
}

func (s *Service) RenameColumn(ctx context.Context, sess Session, columnID string, input ColumnInput) (store.Column, error) {
	if _, err := s.columnForEdit(ctx, sess, columnID); err != nil {
		return store.Column{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Column{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.store.RenameColumn(ctx, columnID, name)
}

func (s *Service) MoveColumn(ctx context.Context, sess Session, columnID string, position int) (store.Column, error) {
	if _, err := s.columnForEdit(ctx, sess, columnID); err != nil {
		return store.Column{}, err
	}
	return s.store.MoveColumn(ctx, columnID, position)
}

func (s *Service) DeleteColumn(ctx context.Context, sess Session, columnID string) error {
	if _, err := s.columnForEdit(ctx, sess, columnID); err != nil {
		return err
	}
	return s.store.DeleteColumn(ctx, columnID)
}

func cardFacts(card store.Card) access.CardFacts {
	facts := access.CardFacts{
		CreatedBy:  card.CreatedBy,
		Visibility: access.VisibilityFromStored(card.Visibility),
	}
	if card.OwnerID != nil {
		facts.OwnerID = *card.OwnerID
	}
	return facts
}

func parseRoles(roleTexts []string) []access.Role {
	roles := make([]access.Role, 0, len(roleTexts))
	for _, text := range roleTexts {
		role, err := access.ParseRole(text)
		if err != nil {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

// cardRoles loads the requester's roles across every board the card is
// attached to, which is what the card-level visibility checks consume.
func (s *Service) cardRoles(ctx context.Context, cardID, userID string) ([]access.Role, error) {
	roleTexts, err := s.store.GetUserRolesForCard(ctx, cardID, userID)
	if err != nil {
		return nil, err
	}
	return parseRoles(roleTexts), nil
}

func (s *Service) viewableCard(ctx context.Context, sess Session, cardID string) (store.Card, []access.Role, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, nil, err
	}
	roles, err := s.cardRoles(ctx, cardID, sess.UserID)
	if err != nil {
		return store.Card{}, nil, err
	}
	if !access.CanViewCard(cardFacts(card), roles, sess.UserID) {
		// Invisible cards read as absent.
		return store.Card{}, nil, sql.ErrNoRows
	}
	return card, roles, nil
}

func (s *Service) editableCard(ctx context.Context, sess Session, cardID string) (store.Card, error) {
	card, roles, err := s.viewableCard(ctx, sess, cardID)
	if err != nil {
		return store.Card{}, err
	}
	if !access.CanEditCard(cardFacts(card), roles, sess.UserID) {
		return store.Card{}, errEditRequired()
	}
	return card, nil
}

func validateCardInput(input CardInput) (status, visibility string, err error) {
	if strings.TrimSpace(input.Title) == "" {
		return "", "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	status = string(access.StatusOpen)
	if input.Status != "" {
		parsed, perr := access.ParseStatus(input.Status)
		if perr != nil {
			return "", "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be open, in_progress, done, or closed", nil)
		}
		status = string(parsed)
	}
	visibility = string(access.VisibilityRestricted)
	if input.Visibility != "" {
		parsed, perr := access.ParseVisibility(input.Visibility)
		if perr != nil {
			return "", "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "visibility must be private, restricted, or public", nil)
		}
		visibility = string(parsed)
	}
	return status, visibility, nil
}

func (s *Service) CreateCard(ctx context.Context, sess Session, columnID string, input CardInput) (store.Card, error) {
	column, err := s.columnForEdit(ctx, sess, columnID)
	if err != nil {
		return store.Card{}, err
	}
	status, visibility, err := validateCardInput(input)
	if err != nil {
		return store.Card{}, err
	}
	card, err := s.store.CreateCard(ctx, store.CreateCardParams{
		ColumnID:    &column.ID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Status:      status,
		Visibility:  visibility,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		DueDate:     input.DueDate,
		CreatedBy:   sess.UserID,
		Position:    input.Position,
	})
	if err != nil {
		return store.Card{}, err
	}
	s.indexCard(card, column.BoardID)
	return card, nil
}

func (s *Service) GetCard(ctx context.Context, sess Session, cardID string) (store.Card, error) {
	card, _, err := s.viewableCard(ctx, sess, cardID)
	return card, err
}

func (s *Service) ListColumnCards(ctx context.Context, sess Session, columnID string) ([]store.Card, error) {
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	role, err := s.boardRole(ctx, column.BoardID, sess.UserID)
	if err != nil {
		return nil, err
	}
	cards, err := s.store.ListCardsByColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	return filterViewable(cards, []access.Role{role}, sess.UserID), nil
}

func (s *Service) ListBoardCards(ctx context.Context, sess Session, boardID string, filter store.CardFilter) ([]store.Card, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" {
		parsed, perr := access.ParseStatus(filter.Status)
		if perr != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be open, in_progress, done, or closed", nil)
		}
		filter.Status = string(parsed)
	}
	cards, err := s.store.ListBoardCards(ctx, boardID, filter)
	if err != nil {
		return nil, err
	}
	return filterViewable(cards, []access.Role{role}, sess.UserID), nil
}

// filterViewable drops cards the viewer may not see. The board role is the
// relevant one here because every card in the listing is attached to the
// board being listed.
func filterViewable(cards []store.Card, roles []access.Role, viewerID string) []store.Card {
	visible := make([]store.Card, 0, len(cards))
	for _, card := range cards {
		if access.CanViewCard(cardFacts(card), roles, viewerID) {
			visible = append(visible, card)
		}
	}
	return visible
}

func (s *Service) UpdateCard(ctx context.Context, sess Session, cardID string, input UpdateCardInput) (store.Card, error) {
	card, err := s.editableCard(ctx, sess, cardID)
	if err != nil {
		return store.Card{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = card.Title
	}
	description := input.Description
	visibility := card.Visibility
	if input.Visibility != "" {
		parsed, perr := access.ParseVisibility(input.Visibility)
		if perr != nil {
			return store.Card{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "visibility must be private, restricted, or public", nil)
		}
		visibility = string(parsed)
	}
	startDate := card.StartDate
	if input.StartDate != nil {
		startDate = input.StartDate
	}
	endDate := card.EndDate
	if input.EndDate != nil {
		endDate = input.EndDate
	}
	dueDate := card.DueDate
	if input.DueDate != nil {
		dueDate = input.DueDate
	}
	updated, err := s.store.UpdateCard(ctx, cardID, store.UpdateCardParams{
		Title:       title,
		Description: description,
		Visibility:  visibility,
		StartDate:   startDate,
		EndDate:     endDate,
		DueDate:     dueDate,
	})
	if err != nil {
		return store.Card{}, err
	}
	s.reindexCard(ctx, updated)
	return updated, nil
}

func (s *Service) UpdateCardStatus(ctx context.Context, sess Session, cardID, status string) (store.Card, error) {
	if _, err := s.editableCard(ctx, sess, cardID); err != nil {
		return store.Card{}, err
	}
	parsed, err := access.ParseStatus(status)
	if err != nil {
		return store.Card{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be open, in_progress, done, or closed", nil)
	}
	updated, err := s.store.UpdateCardStatus(ctx, cardID, string(parsed))
	if err != nil {
		return store.Card{}, err
	}
	s.reindexCard(ctx, updated)
	return updated, nil
}

func (s *Service) MoveCard(ctx context.Context, sess Session, cardID string, input MoveCardInput) (store.Card, error) {
	if _, err := s.editableCard(ctx, sess, cardID); err != nil {
		return store.Card{}, err
	}
	// Moving into a column also needs edit rights on the destination board.
	if _, err := s.columnForEdit(ctx, sess, input.ColumnID); err != nil {
		return store.Card{}, err
	}
	moved, err := s.store.MoveCard(ctx, cardID, input.ColumnID, input.Position)
	if err != nil {
		return store.Card{}, err
	}
	s.reindexCard(ctx, moved)
	return moved, nil
}

func (s *Service) DeleteCard(ctx context.Context, sess Session, cardID string) error {
	if _, err := s.editableCard(ctx, sess, cardID); err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	s.search.DeleteCard(cardID)
	return nil
}

func (s *Service) CreateInboxCard(ctx context.Context, sess Session, input CardInput) (store.Card, error) {
	status, visibility, err := validateCardInput(input)
	if err != nil {
		return store.Card{}, err
	}
	return s.store.CreateCard(ctx, store.CreateCardParams{
		OwnerID:     &sess.UserID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Status:      status,
		Visibility:  visibility,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		DueDate:     input.DueDate,
		CreatedBy:   sess.UserID,
	})
}

func (s *Service) ListInboxCards(ctx context.Context, sess Session) ([]store.Card, error) {
	return s.store.ListInboxCards(ctx, sess.UserID)
}

func (s *Service) AssignCardToBoard(ctx context.Context, sess Session, cardID string, input AssignCardInput) (store.CardBoardAssignment, error) {
	card, err := s.editableCard(ctx, sess, cardID)
	if err != nil {
		return store.CardBoardAssignment{}, err
	}
	role, err := s.boardRole(ctx, input.BoardID, sess.UserID)
	if err != nil {
		return store.CardBoardAssignment{}, err
	}
	if !role.CanEdit() {
		return store.CardBoardAssignment{}, errEditRequired()
	}
	if input.ColumnID != nil {
		column, err := s.store.GetColumn(ctx, *input.ColumnID)
		if err != nil {
			return store.CardBoardAssignment{}, err
		}
		if column.BoardID != input.BoardID {
			return store.CardBoardAssignment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "column does not belong to the target board", nil)
		}
	}
	if _, err := s.store.GetAssignment(ctx, cardID, input.BoardID); err == nil {
		return store.CardBoardAssignment{}, domainError(http.StatusConflict, "ALREADY_ASSIGNED", "card is already on this board", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.CardBoardAssignment{}, err
	}
	assignment, err := s.store.AssignCardToBoard(ctx, card.ID, input.BoardID, input.ColumnID, input.Position)
	if err != nil {
		return store.CardBoardAssignment{}, err
	}
	return assignment, nil
}

func (s *Service) ListCardAssignments(ctx context.Context, sess Session, cardID string) ([]store.CardBoardAssignment, error) {
	if _, _, err := s.viewableCard(ctx, sess, cardID); err != nil {
		return nil, err
	}
	return s.store.ListAssignmentsByCard(ctx, cardID)
}

func (s *Service) ListBoardAssignments(ctx context.Context, sess Session, boardID string) ([]store.CardBoardAssignment, error) {
	if _, err := s.boardRole(ctx, boardID, sess.UserID); err != nil {
		return nil, err
	}
	return s.store.ListAssignmentsByBoard(ctx, boardID)
}

func (s *Service) MoveAssignment(ctx context.Context, sess Session, cardID, boardID string, input MoveAssignmentInput) (store.CardBoardAssignment, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return store.CardBoardAssignment{}, err
	}
	if !role.CanEdit() {
		return store.CardBoardAssignment{}, errEditRequired()
	}
	if input.ColumnID != nil {
		column, err := s.store.GetColumn(ctx, *input.ColumnID)
		if err != nil {
			return store.CardBoardAssignment{}, err
		}
		if column.BoardID != boardID {
			return store.CardBoardAssignment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "column does not belong to the board", nil)
		}
	}
	return s.store.MoveAssignment(ctx, cardID, boardID, input.ColumnID, input.Position)
}

func (s *Service) RemoveCardFromBoard(ctx context.Context, sess Session, cardID, boardID string) error {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return err
	}
	if !role.CanEdit() {
		return errEditRequired()
	}
	return s.store.RemoveCardFromBoard(ctx, cardID, boardID)
}

const defaultTagColor = "#6c757d"

func (s *Service) CreateBoardTag(ctx context.Context, sess Session, boardID string, input TagInput) (store.Tag, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return store.Tag{}, err
	}
	if !role.CanEdit() {
		return store.Tag{}, errEditRequired()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Tag{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	color := input.Color
	if color == "" {
		color = defaultTagColor
	}
	return s.store.CreateBoardTag(ctx, boardID, name, color)
}

func (s *Service) ListBoardTags(ctx context.Context, sess Session, boardID string) ([]store.Tag, error) {
	if _, err := s.boardRole(ctx, boardID, sess.UserID); err != nil {
		return nil, err
	}
	return s.store.ListTagsByBoard(ctx, boardID)
}

func (s *Service) CreateUserTag(ctx context.Context, sess Session, input TagInput) (store.Tag, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Tag{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	color := input.Color
	if color == "" {
		color = defaultTagColor
	}
	return s.store.CreateUserTag(ctx, sess.UserID, name, color)
}

func (s *Service) ListUserTags(ctx context.Context, sess Session) ([]store.Tag, error) {
	return s.store.ListTagsByOwner(ctx, sess.UserID)
}

// tagForEdit loads a tag and verifies the requester may change it: edit
// rights on the owning board for board tags, ownership for user tags.
func (s *Service) tagForEdit(ctx context.Context, sess Session, tagID string) (store.Tag, error) {
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return store.Tag{}, err
	}
	if tag.BoardID != nil {
		role, err := s.boardRole(ctx, *tag.BoardID, sess.UserID)
		if err != nil {
			return store.Tag{}, err
		}
		if !role.CanEdit() {
			return store.Tag{}, errEditRequired()
		}
		return tag, nil
	}
	if tag.OwnerID == nil || *tag.OwnerID != sess.UserID {
		return store.Tag{}, domainError(http.StatusForbidden, "FORBIDDEN", "not your tag", nil)
	}
	return tag, nil
}

func (s *Service) UpdateTag(ctx context.Context, sess Session, tagID string, input TagInput) (store.Tag, error) {
	tag, err := s.tagForEdit(ctx, sess, tagID)
	if err != nil {
		return store.Tag{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = tag.Name
	}
	color := input.Color
	if color == "" {
		color = tag.Color
	}
	return s.store.UpdateTag(ctx, tagID, name, color)
}

func (s *Service) DeleteTag(ctx context.Context, sess Session, tagID string) error {
	if _, err := s.tagForEdit(ctx, sess, tagID); err != nil {
		return err
	}
	return s.store.DeleteTag(ctx, tagID)
}

func (s *Service) AddTagToCard(ctx context.Context, sess Session, cardID, tagID string) error {
	if _, err := s.editableCard(ctx, sess, cardID); err != nil {
		return err
	}
	if _, err := s.tagForEdit(ctx, sess, tagID); err != nil {
		return err
	}
	return s.store.AddTagToCard(ctx, cardID, tagID)
}

func (s *Service) RemoveTagFromCard(ctx context.Context, sess Session, cardID, tagID string) error {
	if _, err := s.editableCard(ctx, sess, cardID); err != nil {
		return err
	}
	return s.store.RemoveTagFromCard(ctx, cardID, tagID)
}

func (s *Service) ListCardTags(ctx context.Context, sess Session, cardID string) ([]store.Tag, error) {
	if _, _, err := s.viewableCard(ctx, sess, cardID); err != nil {
		return nil, err
	}
	return s.store.ListTagsByCard(ctx, cardID)
}

func (s *Service) ListCardComments(ctx context.Context, sess Session, cardID string) ([]store.Comment, error) {
	if _, _, err := s.viewableCard(ctx, sess, cardID); err != nil {
		return nil, err
	}
	return s.store.ListCommentsByCard(ctx, cardID)
}

func (s *Service) CreateComment(ctx context.Context, sess Session, cardID string, input CommentInput) (store.Comment, error) {
	if _, err := s.editableCard(ctx, sess, cardID); err != nil {
		return store.Comment{}, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	comment, err := s.store.CreateComment(ctx, cardID, sess.UserID, body)
	if err != nil {
		return store.Comment{}, err
	}
	comment.AuthorName = sess.UserName
	return comment, nil
}

// commentForAuthor loads a comment and verifies the requester wrote it.
// Comments are only ever changed by their author, board role is irrelevant.
func (s *Service) commentForAuthor(ctx context.Context, sess Session, commentID string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.UserID != sess.UserID {
		return store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the author can modify a comment", nil)
	}
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, sess Session, commentID string, input CommentInput) (store.Comment, error) {
	if _, err := s.commentForAuthor(ctx, sess, commentID); err != nil {
		return store.Comment{}, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	comment, err := s.store.UpdateComment(ctx, commentID, body)
	if err != nil {
		return store.Comment{}, err
	}
	comment.AuthorName = sess.UserName
	return comment, nil
}

func (s *Service) DeleteComment(ctx context.Context, sess Session, commentID string) error {
	if _, err := s.commentForAuthor(ctx, sess, commentID); err != nil {
		return err
	}
	return s.store.DeleteComment(ctx, commentID)
}

func (s *Service) Profile(ctx context.Context, sess Session) (store.User, error) {
	return s.store.GetUserByID(ctx, sess.UserID)
}

// UpdateLLMContext stores the free-form notes injected into the assistant's
// system prompt for this user. An empty string clears them.
func (s *Service) UpdateLLMContext(ctx context.Context, sess Session, input LLMContextInput) (store.User, error) {
	trimmed := strings.TrimSpace(input.Context)
	var llmContext *string
	if trimmed != "" {
		llmContext = &trimmed
	}
	return s.store.UpdateUserLLMContext(ctx, sess.UserID, llmContext)
}

func (s *Service) SearchCards(ctx context.Context, sess Session, text string, limit, offset int) (search.Response, error) {
	boards, err := s.store.ListBoardsForUser(ctx, sess.UserID)
	if err != nil {
		return search.Response{}, err
	}
	boardIDs := make([]string, 0, len(boards))
	for _, board := range boards {
		boardIDs = append(boardIDs, board.ID)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.search.Search(search.Query{
		Text:     text,
		BoardIDs: boardIDs,
		Limit:    limit,
		Offset:   offset,
	}), nil
}

func (s *Service) indexCard(card store.Card, boardID string) {
	s.search.IndexCard(search.CardRecord{
		ID:          card.ID,
		Title:       card.Title,
		Description: card.Description,
		BoardID:     boardID,
		Status:      card.Status,
		Visibility:  card.Visibility,
	})
}

// reindexCard refreshes the search document after a mutation. Inbox cards
// are not indexed; the index is board-scoped.
func (s *Service) reindexCard(ctx context.Context, card store.Card) {
	if card.ColumnID == nil {
		return
	}
	column, err := s.store.GetColumn(ctx, *card.ColumnID)
	if err != nil {
		return
	}
	s.indexCard(card, column.BoardID)
}
