package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"taskboard/api/internal/chat"
	"taskboard/api/internal/llm"
	"taskboard/api/internal/resolve"
	"taskboard/api/internal/store"
)

// Outcome records one attempted mutating action from a chat request.
type Outcome struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	Success     bool   `json:"success"`
}

type ChatReply struct {
	Response string    `json:"response"`
	Outcomes []Outcome `json:"actions"`
}

type ChatInput struct {
	Message string `json:"message"`
}

// BoardChat runs the chat pipeline scoped to one board: authorize, prompt
// the model with live board state, parse its reply, execute each action
// descriptor in order, persist the exchange. Action-level failures become
// failed outcomes and never abort the batch; store and model errors do.
func (s *Service) BoardChat(ctx context.Context, sess Session, boardID, message string) (ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatReply{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required", nil)
	}
	if _, err := s.boardRole(ctx, boardID, sess.UserID); err != nil {
		return ChatReply{}, err
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return ChatReply{}, err
	}

	prompt, err := s.boardSystemPrompt(ctx, boardID, user.LLMContext)
	if err != nil {
		return ChatReply{}, err
	}
	raw, err := s.chatWithModel(ctx, prompt, message)
	if err != nil {
		return ChatReply{}, err
	}

	actions := chat.Parse(raw)
	var outcomes []Outcome
	for _, action := range actions {
		kind := action.Kind()
		if kind.ReadOnly() {
			continue
		}
		if kind == chat.KindUnknown {
			outcomes = append(outcomes, unknownAction(action))
			continue
		}
		if kind == chat.KindCreateBoard || kind == chat.KindMoveCardCrossBoard {
			outcomes = append(outcomes, Outcome{
				Action:      kind.String(),
				Description: "This action is only available in global chat",
			})
			continue
		}
		outcome, err := s.executeBoardAction(ctx, sess, boardID, action, kind)
		if err != nil {
			return ChatReply{}, err
		}
		outcomes = append(outcomes, outcome)
	}

	response := chat.ReadableMessage(raw, actions)
	if err := s.saveChatExchange(ctx, &boardID, sess.UserID, message, response, outcomes); err != nil {
		return ChatReply{}, err
	}
	return ChatReply{Response: response, Outcomes: outcomes}, nil
}

// GlobalChat is the same pipeline without a fixed board: each action names
// its board and is authorized against it individually. create_board and
// move_card_cross_board are only reachable here.
func (s *Service) GlobalChat(ctx context.Context, sess Session, message string) (ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatReply{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required", nil)
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return ChatReply{}, err
	}
	prompt, err := s.globalSystemPrompt(ctx, sess.UserID, user.LLMContext)
	if err != nil {
		return ChatReply{}, err
	}
	raw, err := s.chatWithModel(ctx, prompt, message)
	if err != nil {
		return ChatReply{}, err
	}

	actions := chat.Parse(raw)
	var outcomes []Outcome
	for _, action := range actions {
		kind := action.Kind()
		if kind.ReadOnly() {
			continue
		}
		if kind == chat.KindUnknown {
			outcomes = append(outcomes, unknownAction(action))
			continue
		}
		outcome, err := s.executeGlobalAction(ctx, sess, action, kind)
		if err != nil {
			return ChatReply{}, err
		}
		outcomes = append(outcomes, outcome)
	}

	response := chat.ReadableMessage(raw, actions)
	if err := s.saveChatExchange(ctx, nil, sess.UserID, message, response, outcomes); err != nil {
		return ChatReply{}, err
	}
	return ChatReply{Response: response, Outcomes: outcomes}, nil
}

func (s *Service) BoardChatHistory(ctx context.Context, sess Session, boardID string, limit int) ([]store.ChatMessage, error) {
	if _, err := s.boardRole(ctx, boardID, sess.UserID); err != nil {
		return nil, err
	}
	return s.store.ListBoardChatMessages(ctx, boardID, historyLimit(limit))
}

func (s *Service) ClearBoardChat(ctx context.Context, sess Session, boardID string) error {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		return err
	}
	if !role.CanEdit() {
		return errEditRequired()
	}
	return s.store.ClearBoardChatMessages(ctx, boardID)
}

func (s *Service) GlobalChatHistory(ctx context.Context, sess Session, limit int) ([]store.ChatMessage, error) {
	return s.store.ListGlobalChatMessages(ctx, sess.UserID, historyLimit(limit))
}

func (s *Service) ClearGlobalChat(ctx context.Context, sess Session) error {
	return s.store.ClearGlobalChatMessages(ctx, sess.UserID)
}

func historyLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func (s *Service) chatWithModel(ctx context.Context, systemPrompt, message string) (string, error) {
	raw, err := s.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: message},
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return "", domainError(http.StatusGatewayTimeout, "LLM_TIMEOUT", "the language model did not answer in time", nil)
	}
	if err != nil {
		return "", domainError(http.StatusBadGateway, "LLM_UNAVAILABLE", "the language model backend failed", nil)
	}
	return raw, nil
}

func (s *Service) saveChatExchange(ctx context.Context, boardID *string, userID, message, response string, outcomes []Outcome) error {
	var actionsTaken *string
	if len(outcomes) > 0 {
		encoded, err := json.Marshal(outcomes)
		if err != nil {
			return err
		}
		text := string(encoded)
		actionsTaken = &text
	}
	_, err := s.store.SaveChatMessage(ctx, boardID, userID, message, response, actionsTaken)
	return err
}

const promptPreamble = `You are a kanban board assistant. Reply ONLY with JSON objects of the form
{"action": "<name>", "params": {...}, "message": "<short confirmation for the user>"}
Emit one object per action, several objects for several actions, and
{"action": "no_action", "params": {}, "message": "..."} when nothing should change.`

func (s *Service) boardSystemPrompt(ctx context.Context, boardID string, llmContext *string) (string, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return "", err
	}
	columns, err := s.store.ListColumnsByBoard(ctx, boardID)
	if err != nil {
		return "", err
	}
	tags, err := s.store.ListTagsByBoard(ctx, boardID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\nAvailable actions: create_card, move_card, create_tag, add_tag, list_cards, list_tags, delete_column, delete_tag, delete_card, no_action.")
	fmt.Fprintf(&b, "\n\nCurrent board: %q\n", board.Name)
	for _, column := range columns {
		cards, err := s.store.ListCardsByColumn(ctx, column.ID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Column %q:\n", column.Name)
		for _, card := range cards {
			fmt.Fprintf(&b, "  - %q (%s)\n", card.Title, card.Status)
		}
	}
	if len(tags) > 0 {
		b.WriteString("Tags:")
		for _, tag := range tags {
			fmt.Fprintf(&b, " %q", tag.Name)
		}
		b.WriteString("\n")
	}
	writeUserContext(&b, llmContext)
	return b.String(), nil
}

func (s *Service) globalSystemPrompt(ctx context.Context, userID string, llmContext *string) (string, error) {
	boards, err := s.store.ListBoardsForUser(ctx, userID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\nAvailable actions: create_board, create_card, move_card, move_card_cross_board, create_tag, add_tag, list_cards, list_tags, delete_column, delete_tag, delete_card, no_action.")
	b.WriteString("\nEvery action except create_board must name its board in a \"board\" param.")
	b.WriteString("\n\nThe user's boards:\n")
	for _, board := range boards {
		fmt.Fprintf(&b, "  - %q\n", board.Name)
	}
	writeUserContext(&b, llmContext)
	return b.String(), nil
}

// writeUserContext appends the user's stored notes so the model can follow
// standing instructions like preferred columns or naming habits.
func writeUserContext(b *strings.Builder, llmContext *string) {
	if llmContext == nil || strings.TrimSpace(*llmContext) == "" {
		return
	}
	fmt.Fprintf(b, "\nUser context:\n%s\n", *llmContext)
}

// executeBoardAction runs one mutating descriptor against a board. The
// requester's role is re-read here so a permission revoked mid-batch takes
// effect on the next action.
func (s *Service) executeBoardAction(ctx context.Context, sess Session, boardID string, action chat.Action, kind chat.Kind) (Outcome, error) {
	role, err := s.boardRole(ctx, boardID, sess.UserID)
	if err != nil {
		var domain *DomainError
		if errors.As(err, &domain) {
			return failure(kind, "You don't have permission to access this board"), nil
		}
		return Outcome{}, err
	}
	if !role.CanEdit() {
		return failure(kind, "You don't have permission to modify this board"), nil
	}

	switch kind {
	case chat.KindCreateCard:
		return s.chatCreateCard(ctx, sess, boardID, action)
	case chat.KindMoveCard:
		return s.chatMoveCard(ctx, boardID, action)
	case chat.KindCreateTag:
		return s.chatCreateTag(ctx, boardID, action)
	case chat.KindAddTag:
		return s.chatAddTag(ctx, boardID, action)
	case chat.KindDeleteColumn:
		return s.chatDeleteColumn(ctx, boardID, action)
	case chat.KindDeleteTag:
		return s.chatDeleteTag(ctx, boardID, action)
	case chat.KindDeleteCard:
		return s.chatDeleteCard(ctx, boardID, action)
	default:
		return failure(kind, fmt.Sprintf("Unsupported action %q", action.Name)), nil
	}
}

// executeGlobalAction resolves the target board named by the descriptor and
// delegates to the board executor; create_board and cross-board moves are
// handled here directly.
func (s *Service) executeGlobalAction(ctx context.Context, sess Session, action chat.Action, kind chat.Kind) (Outcome, error) {
	switch kind {
	case chat.KindCreateBoard:
		return s.chatCreateBoard(ctx, sess, action)
	case chat.KindMoveCardCrossBoard:
		return s.chatMoveCardCrossBoard(ctx, sess, action)
	}

	boardName := action.Param(chat.AliasBoard...)
	if boardName == "" {
		return failure(kind, fmt.Sprintf("Missing board. Received params: %v", action.Params)), nil
	}
	board, ok, err := s.resolveBoard(ctx, sess.UserID, boardName)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return failure(kind, fmt.Sprintf("Board %q not found", boardName)), nil
	}
	return s.executeBoardAction(ctx, sess, board.ID, action, kind)
}

func (s *Service) resolveBoard(ctx context.Context, userID, name string) (store.Board, bool, error) {
	boards, err := s.store.ListBoardsForUser(ctx, userID)
	if err != nil {
		return store.Board{}, false, err
	}
	board, ok := resolve.BoardByName(boards, name)
	return board, ok, nil
}

// boardCards loads the columns of a board and their cards, the state the
// name resolvers operate on.
func (s *Service) boardCards(ctx context.Context, boardID string) ([]store.Column, map[string][]store.Card, error) {
	columns, err := s.store.ListColumnsByBoard(ctx, boardID)
	if err != nil {
		return nil, nil, err
	}
	cardsByColumn := make(map[string][]store.Card, len(columns))
	for _, column := range columns {
		cards, err := s.store.ListCardsByColumn(ctx, column.ID)
		if err != nil {
			return nil, nil, err
		}
		cardsByColumn[column.ID] = cards
	}
	return columns, cardsByColumn, nil
}

func (s *Service) chatCreateBoard(ctx context.Context, sess Session, action chat.Action) (Outcome, error) {
	name := action.Param(chat.AliasBoardName...)
	if name == "" {
		return failure(chat.KindCreateBoard, fmt.Sprintf("Missing board name. Received params: %v", action.Params)), nil
	}
	board, err := s.store.CreateBoard(ctx, name, action.Param(chat.AliasBoardDesc...), sess.UserID)
	if err != nil {
		return Outcome{}, err
	}
	return success(chat.KindCreateBoard, fmt.Sprintf("Created board %q", board.Name)), nil
}

func (s *Service) chatCreateCard(ctx context.Context, sess Session, boardID string, action chat.Action) (Outcome, error) {
	title := action.Param(chat.AliasCardTitle...)
	columnName := action.Param(chat.AliasColumn...)
	if title == "" || columnName == "" {
		return failure(chat.KindCreateCard, fmt.Sprintf("Missing card title or column. Received params: %v", action.Params)), nil
	}
	columns, err := s.store.ListColumnsByBoard(ctx, boardID)
	if err != nil {
		return Outcome{}, err
	}
	column, ok := resolve.ColumnByName(columns, columnName)
	if !ok {
		return failure(chat.KindCreateCard, fmt.Sprintf("Column %q not found", columnName)), nil
	}
	card, err := s.store.CreateCard(ctx, store.CreateCardParams{
		ColumnID:    &column.ID,
		Title:       title,
		Description: action.Param(chat.AliasCardBody...),
		Status:      "open",
		Visibility:  "restricted",
		CreatedBy:   sess.UserID,
	})
	if err != nil {
		return Outcome{}, err
	}
	s.indexCard(card, boardID)
	return success(chat.KindCreateCard, fmt.Sprintf("Created card %q in column %q", card.Title, column.Name)), nil
}

func (s *Service) chatMoveCard(ctx context.Context, boardID string, action chat.Action) (Outcome, error) {
	cardTitle := action.Param(chat.AliasMoveCard...)
	targetName := action.Param(chat.AliasMoveTarget...)
	if cardTitle == "" || targetName == "" {
		return failure(chat.KindMoveCard, fmt.Sprintf("Missing card or target column. Received params: %v", action.Params)), nil
	}
	columns, cardsByColumn, err := s.boardCards(ctx, boardID)
	if err != nil {
		return Outcome{}, err
	}
	card, ok := resolve.CardByTitle(columns, cardsByColumn, cardTitle)
	if !ok {
		return failure(chat.KindMoveCard, fmt.Sprintf("Card %q not found", cardTitle)), nil
	}
	target, ok := resolve.ColumnByName(columns, targetName)
	if !ok {
		return failure(chat.KindMoveCard, fmt.Sprintf("Column %q not found", targetName)), nil
	}
	// Moved cards land at the top of the target column.
	if _, err := s.store.MoveCard(ctx, card.ID, target.ID, 0); err != nil {
		return Outcome{}, err
	}
	return success(chat.KindMoveCard, fmt.Sprintf("Moved card %q to column %q", card.Title, target.Name)), nil
}

func (s *Service) chatCreateTag(ctx context.Context, boardID string, action chat.Action) (Outcome, error) {
	name := action.Param(chat.AliasTagName...)
	if name == "" {
		return failure(chat.KindCreateTag, fmt.Sprintf("Missing tag name. Received params: %v", action.Params)), nil
	}
	color := action.Param(chat.AliasTagColor...)
	if color == "" {
		color = defaultTagColor
	}
	tag, err := s.store.CreateBoardTag(ctx, boardID, name, color)
	if err != nil {
		return Outcome{}, err
	}
	return success(chat.KindCreateTag, fmt.Sprintf("Created tag %q", tag.Name)), nil
}

func (s *Service) chatAddTag(ctx context.Context, boardID string, action chat.Action) (Outcome, error) {
	tagName := action.Param(chat.AliasTagOnCard...)
	cardTitle := action.Param(chat.AliasTaggedCard...)
	if tagName == "" || cardTitle == "" {
		return failure(chat.KindAddTag, fmt.Sprintf("Missing tag or card. Received params: %v", action.Params)), nil
	}
	tags, err := s.store.ListTagsByBoard(ctx, boardID)
	if err != nil {
		return Outcome{}, err
	}
	tag, ok := resolve.TagByName(tags, tagName)
	if !ok {
		return failure(chat.KindAddTag, fmt.Sprintf("Tag %q not found", tagName)), nil
	}
	columns, cardsByColumn, err := s.boardCards(ctx, boardID)
	if err != nil {
		return Outcome{}, err
	}
	card, ok := resolve.CardByTitle(columns, cardsByColumn, cardTitle)
	if !ok {
		return failure(chat.KindAddTag, fmt.Sprintf("Card %q not found", cardTitle)), nil
	}
	if err := s.store.AddTagToCard(ctx, card.ID, tag.ID); err != nil {
		return Outcome{}, err
	}
	return success(chat.KindAddTag, fmt.Sprintf("Added tag %q to card %q", tag.Name, card.Title)), nil
}

func (s *Service) chatDeleteColumn(ctx context.Context, boardID string, action chat.Action) (Outcome, error) {
	name := action.Param(chat.AliasColumnName...)
	if name == "" {
		return failure(chat.KindDeleteColumn, fmt.Sprintf("Missing column name. Received params: %v", action.Params)), nil
	}
	columns, err := s.store.ListColumnsByBoard(ctx, boardID)
	if err != nil {
		return Outcome{}, err
	}
	column, ok := resolve.ColumnByName(columns, name)
	if !ok {
		return failure(chat.KindDeleteColumn, fmt.Sprintf("Column %q not found", name)), nil
	}
	if err := s.store.DeleteColumn(ctx, column.ID); err != nil {
		return Outcome{}, err
	}
	return success(chat.KindDeleteColumn, fmt.Sprintf("Deleted column %q", column.Name)), nil
}

func (s *Service) chatDeleteTag(ctx context.Context, boardID string, action chat.Action) (Outcome, error) {
	name := action.Param(chat.AliasDeleteTag...)
	if name == "" {
		return failure(chat.KindDeleteTag, fmt.Sprintf("Missing tag name. Received params: %v", action.Params)), nil
	}
	tags, err := s.store.ListTagsByBoard(ctx, boardID)
	if err != nil {
		return Outcome{}, err
	}
	tag, ok := resolve.TagByName(tags, name)
	if !ok {
		return failure(chat.KindDeleteTag, fmt.Sprintf("Tag %q not found", name)), nil
	}
	if err := s.store.DeleteTag(ctx, tag.ID); err != nil {
		return Outcome{}, err
	}
	return success(chat.KindDeleteTag, fmt.Sprintf("Deleted tag %q", tag.Name)), nil
}

func (s *Service) chatDeleteCard(ctx context.Context, boardID string, action chat.Action) (Outcome, error) {
	title := action.Param(chat.AliasDeleteCard...)
	if title == "" {
		return failure(chat.KindDeleteCard, fmt.Sprintf("Missing card title. Received params: %v", action.Params)), nil
	}
	columns, cardsByColumn, err := s.boardCards(ctx, boardID)
	if err != nil {
		return Outcome{}, err
	}
	card, ok := resolve.CardByTitle(columns, cardsByColumn, title)
	if !ok {
		return failure(chat.KindDeleteCard, fmt.Sprintf("Card %q not found", title)), nil
	}
	if err := s.store.DeleteCard(ctx, card.ID); err != nil {
		return Outcome{}, err
	}
	s.search.DeleteCard(card.ID)
	return success(chat.KindDeleteCard, fmt.Sprintf("Deleted card %q", card.Title)), nil
}

// chatMoveCardCrossBoard re-creates the card on the destination board and
// deletes the source card. Requires edit rights on both boards.
func (s *Service) chatMoveCardCrossBoard(ctx context.Context, sess Session, action chat.Action) (Outcome, error) {
	fromName := action.Param(chat.AliasFromBoard...)
	toName := action.Param(chat.AliasToBoard...)
	cardTitle := action.Param(chat.AliasCrossCard...)
	if fromName == "" || toName == "" || cardTitle == "" {
		return failure(chat.KindMoveCardCrossBoard, fmt.Sprintf("Missing source board, target board, or card. Received params: %v", action.Params)), nil
	}

	from, ok, err := s.resolveBoard(ctx, sess.UserID, fromName)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return failure(chat.KindMoveCardCrossBoard, fmt.Sprintf("Board %q not found", fromName)), nil
	}
	to, ok, err := s.resolveBoard(ctx, sess.UserID, toName)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return failure(chat.KindMoveCardCrossBoard, fmt.Sprintf("Board %q not found", toName)), nil
	}
	for _, boardID := range []string{from.ID, to.ID} {
		role, err := s.boardRole(ctx, boardID, sess.UserID)
		if err != nil {
			var domain *DomainError
			if errors.As(err, &domain) {
				return failure(chat.KindMoveCardCrossBoard, "You don't have permission to access both boards"), nil
			}
			return Outcome{}, err
		}
		if !role.CanEdit() {
			return failure(chat.KindMoveCardCrossBoard, "You don't have permission to modify both boards"), nil
		}
	}

	columns, cardsByColumn, err := s.boardCards(ctx, from.ID)
	if err != nil {
		return Outcome{}, err
	}
	card, ok := resolve.CardByTitle(columns, cardsByColumn, cardTitle)
	if !ok {
		return failure(chat.KindMoveCardCrossBoard, fmt.Sprintf("Card %q not found on board %q", cardTitle, from.Name)), nil
	}

	destColumns, err := s.store.ListColumnsByBoard(ctx, to.ID)
	if err != nil {
		return Outcome{}, err
	}
	if len(destColumns) == 0 {
		return failure(chat.KindMoveCardCrossBoard, fmt.Sprintf("Board %q has no columns", to.Name)), nil
	}
	destColumn := destColumns[0]
	if columnName := action.Param(chat.AliasCrossColumn...); columnName != "" {
		resolved, ok := resolve.ColumnByName(destColumns, columnName)
		if !ok {
			return failure(chat.KindMoveCardCrossBoard, fmt.Sprintf("Column %q not found on board %q", columnName, to.Name)), nil
		}
		destColumn = resolved
	}

	created, err := s.store.CreateCard(ctx, store.CreateCardParams{
		ColumnID:    &destColumn.ID,
		OwnerID:     card.OwnerID,
		Title:       card.Title,
		Description: card.Description,
		Status:      card.Status,
		Visibility:  card.Visibility,
		StartDate:   card.StartDate,
		EndDate:     card.EndDate,
		DueDate:     card.DueDate,
		CreatedBy:   card.CreatedBy,
	})
	if err != nil {
		return Outcome{}, err
	}
	if err := s.store.DeleteCard(ctx, card.ID); err != nil {
		return Outcome{}, err
	}
	s.search.DeleteCard(card.ID)
	s.indexCard(created, to.ID)
	return success(chat.KindMoveCardCrossBoard, fmt.Sprintf("Moved card %q from board %q to board %q", card.Title, from.Name, to.Name)), nil
}

func success(kind chat.Kind, description string) Outcome {
	return Outcome{Action: kind.String(), Description: description, Success: true}
}

func failure(kind chat.Kind, description string) Outcome {
	return Outcome{Action: kind.String(), Description: description}
}

// unknownAction reports a descriptor whose name matches no known action,
// echoing the raw name so the user sees what the model invented.
func unknownAction(action chat.Action) Outcome {
	return Outcome{Action: action.Name, Description: fmt.Sprintf("Unknown action: %s", action.Name)}
}
