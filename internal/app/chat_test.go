package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"taskboard/api/internal/store"
)

func reply(objects ...string) string {
	return strings.Join(objects, "\n")
}

func TestBoardChatReaderCannotMutate(t *testing.T) {
	var saved store.ChatMessage
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "reader", nil },
		createCardFn: func(context.Context, store.CreateCardParams) (store.Card, error) {
			t.Fatal("CreateCard should not be reached by a reader")
			return store.Card{}, nil
		},
		saveChatMessageFn: func(_ context.Context, boardID *string, userID, message, response string, actionsTaken *string) (store.ChatMessage, error) {
			saved = store.ChatMessage{BoardID: boardID, UserID: userID, Message: message, Response: response, ActionsTaken: actionsTaken}
			return saved, nil
		},
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"create_card","params":{"title":"Sneaky","column":"Todo"},"message":"Creating the card."}`}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "add a card")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(got.Outcomes) != 1 {
		t.Fatalf("outcomes = %+v, want 1", got.Outcomes)
	}
	outcome := got.Outcomes[0]
	if outcome.Success {
		t.Fatal("reader mutation should fail")
	}
	if outcome.Action != "create_card" || !strings.Contains(outcome.Description, "permission") {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if saved.ActionsTaken == nil || !strings.Contains(*saved.ActionsTaken, "create_card") {
		t.Fatalf("exchange not persisted with outcomes: %+v", saved)
	}
	if saved.BoardID == nil || *saved.BoardID != "board-1" {
		t.Fatalf("exchange board = %v", saved.BoardID)
	}
}

func TestBoardChatRejectsGlobalOnlyActions(t *testing.T) {
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: reply(
		`{"action":"create_board","params":{"name":"New board"},"message":"Creating a board."}`,
		`{"action":"move_card_cross_board","params":{"from_board":"A","to_board":"B","card":"X"},"message":"Moving."}`,
	)}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "do both")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(got.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", got.Outcomes)
	}
	for _, outcome := range got.Outcomes {
		if outcome.Success || !strings.Contains(outcome.Description, "global chat") {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
}

func TestBoardChatCreateCard(t *testing.T) {
	var created store.CreateCardParams
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
		listColumnsByBoardFn: func(context.Context, string) ([]store.Column, error) {
			return []store.Column{{ID: "col-1", BoardID: "board-1", Name: "Todo"}}, nil
		},
		createCardFn: func(_ context.Context, p store.CreateCardParams) (store.Card, error) {
			created = p
			return store.Card{ID: "card-1", ColumnID: p.ColumnID, Title: p.Title, Status: p.Status, Visibility: p.Visibility}, nil
		},
	}
	service, _, index := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"create_card","params":{"title":"Ship it","column":"todo"},"message":"Created the card."}`}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "add a card to todo")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if got.Response != "Created the card." {
		t.Fatalf("response = %q", got.Response)
	}
	if len(got.Outcomes) != 1 || !got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if created.Title != "Ship it" || created.ColumnID == nil || *created.ColumnID != "col-1" {
		t.Fatalf("created = %+v", created)
	}
	if created.Status != "open" || created.Visibility != "restricted" || created.CreatedBy != "user-1" {
		t.Fatalf("created = %+v", created)
	}
	if len(index.indexed) != 1 || index.indexed[0].BoardID != "board-1" {
		t.Fatalf("indexed = %+v", index.indexed)
	}
}

func TestBoardChatMissingParamsEchoed(t *testing.T) {
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"create_card","params":{"title":"No column"},"message":"Creating."}`}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "add a card")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if !strings.Contains(got.Outcomes[0].Description, "Received params") {
		t.Fatalf("description = %q", got.Outcomes[0].Description)
	}
}

func TestBoardChatBatchSurvivesActionFailure(t *testing.T) {
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: reply(
		`{"action":"create_card","params":{"title":"Orphan","column":"Nowhere"},"message":"First."}`,
		`{"action":"create_tag","params":{"name":"urgent"},"message":"Second."}`,
	)}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "two things")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(got.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", got.Outcomes)
	}
	if got.Outcomes[0].Success || !strings.Contains(got.Outcomes[0].Description, "not found") {
		t.Fatalf("first outcome = %+v", got.Outcomes[0])
	}
	if !got.Outcomes[1].Success {
		t.Fatalf("second outcome = %+v", got.Outcomes[1])
	}
	if got.Response != "First. Second." {
		t.Fatalf("response = %q", got.Response)
	}
}

func TestBoardChatReadOnlyActionsSkipped(t *testing.T) {
	var actionsTaken *string
	savedCalled := false
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "reader", nil },
		saveChatMessageFn: func(_ context.Context, boardID *string, userID, message, response string, taken *string) (store.ChatMessage, error) {
			savedCalled = true
			actionsTaken = taken
			return store.ChatMessage{}, nil
		},
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: reply(
		`{"action":"list_cards","params":{},"message":"Here are your cards."}`,
		`{"action":"no_action","params":{},"message":"Nothing to change."}`,
	)}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "what's on the board?")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(got.Outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none", got.Outcomes)
	}
	if !savedCalled || actionsTaken != nil {
		t.Fatalf("saved=%v actionsTaken=%v, want saved with nil actions", savedCalled, actionsTaken)
	}
}

func TestBoardChatUnknownActionReported(t *testing.T) {
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"frobnicate","params":{"thing":"x"},"message":"Doing something odd."}`}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "do something odd")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if got.Outcomes[0].Action != "frobnicate" {
		t.Fatalf("action = %q, want frobnicate", got.Outcomes[0].Action)
	}
	if got.Outcomes[0].Description != "Unknown action: frobnicate" {
		t.Fatalf("description = %q", got.Outcomes[0].Description)
	}
}

func TestGlobalChatUnknownActionReported(t *testing.T) {
	service, _, _ := newTestService(&fakeStore{})
	service.llm = &fakeLLM{reply: `{"action":"defragment","params":{},"message":"On it."}`}

	got, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "defragment my boards")
	if err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if got.Outcomes[0].Action != "defragment" || !strings.Contains(got.Outcomes[0].Description, "Unknown action") {
		t.Fatalf("outcome = %+v", got.Outcomes[0])
	}
}

func TestBoardChatMoveCardLandsAtTop(t *testing.T) {
	sourceColumn := "col-src"
	targetColumn := "col-dst"
	var movedTo string
	var desired int
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
		listColumnsByBoardFn: func(context.Context, string) ([]store.Column, error) {
			return []store.Column{
				{ID: sourceColumn, BoardID: "board-1", Name: "Todo", Position: 0},
				{ID: targetColumn, BoardID: "board-1", Name: "Doing", Position: 1},
			}, nil
		},
		listCardsByColumnFn: func(_ context.Context, columnID string) ([]store.Card, error) {
			if columnID == sourceColumn {
				return []store.Card{{ID: "card-1", ColumnID: &sourceColumn, Title: "Ship it"}}, nil
			}
			return []store.Card{
				{ID: "card-2", ColumnID: &targetColumn, Title: "In flight"},
				{ID: "card-3", ColumnID: &targetColumn, Title: "Also going"},
			}, nil
		},
		moveCardFn: func(_ context.Context, cardID, toColumnID string, d int) (store.Card, error) {
			movedTo = toColumnID
			desired = d
			return store.Card{ID: cardID, ColumnID: &toColumnID, Position: d}, nil
		},
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"move_card","params":{"card":"ship it","column":"Doing"},"message":"Moved."}`}

	got, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "move ship it to doing")
	if err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(got.Outcomes) != 1 || !got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if movedTo != targetColumn {
		t.Fatalf("moved to %q, want %q", movedTo, targetColumn)
	}
	if desired != 0 {
		t.Fatalf("desired position = %d, want 0", desired)
	}
}

func TestChatPromptCarriesUserContext(t *testing.T) {
	llmContext := "Always file new cards under Backlog."
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Name: "Avery", LLMContext: &llmContext}, nil
		},
	}
	service, _, _ := newTestService(fake)
	model := &fakeLLM{reply: `{"action":"no_action","params":{},"message":"Noted."}`}
	service.llm = model

	if _, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "hello"); err != nil {
		t.Fatalf("BoardChat: %v", err)
	}
	if len(model.messages) == 0 || model.messages[0].Role != "system" {
		t.Fatalf("messages = %+v", model.messages)
	}
	if !strings.Contains(model.messages[0].Content, "User context:\nAlways file new cards under Backlog.") {
		t.Fatalf("board prompt missing user context:\n%s", model.messages[0].Content)
	}

	if _, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "hello"); err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if !strings.Contains(model.messages[0].Content, "User context:\nAlways file new cards under Backlog.") {
		t.Fatalf("global prompt missing user context:\n%s", model.messages[0].Content)
	}
}

func TestBoardChatRequiresBoardAccess(t *testing.T) {
	service, _, _ := newTestService(&fakeStore{})
	model := &fakeLLM{reply: `{"action":"no_action","params":{},"message":"hi"}`}
	service.llm = model

	_, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "hello")
	domain := asDomainError(t, err)
	if domain.Status != 403 {
		t.Fatalf("status = %d, want 403", domain.Status)
	}
	if model.calls != 0 {
		t.Fatalf("model calls = %d, want 0", model.calls)
	}
}

func TestChatModelErrors(t *testing.T) {
	fake := &fakeStore{
		getUserRoleFn: func(context.Context, string, string) (string, error) { return "editor", nil },
		saveChatMessageFn: func(context.Context, *string, string, string, string, *string) (store.ChatMessage, error) {
			t.Fatal("failed exchanges must not be persisted")
			return store.ChatMessage{}, nil
		},
	}
	service, _, _ := newTestService(fake)

	service.llm = &fakeLLM{err: errors.New("connection refused")}
	_, err := service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "hello")
	if domain := asDomainError(t, err); domain.Status != 502 || domain.Code != "LLM_UNAVAILABLE" {
		t.Fatalf("backend failure = %+v", domain)
	}

	service.llm = &fakeLLM{err: context.DeadlineExceeded}
	_, err = service.BoardChat(context.Background(), Session{UserID: "user-1"}, "board-1", "hello")
	if domain := asDomainError(t, err); domain.Status != 504 || domain.Code != "LLM_TIMEOUT" {
		t.Fatalf("timeout = %+v", domain)
	}
}

func TestGlobalChatResolvesBoardPerAction(t *testing.T) {
	var taggedBoard string
	fake := &fakeStore{
		listBoardsForUserFn: func(context.Context, string) ([]store.Board, error) {
			return []store.Board{{ID: "b-work", Name: "Work"}, {ID: "b-home", Name: "Home"}}, nil
		},
		getUserRoleFn: func(_ context.Context, boardID, _ string) (string, error) {
			if boardID == "b-home" {
				return "editor", nil
			}
			return "", sql.ErrNoRows
		},
		createBoardTagFn: func(_ context.Context, boardID, name, color string) (store.Tag, error) {
			taggedBoard = boardID
			return store.Tag{ID: "tag-1", BoardID: &boardID, Name: name, Color: color}, nil
		},
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"create_tag","params":{"board":"home","name":"chores"},"message":"Tagged."}`}

	got, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "add a chores tag to home")
	if err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if len(got.Outcomes) != 1 || !got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if taggedBoard != "b-home" {
		t.Fatalf("tag created on %q, want b-home", taggedBoard)
	}
}

func TestGlobalChatMissingBoardParam(t *testing.T) {
	service, _, _ := newTestService(&fakeStore{})
	service.llm = &fakeLLM{reply: `{"action":"create_tag","params":{"name":"chores"},"message":"Tagged."}`}

	got, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "add a tag")
	if err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if !strings.Contains(got.Outcomes[0].Description, "Missing board") {
		t.Fatalf("description = %q", got.Outcomes[0].Description)
	}
}

func TestGlobalChatUnknownBoard(t *testing.T) {
	fake := &fakeStore{
		listBoardsForUserFn: func(context.Context, string) ([]store.Board, error) {
			return []store.Board{{ID: "b-work", Name: "Work"}}, nil
		},
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"create_tag","params":{"board":"Hobby","name":"fun"},"message":"Tagged."}`}

	got, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "tag it")
	if err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if !strings.Contains(got.Outcomes[0].Description, `Board "Hobby" not found`) {
		t.Fatalf("description = %q", got.Outcomes[0].Description)
	}
}

func TestGlobalChatCreateBoard(t *testing.T) {
	var createdName string
	fake := &fakeStore{
		createBoardFn: func(_ context.Context, name, description, ownerID string) (store.Board, error) {
			createdName = name
			return store.Board{ID: "board-9", Name: name, Description: description, OwnerID: ownerID}, nil
		},
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"create_board","params":{"name":"Roadmap"},"message":"Made the board."}`}

	got, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "make a roadmap board")
	if err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if len(got.Outcomes) != 1 || !got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if createdName != "Roadmap" {
		t.Fatalf("created board %q", createdName)
	}
}

func crossBoardFixture(roles map[string]string) *fakeStore {
	sourceColumn := "col-src"
	return &fakeStore{
		listBoardsForUserFn: func(context.Context, string) ([]store.Board, error) {
			return []store.Board{{ID: "b-src", Name: "Work"}, {ID: "b-dst", Name: "Archive"}}, nil
		},
		getUserRoleFn: func(_ context.Context, boardID, _ string) (string, error) {
			role, ok := roles[boardID]
			if !ok {
				return "", sql.ErrNoRows
			}
			return role, nil
		},
		listColumnsByBoardFn: func(_ context.Context, boardID string) ([]store.Column, error) {
			if boardID == "b-src" {
				return []store.Column{{ID: sourceColumn, BoardID: "b-src", Name: "Doing"}}, nil
			}
			return []store.Column{{ID: "col-dst", BoardID: "b-dst", Name: "Done"}}, nil
		},
		listCardsByColumnFn: func(_ context.Context, columnID string) ([]store.Card, error) {
			if columnID == sourceColumn {
				return []store.Card{{ID: "card-old", ColumnID: &sourceColumn, Title: "Old task", Status: "done", Visibility: "restricted", CreatedBy: "user-1"}}, nil
			}
			return nil, nil
		},
	}
}

func TestGlobalChatCrossBoardMove(t *testing.T) {
	fake := crossBoardFixture(map[string]string{"b-src": "editor", "b-dst": "owner"})
	var created store.CreateCardParams
	var deleted string
	fake.createCardFn = func(_ context.Context, p store.CreateCardParams) (store.Card, error) {
		created = p
		return store.Card{ID: "card-new", ColumnID: p.ColumnID, Title: p.Title, Status: p.Status, Visibility: p.Visibility, CreatedBy: p.CreatedBy}, nil
	}
	fake.deleteCardFn = func(_ context.Context, cardID string) error {
		deleted = cardID
		return nil
	}
	service, _, index := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"move_card_cross_board","params":{"from_board":"Work","to_board":"Archive","card":"old task"},"message":"Moved it."}`}

	got, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "archive the old task")
	if err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if len(got.Outcomes) != 1 || !got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if !strings.Contains(got.Outcomes[0].Description, `from board "Work" to board "Archive"`) {
		t.Fatalf("description = %q", got.Outcomes[0].Description)
	}
	if created.ColumnID == nil || *created.ColumnID != "col-dst" {
		t.Fatalf("created in column %v, want col-dst", created.ColumnID)
	}
	if created.Title != "Old task" || created.Status != "done" || created.CreatedBy != "user-1" {
		t.Fatalf("created = %+v", created)
	}
	if deleted != "card-old" {
		t.Fatalf("deleted %q, want card-old", deleted)
	}
	if len(index.deleted) != 1 || index.deleted[0] != "card-old" {
		t.Fatalf("index deletions = %v", index.deleted)
	}
	if len(index.indexed) != 1 || index.indexed[0].ID != "card-new" || index.indexed[0].BoardID != "b-dst" {
		t.Fatalf("index additions = %+v", index.indexed)
	}
}

func TestGlobalChatCrossBoardMoveNeedsEditOnBoth(t *testing.T) {
	fake := crossBoardFixture(map[string]string{"b-src": "editor", "b-dst": "reader"})
	fake.createCardFn = func(context.Context, store.CreateCardParams) (store.Card, error) {
		t.Fatal("CreateCard should not be reached")
		return store.Card{}, nil
	}
	fake.deleteCardFn = func(context.Context, string) error {
		t.Fatal("DeleteCard should not be reached")
		return nil
	}
	service, _, _ := newTestService(fake)
	service.llm = &fakeLLM{reply: `{"action":"move_card_cross_board","params":{"from_board":"Work","to_board":"Archive","card":"Old task"},"message":"Moving."}`}

	got, err := service.GlobalChat(context.Background(), Session{UserID: "user-1"}, "archive the old task")
	if err != nil {
		t.Fatalf("GlobalChat: %v", err)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
	if !strings.Contains(got.Outcomes[0].Description, "permission") {
		t.Fatalf("description = %q", got.Outcomes[0].Description)
	}
}
