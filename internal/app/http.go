package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/position"
	"taskboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		var body SignUpInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignUp(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		var body SignInInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignIn(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "boards":
		s.handleBoards(w, r, session, parts[2:])
	case "columns":
		s.handleColumns(w, r, session, parts[2:])
	case "cards":
		s.handleCards(w, r, session, parts[2:])
	case "comments":
		s.handleComments(w, r, session, parts[2:])
	case "me":
		s.handleMe(w, r, session, parts[2:])
	case "inbox":
		s.handleInbox(w, r, session, parts[2:])
	case "tags":
		s.handleTags(w, r, session, parts[2:])
	case "chat":
		s.handleGlobalChat(w, r, session, parts[2:])
	case "search":
		s.handleSearch(w, r, session, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBoards(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			boards, err := s.service.ListBoards(r.Context(), session)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"boards": mapSlice(boards, boardJSON)})
		case http.MethodPost:
			var body BoardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			board, err := s.service.CreateBoard(r.Context(), session, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, boardJSON(board))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	boardID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			board, role, err := s.service.GetBoard(r.Context(), session, boardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			payload := boardJSON(board)
			payload["role"] = string(role)
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var body BoardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			board, err := s.service.UpdateBoard(r.Context(), session, boardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, boardJSON(board))
		case http.MethodDelete:
			if err := s.service.DeleteBoard(r.Context(), session, boardID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[1] {
	case "permissions":
		if r.Method == http.MethodGet && len(parts) == 2 {
			permissions, err := s.service.ListBoardPermissions(r.Context(), session, boardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"permissions": mapSlice(permissions, permissionJSON)})
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body PermissionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			permission, err := s.service.AddBoardPermission(r.Context(), session, boardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, permissionJSON(permission))
			return
		}
		if r.Method == http.MethodDelete && len(parts) == 3 {
			if err := s.service.RemoveBoardPermission(r.Context(), session, boardID, parts[2]); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	case "columns":
		if r.Method == http.MethodGet && len(parts) == 2 {
			columns, err := s.service.ListColumns(r.Context(), session, boardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"columns": mapSlice(columns, columnJSON)})
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body ColumnInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			column, err := s.service.CreateColumn(r.Context(), session, boardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, columnJSON(column))
			return
		}
	case "cards":
		if r.Method == http.MethodGet && len(parts) == 2 {
			filter, err := cardFilterFromQuery(r)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			cards, err := s.service.ListBoardCards(r.Context(), session, boardID, filter)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cards": mapSlice(cards, cardJSON)})
			return
		}
	case "assignments":
		if r.Method == http.MethodGet && len(parts) == 2 {
			assignments, err := s.service.ListBoardAssignments(r.Context(), session, boardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"assignments": mapSlice(assignments, assignmentJSON)})
			return
		}
	case "tags":
		if r.Method == http.MethodGet && len(parts) == 2 {
			tags, err := s.service.ListBoardTags(r.Context(), session, boardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tags": mapSlice(tags, tagJSON)})
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body TagInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tag, err := s.service.CreateBoardTag(r.Context(), session, boardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, tagJSON(tag))
			return
		}
	case "chat":
		if len(parts) == 2 {
			s.handleBoardChat(w, r, session, boardID)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleBoardChat(w http.ResponseWriter, r *http.Request, session Session, boardID string) {
	switch r.Method {
	case http.MethodPost:
		var body ChatInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := s.service.BoardChat(r.Context(), session, boardID, body.Message)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		messages, err := s.service.BoardChatHistory(r.Context(), session, boardID, limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": mapSlice(messages, chatMessageJSON)})
	case http.MethodDelete:
		if err := s.service.ClearBoardChat(r.Context(), session, boardID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleColumns(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	columnID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body ColumnInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			column, err := s.service.RenameColumn(r.Context(), session, columnID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, columnJSON(column))
		case http.MethodDelete:
			if err := s.service.DeleteColumn(r.Context(), session, columnID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[1] {
	case "move":
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body struct {
				Position int `json:"position"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			column, err := s.service.MoveColumn(r.Context(), session, columnID, body.Position)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, columnJSON(column))
			return
		}
	case "cards":
		if r.Method == http.MethodGet && len(parts) == 2 {
			cards, err := s.service.ListColumnCards(r.Context(), session, columnID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cards": mapSlice(cards, cardJSON)})
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body CardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			card, err := s.service.CreateCard(r.Context(), session, columnID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, cardJSON(card))
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCards(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	cardID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			card, err := s.service.GetCard(r.Context(), session, cardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, cardJSON(card))
		case http.MethodPut:
			var body UpdateCardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			card, err := s.service.UpdateCard(r.Context(), session, cardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, cardJSON(card))
		case http.MethodDelete:
			if err := s.service.DeleteCard(r.Context(), session, cardID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[1] {
	case "status":
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body struct {
				Status string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			card, err := s.service.UpdateCardStatus(r.Context(), session, cardID, body.Status)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, cardJSON(card))
			return
		}
	case "move":
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body MoveCardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			card, err := s.service.MoveCard(r.Context(), session, cardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, cardJSON(card))
			return
		}
	case "tags":
		if r.Method == http.MethodGet && len(parts) == 2 {
			tags, err := s.service.ListCardTags(r.Context(), session, cardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tags": mapSlice(tags, tagJSON)})
			return
		}
		if r.Method == http.MethodPost && len(parts) == 3 {
			if err := s.service.AddTagToCard(r.Context(), session, cardID, parts[2]); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		if r.Method == http.MethodDelete && len(parts) == 3 {
			if err := s.service.RemoveTagFromCard(r.Context(), session, cardID, parts[2]); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	case "comments":
		if r.Method == http.MethodGet && len(parts) == 2 {
			comments, err := s.service.ListCardComments(r.Context(), session, cardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": mapSlice(comments, commentJSON)})
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body CommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.CreateComment(r.Context(), session, cardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, commentJSON(comment))
			return
		}
	case "boards":
		if r.Method == http.MethodGet && len(parts) == 2 {
			assignments, err := s.service.ListCardAssignments(r.Context(), session, cardID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"assignments": mapSlice(assignments, assignmentJSON)})
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 {
			var body AssignCardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			assignment, err := s.service.AssignCardToBoard(r.Context(), session, cardID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, assignmentJSON(assignment))
			return
		}
		if r.Method == http.MethodPut && len(parts) == 3 {
			var body MoveAssignmentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			assignment, err := s.service.MoveAssignment(r.Context(), session, cardID, parts[2], body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, assignmentJSON(assignment))
			return
		}
		if r.Method == http.MethodDelete && len(parts) == 3 {
			if err := s.service.RemoveCardFromBoard(r.Context(), session, cardID, parts[2]); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	commentID := parts[0]
	switch r.Method {
	case http.MethodPut:
		var body CommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), session, commentID, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commentJSON(comment))
	case http.MethodDelete:
		if err := s.service.DeleteComment(r.Context(), session, commentID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		user, err := s.service.Profile(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(user))
		return
	}
	if len(parts) == 1 && parts[0] == "context" {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body LLMContextInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.UpdateLLMContext(r.Context(), session, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(user))
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleInbox(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cards, err := s.service.ListInboxCards(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": mapSlice(cards, cardJSON)})
	case http.MethodPost:
		var body CardInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.CreateInboxCard(r.Context(), session, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, cardJSON(card))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTags(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			tags, err := s.service.ListUserTags(r.Context(), session)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tags": mapSlice(tags, tagJSON)})
		case http.MethodPost:
			var body TagInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tag, err := s.service.CreateUserTag(r.Context(), session, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, tagJSON(tag))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 1 {
		tagID := parts[0]
		switch r.Method {
		case http.MethodPut:
			var body TagInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tag, err := s.service.UpdateTag(r.Context(), session, tagID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, tagJSON(tag))
		case http.MethodDelete:
			if err := s.service.DeleteTag(r.Context(), session, tagID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGlobalChat(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var body ChatInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := s.service.GlobalChat(r.Context(), session, body.Message)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		messages, err := s.service.GlobalChatHistory(r.Context(), session, limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": mapSlice(messages, chatMessageJSON)})
	case http.MethodDelete:
		if err := s.service.ClearGlobalChat(r.Context(), session); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response, err := s.service.SearchCards(r.Context(), session, query.Get("q"), limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func cardFilterFromQuery(r *http.Request) (store.CardFilter, error) {
	query := r.URL.Query()
	filter := store.CardFilter{
		Query:  query.Get("q"),
		Status: query.Get("status"),
		TagID:  query.Get("tagId"),
	}
	for name, target := range map[string]**time.Time{
		"startBefore": &filter.StartBefore,
		"startAfter":  &filter.StartAfter,
		"endBefore":   &filter.EndBefore,
		"endAfter":    &filter.EndAfter,
		"dueBefore":   &filter.DueBefore,
		"dueAfter":    &filter.DueAfter,
	} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.CardFilter{}, fmt.Errorf("%s must be RFC 3339", name)
		}
		*target = &parsed
	}
	return filter, nil
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, position.ErrInvalidPosition) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func mapSlice[T any](items []T, convert func(T) map[string]any) []map[string]any {
	converted := make([]map[string]any, 0, len(items))
	for _, item := range items {
		converted = append(converted, convert(item))
	}
	return converted
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func boardJSON(board store.Board) map[string]any {
	return map[string]any{
		"id":          board.ID,
		"name":        board.Name,
		"description": board.Description,
		"ownerId":     board.OwnerID,
		"createdAt":   board.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   board.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func permissionJSON(permission store.BoardPermission) map[string]any {
	return map[string]any{
		"id":        permission.ID,
		"boardId":   permission.BoardID,
		"userId":    permission.UserID,
		"role":      permission.Role,
		"createdAt": permission.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func columnJSON(column store.Column) map[string]any {
	return map[string]any{
		"id":       column.ID,
		"boardId":  column.BoardID,
		"name":     column.Name,
		"position": column.Position,
	}
}

func cardJSON(card store.Card) map[string]any {
	payload := map[string]any{
		"id":          card.ID,
		"columnId":    card.ColumnID,
		"ownerId":     card.OwnerID,
		"createdBy":   card.CreatedBy,
		"title":       card.Title,
		"description": card.Description,
		"status":      card.Status,
		"visibility":  card.Visibility,
		"position":    card.Position,
		"createdAt":   card.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   card.UpdatedAt.UTC().Format(time.RFC3339),
	}
	payload["startDate"] = timeJSON(card.StartDate)
	payload["endDate"] = timeJSON(card.EndDate)
	payload["dueDate"] = timeJSON(card.DueDate)
	return payload
}

func timeJSON(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func commentJSON(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"cardId":     comment.CardID,
		"userId":     comment.UserID,
		"authorName": comment.AuthorName,
		"body":       comment.Body,
		"createdAt":  comment.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":  comment.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func userJSON(user store.User) map[string]any {
	payload := map[string]any{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"createdAt": user.CreatedAt.UTC().Format(time.RFC3339),
	}
	if user.LLMContext != nil {
		payload["llmContext"] = *user.LLMContext
	} else {
		payload["llmContext"] = nil
	}
	return payload
}

func assignmentJSON(assignment store.CardBoardAssignment) map[string]any {
	return map[string]any{
		"id":       assignment.ID,
		"cardId":   assignment.CardID,
		"boardId":  assignment.BoardID,
		"columnId": assignment.ColumnID,
		"position": assignment.Position,
	}
}

func tagJSON(tag store.Tag) map[string]any {
	return map[string]any{
		"id":      tag.ID,
		"boardId": tag.BoardID,
		"ownerId": tag.OwnerID,
		"name":    tag.Name,
		"color":   tag.Color,
	}
}

func chatMessageJSON(message store.ChatMessage) map[string]any {
	payload := map[string]any{
		"id":        message.ID,
		"boardId":   message.BoardID,
		"userId":    message.UserID,
		"message":   message.Message,
		"response":  message.Response,
		"createdAt": message.CreatedAt.UTC().Format(time.RFC3339),
	}
	if message.ActionsTaken != nil {
		var outcomes []Outcome
		if err := json.Unmarshal([]byte(*message.ActionsTaken), &outcomes); err == nil {
			payload["actions"] = outcomes
		}
	}
	return payload
}
