// Package chat parses language-model replies into action descriptors.
//
// The model is prompted to answer with JSON objects of the form
// {"action": ..., "params": {...}, "message": ...} but real replies are
// messy: prose around the JSON, markdown fences, several objects in one
// reply. Parse tolerates all of that and never fails; the worst case is an
// empty descriptor list.
package chat

import (
	"encoding/json"
	"strings"
)

// Action is one descriptor extracted from a model reply. Params carries the
// raw decoded JSON params object; use Param to read fields tolerantly.
type Action struct {
	Name    string         `json:"action"`
	Params  map[string]any `json:"params"`
	Message string         `json:"message"`
}

// Kind is the normalized identity of an action name.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateBoard
	KindCreateCard
	KindMoveCard
	KindMoveCardCrossBoard
	KindCreateTag
	KindAddTag
	KindListCards
	KindListTags
	KindDeleteColumn
	KindDeleteTag
	KindDeleteCard
	KindNoAction
)

// ParseKind normalizes by lower-casing and stripping underscores, so
// "Create_Card", "createcard" and "CREATECARD" all resolve the same way.
// Anything unrecognized is KindUnknown.
func ParseKind(name string) Kind {
	switch strings.ReplaceAll(strings.ToLower(name), "_", "") {
	case "createboard":
		return KindCreateBoard
	case "createcard":
		return KindCreateCard
	case "movecard":
		return KindMoveCard
	case "movecardcrossboard":
		return KindMoveCardCrossBoard
	case "createtag":
		return KindCreateTag
	case "addtag":
		return KindAddTag
	case "listcards":
		return KindListCards
	case "listtags":
		return KindListTags
	case "deletecolumn":
		return KindDeleteColumn
	case "deletetag":
		return KindDeleteTag
	case "deletecard":
		return KindDeleteCard
	case "noaction":
		return KindNoAction
	default:
		return KindUnknown
	}
}

func (a Action) Kind() Kind { return ParseKind(a.Name) }

func (k Kind) String() string {
	switch k {
	case KindCreateBoard:
		return "create_board"
	case KindCreateCard:
		return "create_card"
	case KindMoveCard:
		return "move_card"
	case KindMoveCardCrossBoard:
		return "move_card_cross_board"
	case KindCreateTag:
		return "create_tag"
	case KindAddTag:
		return "add_tag"
	case KindListCards:
		return "list_cards"
	case KindListTags:
		return "list_tags"
	case KindDeleteColumn:
		return "delete_column"
	case KindDeleteTag:
		return "delete_tag"
	case KindDeleteCard:
		return "delete_card"
	case KindNoAction:
		return "no_action"
	default:
		return "unknown"
	}
}

// ReadOnly reports whether the kind never modifies board state.
func (k Kind) ReadOnly() bool {
	return k == KindListCards || k == KindListTags || k == KindNoAction
}

// Param returns the first non-empty string value among the given keys.
// Non-string values (numbers, nested objects) are ignored.
func (a Action) Param(keys ...string) string {
	for _, key := range keys {
		if v, ok := a.Params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Alias tables for the field names models actually emit. Order matters:
// the first populated alias wins.
var (
	AliasBoard       = []string{"board", "board_name"}
	AliasBoardName   = []string{"name", "board_name", "title"}
	AliasBoardDesc   = []string{"description", "desc"}
	AliasColumn      = []string{"column", "column_name", "in"}
	AliasColumnName  = []string{"column", "column_name", "name"}
	AliasCardTitle   = []string{"title", "name", "card_title"}
	AliasCardBody    = []string{"body", "description", "content"}
	AliasMoveCard    = []string{"card_title", "card", "title", "name"}
	AliasMoveTarget  = []string{"target_column", "column", "to", "destination"}
	AliasTagName     = []string{"name", "tag_name", "tag"}
	AliasTagColor    = []string{"color", "hex_color"}
	AliasTagOnCard   = []string{"tag_name", "tag", "name"}
	AliasTaggedCard  = []string{"card_title", "card", "title"}
	AliasDeleteTag   = []string{"tag", "tag_name", "name"}
	AliasDeleteCard  = []string{"card", "card_title", "title", "name"}
	AliasFromBoard   = []string{"from_board", "source_board", "source"}
	AliasToBoard     = []string{"to_board", "target_board", "destination"}
	AliasCrossCard   = []string{"card", "card_title", "title"}
	AliasCrossColumn = []string{"column", "target_column", "to_column"}
)

// Parse extracts action descriptors from a raw model reply. Three stages:
// the whole trimmed text as one JSON object, then the first ```json fenced
// block, then a brace-depth scan over the full text collecting every
// independently parseable object left to right. Spans that fail to decode
// are skipped silently; an empty result is not an error.
func Parse(raw string) []Action {
	raw = strings.TrimSpace(raw)

	if a, ok := decodeAction(raw); ok {
		return []Action{a}
	}

	if start := strings.Index(raw, "```json"); start >= 0 {
		rest := raw[start:]
		end := strings.Index(rest, "```\n")
		if end < 0 {
			end = strings.LastIndex(rest, "```")
		}
		if end > 0 {
			candidate := strings.TrimSpace(rest[len("```json"):end])
			if a, ok := decodeAction(candidate); ok {
				return []Action{a}
			}
		}
	}

	var actions []Action
	for search := 0; search < len(raw); {
		start := strings.IndexByte(raw[search:], '{')
		if start < 0 {
			break
		}
		start += search
		end := matchBrace(raw, start)
		if end < 0 {
			break
		}
		if a, ok := decodeAction(raw[start : end+1]); ok {
			actions = append(actions, a)
		}
		search = end + 1
	}
	return actions
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1
// when the text ends first. Depth counting only; braces inside string
// literals are deliberately not special-cased, matching the tolerant
// scan-and-try decoding strategy (a mangled span just fails to decode).
func matchBrace(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeAction parses one candidate span. Both "action" and "message" keys
// must be present; params may be absent.
func decodeAction(s string) (Action, bool) {
	var raw struct {
		Action  *string        `json:"action"`
		Params  map[string]any `json:"params"`
		Message *string        `json:"message"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Action{}, false
	}
	if raw.Action == nil || raw.Message == nil {
		return Action{}, false
	}
	params := raw.Params
	if params == nil {
		params = map[string]any{}
	}
	return Action{Name: *raw.Action, Params: params, Message: *raw.Message}, true
}

// ReadableMessage synthesizes the reply shown to the user: the action
// messages joined when present, a generic placeholder when the raw text
// looks like undigested JSON, otherwise the raw text itself.
func ReadableMessage(raw string, actions []Action) string {
	var messages []string
	for _, a := range actions {
		if a.Message != "" {
			messages = append(messages, a.Message)
		}
	}
	if len(messages) > 0 {
		return strings.Join(messages, " ")
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.Contains(trimmed, `"action"`) {
		return "Processing your request..."
	}
	return raw
}
