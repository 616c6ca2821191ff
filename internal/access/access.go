// Package access holds the authorization rules for boards and cards as pure
// functions over facts loaded elsewhere. Nothing in here touches storage.
package access

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleReader Role = "reader"
)

// ParseRole rejects unknown role strings; stored roles are written only by
// this package's constants, so an unknown value is data corruption.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleReader:
		return RoleReader, nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

func (r Role) CanDeleteBoard() bool {
	return r == RoleOwner
}

func (r Role) CanManagePermissions() bool {
	return r == RoleOwner
}

type Visibility string

const (
	VisibilityPrivate    Visibility = "private"
	VisibilityRestricted Visibility = "restricted"
	VisibilityPublic     Visibility = "public"
)

func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(s))) {
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	case VisibilityRestricted:
		return VisibilityRestricted, nil
	case VisibilityPublic:
		return VisibilityPublic, nil
	default:
		return "", fmt.Errorf("invalid visibility %q", s)
	}
}

// VisibilityFromStored maps a stored visibility string to its variant,
// treating anything unparseable as private. This is the one deliberate
// permissive default: on the read path an unknown value must not widen
// access.
func VisibilityFromStored(s string) Visibility {
	v, err := ParseVisibility(s)
	if err != nil {
		return VisibilityPrivate
	}
	return v
}

// CardFacts are the card-side inputs to the card-level checks. OwnerID is
// empty for cards without a direct owner.
type CardFacts struct {
	OwnerID    string
	CreatedBy  string
	Visibility Visibility
}

// CanViewCard decides visibility of a card for viewerID given the viewer's
// roles on the boards the card is attached to. boardRoles must contain one
// entry per attached board on which the viewer holds a role; an unattached
// card therefore passes an empty slice and is visible only to its
// owner/creator.
func CanViewCard(card CardFacts, boardRoles []Role, viewerID string) bool {
	if isOwnerOrCreator(card, viewerID) {
		return true
	}
	switch card.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityRestricted:
		return len(boardRoles) > 0
	default:
		for _, role := range boardRoles {
			if role.CanEdit() {
				return true
			}
		}
		return false
	}
}

// CanEditCard decides edit rights analogously: owner/creator always, else
// edit rights on at least one attached board.
func CanEditCard(card CardFacts, boardRoles []Role, viewerID string) bool {
	if isOwnerOrCreator(card, viewerID) {
		return true
	}
	for _, role := range boardRoles {
		if role.CanEdit() {
			return true
		}
	}
	return false
}

func isOwnerOrCreator(card CardFacts, viewerID string) bool {
	if viewerID == "" {
		return false
	}
	return card.OwnerID == viewerID || card.CreatedBy == viewerID
}

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusClosed     Status = "closed"
)

// ParseStatus accepts case and underscore variants ("In Progress",
// "inprogress") but rejects anything outside the four states.
func ParseStatus(s string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "_", "")
	switch normalized {
	case "open":
		return StatusOpen, nil
	case "inprogress":
		return StatusInProgress, nil
	case "done":
		return StatusDone, nil
	case "closed":
		return StatusClosed, nil
	default:
		return "", fmt.Errorf("invalid status %q", s)
	}
}
