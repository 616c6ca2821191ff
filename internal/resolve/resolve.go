// Package resolve maps names mentioned in chat to entities in already-loaded
// board state. All matching is case-insensitive exact equality; there is no
// fuzzy matching, so "colum" never resolves to "Column".
package resolve

import (
	"sort"
	"strings"

	"taskboard/api/internal/store"
)

// ColumnByName returns the column whose name equals name, ignoring case.
func ColumnByName(columns []store.Column, name string) (store.Column, bool) {
	for _, c := range columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return store.Column{}, false
}

// CardByTitle scans columns in ascending position order and returns the
// first card whose title matches. When the same title exists on several
// columns the leftmost column wins.
func CardByTitle(columns []store.Column, cardsByColumn map[string][]store.Card, title string) (store.Card, bool) {
	ordered := append([]store.Column(nil), columns...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	for _, col := range ordered {
		for _, card := range cardsByColumn[col.ID] {
			if strings.EqualFold(card.Title, title) {
				return card, true
			}
		}
	}
	return store.Card{}, false
}

// CardInList returns the first card in cards whose title matches.
func CardInList(cards []store.Card, title string) (store.Card, bool) {
	for _, card := range cards {
		if strings.EqualFold(card.Title, title) {
			return card, true
		}
	}
	return store.Card{}, false
}

// TagByName returns the tag whose name equals name, ignoring case.
func TagByName(tags []store.Tag, name string) (store.Tag, bool) {
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return store.Tag{}, false
}

// BoardByName returns the board whose name equals name, ignoring case.
func BoardByName(boards []store.Board, name string) (store.Board, bool) {
	for _, b := range boards {
		if strings.EqualFold(b.Name, name) {
			return b, true
		}
	}
	return store.Board{}, false
}
