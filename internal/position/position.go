// Package position maintains dense, zero-based position sequences for items
// grouped by a container: columns within a board, cards within a column,
// card assignments within a (board, column) bucket.
//
// Planning is separated from execution: pure planners compute which position
// ranges shift and by how much, and the exec helpers replay a plan as
// parameterized UPDATEs inside a caller-supplied transaction. The caller
// writes the item row itself at the returned position within the same
// transaction, so either every shift and the final write land or none do.
package position

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPosition marks desired positions outside the reachable range.
// Callers must reject these before any row is touched.
var ErrInvalidPosition = errors.New("position out of range")

// Relation describes a positioned table. ContainerCols name the columns
// whose values identify one container; a nil value matches IS NULL.
type Relation struct {
	Table         string
	ContainerCols []string
	IDCol         string
}

// Container holds concrete key values, parallel to Relation.ContainerCols.
type Container []any

// shift moves every item with min <= position <= max by delta. max < 0
// means open-ended (everything at or after min).
type shift struct {
	min   int
	max   int
	delta int
}

// planInsert validates desired against the container size and returns the
// assigned position plus the shifts that open the slot. desired == nil
// appends; desired == count is the explicit append form.
func planInsert(desired *int, count int) (int, []shift, error) {
	if desired == nil {
		return count, nil, nil
	}
	d := *desired
	if d < 0 || d > count {
		return 0, nil, fmt.Errorf("insert at %d into container of %d: %w", d, count, ErrInvalidPosition)
	}
	if d == count {
		return d, nil, nil
	}
	return d, []shift{{min: d, max: -1, delta: +1}}, nil
}

// planSameContainerMove returns the shifts for relocating an item from old
// to new within one container of the given size. Equal positions are a
// no-op. The moved item itself is not part of the plan; the caller writes
// it at new afterwards.
func planSameContainerMove(old, new, count int) ([]shift, error) {
	if old < 0 || old >= count {
		return nil, fmt.Errorf("move from %d in container of %d: %w", old, count, ErrInvalidPosition)
	}
	if new < 0 || new >= count {
		return nil, fmt.Errorf("move to %d in container of %d: %w", new, count, ErrInvalidPosition)
	}
	switch {
	case new == old:
		return nil, nil
	case new > old:
		return []shift{{min: old + 1, max: new, delta: -1}}, nil
	default:
		return []shift{{min: new, max: old - 1, delta: +1}}, nil
	}
}

// planCrossMove returns the source-container and destination-container
// shifts for moving an item between containers. destCount is the size of
// the destination before the move; desired == destCount appends.
func planCrossMove(oldPos, desired, destCount int) (src, dst []shift, err error) {
	if oldPos < 0 {
		return nil, nil, fmt.Errorf("move from %d: %w", oldPos, ErrInvalidPosition)
	}
	if desired < 0 || desired > destCount {
		return nil, nil, fmt.Errorf("move to %d in container of %d: %w", desired, destCount, ErrInvalidPosition)
	}
	src = []shift{{min: oldPos + 1, max: -1, delta: -1}}
	if desired < destCount {
		dst = []shift{{min: desired, max: -1, delta: +1}}
	}
	return src, dst, nil
}

// planRemove closes the gap left at pos after the item is deleted.
func planRemove(pos int) []shift {
	return []shift{{min: pos + 1, max: -1, delta: -1}}
}

// DBTX is the slice of *sql.Tx (or *sql.DB) these helpers need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Lock serializes mutations of the given containers for the rest of the
// current transaction. Containers are locked in lexicographic key order so
// concurrent cross-container moves cannot deadlock.
func Lock(ctx context.Context, tx DBTX, rel Relation, containers ...Container) error {
	keys := make([]string, 0, len(containers))
	for _, c := range containers {
		keys = append(keys, lockKey(rel, c))
	}
	sort.Strings(keys)
	for i, key := range keys {
		if i > 0 && key == keys[i-1] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock container %s: %w", key, err)
		}
	}
	return nil
}

func lockKey(rel Relation, c Container) string {
	parts := make([]string, 0, len(c)+1)
	parts = append(parts, rel.Table)
	for _, v := range c {
		if v == nil {
			parts = append(parts, "~")
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "/")
}

// Count returns the number of items currently in the container.
func Count(ctx context.Context, tx DBTX, rel Relation, c Container) (int, error) {
	where, args := containerWhere(rel, c, 1)
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, rel.Table, where)
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", rel.Table, err)
	}
	return count, nil
}

// Insert locks the container, opens a slot, and returns the position the
// caller must write the new row at.
func Insert(ctx context.Context, tx DBTX, rel Relation, c Container, desired *int) (int, error) {
	if err := Lock(ctx, tx, rel, c); err != nil {
		return 0, err
	}
	count, err := Count(ctx, tx, rel, c)
	if err != nil {
		return 0, err
	}
	pos, shifts, err := planInsert(desired, count)
	if err != nil {
		return 0, err
	}
	if err := applyShifts(ctx, tx, rel, c, shifts); err != nil {
		return 0, err
	}
	return pos, nil
}

// Move relocates itemID from one container to another (or within one) and
// updates the row's container columns and position. Returns the final
// position.
func Move(ctx context.Context, tx DBTX, rel Relation, itemID string, from, to Container, desired int) (int, error) {
	if err := Lock(ctx, tx, rel, from, to); err != nil {
		return 0, err
	}

	oldPos, err := itemPosition(ctx, tx, rel, itemID)
	if err != nil {
		return 0, err
	}

	if containersEqual(from, to) {
		count, err := Count(ctx, tx, rel, from)
		if err != nil {
			return 0, err
		}
		shifts, err := planSameContainerMove(oldPos, desired, count)
		if err != nil {
			return 0, err
		}
		if err := applyShifts(ctx, tx, rel, from, shifts); err != nil {
			return 0, err
		}
		return desired, writeItem(ctx, tx, rel, itemID, to, desired)
	}

	destCount, err := Count(ctx, tx, rel, to)
	if err != nil {
		return 0, err
	}
	srcShifts, dstShifts, err := planCrossMove(oldPos, desired, destCount)
	if err != nil {
		return 0, err
	}
	// Write the item first so the source shift does not touch it.
	if err := writeItem(ctx, tx, rel, itemID, to, desired); err != nil {
		return 0, err
	}
	if err := applyShiftsExcept(ctx, tx, rel, from, srcShifts, itemID); err != nil {
		return 0, err
	}
	if err := applyShiftsExcept(ctx, tx, rel, to, dstShifts, itemID); err != nil {
		return 0, err
	}
	return desired, nil
}

// Remove closes the gap after the caller has deleted (or is about to
// delete) the item that sat at oldPos.
func Remove(ctx context.Context, tx DBTX, rel Relation, c Container, oldPos int) error {
	if err := Lock(ctx, tx, rel, c); err != nil {
		return err
	}
	return applyShifts(ctx, tx, rel, c, planRemove(oldPos))
}

func itemPosition(ctx context.Context, tx DBTX, rel Relation, itemID string) (int, error) {
	var pos int
	query := fmt.Sprintf(`SELECT position FROM %s WHERE %s = $1`, rel.Table, rel.idCol())
	if err := tx.QueryRowContext(ctx, query, itemID).Scan(&pos); err != nil {
		return 0, fmt.Errorf("read position of %s: %w", itemID, err)
	}
	return pos, nil
}

func writeItem(ctx context.Context, tx DBTX, rel Relation, itemID string, c Container, pos int) error {
	sets := make([]string, 0, len(rel.ContainerCols)+1)
	args := []any{itemID}
	n := 2
	for i, col := range rel.ContainerCols {
		if c[i] == nil {
			sets = append(sets, col+" = NULL")
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, c[i])
		n++
	}
	sets = append(sets, fmt.Sprintf("position = $%d", n))
	args = append(args, pos)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $1`, rel.Table, strings.Join(sets, ", "), rel.idCol())
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write %s %s: %w", rel.Table, itemID, err)
	}
	return nil
}

func applyShifts(ctx context.Context, tx DBTX, rel Relation, c Container, shifts []shift) error {
	return applyShiftsExcept(ctx, tx, rel, c, shifts, "")
}

func applyShiftsExcept(ctx context.Context, tx DBTX, rel Relation, c Container, shifts []shift, skipID string) error {
	for _, s := range shifts {
		where, args := containerWhere(rel, c, 1)
		n := len(args) + 1
		where += fmt.Sprintf(" AND position >= $%d", n)
		args = append(args, s.min)
		n++
		if s.max >= 0 {
			where += fmt.Sprintf(" AND position <= $%d", n)
			args = append(args, s.max)
			n++
		}
		if skipID != "" {
			where += fmt.Sprintf(" AND %s <> $%d", rel.idCol(), n)
			args = append(args, skipID)
		}
		query := fmt.Sprintf(`UPDATE %s SET position = position + (%d) WHERE %s`, rel.Table, s.delta, where)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("shift %s: %w", rel.Table, err)
		}
	}
	return nil
}

// containerWhere renders the container key as a WHERE fragment starting at
// placeholder $start. nil values become IS NULL and consume no placeholder.
func containerWhere(rel Relation, c Container, start int) (string, []any) {
	clauses := make([]string, 0, len(rel.ContainerCols))
	args := make([]any, 0, len(c))
	n := start
	for i, col := range rel.ContainerCols {
		if c[i] == nil {
			clauses = append(clauses, col+" IS NULL")
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, c[i])
		n++
	}
	return strings.Join(clauses, " AND "), args
}

func containersEqual(a, b Container) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == nil || b[i] == nil {
			if a[i] != b[i] {
				return false
			}
			continue
		}
		if fmt.Sprint(a[i]) != fmt.Sprint(b[i]) {
			return false
		}
	}
	return true
}

func (r Relation) idCol() string {
	if r.IDCol == "" {
		return "id"
	}
	return r.IDCol
}
