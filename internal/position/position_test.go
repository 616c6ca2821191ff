package position

import (
	"errors"
	"sort"
	"testing"
)

// applyPlan replays a shift plan over a position slice, skipping the item
// at skip (index into items, -1 for none), mirroring what the SQL does.
func applyPlan(items []int, shifts []shift, skip int) {
	for _, s := range shifts {
		for i := range items {
			if i == skip {
				continue
			}
			if items[i] < s.min {
				continue
			}
			if s.max >= 0 && items[i] > s.max {
				continue
			}
			items[i] += s.delta
		}
	}
}

// assertDense checks that positions are exactly 0..len-1 with no gaps or
// duplicates.
func assertDense(t *testing.T, items []int) {
	t.Helper()
	sorted := append([]int(nil), items...)
	sort.Ints(sorted)
	for i, p := range sorted {
		if p != i {
			t.Fatalf("positions not dense: %v", items)
		}
	}
}

func seq(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestPlanInsert(t *testing.T) {
	for desired := 0; desired <= 4; desired++ {
		d := desired
		pos, shifts, err := planInsert(&d, 4)
		if err != nil {
			t.Fatalf("insert at %d: %v", desired, err)
		}
		if pos != desired {
			t.Fatalf("insert at %d: got position %d", desired, pos)
		}
		items := seq(4)
		applyPlan(items, shifts, -1)
		items = append(items, pos)
		assertDense(t, items)
	}
}

func TestPlanInsertAppendsByDefault(t *testing.T) {
	pos, shifts, err := planInsert(nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 3 || len(shifts) != 0 {
		t.Fatalf("got pos %d with %d shifts", pos, len(shifts))
	}
}

func TestPlanInsertRejectsUnreachable(t *testing.T) {
	for _, desired := range []int{-1, 5, 100} {
		d := desired
		if _, _, err := planInsert(&d, 4); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("insert at %d: expected ErrInvalidPosition, got %v", desired, err)
		}
	}
}

func TestPlanSameContainerMove(t *testing.T) {
	const count = 5
	for old := 0; old < count; old++ {
		for new := 0; new < count; new++ {
			shifts, err := planSameContainerMove(old, new, count)
			if err != nil {
				t.Fatalf("move %d->%d: %v", old, new, err)
			}
			items := seq(count)
			applyPlan(items, shifts, old)
			items[old] = new
			assertDense(t, items)
			if items[old] != new {
				t.Fatalf("move %d->%d: item landed at %d", old, new, items[old])
			}
		}
	}
}

func TestPlanSameContainerMoveNoop(t *testing.T) {
	shifts, err := planSameContainerMove(2, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(shifts) != 0 {
		t.Fatalf("expected empty plan, got %v", shifts)
	}
}

func TestPlanSameContainerMoveRejectsOutOfRange(t *testing.T) {
	cases := []struct{ old, new int }{
		{-1, 0}, {5, 0}, {0, -1}, {0, 5},
	}
	for _, c := range cases {
		if _, err := planSameContainerMove(c.old, c.new, 5); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("move %d->%d: expected ErrInvalidPosition, got %v", c.old, c.new, err)
		}
	}
}

func TestPlanCrossMove(t *testing.T) {
	const srcCount, dstCount = 4, 3
	for old := 0; old < srcCount; old++ {
		for desired := 0; desired <= dstCount; desired++ {
			srcShifts, dstShifts, err := planCrossMove(old, desired, dstCount)
			if err != nil {
				t.Fatalf("cross move %d->%d: %v", old, desired, err)
			}
			src := seq(srcCount)
			applyPlan(src, srcShifts, old)
			src = append(src[:old], src[old+1:]...)
			assertDense(t, src)

			dst := seq(dstCount)
			applyPlan(dst, dstShifts, -1)
			dst = append(dst, desired)
			assertDense(t, dst)
			if dst[len(dst)-1] != desired {
				t.Fatalf("cross move to %d: item landed at %d", desired, dst[len(dst)-1])
			}
		}
	}
}

func TestPlanCrossMoveRejectsUnreachable(t *testing.T) {
	if _, _, err := planCrossMove(0, 4, 3); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, _, err := planCrossMove(0, -1, 3); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, _, err := planCrossMove(-1, 0, 3); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestPlanRemoveClosesGap(t *testing.T) {
	for removed := 0; removed < 4; removed++ {
		items := seq(4)
		shifts := planRemove(removed)
		applyPlan(items, shifts, removed)
		items = append(items[:removed], items[removed+1:]...)
		assertDense(t, items)
	}
}

func TestContainerWhere(t *testing.T) {
	rel := Relation{Table: "cards", ContainerCols: []string{"board_id", "column_id"}}

	where, args := containerWhere(rel, Container{"b1", "c1"}, 1)
	if where != "board_id = $1 AND column_id = $2" {
		t.Fatalf("unexpected clause: %s", where)
	}
	if len(args) != 2 {
		t.Fatalf("unexpected args: %v", args)
	}

	where, args = containerWhere(rel, Container{"b1", nil}, 1)
	if where != "board_id = $1 AND column_id IS NULL" {
		t.Fatalf("unexpected clause: %s", where)
	}
	if len(args) != 1 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestLockKeyDistinguishesNil(t *testing.T) {
	rel := Relation{Table: "cards", ContainerCols: []string{"board_id", "column_id"}}
	a := lockKey(rel, Container{"b1", nil})
	b := lockKey(rel, Container{"b1", "c1"})
	if a == b {
		t.Fatalf("lock keys collide: %s", a)
	}
}

func TestContainersEqual(t *testing.T) {
	cases := []struct {
		a, b Container
		want bool
	}{
		{Container{"b1", "c1"}, Container{"b1", "c1"}, true},
		{Container{"b1", "c1"}, Container{"b1", "c2"}, false},
		{Container{"b1", nil}, Container{"b1", nil}, true},
		{Container{"b1", nil}, Container{"b1", "c1"}, false},
		{Container{"b1"}, Container{"b1", "c1"}, false},
	}
	for _, c := range cases {
		if got := containersEqual(c.a, c.b); got != c.want {
			t.Fatalf("containersEqual(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
