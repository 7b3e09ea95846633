// Package tree holds the write-side index: per-depth slices of tubes
// that mediate concurrent point insertion, and the registry that
// drives cells down the octree until they resolve.
package tree

import (
	"sync"

	"github.com/ProjectBarks/entwine/model"
)

// Insertion is the outcome of one tube insertion attempt.
//
// If Done, the cell has been consumed and may no longer be accessed.
// Delta is pointsInserted - pointsRemoved. If not Done, the returned
// cell should be reinserted one depth deeper - and it may have been
// swapped with another, so cell values must not be cached across calls
// to Insert.
type Insertion struct {
	Done  bool
	Delta int
}

// Tube is the ordered column of cells at one (depth, x, y), indexed by
// integer z tick. Exactly one cell resides per tick once insertion
// resolves; equal coordinates stack. Guarded by its own mutex, so
// contention between writers is per-column.
type Tube struct {
	mu    sync.Mutex
	cells map[uint64]*model.Cell
}

// Insert applies the collision policy for the tick at pk.Position.Z.
//
// An empty tick consumes the cell. A resident with equal coordinates
// stacks it. Otherwise the cell closer to the tube center keeps the
// tick - with LtChained breaking exact ties - and the loser comes back
// to the caller for reinsertion one depth deeper.
func (t *Tube) Insert(pk model.Key, cell *model.Cell) (Insertion, *model.Cell) {
	z := pk.Position.Z

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cells == nil {
		t.cells = make(map[uint64]*model.Cell)
	}

	curr, ok := t.cells[z]
	if !ok {
		t.cells[z] = cell
		return Insertion{Done: true, Delta: 1}, nil
	}

	if cell.Point.Equals(curr.Point) {
		curr.Push(cell)
		return Insertion{Done: true, Delta: 1}, nil
	}

	mid := pk.Bounds.Mid()
	a := cell.Point.SqDist3d(mid)
	b := curr.Point.SqDist3d(mid)
	if a < b || (a == b && model.LtChained(cell.Point, curr.Point)) {
		t.cells[z] = cell
		return Insertion{}, curr
	}
	return Insertion{}, cell
}

// Empty reports whether the tube holds no cells.
func (t *Tube) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells) == 0
}

// Each visits every resident cell. Not safe against concurrent
// insertion; callers run it after writers quiesce.
func (t *Tube) Each(fn func(tick uint64, cell *model.Cell)) {
	for tick, cell := range t.cells {
		fn(tick, cell)
	}
}
