package tree

import (
	"sync"

	"github.com/ProjectBarks/entwine/model"
)

type xy struct {
	x uint64
	y uint64
}

// Slice owns the tubes of one depth level, lazily materialized. The
// tube index is read-mostly: lookups take the read lock and creation
// double-checks under the write lock.
type Slice struct {
	depth uint64

	mu    sync.RWMutex
	tubes map[xy]*Tube

	// chunk reference bookkeeping for this depth, keyed by chunk key,
	// counting clippers that pinned through this slice.
	refMu sync.Mutex
	refs  map[model.ChunkKey]uint64
}

// NewSlice creates the slice for one depth.
func NewSlice(depth uint64) *Slice {
	return &Slice{
		depth: depth,
		tubes: make(map[xy]*Tube),
		refs:  make(map[model.ChunkKey]uint64),
	}
}

// Depth is the level this slice serves.
func (s *Slice) Depth() uint64 { return s.depth }

// Insert routes the cell to its tube and applies the collision policy.
func (s *Slice) Insert(pk model.Key, cell *model.Cell) (Insertion, *model.Cell) {
	return s.tube(pk.Position).Insert(pk, cell)
}

func (s *Slice) tube(pos model.Xyz) *Tube {
	k := xy{x: pos.X, y: pos.Y}

	s.mu.RLock()
	t, ok := s.tubes[k]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.tubes[k]; ok {
		return t
	}
	t = &Tube{}
	s.tubes[k] = t
	return t
}

// Ref records that a clipper pinned the chunk at key through this
// slice.
func (s *Slice) Ref(key model.ChunkKey) {
	s.refMu.Lock()
	s.refs[key]++
	s.refMu.Unlock()
}

// Clip records that the clipper identified by origin released the
// chunk at key. When the reference count reaches zero the
// chunk is eligible for eviction; the cache enforces that.
func (s *Slice) Clip(key model.ChunkKey, origin uint64) {
	s.refMu.Lock()
	if s.refs[key] > 0 {
		s.refs[key]--
		if s.refs[key] == 0 {
			delete(s.refs, key)
		}
	}
	s.refMu.Unlock()
}

// Refs returns the live pin bookkeeping count for key.
func (s *Slice) Refs(key model.ChunkKey) uint64 {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refs[key]
}

// Each visits every tube with its (x, y) position. Callers run it
// after writers quiesce.
func (s *Slice) Each(fn func(x, y uint64, t *Tube)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, t := range s.tubes {
		fn(k.x, k.y, t)
	}
}

// Empty reports whether no tube in the slice holds cells.
func (s *Slice) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tubes {
		if !t.Empty() {
			return false
		}
	}
	return true
}
