package tree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ProjectBarks/entwine/cache"
	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/internal/pool"
	"github.com/ProjectBarks/entwine/model"
)

// Result classifies the fate of one inserted point.
type Result uint8

const (
	// Inserted means the cell resolved into a tube.
	Inserted Result = iota
	// OutOfBounds means the point fell outside the root bounds.
	OutOfBounds
	// Overflow means the cell could not be placed by the maximum
	// depth and was dropped.
	Overflow
)

// Registry is the depth-indexed vector of slices: the entry point for
// point insertion and for save.
type Registry struct {
	bounds    model.Bounds
	structure model.Structure
	pool      *pool.PointPool
	cache     *cache.Cache

	slices []*Slice

	mergedMu sync.Mutex
	merged   map[model.ChunkKey]bool

	inserts     atomic.Uint64
	outOfBounds atomic.Uint64
	overflows   atomic.Uint64
}

// NewRegistry creates the write-side tree. bounds must be cubic. The
// cache mediates pinning and awakening of already-flushed chunks when
// a build continues; it may be nil for a build known to start from
// nothing.
func NewRegistry(bounds model.Bounds, s model.Structure, p *pool.PointPool, c *cache.Cache) (*Registry, error) {
	if !bounds.IsCubic() {
		return nil, fmt.Errorf("root bounds must be cubic")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	slices := make([]*Slice, s.ColdDepth)
	for d := range slices {
		slices[d] = NewSlice(uint64(d))
	}
	return &Registry{
		bounds:    bounds,
		structure: s,
		pool:      p,
		cache:     c,
		slices:    slices,
		merged:    make(map[model.ChunkKey]bool),
	}, nil
}

// Bounds is the root cubic bounds.
func (r *Registry) Bounds() model.Bounds { return r.bounds }

// Structure is the tree's partitioning.
func (r *Registry) Structure() model.Structure { return r.structure }

// NumInserted is the count of points that resolved into tubes.
func (r *Registry) NumInserted() uint64 { return r.inserts.Load() }

// NumOutOfBounds is the count of points outside the root bounds.
func (r *Registry) NumOutOfBounds() uint64 { return r.outOfBounds.Load() }

// NumOverflows is the count of points dropped at the maximum depth.
func (r *Registry) NumOverflows() uint64 { return r.overflows.Load() }

// Slice returns the slice at depth d.
func (r *Registry) Slice(d uint64) *Slice { return r.slices[d] }

// Clip forwards a clipper release to the bookkeeping of the slice at
// the chunk's root depth.
func (r *Registry) Clip(key model.ChunkKey, origin uint64) {
	r.slices[key.Depth].Clip(key, origin)
}

// NewClipper creates a clipper whose releases flow back through Clip.
func (r *Registry) NewClipper() *cache.Clipper {
	cl := r.cache.NewClipper()
	cl.OnClip = func(key model.ChunkKey) {
		r.Clip(key, uint64(cl.ID()))
	}
	return cl
}

// Load folds the always-resident base chunk of an existing tree back
// into the slices, so a continued build merges with what was flushed.
func (r *Registry) Load(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	base := r.structure.BaseChunk()

	r.mergedMu.Lock()
	if r.merged[base] {
		r.mergedMu.Unlock()
		return nil
	}
	r.merged[base] = true
	r.mergedMu.Unlock()

	clipper := r.NewClipper()
	defer clipper.Close(ctx)

	contents, err := clipper.Acquire(ctx, base)
	if err != nil {
		return err
	}
	if contents.NumPoints() == 0 {
		return nil
	}
	return r.awaken(ctx, contents, clipper)
}

// AddPoint drives the cell down the tree until a tube consumes it.
// The climber must be at the root; the clipper pins each cold chunk
// the descent touches. On OutOfBounds or Overflow the cell returns to
// the pool and the matching counter increments.
func (r *Registry) AddPoint(ctx context.Context, cell *model.Cell, climber *model.Climber, clipper *cache.Clipper) (Result, error) {
	if !r.bounds.Contains(cell.Point) {
		r.outOfBounds.Add(1)
		r.pool.Release(cell)
		return OutOfBounds, nil
	}

	maxDepth := r.structure.MaxDepth()
	for {
		d := climber.Depth()
		slice := r.slices[d]

		if r.structure.IsCold(d) && r.cache != nil && clipper != nil {
			if err := r.pin(ctx, climber.ChunkKey(), clipper); err != nil {
				r.pool.Release(cell)
				return 0, err
			}
		}

		ins, rem := slice.Insert(climber.Key(), cell)
		if ins.Done {
			r.inserts.Add(1)
			return Inserted, nil
		}

		cell = rem
		if d == maxDepth {
			r.overflows.Add(1)
			r.pool.Release(cell)
			return Overflow, nil
		}
		climber.Step(cell.Point)
	}
}

// pin acquires the chunk for this clipper if it does not hold it yet,
// and on the chunk's first appearance this session folds its
// already-flushed cells back into the tree so a continued build merges
// rather than clobbers.
func (r *Registry) pin(ctx context.Context, key model.ChunkKey, clipper *cache.Clipper) error {
	if clipper.Holds(key) {
		return nil
	}
	contents, err := clipper.Acquire(ctx, key)
	if err != nil {
		return err
	}
	r.slices[key.Depth].Ref(key)

	r.mergedMu.Lock()
	if r.merged[key] {
		r.mergedMu.Unlock()
		return nil
	}
	r.merged[key] = true
	r.mergedMu.Unlock()

	if contents.NumPoints() == 0 {
		return nil
	}
	return r.awaken(ctx, contents, clipper)
}

// awaken reinserts a flushed chunk's points. The collision policy is
// deterministic, so they land where they did before, and new points
// contend with them as if all were inserted in one run.
func (r *Registry) awaken(ctx context.Context, contents *chunk.Contents, clipper *cache.Clipper) error {
	var err error
	contents.Each(func(ck chunk.CellKey, cell *model.Cell) {
		if err != nil {
			return
		}
		for cur := cell; cur != nil; cur = cur.Next {
			pc := r.pool.Acquire()
			pc.Point = cur.Point
			pc.Data = append(pc.Data[:0], cur.Data...)

			climber := model.NewClimber(r.bounds, r.structure)
			if _, aerr := r.AddPoint(ctx, pc, climber, clipper); aerr != nil {
				err = aerr
				return
			}
		}
	})
	return err
}

// Save walks every slice, groups cells into chunks, and flushes each
// populated chunk through the store. It returns the per-chunk point
// counts for the hierarchy index. Writers must have quiesced.
func (r *Registry) Save(ctx context.Context, store *chunk.Store) (map[model.ChunkKey]uint64, error) {
	chunks := make(map[model.ChunkKey]*chunk.Contents)

	for d, slice := range r.slices {
		depth := uint64(d)
		slice.Each(func(x, y uint64, t *Tube) {
			t.Each(func(tick uint64, cell *model.Cell) {
				pos := model.Xyz{X: x, Y: y, Z: tick}
				ck := r.structure.ChunkKeyAt(model.Key{Position: pos, Depth: depth})
				contents, ok := chunks[ck]
				if !ok {
					contents = chunk.NewContents(ck, r.pool.PointSize())
					chunks[ck] = contents
				}
				contents.Put(chunk.CellKey{Depth: depth, Position: pos}, cell)
			})
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, contents := range chunks {
		g.Go(func() error {
			return store.Flush(gctx, contents)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[model.ChunkKey]uint64, len(chunks))
	for key, contents := range chunks {
		counts[key] = contents.NumPoints()
	}
	return counts, nil
}
