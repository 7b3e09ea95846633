package tree

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ProjectBarks/entwine/cache"
	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/internal/pool"
	"github.com/ProjectBarks/entwine/model"
)

var testSchema = model.DefaultSchema()

func testStructure() model.Structure {
	// maxDepth 4
	return model.Structure{BaseDepth: 2, ColdDepth: 5, ChunkDepthSpan: 1}
}

func testBounds() model.Bounds {
	return model.Bounds{
		Min: model.Point{X: -2, Y: -2, Z: -2},
		Max: model.Point{X: 2, Y: 2, Z: 2},
	}
}

func pointOf(data []byte) model.Point {
	ref := model.PointRef{Schema: &testSchema, Data: data}
	return model.Point{X: ref.FieldAs(0), Y: ref.FieldAs(1), Z: ref.FieldAs(2)}
}

func newTestRegistry(t *testing.T, ep endpoint.Endpoint) (*Registry, *pool.PointPool, *chunk.Store, *cache.Cache) {
	t.Helper()
	p := pool.New(testSchema.PointSize(), 64)
	store := chunk.NewStore(ep, chunk.Laz, testSchema.PointSize(), pointOf)
	c := cache.New(store, cache.DefaultBudget)
	reg, err := NewRegistry(testBounds(), testStructure(), p, c)
	require.NoError(t, err)
	return reg, p, store, c
}

func acquireCell(p *pool.PointPool, pt model.Point) *model.Cell {
	cell := p.Acquire()
	cell.Point = pt
	cell.Data = cell.Data[:cap(cell.Data)]
	testSchema.SetFieldAs(cell.Data, 0, pt.X)
	testSchema.SetFieldAs(cell.Data, 1, pt.Y)
	testSchema.SetFieldAs(cell.Data, 2, pt.Z)
	return cell
}

func addPoint(t *testing.T, reg *Registry, p *pool.PointPool, clipper *cache.Clipper, pt model.Point) Result {
	t.Helper()
	climber := model.NewClimber(reg.Bounds(), reg.Structure())
	res, err := reg.AddPoint(context.Background(), acquireCell(p, pt), climber, clipper)
	require.NoError(t, err)
	return res
}

func TestRegistry_StackAndBump(t *testing.T) {
	ep := endpoint.NewMemory()
	reg, p, _, c := newTestRegistry(t, ep)
	clipper := c.NewClipper()
	defer clipper.Close(context.Background())

	require.Equal(t, Inserted, addPoint(t, reg, p, clipper, model.Point{}))
	require.Equal(t, Inserted, addPoint(t, reg, p, clipper, model.Point{X: 1, Y: 1, Z: 1}))
	require.Equal(t, Inserted, addPoint(t, reg, p, clipper, model.Point{}))

	// The root tube holds (0,0,0) with a stack of two.
	var rootStack uint64
	reg.Slice(0).Each(func(x, y uint64, tube *Tube) {
		tube.Each(func(tick uint64, cell *model.Cell) {
			require.Equal(t, model.Point{}, cell.Point)
			rootStack = cell.StackSize()
		})
	})
	require.Equal(t, uint64(2), rootStack)

	// (1,1,1) bumped into the (+,+,+) octant at depth 1.
	var bumped []model.Point
	reg.Slice(1).Each(func(x, y uint64, tube *Tube) {
		require.Equal(t, uint64(1), x)
		require.Equal(t, uint64(1), y)
		tube.Each(func(tick uint64, cell *model.Cell) {
			require.Equal(t, uint64(1), tick)
			bumped = append(bumped, cell.Point)
		})
	})
	require.Equal(t, []model.Point{{X: 1, Y: 1, Z: 1}}, bumped)

	require.Equal(t, uint64(3), reg.NumInserted())
}

func TestRegistry_Conservation(t *testing.T) {
	ep := endpoint.NewMemory()
	reg, p, _, c := newTestRegistry(t, ep)
	clipper := c.NewClipper()
	defer clipper.Close(context.Background())

	rng := rand.New(rand.NewSource(11))
	const total = 500
	for i := 0; i < total; i++ {
		// A tail of these falls outside the root bounds.
		pt := model.Point{
			X: rng.Float64()*6 - 3,
			Y: rng.Float64()*6 - 3,
			Z: rng.Float64()*6 - 3,
		}
		addPoint(t, reg, p, clipper, pt)
	}

	require.Equal(t, uint64(total),
		reg.NumInserted()+reg.NumOutOfBounds()+reg.NumOverflows())
}

func TestRegistry_OverflowAtMaxDepth(t *testing.T) {
	ep := endpoint.NewMemory()
	// A tiny tree: only depth 0 exists, so the second distinct point
	// in a tick overflows immediately.
	p := pool.New(testSchema.PointSize(), 64)
	store := chunk.NewStore(ep, chunk.Laz, testSchema.PointSize(), pointOf)
	c := cache.New(store, cache.DefaultBudget)
	reg, err := NewRegistry(testBounds(), model.Structure{BaseDepth: 0, ColdDepth: 1, ChunkDepthSpan: 1}, p, c)
	require.NoError(t, err)

	clipper := c.NewClipper()
	defer clipper.Close(context.Background())

	require.Equal(t, Inserted, addPoint(t, reg, p, clipper, model.Point{X: 0.25}))
	require.Equal(t, Overflow, addPoint(t, reg, p, clipper, model.Point{X: 1.5}))
	require.Equal(t, uint64(1), reg.NumOverflows())
}

func buildAndSave(t *testing.T, points []model.Point) *endpoint.Memory {
	t.Helper()
	ep := endpoint.NewMemory()
	reg, p, store, c := newTestRegistry(t, ep)
	clipper := c.NewClipper()

	for _, pt := range points {
		addPoint(t, reg, p, clipper, pt)
	}
	require.NoError(t, clipper.Close(context.Background()))

	counts, err := reg.Save(context.Background(), store)
	require.NoError(t, err)

	var sum uint64
	for _, n := range counts {
		sum += n
	}
	require.Equal(t, reg.NumInserted(), sum)
	return ep
}

// Any permutation of the same input produces bit-identical chunks.
func TestRegistry_DeterministicBuild(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	points := make([]model.Point, 200)
	for i := range points {
		points[i] = model.Point{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*4 - 2,
			Z: rng.Float64()*4 - 2,
		}
	}

	base := buildAndSave(t, points)

	for trial := 0; trial < 3; trial++ {
		shuffled := make([]model.Point, len(points))
		copy(shuffled, points)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		ep := buildAndSave(t, shuffled)

		require.ElementsMatch(t, base.Paths(), ep.Paths())
		for _, path := range base.Paths() {
			want, err := base.Get(context.Background(), path)
			require.NoError(t, err)
			got, err := ep.Get(context.Background(), path)
			require.NoError(t, err)
			require.Equal(t, want, got, "chunk %s differs", path)
		}
	}
}

// Two writers inserting disjoint sets concurrently match a sequential
// build of the union.
func TestRegistry_ConcurrentWritersMatchSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	mk := func(n int) []model.Point {
		out := make([]model.Point, n)
		for i := range out {
			out[i] = model.Point{
				X: rng.Float64()*4 - 2,
				Y: rng.Float64()*4 - 2,
				Z: rng.Float64()*4 - 2,
			}
		}
		return out
	}
	w1, w2 := mk(150), mk(150)

	sequential := buildAndSave(t, append(append([]model.Point{}, w1...), w2...))

	ep := endpoint.NewMemory()
	reg, p, store, c := newTestRegistry(t, ep)

	done := make(chan struct{})
	for _, points := range [][]model.Point{w1, w2} {
		go func() {
			defer func() { done <- struct{}{} }()
			clipper := c.NewClipper()
			defer clipper.Close(context.Background())
			climber := model.NewClimber(reg.Bounds(), reg.Structure())
			for _, pt := range points {
				climber.Reset()
				_, err := reg.AddPoint(context.Background(), acquireCell(p, pt), climber, clipper)
				require.NoError(t, err)
			}
		}()
	}
	<-done
	<-done

	_, err := reg.Save(context.Background(), store)
	require.NoError(t, err)

	require.ElementsMatch(t, sequential.Paths(), ep.Paths())
	for _, path := range sequential.Paths() {
		want, _ := sequential.Get(context.Background(), path)
		got, _ := ep.Get(context.Background(), path)
		require.Equal(t, want, got, "chunk %s differs", path)
	}
}

// Continuing a build against flushed chunks folds the old points back
// in.
func TestRegistry_AwakenMergesFlushedChunks(t *testing.T) {
	ep := endpoint.NewMemory()

	first := buildAndSaveInto(t, ep, []model.Point{{X: 1, Y: 1, Z: 1}})
	require.Equal(t, uint64(1), first)

	// Second run against the same endpoint with a new registry.
	reg, p, store, _ := newTestRegistry(t, ep)
	require.NoError(t, reg.Load(context.Background()))

	clipper := reg.NewClipper()
	for _, pt := range []model.Point{
		{X: 1.1, Y: 1.1, Z: 1.1},
		{X: 1.2, Y: 1.2, Z: 1.2},
		{X: 0.9, Y: 0.9, Z: 0.9},
		{X: 1.05, Y: 1.05, Z: 1.05},
	} {
		addPoint(t, reg, p, clipper, pt)
	}
	require.NoError(t, clipper.Close(context.Background()))

	counts, err := reg.Save(context.Background(), store)
	require.NoError(t, err)

	var sum uint64
	for _, n := range counts {
		sum += n
	}
	require.Equal(t, reg.NumInserted(), sum)
	// The old point plus the four new ones all land, minus overflow.
	require.Equal(t, uint64(5), reg.NumInserted()+reg.NumOverflows())
}

func buildAndSaveInto(t *testing.T, ep *endpoint.Memory, points []model.Point) uint64 {
	t.Helper()
	reg, p, store, c := newTestRegistry(t, ep)
	clipper := c.NewClipper()
	for _, pt := range points {
		addPoint(t, reg, p, clipper, pt)
	}
	require.NoError(t, clipper.Close(context.Background()))
	_, err := reg.Save(context.Background(), store)
	require.NoError(t, err)
	return reg.NumInserted()
}
