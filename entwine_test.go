package entwine_test

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	entwine "github.com/ProjectBarks/entwine"
	"github.com/ProjectBarks/entwine/cache"
	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/model"
)

// memSource feeds points from memory, standing in for a decoded file.
type memSource struct {
	path   string
	points []model.Point
	next   int
}

func (s *memSource) Path() string          { return s.path }
func (s *memSource) Bounds() *model.Bounds { return nil }

func (s *memSource) Next() (model.Point, []byte, error) {
	if s.next >= len(s.points) {
		return model.Point{}, nil, io.EOF
	}
	p := s.points[s.next]
	s.next++

	payload := make([]byte, 24)
	binary.LittleEndian.PutUint64(payload[0:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(payload[8:], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(payload[16:], math.Float64bits(p.Z))
	return p, payload, nil
}

func testBounds() model.Bounds {
	return model.Bounds{
		Min: model.Point{X: -2, Y: -2, Z: -2},
		Max: model.Point{X: 2, Y: 2, Z: 2},
	}
}

func testOptions() []entwine.Option {
	return []entwine.Option{
		entwine.WithBounds(testBounds()),
		entwine.WithStructure(model.Structure{BaseDepth: 2, ColdDepth: 5, ChunkDepthSpan: 1}),
		entwine.WithWorkers(2),
	}
}

func buildTree(t *testing.T, ep endpoint.Endpoint, sources ...entwine.PointSource) *entwine.Builder {
	t.Helper()
	ctx := context.Background()

	b, err := entwine.NewBuilder(ctx, ep, testOptions()...)
	require.NoError(t, err)
	require.NoError(t, b.Build(ctx, sources))
	require.NoError(t, b.Save(ctx))
	return b
}

func decodePoints(t *testing.T, data []byte) []model.Point {
	t.Helper()
	require.Zero(t, len(data)%24)
	out := make([]model.Point, 0, len(data)/24)
	for off := 0; off < len(data); off += 24 {
		out = append(out, model.Point{
			X: math.Float64frombits(binary.LittleEndian.Uint64(data[off:])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(data[off+8:])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(data[off+16:])),
		})
	}
	return out
}

func sortPoints(pts []model.Point) {
	sort.Slice(pts, func(i, j int) bool { return model.LtChained(pts[i], pts[j]) })
}

func TestBuildAndQuery_StackedAndBumped(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	b := buildTree(t, ep, &memSource{path: "a.laz", points: []model.Point{
		{}, {X: 1, Y: 1, Z: 1}, {},
	}})
	require.Equal(t, uint64(3), b.Registry().NumInserted())

	r, err := entwine.NewReader(ctx, ep, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	// The spatial query selects the positive octant only.
	q, err := r.Query(entwine.QueryParams{
		Bounds:     &model.Bounds{Min: model.Point{}, Max: model.Point{X: 2, Y: 2, Z: 2}},
		DepthBegin: 0,
		DepthEnd:   3,
	})
	require.NoError(t, err)

	data, err := q.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), q.NumPoints())

	got := decodePoints(t, data)
	sortPoints(got)
	require.Equal(t, []model.Point{{}, {}, {X: 1, Y: 1, Z: 1}}, got)
}

func TestQuery_InvalidDepthRange(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()
	buildTree(t, ep, &memSource{path: "a.laz", points: []model.Point{{}}})

	r, err := entwine.NewReader(ctx, ep, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	_, err = r.Query(entwine.QueryParams{DepthBegin: 2, DepthEnd: 2})
	require.ErrorIs(t, err, entwine.ErrInvalidQuery)

	_, err = r.Query(entwine.QueryParams{DepthBegin: 3, DepthEnd: 1})
	require.ErrorIs(t, err, entwine.ErrInvalidQuery)
}

func TestQuery_UnknownDimension(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()
	buildTree(t, ep, &memSource{path: "a.laz", points: []model.Point{{}}})

	r, err := entwine.NewReader(ctx, ep, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	_, err = r.Query(entwine.QueryParams{
		DepthBegin: 0,
		DepthEnd:   5,
		Schema:     model.Schema{Dims: []model.Dim{{Name: "Intensity", Type: model.U16}}},
	})
	require.ErrorIs(t, err, entwine.ErrInvalidSchema)
}

func TestRoundTrip_EverythingQuery(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	rng := rand.New(rand.NewSource(23))
	points := make([]model.Point, 300)
	for i := range points {
		points[i] = model.Point{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*4 - 2,
			Z: rng.Float64()*4 - 2,
		}
	}

	b := buildTree(t, ep, &memSource{path: "a.laz", points: points})
	inserted := b.Registry().NumInserted()
	require.Equal(t, uint64(len(points)), inserted+b.Registry().NumOverflows())

	r, err := entwine.NewReader(ctx, ep, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	q, err := r.Query(entwine.QueryParams{DepthBegin: 0, DepthEnd: 5})
	require.NoError(t, err)
	data, err := q.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, inserted, q.NumPoints())

	// Output equals input minus overflow, as multisets: every
	// returned point came from the input, and the count matches what
	// the build placed.
	got := decodePoints(t, data)
	multiset := make(map[model.Point]int, len(points))
	for _, p := range points {
		multiset[p]++
	}
	for _, p := range got {
		multiset[p]--
		require.GreaterOrEqual(t, multiset[p], 0, "point %v returned too often", p)
	}
	require.Len(t, got, int(inserted))
}

func TestQuery_Monotonicity(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	rng := rand.New(rand.NewSource(31))
	points := make([]model.Point, 200)
	for i := range points {
		points[i] = model.Point{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*4 - 2,
			Z: rng.Float64()*4 - 2,
		}
	}
	buildTree(t, ep, &memSource{path: "a.laz", points: points})

	r, err := entwine.NewReader(ctx, ep, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	count := func(b *model.Bounds, depthEnd uint64) uint64 {
		q, err := r.Query(entwine.QueryParams{Bounds: b, DepthBegin: 0, DepthEnd: depthEnd})
		require.NoError(t, err)
		n, err := q.Count(ctx)
		require.NoError(t, err)
		return n
	}

	small := &model.Bounds{Min: model.Point{X: -1, Y: -1, Z: -1}, Max: model.Point{X: 1, Y: 1, Z: 1}}
	big := &model.Bounds{Min: model.Point{X: -2, Y: -2, Z: -2}, Max: model.Point{X: 2, Y: 2, Z: 2}}

	// Expanding bounds never shrinks the result set.
	require.LessOrEqual(t, count(small, 5), count(big, 5))
	// Widening the depth band never shrinks it either.
	require.LessOrEqual(t, count(big, 2), count(big, 3))
	require.LessOrEqual(t, count(big, 3), count(big, 5))
}

func TestQuery_NativeDelta(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()
	buildTree(t, ep, &memSource{path: "a.laz", points: []model.Point{{X: 1, Y: -1, Z: 0.5}}})

	r, err := entwine.NewReader(ctx, ep, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	scale := model.Point{X: 0.5, Y: 0.5, Z: 0.5}
	offset := model.Point{X: 1, Y: 1, Z: 1}
	q, err := r.Query(entwine.QueryParams{
		DepthBegin: 0,
		DepthEnd:   5,
		Scale:      &scale,
		Offset:     &offset,
	})
	require.NoError(t, err)

	data, err := q.Run(ctx)
	require.NoError(t, err)
	got := decodePoints(t, data)
	require.Len(t, got, 1)
	// out = (native - offset) / scale
	require.Equal(t, model.Point{X: 0, Y: -4, Z: -1}, got[0])
}

func TestQuery_SharedCacheWithTightBudget(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	rng := rand.New(rand.NewSource(47))
	points := make([]model.Point, 400)
	for i := range points {
		points[i] = model.Point{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*4 - 2,
			Z: rng.Float64()*4 - 2,
		}
	}
	b := buildTree(t, ep, &memSource{path: "a.laz", points: points})
	inserted := b.Registry().NumInserted()

	// A budget far below the tree's resident size forces eviction
	// between chunks; queries still complete, and two readers can
	// share the bounded instance.
	meta, err := entwine.LoadMetadata(ctx, ep)
	require.NoError(t, err)
	dataIO, err := meta.DataIO()
	require.NoError(t, err)
	store := chunk.NewStore(ep, dataIO, meta.Schema.PointSize(), meta.PointOf())
	shared := cache.New(store, 2048)

	r1, err := entwine.NewReader(ctx, ep, shared)
	require.NoError(t, err)
	defer r1.Close(ctx)
	r2, err := entwine.NewReader(ctx, ep, shared)
	require.NoError(t, err)
	defer r2.Close(ctx)

	var total uint64
	for _, r := range []*entwine.Reader{r1, r2} {
		q, err := r.Query(entwine.QueryParams{DepthBegin: 0, DepthEnd: 5})
		require.NoError(t, err)
		n, err := q.Count(ctx)
		require.NoError(t, err)
		require.NotZero(t, n)
		total = n
	}
	require.Equal(t, inserted, total)
}
