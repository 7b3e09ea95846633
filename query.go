package entwine

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/model"
)

// Filter is an optional predicate over point attributes.
type Filter func(model.PointRef) bool

// QueryParams selects points by region, depth band, and predicate, and
// shapes the output.
type QueryParams struct {
	// Bounds restricts the query region in stored coordinates. Nil
	// means everything. A planar box is widened to full vertical
	// extent.
	Bounds *model.Bounds

	// DepthBegin and DepthEnd bound the half-open depth band.
	// DepthBegin must be less than DepthEnd.
	DepthBegin uint64
	DepthEnd   uint64

	// Schema shapes the output records. Empty means the stored schema.
	Schema model.Schema

	// Scale and Offset request native output coordinates under the
	// given delta, composed with the tree's built-in delta.
	Scale  *model.Point
	Offset *model.Point

	// Filter drops points it rejects.
	Filter Filter
}

// Query enumerates overlapping chunks, acquires them through the
// cache, and streams matching points through dimension projection.
type Query struct {
	r      *Reader
	params QueryParams

	bounds model.Bounds
	schema model.Schema
	plan   []projDim

	cancelled atomic.Bool
	numPoints uint64
}

// projDim is one precomputed output dimension: projection is
// allocation-free per point.
type projDim struct {
	src  int
	dst  int
	axis int // 0,1,2 for X,Y,Z; -1 for attribute pass-through
}

// Query plans a query. Parameter validation is synchronous: a
// malformed depth band or an unknown output dimension fails here with
// no I/O issued.
func (r *Reader) Query(params QueryParams) (*Query, error) {
	if params.DepthBegin >= params.DepthEnd {
		return nil, fmt.Errorf("%w: depths [%d, %d)", ErrInvalidQuery, params.DepthBegin, params.DepthEnd)
	}

	bounds := model.Everything()
	if params.Bounds != nil {
		bounds = params.Bounds.Ensure3d()
	}

	schema := params.Schema
	if schema.Empty() {
		schema = r.meta.Schema
	}

	q := &Query{r: r, params: params, bounds: bounds, schema: schema}

	stored := r.meta.Schema
	for i, dim := range schema.Dims {
		pd := projDim{dst: i, axis: -1}
		switch dim.Name {
		case "X":
			pd.axis = 0
		case "Y":
			pd.axis = 1
		case "Z":
			pd.axis = 2
		}
		src, ok := stored.Find(dim.Name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown dimension %q", ErrInvalidSchema, dim.Name)
		}
		pd.src = src
		q.plan = append(q.plan, pd)
	}
	return q, nil
}

// NumPoints reports how many points the last run matched.
func (q *Query) NumPoints() uint64 { return q.numPoints }

// Cancel stops the query between chunks.
func (q *Query) Cancel() { q.cancelled.Store(true) }

// Overlaps enumerates the chunks the query must visit, in id order.
func (q *Query) Overlaps(ctx context.Context) ([]model.ChunkKey, error) {
	s := q.r.meta.Structure
	root := model.Key{Bounds: q.r.meta.BoundsCubic}

	var keys []model.ChunkKey
	var walk func(k model.Key) error
	walk = func(k model.Key) error {
		if k.Depth >= q.params.DepthEnd || k.Depth >= s.ColdDepth {
			return nil
		}
		if !k.Bounds.Overlaps(q.bounds) {
			return nil
		}

		if k.Depth == 0 || s.IsChunkRoot(k.Depth) {
			ck := s.ChunkKeyAt(k)
			if q.r.hier.Empty() {
				// Tree without a hierarchy index: probe existence.
				exists, err := q.r.Exists(ctx, ck)
				if err != nil {
					return err
				}
				if !exists {
					return nil
				}
			} else {
				n, ok, err := q.r.hier.Get(ctx, ck)
				if err != nil {
					return err
				}
				if !ok || n == 0 {
					// Missing node: definitely empty, stop descending.
					return nil
				}
			}

			coverEnd := s.BaseDepth
			if ck.Depth != 0 {
				coverEnd = ck.Depth + s.ChunkDepthSpan
			}
			if q.params.DepthBegin < coverEnd && q.params.DepthEnd > ck.Depth {
				keys = append(keys, ck)
			}
		}

		for dir := model.Dir(0); dir < 8; dir++ {
			if err := walk(k.Step(dir)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].ID() < keys[j].ID() })

	// The walk records a chunk key only at its root node; drop any
	// repeated key all the same.
	out := keys[:0]
	var last model.ChunkKey
	for i, k := range keys {
		if i == 0 || k != last {
			out = append(out, k)
		}
		last = k
	}
	return out, nil
}

// walkPoints streams every matching stacked payload in deterministic
// order: chunks by id, cells in canonical order, stacks in residence
// order. onChunk runs after each chunk's points.
func (q *Query) walkPoints(ctx context.Context, onPoint func(key model.ChunkKey, payload []byte) error, onChunk func(key model.ChunkKey) error) error {
	overlaps, err := q.Overlaps(ctx)
	if err != nil {
		return err
	}

	clipper := q.r.cache.NewClipper()
	defer clipper.Close(context.WithoutCancel(ctx))

	for _, key := range overlaps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.cancelled.Load() {
			return context.Canceled
		}

		contents, err := clipper.Acquire(ctx, key)
		if err != nil {
			return err
		}

		var visitErr error
		contents.Each(func(ck chunk.CellKey, cell *model.Cell) {
			if visitErr != nil {
				return
			}
			if ck.Depth < q.params.DepthBegin || ck.Depth >= q.params.DepthEnd {
				return
			}
			for cur := cell; cur != nil; cur = cur.Next {
				if !q.bounds.Contains(cur.Point) {
					continue
				}
				if q.params.Filter != nil {
					ref := model.PointRef{Schema: &q.r.meta.Schema, Data: cur.Data}
					if !q.params.Filter(ref) {
						continue
					}
				}
				if err := onPoint(key, cur.Data); err != nil {
					visitErr = err
					return
				}
			}
		})
		if visitErr != nil {
			return visitErr
		}
		if onChunk != nil {
			if err := onChunk(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count runs the query without materializing output.
func (q *Query) Count(ctx context.Context) (uint64, error) {
	q.numPoints = 0
	err := q.walkPoints(ctx, func(model.ChunkKey, []byte) error {
		q.numPoints++
		return nil
	}, nil)
	if err != nil {
		return 0, err
	}
	return q.numPoints, nil
}

// Run executes the query and projects every matching point into the
// requested schema.
func (q *Query) Run(ctx context.Context) ([]byte, error) {
	q.numPoints = 0
	outSize := q.schema.PointSize()
	var data []byte
	record := make([]byte, outSize)

	err := q.walkPoints(ctx, func(_ model.ChunkKey, payload []byte) error {
		q.project(payload, record)
		data = append(data, record...)
		q.numPoints++
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// project maps one stored payload into the output record.
func (q *Query) project(payload, out []byte) {
	stored := &q.r.meta.Schema
	ref := model.PointRef{Schema: stored, Data: payload}
	builtIn := q.r.meta.Delta

	for _, pd := range q.plan {
		v := ref.FieldAs(pd.src)
		if pd.axis >= 0 && (q.params.Scale != nil || q.params.Offset != nil) {
			// Compose the built-in delta with the query's own: back
			// to native, then into the requested frame.
			scale, offset := 1.0, 0.0
			bscale, boffset := 1.0, 0.0
			switch pd.axis {
			case 0:
				if q.params.Scale != nil {
					scale = q.params.Scale.X
				}
				if q.params.Offset != nil {
					offset = q.params.Offset.X
				}
				if !builtIn.Empty() {
					bscale, boffset = builtIn.Scale.X, builtIn.Offset.X
				}
			case 1:
				if q.params.Scale != nil {
					scale = q.params.Scale.Y
				}
				if q.params.Offset != nil {
					offset = q.params.Offset.Y
				}
				if !builtIn.Empty() {
					bscale, boffset = builtIn.Scale.Y, builtIn.Offset.Y
				}
			case 2:
				if q.params.Scale != nil {
					scale = q.params.Scale.Z
				}
				if q.params.Offset != nil {
					offset = q.params.Offset.Z
				}
				if !builtIn.Empty() {
					bscale, boffset = builtIn.Scale.Z, builtIn.Offset.Z
				}
			}
			v = model.UnscaleCoord(v, bscale, boffset)
			v = model.ScaleCoord(v, scale, offset)
		}
		q.schema.SetFieldAs(out, pd.dst, v)
	}
}
