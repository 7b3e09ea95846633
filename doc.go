// Package entwine indexes massive 3D point clouds into a persistent,
// query-friendly octree structure and serves spatial + depth range
// queries over it.
//
// Points are bucketed into cells of an octree whose nodes are grouped
// into fixed-size chunks and written to a storage endpoint (local
// filesystem or object store). Readers pull only the chunks that
// overlap a query region and depth band, stream their points through
// dimension projection, and return a requested schema.
//
// # Writing
//
//	ep, _ := endpoint.NewLocal(dir)
//	b, _ := entwine.NewBuilder(ctx, ep, entwine.WithBounds(bounds))
//	b.Build(ctx, sources)
//	b.Save(ctx)
//
// # Reading
//
//	r, _ := entwine.NewReader(ctx, ep, nil)
//	q, _ := r.Query(entwine.QueryParams{Bounds: box, DepthBegin: 0, DepthEnd: 10})
//	data, _ := q.Run(ctx)
//
// The build is idempotent: given the same set of points and the same
// maximum depth, the final tree is independent of insertion order.
package entwine
