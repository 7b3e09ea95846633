package entwine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/ProjectBarks/entwine/cache"
	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/hierarchy"
	"github.com/ProjectBarks/entwine/internal/pool"
	"github.com/ProjectBarks/entwine/manifest"
	"github.com/ProjectBarks/entwine/model"
	"github.com/ProjectBarks/entwine/tree"
)

// PointSource is one decoded input file. File readers (LAS/LAZ decode,
// reprojection) are external collaborators producing this stream.
type PointSource interface {
	// Path identifies the file in the manifest.
	Path() string
	// Bounds returns header bounds when the format carries them.
	Bounds() *model.Bounds
	// Next returns the next point and its payload in the stored
	// schema. io.EOF ends the stream.
	Next() (model.Point, []byte, error)
}

// Builder indexes point sources into a tree under an endpoint.
// Create one per build; workers share it.
type Builder struct {
	ep    endpoint.Endpoint
	meta  *Metadata
	pool  *pool.PointPool
	cache *cache.Cache
	store *chunk.Store
	reg   *tree.Registry
	files *manifest.Files
	log   *Logger

	workers int
}

// NewBuilder opens a build at the endpoint. If the endpoint already
// holds a tree, its metadata and manifest are adopted and the build
// continues against the flushed chunks; otherwise the options define a
// new tree.
func NewBuilder(ctx context.Context, ep endpoint.Endpoint, opts ...Option) (*Builder, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ep = endpoint.WithRetry(ep, endpoint.DefaultRetryOptions())

	var (
		meta     *Metadata
		files    *manifest.Files
		existing bool
	)
	if _, ok, err := ep.TryGetSize(ctx, MetadataPath); err != nil {
		return nil, err
	} else if ok {
		existing = true
		meta, err = LoadMetadata(ctx, ep)
		if err != nil {
			return nil, err
		}
		files, err = manifest.Load(ctx, ep)
		if err != nil {
			return nil, err
		}
	} else {
		cubic := o.bounds.Cubify()
		if !cubic.IsCubic() || cubic.Min == cubic.Max {
			return nil, fmt.Errorf("a new build needs non-degenerate bounds")
		}
		meta = &Metadata{
			Schema:      o.schema,
			Bounds:      o.bounds,
			BoundsCubic: cubic,
			Structure:   o.structure,
			Delta:       o.delta,
			DataType:    o.dataType,
		}
		meta.Reprojection = o.reprojection
		if err := meta.Structure.Validate(); err != nil {
			return nil, err
		}
		for _, dim := range []string{"X", "Y", "Z"} {
			if !meta.Schema.Contains(dim) {
				return nil, fmt.Errorf("%w: schema is missing dimension %s", ErrInvalidSchema, dim)
			}
		}
		files = manifest.NewFiles(nil)
	}

	dataIO, err := meta.DataIO()
	if err != nil {
		return nil, err
	}

	p := pool.New(meta.Schema.PointSize(), 0)
	store := chunk.NewStore(ep, dataIO, meta.Schema.PointSize(), meta.PointOf())
	c := cache.New(store, cache.DefaultBudget)
	reg, err := tree.NewRegistry(meta.BoundsCubic, meta.Structure, p, c)
	if err != nil {
		return nil, err
	}
	if existing {
		// Continuing an existing build: fold the flushed base region
		// back in. Cold chunks awaken lazily as insertion pins them.
		if err := reg.Load(ctx); err != nil {
			return nil, err
		}
	}

	return &Builder{
		ep:      ep,
		meta:    meta,
		pool:    p,
		cache:   c,
		store:   store,
		reg:     reg,
		files:   files,
		log:     o.logger,
		workers: o.workers,
	}, nil
}

// Metadata returns the tree's metadata.
func (b *Builder) Metadata() *Metadata { return b.meta }

// Registry exposes the write-side tree, mainly for tests.
func (b *Builder) Registry() *tree.Registry { return b.reg }

// Files returns the input manifest.
func (b *Builder) Files() *manifest.Files { return b.files }

// Build inserts every source through a worker pool. Each worker holds
// a private climber and clipper. Per-file decode failures mark the
// manifest entry and do not fail the build; per-point overflow and
// out-of-bounds are counters on the owning file's stats.
func (b *Builder) Build(ctx context.Context, sources []PointSource) error {
	infos := make([]manifest.FileInfo, 0, len(sources))
	for _, src := range sources {
		info := manifest.NewFileInfo(src.Path())
		info.Bounds = src.Bounds()
		infos = append(infos, info)
	}
	b.files.Append(infos)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, src := range sources {
		origin := b.files.Origin(src.Path())
		if origin == manifest.InvalidOrigin {
			continue
		}
		if info, err := b.files.Get(origin); err != nil || info.Status != manifest.Outstanding {
			// Already inserted by a previous run.
			continue
		}

		g.Go(func() error {
			return b.insertSource(gctx, origin, src)
		})
	}
	return g.Wait()
}

func (b *Builder) insertSource(ctx context.Context, origin manifest.Origin, src PointSource) error {
	log := b.log.WithOrigin(origin)
	log.InfoContext(ctx, "inserting", "path", src.Path())

	clipper := b.reg.NewClipper()
	defer func() {
		if err := clipper.Close(ctx); err != nil {
			log.ErrorContext(ctx, "clip failed", "error", err)
		}
	}()

	climber := model.NewClimber(b.meta.BoundsCubic, b.meta.Structure)
	delta := b.meta.Delta
	var stats manifest.PointStats

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		point, payload, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			b.files.SetStatus(origin, manifest.Errored, err.Error())
			b.files.AddStats(origin, stats)
			log.WarnContext(ctx, "source failed", "error", err)
			return nil
		}

		if uint64(len(payload)) != b.meta.Schema.PointSize() {
			b.files.SetStatus(origin, manifest.Errored,
				fmt.Sprintf("payload size %d does not match schema point size %d",
					len(payload), b.meta.Schema.PointSize()))
			b.files.AddStats(origin, stats)
			return nil
		}

		cell := b.pool.Acquire()
		if !delta.Empty() {
			point = point.Scale(delta)
		}
		cell.Point = point
		cell.Data = append(cell.Data[:0], payload...)
		writeCoords(b.meta.Schema, cell.Data, point)

		climber.Reset()
		res, err := b.reg.AddPoint(ctx, cell, climber, clipper)
		if err != nil {
			return err
		}
		switch res {
		case tree.Inserted:
			stats.Inserts++
		case tree.OutOfBounds:
			stats.OutOfBounds++
		case tree.Overflow:
			stats.Overflows++
		}
	}

	b.files.SetStatus(origin, manifest.Inserted, "")
	b.files.AddStats(origin, stats)
	log.InfoContext(ctx, "inserted",
		"inserts", stats.Inserts,
		"outOfBounds", stats.OutOfBounds,
		"overflows", stats.Overflows,
	)
	return nil
}

// writeCoords pins the payload's X/Y/Z dimensions to the indexed
// coordinates so the payload and the cell agree bitwise.
func writeCoords(s model.Schema, data []byte, p model.Point) {
	if i, ok := s.Find("X"); ok {
		s.SetFieldAs(data, i, p.X)
	}
	if i, ok := s.Find("Y"); ok {
		s.SetFieldAs(data, i, p.Y)
	}
	if i, ok := s.Find("Z"); ok {
		s.SetFieldAs(data, i, p.Z)
	}
}

// Save flushes every populated chunk, then writes the hierarchy index,
// the entwine-ids list, the manifest, and the metadata.
func (b *Builder) Save(ctx context.Context) error {
	counts, err := b.reg.Save(ctx, b.store)
	if err != nil {
		return err
	}

	w := hierarchy.NewWriter()
	if _, ok, err := b.ep.TryGetSize(ctx, MetadataPath); err == nil && ok {
		// Carry forward counts of chunks this session never touched.
		prior, err := hierarchy.LoadAll(ctx, b.ep, b.meta.Structure)
		if err != nil {
			return err
		}
		for key, n := range prior {
			w.Set(key, n)
		}
	} else if err != nil {
		return err
	}
	for key, n := range counts {
		w.Set(key, n)
	}

	if err := w.Save(ctx, b.ep, b.meta.Structure); err != nil {
		return err
	}
	if err := b.files.Save(ctx, b.ep); err != nil {
		return err
	}
	if err := b.meta.Save(ctx, b.ep); err != nil {
		return err
	}

	b.log.InfoContext(ctx, "saved",
		"chunks", len(counts),
		"points", b.reg.NumInserted(),
		"endpoint", b.ep.Root(),
	)
	return nil
}
