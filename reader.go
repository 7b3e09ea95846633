package entwine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ProjectBarks/entwine/cache"
	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/hierarchy"
	"github.com/ProjectBarks/entwine/model"
)

// DimensionsPath stores the registered append-set schemas.
const DimensionsPath = "d/dimensions.json"

// Reader serves queries over a built tree. Multiple readers may share
// one cache; each query pins chunks through its own clipper.
type Reader struct {
	ep    endpoint.Endpoint
	meta  *Metadata
	hier  *hierarchy.Reader
	cache *cache.Cache
	store *chunk.Store
	log   *Logger

	// base pins the always-resident base chunk for the reader's
	// lifetime.
	base *cache.Clipper

	mu      sync.Mutex
	appends map[string]model.Schema
	// pre memoizes chunk existence probes for trees without an
	// entwine-ids list.
	pre map[model.ChunkKey]bool
}

// NewReader opens the tree at the endpoint. c may be shared across
// readers; nil creates a private cache with the default budget.
func NewReader(ctx context.Context, ep endpoint.Endpoint, c *cache.Cache, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ep = endpoint.WithRetry(ep, endpoint.DefaultRetryOptions())

	meta, err := LoadMetadata(ctx, ep)
	if err != nil {
		return nil, err
	}
	hier, err := hierarchy.NewReader(ctx, ep, meta.Structure)
	if err != nil {
		return nil, err
	}

	dataIO, err := meta.DataIO()
	if err != nil {
		return nil, err
	}
	store := chunk.NewStore(ep, dataIO, meta.Schema.PointSize(), meta.PointOf())
	if c == nil {
		c = cache.New(store, cache.DefaultBudget)
	}

	r := &Reader{
		ep:      ep,
		meta:    meta,
		hier:    hier,
		cache:   c,
		store:   store,
		log:     o.logger,
		appends: make(map[string]model.Schema),
		pre:     make(map[model.ChunkKey]bool),
	}

	// The base chunk stays resident for the reader's lifetime.
	r.base = c.NewClipper()
	if _, err := r.base.Acquire(ctx, meta.Structure.BaseChunk()); err != nil {
		return nil, err
	}

	if err := r.loadAppends(ctx); err != nil {
		_ = r.base.Close(ctx)
		return nil, err
	}
	return r, nil
}

// Close releases the reader's resident pins. Queries must have
// finished.
func (r *Reader) Close(ctx context.Context) error {
	return r.base.Close(ctx)
}

// Metadata returns the tree's metadata.
func (r *Reader) Metadata() *Metadata { return r.meta }

// Cache returns the chunk cache serving this reader.
func (r *Reader) Cache() *cache.Cache { return r.cache }

// Hierarchy returns the persistent chunk index.
func (r *Reader) Hierarchy() *hierarchy.Reader { return r.hier }

func (r *Reader) loadAppends(ctx context.Context) error {
	blob, err := r.ep.Get(ctx, DimensionsPath)
	if errors.Is(err, endpoint.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var sets map[string]model.Schema
	if err := json.Unmarshal(blob, &sets); err != nil {
		return fmt.Errorf("parse %s: %w", DimensionsPath, err)
	}
	for name, schema := range sets {
		if err := r.RegisterAppend(ctx, name, schema); err != nil {
			r.log.WarnContext(ctx, "skipping append set", "name", name, "error", err)
		}
	}
	return nil
}

// Exists reports whether the chunk at key is present, using the
// entwine-ids list when loaded and a memoized endpoint probe
// otherwise.
func (r *Reader) Exists(ctx context.Context, key model.ChunkKey) (bool, error) {
	// The id list covers cold chunks only; the base chunk is probed.
	if r.hier.HasIDs() && r.meta.Structure.IsCold(key.Depth) {
		return r.hier.Exists(key), nil
	}

	r.mu.Lock()
	if ok, seen := r.pre[key]; seen {
		r.mu.Unlock()
		return ok, nil
	}
	r.mu.Unlock()

	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.pre[key] = ok
	r.mu.Unlock()
	return ok, nil
}
