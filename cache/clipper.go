package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/model"
)

// Clipper is a per-operation handle recording which chunks an
// insertion or query is pinning. Closing it returns every pin to the
// cache; no caller may hold chunk references past that point. Two
// clippers used from different goroutines are independent.
type Clipper struct {
	cache *Cache
	id    ClipperID

	mu      sync.Mutex
	seen    map[model.ChunkKey]struct{}
	entries []clipEntry

	// OnClip, when set, observes each release as it happens. The
	// write-side registry uses it to tidy per-slice chunk bookkeeping.
	OnClip func(key model.ChunkKey)
}

type clipEntry struct {
	key model.ChunkKey
}

// ID identifies this clipper's pins in the cache.
func (cl *Clipper) ID() ClipperID { return cl.id }

// Acquire pins the chunk at key and records the pin. Pinning the same
// key again through one clipper is a no-op returning the resident
// contents.
func (cl *Clipper) Acquire(ctx context.Context, key model.ChunkKey) (*chunk.Contents, error) {
	cl.mu.Lock()
	if _, ok := cl.seen[key]; ok {
		cl.mu.Unlock()
		// Already pinned by us: the slot must be Ready.
		return cl.cache.resident(key)
	}
	cl.mu.Unlock()

	contents, err := cl.cache.Acquire(ctx, key, cl.id)
	if err != nil {
		return nil, err
	}

	cl.mu.Lock()
	if _, ok := cl.seen[key]; ok {
		// Raced with ourselves; drop the extra pin.
		cl.mu.Unlock()
		return contents, cl.cache.Release(ctx, key, cl.id)
	}
	cl.seen[key] = struct{}{}
	cl.entries = append(cl.entries, clipEntry{key: key})
	cl.mu.Unlock()
	return contents, nil
}

// Holds reports whether this clipper already pins key.
func (cl *Clipper) Holds(key model.ChunkKey) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_, ok := cl.seen[key]
	return ok
}

// Close releases every pin this clipper recorded. Every pin taken is
// eventually released because operations close their clipper on the
// way out.
func (cl *Clipper) Close(ctx context.Context) error {
	cl.mu.Lock()
	entries := cl.entries
	cl.entries = nil
	cl.seen = make(map[model.ChunkKey]struct{})
	onClip := cl.OnClip
	cl.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := cl.cache.Release(ctx, e.key, cl.id); err != nil {
			errs = append(errs, err)
		}
		if onClip != nil {
			onClip(e.key)
		}
	}
	return errors.Join(errs...)
}

// resident returns the contents of a slot known to be pinned Ready.
func (c *Cache) resident(key model.ChunkKey) (*chunk.Contents, error) {
	c.mu.Lock()
	s := c.slots[key]
	c.mu.Unlock()
	if s == nil {
		return nil, errors.New("chunk not resident")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready || s.contents == nil {
		return nil, errors.New("chunk not resident")
	}
	return s.contents, nil
}
