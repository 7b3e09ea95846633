// Package cache owns loaded chunks on behalf of every concurrent
// reader and writer. It enforces at-most-one concurrent load per chunk
// key, tracks pins per clipper, and evicts unpinned chunks in LRU
// order once resident bytes exceed the budget, flushing dirty chunks
// first.
//
// Lock order: cache map lock, then slot lock, then any tube lock. No
// lock is held across endpoint I/O.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/model"
)

// DefaultBudget is the default resident-byte budget.
const DefaultBudget = 1 << 30

// DefaultMaxLoads bounds concurrent chunk loads.
const DefaultMaxLoads = 8

// IO loads and flushes chunk contents. The chunk store implements it;
// tests may supply fakes.
type IO interface {
	// Load reads a chunk. A missing chunk is not an error: Load
	// returns it as empty contents.
	Load(ctx context.Context, key model.ChunkKey) (*chunk.Contents, error)
	// Flush persists a dirty chunk.
	Flush(ctx context.Context, contents *chunk.Contents) error
}

// ClipperID identifies one pin-holding operation.
type ClipperID uint64

// State is the lifecycle of one cache slot.
type State uint8

const (
	Empty State = iota
	Loading
	Ready
	Flushing
)

type slot struct {
	mu   sync.Mutex
	cond *sync.Cond

	state    State
	contents *chunk.Contents
	onDisk   bool
	dirty    bool
	loadErr  error

	pins     map[ClipperID]uint64
	pinTotal uint64
	size     int64

	lruElem *list.Element
}

func (s *slot) totalPins() uint64 { return s.pinTotal }

// Cache is the process-wide chunk owner, shared across readers. It is
// an injected collaborator, not a singleton, so tests can supply a
// bounded instance.
type Cache struct {
	io     IO
	budget int64
	loads  *semaphore.Weighted

	mu    sync.Mutex
	slots map[model.ChunkKey]*slot
	// lru holds unpinned Ready slots, front = most recently released.
	lru *list.List

	size atomic.Int64

	nextClipper atomic.Uint64
}

// New creates a cache with the given resident-byte budget.
func New(io IO, budget int64) *Cache {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Cache{
		io:     io,
		budget: budget,
		loads:  semaphore.NewWeighted(DefaultMaxLoads),
		slots:  make(map[model.ChunkKey]*slot),
		lru:    list.New(),
	}
}

// NewClipper creates a pin-recording handle for one operation.
func (c *Cache) NewClipper() *Clipper {
	return &Clipper{
		cache: c,
		id:    ClipperID(c.nextClipper.Add(1)),
		seen:  make(map[model.ChunkKey]struct{}),
	}
}

// Acquire returns the chunk at key, loading it if necessary, and pins
// it for the given clipper. The returned contents stay valid until the
// clipper releases the pin. At most one load per key runs at a time;
// later acquirers wait for it.
func (c *Cache) Acquire(ctx context.Context, key model.ChunkKey, id ClipperID) (*chunk.Contents, error) {
	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{pins: make(map[ClipperID]uint64)}
		s.cond = sync.NewCond(&s.mu)
		c.slots[key] = s
	}
	c.mu.Unlock()

	s.mu.Lock()
	for {
		switch s.state {
		case Empty:
			s.state = Loading
			s.mu.Unlock()

			contents, onDisk, err := c.load(ctx, key)

			s.mu.Lock()
			if err != nil {
				s.state = Empty
				s.loadErr = err
				s.cond.Broadcast()
				s.mu.Unlock()
				return nil, err
			}
			s.state = Ready
			s.loadErr = nil
			s.contents = contents
			s.onDisk = onDisk
			s.size = contents.SizeBytes()
			s.cond.Broadcast()
			c.size.Add(s.size)

		case Loading, Flushing:
			s.cond.Wait()

		case Ready:
			s.pins[id]++
			s.pinTotal++
			contents := s.contents
			s.mu.Unlock()

			c.mu.Lock()
			if s.lruElem != nil {
				c.lru.Remove(s.lruElem)
				s.lruElem = nil
			}
			c.mu.Unlock()
			return contents, nil
		}
	}
}

func (c *Cache) load(ctx context.Context, key model.ChunkKey) (*chunk.Contents, bool, error) {
	if err := c.loads.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	defer c.loads.Release(1)

	contents, err := c.io.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load chunk %s: %w", key.Filename(), err)
	}
	if contents == nil {
		return nil, false, fmt.Errorf("chunk io returned no contents for %s", key.Filename())
	}
	return contents, contents.NumPoints() > 0, nil
}

// MarkDirty flags the chunk for flushing on eviction. The caller must
// hold a pin on key.
func (c *Cache) MarkDirty(key model.ChunkKey) {
	c.mu.Lock()
	s := c.slots[key]
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.dirty = true
	s.size = s.contents.SizeBytes()
	s.mu.Unlock()
}

// Release returns one pin taken by Acquire. When the chunk's total pin
// count reaches zero it enters the eviction LRU; eviction past the
// budget may flush dirty chunks, whose errors are returned here.
func (c *Cache) Release(ctx context.Context, key model.ChunkKey, id ClipperID) error {
	c.mu.Lock()
	s := c.slots[key]
	c.mu.Unlock()
	if s == nil {
		return fmt.Errorf("release of unknown chunk %s", key.Filename())
	}

	s.mu.Lock()
	if s.pins[id] == 0 {
		s.mu.Unlock()
		return fmt.Errorf("release of unpinned chunk %s", key.Filename())
	}
	s.pins[id]--
	if s.pins[id] == 0 {
		delete(s.pins, id)
	}
	s.pinTotal--
	unpinned := s.pinTotal == 0
	s.mu.Unlock()

	if !unpinned {
		return nil
	}

	c.mu.Lock()
	if s.lruElem == nil {
		s.lruElem = c.lru.PushFront(key)
	}
	c.mu.Unlock()

	return c.evict(ctx)
}

// evict drops unpinned slots in LRU order until resident bytes fit the
// budget, flushing dirty contents first.
func (c *Cache) evict(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.size.Load() <= c.budget || c.lru.Len() == 0 {
			c.mu.Unlock()
			return nil
		}
		elem := c.lru.Back()
		key := elem.Value.(model.ChunkKey)
		s := c.slots[key]
		c.mu.Unlock()

		s.mu.Lock()
		if s.state != Ready || s.pinTotal > 0 {
			// Re-pinned or in transition since it entered the LRU.
			s.mu.Unlock()
			c.mu.Lock()
			if s.lruElem == elem {
				c.lru.Remove(elem)
				s.lruElem = nil
			}
			c.mu.Unlock()
			continue
		}

		contents := s.contents
		dirty := s.dirty
		if dirty {
			s.state = Flushing
		}
		s.mu.Unlock()

		if dirty {
			if err := c.io.Flush(ctx, contents); err != nil {
				s.mu.Lock()
				s.state = Ready
				s.mu.Unlock()
				s.cond.Broadcast()
				return fmt.Errorf("flush chunk %s: %w", key.Filename(), err)
			}
		}

		s.mu.Lock()
		s.state = Empty
		s.contents = nil
		s.dirty = false
		s.onDisk = s.onDisk || dirty
		size := s.size
		s.size = 0
		s.cond.Broadcast()
		s.mu.Unlock()

		c.size.Add(-size)
		c.mu.Lock()
		if s.lruElem == elem {
			c.lru.Remove(elem)
			s.lruElem = nil
		}
		c.mu.Unlock()
	}
}

// FlushAll writes every dirty resident chunk. Used at save time.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]model.ChunkKey, 0, len(c.slots))
	for k := range c.slots {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.mu.Lock()
		s := c.slots[key]
		c.mu.Unlock()

		s.mu.Lock()
		if s.state != Ready || !s.dirty {
			s.mu.Unlock()
			continue
		}
		contents := s.contents
		s.state = Flushing
		s.mu.Unlock()

		err := c.io.Flush(ctx, contents)

		s.mu.Lock()
		s.state = Ready
		if err == nil {
			s.dirty = false
			s.onDisk = true
		}
		s.cond.Broadcast()
		s.mu.Unlock()

		if err != nil {
			return fmt.Errorf("flush chunk %s: %w", key.Filename(), err)
		}
	}
	return nil
}

// Pins returns the total pin count for key. Zero for unknown chunks.
func (c *Cache) Pins(key model.ChunkKey) uint64 {
	c.mu.Lock()
	s := c.slots[key]
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPins()
}

// SizeBytes returns current resident bytes.
func (c *Cache) SizeBytes() int64 {
	return c.size.Load()
}
