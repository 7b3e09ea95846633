// Package hierarchy persists the flat map from chunk key to point
// count that the query planner prunes against, plus the cold-chunk id
// sets behind entwine-ids.
//
// Below a size threshold the whole map is stored inline as one blob;
// above it, the map splits into fixed-span files under h/ that load on
// demand the same way point chunks do. A missing node means the chunk
// is definitely empty: traversal stops there.
package hierarchy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/model"
)

const (
	// InlineThreshold is the node count up to which the map persists
	// as a single blob.
	InlineThreshold = 512
	// SplitSpan is the number of nodes per split file.
	SplitSpan = 512

	idsPath    = "entwine-ids"
	inlinePath = "h/0.json"
	indexPath  = "h/index.json"
)

// Node is one persisted hierarchy entry.
type Node struct {
	ID        uint64 `json:"id"`
	NumPoints uint64 `json:"n"`
}

// Writer accumulates chunk counts during a build and persists the
// index.
type Writer struct {
	mu    sync.Mutex
	nodes map[model.ChunkKey]uint64
}

// NewWriter creates an empty hierarchy writer.
func NewWriter() *Writer {
	return &Writer{nodes: make(map[model.ChunkKey]uint64)}
}

// Set records the point count of one chunk. Zero counts are dropped.
func (w *Writer) Set(key model.ChunkKey, numPoints uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if numPoints == 0 {
		delete(w.nodes, key)
		return
	}
	w.nodes[key] = numPoints
}

// Len returns the number of recorded chunks.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.nodes)
}

// Save persists the hierarchy and the entwine-ids list. Cold chunk ids
// go into entwine-ids sorted ascending, which groups them per depth.
func (w *Writer) Save(ctx context.Context, ep endpoint.Endpoint, s model.Structure) error {
	w.mu.Lock()
	nodes := make([]Node, 0, len(w.nodes))
	ids := roaring64.New()
	for key, n := range w.nodes {
		nodes = append(nodes, Node{ID: key.ID(), NumPoints: n})
		if key.Depth >= s.BaseDepth {
			ids.Add(key.ID())
		}
	}
	w.mu.Unlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	idList := ids.ToArray()
	idJSON, err := json.Marshal(idList)
	if err != nil {
		return err
	}
	if err := ep.Put(ctx, idsPath, idJSON); err != nil {
		return fmt.Errorf("put %s: %w", idsPath, err)
	}

	if len(nodes) <= InlineThreshold {
		blob, err := json.Marshal(nodes)
		if err != nil {
			return err
		}
		return ep.Put(ctx, inlinePath, blob)
	}

	// Split into fixed-span files keyed by their first id.
	var starts []uint64
	for begin := 0; begin < len(nodes); begin += SplitSpan {
		end := min(begin+SplitSpan, len(nodes))
		part := nodes[begin:end]
		starts = append(starts, part[0].ID)

		blob, err := json.Marshal(part)
		if err != nil {
			return err
		}
		if err := ep.Put(ctx, splitPath(part[0].ID), blob); err != nil {
			return err
		}
	}

	index, err := json.Marshal(starts)
	if err != nil {
		return err
	}
	return ep.Put(ctx, indexPath, index)
}

func splitPath(start uint64) string {
	return fmt.Sprintf("h/%d.json", start)
}

// LoadAll reads every hierarchy node eagerly. Builds continuing an
// existing tree use it to carry forward counts for chunks they never
// touch.
func LoadAll(ctx context.Context, ep endpoint.Endpoint, s model.Structure) (map[model.ChunkKey]uint64, error) {
	r, err := NewReader(ctx, ep, s)
	if err != nil {
		return nil, err
	}

	out := make(map[model.ChunkKey]uint64)
	for _, start := range r.starts {
		blob, err := ep.Get(ctx, splitPath(start))
		if err != nil {
			return nil, fmt.Errorf("hierarchy part %d: %w", start, err)
		}
		if err := r.fold(blob); err != nil {
			return nil, err
		}
	}
	for key, n := range r.nodes {
		out[key] = n
	}
	return out, nil
}

// Reader serves numPoints lookups, loading split files on demand.
type Reader struct {
	ep        endpoint.Endpoint
	structure model.Structure

	mu     sync.Mutex
	nodes  map[model.ChunkKey]uint64
	starts []uint64        // split-file start ids, sorted; empty when inline
	loaded map[uint64]bool // split files already folded into nodes

	ids *perDepthIDs
}

// NewReader loads the hierarchy index layout (but not necessarily its
// entries) from the endpoint.
func NewReader(ctx context.Context, ep endpoint.Endpoint, s model.Structure) (*Reader, error) {
	r := &Reader{
		ep:        ep,
		structure: s,
		nodes:     make(map[model.ChunkKey]uint64),
		loaded:    make(map[uint64]bool),
	}

	if blob, err := ep.Get(ctx, inlinePath); err == nil {
		if err := r.fold(blob); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, endpoint.ErrNotFound) {
		return nil, err
	} else {
		index, err := ep.Get(ctx, indexPath)
		if err != nil && !errors.Is(err, endpoint.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			if err := json.Unmarshal(index, &r.starts); err != nil {
				return nil, fmt.Errorf("%w: hierarchy index: %v", chunk.ErrInvalid, err)
			}
		}
		// Neither an inline blob nor an index: nothing indexed yet.
	}

	ids, err := loadIDs(ctx, ep, s)
	if err != nil {
		return nil, err
	}
	r.ids = ids
	return r, nil
}

func (r *Reader) fold(blob []byte) error {
	var nodes []Node
	if err := json.Unmarshal(blob, &nodes); err != nil {
		return fmt.Errorf("%w: hierarchy blob: %v", chunk.ErrInvalid, err)
	}
	for _, n := range nodes {
		r.nodes[model.ChunkKeyFromID(n.ID)] = n.NumPoints
	}
	return nil
}

// Get returns the persisted point count for key. A miss means the
// chunk is empty; callers do not traverse further.
func (r *Reader) Get(ctx context.Context, key model.ChunkKey) (uint64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[key]; ok {
		return n, true, nil
	}
	if len(r.starts) == 0 {
		return 0, false, nil
	}

	// Find the split file that would hold the id.
	id := key.ID()
	i := sort.Search(len(r.starts), func(i int) bool { return r.starts[i] > id })
	if i == 0 {
		return 0, false, nil
	}
	start := r.starts[i-1]
	if r.loaded[start] {
		return 0, false, nil
	}

	blob, err := r.ep.Get(ctx, splitPath(start))
	if err != nil {
		return 0, false, fmt.Errorf("hierarchy part %d: %w", start, err)
	}
	if err := r.fold(blob); err != nil {
		return 0, false, err
	}
	r.loaded[start] = true

	n, ok := r.nodes[key]
	return n, ok, nil
}

// Empty reports whether the reader holds no hierarchy entries and no
// split files: nothing was persisted, or the inline blob lists no nodes.
func (r *Reader) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes) == 0 && len(r.starts) == 0
}

// Exists consults the cold-chunk id set.
func (r *Reader) Exists(key model.ChunkKey) bool {
	if r.ids == nil {
		return false
	}
	return r.ids.contains(key)
}

// HasIDs reports whether an entwine-ids list was present.
func (r *Reader) HasIDs() bool { return r.ids != nil }

// perDepthIDs is the cold-chunk id list grouped per depth.
type perDepthIDs struct {
	byDepth map[uint64]*roaring64.Bitmap
}

func (p *perDepthIDs) contains(key model.ChunkKey) bool {
	bm, ok := p.byDepth[key.Depth]
	return ok && bm.Contains(key.ID())
}

// loadIDs reads entwine-ids and checks each id's depth group: an id
// whose unpacked depth disagrees with its position bits, or that names
// a depth outside the cold region, poisons the whole list.
func loadIDs(ctx context.Context, ep endpoint.Endpoint, s model.Structure) (*perDepthIDs, error) {
	blob, err := ep.Get(ctx, idsPath)
	if errors.Is(err, endpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []uint64
	if err := json.Unmarshal(blob, &ids); err != nil {
		return nil, fmt.Errorf("%w: entwine-ids: %v", chunk.ErrInvalid, err)
	}

	out := &perDepthIDs{byDepth: make(map[uint64]*roaring64.Bitmap)}
	for _, id := range ids {
		key := model.ChunkKeyFromID(id)
		if key.ID() != id {
			return nil, fmt.Errorf("%w: entwine-ids entry %d is not a valid chunk id", chunk.ErrInvalid, id)
		}
		if !s.IsChunkRoot(key.Depth) {
			return nil, fmt.Errorf("%w: entwine-ids entry %d has invalid depth %d", chunk.ErrInvalid, id, key.Depth)
		}
		limit := uint64(1) << key.Depth
		if key.Position.X >= limit || key.Position.Y >= limit || key.Position.Z >= limit {
			return nil, fmt.Errorf("%w: entwine-ids entry %d position exceeds depth %d", chunk.ErrInvalid, id, key.Depth)
		}
		bm, ok := out.byDepth[key.Depth]
		if !ok {
			bm = roaring64.New()
			out.byDepth[key.Depth] = bm
		}
		bm.Add(id)
	}
	return out, nil
}
