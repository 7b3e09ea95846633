package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Xyz is an integer position within one depth level of the tree.
// Each component is less than 2^depth.
type Xyz struct {
	X uint64
	Y uint64
	Z uint64
}

// Shift collapses the low n bits of each component.
func (p Xyz) Shift(n uint64) Xyz {
	return Xyz{X: p.X >> n, Y: p.Y >> n, Z: p.Z >> n}
}

// Key locates one cell position in the tree: an integer position at a
// depth, plus the cubic bounds of that node.
type Key struct {
	Position Xyz
	Bounds   Bounds
	Depth    uint64
}

// Step descends one level into the given octant.
func (k Key) Step(dir Dir) Key {
	out := k
	out.Depth++
	out.Position.X = k.Position.X << 1
	out.Position.Y = k.Position.Y << 1
	out.Position.Z = k.Position.Z << 1
	if dir&1 != 0 {
		out.Position.X |= 1
	}
	if dir&2 != 0 {
		out.Position.Y |= 1
	}
	if dir&4 != 0 {
		out.Position.Z |= 1
	}
	out.Bounds = k.Bounds.Go(dir, false)
	return out
}

// ChunkKey identifies the storage unit containing a cell position. It
// is comparable and therefore usable as a map key.
type ChunkKey struct {
	Depth    uint64
	Position Xyz
}

// chunk id packing: 7 bits of depth, 19 bits per axis. Chunk depths
// beyond 19 would need wider ids than the u64 entwine-ids format
// carries; Structure validation keeps trees inside this range.
const (
	idAxisBits = 19
	idAxisMask = 1<<idAxisBits - 1
)

// ID packs the key into the u64 form stored in entwine-ids. Packed ids
// sort by depth first, which keeps the id list grouped per depth.
func (c ChunkKey) ID() uint64 {
	return c.Depth<<(3*idAxisBits) |
		c.Position.X<<(2*idAxisBits) |
		c.Position.Y<<idAxisBits |
		c.Position.Z
}

// ChunkKeyFromID unpacks a chunk id.
func ChunkKeyFromID(id uint64) ChunkKey {
	return ChunkKey{
		Depth: id >> (3 * idAxisBits),
		Position: Xyz{
			X: id >> (2 * idAxisBits) & idAxisMask,
			Y: id >> idAxisBits & idAxisMask,
			Z: id & idAxisMask,
		},
	}
}

// Filename is the object name of the chunk under the endpoint root.
func (c ChunkKey) Filename() string {
	return fmt.Sprintf("%d-%d-%d-%d", c.Depth, c.Position.X, c.Position.Y, c.Position.Z)
}

// ParseChunkFilename is the inverse of Filename.
func ParseChunkFilename(name string) (ChunkKey, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return ChunkKey{}, fmt.Errorf("malformed chunk name %q", name)
	}
	var v [4]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return ChunkKey{}, fmt.Errorf("malformed chunk name %q: %w", name, err)
		}
		v[i] = n
	}
	return ChunkKey{Depth: v[0], Position: Xyz{X: v[1], Y: v[2], Z: v[3]}}, nil
}
