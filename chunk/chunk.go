// Package chunk is the storage unit of the tree: a contiguous group of
// cell positions persisted as one compressed object.
//
// The on-disk form is a length-prefixed cell stream: an 8-byte
// little-endian numPoints header, then one record per cell carrying its
// position within the chunk, its z-tick tube key, and the stacked
// point payloads. The stream is compressed through the tree's DataIO
// codec; the file extension selects the decoder.
package chunk

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ProjectBarks/entwine/model"
)

// CellKey is the full position of one cell: depth plus integer xyz,
// where z is the tube tick.
type CellKey struct {
	Depth    uint64
	Position model.Xyz
}

// Contents is a decoded chunk: the cells of every tree position the
// chunk covers.
type Contents struct {
	Key       model.ChunkKey
	PointSize uint64

	cells     map[CellKey]*model.Cell
	numPoints uint64
}

// NewContents creates an empty chunk.
func NewContents(key model.ChunkKey, pointSize uint64) *Contents {
	return &Contents{
		Key:       key,
		PointSize: pointSize,
		cells:     make(map[CellKey]*model.Cell),
	}
}

// Put adds a resolved cell at ck. A cell already present at ck must
// hold the same coordinates; its stack absorbs the newcomer.
func (c *Contents) Put(ck CellKey, cell *model.Cell) {
	n := cell.StackSize()
	if curr, ok := c.cells[ck]; ok {
		// Splice the incoming stack onto the resident.
		last := cell
		for last.Next != nil {
			last = last.Next
		}
		last.Next = curr.Next
		curr.Next = cell
	} else {
		c.cells[ck] = cell
	}
	c.numPoints += n
}

// Get returns the cell at ck, if any.
func (c *Contents) Get(ck CellKey) (*model.Cell, bool) {
	cell, ok := c.cells[ck]
	return cell, ok
}

// NumPoints counts every point, stacked duplicates included.
func (c *Contents) NumPoints() uint64 { return c.numPoints }

// SizeBytes estimates resident memory, for cache budgeting.
func (c *Contents) SizeBytes() int64 {
	const cellOverhead = 64
	return int64(c.numPoints*c.PointSize) + int64(len(c.cells))*cellOverhead
}

// NumCells counts occupied positions.
func (c *Contents) NumCells() uint64 { return uint64(len(c.cells)) }

// SortedKeys returns the cell keys in the chunk's canonical order:
// depth, then x, y, z. Serialization, queries, and append-set blobs
// all iterate in this order, which is what keeps builds bit-identical
// and addon rows aligned.
func (c *Contents) SortedKeys() []CellKey {
	keys := make([]CellKey, 0, len(c.cells))
	for ck := range c.cells {
		keys = append(keys, ck)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Position.X != b.Position.X {
			return a.Position.X < b.Position.X
		}
		if a.Position.Y != b.Position.Y {
			return a.Position.Y < b.Position.Y
		}
		return a.Position.Z < b.Position.Z
	})
	return keys
}

// Each calls fn for every cell in canonical order.
func (c *Contents) Each(fn func(ck CellKey, cell *model.Cell)) {
	for _, ck := range c.SortedKeys() {
		fn(ck, c.cells[ck])
	}
}

// record layout per cell:
//
//	u8  localDepth   depth - chunk depth
//	u32 localX       x - (chunk x << localDepth)
//	u32 localY       y - (chunk y << localDepth)
//	u64 tick         full z coordinate at the cell's depth
//	u32 stack        number of stacked points
//	stack * pointSize payload bytes
const cellHeaderSize = 1 + 4 + 4 + 8 + 4

// Encode serializes the cell stream (uncompressed; the caller applies
// the DataIO codec).
func (c *Contents) Encode() []byte {
	size := 8
	for _, cell := range c.cells {
		size += cellHeaderSize + int(cell.StackSize()*c.PointSize)
	}

	out := make([]byte, 8, size)
	binary.LittleEndian.PutUint64(out, c.numPoints)

	for _, ck := range c.SortedKeys() {
		cell := c.cells[ck]
		localDepth := ck.Depth - c.Key.Depth
		localX := ck.Position.X - c.Key.Position.X<<localDepth
		localY := ck.Position.Y - c.Key.Position.Y<<localDepth

		var hdr [cellHeaderSize]byte
		hdr[0] = byte(localDepth)
		binary.LittleEndian.PutUint32(hdr[1:], uint32(localX))
		binary.LittleEndian.PutUint32(hdr[5:], uint32(localY))
		binary.LittleEndian.PutUint64(hdr[9:], ck.Position.Z)
		binary.LittleEndian.PutUint32(hdr[17:], uint32(cell.StackSize()))
		out = append(out, hdr[:]...)

		for cur := cell; cur != nil; cur = cur.Next {
			out = append(out, cur.Data...)
		}
	}
	return out
}

// Decode parses a cell stream produced by Encode.
func Decode(data []byte, key model.ChunkKey, pointSize uint64, pointOf func([]byte) model.Point) (*Contents, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: chunk %s truncated: %d bytes", ErrInvalid, key.Filename(), len(data))
	}
	want := binary.LittleEndian.Uint64(data)
	data = data[8:]

	c := NewContents(key, pointSize)
	for len(data) > 0 {
		if len(data) < cellHeaderSize {
			return nil, fmt.Errorf("%w: chunk %s truncated cell header", ErrInvalid, key.Filename())
		}
		localDepth := uint64(data[0])
		localX := uint64(binary.LittleEndian.Uint32(data[1:]))
		localY := uint64(binary.LittleEndian.Uint32(data[5:]))
		tick := binary.LittleEndian.Uint64(data[9:])
		stack := uint64(binary.LittleEndian.Uint32(data[17:]))
		data = data[cellHeaderSize:]

		if stack == 0 || uint64(len(data)) < stack*pointSize {
			return nil, fmt.Errorf("%w: chunk %s truncated cell payload", ErrInvalid, key.Filename())
		}

		ck := CellKey{
			Depth: key.Depth + localDepth,
			Position: model.Xyz{
				X: key.Position.X<<localDepth + localX,
				Y: key.Position.Y<<localDepth + localY,
				Z: tick,
			},
		}

		var head *model.Cell
		for i := uint64(0); i < stack; i++ {
			payload := make([]byte, pointSize)
			copy(payload, data[i*pointSize:])
			cell := &model.Cell{Point: pointOf(payload), Data: payload}
			if head == nil {
				head = cell
			} else {
				head.Push(cell)
			}
		}
		data = data[stack*pointSize:]
		c.Put(ck, head)
	}

	if c.numPoints != want {
		return nil, fmt.Errorf("%w: chunk %s point count mismatch: header %d, decoded %d",
			ErrInvalid, key.Filename(), want, c.numPoints)
	}
	return c, nil
}
