package model

// Cell is one resident of a tube tick: a point plus its raw payload.
// Points with identical coordinates that land on the same tick are
// chained through Next as a stack of duplicates; the chain is an owning
// link, never a graph.
type Cell struct {
	Point Point
	Data  []byte
	Next  *Cell
}

// Push stacks a duplicate onto c.
func (c *Cell) Push(dup *Cell) {
	dup.Next = c.Next
	c.Next = dup
}

// StackSize counts c and its chained duplicates.
func (c *Cell) StackSize() uint64 {
	var n uint64
	for cur := c; cur != nil; cur = cur.Next {
		n++
	}
	return n
}
