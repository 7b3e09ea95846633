package model

import "math"

// Dir encodes one of the eight octants of a cubic bounds as a 3-bit
// value. Bit 0 is set when x >= mid.x, bit 1 for y, bit 2 for z.
type Dir uint8

const (
	DirSWD Dir = iota // -x -y -z
	DirSED            // +x -y -z
	DirNWD            // -x +y -z
	DirNED            // +x +y -z
	DirSWU            // -x -y +z
	DirSEU            // +x -y +z
	DirNWU            // -x +y +z
	DirNEU            // +x +y +z
)

// DirOf returns the octant of p relative to mid.
func DirOf(p, mid Point) Dir {
	var d Dir
	if p.X >= mid.X {
		d |= 1
	}
	if p.Y >= mid.Y {
		d |= 2
	}
	if p.Z >= mid.Z {
		d |= 4
	}
	return d
}

// Bounds is an axis-aligned box with Min <= Max per axis.
type Bounds struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Everything returns the bounds containing all representable points.
func Everything() Bounds {
	return Bounds{
		Min: Point{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
		Max: Point{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
	}
}

// Mid returns the center of b.
func (b Bounds) Mid() Point {
	return Point{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// IsCubic reports whether the three extents are equal.
func (b Bounds) IsCubic() bool {
	w := b.Max.X - b.Min.X
	return w == b.Max.Y-b.Min.Y && w == b.Max.Z-b.Min.Z
}

// Contains reports whether p lies within b. The minimum edge is
// inclusive and the maximum edge exclusive, so octant membership after
// bisection is unambiguous.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// Overlaps reports whether b and o intersect.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.Min.X < o.Max.X && b.Max.X > o.Min.X &&
		b.Min.Y < o.Max.Y && b.Max.Y > o.Min.Y &&
		b.Min.Z < o.Max.Z && b.Max.Z > o.Min.Z
}

// Go descends into the given octant. With growUp set, it instead grows
// outward so that the current bounds becomes the dir octant of the
// result; subsets use this to reconstruct their enclosing region.
func (b Bounds) Go(dir Dir, growUp bool) Bounds {
	if growUp {
		return b.grow(dir)
	}
	mid := b.Mid()
	out := b
	if dir&1 != 0 {
		out.Min.X = mid.X
	} else {
		out.Max.X = mid.X
	}
	if dir&2 != 0 {
		out.Min.Y = mid.Y
	} else {
		out.Max.Y = mid.Y
	}
	if dir&4 != 0 {
		out.Min.Z = mid.Z
	} else {
		out.Max.Z = mid.Z
	}
	return out
}

func (b Bounds) grow(dir Dir) Bounds {
	w := Point{
		X: b.Max.X - b.Min.X,
		Y: b.Max.Y - b.Min.Y,
		Z: b.Max.Z - b.Min.Z,
	}
	out := b
	if dir&1 != 0 {
		out.Min.X -= w.X
	} else {
		out.Max.X += w.X
	}
	if dir&2 != 0 {
		out.Min.Y -= w.Y
	} else {
		out.Max.Y += w.Y
	}
	if dir&4 != 0 {
		out.Min.Z -= w.Z
	} else {
		out.Max.Z += w.Z
	}
	return out
}

// Ensure3d widens a planar bounds to full vertical extent. Query bounds
// supplied as 2D boxes must not clip by elevation.
func (b Bounds) Ensure3d() Bounds {
	if b.Min.Z != b.Max.Z {
		return b
	}
	b.Min.Z = -math.MaxFloat64
	b.Max.Z = math.MaxFloat64
	return b
}

// Cubify returns the smallest cubic bounds sharing b's center that
// contains b. The root bounds of a tree is always cubic.
func (b Bounds) Cubify() Bounds {
	mid := b.Mid()
	r := math.Max(b.Max.X-b.Min.X, math.Max(b.Max.Y-b.Min.Y, b.Max.Z-b.Min.Z)) / 2
	return Bounds{
		Min: Point{X: mid.X - r, Y: mid.Y - r, Z: mid.Z - r},
		Max: Point{X: mid.X + r, Y: mid.Y + r, Z: mid.Z + r},
	}
}
