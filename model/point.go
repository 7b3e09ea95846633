package model

import "math"

// Point is a single sample position in native or scaled coordinates.
type Point struct {
	X float64
	Y float64
	Z float64
}

// SqDist3d returns the squared euclidean distance between p and o.
func (p Point) SqDist3d(o Point) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	dz := p.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

// Equals compares coordinates bitwise.
func (p Point) Equals(o Point) bool {
	return math.Float64bits(p.X) == math.Float64bits(o.X) &&
		math.Float64bits(p.Y) == math.Float64bits(o.Y) &&
		math.Float64bits(p.Z) == math.Float64bits(o.Z)
}

// LtChained is the chained lexicographic comparator (x, then y, then z).
// It provides the total order used to break ties in insertion decisions,
// which keeps repeated builds of the same input bit-identical.
func LtChained(a, b Point) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// ScaleCoord maps a native coordinate into scaled storage space.
func ScaleCoord(v, scale, offset float64) float64 {
	return (v - offset) / scale
}

// UnscaleCoord maps a scaled coordinate back into native space.
func UnscaleCoord(v, scale, offset float64) float64 {
	return v*scale + offset
}

// Scale applies d to every axis of p.
func (p Point) Scale(d Delta) Point {
	return Point{
		X: ScaleCoord(p.X, d.Scale.X, d.Offset.X),
		Y: ScaleCoord(p.Y, d.Scale.Y, d.Offset.Y),
		Z: ScaleCoord(p.Z, d.Scale.Z, d.Offset.Z),
	}
}

// Unscale applies the inverse of d to every axis of p.
func (p Point) Unscale(d Delta) Point {
	return Point{
		X: UnscaleCoord(p.X, d.Scale.X, d.Offset.X),
		Y: UnscaleCoord(p.Y, d.Scale.Y, d.Offset.Y),
		Z: UnscaleCoord(p.Z, d.Scale.Z, d.Offset.Z),
	}
}
