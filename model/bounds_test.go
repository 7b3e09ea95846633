package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBounds_Go(t *testing.T) {
	b := Bounds{Min: Point{X: -2, Y: -2, Z: -2}, Max: Point{X: 2, Y: 2, Z: 2}}

	for dir := Dir(0); dir < 8; dir++ {
		oct := b.Go(dir, false)
		require.True(t, oct.IsCubic(), "octant %d", dir)
		require.Equal(t, 2.0, oct.Max.X-oct.Min.X)

		// Growing back up restores the original region.
		require.Equal(t, b, oct.Go(dir, true))
	}

	// The octant of a point contains it.
	p := Point{X: 1, Y: -1, Z: 0.5}
	oct := b.Go(DirOf(p, b.Mid()), false)
	require.True(t, oct.Contains(p))
}

func TestBounds_ContainsEdges(t *testing.T) {
	b := Bounds{Min: Point{}, Max: Point{X: 1, Y: 1, Z: 1}}
	require.True(t, b.Contains(Point{}))
	require.False(t, b.Contains(Point{X: 1, Y: 1, Z: 1}))
	require.False(t, b.Contains(Point{X: -0.1}))
}

func TestBounds_Overlaps(t *testing.T) {
	a := Bounds{Min: Point{}, Max: Point{X: 2, Y: 2, Z: 2}}
	require.True(t, a.Overlaps(Bounds{Min: Point{X: 1, Y: 1, Z: 1}, Max: Point{X: 3, Y: 3, Z: 3}}))
	require.False(t, a.Overlaps(Bounds{Min: Point{X: 2, Y: 0, Z: 0}, Max: Point{X: 3, Y: 1, Z: 1}}))
	require.True(t, a.Overlaps(Everything()))
}

func TestBounds_Cubify(t *testing.T) {
	b := Bounds{Min: Point{X: 0, Y: 0, Z: 0}, Max: Point{X: 4, Y: 2, Z: 1}}
	c := b.Cubify()
	require.True(t, c.IsCubic())
	require.Equal(t, b.Mid(), c.Mid())
	require.Equal(t, 4.0, c.Max.X-c.Min.X)
}

func TestBounds_Ensure3d(t *testing.T) {
	planar := Bounds{Min: Point{X: 0, Y: 0, Z: 5}, Max: Point{X: 1, Y: 1, Z: 5}}
	full := planar.Ensure3d()
	require.True(t, full.Contains(Point{X: 0.5, Y: 0.5, Z: -1e12}))

	solid := Bounds{Min: Point{}, Max: Point{X: 1, Y: 1, Z: 1}}
	require.Equal(t, solid, solid.Ensure3d())
}
