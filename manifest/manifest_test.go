package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/model"
)

func TestFiles_StatsAndStatus(t *testing.T) {
	f := NewFiles([]FileInfo{NewFileInfo("a.laz"), NewFileInfo("b.laz")})
	require.Equal(t, 2, f.Size())

	f.AddStats(0, PointStats{Inserts: 10, OutOfBounds: 2})
	f.SetStatus(0, Inserted, "")
	f.AddStats(1, PointStats{Inserts: 5, Overflows: 1})
	f.SetStatus(1, Errored, "truncated header")

	require.Equal(t, PointStats{Inserts: 15, OutOfBounds: 2, Overflows: 1}, f.PointStats())
	require.Equal(t, FileStats{Inserts: 1, Errors: 1}, f.FileStats())
	require.Equal(t, uint64(15), f.TotalPoints())

	info, err := f.Get(1)
	require.NoError(t, err)
	require.Equal(t, Errored, info.Status)
	require.Equal(t, "truncated header", info.Message)
}

func TestFiles_FindAndDiff(t *testing.T) {
	f := NewFiles([]FileInfo{NewFileInfo("tiles/a.laz"), NewFileInfo("tiles/b.laz")})

	require.Equal(t, Origin(1), f.Find("b.laz"))
	require.Equal(t, InvalidOrigin, f.Find("missing"))
	require.Equal(t, Origin(0), f.Origin("tiles/a.laz"))
	require.Equal(t, InvalidOrigin, f.Origin("a.laz"))

	adding := f.Diff([]FileInfo{NewFileInfo("tiles/a.laz"), NewFileInfo("tiles/c.laz")})
	require.Len(t, adding, 1)
	require.Equal(t, "tiles/c.laz", adding[0].Path)

	f.Append(adding)
	require.Equal(t, 3, f.Size())
}

func TestFiles_FindBounds(t *testing.T) {
	b := model.Bounds{Min: model.Point{}, Max: model.Point{X: 1, Y: 1, Z: 1}}
	far := model.Bounds{Min: model.Point{X: 9, Y: 9, Z: 9}, Max: model.Point{X: 10, Y: 10, Z: 10}}

	withBounds := NewFileInfo("a.laz")
	withBounds.Bounds = &b
	farAway := NewFileInfo("b.laz")
	farAway.Bounds = &far
	f := NewFiles([]FileInfo{withBounds, farAway, NewFileInfo("c.laz")})

	got := f.FindBounds(model.Bounds{Min: model.Point{}, Max: model.Point{X: 2, Y: 2, Z: 2}})
	require.Equal(t, []Origin{0}, got)
}

func TestFiles_MergeAdoptsTerminalStatus(t *testing.T) {
	ours := NewFiles([]FileInfo{NewFileInfo("a.laz"), NewFileInfo("b.laz")})
	theirs := NewFiles([]FileInfo{NewFileInfo("a.laz"), NewFileInfo("b.laz")})

	theirs.AddStats(0, PointStats{Inserts: 7})
	theirs.SetStatus(0, Inserted, "")

	require.NoError(t, ours.Merge(theirs))

	info, err := ours.Get(0)
	require.NoError(t, err)
	require.Equal(t, Inserted, info.Status)
	require.Equal(t, uint64(7), info.NumPoints)
	require.Equal(t, uint64(7), ours.PointStats().Inserts)

	info, err = ours.Get(1)
	require.NoError(t, err)
	require.Equal(t, Outstanding, info.Status)
}

func TestFiles_MergeMismatchAborts(t *testing.T) {
	ours := NewFiles([]FileInfo{NewFileInfo("a.laz")})

	// Size mismatch.
	err := ours.Merge(NewFiles([]FileInfo{NewFileInfo("a.laz"), NewFileInfo("b.laz")}))
	require.ErrorIs(t, err, ErrInvalid)

	// Path mismatch, with stats that must NOT leak into ours.
	other := NewFiles([]FileInfo{NewFileInfo("z.laz")})
	other.AddStats(0, PointStats{Inserts: 99})
	err = ours.Merge(other)
	require.ErrorIs(t, err, ErrInvalid)
	require.Equal(t, PointStats{}, ours.PointStats())
}

func TestFiles_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	f := NewFiles([]FileInfo{NewFileInfo("a.laz")})
	f.AddStats(0, PointStats{Inserts: 3, Overflows: 1})
	f.SetStatus(0, Inserted, "")
	require.NoError(t, f.Save(ctx, ep))

	loaded, err := Load(ctx, ep)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Size())
	require.Equal(t, f.PointStats(), loaded.PointStats())

	info, err := loaded.Get(0)
	require.NoError(t, err)
	require.Equal(t, Inserted, info.Status)
	require.Equal(t, uint64(3), info.NumPoints)
}

func TestLoad_Missing(t *testing.T) {
	loaded, err := Load(context.Background(), endpoint.NewMemory())
	require.NoError(t, err)
	require.Equal(t, 0, loaded.Size())
}
