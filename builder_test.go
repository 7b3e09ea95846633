package entwine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	entwine "github.com/ProjectBarks/entwine"
	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/manifest"
	"github.com/ProjectBarks/entwine/model"
)

func TestBuilder_ManifestTracksFiles(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	b := buildTree(t, ep,
		&memSource{path: "a.laz", points: []model.Point{{}, {X: 1, Y: 1, Z: 1}}},
		&memSource{path: "b.laz", points: []model.Point{{X: -1, Y: 0.5, Z: 0}, {X: 99, Y: 0, Z: 0}}},
	)

	files := b.Files()
	require.Equal(t, 2, files.Size())

	a, err := files.Get(0)
	require.NoError(t, err)
	require.Equal(t, manifest.Inserted, a.Status)
	require.Equal(t, uint64(2), a.NumPoints)

	bInfo, err := files.Get(1)
	require.NoError(t, err)
	require.Equal(t, manifest.Inserted, bInfo.Status)
	require.Equal(t, uint64(1), bInfo.NumPoints)
	require.Equal(t, uint64(1), bInfo.Stats.OutOfBounds)

	// Conservation across the whole build.
	stats := files.PointStats()
	require.Equal(t, uint64(4), stats.Inserts+stats.OutOfBounds+stats.Overflows)

	// The manifest is on disk.
	loaded, err := manifest.Load(ctx, ep)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Size())
}

func TestBuilder_ContinuationMergesAndSkipsInserted(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	buildTree(t, ep, &memSource{path: "a.laz", points: []model.Point{{}, {X: 1, Y: 1, Z: 1}}})

	// A second run re-lists the inserted file and adds a new one. The
	// old file is skipped, the old points survive the re-save.
	b2, err := entwine.NewBuilder(ctx, ep, testOptions()...)
	require.NoError(t, err)
	require.NoError(t, b2.Build(ctx, []entwine.PointSource{
		&memSource{path: "a.laz", points: []model.Point{{}, {X: 1, Y: 1, Z: 1}}},
		&memSource{path: "b.laz", points: []model.Point{{X: -0.5, Y: -0.5, Z: -0.5}}},
	}))
	require.NoError(t, b2.Save(ctx))

	files := b2.Files()
	require.Equal(t, 2, files.Size())
	aInfo, err := files.Get(0)
	require.NoError(t, err)
	// Not double-counted.
	require.Equal(t, uint64(2), aInfo.NumPoints)

	r := openReader(t, ep)
	q, err := r.Query(entwine.QueryParams{DepthBegin: 0, DepthEnd: 5})
	require.NoError(t, err)
	n, err := q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
}

func TestBuilder_NewTreeNeedsBounds(t *testing.T) {
	_, err := entwine.NewBuilder(context.Background(), endpoint.NewMemory())
	require.Error(t, err)
}

func TestMetadata_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory()

	buildTree(t, ep, &memSource{path: "a.laz", points: []model.Point{{}}})

	meta, err := entwine.LoadMetadata(ctx, ep)
	require.NoError(t, err)
	require.True(t, meta.BoundsCubic.IsCubic())
	require.Equal(t, "laszip", meta.DataType)
	require.Equal(t, uint64(24), meta.Schema.PointSize())
}

func TestReprojection_Validation(t *testing.T) {
	_, err := entwine.NewReprojection("", "", false)
	require.Error(t, err)

	_, err = entwine.NewReprojection("", "EPSG:3857", true)
	require.Error(t, err)

	r, err := entwine.NewReprojection("EPSG:26915", "EPSG:3857", false)
	require.NoError(t, err)
	require.Contains(t, r.String(), "EPSG:3857")
}
