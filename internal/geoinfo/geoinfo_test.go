package geoinfo

import (
	"context"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusimg/fusimg/internal/raster"
)

func TestMain(m *testing.M) {
	godal.RegisterInternalDrivers()
	m.Run()
}

// memProxy builds a DatasetProxy over a throwaway in-memory dataset with
// the given geotransform, closing the source dataset before returning —
// every test in this file exercises the Proxy only after that close, the
// same lifetime a cmd/fusimg loadPath caller relies on.
func memProxy(t *testing.T, sizeX, sizeY int, gt [6]float64) *DatasetProxy {
	t.Helper()
	ds, err := godal.Create(godal.Memory, "", 1, godal.Float64, sizeX, sizeY)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform(gt))
	sr, err := godal.NewSpatialRefFromEPSG(3857)
	require.NoError(t, err)
	require.NoError(t, ds.SetSpatialRef(sr))

	p, err := NewDatasetProxy(ds)
	require.NoError(t, err)
	ds.Close()
	return p
}

func TestDatasetProxyProjectRect(t *testing.T) {
	p := memProxy(t, 10, 10, [6]float64{100, 2, 0, 200, 0, -2})

	minX, minY, maxX, maxY, err := p.ProjectRect(raster.Rect{X: 0, Y: 0, W: 10, H: 10})
	require.NoError(t, err)
	assert.Equal(t, 100.0, minX)
	assert.Equal(t, 120.0, maxX)
	assert.Equal(t, 180.0, minY)
	assert.Equal(t, 200.0, maxY)
}

func TestDatasetProxyImgProjRoundTrip(t *testing.T) {
	p := memProxy(t, 5, 5, [6]float64{100, 2, 0, 200, 0, -2})

	pt, err := p.ImgToProj(Point{X: 3, Y: 4})
	require.NoError(t, err)

	back, err := p.ProjToImg(pt)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, back.X, 1e-9)
	assert.InDelta(t, 4.0, back.Y, 1e-9)
}

// TestDatasetProxyOutlivesSourceDataset is a regression test for the
// DatasetProxy use-after-close bug: Warp used to dereference the
// godal.Dataset it was built from, which cmd/fusimg's loadPath always
// closes before returning the Proxy. NewDatasetProxy now copies out
// sizeX/sizeY (alongside gt/sr) at construction time, so Warp must
// still work once the source dataset is gone.
func TestDatasetProxyOutlivesSourceDataset(t *testing.T) {
	p := memProxy(t, 4, 4, [6]float64{0, 1, 0, 4, 0, -1})

	src, err := raster.New(4, 4, 1, raster.F64)
	require.NoError(t, err)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.SetRaw(x, y, 0, float64(y*4+x))
		}
	}
	dst, err := raster.New(4, 4, 1, raster.F64)
	require.NoError(t, err)

	err = p.Warp(context.Background(), src, dst, Bilinear)
	require.NoError(t, err)
	// a same-grid bilinear warp is an identity resample
	assert.InDelta(t, src.At(2, 2, 0), dst.At(2, 2, 0), 1e-3)
}

func TestInterpGdalResampling(t *testing.T) {
	cases := []struct {
		interp Interp
		want   string
	}{
		{Nearest, "near"},
		{Bilinear, "bilinear"},
		{Cubic, "cubic"},
	}
	for _, c := range cases {
		got, err := c.interp.gdalResampling()
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := Interp(99).gdalResampling()
	assert.Error(t, err)
}
