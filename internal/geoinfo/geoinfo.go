// Package geoinfo implements the narrow GeoInfoProxy boundary described
// in §6: the only geo-referencing surface a FusionKernel or the
// JobPlanner may call. Everything else — resampling/warping
// algorithms, new raster formats, GIS projection math beyond this
// surface — is out of scope (§1 Non-goals) and lives in the external
// godal collaborator this package wraps, a single godal.Dataset per
// Proxy the way the teacher's tiler.go wraps one source dataset per
// Tiler rather than reimplementing projection math.
package geoinfo

import (
	"context"
	"math"

	"github.com/airbusgeo/godal"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/raster"
)

// Point is an (x, y) pair in whatever coordinate system its caller
// declares; used for both image-space pixel coordinates and projected
// map coordinates so the Proxy's signatures stay symmetric.
type Point struct {
	X, Y float64
}

// Interp is the resampling kernel Warp uses, the closed
// {nearest, bilinear, cubic} set §6 requires callers to choose from.
type Interp int

const (
	Nearest Interp = iota
	Bilinear
	Cubic
)

// gdalResampling maps an Interp to the -r flag value godal's WarpInto
// expects.
func (i Interp) gdalResampling() (string, error) {
	switch i {
	case Nearest:
		return "near", nil
	case Bilinear:
		return "bilinear", nil
	case Cubic:
		return "cubic", nil
	default:
		return "", ferr.Newf(ferr.InvalidArgument, "unknown interp %d", i)
	}
}

// Proxy is the geo-referencing boundary SPEC_FULL.md's kernels and
// planner are allowed to call. Implementations are expected to wrap
// a single godal.Dataset's geotransform and spatial reference; no
// caller outside this package touches godal directly.
type Proxy interface {
	// ProjectRect maps an image-space Rect into the dataset's
	// projected-coordinate bounding box.
	ProjectRect(r raster.Rect) (minX, minY, maxX, maxY float64, err error)
	// Warp resamples src (already read into memory) onto dst's grid
	// using the external collaborator; src and dst must share the
	// same channel count and base type. interp selects the resampling
	// kernel (§6: nearest, bilinear, or cubic).
	Warp(ctx context.Context, src, dst *raster.Raster, interp Interp) error
	// ImgToProj converts an image-space pixel coordinate to the
	// dataset's projected coordinate system.
	ImgToProj(p Point) (Point, error)
	// ProjToImg is ImgToProj's inverse.
	ProjToImg(p Point) (Point, error)
	// ImgToLongLat converts an image-space pixel coordinate to
	// geographic longitude/latitude.
	ImgToLongLat(p Point) (lon, lat float64, err error)
	// LongLatToProj converts geographic longitude/latitude to the
	// dataset's projected coordinate system.
	LongLatToProj(lon, lat float64) (Point, error)
}

// DatasetProxy is the godal-backed Proxy implementation. It holds no
// live reference to the godal.Dataset it was built from beyond
// construction: every value Warp/ProjectRect/etc. need (the
// geotransform, spatial reference, and pixel dimensions) is copied out
// at NewDatasetProxy time, so a Proxy stays usable after its source
// Dataset is closed — callers are expected to close a Dataset as soon
// as they've read its pixels and built a Proxy from it.
type DatasetProxy struct {
	gt           [6]float64
	sr           *godal.SpatialRef
	sizeX, sizeY int
}

// NewDatasetProxy wraps an already-open godal.Dataset; callers retain
// ownership of ds and are responsible for closing it once this call
// returns (the Proxy copies out everything it needs up front).
func NewDatasetProxy(ds *godal.Dataset) (*DatasetProxy, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, ferr.Wrap(ferr.IO, err, "read geotransform")
	}
	sr := ds.SpatialRef()
	st := ds.Structure()
	return &DatasetProxy{gt: gt, sr: sr, sizeX: st.SizeX, sizeY: st.SizeY}, nil
}

// imgToProj applies the forward affine geotransform:
//
//	X = gt[0] + px*gt[1] + py*gt[2]
//	Y = gt[3] + px*gt[4] + py*gt[5]
func (p *DatasetProxy) imgToProj(px, py float64) (float64, float64) {
	x := p.gt[0] + px*p.gt[1] + py*p.gt[2]
	y := p.gt[3] + px*p.gt[4] + py*p.gt[5]
	return x, y
}

// projToImg inverts the affine geotransform; it fails only when the
// geotransform is degenerate (zero determinant), which godal itself
// refuses to produce for a valid georeferenced dataset.
func (p *DatasetProxy) projToImg(x, y float64) (float64, float64, error) {
	det := p.gt[1]*p.gt[5] - p.gt[2]*p.gt[4]
	if det == 0 {
		return 0, 0, ferr.New(ferr.InternalLogic, "degenerate geotransform")
	}
	dx := x - p.gt[0]
	dy := y - p.gt[3]
	px := (p.gt[5]*dx - p.gt[2]*dy) / det
	py := (p.gt[1]*dy - p.gt[4]*dx) / det
	return px, py, nil
}

func (p *DatasetProxy) ProjectRect(r raster.Rect) (minX, minY, maxX, maxY float64, err error) {
	corners := [4][2]float64{
		{float64(r.X), float64(r.Y)},
		{float64(r.X + r.W), float64(r.Y)},
		{float64(r.X), float64(r.Y + r.H)},
		{float64(r.X + r.W), float64(r.Y + r.H)},
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x, y := p.imgToProj(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY, nil
}

func (p *DatasetProxy) ImgToProj(pt Point) (Point, error) {
	x, y := p.imgToProj(pt.X, pt.Y)
	return Point{X: x, Y: y}, nil
}

func (p *DatasetProxy) ProjToImg(pt Point) (Point, error) {
	x, y, err := p.projToImg(pt.X, pt.Y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

func (p *DatasetProxy) ImgToLongLat(pt Point) (lon, lat float64, err error) {
	if p.sr == nil {
		return 0, 0, ferr.New(ferr.InvalidArgument, "dataset has no spatial reference")
	}
	x, y := p.imgToProj(pt.X, pt.Y)
	geog, err := p.sr.ToWGS84()
	if err != nil {
		return 0, 0, ferr.Wrap(ferr.IO, err, "derive geographic spatial reference")
	}
	tr, err := godal.NewTransform(p.sr, geog)
	if err != nil {
		return 0, 0, ferr.Wrap(ferr.IO, err, "build coordinate transform")
	}
	defer tr.Close()
	xs, ys := []float64{x}, []float64{y}
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return 0, 0, ferr.Wrap(ferr.IO, err, "transform to geographic coordinates")
	}
	return xs[0], ys[0], nil
}

func (p *DatasetProxy) LongLatToProj(lon, lat float64) (Point, error) {
	if p.sr == nil {
		return Point{}, ferr.New(ferr.InvalidArgument, "dataset has no spatial reference")
	}
	geog, err := p.sr.ToWGS84()
	if err != nil {
		return Point{}, ferr.Wrap(ferr.IO, err, "derive geographic spatial reference")
	}
	tr, err := godal.NewTransform(geog, p.sr)
	if err != nil {
		return Point{}, ferr.Wrap(ferr.IO, err, "build coordinate transform")
	}
	defer tr.Close()
	xs, ys := []float64{lon}, []float64{lat}
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return Point{}, ferr.Wrap(ferr.IO, err, "transform from geographic coordinates")
	}
	return Point{X: xs[0], Y: ys[0]}, nil
}

// Warp resamples src onto dst's pixel grid (§4.1 warp(src_geo, dst_geo,
// interp)): both are wrapped in MEM-driver godal.Datasets sharing this
// Proxy's spatial reference and the projected extent of the dataset it
// wraps, then resampled with GDAL's own warper via WarpInto, the same
// in-memory MEM-driver round trip the teacher's utilities_test.go
// exercises for TestDatasetWarpInto. Working precision is float64
// regardless of src/dst's storage BaseType, matching Raster.At/SetRaw's
// own float64 boundary. interp picks GDAL's -r near/bilinear/cubic
// resampling kernel per §6.
func (p *DatasetProxy) Warp(ctx context.Context, src, dst *raster.Raster, interp Interp) error {
	if src.Channels() != dst.Channels() || src.DType() != dst.DType() {
		return ferr.New(ferr.TypeMismatch, "warp requires matching channel count and dtype")
	}
	resampling, err := interp.gdalResampling()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ferr.Wrap(ferr.InternalLogic, ctx.Err(), "warp cancelled")
	default:
	}

	minX, minY, maxX, maxY, err := p.ProjectRect(raster.Rect{W: p.sizeX, H: p.sizeY})
	if err != nil {
		return err
	}

	srcDS, err := p.memDataset(src, minX, minY, maxX, maxY)
	if err != nil {
		return err
	}
	defer srcDS.Close()
	dstDS, err := p.memDataset(dst, minX, minY, maxX, maxY)
	if err != nil {
		return err
	}
	defer dstDS.Close()

	if err := dstDS.WarpInto([]*godal.Dataset{srcDS}, []string{"-r", resampling}); err != nil {
		return ferr.Wrap(ferr.IO, err, "warp into destination grid")
	}

	buf := make([]float64, dst.Width()*dst.Height()*dst.Channels())
	if err := dstDS.Read(0, 0, buf, dst.Width(), dst.Height()); err != nil {
		return ferr.Wrap(ferr.IO, err, "read warped raster")
	}
	i := 0
	for y := 0; y < dst.Height(); y++ {
		for x := 0; x < dst.Width(); x++ {
			for c := 0; c < dst.Channels(); c++ {
				dst.SetRaw(x, y, c, buf[i])
				i++
			}
		}
	}
	return nil
}

// memDataset wraps r in a MEM-driver godal.Dataset covering the
// projected bounding box [minX,minY]-[maxX,maxY] at r's own pixel
// dimensions, sharing p's spatial reference.
func (p *DatasetProxy) memDataset(r *raster.Raster, minX, minY, maxX, maxY float64) (*godal.Dataset, error) {
	ds, err := godal.Create(godal.Memory, "", r.Channels(), godal.Float64, r.Width(), r.Height())
	if err != nil {
		return nil, ferr.Wrap(ferr.IO, err, "create in-memory warp dataset")
	}
	if p.sr != nil {
		if err := ds.SetSpatialRef(p.sr); err != nil {
			ds.Close()
			return nil, ferr.Wrap(ferr.IO, err, "set warp dataset spatial reference")
		}
	}
	gt := [6]float64{minX, (maxX - minX) / float64(r.Width()), 0, maxY, 0, -(maxY - minY) / float64(r.Height())}
	if err := ds.SetGeoTransform(gt); err != nil {
		ds.Close()
		return nil, ferr.Wrap(ferr.IO, err, "set warp dataset geotransform")
	}

	buf := make([]float64, r.Width()*r.Height()*r.Channels())
	i := 0
	for y := 0; y < r.Height(); y++ {
		for x := 0; x < r.Width(); x++ {
			for c := 0; c < r.Channels(); c++ {
				buf[i] = r.At(x, y, c)
				i++
			}
		}
	}
	if err := ds.Write(0, 0, buf, r.Width(), r.Height()); err != nil {
		ds.Close()
		return nil, ferr.Wrap(ferr.IO, err, "write warp dataset pixels")
	}
	return ds, nil
}
