// cmd/fusimg is the thin cobra-wrapped binary collaborator SPEC_FULL.md
// keeps alongside the core: the core package never touches a
// filesystem path or parses a flag (§1 Non-goals, §6 Loader
// collaborator), so this file is where file I/O actually happens,
// grounded on the teacher's cmd/mcog/mcog.go use of godal.Open /
// godal.Dataset.Read for raster pixel access.
package main

import (
	"context"
	"fmt"

	"github.com/airbusgeo/godal"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/geoinfo"
	"github.com/fusimg/fusimg/internal/raster"
)

// loadPath opens path with godal, reads its first band into a Raster,
// and returns both the Raster and the geoinfo.Proxy the planner uses
// to resolve the raster's projected rectangle. The dataset is closed before
// returning; the Raster already owns a private copy of the pixels, and
// geoinfo.NewDatasetProxy copies out the geotransform/spatial
// reference/pixel dimensions it needs rather than holding onto ds, so
// the returned Proxy stays valid after this function's deferred Close.
func loadPath(ctx context.Context, path string) (*raster.Raster, geoinfo.Proxy, error) {
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, nil, ferr.Wrap(ferr.IO, err, fmt.Sprintf("open %s", path))
	}
	defer ds.Close()

	proxy, err := geoinfo.NewDatasetProxy(ds)
	if err != nil {
		return nil, nil, err
	}

	st := ds.Structure()
	buf := make([]float64, st.SizeX*st.SizeY)
	if err := ds.Read(0, 0, buf, st.SizeX, st.SizeY, godal.Bands(0)); err != nil {
		return nil, nil, ferr.Wrap(ferr.IO, err, fmt.Sprintf("read %s", path))
	}

	r, err := raster.New(st.SizeX, st.SizeY, 1, raster.F64)
	if err != nil {
		return nil, nil, err
	}
	for y := 0; y < st.SizeY; y++ {
		for x := 0; x < st.SizeX; x++ {
			r.SetRaw(x, y, 0, buf[y*st.SizeX+x])
		}
	}
	select {
	case <-ctx.Done():
		return nil, nil, ferr.Wrap(ferr.InternalLogic, ctx.Err(), "load cancelled")
	default:
	}
	return r, proxy, nil
}
