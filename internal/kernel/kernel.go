// Package kernel implements the FusionKernel common contract and its
// three concrete algorithms (§4.4): STARFM-class, ESTARFM-class, and
// FitFC-class. Each kernel consumes an ImageStore and an OptionBundle
// and produces a predicted Raster, following the shared moving-window
// framework (sample-area extension, window extraction, filter,
// weighted aggregation) described once in §4.4 and specialised below.
//
// Grounded on the teacher's plugin-shaped collaborators (tiler.go's
// Tiler accepting a TilerOption bundle and exposing one entry point)
// generalised from "tile a COG" to "predict a raster"; the numeric
// core itself has no teacher analogue and is built directly from the
// spec's literal formulas.
package kernel

import (
	"context"
	"math"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/options"
	"github.com/fusimg/fusimg/internal/raster"
	"github.com/fusimg/fusimg/internal/store"
)

// FusionKernel is the common contract every concrete kernel satisfies
// (§4.4): validate its options, then predict a date.
type FusionKernel interface {
	ProcessOptions(bundle options.OptionBundle) error
	Predict(ctx context.Context, st *store.ImageStore, date int, mask *raster.MaskSet) (*raster.Raster, error)
	// Tileable reports whether the Parallelizer (§4.6) may split this
	// kernel's prediction area into independently-computed tiles.
	Tileable() bool
}

// dist is the Euclidean pixel distance used by every weight formula's
// geometric term.
func dist(x1, y1, x2, y2 int) float64 {
	dx, dy := float64(x1-x2), float64(y1-y2)
	return math.Hypot(dx, dy)
}

// applyLog implements the optional log-scaling step shared by STARFM
// and reused nowhere else: f -> log(logScale*f+1)+1 when logScale > 0,
// identity otherwise (§4.4.1 step 4). A factor of exactly zero is the
// neutral element log(1)+1 = 1, not a short-circuit "perfect match" —
// see DESIGN.md's Open Question decision.
func applyLog(f, logScale float64) float64 {
	if logScale <= 0 {
		return f
	}
	return math.Log(logScale*f+1) + 1
}

// clampToRange clamps v into [lo, hi] when a data_range is configured,
// else into the native range of dtype (§4.4.2 step 7; applied
// uniformly as the general data_range contract of §3).
func clampToRange(v float64, dr *options.DataRange, dtype raster.BaseType) float64 {
	lo, hi := dtype.Range()
	if dr != nil {
		lo, hi = dr.Lo, dr.Hi
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// newPredictionRaster allocates the output Raster for a predict call,
// shaped by the configured prediction_area and the store's common
// channel count/base type, with no-data values copied from a template
// raster (§4.4: "masked pixels are left at the no-data value").
func newPredictionRaster(area raster.Rect, template *raster.Raster) (*raster.Raster, error) {
	out, err := raster.New(area.W, area.H, template.Channels(), template.DType())
	if err != nil {
		return nil, err
	}
	for c := 0; c < template.Channels(); c++ {
		out.SetNoData(c, template.NoData(c))
	}
	return out, nil
}

// maskedOut reports whether (x, y, c) in the prediction-area-local
// frame is excluded by mask; mask is addressed in the same local
// frame as the output raster.
func maskedOut(mask *raster.MaskSet, x, y, c int) bool {
	return mask != nil && !mask.ValidAt(x, y, c)
}

// applyNoData writes the no-data value for channel c into out at
// (x, y) if one is configured, else leaves the zero-initialised
// default untouched (§8 "mask preservation").
func applyNoData(out *raster.Raster, x, y, c int) {
	nd := out.NoData(c)
	if !math.IsNaN(nd) {
		out.SetRaw(x, y, c, nd)
	}
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func unsupportedBundle(kernel string, got options.OptionBundle) error {
	return ferr.Newf(ferr.InvalidArgument, "%s kernel requires matching OptionBundle, got %T", kernel, got)
}
