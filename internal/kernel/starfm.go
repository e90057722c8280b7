package kernel

import (
	"context"
	"math"

	"github.com/fusimg/fusimg/internal/options"
	"github.com/fusimg/fusimg/internal/raster"
	"github.com/fusimg/fusimg/internal/store"
)

// Starfm implements the STARFM-class kernel (§4.4.1).
type Starfm struct {
	opts *options.StarfmOptions
}

func NewStarfm() *Starfm { return &Starfm{} }

func (k *Starfm) Tileable() bool { return true }

func (k *Starfm) ProcessOptions(bundle options.OptionBundle) error {
	o, ok := bundle.(*options.StarfmOptions)
	if !ok {
		return unsupportedBundle("starfm", bundle)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	k.opts = o
	return nil
}

func (k *Starfm) Predict(ctx context.Context, st *store.ImageStore, datePred int, mask *raster.MaskSet) (*raster.Raster, error) {
	if k.opts == nil {
		return nil, unsupportedBundle("starfm", nil)
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	o := k.opts

	f1, err := st.Get(o.HighTag, o.PairDate1)
	if err != nil {
		return nil, err
	}
	c1, err := st.Get(o.LowTag, o.PairDate1)
	if err != nil {
		return nil, err
	}
	c2, err := st.Get(o.LowTag, datePred)
	if err != nil {
		return nil, err
	}

	out, err := newPredictionRaster(o.PredictionArea, f1)
	if err != nil {
		return nil, err
	}

	useDouble := o.DoublePairMode && o.PairDate3 != nil &&
		abs(datePred-o.PairDate1) != abs(datePred-*o.PairDate3)

	var f3, c3 *raster.Raster
	if o.PairDate3 != nil {
		f3, err = st.Get(o.HighTag, *o.PairDate3)
		if err != nil {
			return nil, err
		}
		c3, err = st.Get(o.LowTag, *o.PairDate3)
		if err != nil {
			return nil, err
		}
	}

	half := o.WindowSize / 2
	boundsW, boundsH := f1.Width(), f1.Height()
	sa := o.PredictionArea.Expand(half, boundsW, boundsH)

	tol1, err := sampleTolerance(f1, sa, o.NumClasses)
	if err != nil {
		return nil, err
	}
	var tol3 []float64
	if useDouble {
		tol3, err = sampleTolerance(f3, sa, o.NumClasses)
		if err != nil {
			return nil, err
		}
	}

	channels := f1.Channels()
	w1 := 1.0
	w3 := 0.0
	if useDouble {
		d1 := float64(abs(datePred - o.PairDate1))
		d3 := float64(abs(datePred - *o.PairDate3))
		w1 = 1 / d1
		w3 = 1 / d3
		sum := w1 + w3
		w1, w3 = w1/sum, w3/sum
	}

	for oy := 0; oy < out.Height(); oy++ {
		for ox := 0; ox < out.Width(); ox++ {
			if ox == 0 {
				if err := checkCtx(ctx); err != nil {
					return nil, err
				}
			}
			xc, yc := o.PredictionArea.X+ox, o.PredictionArea.Y+oy
			for c := 0; c < channels; c++ {
				if maskedOut(mask, ox, oy, c) {
					applyNoData(out, ox, oy, c)
					continue
				}
				pred := predictStarfmPixel(f1, c1, c2, tol1, xc, yc, c, o, sa, half)
				if useDouble {
					pred3 := predictStarfmPixel(f3, c3, c2, tol3, xc, yc, c, o, sa, half)
					pred = w1*pred + w3*pred3
				}
				pred = clampToRange(pred, o.DataRange, out.DType())
				out.SetRaw(ox, oy, c, pred)
			}
		}
	}
	return out, nil
}

// sampleTolerance computes the per-channel similarity tolerance
// `tol = 2*sigma(F_channel)/num_classes` over the full sample area
// (§4.4.1 step 1).
func sampleTolerance(f *raster.Raster, sa raster.Rect, numClasses float64) ([]float64, error) {
	view, err := f.View(sa)
	if err != nil {
		return nil, err
	}
	tol := make([]float64, f.Channels())
	for c := range tol {
		tol[c] = 2 * view.StdDev(c, nil) / numClasses
	}
	return tol, nil
}

// predictStarfmPixel computes the single-pair STARFM prediction for
// one channel of one centre pixel (§4.4.1 steps 2-8), given fine
// raster fa and coarse rasters ca (at the pair date) and c2 (at the
// prediction date).
func predictStarfmPixel(fa, ca, c2 *raster.Raster, tol []float64, xc, yc, c int, o *options.StarfmOptions, sa raster.Rect, half int) float64 {
	faC, caC, c2C := fa.At(xc, yc, c), ca.At(xc, yc, c), c2.At(xc, yc, c)

	if o.CopyOnZeroDiff {
		if caC == c2C {
			return faC
		}
		if faC == caC {
			return c2C
		}
	}

	wx0, wy0 := maxInt(xc-half, sa.X), maxInt(yc-half, sa.Y)
	wx1, wy1 := minInt(xc+half+1, sa.X+sa.W), minInt(yc+half+1, sa.Y+sa.H)

	var sumInv, numerator float64
	for y := wy0; y < wy1; y++ {
		for x := wx0; x < wx1; x++ {
			fp, cp1, cp2 := fa.At(x, y, c), ca.At(x, y, c), c2.At(x, y, c)

			specOK := math.Abs(fp-faC) <= tol[c]
			tempOK := math.Abs(cp1-cp2) <= math.Abs(caC-c2C)
			var candidate bool
			if o.StrictFiltering {
				candidate = specOK && tempOK
			} else {
				candidate = specOK || tempOK
			}
			if !candidate {
				continue
			}

			s := applyLog(math.Abs(fp-cp1)+o.SpectralUncertainty, o.LogScale)
			d := applyLog(1+dist(x, y, xc, yc)/float64(half), o.LogScale)
			combined := s * d
			if o.TemporalWeightingMode {
				t := applyLog(math.Abs(cp1-cp2)+o.TemporalUncertainty, o.LogScale)
				combined = s * t * d
			}
			if combined <= 0 {
				combined = 1e-12
			}
			invC := 1 / combined
			sumInv += invC
			numerator += invC * (cp2 + fp - cp1)
		}
	}
	if sumInv == 0 {
		return c2C + faC - caC
	}
	return numerator / sumInv
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
