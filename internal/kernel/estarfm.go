package kernel

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/fusimg/fusimg/internal/options"
	"github.com/fusimg/fusimg/internal/raster"
	"github.com/fusimg/fusimg/internal/store"
)

// Estarfm implements the ESTARFM-class kernel (§4.4.2).
type Estarfm struct {
	opts *options.EstarfmOptions
}

func NewEstarfm() *Estarfm { return &Estarfm{} }

func (k *Estarfm) Tileable() bool { return true }

func (k *Estarfm) ProcessOptions(bundle options.OptionBundle) error {
	o, ok := bundle.(*options.EstarfmOptions)
	if !ok {
		return unsupportedBundle("estarfm", bundle)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	k.opts = o
	return nil
}

type estarfmCandidate struct{ x, y int }

func (k *Estarfm) Predict(ctx context.Context, st *store.ImageStore, datePred int, mask *raster.MaskSet) (*raster.Raster, error) {
	if k.opts == nil {
		return nil, unsupportedBundle("estarfm", nil)
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	o := k.opts
	pairDate3 := *o.PairDate3

	f1, err := st.Get(o.HighTag, o.PairDate1)
	if err != nil {
		return nil, err
	}
	c1, err := st.Get(o.LowTag, o.PairDate1)
	if err != nil {
		return nil, err
	}
	f3, err := st.Get(o.HighTag, pairDate3)
	if err != nil {
		return nil, err
	}
	c3, err := st.Get(o.LowTag, pairDate3)
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

	half := o.WindowSize / 2
	boundsW, boundsH := f1.Width(), f1.Height()
	sa := o.PredictionArea.Expand(half, boundsW, boundsH)
	channels := f1.Channels()

	var globalTol []float64
	if !o.UseLocalTol {
		globalTol, err = sampleTolerance(f1, sa, o.NumClasses)
		if err != nil {
			return nil, err
		}
	}

	_, dtHi := f1.DType().Range()
	hi := dtHi
	if o.DataRange != nil {
		hi = o.DataRange.Hi
	}

	for oy := 0; oy < out.Height(); oy++ {
		for ox := 0; ox < out.Width(); ox++ {
			if ox == 0 {
				if err := checkCtx(ctx); err != nil {
					return nil, err
				}
			}
			xc, yc := o.PredictionArea.X+ox, o.PredictionArea.Y+oy

			wx0, wy0 := maxInt(xc-half, sa.X), maxInt(yc-half, sa.Y)
			wx1, wy1 := minInt(xc+half+1, sa.X+sa.W), minInt(yc+half+1, sa.Y+sa.H)
			windowRect := raster.Rect{X: wx0, Y: wy0, W: wx1 - wx0, H: wy1 - wy0}

			tol := globalTol
			if o.UseLocalTol {
				tol, err = sampleTolerance(f1, windowRect, o.NumClasses)
				if err != nil {
					return nil, err
				}
			}

			var candidates []estarfmCandidate
			for y := wy0; y < wy1; y++ {
				for x := wx0; x < wx1; x++ {
					similar := true
					for c := 0; c < channels && similar; c++ {
						if math.Abs(f1.At(x, y, c)-f1.At(xc, yc, c)) > tol[c] {
							similar = false
						}
						if math.Abs(f3.At(x, y, c)-f3.At(xc, yc, c)) > tol[c] {
							similar = false
						}
					}
					if similar {
						candidates = append(candidates, estarfmCandidate{x, y})
					}
				}
			}

			for c := 0; c < channels; c++ {
				if maskedOut(mask, ox, oy, c) {
					applyNoData(out, ox, oy, c)
					continue
				}
				pred := estarfmPixel(f1, c1, f3, c3, c2, candidates, xc, yc, c, o, hi)
				pred = clampToRange(pred, o.DataRange, out.DType())
				out.SetRaw(ox, oy, c, pred)
			}
		}
	}
	return out, nil
}

// estarfmPixel implements steps 3-6 of §4.4.2 for one channel of one
// centre pixel, given the shared similar-pixel set.
func estarfmPixel(f1, c1, f3, c3, c2 *raster.Raster, candidates []estarfmCandidate, xc, yc, c int, o *options.EstarfmOptions, dataRangeMax float64) float64 {
	// Degenerate pool: regression weights need at least two similar
	// pixels to be meaningful, so fall back to the coarse prediction-date
	// value unchanged rather than fit a one-point regression.
	if len(candidates) < 2 {
		return c2.At(xc, yc, c)
	}

	xs := make([]float64, len(candidates))
	ys := make([]float64, len(candidates))
	c1s := make([]float64, len(candidates))
	c3s := make([]float64, len(candidates))
	f1s := make([]float64, len(candidates))
	f3s := make([]float64, len(candidates))
	var sumC1, sumC3, sumC2 float64
	for i, p := range candidates {
		f1v, f3v := f1.At(p.x, p.y, c), f3.At(p.x, p.y, c)
		c1v, c3v := c1.At(p.x, p.y, c), c3.At(p.x, p.y, c)
		c2v := c2.At(p.x, p.y, c)
		xs[i] = c1v + c3v
		ys[i] = f1v + f3v
		c1s[i], c3s[i], f1s[i], f3s[i] = c1v, c3v, f1v, f3v
		sumC1 += c1v
		sumC3 += c3v
		sumC2 += c2v
	}

	r, q := 1.0, 0.0
	if stat.Variance(xs, nil) > 0 {
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		rq := stat.RSquared(xs, ys, nil, alpha, beta)
		if !math.IsNaN(rq) {
			r, q = beta, rq
		}
	}
	var rEff float64
	if o.UseQualityWeightedRegression {
		rEff = r*q + (1 - q)
	} else if q >= 0.95 {
		rEff = r
	} else {
		rEff = 1
	}

	pooledF := append(append([]float64{}, f1s...), f3s...)
	pooledC := append(append([]float64{}, c1s...), c3s...)
	sigmaC := math.Sqrt(stat.Variance(pooledC, nil))
	threshold := o.UncertaintyFactor * dataRangeMax * math.Sqrt2
	V := 1.0
	if sigmaC > threshold {
		varC := stat.Variance(pooledC, nil)
		if varC > 0 {
			V = stat.Covariance(pooledF, pooledC, nil) / varC
		}
	}

	const eps = 1e-6
	diff1 := math.Abs(sumC1 - sumC2)
	diff3 := math.Abs(sumC3 - sumC2)
	w1raw := 1 / (diff1 + eps)
	w3raw := 1 / (diff3 + eps)
	wsum := w1raw + w3raw
	w1, w3 := w1raw/wsum, w3raw/wsum

	f1c, f3c := f1.At(xc, yc, c), f3.At(xc, yc, c)
	c1c, c3c := c1.At(xc, yc, c), c3.At(xc, yc, c)
	c2c := c2.At(xc, yc, c)

	pred1 := f1c + V*(c2c-c1c)*rEff
	pred3 := f3c + V*(c2c-c3c)*rEff
	return w1*pred1 + w3*pred3
}
