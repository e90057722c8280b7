package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusimg/fusimg/internal/options"
	"github.com/fusimg/fusimg/internal/raster"
	"github.com/fusimg/fusimg/internal/store"
)

func raster2x2(t *testing.T, vals [4]float64) *raster.Raster {
	t.Helper()
	r, err := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, err)
	r.SetRaw(0, 0, 0, vals[0])
	r.SetRaw(1, 0, 0, vals[1])
	r.SetRaw(0, 1, 0, vals[2])
	r.SetRaw(1, 1, 0, vals[3])
	return r
}

func raster1x1(t *testing.T, v float64) *raster.Raster {
	t.Helper()
	r, err := raster.New(1, 1, 1, raster.F64)
	require.NoError(t, err)
	r.SetRaw(0, 0, 0, v)
	return r
}

func rasterRow(t *testing.T, vals []float64) *raster.Raster {
	t.Helper()
	r, err := raster.New(len(vals), 1, 1, raster.F64)
	require.NoError(t, err)
	for x, v := range vals {
		r.SetRaw(x, 0, 0, v)
	}
	return r
}

// STARFM single-pair zero-difference copy (§8 scenario 1).
func TestStarfmZeroDifferenceCopy(t *testing.T) {
	st := store.New()
	f1 := raster2x2(t, [4]float64{10, 20, 30, 40})
	c1 := raster2x2(t, [4]float64{10, 20, 30, 40})
	c2 := raster2x2(t, [4]float64{11, 22, 33, 44})
	require.NoError(t, st.Set("high", 1, f1))
	require.NoError(t, st.Set("low", 1, c1))
	require.NoError(t, st.Set("low", 2, c2))

	area := raster.Rect{X: 0, Y: 0, W: 2, H: 2}
	o, err := options.NewStarfmOptions(3, area, "high", "low", 1, options.WithCopyOnZeroDiff(true))
	require.NoError(t, err)

	k := NewStarfm()
	require.NoError(t, k.ProcessOptions(o))
	out, err := k.Predict(context.Background(), st, 2, nil)
	require.NoError(t, err)

	require.Equal(t, 11.0, out.At(0, 0, 0))
	require.Equal(t, 22.0, out.At(1, 0, 0))
	require.Equal(t, 33.0, out.At(0, 1, 0))
	require.Equal(t, 44.0, out.At(1, 1, 0))
}

// Mask propagation (§8 scenario 6): masked-out pixels carry the
// no-data value, others compute normally.
func TestStarfmMaskPropagation(t *testing.T) {
	st := store.New()
	f1, err := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, err)
	f1.SetRaw(0, 0, 0, 1)
	f1.SetRaw(1, 0, 0, 2) // stand-in finite value; NaN centre is exercised via mask instead
	f1.SetRaw(0, 1, 0, 3)
	f1.SetRaw(1, 1, 0, 4)
	f1.SetNoData(0, -9999)
	c1 := raster2x2(t, [4]float64{1, 2, 3, 4})
	c2 := raster2x2(t, [4]float64{5, 6, 7, 8})
	require.NoError(t, st.Set("high", 1, f1))
	require.NoError(t, st.Set("low", 1, c1))
	require.NoError(t, st.Set("low", 2, c2))

	area := raster.Rect{X: 0, Y: 0, W: 2, H: 2}
	o, err := options.NewStarfmOptions(3, area, "high", "low", 1)
	require.NoError(t, err)

	maskRaster, err := raster.New(2, 2, 1, raster.U8)
	require.NoError(t, err)
	maskRaster.SetRaw(0, 0, 0, 255)
	maskRaster.SetRaw(1, 0, 0, 0)
	maskRaster.SetRaw(0, 1, 0, 255)
	maskRaster.SetRaw(1, 1, 0, 255)
	mask := &raster.MaskSet{Raster: *maskRaster}

	k := NewStarfm()
	require.NoError(t, k.ProcessOptions(o))
	out, err := k.Predict(context.Background(), st, 2, mask)
	require.NoError(t, err)

	require.Equal(t, -9999.0, out.At(1, 0, 0))
}

// STARFM double-pair blend (§4.4.1 step 8): with DoublePairMode and
// unequal prediction-date distances to the two pair dates, the final
// prediction is the inverse-distance-weighted blend of each pair's
// own single-pair prediction. CopyOnZeroDiff pins each single-pair
// prediction to a known value so the blend weights are the only
// unknown being checked.
func TestStarfmDoublePairBlend(t *testing.T) {
	st := store.New()
	require.NoError(t, st.Set("high", 0, raster1x1(t, 100)))  // F1
	require.NoError(t, st.Set("low", 0, raster1x1(t, 50)))    // C1
	require.NoError(t, st.Set("high", 10, raster1x1(t, 77)))  // F3
	require.NoError(t, st.Set("low", 10, raster1x1(t, 77)))   // C3
	require.NoError(t, st.Set("low", 2, raster1x1(t, 50)))    // C2, coarse at pred date

	area := raster.Rect{X: 0, Y: 0, W: 1, H: 1}
	o, err := options.NewStarfmOptions(3, area, "high", "low", 0,
		options.WithCopyOnZeroDiff(true), options.WithPairDate3(10), options.WithDoublePairMode(true))
	require.NoError(t, err)

	k := NewStarfm()
	require.NoError(t, k.ProcessOptions(o))
	out, err := k.Predict(context.Background(), st, 2, nil)
	require.NoError(t, err)

	// pair1: C1==C2 (50==50) -> copy F1 -> pred1 = 100
	// pair3: F3==C3 (77==77) and C3!=C2 -> copy C2 -> pred3 = 50
	// w1 = 1/|2-0| = 0.5, w3 = 1/|2-10| = 0.125, normalized to 0.8/0.2
	// blend = 0.8*100 + 0.2*50 = 90
	require.InDelta(t, 90.0, out.At(0, 0, 0), 1e-9)
}

// STARFM strict vs loose candidate filtering (§4.4.1 step 3):
// StrictFiltering requires both the spectral and temporal tests to
// pass; the default (loose) mode accepts either, letting more
// candidate pixels into the weighted average and changing the result.
func TestStarfmStrictVsLooseFiltering(t *testing.T) {
	st := store.New()
	require.NoError(t, st.Set("high", 1, rasterRow(t, []float64{20, 20, 100})))
	require.NoError(t, st.Set("low", 1, rasterRow(t, []float64{5, 0, 0})))
	require.NoError(t, st.Set("low", 2, rasterRow(t, []float64{10, 0, 0})))

	area := raster.Rect{X: 1, Y: 0, W: 1, H: 1}

	strictOpts, err := options.NewStarfmOptions(3, area, "high", "low", 1,
		options.WithNumClasses(2), options.WithStrictFiltering(true))
	require.NoError(t, err)
	kStrict := NewStarfm()
	require.NoError(t, kStrict.ProcessOptions(strictOpts))
	outStrict, err := kStrict.Predict(context.Background(), st, 2, nil)
	require.NoError(t, err)
	// strict: only the centre pixel passes both tests -> prediction is
	// just the centre's own single-candidate weighted average, 20.
	require.InDelta(t, 20.0, outStrict.At(0, 0, 0), 1e-9)

	looseOpts, err := options.NewStarfmOptions(3, area, "high", "low", 1,
		options.WithNumClasses(2), options.WithStrictFiltering(false))
	require.NoError(t, err)
	kLoose := NewStarfm()
	require.NoError(t, kLoose.ProcessOptions(looseOpts))
	outLoose, err := kLoose.Predict(context.Background(), st, 2, nil)
	require.NoError(t, err)
	// loose: both neighbours also pass (one via spectral, one via
	// temporal), pulling the result away from the strict-mode value.
	require.InDelta(t, 1400.0/53.0, outLoose.At(0, 0, 0), 1e-6)
}

// STARFM log-scale weighting (§4.4.1 step 4): a positive LogScale
// compresses each weighting factor through log(logScale*f+1)+1 before
// multiplying, which changes the relative weight neighbours receive
// compared to the untransformed (LogScale==0) weighting.
func TestStarfmLogScaleChangesWeighting(t *testing.T) {
	st := store.New()
	require.NoError(t, st.Set("high", 1, rasterRow(t, []float64{10, 20, 40})))
	require.NoError(t, st.Set("low", 1, rasterRow(t, []float64{10, 20, 40})))
	require.NoError(t, st.Set("low", 2, rasterRow(t, []float64{10, 20, 40})))

	area := raster.Rect{X: 1, Y: 0, W: 1, H: 1}

	noLog, err := options.NewStarfmOptions(3, area, "high", "low", 1,
		options.WithStrictFiltering(false), options.WithSpectralUncertainty(1))
	require.NoError(t, err)
	kNoLog := NewStarfm()
	require.NoError(t, kNoLog.ProcessOptions(noLog))
	outNoLog, err := kNoLog.Predict(context.Background(), st, 2, nil)
	require.NoError(t, err)
	require.InDelta(t, 22.5, outNoLog.At(0, 0, 0), 1e-9)

	withLog, err := options.NewStarfmOptions(3, area, "high", "low", 1,
		options.WithStrictFiltering(false), options.WithSpectralUncertainty(1), options.WithLogScale(1))
	require.NoError(t, err)
	kLog := NewStarfm()
	require.NoError(t, kLog.ProcessOptions(withLog))
	outLog, err := kLog.Predict(context.Background(), st, 2, nil)
	require.NoError(t, err)

	assert.NotEqual(t, outNoLog.At(0, 0, 0), outLog.At(0, 0, 0))
}
