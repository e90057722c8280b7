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

func constRaster(t *testing.T, w, h int, v float64) *raster.Raster {
	t.Helper()
	r, err := raster.New(w, h, 1, raster.F64)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r.SetRaw(x, y, 0, v)
		}
	}
	return r
}

// ESTARFM identity check (§8 scenario 2): when F1=F3=C1=C3=c and
// C2=c+5, the prediction must be the constant c+5 everywhere.
func TestEstarfmIdentity(t *testing.T) {
	const c = 50.0
	st := store.New()
	require.NoError(t, st.Set("high", 1, constRaster(t, 4, 4, c)))
	require.NoError(t, st.Set("low", 1, constRaster(t, 4, 4, c)))
	require.NoError(t, st.Set("high", 3, constRaster(t, 4, 4, c)))
	require.NoError(t, st.Set("low", 3, constRaster(t, 4, 4, c)))
	require.NoError(t, st.Set("low", 2, constRaster(t, 4, 4, c+5)))

	area := raster.Rect{X: 0, Y: 0, W: 4, H: 4}
	o, err := options.NewEstarfmOptions(3, area, "high", "low", 1, 3, options.WithEstarfmNumClasses(4))
	require.NoError(t, err)

	k := NewEstarfm()
	require.NoError(t, k.ProcessOptions(o))
	out, err := k.Predict(context.Background(), st, 2, nil)
	require.NoError(t, err)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			assert.InDelta(t, c+5, out.At(x, y, 0), 1e-6)
		}
	}
}

// estarfmRegressionFixture is a 3-pixel row whose candidate regression
// (C1+C3 against F1+F3) fits slope 3/2 with R²=27/28 >= 0.95, the
// fixture shared by the quality-weighted-regression and
// uncertainty-threshold tests below.
func estarfmRegressionFixture(t *testing.T, st *store.ImageStore) {
	t.Helper()
	require.NoError(t, st.Set("high", 1, rasterRow(t, []float64{0, 1, 3})))
	require.NoError(t, st.Set("low", 1, rasterRow(t, []float64{0, 1, 2})))
	require.NoError(t, st.Set("high", 3, rasterRow(t, []float64{0, 0, 0})))
	require.NoError(t, st.Set("low", 3, rasterRow(t, []float64{0, 0, 0})))
	require.NoError(t, st.Set("low", 2, rasterRow(t, []float64{5, 5, 5})))
}

// TestEstarfmUseQualityWeightedRegressionChangesREff exercises §4.4.2
// step 4's two rEff formulas: the hard-cutoff mode uses the fitted
// slope unchanged once R² clears 0.95, while the quality-weighted
// mode always blends it with 1 in proportion to R² — the two diverge
// even above the 0.95 cutoff.
func TestEstarfmUseQualityWeightedRegressionChangesREff(t *testing.T) {
	area := raster.Rect{X: 1, Y: 0, W: 1, H: 1}

	stHard := store.New()
	estarfmRegressionFixture(t, stHard)
	hardOpts, err := options.NewEstarfmOptions(3, area, "high", "low", 1, 3, options.WithEstarfmNumClasses(1))
	require.NoError(t, err)
	kHard := NewEstarfm()
	require.NoError(t, kHard.ProcessOptions(hardOpts))
	outHard, err := kHard.Predict(context.Background(), stHard, 2, nil)
	require.NoError(t, err)
	// hard cutoff: R²=27/28 >= 0.95 -> rEff = r = 3/2
	require.InDelta(t, 65.0/9.0, outHard.At(0, 0, 0), 1e-4)

	stSmooth := store.New()
	estarfmRegressionFixture(t, stSmooth)
	smoothOpts, err := options.NewEstarfmOptions(3, area, "high", "low", 1, 3,
		options.WithEstarfmNumClasses(1), options.WithUseQualityWeightedRegression(true))
	require.NoError(t, err)
	kSmooth := NewEstarfm()
	require.NoError(t, kSmooth.ProcessOptions(smoothOpts))
	outSmooth, err := kSmooth.Predict(context.Background(), stSmooth, 2, nil)
	require.NoError(t, err)
	// quality-weighted: rEff = r*q + (1-q) = (3/2)(27/28) + (1/28) = 83/56
	require.InDelta(t, 50.0/7.0, outSmooth.At(0, 0, 0), 1e-4)

	assert.NotEqual(t, outHard.At(0, 0, 0), outSmooth.At(0, 0, 0))
}

// TestEstarfmUncertaintyThresholdSelectsV exercises both branches of
// §4.4.2 step 5: V stays 1 while the pooled coarse-pixel spread is
// within uncertainty_factor*data_range_max*sqrt(2), and switches to
// the fitted covariance/variance ratio once that spread exceeds it.
func TestEstarfmUncertaintyThresholdSelectsV(t *testing.T) {
	area := raster.Rect{X: 1, Y: 0, W: 1, H: 1}

	stIdentityV := store.New()
	estarfmRegressionFixture(t, stIdentityV)
	identityOpts, err := options.NewEstarfmOptions(3, area, "high", "low", 1, 3,
		options.WithEstarfmNumClasses(1), options.WithUncertaintyFactor(1), options.WithEstarfmDataRange(0, 1000))
	require.NoError(t, err)
	kIdentityV := NewEstarfm()
	require.NoError(t, kIdentityV.ProcessOptions(identityOpts))
	outIdentityV, err := kIdentityV.Predict(context.Background(), stIdentityV, 2, nil)
	require.NoError(t, err)
	// threshold 1*1000*sqrt(2) far exceeds the pooled sigma -> V=1
	require.InDelta(t, 65.0/9.0, outIdentityV.At(0, 0, 0), 1e-4)

	stFitV := store.New()
	estarfmRegressionFixture(t, stFitV)
	fitOpts, err := options.NewEstarfmOptions(3, area, "high", "low", 1, 3,
		options.WithEstarfmNumClasses(1), options.WithUncertaintyFactor(0), options.WithEstarfmDataRange(0, 1000))
	require.NoError(t, err)
	kFitV := NewEstarfm()
	require.NoError(t, kFitV.ProcessOptions(fitOpts))
	outFitV, err := kFitV.Predict(context.Background(), stFitV, 2, nil)
	require.NoError(t, err)
	// threshold 0 -> any nonzero pooled sigma selects the fitted
	// covariance/variance ratio, V=10/7
	require.InDelta(t, 635.0/63.0, outFitV.At(0, 0, 0), 1e-4)
}

// TestEstarfmUseLocalTolChangesCandidatePool exercises §4.4.2 step 1's
// UseLocalTol switch: a window with a tight local spread but a much
// wider full-sample-area spread admits a different candidate pool
// depending on which sigma the similarity tolerance is derived from.
func TestEstarfmUseLocalTolChangesCandidatePool(t *testing.T) {
	build := func(st *store.ImageStore) {
		require.NoError(t, st.Set("high", 1, rasterRow(t, []float64{1000, 1000, 0, 10, 20, 1000, 1000})))
		require.NoError(t, st.Set("low", 1, rasterRow(t, []float64{0, 0, 5, 15, 45, 0, 0})))
		require.NoError(t, st.Set("high", 3, rasterRow(t, []float64{0, 0, 0, 0, 0, 0, 0})))
		require.NoError(t, st.Set("low", 3, rasterRow(t, []float64{0, 0, 0, 0, 0, 0, 0})))
		require.NoError(t, st.Set("low", 2, rasterRow(t, []float64{42, 42, 42, 42, 42, 42, 42})))
	}
	// a 5-wide prediction area so the sample area spans the whole
	// 7-pixel row while the window around x=3 stays 3 pixels wide.
	area := raster.Rect{X: 1, Y: 0, W: 5, H: 1}

	stGlobal := store.New()
	build(stGlobal)
	globalOpts, err := options.NewEstarfmOptions(3, area, "high", "low", 1, 3, options.WithEstarfmNumClasses(4))
	require.NoError(t, err)
	kGlobal := NewEstarfm()
	require.NoError(t, kGlobal.ProcessOptions(globalOpts))
	outGlobal, err := kGlobal.Predict(context.Background(), stGlobal, 2, nil)
	require.NoError(t, err)
	// the whole-row sigma is large enough that both window neighbours
	// of x=3 stay inside tolerance -> a 3-point regression runs.
	require.InDelta(t, 7224.0/187.0, outGlobal.At(2, 0, 0), 1e-3)

	stLocal := store.New()
	build(stLocal)
	localOpts, err := options.NewEstarfmOptions(3, area, "high", "low", 1, 3,
		options.WithEstarfmNumClasses(4), options.WithUseLocalTol(true))
	require.NoError(t, err)
	kLocal := NewEstarfm()
	require.NoError(t, kLocal.ProcessOptions(localOpts))
	outLocal, err := kLocal.Predict(context.Background(), stLocal, 2, nil)
	require.NoError(t, err)
	// the window-only sigma around x=3 is tight enough to exclude both
	// neighbours, leaving fewer than 2 candidates -> falls back to the
	// coarse prediction-date value unchanged.
	require.InDelta(t, 42.0, outLocal.At(2, 0, 0), 1e-9)
}
