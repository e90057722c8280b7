package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusimg/fusimg/internal/raster"
)

func TestSummarizeMeanAndHistogram(t *testing.T) {
	r, err := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, err)
	r.SetRaw(0, 0, 0, 1)
	r.SetRaw(1, 0, 0, 2)
	r.SetRaw(0, 1, 0, 3)
	r.SetRaw(1, 1, 0, 4)

	s := Summarize(r, 0, 4, 0, 4)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.Len(t, s.Histogram, 4)
	var total uint64
	for _, c := range s.Histogram {
		total += c
	}
	assert.Equal(t, uint64(4), total)
}

func TestCorrelationPerfectlyCorrelated(t *testing.T) {
	a, err := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, err)
	b, err := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, err)
	vals := [4]float64{1, 2, 3, 4}
	for i, v := range vals {
		x, y := i%2, i/2
		a.SetRaw(x, y, 0, v)
		b.SetRaw(x, y, 0, v*2+1)
	}
	c, err := Correlation(a, b, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c, 1e-9)
}

func TestCorrelationRejectsShapeMismatch(t *testing.T) {
	a, err := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, err)
	b, err := raster.New(3, 2, 1, raster.F64)
	require.NoError(t, err)
	_, err = Correlation(a, b, 0)
	require.Error(t, err)
}
