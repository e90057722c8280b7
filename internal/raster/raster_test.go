package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, r *Raster, values [][]float64) {
	t.Helper()
	for y, row := range values {
		for x, v := range row {
			r.SetRaw(x, y, 0, v)
		}
	}
}

func TestViewRejectsOutOfBounds(t *testing.T) {
	r, err := New(4, 4, 1, F64)
	require.NoError(t, err)
	_, err = r.View(Rect{X: 2, Y: 2, W: 4, H: 4})
	require.Error(t, err)
}

func TestViewSharesBuffer(t *testing.T) {
	r, err := New(4, 4, 1, F64)
	require.NoError(t, err)
	fill(t, r, [][]float64{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
	})
	v, err := r.View(Rect{X: 1, Y: 1, W: 2, H: 2})
	require.NoError(t, err)
	assert.Equal(t, 6.0, v.At(0, 0, 0))
	assert.Equal(t, 7.0, v.At(1, 0, 0))
	assert.Equal(t, 10.0, v.At(0, 1, 0))

	v.SetRaw(0, 0, 0, 99)
	assert.Equal(t, 99.0, r.At(1, 1, 0), "view mutation must be visible through the shared buffer")
}

func TestConvertToSaturates(t *testing.T) {
	r, err := New(2, 1, 1, I32)
	require.NoError(t, err)
	r.SetRaw(0, 0, 0, 300)
	r.SetRaw(1, 0, 0, -5)

	out, err := r.ConvertTo(U8)
	require.NoError(t, err)
	assert.Equal(t, 255.0, out.At(0, 0, 0))
	assert.Equal(t, 0.0, out.At(1, 0, 0))
	// shape invariant: all ops except convert_to preserve w/h/channels
	assert.Equal(t, r.Width(), out.Width())
	assert.Equal(t, r.Height(), out.Height())
	assert.Equal(t, r.Channels(), out.Channels())
}

func TestAbsDiffSymmetric(t *testing.T) {
	a, _ := New(2, 2, 1, F64)
	b, _ := New(2, 2, 1, F64)
	fill(t, a, [][]float64{{1, 5}, {3, 9}})
	fill(t, b, [][]float64{{4, 2}, {3, 1}})

	ab, err := a.AbsDiff(b)
	require.NoError(t, err)
	ba, err := b.AbsDiff(a)
	require.NoError(t, err)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			assert.Equal(t, ab.At(x, y, 0), ba.At(x, y, 0))
		}
	}
}

func TestAbsDiffSizeMismatch(t *testing.T) {
	a, _ := New(2, 2, 1, F64)
	b, _ := New(3, 2, 1, F64)
	_, err := a.AbsDiff(b)
	require.Error(t, err)
}

func TestMaskIdempotence(t *testing.T) {
	r, _ := New(3, 1, 1, F64)
	fill(t, r, [][]float64{{1, 5, 10}})
	intervals := []Interval{Closed(0, 6)}

	m1, err := r.CreateMaskFromRanges(intervals)
	require.NoError(t, err)
	m2, err := r.CreateMaskFromRanges(intervals)
	require.NoError(t, err)
	for x := 0; x < 3; x++ {
		assert.Equal(t, m1.ValidAt(x, 0, 0), m2.ValidAt(x, 0, 0))
	}
	assert.True(t, m1.ValidAt(0, 0, 0))
	assert.True(t, m1.ValidAt(1, 0, 0))
	assert.False(t, m1.ValidAt(2, 0, 0))
}

func TestSetWithMask(t *testing.T) {
	r, _ := New(2, 1, 1, F64)
	m, _ := NewMask(2, 1, 1)
	m.SetRaw(0, 0, 0, 255)
	require.NoError(t, r.Set(7, m))
	assert.Equal(t, 7.0, r.At(0, 0, 0))
	assert.Equal(t, 0.0, r.At(1, 0, 0))
}

func TestSplitMaterializesChannels(t *testing.T) {
	r, _ := New(2, 1, 2, F64)
	r.SetRaw(0, 0, 0, 1)
	r.SetRaw(0, 0, 1, 2)
	parts := r.Split()
	require.Len(t, parts, 2)
	assert.Equal(t, 1.0, parts[0].At(0, 0, 0))
	assert.Equal(t, 2.0, parts[1].At(0, 0, 0))
}

func TestNoDataDefaultsToNaN(t *testing.T) {
	r, _ := New(1, 1, 1, F64)
	assert.True(t, math.IsNaN(r.NoData(0)))
}
