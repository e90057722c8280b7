package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusimg/fusimg/internal/ferr"
	"github.com/fusimg/fusimg/internal/raster"
)

func TestStoreUniquenessAndRemoval(t *testing.T) {
	s := New()
	r, err := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, err)
	require.NoError(t, s.Set("high", 1, r))

	assert.True(t, s.Has("high", 1))
	_, err = s.Get("high", 1)
	require.NoError(t, err)

	s.Remove("high", 1)
	assert.False(t, s.Has("high", 1))
	_, err = s.Get("high", 1)
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.NotFound))
}

func TestStoreRejectsShapeMismatch(t *testing.T) {
	s := New()
	a, _ := raster.New(2, 2, 1, raster.F64)
	b, _ := raster.New(3, 2, 1, raster.F64)
	require.NoError(t, s.Set("high", 1, a))
	err := s.Set("low", 1, b)
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.SizeMismatch))
}

func TestStoreTagsAndDates(t *testing.T) {
	s := New()
	a, _ := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, s.Set("high", 1, a))
	require.NoError(t, s.Set("high", 7, a))
	require.NoError(t, s.Set("low", 1, a))

	assert.ElementsMatch(t, []string{"high", "low"}, s.Tags())
	assert.ElementsMatch(t, []int{1, 7}, s.Dates("high"))
}

func TestMemoryBytes(t *testing.T) {
	s := New()
	a, _ := raster.New(2, 2, 1, raster.F64)
	require.NoError(t, s.Set("high", 1, a))
	assert.Equal(t, int64(2*2*1*8), s.MemoryBytes())
}
