package ferr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAccretesContext(t *testing.T) {
	base := New(NotFound, "pair raster missing")
	annotated := base.WithTag("high").WithDate(14)

	require.Equal(t, "high", annotated.Context["tag"])
	require.Equal(t, "14", annotated.Context["date"])
	_, hasTag := base.Context["tag"]
	assert.False(t, hasTag, "With must not mutate the receiver")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("eof")
	wrapped := Wrap(IO, cause, "read tile")
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, Is(wrapped, IO))
	assert.False(t, Is(wrapped, NotFound))
}
