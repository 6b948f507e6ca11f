package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordlist(t *testing.T) {
	wl := NewWordlist([]string{"casa", "caso", "cada", "meta", "gato"})

	t.Run("membership is case-insensitive", func(t *testing.T) {
		assert.True(t, wl.IsKnown("casa"))
		assert.True(t, wl.IsKnown("CASA"))
		assert.True(t, wl.IsKnown("Casa"))
		assert.False(t, wl.IsKnown("caza"))
	})

	t.Run("substitution neighbors", func(t *testing.T) {
		got, err := wl.Suggest("caza")
		require.NoError(t, err)
		assert.Contains(t, got, "casa")
		assert.Contains(t, got, "cada")
		assert.Contains(t, got, "caso")
		assert.NotContains(t, got, "gato")
	})

	t.Run("missing rune", func(t *testing.T) {
		got, err := wl.Suggest("csa")
		require.NoError(t, err)
		assert.Contains(t, got, "casa")
	})

	t.Run("extra rune", func(t *testing.T) {
		got, err := wl.Suggest("cassa")
		require.NoError(t, err)
		assert.Contains(t, got, "casa")
	})

	t.Run("never suggests the query itself", func(t *testing.T) {
		got, err := wl.Suggest("casa")
		require.NoError(t, err)
		assert.NotContains(t, got, "casa")
	})

	t.Run("output is sorted", func(t *testing.T) {
		got, err := wl.Suggest("caza")
		require.NoError(t, err)
		assert.IsNonDecreasing(t, got)
	})

	t.Run("empty dictionary rejects everything", func(t *testing.T) {
		empty := NewWordlist(nil)
		assert.False(t, empty.IsKnown("casa"))
		got, err := empty.Suggest("casa")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestEditDistanceChecker(t *testing.T) {
	c := NewEditDistanceChecker([]string{"casa", "caso", "cada", "força"})

	t.Run("membership is case-insensitive", func(t *testing.T) {
		assert.True(t, c.IsKnown("Casa"))
		assert.False(t, c.IsKnown("caza"))
	})

	t.Run("distance one", func(t *testing.T) {
		got, err := c.Suggest("caza")
		require.NoError(t, err)
		assert.Contains(t, got, "casa")
		assert.Contains(t, got, "cada")
	})

	t.Run("transposition", func(t *testing.T) {
		got, err := c.Suggest("acsa")
		require.NoError(t, err)
		assert.Contains(t, got, "casa")
	})

	t.Run("alphabet includes accented runes from the dictionary", func(t *testing.T) {
		got, err := c.Suggest("forca")
		require.NoError(t, err)
		assert.Contains(t, got, "força")
	})

	t.Run("widens to distance two when distance one is empty", func(t *testing.T) {
		got, err := c.Suggest("cazza")
		require.NoError(t, err)
		assert.Contains(t, got, "casa")
	})

	t.Run("no candidates for distant garbage", func(t *testing.T) {
		got, err := c.Suggest("xyzxyzxyz")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
