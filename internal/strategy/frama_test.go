package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestFRAMA_ConstantSeries(t *testing.T) {
	closes := constant(60, 42.5)
	for _, w := range []int{1, 2, 7, 30, 58} {
		values, err := FRAMA(closes, w)
		require.NoError(t, err)
		require.Len(t, values, len(closes))
		for i, v := range values {
			got, ok := v.Get()
			if !ok {
				continue
			}
			assert.Equal(t, 42.5, got, "window %d index %d", w, i)
		}
	}
}

func TestFRAMA_InvalidWindow(t *testing.T) {
	closes := constant(10, 1)
	for _, w := range []int{-1, 0, 10, 11, 50} {
		_, err := FRAMA(closes, w)
		assert.ErrorIs(t, err, ErrInvalidWindow, "window %d", w)
	}

	// a series no longer than the window is always invalid
	for w := 1; w < 6; w++ {
		for l := 0; l <= w; l++ {
			_, err := FRAMA(constant(l, 3), w)
			assert.ErrorIs(t, err, ErrInvalidWindow, "window %d length %d", w, l)
		}
	}
}

func TestFRAMA_LeadingUndefined(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i%4)
	}
	values, err := FRAMA(closes, 5)
	require.NoError(t, err)

	for i := 0; i <= 5; i++ {
		assert.False(t, values[i].Defined(), "index %d", i)
		assert.Equal(t, NotYetAvailable(), values[i])
	}
	for i := 6; i < len(values); i++ {
		assert.True(t, values[i].Defined(), "index %d", i)
	}
	seed, _ := values[6].Get()
	assert.Equal(t, closes[6], seed)
}

func TestFRAMA_NoDefinedValueWhenSeriesIsWindowPlusOne(t *testing.T) {
	values, err := FRAMA(constant(6, 2), 5)
	require.NoError(t, err)
	for _, v := range values {
		assert.False(t, v.Defined())
	}
}

func TestFRAMA_TrendingRecursion(t *testing.T) {
	// window 2 over a straight ramp: N1 = N2 = 0.5, N3 = 1, D = 0, alpha = e^-1
	closes := []float64{1, 2, 3, 4, 5, 6}
	values, err := FRAMA(closes, 2)
	require.NoError(t, err)

	a := math.Exp(-1)
	f3 := 4.0
	f4 := f3 + a*(5-f3)
	f5 := f4 + a*(6-f4)

	got3, _ := values[3].Get()
	got4, _ := values[4].Get()
	got5, _ := values[5].Get()
	assert.Equal(t, f3, got3)
	assert.InDelta(t, f4, got4, 1e-12)
	assert.InDelta(t, f5, got5, 1e-12)
}

func TestFRAMA_ChoppySeriesClampsAlpha(t *testing.T) {
	// alternating closes give D = 1, alpha = e^-5.6 which clamps to 0.1
	closes := []float64{1, 3, 1, 3, 1, 3}
	values, err := FRAMA(closes, 2)
	require.NoError(t, err)

	got4, _ := values[4].Get()
	got5, _ := values[5].Get()
	assert.InDelta(t, 2.8, got4, 1e-12)
	assert.InDelta(t, 2.82, got5, 1e-12)
}

func TestClampAlpha(t *testing.T) {
	assert.Equal(t, alphaMin, clampAlpha(0.0001))
	assert.Equal(t, alphaMax, clampAlpha(3))
	assert.Equal(t, 0.5, clampAlpha(0.5))
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "n/a", NotYetAvailable().String())
	assert.Equal(t, Value{}, NotYetAvailable())
	assert.False(t, NotYetAvailable().Defined())
	assert.Equal(t, "1.5", Defined(1.5).String())
}
