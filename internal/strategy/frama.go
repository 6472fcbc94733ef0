package strategy

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidWindow is returned when a window is < 1 or not shorter than the series.
	ErrInvalidWindow = errors.New("invalid window")
	// ErrInsufficientHistory is returned when the series is too short for a pair's slow window.
	ErrInsufficientHistory = errors.New("insufficient history")
)

const (
	alphaMin = 0.1
	alphaMax = 1.0
)

// Value is one point of an adaptive average. The zero Value is not yet available.
type Value struct {
	v  float64
	ok bool
}

// Defined wraps a computed average.
func Defined(v float64) Value { return Value{v: v, ok: true} }

// NotYetAvailable marks a position without enough history behind it.
func NotYetAvailable() Value { return Value{} }

// Get returns the average and whether it is defined.
func (v Value) Get() (float64, bool) { return v.v, v.ok }

// Defined reports whether the value carries an average.
func (v Value) Defined() bool { return v.ok }

func (v Value) String() string {
	if !v.ok {
		return "n/a"
	}
	return fmt.Sprintf("%g", v.v)
}

// FRAMA computes the fractal adaptive moving average of closes over window.
// The first window+1 positions are NotYetAvailable; the filter is seeded with
// the close at index window+1.
func FRAMA(closes []float64, window int) ([]Value, error) {
	n := len(closes)
	if window < 1 || window >= n {
		return nil, fmt.Errorf("%w: window %d for %d closes", ErrInvalidWindow, window, n)
	}

	out := make([]Value, n)
	start := window + 1
	if start >= n {
		return out, nil
	}

	filt := closes[start]
	out[start] = Defined(filt)
	for t := start + 1; t < n; t++ {
		alpha := smoothing(closes, t, window)
		// filt + a*(c-filt) == a*c + (1-a)*filt, exact on flat input
		filt += alpha * (closes[t] - filt)
		out[t] = Defined(filt)
	}
	return out, nil
}

// smoothing derives alpha at t from the window ending at t (N2), the window
// ending at t-1 (N1) and the span covering both (N3). Requires t >= window.
func smoothing(closes []float64, t, window int) float64 {
	w := float64(window)
	hi1, lo1 := extremes(closes[t-window : t])
	hi2, lo2 := extremes(closes[t-window+1 : t+1])

	n1 := (hi1 - lo1) / w
	n2 := (hi2 - lo2) / w
	n3 := (math.Max(hi1, hi2) - math.Min(lo1, lo2)) / w

	dimen := 0.0
	if n1 > 0 && n2 > 0 && n3 > 0 {
		dimen = (math.Log2(n1+n2) - math.Log2(n3)) / math.Log2(2)
	}
	return clampAlpha(math.Exp(-4.6*dimen - 1))
}

func clampAlpha(a float64) float64 {
	if a < alphaMin {
		return alphaMin
	}
	if a > alphaMax {
		return alphaMax
	}
	return a
}

func extremes(window []float64) (hi, lo float64) {
	hi, lo = window[0], window[0]
	for _, p := range window[1:] {
		if p > hi {
			hi = p
		}
		if p < lo {
			lo = p
		}
	}
	return hi, lo
}
