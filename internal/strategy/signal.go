package strategy

import (
	"fmt"

	"github.com/Tom-Standen/MomentumTrading/internal/model"
)

// Detector derives the current direction of each configured pair from one price series.
type Detector struct {
	pairs []model.Pair
}

// NewDetector validates the pair set. A pair with fast >= slow or fast < 1 is an
// InvalidWindow configuration error.
func NewDetector(pairs []model.Pair) (*Detector, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no pairs configured", ErrInvalidWindow)
	}
	seen := make(map[model.Pair]bool, len(pairs))
	out := make([]model.Pair, 0, len(pairs))
	for _, p := range pairs {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	model.SortPairs(out)
	return &Detector{pairs: out}, nil
}

// Pairs returns the configured pairs ordered by (fast, slow).
func (d *Detector) Pairs() []model.Pair {
	out := make([]model.Pair, len(d.pairs))
	copy(out, d.pairs)
	return out
}

// Lookback is the minimum series length for every pair to have a defined last value.
func (d *Detector) Lookback() int {
	longest := 0
	for _, p := range d.pairs {
		if p.Slow > longest {
			longest = p.Slow
		}
	}
	return minLength(longest)
}

// Detect returns the sign of every pair at the last index of closes.
// Windows shared between pairs are computed once.
func (d *Detector) Detect(closes []float64) (map[model.Pair]model.Sign, error) {
	if need := d.Lookback(); len(closes) < need {
		return nil, fmt.Errorf("%w: have %d closes, need %d", ErrInsufficientHistory, len(closes), need)
	}

	cache := make(map[int]float64)
	last := func(window int) (float64, error) {
		if v, ok := cache[window]; ok {
			return v, nil
		}
		v, err := lastDefined(closes, window)
		if err != nil {
			return 0, err
		}
		cache[window] = v
		return v, nil
	}

	signals := make(map[model.Pair]model.Sign, len(d.pairs))
	for _, p := range d.pairs {
		fast, err := last(p.Fast)
		if err != nil {
			return nil, fmt.Errorf("pair %s: %w", p, err)
		}
		slow, err := last(p.Slow)
		if err != nil {
			return nil, fmt.Errorf("pair %s: %w", p, err)
		}
		signals[p] = signOf(fast - slow)
	}
	return signals, nil
}

// CrossSign is the sign of FRAMA(fast) - FRAMA(slow) at the last index. It does not
// require fast < slow, so swapping the windows flips the result.
func CrossSign(closes []float64, fast, slow int) (model.Sign, error) {
	longest := fast
	if slow > longest {
		longest = slow
	}
	if need := minLength(longest); len(closes) < need {
		return 0, fmt.Errorf("%w: have %d closes, need %d", ErrInsufficientHistory, len(closes), need)
	}
	f, err := lastDefined(closes, fast)
	if err != nil {
		return 0, err
	}
	s, err := lastDefined(closes, slow)
	if err != nil {
		return 0, err
	}
	return signOf(f - s), nil
}

// signOf maps a tie to Short.
func signOf(diff float64) model.Sign {
	if diff > 0 {
		return model.Long
	}
	return model.Short
}

func minLength(window int) int {
	return window + 2
}

func lastDefined(closes []float64, window int) (float64, error) {
	values, err := FRAMA(closes, window)
	if err != nil {
		return 0, err
	}
	v, ok := values[len(values)-1].Get()
	if !ok {
		return 0, fmt.Errorf("%w: window %d has no defined value", ErrInsufficientHistory, window)
	}
	return v, nil
}
