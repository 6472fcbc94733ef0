package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidPair 窗口参数不满足 1 <= fast < slow
var ErrInvalidPair = errors.New("invalid pair")

// Pair 一组快/慢均线窗口, 每组是一个独立记账的子策略
type Pair struct {
	Fast int `json:"fast"`
	Slow int `json:"slow"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%d_%d", p.Fast, p.Slow)
}

// Validate requires 1 <= Fast < Slow.
func (p Pair) Validate() error {
	if p.Fast < 1 {
		return fmt.Errorf("%w %s: fast window must be >= 1", ErrInvalidPair, p)
	}
	if p.Fast >= p.Slow {
		return fmt.Errorf("%w %s: fast window must be smaller than slow window", ErrInvalidPair, p)
	}
	return nil
}

// ParsePair accepts "5_202", "5:202" or "5/202".
func ParsePair(s string) (Pair, error) {
	s = strings.TrimSpace(s)
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == ':' || r == '/'
	})
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("invalid pair %q: want fast_slow", s)
	}
	fast, err := strconv.Atoi(parts[0])
	if err != nil {
		return Pair{}, fmt.Errorf("invalid pair %q: %w", s, err)
	}
	slow, err := strconv.Atoi(parts[1])
	if err != nil {
		return Pair{}, fmt.Errorf("invalid pair %q: %w", s, err)
	}
	return Pair{Fast: fast, Slow: slow}, nil
}

// ParsePairs parses a comma separated list, dropping duplicates and keeping first-seen order.
func ParsePairs(s string) ([]Pair, error) {
	var pairs []Pair
	seen := make(map[Pair]bool)
	for _, field := range strings.Split(s, ",") {
		if strings.TrimSpace(field) == "" {
			continue
		}
		p, err := ParsePair(field)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// SortPairs orders pairs by fast then slow window.
func SortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Fast != pairs[j].Fast {
			return pairs[i].Fast < pairs[j].Fast
		}
		return pairs[i].Slow < pairs[j].Slow
	})
}

// Sign 持仓方向: 多(+1) 或 空(-1)
type Sign int

const (
	Short Sign = -1
	Long  Sign = 1
)

func (s Sign) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}
