// Package ledger keeps the append-only allocation history of every pair and
// derives current holdings from it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingLedger is returned for a configured pair without any history.
	ErrMissingLedger = errors.New("missing ledger")
	// ErrInvalidHolding is returned for a row that holds both assets or neither.
	ErrInvalidHolding = errors.New("invalid holding")
	// ErrDuplicateEntry is returned when an entry id is already in the pair's ledger.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
)

// Store persists one ledger per pair.
type Store interface {
	// Load returns the pair's rows in chronological order.
	Load(ctx context.Context, pair model.Pair) ([]model.LedgerEntry, error)
	// Append adds one row to the pair's ledger.
	Append(ctx context.Context, pair model.Pair, entry model.LedgerEntry) error
	// AppendAll adds one row per pair as a single unit: all rows become visible or none do.
	AppendAll(ctx context.Context, rows map[model.Pair]model.LedgerEntry) error
}

// Holding is what a pair owns after folding its history.
type Holding struct {
	Base  decimal.Decimal `json:"base"`
	Quote decimal.Decimal `json:"quote"`
}

// Sign is Long iff the pair holds base asset.
func (h Holding) Sign() model.Sign {
	if h.Base.IsPositive() {
		return model.Long
	}
	return model.Short
}

func validRow(base, quote decimal.Decimal) bool {
	if base.IsNegative() || quote.IsNegative() {
		return false
	}
	return base.IsZero() != quote.IsZero()
}

// CurrentHolding folds a ledger into the pair's holding. Each allocation converts
// the whole position, so every row replaces the holding before it.
func CurrentHolding(entries []model.LedgerEntry) (Holding, error) {
	if len(entries) == 0 {
		return Holding{}, ErrMissingLedger
	}
	var h Holding
	for _, e := range entries {
		if !validRow(e.Base, e.Quote) {
			return Holding{}, fmt.Errorf("%w: entry %d holds base=%s quote=%s",
				ErrInvalidHolding, e.EntryID, e.Base, e.Quote)
		}
		h = Holding{Base: e.Base, Quote: e.Quote}
	}
	return h, nil
}

// LoadHoldings loads and folds the ledger of every pair. Any pair without
// history fails the whole call with ErrMissingLedger.
func LoadHoldings(ctx context.Context, store Store, pairs []model.Pair) (map[model.Pair]Holding, error) {
	holdings := make(map[model.Pair]Holding, len(pairs))
	for _, p := range pairs {
		entries, err := store.Load(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("load ledger %s: %w", p, err)
		}
		h, err := CurrentHolding(entries)
		if err != nil {
			return nil, fmt.Errorf("ledger %s: %w", p, err)
		}
		holdings[p] = h
	}
	return holdings, nil
}

func validateRows(rows map[model.Pair]model.LedgerEntry) error {
	for p, e := range rows {
		if !validRow(e.Base, e.Quote) {
			return fmt.Errorf("%w: pair %s entry %d holds base=%s quote=%s",
				ErrInvalidHolding, p, e.EntryID, e.Base, e.Quote)
		}
	}
	return nil
}
