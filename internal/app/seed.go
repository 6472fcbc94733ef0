package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/ledger"
	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SeedLedgers writes the funding row (entry 0, quote held) for every pair
// without history and returns the pairs it seeded. Pairs with history are
// left alone, so a rerun is a no-op.
func SeedLedgers(ctx context.Context, store ledger.Store, pairs []model.Pair, quote decimal.Decimal, now time.Time, logger *zap.Logger) ([]model.Pair, error) {
	if !quote.IsPositive() {
		return nil, fmt.Errorf("seed quote must be positive, got %s", quote)
	}
	var seeded []model.Pair
	for _, p := range pairs {
		entries, err := store.Load(ctx, p)
		if err != nil {
			return seeded, fmt.Errorf("load %s: %w", p, err)
		}
		if len(entries) > 0 {
			logger.Info("pair already funded", zap.Stringer("pair", p), zap.Int("entries", len(entries)))
			continue
		}
		err = store.Append(ctx, p, model.LedgerEntry{
			EntryID: 0,
			Time:    now.UTC(),
			Quote:   quote,
		})
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", p, err)
		}
		logger.Info("seeded pair", zap.Stringer("pair", p), zap.String("quote", quote.String()))
		seeded = append(seeded, p)
	}
	return seeded, nil
}
