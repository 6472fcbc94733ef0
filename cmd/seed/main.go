package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/app"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// seed writes the funding row (entry 0, quote held) for every configured pair
// that has no history yet. Pairs with history are left alone.
func main() {
	configPath := flag.String("config", ".", "directory containing app.env")
	quote := flag.String("quote", "1000", "quote currency allotted to each new pair")
	flag.Parse()

	amount, err := decimal.NewFromString(*quote)
	if err != nil || !amount.IsPositive() {
		log.Fatalf("invalid -quote %q", *quote)
	}

	application, err := app.NewApp(*configPath)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}
	ctx := context.Background()
	if err := application.Init(ctx); err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer application.Close()
	logger := application.Logger

	pairs, err := application.Config.Pairs()
	if err != nil {
		logger.Fatal("invalid pairs", zap.Error(err))
	}
	seeded, err := app.SeedLedgers(ctx, application.Store, pairs, amount, time.Now(), logger)
	if err != nil {
		logger.Fatal("failed to seed ledgers", zap.Error(err))
	}
	logger.Info("seeding complete", zap.Int("seeded", len(seeded)), zap.Int("pairs", len(pairs)))
}
