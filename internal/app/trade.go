package app

import (
	"context"
	"errors"

	"github.com/Tom-Standen/MomentumTrading/internal/engine"
	"github.com/Tom-Standen/MomentumTrading/internal/infrastructure"
	"github.com/Tom-Standen/MomentumTrading/internal/model"
	"github.com/Tom-Standen/MomentumTrading/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exit codes of one trader run. A run without trades exits with
// NO_TRADES_EXIT_CODE, ExitNoTrades unless configured to 0.
const (
	ExitTraded   = 0
	ExitSetup    = 1
	ExitConnect  = 2
	ExitNoTrades = 3
	ExitTrade    = 4
	ExitLocked   = 5
)

type markPricer interface {
	SetMarkPrice(price decimal.Decimal)
}

// Trade performs one locked trading pass and returns the process exit code.
func (a *App) Trade(ctx context.Context) int {
	lock, err := AcquireLock(a.Config.LockFile)
	if errors.Is(err, ErrLocked) {
		a.Logger.Warn("previous run still in progress, skipping", zap.String("lock", a.Config.LockFile))
		return ExitLocked
	}
	if err != nil {
		a.Logger.Error("failed to take run lock", zap.Error(err))
		return ExitSetup
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.Logger.Error("failed to release run lock", zap.Error(err))
		}
	}()
	defer a.pushMetrics()

	pairs, err := a.Config.Pairs()
	if err != nil {
		a.Logger.Error("invalid pairs", zap.Error(err))
		return ExitSetup
	}
	detector, err := strategy.NewDetector(pairs)
	if err != nil {
		a.Logger.Error("invalid detector configuration", zap.Error(err))
		return ExitSetup
	}

	if err := a.Venue.Ping(ctx); err != nil {
		a.Logger.Error("venue unreachable", zap.Error(err))
		return ExitConnect
	}
	bars := a.Config.Bars(detector.Pairs())
	candles, err := a.Feed.Klines(ctx, a.Config.Symbol, a.Config.Interval, bars)
	if err != nil {
		a.Logger.Error("failed to fetch price history", zap.Error(err))
		return ExitConnect
	}
	a.Logger.Info("fetched price history",
		zap.String("symbol", a.Config.Symbol),
		zap.String("interval", a.Config.Interval),
		zap.Int("bars", len(candles)),
	)
	if mp, ok := a.Venue.(markPricer); ok && len(candles) > 0 {
		mp.SetMarkPrice(model.LastClose(candles))
	}

	allocator := engine.NewAllocator(a.Config.BaseAsset, a.Config.QuoteAsset, a.Config.Tolerance())
	runner := engine.NewRunner(detector, a.Store, a.Venue, allocator, a.Config.Symbol, a.Config.QuantityPrecision, a.Logger)
	if a.Events != nil {
		runner.WithEvents(a.Events)
	}

	report, err := runner.Run(ctx, candles)
	if err != nil {
		a.Logger.Error("run failed", zap.Error(err), zap.Bool("partially_traded", report.Traded()))
		return ExitTrade
	}
	if !report.Traded() {
		a.Logger.Info("run complete, no trades", zap.Int("exit_code", a.Config.NoTradesExitCode))
		return a.Config.NoTradesExitCode
	}
	return ExitTraded
}

func (a *App) pushMetrics() {
	if a.Config.PushgatewayURL == "" {
		return
	}
	if err := infrastructure.PushMetrics(a.Config.PushgatewayURL, "frama_trader"); err != nil {
		a.Logger.Warn("failed to push metrics", zap.Error(err))
	}
}
