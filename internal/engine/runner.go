package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/infrastructure"
	"github.com/Tom-Standen/MomentumTrading/internal/ledger"
	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SignalDetector maps a close series to the sign of every configured pair.
type SignalDetector interface {
	Pairs() []model.Pair
	Detect(closes []float64) (map[model.Pair]model.Sign, error)
}

// Venue executes aggregate market orders.
type Venue interface {
	PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (model.Execution, error)
}

// EventPublisher receives run summaries and committed trades.
type EventPublisher interface {
	PublishRun(ctx context.Context, event model.RunEvent) error
	PublishTrade(ctx context.Context, event model.TradeEvent) error
}

const (
	OutcomeTraded   = "traded"
	OutcomeNoTrades = "no_trades"
	OutcomeFailed   = "failed"
)

// SideResult is what happened to one aggregate order.
type SideResult struct {
	Order      *AggregateOrder
	Submitted  decimal.Decimal
	Execution  *model.Execution
	Allocation map[model.Pair]model.LedgerEntry
	Err        error
}

// Committed reports whether the side's ledger rows were written.
func (r *SideResult) Committed() bool {
	return r != nil && r.Err == nil && r.Allocation != nil
}

// Report summarises one run.
type Report struct {
	TriggerPrice decimal.Decimal
	Signals      map[model.Pair]model.Sign
	Plan         Plan
	Buy          *SideResult
	Sell         *SideResult
}

// Traded reports whether any side was executed and committed.
func (r Report) Traded() bool {
	return r.Buy.Committed() || r.Sell.Committed()
}

// Runner performs one pass: detect, reconcile, execute, allocate.
type Runner struct {
	detector  SignalDetector
	store     ledger.Store
	venue     Venue
	allocator *Allocator
	events    EventPublisher
	symbol    string
	precision int32
	logger    *zap.Logger
}

func NewRunner(detector SignalDetector, store ledger.Store, venue Venue, allocator *Allocator,
	symbol string, precision int32, logger *zap.Logger) *Runner {
	return &Runner{
		detector:  detector,
		store:     store,
		venue:     venue,
		allocator: allocator,
		symbol:    symbol,
		precision: precision,
		logger:    logger,
	}
}

// WithEvents attaches a publisher. Publishing failures are logged, never fatal.
func (r *Runner) WithEvents(events EventPublisher) *Runner {
	r.events = events
	return r
}

// Run evaluates candles and trades any flips. The BUY side runs before the SELL
// side; each side commits or fails on its own and the returned error joins both.
func (r *Runner) Run(ctx context.Context, candles []model.KLine) (Report, error) {
	report := Report{TriggerPrice: model.LastClose(candles)}
	r.logger.Info("latest price", zap.String("symbol", r.symbol), zap.String("trigger_price", report.TriggerPrice.String()))

	signals, err := r.detector.Detect(model.Closes(candles))
	if err != nil {
		return report, r.fail(ctx, report, fmt.Errorf("detect signals: %w", err))
	}
	report.Signals = signals

	holdings, err := ledger.LoadHoldings(ctx, r.store, r.detector.Pairs())
	if err != nil {
		return report, r.fail(ctx, report, err)
	}

	plan, err := Reconcile(signals, holdings)
	if err != nil {
		return report, r.fail(ctx, report, fmt.Errorf("reconcile: %w", err))
	}
	report.Plan = plan
	r.logSignals(signals, holdings)

	if plan.Empty() {
		r.logger.Info("no new trades")
		r.finish(ctx, report, OutcomeNoTrades, nil)
		return report, nil
	}

	for pair, sign := range plan.Flips {
		infrastructure.SignalFlips.WithLabelValues(pair.String(), sign.String()).Inc()
	}

	var errs error
	if plan.Buy != nil {
		report.Buy = r.executeSide(ctx, plan.Buy, report.TriggerPrice)
		errs = multierr.Append(errs, report.Buy.Err)
	}
	if plan.Sell != nil {
		report.Sell = r.executeSide(ctx, plan.Sell, report.TriggerPrice)
		errs = multierr.Append(errs, report.Sell.Err)
	}

	outcome := OutcomeTraded
	if errs != nil {
		outcome = OutcomeFailed
	}
	r.finish(ctx, report, outcome, errs)
	return report, errs
}

func (r *Runner) executeSide(ctx context.Context, order *AggregateOrder, trigger decimal.Decimal) *SideResult {
	res := &SideResult{Order: order, Submitted: order.SubmitQuantity(r.precision)}
	side := string(order.Side)
	r.logger.Info("aggregate order",
		zap.String("side", side),
		zap.String("total", order.Total.String()),
		zap.String("submitted", res.Submitted.String()),
		zap.Int("pairs", len(order.Contributions)),
	)

	if !res.Submitted.IsPositive() {
		res.Err = fmt.Errorf("%s order: %w: quantity %s rounds to zero", side, ErrExecutionFailure, order.Total)
		infrastructure.OrdersTotal.WithLabelValues(side, "rejected").Inc()
		return res
	}
	if err := r.allocator.CheckSubmission(order, res.Submitted); err != nil {
		res.Err = fmt.Errorf("%s order not submitted: %w", side, err)
		infrastructure.OrdersTotal.WithLabelValues(side, "rejected").Inc()
		r.logger.Error("order would not allocate within tolerance", zap.String("side", side), zap.Error(err))
		return res
	}

	exec, err := r.venue.PlaceMarketOrder(ctx, model.OrderRequest{
		Symbol:   r.symbol,
		Side:     order.Side,
		Quantity: res.Submitted,
	})
	if err != nil {
		res.Err = fmt.Errorf("%s order: %w: %w", side, ErrExecutionFailure, err)
		infrastructure.OrdersTotal.WithLabelValues(side, "failed").Inc()
		r.logger.Error("order failed", zap.String("side", side), zap.Error(err))
		return res
	}
	res.Execution = &exec
	infrastructure.OrdersTotal.WithLabelValues(side, "filled").Inc()
	r.logger.Info("order filled",
		zap.String("side", side),
		zap.Int64("order_id", exec.ID),
		zap.String("base_qty", exec.BaseQty.String()),
		zap.String("quote_qty", exec.QuoteQty.String()),
		zap.String("avg_price", exec.AvgPrice.String()),
		zap.String("commission", exec.Commission.String()),
		zap.String("commission_asset", exec.CommissionAsset),
	)

	alloc, err := r.allocator.Allocate(order, exec, trigger)
	if err != nil {
		res.Err = fmt.Errorf("allocate %s order %d: %w", side, exec.ID, err)
		return res
	}
	infrastructure.AllocationDrift.WithLabelValues(side).Set(alloc.Drift.InexactFloat64())

	if err := r.store.AppendAll(ctx, alloc.Rows); err != nil {
		res.Err = fmt.Errorf("commit %s allocation %d: %w", side, exec.ID, err)
		return res
	}
	res.Allocation = alloc.Rows

	event := model.TradeEvent{Symbol: r.symbol, Execution: exec, TriggerPrice: trigger}
	for _, c := range order.Contributions {
		entry := alloc.Rows[c.Pair]
		event.Allocations = append(event.Allocations, model.PairAllocation{Pair: c.Pair.String(), Entry: entry})
		infrastructure.PairHolding.WithLabelValues(c.Pair.String(), "base").Set(entry.Base.InexactFloat64())
		infrastructure.PairHolding.WithLabelValues(c.Pair.String(), "quote").Set(entry.Quote.InexactFloat64())
		r.logger.Info("allocated",
			zap.Stringer("pair", c.Pair),
			zap.String("base", entry.Base.String()),
			zap.String("quote", entry.Quote.String()),
			zap.String("commission", entry.Commission.String()),
		)
	}
	if r.events != nil {
		if err := r.events.PublishTrade(ctx, event); err != nil {
			r.logger.Warn("failed to publish trade event", zap.Error(err))
		}
	}
	return res
}

func (r *Runner) logSignals(signals map[model.Pair]model.Sign, holdings map[model.Pair]ledger.Holding) {
	for _, p := range r.detector.Pairs() {
		r.logger.Info("pair position",
			zap.Stringer("pair", p),
			zap.Stringer("signal", signals[p]),
			zap.Stringer("held", holdings[p].Sign()),
		)
	}
}

func (r *Runner) fail(ctx context.Context, report Report, err error) error {
	r.finish(ctx, report, OutcomeFailed, err)
	return err
}

func (r *Runner) finish(ctx context.Context, report Report, outcome string, err error) {
	infrastructure.RunsTotal.WithLabelValues(outcome).Inc()
	infrastructure.LastRunTimestamp.SetToCurrentTime()
	if r.events == nil {
		return
	}
	event := model.RunEvent{
		Symbol:       r.symbol,
		Time:         time.Now().UTC(),
		TriggerPrice: report.TriggerPrice,
		Signals:      make(map[string]model.Sign, len(report.Signals)),
		Flips:        make(map[string]model.Sign, len(report.Plan.Flips)),
		Outcome:      outcome,
	}
	for p, s := range report.Signals {
		event.Signals[p.String()] = s
	}
	for p, s := range report.Plan.Flips {
		event.Flips[p.String()] = s
	}
	if err != nil {
		event.Error = err.Error()
	}
	if err := r.events.PublishRun(ctx, event); err != nil {
		r.logger.Warn("failed to publish run event", zap.Error(err))
	}
}
