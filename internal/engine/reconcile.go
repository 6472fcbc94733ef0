package engine

import (
	"fmt"

	"github.com/Tom-Standen/MomentumTrading/internal/ledger"
	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/shopspring/decimal"
)

// Contribution is one pair's requested share of an aggregate order: quote to
// spend on a BUY, base to liquidate on a SELL.
type Contribution struct {
	Pair     model.Pair      `json:"pair"`
	Quantity decimal.Decimal `json:"quantity"`
}

// AggregateOrder nets every flip of one side into a single market order.
type AggregateOrder struct {
	Side          model.Side      `json:"side"`
	Total         decimal.Decimal `json:"total"`
	Contributions []Contribution  `json:"contributions"`
}

// SubmitQuantity truncates the total to the venue's decimal precision. Truncation
// never requests more than the pairs hold.
func (o *AggregateOrder) SubmitQuantity(precision int32) decimal.Decimal {
	return o.Total.Truncate(precision)
}

// Plan is the outcome of one reconciliation pass.
type Plan struct {
	Flips map[model.Pair]model.Sign
	Buy   *AggregateOrder
	Sell  *AggregateOrder
}

// Empty reports that no pair flipped.
func (p Plan) Empty() bool {
	return len(p.Flips) == 0
}

// Flips returns the pairs whose fresh signal differs from the sign implied by
// their holding.
func Flips(signals map[model.Pair]model.Sign, holdings map[model.Pair]ledger.Holding) (map[model.Pair]model.Sign, error) {
	flips := make(map[model.Pair]model.Sign)
	for pair, sign := range signals {
		h, ok := holdings[pair]
		if !ok {
			return nil, fmt.Errorf("pair %s: %w", pair, ledger.ErrMissingLedger)
		}
		if h.Sign() != sign {
			flips[pair] = sign
		}
	}
	return flips, nil
}

// Reconcile nets the flips into at most one BUY and one SELL order. Contributions
// are ordered by pair so equal inputs always give equal orders.
func Reconcile(signals map[model.Pair]model.Sign, holdings map[model.Pair]ledger.Holding) (Plan, error) {
	flips, err := Flips(signals, holdings)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Flips: flips}

	pairs := make([]model.Pair, 0, len(flips))
	for p := range flips {
		pairs = append(pairs, p)
	}
	model.SortPairs(pairs)

	for _, pair := range pairs {
		h := holdings[pair]
		switch flips[pair] {
		case model.Long:
			if !h.Quote.IsPositive() {
				return Plan{}, fmt.Errorf("pair %s: %w: long flip without quote", pair, ledger.ErrInvalidHolding)
			}
			plan.Buy = add(plan.Buy, model.Buy, pair, h.Quote)
		case model.Short:
			if !h.Base.IsPositive() {
				return Plan{}, fmt.Errorf("pair %s: %w: short flip without base", pair, ledger.ErrInvalidHolding)
			}
			plan.Sell = add(plan.Sell, model.Sell, pair, h.Base)
		default:
			return Plan{}, fmt.Errorf("pair %s: unknown signal %d", pair, flips[pair])
		}
	}
	return plan, nil
}

func add(order *AggregateOrder, side model.Side, pair model.Pair, qty decimal.Decimal) *AggregateOrder {
	if order == nil {
		order = &AggregateOrder{Side: side, Total: decimal.Zero}
	}
	order.Total = order.Total.Add(qty)
	order.Contributions = append(order.Contributions, Contribution{Pair: pair, Quantity: qty})
	return order
}
