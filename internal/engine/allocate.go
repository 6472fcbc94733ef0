package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/shopspring/decimal"
)

var (
	// ErrExecutionFailure is returned when the venue rejects or times out an order.
	ErrExecutionFailure = errors.New("execution failure")
	// ErrAllocationResidual is returned when a fill cannot be attributed within tolerance.
	ErrAllocationResidual = errors.New("allocation residual exceeded")
)

// Allocation is a fill split across the pairs of one aggregate order.
type Allocation struct {
	Rows map[model.Pair]model.LedgerEntry
	// Drift is the relative gap between what the pairs requested and what the venue spent.
	Drift decimal.Decimal
}

// Allocator attributes executions back to contributing pairs pro rata.
type Allocator struct {
	baseAsset  string
	quoteAsset string
	tolerance  decimal.Decimal
}

// NewAllocator takes the traded assets, used to decide whether a commission was
// paid out of the acquired amount, and the relative residual tolerance.
func NewAllocator(baseAsset, quoteAsset string, tolerance decimal.Decimal) *Allocator {
	return &Allocator{
		baseAsset:  baseAsset,
		quoteAsset: quoteAsset,
		tolerance:  tolerance,
	}
}

// Allocate splits exec across order's contributions. Each pair gets
// fraction = requested / total of the net acquired amount and of the commission;
// the last pair takes whatever remains so the shares sum exactly to the fill.
func (a *Allocator) Allocate(order *AggregateOrder, exec model.Execution, trigger decimal.Decimal) (Allocation, error) {
	if order == nil || len(order.Contributions) == 0 {
		return Allocation{}, errors.New("allocate: empty order")
	}
	if !order.Total.IsPositive() {
		return Allocation{}, fmt.Errorf("allocate: non-positive order total %s", order.Total)
	}

	var gross, spent decimal.Decimal
	var acquired string
	switch order.Side {
	case model.Buy:
		gross, spent, acquired = exec.BaseQty, exec.QuoteQty, a.baseAsset
	case model.Sell:
		gross, spent, acquired = exec.QuoteQty, exec.BaseQty, a.quoteAsset
	default:
		return Allocation{}, fmt.Errorf("allocate: unknown side %q", order.Side)
	}

	drift := order.Total.Sub(spent).Abs().Div(order.Total)
	if drift.GreaterThan(a.tolerance) {
		return Allocation{}, fmt.Errorf("%w: %s requested %s, venue filled %s",
			ErrAllocationResidual, order.Side, order.Total, spent)
	}

	net := gross
	if a.deducts(exec.CommissionAsset, acquired) {
		net = gross.Sub(exec.Commission)
	}
	if !net.IsPositive() {
		return Allocation{}, fmt.Errorf("%w: %s net acquired %s after commission %s",
			ErrAllocationResidual, order.Side, net, exec.Commission)
	}

	rows := make(map[model.Pair]model.LedgerEntry, len(order.Contributions))
	netLeft, commLeft := net, exec.Commission
	last := len(order.Contributions) - 1
	for i, c := range order.Contributions {
		share := net.Mul(c.Quantity).Div(order.Total)
		comm := exec.Commission.Mul(c.Quantity).Div(order.Total)
		if i == last {
			if err := a.checkResidual(netLeft, share, net); err != nil {
				return Allocation{}, err
			}
			share, comm = netLeft, commLeft
		}
		netLeft = netLeft.Sub(share)
		commLeft = commLeft.Sub(comm)

		entry := model.LedgerEntry{
			EntryID:         exec.ID,
			Time:            exec.Time,
			Base:            decimal.Zero,
			Quote:           decimal.Zero,
			AvgPrice:        exec.AvgPrice,
			TriggerPrice:    trigger,
			Commission:      comm,
			CommissionAsset: exec.CommissionAsset,
		}
		if order.Side == model.Buy {
			entry.Base = share
		} else {
			entry.Quote = share
		}
		if !share.IsPositive() {
			return Allocation{}, fmt.Errorf("%w: pair %s allocated %s", ErrAllocationResidual, c.Pair, share)
		}
		rows[c.Pair] = entry
	}
	return Allocation{Rows: rows, Drift: drift}, nil
}

// CheckSubmission rejects a submitted quantity whose truncation alone already
// moves it further from the requested total than Allocate would accept.
func (a *Allocator) CheckSubmission(order *AggregateOrder, submitted decimal.Decimal) error {
	if !order.Total.IsPositive() {
		return fmt.Errorf("%w: %s non-positive order total %s", ErrAllocationResidual, order.Side, order.Total)
	}
	drift := order.Total.Sub(submitted).Abs().Div(order.Total)
	if drift.GreaterThan(a.tolerance) {
		return fmt.Errorf("%w: %s requested %s truncates to %s", ErrAllocationResidual, order.Side, order.Total, submitted)
	}
	return nil
}

// checkResidual bounds how far the remainder taken by the last pair may stray
// from its pro-rata share.
func (a *Allocator) checkResidual(remainder, share, net decimal.Decimal) error {
	residual := remainder.Sub(share).Abs()
	if residual.GreaterThan(net.Mul(a.tolerance)) {
		return fmt.Errorf("%w: remainder %s against share %s", ErrAllocationResidual, remainder, share)
	}
	return nil
}

// deducts reports whether the commission was charged in the acquired asset.
func (a *Allocator) deducts(commissionAsset, acquired string) bool {
	if commissionAsset == "" || acquired == "" {
		return true
	}
	return strings.EqualFold(commissionAsset, acquired)
}
