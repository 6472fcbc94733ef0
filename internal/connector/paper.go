package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errNoMarkPrice = errors.New("paper venue: no mark price")

// PaperVenue fills every market order in full at the current mark price and
// charges feeRate in the acquired asset.
type PaperVenue struct {
	mu         sync.Mutex
	baseAsset  string
	quoteAsset string
	feeRate    decimal.Decimal
	mark       decimal.Decimal
	nextID     int64
	now        func() time.Time
}

func NewPaperVenue(baseAsset, quoteAsset string, feeRate decimal.Decimal) *PaperVenue {
	return &PaperVenue{
		baseAsset:  baseAsset,
		quoteAsset: quoteAsset,
		feeRate:    feeRate,
		nextID:     time.Now().UnixMilli(),
		now:        time.Now,
	}
}

// SetMarkPrice sets the price the next orders fill at.
func (p *PaperVenue) SetMarkPrice(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mark = price
}

func (p *PaperVenue) Ping(context.Context) error { return nil }

func (p *PaperVenue) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (model.Execution, error) {
	if err := ctx.Err(); err != nil {
		return model.Execution{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.mark.IsPositive() {
		return model.Execution{}, errNoMarkPrice
	}
	if !req.Quantity.IsPositive() {
		return model.Execution{}, fmt.Errorf("paper venue: non-positive quantity %s", req.Quantity)
	}

	if req.ClientOrderID == "" {
		req.ClientOrderID = "paper-" + uuid.NewString()
	}
	exec := model.Execution{
		ClientOrderID: req.ClientOrderID,
		Side:          req.Side,
		Time:          p.now().UTC(),
		AvgPrice:      p.mark,
	}
	switch req.Side {
	case model.Buy:
		exec.QuoteQty = req.Quantity
		exec.BaseQty = req.Quantity.Div(p.mark).Truncate(8)
		exec.Commission = exec.BaseQty.Mul(p.feeRate).Truncate(8)
		exec.CommissionAsset = p.baseAsset
	case model.Sell:
		exec.BaseQty = req.Quantity
		exec.QuoteQty = req.Quantity.Mul(p.mark).Truncate(8)
		exec.Commission = exec.QuoteQty.Mul(p.feeRate).Truncate(8)
		exec.CommissionAsset = p.quoteAsset
	default:
		return model.Execution{}, fmt.Errorf("paper venue: unsupported side %q", req.Side)
	}
	p.nextID++
	exec.ID = p.nextID
	return exec, nil
}
