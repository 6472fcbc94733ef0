package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderRequest 市价单请求. BUY 时 Quantity 为计价资产金额 (quoteOrderQty), SELL 时为基础资产数量
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	ClientOrderID string          `json:"client_order_id"`
}

// Fill 交易所返回的单笔成交
type Fill struct {
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commission_asset"`
}

// Execution 聚合订单的成交结果
type Execution struct {
	ID              int64           `json:"id"`
	ClientOrderID   string          `json:"client_order_id"`
	Side            Side            `json:"side"`
	Time            time.Time       `json:"time"`
	BaseQty         decimal.Decimal `json:"base_qty"`  // executedQty
	QuoteQty        decimal.Decimal `json:"quote_qty"` // cummulativeQuoteQty
	AvgPrice        decimal.Decimal `json:"avg_price"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commission_asset"`
}

// SummarizeFills reduces a fill list to the mean fill price, the summed commission
// and the commission asset (the last fill's asset; venues report one asset per order).
func SummarizeFills(fills []Fill) (avgPrice, commission decimal.Decimal, asset string) {
	if len(fills) == 0 {
		return decimal.Zero, decimal.Zero, ""
	}
	sum := decimal.Zero
	commission = decimal.Zero
	for _, f := range fills {
		sum = sum.Add(f.Price)
		commission = commission.Add(f.Commission)
		asset = f.CommissionAsset
	}
	return sum.Div(decimal.NewFromInt(int64(len(fills)))), commission, asset
}

// LedgerEntry 子策略账本中的一行, 写入后不可修改
type LedgerEntry struct {
	EntryID         int64           `json:"entry_id" db:"entry_id"`
	Time            time.Time       `json:"time" db:"time"`
	Base            decimal.Decimal `json:"base_held" db:"base_held"`   // base acquired by this allocation
	Quote           decimal.Decimal `json:"quote_held" db:"quote_held"` // quote acquired by this allocation
	AvgPrice        decimal.Decimal `json:"avg_price" db:"avg_price"`
	TriggerPrice    decimal.Decimal `json:"trigger_price" db:"trigger_price"`
	Commission      decimal.Decimal `json:"commission" db:"commission"`
	CommissionAsset string          `json:"commission_asset" db:"commission_asset"`
}

// PairAllocation 一次成交分配到某个子策略的结果
type PairAllocation struct {
	Pair  string      `json:"pair"`
	Entry LedgerEntry `json:"entry"`
}

// TradeEvent 某一方向聚合订单成交并入账后发布的事件
type TradeEvent struct {
	Symbol       string           `json:"symbol"`
	Execution    Execution        `json:"execution"`
	TriggerPrice decimal.Decimal  `json:"trigger_price"`
	Allocations  []PairAllocation `json:"allocations"`
}

// RunEvent 每次运行结束时发布的摘要
type RunEvent struct {
	Symbol       string          `json:"symbol"`
	Time         time.Time       `json:"time"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Signals      map[string]Sign `json:"signals"`
	Flips        map[string]Sign `json:"flips"`
	Outcome      string          `json:"outcome"`
	Error        string          `json:"error,omitempty"`
}
