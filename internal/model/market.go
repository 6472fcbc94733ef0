package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// KLine (Candle) 代表一根K线, Timestamp 为收盘时间
type KLine struct {
	Symbol        string          `json:"symbol" db:"symbol"`
	Exchange      string          `json:"exchange" db:"exchange"`
	Period        string          `json:"period" db:"period"` // "2h", "1d"
	Open          decimal.Decimal `json:"o" db:"open"`
	High          decimal.Decimal `json:"h" db:"high"`
	Low           decimal.Decimal `json:"l" db:"low"`
	Close         decimal.Decimal `json:"c" db:"close"`
	Volume        decimal.Decimal `json:"v" db:"volume"`
	QuoteVolume   decimal.Decimal `json:"qv" db:"quote_volume"`
	TakerBuyBase  decimal.Decimal `json:"tbb" db:"taker_buy_base"`
	TakerBuyQuote decimal.Decimal `json:"tbq" db:"taker_buy_quote"`
	NumTrades     int64           `json:"n" db:"num_trades"`
	Timestamp     time.Time       `json:"t" db:"time"`
}

// Closes 提取收盘价序列 (float64, 供均线计算使用)
func Closes(candles []KLine) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

// LastClose 返回最新一根K线的收盘价, 即触发价
func LastClose(candles []KLine) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	return candles[len(candles)-1].Close
}
