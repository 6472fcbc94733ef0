package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Tom-Standen/MomentumTrading/internal/ledger"
	"github.com/Tom-Standen/MomentumTrading/internal/model"
	"github.com/Tom-Standen/MomentumTrading/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceFeed returns recent closed candles, oldest first.
type PriceFeed interface {
	Klines(ctx context.Context, symbol, interval string, bars int) ([]model.KLine, error)
}

// Market identifies the candles signals are computed on.
type Market struct {
	Symbol   string
	Interval string
	Bars     int
}

type Handler struct {
	store    ledger.Store
	feed     PriceFeed
	detector *strategy.Detector
	market   Market
	logger   *zap.Logger
}

func NewHandler(store ledger.Store, feed PriceFeed, detector *strategy.Detector, market Market, logger *zap.Logger) *Handler {
	return &Handler{
		store:    store,
		feed:     feed,
		detector: detector,
		market:   market,
		logger:   logger,
	}
}

type pairStatus struct {
	Pair        string          `json:"pair"`
	Fast        int             `json:"fast"`
	Slow        int             `json:"slow"`
	Initialized bool            `json:"initialized"`
	Base        decimal.Decimal `json:"base_held"`
	Quote       decimal.Decimal `json:"quote_held"`
	Position    string          `json:"position,omitempty"`
	Entries     int             `json:"entries"`
}

// GetPairs reports the ledger-implied holding of every configured pair.
func (h *Handler) GetPairs(c *gin.Context) {
	out := make([]pairStatus, 0, len(h.detector.Pairs()))
	for _, p := range h.detector.Pairs() {
		entries, err := h.store.Load(c.Request.Context(), p)
		if err != nil {
			h.logger.Error("failed to load ledger", zap.Stringer("pair", p), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		status := pairStatus{Pair: p.String(), Fast: p.Fast, Slow: p.Slow, Entries: len(entries)}
		if len(entries) > 0 {
			holding, err := ledger.CurrentHolding(entries)
			if err != nil {
				h.logger.Error("corrupt ledger", zap.Stringer("pair", p), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			status.Initialized = true
			status.Base = holding.Base
			status.Quote = holding.Quote
			status.Position = holding.Sign().String()
		}
		out = append(out, status)
	}
	c.JSON(http.StatusOK, out)
}

// GetLedger returns the full history of one configured pair.
func (h *Handler) GetLedger(c *gin.Context) {
	pair, err := model.ParsePair(c.Param("pair"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.configured(pair) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pair not configured"})
		return
	}

	entries, err := h.store.Load(c.Request.Context(), pair)
	if err != nil {
		h.logger.Error("failed to load ledger", zap.Stringer("pair", pair), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"pair": pair.String(), "entries": entries})
}

// GetSignals runs detection against fresh candles without trading.
func (h *Handler) GetSignals(c *gin.Context) {
	candles, err := h.feed.Klines(c.Request.Context(), h.market.Symbol, h.market.Interval, h.market.Bars)
	if err != nil {
		h.logger.Error("failed to fetch klines", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "price feed unavailable"})
		return
	}

	signals, err := h.detector.Detect(model.Closes(candles))
	if errors.Is(err, strategy.ErrInsufficientHistory) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to detect signals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make(map[string]string, len(signals))
	for p, s := range signals {
		out[p.String()] = s.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":        h.market.Symbol,
		"interval":      h.market.Interval,
		"bars":          len(candles),
		"trigger_price": model.LastClose(candles),
		"signals":       out,
	})
}

func (h *Handler) configured(pair model.Pair) bool {
	for _, p := range h.detector.Pairs() {
		if p == pair {
			return true
		}
	}
	return false
}
