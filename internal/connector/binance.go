package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/infrastructure"
	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	exchangeBinance = "binance"
	klinesPageSize  = 1000
)

var errNotFilled = errors.New("order not filled")

// NormalizeSymbol unifies different exchange symbol formats into a standard one (e.g. ETHUSDT)
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// IntervalDuration maps a Binance kline interval to its length.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval %q", interval)
}

// BinanceConfig holds REST credentials. Keys may be empty for read-only use.
type BinanceConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
}

// BinanceClient is both the price feed and the execution venue.
type BinanceClient struct {
	cfg     BinanceConfig
	hc      *http.Client
	limiter *rate.Limiter
	backoff func() retry.Backoff
	now     func() time.Time
	logger  *zap.Logger
}

func NewBinanceClient(cfg BinanceConfig, logger *zap.Logger) *BinanceClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	return &BinanceClient{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
		},
		now:    time.Now,
		logger: logger.With(zap.String("exchange", exchangeBinance)),
	}
}

type apiError struct {
	status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance status %d code %d: %s", e.status, e.Code, e.Msg)
}

func (e *apiError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func (b *BinanceClient) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *BinanceClient) do(ctx context.Context, method, path string, q url.Values, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if q == nil {
		q = url.Values{}
	}
	if signed {
		q.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		if b.cfg.RecvWindow > 0 {
			q.Set("recvWindow", strconv.FormatInt(b.cfg.RecvWindow.Milliseconds(), 10))
		}
		q.Set("signature", b.sign(q))
	}

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, strings.NewReader(q.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, err
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	}

	res, err := b.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode/100 != 2 {
		apiErr := &apiError{status: res.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return nil, apiErr
	}
	return body, nil
}

// get retries transport errors, 429 and 5xx. Orders are never retried.
func (b *BinanceClient) get(ctx context.Context, path string, q url.Values, signed bool) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, b.backoff(), func(ctx context.Context) error {
		var err error
		body, err = b.do(ctx, http.MethodGet, path, q, signed)
		if err == nil {
			return nil
		}
		var apiErr *apiError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		b.logger.Warn("binance request failed, retrying", zap.String("path", path), zap.Error(err))
		return retry.RetryableError(err)
	})
	return body, err
}

// Ping checks connectivity and, when keys are configured, that they are accepted.
func (b *BinanceClient) Ping(ctx context.Context) error {
	if _, err := b.get(ctx, "/api/v3/ping", nil, false); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if b.cfg.APIKey == "" {
		return nil
	}
	if _, err := b.get(ctx, "/api/v3/account", nil, true); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	return nil
}

// Klines returns the last bars closed candles of symbol, oldest first. Each
// candle is stamped with its close time; the bar still forming is dropped.
func (b *BinanceClient) Klines(ctx context.Context, symbol, interval string, bars int) ([]model.KLine, error) {
	step, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)
	now := b.now()
	start := now.Add(-time.Duration(bars+1) * step)
	timer := time.Now()
	defer func() {
		infrastructure.FeedLatency.WithLabelValues(exchangeBinance, symbol).Observe(time.Since(timer).Seconds())
	}()

	var out []model.KLine
	for {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", interval)
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(klinesPageSize))

		body, err := b.get(ctx, "/api/v3/klines", q, false)
		if err != nil {
			return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
		}
		var rows [][]json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode klines: %w", err)
		}
		for _, row := range rows {
			k, err := convertKline(symbol, interval, row)
			if err != nil {
				return nil, err
			}
			if k.Timestamp.After(now) {
				continue
			}
			out = append(out, k)
		}
		if len(rows) < klinesPageSize {
			break
		}
		var lastOpen int64
		if err := json.Unmarshal(rows[len(rows)-1][0], &lastOpen); err != nil {
			return nil, fmt.Errorf("decode kline open time: %w", err)
		}
		start = time.UnixMilli(lastOpen).Add(step)
	}

	if len(out) > bars {
		out = out[len(out)-bars:]
	}
	b.logger.Debug("fetched klines", zap.String("symbol", symbol), zap.String("interval", interval), zap.Int("bars", len(out)))
	return out, nil
}

// kline: [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, takerBase, takerQuote, ignore]
func convertKline(symbol, interval string, row []json.RawMessage) (model.KLine, error) {
	if len(row) < 11 {
		return model.KLine{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	var closeTime, trades int64
	if err := json.Unmarshal(row[6], &closeTime); err != nil {
		return model.KLine{}, fmt.Errorf("kline close time: %w", err)
	}
	if err := json.Unmarshal(row[8], &trades); err != nil {
		return model.KLine{}, fmt.Errorf("kline trades: %w", err)
	}
	dec := make([]decimal.Decimal, 11)
	for _, i := range []int{1, 2, 3, 4, 5, 7, 9, 10} {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return model.KLine{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return model.KLine{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		dec[i] = v
	}
	return model.KLine{
		Symbol:        symbol,
		Exchange:      exchangeBinance,
		Period:        interval,
		Open:          dec[1],
		High:          dec[2],
		Low:           dec[3],
		Close:         dec[4],
		Volume:        dec[5],
		QuoteVolume:   dec[7],
		NumTrades:     trades,
		TakerBuyBase:  dec[9],
		TakerBuyQuote: dec[10],
		Timestamp:     time.UnixMilli(closeTime).UTC(),
	}, nil
}

type orderResponse struct {
	OrderID          int64  `json:"orderId"`
	ClientOrderID    string `json:"clientOrderId"`
	TransactTime     int64  `json:"transactTime"`
	Side             string `json:"side"`
	Status           string `json:"status"`
	ExecutedQty      string `json:"executedQty"`
	CummulativeQuote string `json:"cummulativeQuoteQty"`
	Fills            []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

// PlaceMarketOrder submits a MARKET order. A BUY quantity is quote currency
// to spend, a SELL quantity is base currency to sell.
func (b *BinanceClient) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (model.Execution, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = "frama-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	q := url.Values{}
	q.Set("symbol", NormalizeSymbol(req.Symbol))
	q.Set("side", string(req.Side))
	q.Set("type", "MARKET")
	q.Set("newOrderRespType", "FULL")
	q.Set("newClientOrderId", req.ClientOrderID)
	switch req.Side {
	case model.Buy:
		q.Set("quoteOrderQty", req.Quantity.String())
	case model.Sell:
		q.Set("quantity", req.Quantity.String())
	default:
		return model.Execution{}, fmt.Errorf("unsupported side %q", req.Side)
	}

	b.logger.Info("placing market order",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity.String()),
		zap.String("client_order_id", req.ClientOrderID),
	)
	body, err := b.do(ctx, http.MethodPost, "/api/v3/order", q, true)
	if err != nil {
		return model.Execution{}, err
	}
	return interpretOrderResponse(body)
}

func interpretOrderResponse(body []byte) (model.Execution, error) {
	var res orderResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return model.Execution{}, fmt.Errorf("decode order response: %w", err)
	}
	base, err := decimal.NewFromString(res.ExecutedQty)
	if err != nil {
		return model.Execution{}, fmt.Errorf("executedQty: %w", err)
	}
	quote, err := decimal.NewFromString(res.CummulativeQuote)
	if err != nil {
		return model.Execution{}, fmt.Errorf("cummulativeQuoteQty: %w", err)
	}
	if !base.IsPositive() || !quote.IsPositive() {
		return model.Execution{}, fmt.Errorf("%w: order %d status %s", errNotFilled, res.OrderID, res.Status)
	}

	fills := make([]model.Fill, 0, len(res.Fills))
	for _, f := range res.Fills {
		price, err1 := decimal.NewFromString(f.Price)
		qty, err2 := decimal.NewFromString(f.Qty)
		comm, err3 := decimal.NewFromString(f.Commission)
		if err := multierr.Combine(err1, err2, err3); err != nil {
			return model.Execution{}, fmt.Errorf("decode fill: %w", err)
		}
		fills = append(fills, model.Fill{Price: price, Qty: qty, Commission: comm, CommissionAsset: f.CommissionAsset})
	}
	avg, commission, asset := model.SummarizeFills(fills)
	if len(fills) == 0 {
		avg = quote.Div(base)
	}

	return model.Execution{
		ID:              res.OrderID,
		ClientOrderID:   res.ClientOrderID,
		Side:            model.Side(res.Side),
		Time:            time.UnixMilli(res.TransactTime).UTC(),
		BaseQty:         base,
		QuoteQty:        quote,
		AvgPrice:        avg,
		Commission:      commission,
		CommissionAsset: asset,
	}, nil
}
