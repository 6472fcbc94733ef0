package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/ledger"
	"github.com/Tom-Standen/MomentumTrading/internal/model"
	"github.com/Tom-Standen/MomentumTrading/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDetector struct {
	signals map[model.Pair]model.Sign
}

func (f *fakeDetector) Pairs() []model.Pair {
	var out []model.Pair
	for p := range f.signals {
		out = append(out, p)
	}
	model.SortPairs(out)
	return out
}

func (f *fakeDetector) Detect([]float64) (map[model.Pair]model.Sign, error) {
	return f.signals, nil
}

type fakeVenue struct {
	requests []model.OrderRequest
	fills    map[model.Side]model.Execution
	errs     map[model.Side]error
}

func (v *fakeVenue) PlaceMarketOrder(_ context.Context, req model.OrderRequest) (model.Execution, error) {
	v.requests = append(v.requests, req)
	if err := v.errs[req.Side]; err != nil {
		return model.Execution{}, err
	}
	return v.fills[req.Side], nil
}

type recordingEvents struct {
	runs   []model.RunEvent
	trades []model.TradeEvent
}

func (r *recordingEvents) PublishRun(_ context.Context, e model.RunEvent) error {
	r.runs = append(r.runs, e)
	return nil
}

func (r *recordingEvents) PublishTrade(_ context.Context, e model.TradeEvent) error {
	r.trades = append(r.trades, e)
	return nil
}

func candles(closes ...float64) []model.KLine {
	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.KLine, len(closes))
	for i, c := range closes {
		out[i] = model.KLine{Symbol: "ETHUSDT", Close: decimal.NewFromFloat(c), Timestamp: start.Add(time.Duration(i) * 2 * time.Hour)}
	}
	return out
}

func seed(t *testing.T, store ledger.Store, pair model.Pair, base, quote string) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), pair, model.LedgerEntry{
		EntryID: 0,
		Base:    d(base),
		Quote:   d(quote),
	}))
}

func newTestRunner(det SignalDetector, store ledger.Store, venue Venue) *Runner {
	return NewRunner(det, store, venue, newAllocator(), "ETHUSDT", 5, zap.NewNop())
}

func TestRunner_NoTrades(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, p5_202, "1", "0")
	seed(t, store, p5_204, "0", "100")
	det := &fakeDetector{signals: map[model.Pair]model.Sign{p5_202: model.Long, p5_204: model.Short}}
	venue := &fakeVenue{}
	events := &recordingEvents{}

	report, err := newTestRunner(det, store, venue).WithEvents(events).Run(context.Background(), candles(1, 2, 3))
	require.NoError(t, err)
	assert.True(t, report.Plan.Empty())
	assert.False(t, report.Traded())
	assert.Empty(t, venue.requests)
	require.Len(t, events.runs, 1)
	assert.Equal(t, OutcomeNoTrades, events.runs[0].Outcome)
}

func TestRunner_SingleBuyFlip(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, p5_202, "0", "1000")
	seed(t, store, p5_204, "0.7", "0")
	det := &fakeDetector{signals: map[model.Pair]model.Sign{p5_202: model.Long, p5_204: model.Long}}
	venue := &fakeVenue{fills: map[model.Side]model.Execution{
		model.Buy: {ID: 77, Side: model.Buy, BaseQty: d("0.5"), QuoteQty: d("1000"), AvgPrice: d("2000"), Commission: d("0.001"), CommissionAsset: "ETH"},
	}}
	events := &recordingEvents{}

	report, err := newTestRunner(det, store, venue).WithEvents(events).Run(context.Background(), candles(1990, 2000, 2010))
	require.NoError(t, err)
	assert.True(t, report.Traded())
	require.Len(t, venue.requests, 1)
	assert.Equal(t, model.Buy, venue.requests[0].Side)
	assert.True(t, venue.requests[0].Quantity.Equal(d("1000")))

	rows, _ := store.Load(context.Background(), p5_202)
	require.Len(t, rows, 2)
	assert.True(t, rows[1].Base.Equal(d("0.499")))
	assert.True(t, rows[1].Quote.IsZero())
	assert.True(t, rows[1].TriggerPrice.Equal(d("2010")))

	untouched, _ := store.Load(context.Background(), p5_204)
	assert.Len(t, untouched, 1)

	require.Len(t, events.trades, 1)
	assert.Equal(t, "5_202", events.trades[0].Allocations[0].Pair)

	// the same candles again find nothing left to do
	report, err = newTestRunner(det, store, venue).Run(context.Background(), candles(1990, 2000, 2010))
	require.NoError(t, err)
	assert.True(t, report.Plan.Empty())
	assert.Len(t, venue.requests, 1)
}

func TestRunner_FailedSideDoesNotBlockOther(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, p5_202, "0", "1000")
	seed(t, store, p5_204, "2.0", "0")
	seed(t, store, p9_204, "3.0", "0")
	det := &fakeDetector{signals: map[model.Pair]model.Sign{p5_202: model.Long, p5_204: model.Short, p9_204: model.Short}}
	venue := &fakeVenue{
		errs: map[model.Side]error{model.Buy: errors.New("timeout")},
		fills: map[model.Side]model.Execution{
			model.Sell: {ID: 88, Side: model.Sell, BaseQty: d("5.0"), QuoteQty: d("10000"), AvgPrice: d("2000"), Commission: d("10"), CommissionAsset: "USDT"},
		},
	}

	report, err := newTestRunner(det, store, venue).Run(context.Background(), candles(2000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionFailure)
	assert.ErrorIs(t, report.Buy.Err, ErrExecutionFailure)
	assert.False(t, report.Buy.Committed())
	assert.True(t, report.Sell.Committed())
	assert.True(t, report.Traded())

	buyRows, _ := store.Load(context.Background(), p5_202)
	assert.Len(t, buyRows, 1)

	a, _ := store.Load(context.Background(), p5_204)
	b, _ := store.Load(context.Background(), p9_204)
	require.Len(t, a, 2)
	require.Len(t, b, 2)
	assert.True(t, a[1].Quote.Equal(d("3996")))
	assert.True(t, b[1].Quote.Equal(d("5994")))
}

func TestRunner_MissingLedgerBeforeAnyOrder(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, p5_202, "0", "1000")
	det := &fakeDetector{signals: map[model.Pair]model.Sign{p5_202: model.Long, p5_204: model.Long}}
	venue := &fakeVenue{}

	_, err := newTestRunner(det, store, venue).Run(context.Background(), candles(1, 2))
	assert.ErrorIs(t, err, ledger.ErrMissingLedger)
	assert.Empty(t, venue.requests)
}

func TestRunner_AllocationFailureWritesNothing(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, p5_204, "2.0", "0")
	seed(t, store, p9_204, "3.0", "0")
	det := &fakeDetector{signals: map[model.Pair]model.Sign{p5_204: model.Short, p9_204: model.Short}}
	venue := &fakeVenue{fills: map[model.Side]model.Execution{
		model.Sell: {ID: 90, BaseQty: d("2.5"), QuoteQty: d("5000"), Commission: d("5"), CommissionAsset: "USDT"},
	}}

	report, err := newTestRunner(det, store, venue).Run(context.Background(), candles(2000))
	assert.ErrorIs(t, err, ErrAllocationResidual)
	assert.False(t, report.Traded())
	rows, _ := store.Load(context.Background(), p5_204)
	assert.Len(t, rows, 1)
}

func TestRunner_WithFRAMADetector(t *testing.T) {
	closes := make([]float64, 0, 44)
	for i := 0; i < 40; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 200, 200, 200, 200)

	a := model.Pair{Fast: 3, Slow: 20}
	b := model.Pair{Fast: 4, Slow: 20}
	det, err := strategy.NewDetector([]model.Pair{a, b})
	require.NoError(t, err)

	store := ledger.NewMemoryStore()
	seed(t, store, a, "0", "300")
	seed(t, store, b, "0", "100")
	venue := &fakeVenue{fills: map[model.Side]model.Execution{
		model.Buy: {ID: 5, BaseQty: d("2"), QuoteQty: d("400"), AvgPrice: d("200"), Commission: d("0.002"), CommissionAsset: "ETH"},
	}}

	report, err := newTestRunner(det, store, venue).Run(context.Background(), candles(closes...))
	require.NoError(t, err)
	assert.Equal(t, map[model.Pair]model.Sign{a: model.Long, b: model.Long}, report.Plan.Flips)
	require.Len(t, report.Buy.Allocation, 2)
	assert.True(t, report.Buy.Allocation[a].Base.Equal(d("1.4985")))
	assert.True(t, report.Buy.Allocation[b].Base.Equal(d("0.4995")))
}

func TestRunner_TruncationBeyondToleranceNeverSubmits(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, p5_202, "0.0012345678", "0")
	det := &fakeDetector{signals: map[model.Pair]model.Sign{p5_202: model.Short}}
	venue := &fakeVenue{fills: map[model.Side]model.Execution{
		model.Sell: {ID: 77, BaseQty: d("0.00123"), QuoteQty: d("2.46"), Commission: d("0.00246"), CommissionAsset: "USDT"},
	}}

	report, err := newTestRunner(det, store, venue).Run(context.Background(), candles(2000))
	assert.ErrorIs(t, err, ErrAllocationResidual)
	assert.Empty(t, venue.requests)
	assert.Nil(t, report.Sell.Execution)

	rows, _ := store.Load(context.Background(), p5_202)
	assert.Len(t, rows, 1)
}
