package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store, err := NewCSVStore(t.TempDir(), "ETH", "USDT")
	require.NoError(t, err)
	pair := model.Pair{Fast: 5, Slow: 202}

	rows, err := store.Load(ctx, pair)
	require.NoError(t, err)
	assert.Empty(t, rows)

	buy := model.LedgerEntry{
		EntryID:         1234567,
		Time:            time.Date(2020, 6, 12, 10, 0, 0, 500, time.UTC),
		Base:            d("0.499"),
		AvgPrice:        d("243.18"),
		TriggerPrice:    d("243.01"),
		Commission:      d("0.001"),
		CommissionAsset: "ETH",
	}
	require.NoError(t, store.Append(ctx, pair, funding("1000")))
	require.NoError(t, store.Append(ctx, pair, buy))

	rows, err = store.Load(ctx, pair)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Quote.Equal(d("1000")))
	got := rows[1]
	assert.Equal(t, buy.EntryID, got.EntryID)
	assert.True(t, buy.Time.Equal(got.Time))
	assert.True(t, got.Base.Equal(buy.Base))
	assert.True(t, got.Quote.IsZero())
	assert.True(t, got.AvgPrice.Equal(buy.AvgPrice))
	assert.True(t, got.TriggerPrice.Equal(buy.TriggerPrice))
	assert.True(t, got.Commission.Equal(buy.Commission))
	assert.Equal(t, "ETH", got.CommissionAsset)

	_, err = os.Stat(filepath.Join(store.dir, "portfolio_5_202.csv"))
	assert.NoError(t, err)
}

func TestCSVStore_ReadsLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	legacy := "order_id,time,eth_held,usdt_held,av_price,trigger_price,comm,comm_asset\n" +
		"0,2020-06-10 00:00:00,0,1000,NaN,NaN,0,NaN\n" +
		"1563741,2020-06-12 10:00:01.123000,4.1,0,243.18,243.01,0.0041,ETH\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portfolio_13_218.csv"), []byte(legacy), 0o644))

	store, err := NewCSVStore(dir, "ETH", "USDT")
	require.NoError(t, err)
	rows, err := store.Load(context.Background(), model.Pair{Fast: 13, Slow: 218})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Quote.Equal(d("1000")))
	assert.True(t, rows[0].AvgPrice.IsZero())
	assert.Equal(t, "", rows[0].CommissionAsset)
	assert.Equal(t, int64(1563741), rows[1].EntryID)
	assert.True(t, rows[1].Base.Equal(d("4.1")))

	h, err := CurrentHolding(rows)
	require.NoError(t, err)
	assert.Equal(t, model.Long, h.Sign())
}

func TestCSVStore_AppendAllRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewCSVStore(dir, "ETH", "USDT")
	require.NoError(t, err)
	a := model.Pair{Fast: 5, Slow: 202}
	b := model.Pair{Fast: 6, Slow: 203}
	require.NoError(t, store.Append(ctx, a, funding("100")))
	require.NoError(t, store.Append(ctx, b, funding("100")))

	err = store.AppendAll(ctx, map[model.Pair]model.LedgerEntry{
		a: {EntryID: 9, Base: d("0.1")},
		b: {EntryID: 0, Base: d("0.1")},
	})
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	rows, err := store.Load(ctx, a)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, leftovers)

	err = store.AppendAll(ctx, map[model.Pair]model.LedgerEntry{
		a: {EntryID: 9, Base: d("0.1"), Quote: d("5")},
	})
	assert.ErrorIs(t, err, ErrInvalidHolding)
}

func TestCSVStore_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portfolio_5_202.csv"), []byte("entry_id,time\n1,2020-06-10 00:00:00\n"), 0o644))
	store, err := NewCSVStore(dir, "ETH", "USDT")
	require.NoError(t, err)
	_, err = store.Load(context.Background(), model.Pair{Fast: 5, Slow: 202})
	assert.Error(t, err)
}

func TestCSVStore_ReplaysInterruptedCommit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewCSVStore(dir, "ETH", "USDT")
	require.NoError(t, err)
	a := model.Pair{Fast: 5, Slow: 202}
	b := model.Pair{Fast: 6, Slow: 203}
	require.NoError(t, store.Append(ctx, a, funding("100")))
	require.NoError(t, store.Append(ctx, b, funding("200")))

	// both sides staged and journaled, only a renamed before the crash
	tmpA, err := store.writeTemp(store.path(a), []model.LedgerEntry{funding("100"), {EntryID: 9, Base: d("0.05")}})
	require.NoError(t, err)
	tmpB, err := store.writeTemp(store.path(b), []model.LedgerEntry{funding("200"), {EntryID: 9, Base: d("0.1")}})
	require.NoError(t, err)
	files := []stagedFile{
		{Tmp: filepath.Base(tmpA), Target: filepath.Base(store.path(a))},
		{Tmp: filepath.Base(tmpB), Target: filepath.Base(store.path(b))},
	}
	require.NoError(t, store.writeJournal(files))
	require.NoError(t, os.Rename(tmpA, store.path(a)))

	reopened, err := NewCSVStore(dir, "ETH", "USDT")
	require.NoError(t, err)
	for _, p := range []model.Pair{a, b} {
		rows, err := reopened.Load(ctx, p)
		require.NoError(t, err)
		require.Len(t, rows, 2, "pair %s", p)
		assert.Equal(t, int64(9), rows[1].EntryID)
	}
	_, err = os.Stat(filepath.Join(dir, journalName))
	assert.True(t, os.IsNotExist(err))
}

func TestCSVStore_RestoresOrphanBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewCSVStore(dir, "ETH", "USDT")
	require.NoError(t, err)
	a := model.Pair{Fast: 5, Slow: 202}
	require.NoError(t, store.Append(ctx, a, funding("100")))
	require.NoError(t, os.Rename(store.path(a), store.path(a)+".bak"))
	stray := store.path(a) + ".123.tmp"
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o644))

	rows, err := store.Load(ctx, a)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.bak"))
	assert.Empty(t, leftovers)
	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}
