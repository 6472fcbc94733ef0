package ledger

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a disposable database named by LEDGER_TEST_DSN.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DSN not set")
	}
	ctx := context.Background()

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db))

	pool, err := pgxpool.Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, "DELETE FROM ledger_entries")
	require.NoError(t, err)

	store := NewPostgresStore(pool)
	a := model.Pair{Fast: 5, Slow: 202}
	b := model.Pair{Fast: 9, Slow: 204}
	require.NoError(t, store.Append(ctx, a, funding("1000")))
	require.NoError(t, store.Append(ctx, b, funding("500")))

	err = store.AppendAll(ctx, map[model.Pair]model.LedgerEntry{
		a: {EntryID: 42, Time: time.Now().UTC(), Base: d("0.5")},
		b: {EntryID: 0, Time: time.Now().UTC(), Base: d("0.25")},
	})
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	rows, err := store.Load(ctx, a)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, store.AppendAll(ctx, map[model.Pair]model.LedgerEntry{
		a: {EntryID: 42, Time: time.Now().UTC(), Base: d("0.5"), Commission: d("0.0005"), CommissionAsset: "ETH"},
	}))
	holdings, err := LoadHoldings(ctx, store, []model.Pair{a, b})
	require.NoError(t, err)
	assert.True(t, holdings[a].Base.Equal(d("0.5")))
	assert.True(t, holdings[b].Quote.Equal(d("500")))
}
