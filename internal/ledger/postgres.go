package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore keeps every pair's ledger in the ledger_entries table, keyed by
// (pair_fast, pair_slow, entry_id).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context, pair model.Pair) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, time, base_held, quote_held, avg_price, trigger_price, commission, commission_asset
		FROM ledger_entries
		WHERE pair_fast = $1 AND pair_slow = $2
		ORDER BY time ASC, entry_id ASC`,
		pair.Fast, pair.Slow)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.Time, &e.Base, &e.Quote, &e.AvgPrice, &e.TriggerPrice, &e.Commission, &e.CommissionAsset); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, pair model.Pair, entry model.LedgerEntry) error {
	return s.AppendAll(ctx, map[model.Pair]model.LedgerEntry{pair: entry})
}

// AppendAll inserts all rows in one transaction.
func (s *PostgresStore) AppendAll(ctx context.Context, rows map[model.Pair]model.LedgerEntry) error {
	if err := validateRows(rows); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for pair, e := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries
				(pair_fast, pair_slow, entry_id, time, base_held, quote_held, avg_price, trigger_price, commission, commission_asset)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			pair.Fast, pair.Slow, e.EntryID, e.Time, e.Base, e.Quote, e.AvgPrice, e.TriggerPrice, e.Commission, e.CommissionAsset)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("pair %s: %w: entry %d", pair, ErrDuplicateEntry, e.EntryID)
			}
			return fmt.Errorf("insert ledger %s: %w", pair, err)
		}
	}
	return tx.Commit(ctx)
}
