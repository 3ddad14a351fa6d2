package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

var _ domain.FillStore = (*FillStore)(nil)

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert records one execution. Duplicate fill ids are ignored: the same fill
// can be delivered again after a reconnect.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			fill_id, order_id, market_id, account, side,
			price_ticks, size_units, fee_units, block, tx_hash, filled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (fill_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		f.FillID, f.OrderID, int64(f.Market), f.Account, string(f.Side),
		f.PriceTicks, f.SizeUnits, f.FeeUnits, int64(f.Block), f.TxHash, f.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %d: %w", f.FillID, err)
	}
	return nil
}

const fillSelectCols = `fill_id, order_id, market_id, account, side,
	price_ticks, size_units, fee_units, block, tx_hash, filled_at`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var market, block int64
		var side string
		if err := rows.Scan(
			&f.FillID, &f.OrderID, &market, &f.Account, &side,
			&f.PriceTicks, &f.SizeUnits, &f.FeeUnits, &block, &f.TxHash, &f.Time,
		); err != nil {
			return nil, err
		}
		f.Market = domain.MarketID(market)
		f.Block = uint64(block)
		f.Side = domain.OrderSide(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListByOrder returns all fills against one order, oldest first.
func (s *FillStore) ListByOrder(ctx context.Context, orderID int64) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills
		 WHERE order_id = $1
		 ORDER BY filled_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for order %d: %w", orderID, err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

// ListBefore returns fills recorded before cutoff, oldest first, for
// archiving.
func (s *FillStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills
		 WHERE filled_at < $1
		 ORDER BY filled_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before %s: %w", cutoff, err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan aged fills: %w", err)
	}
	return fills, nil
}

// DeleteIDs removes exactly the given fills, returning the number of rows
// deleted.
func (s *FillStore) DeleteIDs(ctx context.Context, fillIDs []int64) (int64, error) {
	if len(fillIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fills WHERE fill_id = ANY($1)`, fillIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %d fills: %w", len(fillIDs), err)
	}
	return tag.RowsAffected(), nil
}
