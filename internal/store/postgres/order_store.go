package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert inserts or replaces the mirrored copy of an order. Later updates win
// on conflict; the server only ever moves an order forward.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			order_id, request_id, market_id, account, side, order_type,
			price_ticks, size_units, filled, status, block,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)
		ON CONFLICT (order_id) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			filled     = EXCLUDED.filled,
			status     = EXCLUDED.status,
			block      = EXCLUDED.block,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		o.OrderID, int64(o.RequestID), int64(o.Market), o.Account,
		string(o.Side), string(o.Type),
		o.PriceTicks, o.SizeUnits, o.Filled,
		string(o.Status), int64(o.Block),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %d: %w", o.OrderID, err)
	}
	return nil
}

// orderSelectCols lists the columns selected when reading orders.
const orderSelectCols = `order_id, request_id, market_id, account, side, order_type,
	price_ticks, size_units, filled, status, block, created_at, updated_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var requestID, market, block int64
	var side, orderType, status string

	err := scanner.Scan(
		&o.OrderID, &requestID, &market, &o.Account,
		&side, &orderType,
		&o.PriceTicks, &o.SizeUnits, &o.Filled,
		&status, &block,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.RequestID = uint64(requestID)
	o.Market = domain.MarketID(market)
	o.Block = uint64(block)
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by its exchange-assigned id.
func (s *OrderStore) GetByID(ctx context.Context, orderID int64) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE order_id = $1`, orderID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", orderID, err)
	}
	return o, nil
}

// GetByRequestID retrieves the order created by a client request, used to
// reconcile requests that resolved Unknown.
func (s *OrderStore) GetByRequestID(ctx context.Context, requestID uint64) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE request_id = $1`, int64(requestID))

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by request %d: %w", requestID, err)
	}
	return o, nil
}

// ListOpen returns all open orders for the given account.
func (s *OrderStore) ListOpen(ctx context.Context, account string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE account = $1 AND status = 'open'
		 ORDER BY created_at DESC`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// ListByMarket returns orders for a given market with pagination.
func (s *OrderStore) ListByMarket(ctx context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE market_id = $1`
	args := []any{int64(market)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by market: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by market: %w", err)
	}
	return orders, nil
}

// ListBefore returns terminal orders last updated before cutoff, oldest
// first, for archiving.
func (s *OrderStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE updated_at < $1 AND status <> 'open'
		 ORDER BY updated_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %s: %w", cutoff, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan aged orders: %w", err)
	}
	return orders, nil
}

// DeleteIDs removes exactly the given orders, returning the number of rows
// deleted. The archiver calls this after an upload so rows it never read
// stay in place.
func (s *OrderStore) DeleteIDs(ctx context.Context, orderIDs []int64) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orders WHERE order_id = ANY($1)`, orderIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %d orders: %w", len(orderIDs), err)
	}
	return tag.RowsAffected(), nil
}
