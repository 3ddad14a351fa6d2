package domain

import (
	"context"
	"time"
)

// ListOpts narrows list queries.
type ListOpts struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// OrderStore persists mirrored order history. It is the local side of
// reconciliation: requests that resolve Unknown are checked against it and
// against the REST history collaborator.
type OrderStore interface {
	Upsert(ctx context.Context, o Order) error
	GetByID(ctx context.Context, orderID int64) (Order, error)
	GetByRequestID(ctx context.Context, requestID uint64) (Order, error)
	ListOpen(ctx context.Context, account string) ([]Order, error)
	ListByMarket(ctx context.Context, market MarketID, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
	DeleteIDs(ctx context.Context, orderIDs []int64) (int64, error)
}

// FillStore persists mirrored fills.
type FillStore interface {
	Insert(ctx context.Context, f Fill) error
	ListByOrder(ctx context.Context, orderID int64) ([]Fill, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Fill, error)
	DeleteIDs(ctx context.Context, fillIDs []int64) (int64, error)
}

// BookCache mirrors live book state for external dashboards. Implementations
// must never block the engine's dispatch path.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, market MarketID) (BookSnapshot, error)
	SetBBO(ctx context.Context, market MarketID, bestBid, bestAsk int64) error
	GetBBO(ctx context.Context, market MarketID) (bestBid, bestAsk int64, err error)
}

// BlobWriter writes archive objects to blob storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// Archiver moves aged history rows into blob storage.
type Archiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}
