package app

import (
	"context"
	"log/slog"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/engine"
)

// recorderBuffer bounds the persistence queues. The engine's inbound consumer
// never blocks on the database: when a queue is full the record is dropped
// and reconciliation against order history fills the hole later.
const recorderBuffer = 1024

// Recorder implements engine.Sink by queueing mirrored records and persisting
// them on a separate goroutine.
type Recorder struct {
	orders chan domain.Order
	fills  chan domain.Fill

	orderStore domain.OrderStore
	fillStore  domain.FillStore
	log        *slog.Logger
}

var _ engine.Sink = (*Recorder)(nil)

// NewRecorder creates a Recorder that persists into the given stores.
func NewRecorder(orderStore domain.OrderStore, fillStore domain.FillStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		orders:     make(chan domain.Order, recorderBuffer),
		fills:      make(chan domain.Fill, recorderBuffer),
		orderStore: orderStore,
		fillStore:  fillStore,
		log:        logger.With(slog.String("component", "recorder")),
	}
}

// RecordOrder queues a mirrored order for persistence without blocking.
func (r *Recorder) RecordOrder(order domain.Order) {
	select {
	case r.orders <- order:
	default:
		r.log.Warn("order queue full, dropping record", slog.Int64("order_id", order.OrderID))
	}
}

// RecordFill queues a mirrored fill for persistence without blocking.
func (r *Recorder) RecordFill(fill domain.Fill) {
	select {
	case r.fills <- fill:
	default:
		r.log.Warn("fill queue full, dropping record", slog.Int64("fill_id", fill.FillID))
	}
}

// Run drains the queues into the stores until the context is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case order := <-r.orders:
			if err := r.orderStore.Upsert(ctx, order); err != nil {
				r.log.Error("persist order failed",
					slog.Int64("order_id", order.OrderID),
					slog.String("error", err.Error()),
				)
			}
		case fill := <-r.fills:
			if err := r.fillStore.Insert(ctx, fill); err != nil {
				r.log.Error("persist fill failed",
					slog.Int64("fill_id", fill.FillID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
