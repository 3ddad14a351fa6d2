package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/platform/perpl"
)

const (
	reconcilePageLimit = 200
	reconcileMaxPages  = 25
)

// Reconciler settles the fate of requests that resolved Unknown. An Unknown
// request is never resubmitted: the order may well exist on the exchange, so
// the reconciler pages order history until an order carrying the request id
// turns up (or the history is exhausted) and mirrors the result locally.
type Reconciler struct {
	rest   *perpl.RestClient
	orders domain.OrderStore
	log    *slog.Logger
}

// NewReconciler creates a Reconciler backed by the REST history endpoint and
// the local order store.
func NewReconciler(rest *perpl.RestClient, orders domain.OrderStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		rest:   rest,
		orders: orders,
		log:    logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile looks up the order created by the given request, first locally
// and then in paged exchange history. A match is upserted into the store and
// returned; found is false when the history holds no trace of the request,
// which means the exchange never accepted it.
func (r *Reconciler) Reconcile(ctx context.Context, requestID uint64) (order domain.Order, found bool, err error) {
	local, err := r.orders.GetByRequestID(ctx, requestID)
	if err == nil {
		return local, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, false, fmt.Errorf("reconcile: local lookup: %w", err)
	}

	cursor := ""
	for page := 0; page < reconcileMaxPages; page++ {
		hist, err := r.rest.ListOrderHistory(ctx, cursor, reconcilePageLimit)
		if err != nil {
			return domain.Order{}, false, fmt.Errorf("reconcile: history page %d: %w", page, err)
		}
		for _, entry := range hist.Orders {
			if entry.RequestID != requestID {
				continue
			}
			matched := entry.Order()
			if err := r.orders.Upsert(ctx, matched); err != nil {
				return matched, true, fmt.Errorf("reconcile: persist match: %w", err)
			}
			r.log.Info("unknown request reconciled",
				slog.Uint64("request_id", requestID),
				slog.Int64("order_id", matched.OrderID),
				slog.String("status", string(matched.Status)),
			)
			return matched, true, nil
		}
		if hist.NextCursor == "" {
			break
		}
		cursor = hist.NextCursor
	}

	r.log.Info("unknown request not in history, treating as never accepted",
		slog.Uint64("request_id", requestID),
	)
	return domain.Order{}, false, nil
}
