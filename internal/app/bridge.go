package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/engine"
	"github.com/PerplFoundation/perpl-go/internal/notify"
)

const (
	// mirrorInterval rate-limits full snapshot mirroring per market. BBO
	// writes go out on every book event regardless.
	mirrorInterval = 500 * time.Millisecond
	cacheTimeout   = 2 * time.Second
	alertTimeout   = 10 * time.Second
)

// bridge consumes engine events and fans them out to the Redis book mirror,
// operator alerts, and the reconciler. It is the only consumer of the event
// channel in every mode.
type bridge struct {
	eng        *engine.Engine
	deps       *Dependencies
	reconciler *Reconciler
	log        *slog.Logger

	lastMirror map[domain.MarketID]time.Time
}

func newBridge(eng *engine.Engine, deps *Dependencies, reconciler *Reconciler, logger *slog.Logger) *bridge {
	return &bridge{
		eng:        eng,
		deps:       deps,
		reconciler: reconciler,
		log:        logger.With(slog.String("component", "bridge")),
		lastMirror: make(map[domain.MarketID]time.Time),
	}
}

// run consumes events until the context is cancelled.
func (b *bridge) run(ctx context.Context) error {
	events, cancel := b.eng.Events().Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handle(ctx, ev)
		}
	}
}

func (b *bridge) handle(ctx context.Context, ev engine.Event) {
	switch ev.Type {
	case engine.EventBookUpdated:
		b.mirrorBook(ctx, ev.Market)

	case engine.EventGapDetected:
		b.alert(ctx, notify.Alert{
			Event: notify.EventGapDetected,
			Title: "Sequence gap detected",
			Body:  "Book resyncing from a fresh snapshot.",
			Fields: []notify.Field{
				{Name: "market", Value: strconv.FormatInt(int64(ev.Market), 10)},
				{Name: "stream", Value: string(ev.Stream)},
			},
		})

	case engine.EventSessionState:
		if ev.State == string(domain.SessionExpired) {
			b.alert(ctx, notify.Alert{
				Event: notify.EventAuthExpired,
				Title: "Session credential expired",
				Body:  "The exchange rejected the session credential. A fresh credential will be requested on the next connection attempt.",
			})
		}

	case engine.EventRequestResolved:
		if ev.State == string(domain.RequestUnknown) {
			b.alert(ctx, notify.Alert{
				Event: notify.EventOrderUnknown,
				Title: "Order request fate unknown",
				Body:  "Not resolved before timeout or disconnect; reconciling against order history.",
				Fields: []notify.Field{
					{Name: "request_id", Value: strconv.FormatUint(ev.RequestID, 10)},
				},
			})
			b.reconcileUnknown(ctx, ev.RequestID)
		}

	case engine.EventOrderUpdated:
		if ev.State == string(domain.OrderStatusFilled) {
			b.alert(ctx, notify.Alert{
				Event: notify.EventOrderFilled,
				Title: "Order filled",
				Body:  "Order filled completely.",
				Fields: []notify.Field{
					{Name: "order_id", Value: strconv.FormatInt(ev.OrderID, 10)},
					{Name: "market", Value: strconv.FormatInt(int64(ev.Market), 10)},
				},
			})
		}
	}
}

// mirrorBook pushes the current BBO on every update and the full snapshot at
// most once per mirrorInterval per market.
func (b *bridge) mirrorBook(ctx context.Context, market domain.MarketID) {
	if b.deps.BookCache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	if bid, ask, err := b.eng.Best(market); err == nil {
		if err := b.deps.BookCache.SetBBO(cctx, market, bid.PriceTicks, ask.PriceTicks); err != nil {
			b.log.Warn("bbo mirror failed",
				slog.Int64("market", int64(market)),
				slog.String("error", err.Error()),
			)
		}
	}

	now := time.Now()
	if now.Sub(b.lastMirror[market]) < mirrorInterval {
		return
	}
	snap, ok := b.eng.Book(market)
	if !ok || !snap.Synced {
		return
	}
	if err := b.deps.BookCache.SetSnapshot(cctx, snap); err != nil {
		b.log.Warn("snapshot mirror failed",
			slog.Int64("market", int64(market)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.lastMirror[market] = now
}

// reconcileUnknown settles one Unknown request off the event path.
func (b *bridge) reconcileUnknown(ctx context.Context, requestID uint64) {
	if b.reconciler == nil {
		return
	}
	go func() {
		if _, _, err := b.reconciler.Reconcile(ctx, requestID); err != nil {
			b.log.Error("reconciliation failed",
				slog.Uint64("request_id", requestID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (b *bridge) alert(ctx context.Context, alert notify.Alert) {
	if b.deps.Alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	if err := b.deps.Alerter.Notify(actx, alert); err != nil {
		b.log.Warn("alert delivery failed",
			slog.String("event", alert.Event),
			slog.String("error", err.Error()),
		)
	}
}
