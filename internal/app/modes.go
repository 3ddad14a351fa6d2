package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/engine"
)

const (
	sweepInterval   = time.Second
	archiveInterval = time.Hour
)

// ObserveMode runs a market-data-only client: no wallet, no authentication.
// It maintains books, trades, and candles for the configured markets and
// mirrors book state into Redis.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	eng := engine.New(a.engineConfig(), nil, nil)
	if err := eng.Subscribe(a.marketStreams()...); err != nil {
		return fmt.Errorf("app: observe: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return newBridge(eng, deps, nil, a.logger).run(ctx) })
	return g.Wait()
}

// TradeMode runs the full trading client: an authenticated session on top of
// the market-data engine, with order/fill persistence and reconciliation of
// requests whose fate ended up unknown.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	return a.runTrading(ctx, deps, false)
}

// FullMode is TradeMode plus periodic archiving of aged history to blob
// storage.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.runTrading(ctx, deps, true)
}

func (a *App) runTrading(ctx context.Context, deps *Dependencies, archive bool) error {
	events := engine.NewNotifier()
	requests := engine.NewRequestTracker(a.cfg.Trading.RequestTimeout.Duration)
	recorder := NewRecorder(deps.OrderStore, deps.FillStore, a.logger)
	session := engine.NewTradingSession(
		deps.Rest,
		requests,
		events,
		recorder,
		a.cfg.Trading.ExpiryBlocks,
		a.logger,
	)
	eng := engine.New(a.engineConfig(), session, events)
	if err := eng.Subscribe(a.marketStreams()...); err != nil {
		return fmt.Errorf("app: trading: %w", err)
	}

	reconciler := NewReconciler(deps.Rest, deps.OrderStore, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return recorder.Run(ctx) })
	g.Go(func() error { return newBridge(eng, deps, reconciler, a.logger).run(ctx) })
	g.Go(func() error { return a.runSweeper(ctx, session) })
	if archive && deps.Archiver != nil {
		g.Go(func() error { return a.runArchiver(ctx, deps) })
	}
	return g.Wait()
}

// runSweeper periodically expires pending requests whose ack never arrived.
func (a *App) runSweeper(ctx context.Context, session *engine.TradingSession) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			session.SweepRequests()
		}
	}
}

// runArchiver periodically moves history older than the retention window into
// blob storage.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -a.cfg.S3.RetentionDays)
			moved, err := deps.Archiver.ArchiveBefore(ctx, cutoff)
			if err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
				continue
			}
			if moved > 0 {
				a.logger.Info("archived aged history",
					slog.Int("rows", moved),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}

// engineConfig translates the configuration into engine settings.
func (a *App) engineConfig() engine.Config {
	return engine.Config{
		URL:            a.cfg.Perpl.WsURL,
		Keepalive:      a.cfg.Trading.Keepalive.Duration,
		InitialBackoff: a.cfg.Trading.InitialBackoff.Duration,
		MaxBackoff:     a.cfg.Trading.MaxBackoff.Duration,
		AuthDeadline:   a.cfg.Trading.AuthDeadline.Duration,
		TradeBound:     a.cfg.Markets.TradeBound,
		Logger:         a.logger,
	}
}

// marketStreams builds the startup subscription set: book and trade streams
// per configured market, plus one candle stream per market and resolution.
func (a *App) marketStreams() []domain.StreamKey {
	var keys []domain.StreamKey
	for _, id := range a.cfg.Markets.IDs {
		market := domain.MarketID(id)
		keys = append(keys, domain.BookStream(market), domain.TradeStream(market))
		for _, res := range a.cfg.Markets.Resolutions {
			keys = append(keys, domain.CandleStream(market, res))
		}
	}
	return keys
}
