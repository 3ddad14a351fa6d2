package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/platform/perpl"
)

// Config configures the engine.
type Config struct {
	URL            string
	Dial           DialFunc
	Keepalive      time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AuthDeadline   time.Duration
	TradeBound     int
	Logger         *slog.Logger
}

// Engine is the client-side synchronization core for one connection: it owns
// the subscription registry, the sequence tracker, the market-data state
// (books, trades, candles), and optionally an authenticated trading session.
// All inbound processing happens on the connection's single ordered consumer.
type Engine struct {
	log      *slog.Logger
	conn     *Conn
	registry *Registry
	seq      *SequenceTracker
	books    *BookEngine
	trades   *TradeLog
	candles  *CandleStore
	notify   *Notifier
	session  *TradingSession
}

// New creates an engine. session may be nil for a market-data-only client; in
// that case the connection skips the authentication phase entirely.
func New(cfg Config, session *TradingSession, notify *Notifier) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if notify == nil {
		notify = NewNotifier()
	}

	e := &Engine{
		log:      log.With(slog.String("component", "engine")),
		registry: NewRegistry(),
		seq:      NewSequenceTracker(),
		books:    NewBookEngine(),
		trades:   NewTradeLog(cfg.TradeBound),
		candles:  NewCandleStore(),
		notify:   notify,
		session:  session,
	}

	hooks := ConnHooks{
		OnReady:   e.onReady,
		OnMessage: e.onMessage,
		OnDown:    e.onDown,
	}
	if session != nil {
		hooks.Authenticate = session.Authenticate
	}
	e.conn = NewConn(ConnConfig{
		URL:            cfg.URL,
		Dial:           cfg.Dial,
		Keepalive:      cfg.Keepalive,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		AuthDeadline:   cfg.AuthDeadline,
		Logger:         log,
	}, hooks)
	if session != nil {
		session.Bind(e.conn)
	}
	return e
}

// Run drives the connection until the context is cancelled or the credential
// is rejected. On a credential rejection the session is marked expired and
// ErrCredentialExpired is returned; the caller decides whether to run again
// with a fresh credential.
func (e *Engine) Run(ctx context.Context) error {
	err := e.conn.Run(ctx)
	if errors.Is(err, domain.ErrCredentialExpired) {
		if e.session != nil {
			e.session.MarkExpired()
		}
	}
	return err
}

// Subscribe adds streams to the desired set and, when the connection is
// ready, subscribes the new ones immediately. Desired streams survive
// reconnects.
func (e *Engine) Subscribe(keys ...domain.StreamKey) error {
	fresh := make([]domain.StreamKey, 0, len(keys))
	for _, key := range keys {
		if e.registry.Want(key) {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) == 0 || e.conn.State() != StateReady {
		return nil
	}
	if err := e.conn.Send(perpl.NewSubscribe(fresh)); err != nil {
		return fmt.Errorf("engine: subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes streams from the desired set and tells the server when
// connected.
func (e *Engine) Unsubscribe(keys ...domain.StreamKey) error {
	dropped := make([]domain.StreamKey, 0, len(keys))
	for _, key := range keys {
		if e.registry.Drop(key) {
			dropped = append(dropped, key)
			e.seq.Reset(key)
		}
	}
	if len(dropped) == 0 || e.conn.State() != StateReady {
		return nil
	}
	if err := e.conn.Send(perpl.NewUnsubscribe(dropped)); err != nil {
		return fmt.Errorf("engine: unsubscribe: %w", err)
	}
	return nil
}

// Book returns a point-in-time copy of a market's order book.
func (e *Engine) Book(market domain.MarketID) (domain.BookSnapshot, bool) {
	return e.books.Snapshot(market)
}

// Best returns the best bid and ask for a market.
func (e *Engine) Best(market domain.MarketID) (bid, ask domain.PriceLevel, err error) {
	return e.books.Best(market)
}

// Trades returns up to n most recent trades for a market, newest last.
func (e *Engine) Trades(market domain.MarketID, n int) []domain.TradeRecord {
	return e.trades.Recent(market, n)
}

// Candles returns a copy of a candle series.
func (e *Engine) Candles(market domain.MarketID, resolution string) (domain.CandleSeries, bool) {
	return e.candles.Series(market, resolution)
}

// Session returns the trading session, nil for a market-data-only engine.
func (e *Engine) Session() *TradingSession { return e.session }

// Events returns the notifier for external consumers.
func (e *Engine) Events() *Notifier { return e.notify }

// State returns the connection lifecycle state.
func (e *Engine) State() ConnState { return e.conn.State() }

// onReady runs on every transition into Ready: invalidate the previous
// epoch's handles and sequence seeds, then re-subscribe the full desired set
// in one bulk request.
func (e *Engine) onReady(epoch uint64) {
	e.registry.ResetEpoch(epoch)
	e.seq.ResetAll()

	keys := e.registry.DesiredKeys()
	if len(keys) == 0 {
		return
	}
	if err := e.conn.SendEpoch(epoch, perpl.NewSubscribe(keys)); err != nil {
		e.log.Warn("bulk resubscribe failed",
			slog.Uint64("epoch", epoch),
			slog.String("error", err.Error()),
		)
		return
	}
	e.log.Info("resubscribed desired streams",
		slog.Uint64("epoch", epoch),
		slog.Int("streams", len(keys)),
	)
}

// onDown runs after an epoch's teardown: books go stale, sequence seeds are
// discarded, and the session loses its authentication.
func (e *Engine) onDown(epoch uint64, err error) {
	e.books.InvalidateAll()
	e.seq.ResetAll()
	if e.session != nil {
		e.session.OnEpochDown(epoch)
	}
	e.notify.Publish(Event{Type: EventBookInvalidated})
}

// onMessage dispatches one decoded envelope. Malformed payloads of known
// kinds are logged and skipped; unknown kinds are ignored.
func (e *Engine) onMessage(epoch uint64, env *perpl.Envelope) {
	msg, err := env.Decode()
	if err != nil {
		e.log.Warn("dropping malformed message",
			slog.Uint64("epoch", epoch),
			slog.Int("kind", int(env.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch m := msg.(type) {
	case perpl.SubscribeAck:
		e.registry.Ack(m.Stream, m.Handle, epoch)
		e.seq.Reset(m.Stream)
		e.log.Debug("subscribed",
			slog.String("stream", string(m.Stream)),
			slog.Int64("handle", m.Handle),
		)

	case perpl.UnsubscribeAck:
		e.log.Debug("unsubscribed", slog.String("stream", string(m.Stream)))

	case perpl.BookSnapshot:
		key, ok := e.checkSequence(epoch, env)
		if !ok {
			return
		}
		e.books.ApplySnapshot(m)
		e.notify.Publish(Event{Type: EventBookUpdated, Market: m.Market, Stream: key})

	case perpl.BookUpdate:
		key, ok := e.checkSequence(epoch, env)
		if !ok {
			return
		}
		if !e.books.ApplyUpdate(m) {
			e.log.Debug("dropped update for unsynced book", slog.Int64("market", int64(m.Market)))
			return
		}
		e.notify.Publish(Event{Type: EventBookUpdated, Market: m.Market, Stream: key})

	case perpl.TradeSnapshot:
		if _, ok := e.checkSequence(epoch, env); !ok {
			return
		}
		records := make([]domain.TradeRecord, len(m.Trades))
		for i, t := range m.Trades {
			records[i] = t.Record(m.Market)
		}
		e.trades.ApplySnapshot(m.Market, records)
		e.notify.Publish(Event{Type: EventTrades, Market: m.Market})

	case perpl.TradeUpdate:
		if _, ok := e.checkSequence(epoch, env); !ok {
			return
		}
		records := make([]domain.TradeRecord, len(m.Trades))
		for i, t := range m.Trades {
			records[i] = t.Record(m.Market)
		}
		e.trades.Append(m.Market, records)
		e.notify.Publish(Event{Type: EventTrades, Market: m.Market})

	case perpl.CandleSnapshot:
		if _, ok := e.checkSequence(epoch, env); !ok {
			return
		}
		candles := make([]domain.Candle, len(m.Candles))
		for i, c := range m.Candles {
			candles[i] = c.Candle()
		}
		e.candles.ApplySnapshot(m.Market, m.Resolution, candles)
		e.notify.Publish(Event{Type: EventCandles, Market: m.Market, Resolution: m.Resolution})

	case perpl.CandleUpdate:
		if _, ok := e.checkSequence(epoch, env); !ok {
			return
		}
		candles := make([]domain.Candle, len(m.Candles))
		for i, c := range m.Candles {
			candles[i] = c.Candle()
		}
		e.candles.Merge(m.Market, m.Resolution, candles)
		e.notify.Publish(Event{Type: EventCandles, Market: m.Market, Resolution: m.Resolution})

	case perpl.SessionSnapshot:
		if e.session != nil {
			e.session.ApplySnapshot(epoch, m)
		}
	case perpl.OrderUpdate:
		if e.session != nil {
			e.session.ApplyOrder(m)
		}
	case perpl.FillUpdate:
		if e.session != nil {
			e.session.ApplyFill(m)
		}
	case perpl.PositionUpdate:
		if e.session != nil {
			e.session.ApplyPosition(m)
		}
	case perpl.AccountUpdate:
		if e.session != nil {
			e.session.ApplyAccount(m)
		}
	case perpl.Heartbeat:
		if e.session != nil {
			e.session.ApplyHeartbeat(m)
		}

	case perpl.Unknown:
		e.log.Debug("ignoring unknown message kind", slog.Int("kind", int(env.Kind)))
	}
}

// checkSequence resolves the envelope's subscription handle and verifies its
// sequence number. A gap on a strict stream invalidates the local state and
// resubscribes just that stream for a fresh snapshot; the message itself is
// dropped either way.
func (e *Engine) checkSequence(epoch uint64, env *perpl.Envelope) (domain.StreamKey, bool) {
	if env.Subscription == nil {
		// Not tied to a subscription; nothing to verify.
		return "", true
	}
	key, ok := e.registry.Resolve(*env.Subscription)
	if !ok {
		// Stale handle from a previous epoch or an unsubscribed stream.
		e.log.Debug("dropping message for unknown handle",
			slog.Int64("handle", *env.Subscription),
		)
		return "", false
	}
	if env.Sequence == nil {
		return key, true
	}

	switch e.seq.Observe(key, *env.Sequence) {
	case SeqOK:
		return key, true
	case SeqSkip:
		e.log.Debug("sequence discontinuity on gap-tolerant stream",
			slog.String("stream", string(key)),
			slog.Uint64("seq", *env.Sequence),
		)
		return key, true
	default: // SeqGap
		e.log.Warn("sequence gap, resubscribing stream",
			slog.String("stream", string(key)),
			slog.Uint64("seq", *env.Sequence),
		)
		if market, ok := key.Market(); ok {
			e.books.Invalidate(market)
			e.notify.Publish(Event{Type: EventGapDetected, Market: market, Stream: key})
		}
		// Unsubscribe+subscribe forces a fresh snapshot for this stream only.
		if err := e.conn.SendEpoch(epoch, perpl.NewUnsubscribe([]domain.StreamKey{key})); err != nil {
			e.log.Warn("gap unsubscribe failed", slog.String("error", err.Error()))
			return "", false
		}
		if err := e.conn.SendEpoch(epoch, perpl.NewSubscribe([]domain.StreamKey{key})); err != nil {
			e.log.Warn("gap resubscribe failed", slog.String("error", err.Error()))
		}
		return "", false
	}
}
