package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/platform/perpl"
)

// credRefreshMargin renews a cached credential this long before it expires
// instead of racing the server-side cutoff.
const credRefreshMargin = 30 * time.Second

// CredentialSource issues fresh session credentials. The engine never derives
// credentials itself; the REST authentication collaborator implements this.
type CredentialSource interface {
	Fresh(ctx context.Context) (domain.Credential, error)
}

// Sink receives mirrored trading records for persistence. Implementations
// must not block: the session calls them on the inbound consumer path.
type Sink interface {
	RecordOrder(order domain.Order)
	RecordFill(fill domain.Fill)
}

// TradingSession mirrors the server-asserted trading state over one
// authenticated connection: wallet balance, open orders, positions, and the
// chain head. The server is the source of truth; the mirror is seeded by the
// session snapshot and patched by updates, never predicted locally.
type TradingSession struct {
	creds    CredentialSource
	requests *RequestTracker
	notify   *Notifier
	sink     Sink
	log      *slog.Logger

	// expiryBlocks, when positive, stamps outbound orders with
	// chainHead+expiryBlocks unless the caller set an expiry explicitly.
	expiryBlocks uint64

	mu        sync.Mutex
	conn      *Conn
	state     domain.SessionState
	cred      domain.Credential
	sessionID string
	epoch     uint64
	chainHead uint64
	headTime  time.Time
	account   domain.Account
	orders    map[int64]domain.Order
	positions map[domain.MarketID]domain.Position
}

// NewTradingSession creates a session in NotAuthenticated state. Bind attaches
// the connection before Run starts. sink may be nil.
func NewTradingSession(creds CredentialSource, requests *RequestTracker, notify *Notifier, sink Sink, expiryBlocks uint64, logger *slog.Logger) *TradingSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradingSession{
		creds:        creds,
		requests:     requests,
		notify:       notify,
		sink:         sink,
		log:          logger.With(slog.String("component", "session")),
		expiryBlocks: expiryBlocks,
		state:        domain.SessionNotAuthenticated,
		orders:       make(map[int64]domain.Order),
		positions:    make(map[domain.MarketID]domain.Position),
	}
}

// Bind attaches the managed connection whose epochs this session follows.
func (s *TradingSession) Bind(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// Authenticate is the connection's per-epoch auth hook. It sends exactly one
// auth message per epoch, renewing the credential first when the cached one
// is missing or close to expiry.
func (s *TradingSession) Authenticate(ctx context.Context, epoch uint64) error {
	s.mu.Lock()
	cred := s.cred
	conn := s.conn
	s.state = domain.SessionAuthPending
	s.epoch = epoch
	s.mu.Unlock()
	s.publishState(domain.SessionAuthPending)

	if cred.Token == "" || time.Until(cred.ExpiresAt) < credRefreshMargin {
		fresh, err := s.creds.Fresh(ctx)
		if err != nil {
			return fmt.Errorf("session: refresh credential: %w", err)
		}
		s.mu.Lock()
		s.cred = fresh
		cred = fresh
		s.mu.Unlock()
		s.log.Info("credential refreshed",
			slog.String("address", fresh.Address),
			slog.Time("expires_at", fresh.ExpiresAt),
		)
	}

	if err := conn.SendEpoch(epoch, perpl.NewAuth(cred)); err != nil {
		return fmt.Errorf("session: send auth: %w", err)
	}
	return nil
}

// ApplySnapshot seeds the mirror from the session snapshot, replacing wallet
// state, open orders, and positions wholesale, and completes authentication
// for the epoch.
func (s *TradingSession) ApplySnapshot(epoch uint64, snap perpl.SessionSnapshot) {
	s.mu.Lock()
	conn := s.conn
	s.state = domain.SessionAuthenticated
	s.sessionID = snap.SessionID
	s.epoch = epoch
	s.account = snap.Account.Account()
	if snap.Block > s.chainHead {
		s.chainHead = snap.Block
	}
	s.orders = make(map[int64]domain.Order, len(snap.Orders))
	for _, e := range snap.Orders {
		s.orders[e.OrderID] = e.Order()
	}
	s.positions = make(map[domain.MarketID]domain.Position, len(snap.Positions))
	for _, e := range snap.Positions {
		s.positions[e.Market] = e.Position()
	}
	s.mu.Unlock()

	if s.sink != nil {
		for _, e := range snap.Orders {
			s.sink.RecordOrder(e.Order())
		}
	}
	conn.ConfirmAuth(epoch)
	s.log.Info("session authenticated",
		slog.Uint64("epoch", epoch),
		slog.String("session_id", snap.SessionID),
		slog.Int("open_orders", len(snap.Orders)),
		slog.Int("positions", len(snap.Positions)),
	)
	s.publishState(domain.SessionAuthenticated)
}

// ApplyOrder patches one mirrored order by id. Removed orders leave the open
// set. An update carrying the originating request id resolves that request.
func (s *TradingSession) ApplyOrder(upd perpl.OrderUpdate) {
	order := upd.Order.Order()

	s.mu.Lock()
	if upd.Order.Removed {
		delete(s.orders, order.OrderID)
	} else {
		s.orders[order.OrderID] = order
	}
	s.mu.Unlock()

	if order.RequestID != 0 {
		state := domain.RequestAcknowledged
		if order.Status == domain.OrderStatusRejected {
			state = domain.RequestRejected
		}
		if s.requests.Resolve(order.RequestID, state, order.OrderID) {
			s.notify.Publish(Event{
				Type:      EventRequestResolved,
				Market:    order.Market,
				RequestID: order.RequestID,
				OrderID:   order.OrderID,
				State:     string(state),
			})
		}
	}
	if s.sink != nil {
		s.sink.RecordOrder(order)
	}
	s.notify.Publish(Event{
		Type:    EventOrderUpdated,
		Market:  order.Market,
		OrderID: order.OrderID,
		State:   string(order.Status),
	})
}

// ApplyFill records one execution. Fills only adjust the mirror indirectly:
// the paired order update carries the authoritative filled size.
func (s *TradingSession) ApplyFill(upd perpl.FillUpdate) {
	fill := upd.Fill.Fill()
	if upd.Fill.RequestID != 0 {
		s.requests.Resolve(upd.Fill.RequestID, domain.RequestAcknowledged, fill.OrderID)
	}
	if s.sink != nil {
		s.sink.RecordFill(fill)
	}
	s.notify.Publish(Event{
		Type:    EventFill,
		Market:  fill.Market,
		OrderID: fill.OrderID,
		Block:   fill.Block,
	})
}

// ApplyPosition patches one mirrored position keyed by market.
func (s *TradingSession) ApplyPosition(upd perpl.PositionUpdate) {
	pos := upd.Position.Position()
	s.mu.Lock()
	if pos.SizeUnits == 0 {
		delete(s.positions, pos.Market)
	} else {
		s.positions[pos.Market] = pos
	}
	s.mu.Unlock()
	s.notify.Publish(Event{Type: EventPosition, Market: pos.Market, Block: pos.Block})
}

// ApplyAccount patches mirrored wallet state.
func (s *TradingSession) ApplyAccount(upd perpl.AccountUpdate) {
	acct := upd.Account.Account()
	s.mu.Lock()
	s.account = acct
	s.mu.Unlock()
	s.notify.Publish(Event{Type: EventAccount})
}

// ApplyHeartbeat advances the chain head; command expiry is computed against
// it. Heads never move backwards.
func (s *TradingSession) ApplyHeartbeat(hb perpl.Heartbeat) {
	s.mu.Lock()
	if hb.Block > s.chainHead {
		s.chainHead = hb.Block
		s.headTime = time.UnixMilli(hb.Time)
	}
	s.mu.Unlock()
	s.notify.Publish(Event{Type: EventChainHead, Block: hb.Block})
}

// OnEpochDown runs after a connection epoch's teardown. All requests still
// pending on that epoch resolve to Unknown: they are never resubmitted, their
// fate is settled by reconciliation against order history.
func (s *TradingSession) OnEpochDown(epoch uint64) {
	s.mu.Lock()
	if s.state == domain.SessionAuthenticated || s.state == domain.SessionAuthPending {
		s.state = domain.SessionNotAuthenticated
	}
	s.sessionID = ""
	s.mu.Unlock()

	for _, id := range s.requests.InvalidateEpoch(epoch + 1) {
		s.log.Warn("request unresolved at epoch end",
			slog.Uint64("epoch", epoch),
			slog.Uint64("request_id", id),
		)
		s.notify.Publish(Event{
			Type:      EventRequestResolved,
			RequestID: id,
			State:     string(domain.RequestUnknown),
		})
	}
	s.publishState(domain.SessionNotAuthenticated)
}

// MarkExpired transitions to Expired and discards the cached credential.
// Called when the connection ends with the authentication-failure close code;
// the next Authenticate fetches a fresh credential.
func (s *TradingSession) MarkExpired() {
	s.mu.Lock()
	s.state = domain.SessionExpired
	s.cred = domain.Credential{}
	s.mu.Unlock()
	s.log.Warn("session credential rejected")
	s.publishState(domain.SessionExpired)
}

// PlaceOrder validates and transmits an order command, returning its request
// id and a channel that yields the terminal request state. Orders are
// rejected locally unless the session is authenticated.
func (s *TradingSession) PlaceOrder(cmd domain.OrderCommand) (uint64, <-chan domain.RequestState, error) {
	if err := cmd.Validate(); err != nil {
		return 0, nil, fmt.Errorf("session: place order: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	state := s.state
	epoch := s.epoch
	if cmd.ExpiryBlock == 0 && s.expiryBlocks > 0 && s.chainHead > 0 {
		cmd.ExpiryBlock = s.chainHead + s.expiryBlocks
	}
	s.mu.Unlock()
	if state != domain.SessionAuthenticated {
		return 0, nil, fmt.Errorf("session: place order: %w", domain.ErrNotAuthenticated)
	}

	id := s.requests.Next()
	done, err := s.requests.Track(id, epoch)
	if err != nil {
		return 0, nil, err
	}
	if err := conn.SendEpoch(epoch, perpl.NewOrderCommand(id, cmd)); err != nil {
		s.requests.Resolve(id, domain.RequestUnknown, 0)
		return 0, nil, fmt.Errorf("session: place order: %w", err)
	}
	s.log.Info("order sent",
		slog.Uint64("request_id", id),
		slog.Int64("market", int64(cmd.Market)),
		slog.String("side", string(cmd.Side)),
		slog.Int64("px", cmd.PriceTicks),
		slog.Int64("sz", cmd.SizeUnits),
	)
	return id, done, nil
}

// CancelOrder transmits a cancellation for an open order.
func (s *TradingSession) CancelOrder(cmd domain.CancelCommand) (uint64, <-chan domain.RequestState, error) {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	epoch := s.epoch
	s.mu.Unlock()
	if state != domain.SessionAuthenticated {
		return 0, nil, fmt.Errorf("session: cancel order: %w", domain.ErrNotAuthenticated)
	}

	id := s.requests.Next()
	done, err := s.requests.Track(id, epoch)
	if err != nil {
		return 0, nil, err
	}
	if err := conn.SendEpoch(epoch, perpl.NewCancelCommand(id, cmd)); err != nil {
		s.requests.Resolve(id, domain.RequestUnknown, 0)
		return 0, nil, fmt.Errorf("session: cancel order: %w", err)
	}
	s.log.Info("cancel sent",
		slog.Uint64("request_id", id),
		slog.Int64("order_id", cmd.OrderID),
	)
	return id, done, nil
}

// SweepRequests expires stale pending requests to Unknown and publishes an
// event per expiry. The application drives this on a timer.
func (s *TradingSession) SweepRequests() {
	for _, id := range s.requests.Sweep() {
		s.log.Warn("request timed out, fate unknown", slog.Uint64("request_id", id))
		s.notify.Publish(Event{
			Type:      EventRequestResolved,
			RequestID: id,
			State:     string(domain.RequestUnknown),
		})
	}
}

// Info returns a point-in-time copy of session state.
func (s *TradingSession) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{
		State:     s.state,
		SessionID: s.sessionID,
		Epoch:     s.epoch,
		ChainHead: s.chainHead,
		HeadTime:  s.headTime,
	}
}

// OpenOrders returns a copy of the mirrored open-order set.
func (s *TradingSession) OpenOrders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	return orders
}

// Positions returns a copy of the mirrored positions.
func (s *TradingSession) Positions() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}
	return positions
}

// AccountState returns a copy of the mirrored wallet state.
func (s *TradingSession) AccountState() domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

func (s *TradingSession) publishState(state domain.SessionState) {
	s.notify.Publish(Event{Type: EventSessionState, State: string(state)})
}
