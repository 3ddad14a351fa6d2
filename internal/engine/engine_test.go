package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/platform/perpl"
)

// fakeTransport is a scripted in-memory transport. Inbound envelopes are fed
// through feed; outbound messages are captured on sent.
type fakeTransport struct {
	in   chan *perpl.Envelope
	sent chan perpl.Outbound

	mu      sync.Mutex
	readErr error
	done    chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan *perpl.Envelope, 64),
		sent: make(chan perpl.Outbound, 64),
		done: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadEnvelope(time.Duration) (*perpl.Envelope, error) {
	select {
	case env := <-t.in:
		return env, nil
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.readErr != nil {
			return nil, t.readErr
		}
		return nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) Send(msg perpl.Outbound) error {
	select {
	case t.sent <- msg:
		return nil
	case <-t.done:
		return domain.ErrNotConnected
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

// failRead makes the next ReadEnvelope return err, simulating a transport
// failure with a specific cause.
func (t *fakeTransport) failRead(err error) {
	t.mu.Lock()
	t.readErr = err
	t.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}

func (t *fakeTransport) feed(tb testing.TB, kind perpl.Kind, handle int64, seq uint64, payload any) {
	tb.Helper()
	env := &perpl.Envelope{Kind: kind}
	if handle >= 0 {
		env.Subscription = &handle
	}
	if seq > 0 {
		env.Sequence = &seq
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(tb, err)
		env.Data = data
	}
	select {
	case t.in <- env:
	case <-time.After(2 * time.Second):
		tb.Fatal("timed out feeding envelope")
	}
}

// dialOnce returns the transport on the first attempt and blocks afterwards,
// keeping the reconnect loop parked until the test cancels.
func dialOnce(ft *fakeTransport) DialFunc {
	var used atomic.Bool
	return func(ctx context.Context, url string) (Transport, error) {
		if used.CompareAndSwap(false, true) {
			return ft, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func recvOutbound(t *testing.T, ch <-chan perpl.Outbound) perpl.Outbound {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return perpl.Outbound{}
	}
}

func testEngineConfig(ft *fakeTransport) Config {
	return Config{
		URL:            "ws://test",
		Dial:           dialOnce(ft),
		Keepalive:      time.Minute, // keep pings out of the captured stream
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		AuthDeadline:   2 * time.Second,
	}
}

func TestEngineMarketDataFlow(t *testing.T) {
	ft := newFakeTransport()
	eng := New(testEngineConfig(ft), nil, nil)
	require.NoError(t, eng.Subscribe(domain.BookStream(16)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	// Without a session the connection goes Ready immediately and bulk
	// subscribes the desired set.
	sub := recvOutbound(t, ft.sent)
	require.Equal(t, perpl.KindSubscribe, sub.Kind)
	req, ok := sub.Data.(perpl.SubscribeRequest)
	require.True(t, ok)
	require.Equal(t, []domain.StreamKey{domain.BookStream(16)}, req.Streams)

	ft.feed(t, perpl.KindSubscribeAck, -1, 0, perpl.SubscribeAck{
		Stream: domain.BookStream(16),
		Handle: 7,
	})
	ft.feed(t, perpl.KindBookSnapshot, 7, 1, perpl.BookSnapshot{
		Market: 16,
		Bids:   []perpl.LevelEntry{{Price: 100_000000, Size: 2_000000, Count: 1}},
		Asks:   []perpl.LevelEntry{{Price: 101_000000, Size: 2_000000, Count: 1}},
	})

	require.Eventually(t, func() bool {
		bid, _, err := eng.Best(16)
		return err == nil && bid.PriceTicks == 100_000000
	}, 2*time.Second, 10*time.Millisecond)

	ft.feed(t, perpl.KindBookUpdate, 7, 2, perpl.BookUpdate{
		Market: 16,
		Bids:   []perpl.LevelEntry{{Price: 100_000000, Size: 0}, {Price: 99_000000, Size: 1_000000, Count: 1}},
	})
	require.Eventually(t, func() bool {
		bid, _, err := eng.Best(16)
		return err == nil && bid.PriceTicks == 99_000000
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-runErr, context.Canceled)
}

func TestEngineSequenceGapResubscribes(t *testing.T) {
	ft := newFakeTransport()
	notifier := NewNotifier()
	eng := New(testEngineConfig(ft), nil, notifier)
	require.NoError(t, eng.Subscribe(domain.BookStream(16)))

	events, cancelSub := notifier.Subscribe(16)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	recvOutbound(t, ft.sent) // bulk subscribe
	ft.feed(t, perpl.KindSubscribeAck, -1, 0, perpl.SubscribeAck{Stream: domain.BookStream(16), Handle: 7})
	ft.feed(t, perpl.KindBookSnapshot, 7, 1, perpl.BookSnapshot{
		Market: 16,
		Bids:   []perpl.LevelEntry{{Price: 100_000000, Size: 2_000000, Count: 1}},
	})
	require.Eventually(t, func() bool {
		_, _, err := eng.Best(16)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// Sequence 3 skips 2 on a strict stream: the book is invalidated and the
	// stream alone is resubscribed for a fresh snapshot.
	ft.feed(t, perpl.KindBookUpdate, 7, 3, perpl.BookUpdate{
		Market: 16,
		Bids:   []perpl.LevelEntry{{Price: 98_000000, Size: 1_000000, Count: 1}},
	})

	unsub := recvOutbound(t, ft.sent)
	require.Equal(t, perpl.KindUnsubscribe, unsub.Kind)
	resub := recvOutbound(t, ft.sent)
	require.Equal(t, perpl.KindSubscribe, resub.Kind)
	resubReq, ok := resub.Data.(perpl.SubscribeRequest)
	require.True(t, ok)
	require.Equal(t, []domain.StreamKey{domain.BookStream(16)}, resubReq.Streams)

	_, _, err := eng.Best(16)
	require.ErrorIs(t, err, domain.ErrBookNotSynced)

	sawGap := false
	for !sawGap {
		select {
		case ev := <-events:
			if ev.Type == EventGapDetected {
				require.Equal(t, domain.MarketID(16), ev.Market)
				sawGap = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("gap event never published")
		}
	}

	// The gapped message was dropped: the stale best never changed to 98.
	ft.feed(t, perpl.KindSubscribeAck, -1, 0, perpl.SubscribeAck{Stream: domain.BookStream(16), Handle: 9})
	ft.feed(t, perpl.KindBookSnapshot, 9, 1, perpl.BookSnapshot{
		Market: 16,
		Bids:   []perpl.LevelEntry{{Price: 97_000000, Size: 1_000000, Count: 1}},
	})
	require.Eventually(t, func() bool {
		bid, _, err := eng.Best(16)
		return err == nil && bid.PriceTicks == 97_000000
	}, 2*time.Second, 10*time.Millisecond)
}

type staticCreds struct {
	cred  domain.Credential
	calls atomic.Int32
}

func (s *staticCreds) Fresh(context.Context) (domain.Credential, error) {
	s.calls.Add(1)
	return s.cred, nil
}

func testCreds() *staticCreds {
	return &staticCreds{cred: domain.Credential{
		Address:   "0xabc",
		Token:     "tok-1",
		Nonce:     9,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
}

func TestEngineTradingSessionFlow(t *testing.T) {
	ft := newFakeTransport()
	creds := testCreds()
	notifier := NewNotifier()
	session := NewTradingSession(creds, NewRequestTracker(time.Minute), notifier, nil, 100, nil)
	eng := New(testEngineConfig(ft), session, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	// The trading channel authenticates before anything else.
	auth := recvOutbound(t, ft.sent)
	require.Equal(t, perpl.KindAuth, auth.Kind)
	authReq, ok := auth.Data.(perpl.AuthRequest)
	require.True(t, ok)
	require.Equal(t, "tok-1", authReq.Token)
	require.Equal(t, int32(1), creds.calls.Load())

	ft.feed(t, perpl.KindSessionSnapshot, -1, 0, perpl.SessionSnapshot{
		SessionID: "sess-1",
		Account:   perpl.AccountEntry{Address: "0xabc", Balance: 1_000_000000},
		Orders: []perpl.OrderEntry{{
			OrderID: 11, Market: 16, Side: "buy", Type: "GTC",
			Price: 100_000000, Size: 1_000000, Status: "open",
		}},
		Block: 50,
	})

	require.Eventually(t, func() bool {
		return session.Info().State == domain.SessionAuthenticated
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(50), session.Info().ChainHead)
	require.Len(t, session.OpenOrders(), 1)

	id, done, err := session.PlaceOrder(domain.OrderCommand{
		Market:     16,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeGTC,
		PriceTicks: 100_000000,
		SizeUnits:  2_000000,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	order := recvOutbound(t, ft.sent)
	require.Equal(t, perpl.KindOrderCommand, order.Kind)
	require.Equal(t, id, order.RequestID)
	orderReq, ok := order.Data.(perpl.OrderRequest)
	require.True(t, ok)
	// Expiry stamped from the chain head.
	require.Equal(t, uint64(150), orderReq.ExpiryBlock)

	ft.feed(t, perpl.KindOrderUpdate, -1, 0, perpl.OrderUpdate{Order: perpl.OrderEntry{
		OrderID: 12, RequestID: id, Market: 16, Side: "buy", Type: "GTC",
		Price: 100_000000, Size: 2_000000, Status: "open",
	}})

	select {
	case state := <-done:
		require.Equal(t, domain.RequestAcknowledged, state)
	case <-time.After(2 * time.Second):
		t.Fatal("request never acknowledged")
	}
	require.Len(t, session.OpenOrders(), 2)
}

func TestEngineEpochDownResolvesPendingUnknown(t *testing.T) {
	ft := newFakeTransport()
	notifier := NewNotifier()
	session := NewTradingSession(testCreds(), NewRequestTracker(time.Minute), notifier, nil, 0, nil)
	eng := New(testEngineConfig(ft), session, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	recvOutbound(t, ft.sent) // auth
	ft.feed(t, perpl.KindSessionSnapshot, -1, 0, perpl.SessionSnapshot{SessionID: "sess-1", Block: 50})
	require.Eventually(t, func() bool {
		return session.Info().State == domain.SessionAuthenticated
	}, 2*time.Second, 10*time.Millisecond)

	_, done, err := session.PlaceOrder(domain.OrderCommand{
		Market:     16,
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeIOC,
		PriceTicks: 100_000000,
		SizeUnits:  1_000000,
	})
	require.NoError(t, err)
	recvOutbound(t, ft.sent) // the order command

	// The transport dies with the request still in flight. The request is
	// never resubmitted; it resolves Unknown for reconciliation.
	ft.failRead(errors.New("connection reset"))

	select {
	case state := <-done:
		require.Equal(t, domain.RequestUnknown, state)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not invalidated on epoch end")
	}
	require.Eventually(t, func() bool {
		return session.Info().State == domain.SessionNotAuthenticated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineAuthFailureCloseStopsReconnect(t *testing.T) {
	ft := newFakeTransport()
	notifier := NewNotifier()
	session := NewTradingSession(testCreds(), NewRequestTracker(time.Minute), notifier, nil, 0, nil)
	eng := New(testEngineConfig(ft), session, notifier)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	recvOutbound(t, ft.sent) // auth
	ft.failRead(&websocket.CloseError{Code: perpl.CloseAuthFailure, Text: "credential rejected"})

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, domain.ErrCredentialExpired)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on auth-failure close")
	}
	require.Equal(t, domain.SessionExpired, session.Info().State)
}

type rejectedCreds struct {
	calls atomic.Int32
}

func (r *rejectedCreds) Fresh(context.Context) (domain.Credential, error) {
	r.calls.Add(1)
	return domain.Credential{}, fmt.Errorf("rest: confirm auth: %w", domain.ErrCredentialExpired)
}

func TestEngineRejectedCredentialStopsReconnect(t *testing.T) {
	ft := newFakeTransport()
	creds := &rejectedCreds{}
	notifier := NewNotifier()
	session := NewTradingSession(creds, NewRequestTracker(time.Minute), notifier, nil, 0, nil)
	eng := New(testEngineConfig(ft), session, notifier)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	// The REST collaborator refuses to issue a session. Run must surface the
	// rejection instead of re-running the handshake on every backoff.
	select {
	case err := <-runErr:
		require.ErrorIs(t, err, domain.ErrCredentialExpired)
	case <-time.After(2 * time.Second):
		t.Fatal("run kept retrying a rejected credential")
	}
	require.Equal(t, int32(1), creds.calls.Load())
	require.Equal(t, domain.SessionExpired, session.Info().State)
}

func TestEnginePlaceOrderRequiresAuthentication(t *testing.T) {
	notifier := NewNotifier()
	session := NewTradingSession(testCreds(), NewRequestTracker(time.Minute), notifier, nil, 0, nil)
	eng := New(testEngineConfig(newFakeTransport()), session, notifier)
	_ = eng

	_, _, err := session.PlaceOrder(domain.OrderCommand{
		Market:     16,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeGTC,
		PriceTicks: 1,
		SizeUnits:  1,
	})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, _, err = session.PlaceOrder(domain.OrderCommand{Market: 16})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}
