// Package engine implements the client-side state synchronization core:
// connection lifecycle, subscription multiplexing, snapshot/delta
// reconciliation, sequence gap detection, the authenticated trading session,
// and order request correlation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/platform/perpl"
)

// ConnState is the lifecycle state of one managed connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateReady
	StateClosing
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

const (
	defaultKeepalive      = 15 * time.Second
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	defaultAuthDeadline   = 15 * time.Second

	// readFactor multiplies the keepalive interval into the inbound-traffic
	// watchdog: no traffic for that long is a transport failure.
	readFactor = 3
)

// errAuthTimeout marks a recoverable failure: the session snapshot did not
// arrive before the deadline, so the connection is torn down and retried.
var errAuthTimeout = errors.New("engine: timed out waiting for session snapshot")

// Transport is one live socket to the exchange.
type Transport interface {
	ReadEnvelope(readWait time.Duration) (*perpl.Envelope, error)
	Send(msg perpl.Outbound) error
	Close() error
}

// DialFunc opens a transport. Injectable for tests.
type DialFunc func(ctx context.Context, url string) (Transport, error)

func defaultDial(ctx context.Context, url string) (Transport, error) {
	return perpl.Dial(ctx, url)
}

// ConnConfig configures a managed connection.
type ConnConfig struct {
	URL            string
	Dial           DialFunc
	Keepalive      time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AuthDeadline   time.Duration
	Logger         *slog.Logger
}

// ConnHooks are the callbacks a connection drives. OnMessage runs on the
// single inbound consumer goroutine, in arrival order; it must not block on
// external consumers.
type ConnHooks struct {
	// Authenticate, when set, marks the trading channel. It is invoked exactly
	// once per epoch after the transport is up and must send the auth message.
	// The connection then waits for ConfirmAuth before entering Ready.
	Authenticate func(ctx context.Context, epoch uint64) error

	// OnReady runs on every transition into Ready.
	OnReady func(epoch uint64)

	// OnMessage delivers each decoded envelope in arrival order.
	OnMessage func(epoch uint64, env *perpl.Envelope)

	// OnDown runs after an epoch's teardown completes.
	OnDown func(epoch uint64, err error)
}

// Conn owns one transport session: connect, keepalive, teardown, and the
// bounded-backoff reconnect loop. Every attempt is tagged with a
// monotonically increasing epoch; an epoch's goroutines are fully drained
// before the next attempt starts, so artifacts of a dead epoch are inert.
type Conn struct {
	cfg   ConnConfig
	hooks ConnHooks
	log   *slog.Logger

	state atomic.Int32
	epoch atomic.Uint64

	mu        sync.Mutex
	transport Transport
	authDone  chan struct{}
	authOnce  *sync.Once
}

// NewConn creates a managed connection. Run starts it.
func NewConn(cfg ConnConfig, hooks ConnHooks) *Conn {
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = defaultKeepalive
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.AuthDeadline <= 0 {
		cfg.AuthDeadline = defaultAuthDeadline
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		cfg:   cfg,
		hooks: hooks,
		log:   log.With(slog.String("component", "conn")),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Epoch returns the current connection epoch.
func (c *Conn) Epoch() uint64 {
	return c.epoch.Load()
}

// Send writes an outbound message on the current transport. Returns
// ErrNotConnected when no transport is up.
func (c *Conn) Send(msg perpl.Outbound) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return domain.ErrNotConnected
	}
	return t.Send(msg)
}

// SendEpoch writes an outbound message only if the given epoch is still
// current, preventing a stale producer from writing into a new session.
func (c *Conn) SendEpoch(epoch uint64, msg perpl.Outbound) error {
	c.mu.Lock()
	t := c.transport
	current := c.epoch.Load()
	c.mu.Unlock()
	if t == nil || epoch != current {
		return domain.ErrNotConnected
	}
	return t.Send(msg)
}

// ConfirmAuth signals that the session snapshot for the given epoch arrived,
// completing the Authenticating state. Calls for stale epochs are ignored.
func (c *Conn) ConfirmAuth(epoch uint64) {
	c.mu.Lock()
	done, once := c.authDone, c.authOnce
	current := c.epoch.Load()
	c.mu.Unlock()
	if done == nil || once == nil || epoch != current {
		return
	}
	once.Do(func() { close(done) })
}

// Run drives the connect/reconnect loop until the context is cancelled or the
// credential is rejected. Both rejection paths terminate the loop: the
// distinguished close code on a live socket and an ErrCredentialExpired
// surfaced by the Authenticate hook (the REST collaborator refusing to issue
// a session). Either way ErrCredentialExpired is returned and the caller must
// obtain a fresh credential before calling Run again.
func (c *Conn) Run(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		epoch := c.epoch.Add(1)
		ready, failure := c.runEpoch(ctx, epoch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if perpl.IsAuthFailure(failure) || errors.Is(failure, domain.ErrCredentialExpired) {
			c.log.Error("credential rejected, stopping reconnect",
				slog.Uint64("epoch", epoch))
			return fmt.Errorf("engine: conn: %w", domain.ErrCredentialExpired)
		}

		if ready {
			backoff = c.cfg.InitialBackoff
		}
		c.log.Info("reconnecting after backoff",
			slog.Uint64("epoch", epoch),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// runEpoch runs one connection attempt to completion. It returns whether the
// epoch reached Ready and the failure that ended it. Teardown (transport
// close, loop drain) is complete when it returns.
func (c *Conn) runEpoch(ctx context.Context, epoch uint64) (ready bool, failure error) {
	c.state.Store(int32(StateConnecting))
	c.log.Info("connecting", slog.Uint64("epoch", epoch), slog.String("url", c.cfg.URL))

	t, err := c.cfg.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.log.Warn("dial failed", slog.Uint64("epoch", epoch), slog.String("error", err.Error()))
		return false, err
	}

	c.mu.Lock()
	c.transport = t
	c.authDone = make(chan struct{})
	c.authOnce = new(sync.Once)
	authDone := c.authDone
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))

	epochCtx, cancel := context.WithCancel(ctx)
	readErr := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		readErr <- c.readLoop(epochCtx, t, epoch)
	}()
	go func() {
		defer wg.Done()
		c.keepaliveLoop(epochCtx, t, epoch)
	}()

	if c.hooks.Authenticate != nil {
		c.state.Store(int32(StateAuthenticating))
		if err := c.hooks.Authenticate(epochCtx, epoch); err != nil {
			failure = err
		} else {
			select {
			case <-authDone:
			case err := <-readErr:
				failure = err
			case <-time.After(c.cfg.AuthDeadline):
				failure = errAuthTimeout
			case <-ctx.Done():
				failure = ctx.Err()
			}
		}
	}

	if failure == nil {
		ready = true
		c.state.Store(int32(StateReady))
		c.log.Info("ready", slog.Uint64("epoch", epoch))
		if c.hooks.OnReady != nil {
			c.hooks.OnReady(epoch)
		}

		select {
		case err := <-readErr:
			failure = err
		case <-ctx.Done():
			failure = ctx.Err()
		}
	}

	// Teardown: cancel timers, close the socket, drain both loops. Nothing
	// from this epoch may be observed afterwards.
	c.state.Store(int32(StateClosing))
	cancel()
	_ = t.Close()
	c.mu.Lock()
	c.transport = nil
	c.authDone = nil
	c.authOnce = nil
	c.mu.Unlock()
	wg.Wait()

	c.state.Store(int32(StateDisconnected))
	if c.hooks.OnDown != nil {
		c.hooks.OnDown(epoch, failure)
	}
	c.log.Info("epoch down",
		slog.Uint64("epoch", epoch),
		slog.Bool("reached_ready", ready),
		slog.String("error", errString(failure)),
	)
	return ready, failure
}

// readLoop is the single ordered inbound consumer for one epoch. Every
// decoded envelope is handed to OnMessage synchronously, preserving arrival
// order for the sequence tracker, book engine, and session machine.
func (c *Conn) readLoop(ctx context.Context, t Transport, epoch uint64) error {
	readWait := c.cfg.Keepalive * readFactor
	for {
		env, err := t.ReadEnvelope(readWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if c.hooks.OnMessage != nil {
			c.hooks.OnMessage(epoch, env)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// keepaliveLoop sends a ping every keepalive interval, independent of inbound
// traffic. The inbound watchdog itself is the read deadline in readLoop.
func (c *Conn) keepaliveLoop(ctx context.Context, t Transport, epoch uint64) {
	ticker := time.NewTicker(c.cfg.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Send(perpl.NewPing()); err != nil {
				c.log.Debug("keepalive send failed",
					slog.Uint64("epoch", epoch),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
