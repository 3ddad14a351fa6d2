package perpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

const (
	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Socket wraps one websocket connection to the exchange. Reads are performed
// by a single consumer; writes may come from multiple producers and are
// serialized onto the connection.
type Socket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

// Dial opens a websocket connection to the given URL.
func Dial(ctx context.Context, url string) (*Socket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("perpl/ws: dial %s: %w", url, err)
	}
	return &Socket{conn: conn}, nil
}

// ReadEnvelope blocks until the next message arrives and decodes its outer
// envelope. readWait bounds the wait; a quiet connection surfaces as a read
// timeout, which the connection manager treats as a transport failure.
func (s *Socket) ReadEnvelope(readWait time.Duration) (*Envelope, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		return nil, fmt.Errorf("perpl/ws: set read deadline: %w", err)
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("perpl/ws: read: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("perpl/ws: decode envelope: %w", err)
	}
	return &env, nil
}

// Send marshals and writes an outbound message. Safe for concurrent use; the
// write lock preserves command ordering on the connection.
func (s *Socket) Send(msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("perpl/ws: marshal kind %d: %w", msg.Kind, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return domain.ErrNotConnected
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("perpl/ws: set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("perpl/ws: write kind %d: %w", msg.Kind, err)
	}
	return nil
}

// Close sends a close frame and tears down the connection. Safe to call more
// than once.
func (s *Socket) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return s.conn.Close()
}

// CloseCode extracts the websocket close status from a read error, or 0 when
// the error carries none.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// IsAuthFailure reports whether the error is the distinguished
// authentication-failure close.
func IsAuthFailure(err error) bool {
	return CloseCode(err) == CloseAuthFailure
}
