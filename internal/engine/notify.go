package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// EventType classifies a change notification.
type EventType string

const (
	EventBookUpdated     EventType = "book_updated"
	EventBookInvalidated EventType = "book_invalidated"
	EventTrades          EventType = "trades"
	EventCandles         EventType = "candles"
	EventGapDetected     EventType = "gap_detected"
	EventSessionState    EventType = "session_state"
	EventOrderUpdated    EventType = "order_updated"
	EventFill            EventType = "fill"
	EventPosition        EventType = "position"
	EventAccount         EventType = "account"
	EventRequestResolved EventType = "request_resolved"
	EventChainHead       EventType = "chain_head"
)

// Event is one change notification fanned out to external consumers.
type Event struct {
	Type       EventType
	Market     domain.MarketID
	Resolution string
	Stream     domain.StreamKey
	RequestID  uint64
	OrderID    int64
	State      string
	Block      uint64
}

// Notifier fans events out to registered subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event, so a slow consumer
// cannot stall protocol processing.
type Notifier struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]chan Event
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uuid.UUID]chan Event)}
}

// Subscribe registers a consumer with the given buffer size and returns its
// channel along with a cancel function. Cancel closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.New()
	ch := make(chan Event, buffer)

	n.mu.Lock()
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if held, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(held)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close cancels every subscriber.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
