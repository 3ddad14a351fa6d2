package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// defaultRequestTimeout bounds how long an unacknowledged request stays
// pending before it resolves to Unknown.
const defaultRequestTimeout = 10 * time.Second

// pendingRequest is one in-flight order or cancel command.
type pendingRequest struct {
	id      uint64
	sentAt  time.Time
	epoch   uint64
	done    chan domain.RequestState
	state   domain.RequestState
	orderID int64
}

// RequestTracker correlates outbound commands with their acknowledgements.
// Request ids are strictly increasing within a session; the tracker rejects
// ids at or below the last issued one before they reach the wire.
type RequestTracker struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest
	timeout time.Duration
	now     func() time.Time
}

// NewRequestTracker creates a tracker. timeout <= 0 selects the default.
func NewRequestTracker(timeout time.Duration) *RequestTracker {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &RequestTracker{
		nextID:  1,
		pending: make(map[uint64]*pendingRequest),
		timeout: timeout,
		now:     time.Now,
	}
}

// Next issues the next request id. Ids never repeat within a session.
func (t *RequestTracker) Next() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// Track registers a request id as in flight for the given connection epoch.
// The id must come from Next and must be above every previously tracked id,
// otherwise ErrStaleRequestID is returned and nothing is sent.
func (t *RequestTracker) Track(id, epoch uint64) (<-chan domain.RequestState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id >= t.nextID {
		return nil, fmt.Errorf("requests: track %d: id not issued", id)
	}
	if _, dup := t.pending[id]; dup {
		return nil, fmt.Errorf("requests: track %d: %w", id, domain.ErrStaleRequestID)
	}
	for held := range t.pending {
		if id < held {
			return nil, fmt.Errorf("requests: track %d below pending %d: %w", id, held, domain.ErrStaleRequestID)
		}
	}
	p := &pendingRequest{
		id:     id,
		sentAt: t.now(),
		epoch:  epoch,
		done:   make(chan domain.RequestState, 1),
		state:  domain.RequestPending,
	}
	t.pending[id] = p
	return p.done, nil
}

// Resolve settles a pending request to a terminal state. Unknown ids are
// ignored; an acknowledgement may race the timeout sweep.
func (t *RequestTracker) Resolve(id uint64, state domain.RequestState, orderID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)
	p.state = state
	p.orderID = orderID
	p.done <- state
	return true
}

// Sweep resolves every pending request older than the timeout to Unknown and
// returns their ids. Unknown means indeterminate: the venue may or may not
// have accepted the order, so callers reconcile against history rather than
// resubmit.
func (t *RequestTracker) Sweep() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.timeout)
	var expired []uint64
	for id, p := range t.pending {
		if p.sentAt.After(cutoff) {
			continue
		}
		delete(t.pending, id)
		p.state = domain.RequestUnknown
		p.done <- domain.RequestUnknown
		expired = append(expired, id)
	}
	return expired
}

// InvalidateEpoch resolves every request sent on an older epoch to Unknown.
// A reconnect never resubmits: the fate of in-flight commands is settled by
// reconciliation, not by retry.
func (t *RequestTracker) InvalidateEpoch(current uint64) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var invalidated []uint64
	for id, p := range t.pending {
		if p.epoch >= current {
			continue
		}
		delete(t.pending, id)
		p.state = domain.RequestUnknown
		p.done <- domain.RequestUnknown
		invalidated = append(invalidated, id)
	}
	return invalidated
}

// PendingCount reports how many requests are awaiting acknowledgement.
func (t *RequestTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
