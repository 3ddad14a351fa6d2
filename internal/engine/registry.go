package engine

import (
	"sort"
	"sync"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// StreamSub is one tracked logical stream: the desired state survives
// reconnects, while the server-assigned handle is only valid within the
// epoch that acknowledged it.
type StreamSub struct {
	Key     domain.StreamKey
	Handle  int64
	Epoch   uint64 // epoch the handle belongs to
	LastSeq uint64
	HasSeq  bool
}

// Registry tracks the desired set of logical streams and their
// server-assigned handles, independent of connection state.
type Registry struct {
	mu       sync.Mutex
	desired  map[domain.StreamKey]*StreamSub
	byHandle map[int64]*StreamSub
	epoch    uint64
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		desired:  make(map[domain.StreamKey]*StreamSub),
		byHandle: make(map[int64]*StreamSub),
	}
}

// Want adds a stream to the desired set. Returns true if the stream was not
// already desired.
func (r *Registry) Want(key domain.StreamKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.desired[key]; ok {
		return false
	}
	r.desired[key] = &StreamSub{Key: key}
	return true
}

// Drop removes a stream from the desired set and returns whether it was
// present.
func (r *Registry) Drop(key domain.StreamKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.desired[key]
	if !ok {
		return false
	}
	if sub.Epoch == r.epoch && sub.Handle != 0 {
		delete(r.byHandle, sub.Handle)
	}
	delete(r.desired, key)
	return true
}

// DesiredKeys returns the full desired set in a stable order, for the bulk
// subscribe issued on every transition into Ready.
func (r *Registry) DesiredKeys() []domain.StreamKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]domain.StreamKey, 0, len(r.desired))
	for key := range r.desired {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ResetEpoch invalidates all handles and seeded sequence numbers. Called when
// a new connection epoch begins; handles are unique only within an epoch.
func (r *Registry) ResetEpoch(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch = epoch
	r.byHandle = make(map[int64]*StreamSub)
	for _, sub := range r.desired {
		sub.Handle = 0
		sub.Epoch = 0
		sub.LastSeq = 0
		sub.HasSeq = false
	}
}

// Ack records the server-assigned handle for a stream. Re-subscribing an
// already-subscribed stream is harmless: the handle is simply overwritten.
// Acks for streams no longer desired are ignored.
func (r *Registry) Ack(key domain.StreamKey, handle int64, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.desired[key]
	if !ok {
		return false
	}
	if sub.Handle != 0 && sub.Epoch == r.epoch {
		delete(r.byHandle, sub.Handle)
	}
	sub.Handle = handle
	sub.Epoch = epoch
	sub.LastSeq = 0
	sub.HasSeq = false
	r.byHandle[handle] = sub
	return true
}

// Resolve maps a handle back to its stream key within the current epoch.
func (r *Registry) Resolve(handle int64) (domain.StreamKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byHandle[handle]
	if !ok || sub.Epoch != r.epoch {
		return "", false
	}
	return sub.Key, true
}

// Len returns the size of the desired set.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.desired)
}
