package engine

import (
	"sync"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// SeqResult classifies one observed sequence number.
type SeqResult int

const (
	// SeqOK means the number continues the stream (or seeds it).
	SeqOK SeqResult = iota
	// SeqGap means a strict stream missed messages and must be resubscribed.
	SeqGap
	// SeqSkip means a gap-tolerant stream had a discontinuity; recorded only.
	SeqSkip
)

// strictStreams are continuous: every sequence number must be previous+1.
// All other sequenced streams are gap-tolerant.
var strictStreams = map[domain.StreamName]bool{
	domain.StreamOrderBook: true,
}

// SequenceTracker checks per-stream monotonic sequence numbers within a
// connection epoch. The first observed number seeds a stream.
type SequenceTracker struct {
	mu    sync.Mutex
	last  map[domain.StreamKey]uint64
	skips map[domain.StreamKey]int
}

// NewSequenceTracker creates an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{
		last:  make(map[domain.StreamKey]uint64),
		skips: make(map[domain.StreamKey]int),
	}
}

// Observe checks the next sequence number for a stream and advances it.
func (t *SequenceTracker) Observe(key domain.StreamKey, seq uint64) SeqResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[key]
	t.last[key] = seq
	if !seen || seq == prev+1 {
		return SeqOK
	}

	if strictStreams[key.Name()] {
		// The stream is resubscribed for a fresh snapshot; forget the seed so
		// the post-resubscribe sequence re-seeds cleanly.
		delete(t.last, key)
		return SeqGap
	}
	t.skips[key]++
	return SeqSkip
}

// Reset forgets a single stream's seed, used when it is resubscribed.
func (t *SequenceTracker) Reset(key domain.StreamKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}

// ResetAll forgets every seed. Called when a connection epoch ends.
func (t *SequenceTracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[domain.StreamKey]uint64)
}

// Discontinuities returns how many advisory gaps a stream has recorded.
func (t *SequenceTracker) Discontinuities(key domain.StreamKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skips[key]
}
