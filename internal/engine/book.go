package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
	"github.com/PerplFoundation/perpl-go/internal/platform/perpl"
)

// bookSide is an ordered price ladder. Bids are kept descending, asks
// ascending, so index 0 is always the best level. No level with zero size is
// ever stored.
type bookSide struct {
	levels []domain.PriceLevel
	desc   bool
}

// find locates price in the ladder via binary search. Returns the index and
// whether the price is present.
func (s *bookSide) find(price int64) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		if s.desc {
			return s.levels[i].PriceTicks <= price
		}
		return s.levels[i].PriceTicks >= price
	})
	return i, i < len(s.levels) && s.levels[i].PriceTicks == price
}

// apply upserts or deletes one level. Size zero removes the price if present
// and is a no-op otherwise, so applying entries in any order yields the same
// final state.
func (s *bookSide) apply(entry perpl.LevelEntry) {
	i, ok := s.find(entry.Price)
	switch {
	case entry.Size == 0 && ok:
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	case entry.Size == 0:
		// removal of an absent price: no-op
	case ok:
		s.levels[i].SizeUnits = entry.Size
		s.levels[i].OrderCount = entry.Count
	default:
		s.levels = append(s.levels, domain.PriceLevel{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = domain.PriceLevel{PriceTicks: entry.Price, SizeUnits: entry.Size, OrderCount: entry.Count}
	}
}

// replace rebuilds the ladder from snapshot entries, dropping zero-size
// levels and restoring side order.
func (s *bookSide) replace(entries []perpl.LevelEntry) {
	s.levels = s.levels[:0]
	for _, e := range entries {
		if e.Size == 0 {
			continue
		}
		s.levels = append(s.levels, domain.PriceLevel{PriceTicks: e.Price, SizeUnits: e.Size, OrderCount: e.Count})
	}
	if s.desc {
		sort.Slice(s.levels, func(i, j int) bool { return s.levels[i].PriceTicks > s.levels[j].PriceTicks })
	} else {
		sort.Slice(s.levels, func(i, j int) bool { return s.levels[i].PriceTicks < s.levels[j].PriceTicks })
	}
}

// book is the two-sided state for one market.
type book struct {
	bids      bookSide
	asks      bookSide
	synced    bool
	updatedAt time.Time
}

// BookEngine maintains per-market order book state from snapshot and update
// messages. Mutation happens only on the inbound consumer path; readers get
// point-in-time copies.
type BookEngine struct {
	mu    sync.RWMutex
	books map[domain.MarketID]*book
}

// NewBookEngine creates an empty book engine.
func NewBookEngine() *BookEngine {
	return &BookEngine{books: make(map[domain.MarketID]*book)}
}

func (e *BookEngine) bookFor(market domain.MarketID) *book {
	b, ok := e.books[market]
	if !ok {
		b = &book{bids: bookSide{desc: true}, asks: bookSide{desc: false}}
		e.books[market] = b
	}
	return b
}

// ApplySnapshot replaces both sides of a market's book wholesale and marks it
// synced. Applying the same snapshot twice yields identical state.
func (e *BookEngine) ApplySnapshot(snap perpl.BookSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.bookFor(snap.Market)
	b.bids.replace(snap.Bids)
	b.asks.replace(snap.Asks)
	b.synced = true
	b.updatedAt = time.UnixMilli(snap.Time)
}

// ApplyUpdate patches individual levels on both sides. Entries within one
// update are independent; their order does not affect the final state.
// Updates for a market that has no snapshot yet are dropped: the book is
// stale until the next snapshot.
func (e *BookEngine) ApplyUpdate(upd perpl.BookUpdate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[upd.Market]
	if !ok || !b.synced {
		return false
	}
	for _, entry := range upd.Bids {
		b.bids.apply(entry)
	}
	for _, entry := range upd.Asks {
		b.asks.apply(entry)
	}
	b.updatedAt = time.UnixMilli(upd.Time)
	return true
}

// Invalidate marks a market's book stale until the next snapshot, e.g. after
// a sequence gap or reconnect.
func (e *BookEngine) Invalidate(market domain.MarketID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[market]; ok {
		b.synced = false
	}
}

// InvalidateAll marks every book stale. Called when a connection epoch ends.
func (e *BookEngine) InvalidateAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.books {
		b.synced = false
	}
}

// Snapshot returns a point-in-time copy of a market's book. The second
// return is false when the market is unknown.
func (e *BookEngine) Snapshot(market domain.MarketID) (domain.BookSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[market]
	if !ok {
		return domain.BookSnapshot{}, false
	}
	snap := domain.BookSnapshot{
		Market:    market,
		Bids:      append([]domain.PriceLevel(nil), b.bids.levels...),
		Asks:      append([]domain.PriceLevel(nil), b.asks.levels...),
		Synced:    b.synced,
		UpdatedAt: b.updatedAt,
	}
	return snap, true
}

// Best returns the best bid and ask for a market. Returns ErrBookNotSynced
// while the book is stale.
func (e *BookEngine) Best(market domain.MarketID) (bid, ask domain.PriceLevel, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[market]
	if !ok {
		return domain.PriceLevel{}, domain.PriceLevel{}, domain.ErrNotFound
	}
	if !b.synced {
		return domain.PriceLevel{}, domain.PriceLevel{}, domain.ErrBookNotSynced
	}
	if len(b.bids.levels) > 0 {
		bid = b.bids.levels[0]
	}
	if len(b.asks.levels) > 0 {
		ask = b.asks.levels[0]
	}
	return bid, ask, nil
}
