package engine

import (
	"sync"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// defaultTradeBound caps the per-market trade history when none is
// configured.
const defaultTradeBound = 1000

// TradeLog keeps a bounded, time-ordered trade history per market. A
// snapshot replaces the history; updates append and trim the oldest entries
// beyond the bound.
type TradeLog struct {
	mu     sync.RWMutex
	bound  int
	trades map[domain.MarketID][]domain.TradeRecord
}

// NewTradeLog creates a trade log holding at most bound trades per market.
func NewTradeLog(bound int) *TradeLog {
	if bound <= 0 {
		bound = defaultTradeBound
	}
	return &TradeLog{
		bound:  bound,
		trades: make(map[domain.MarketID][]domain.TradeRecord),
	}
}

// ApplySnapshot replaces a market's history. Entries beyond the bound are
// trimmed from the oldest end.
func (l *TradeLog) ApplySnapshot(market domain.MarketID, trades []domain.TradeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := append([]domain.TradeRecord(nil), trades...)
	if len(copied) > l.bound {
		copied = copied[len(copied)-l.bound:]
	}
	l.trades[market] = copied
}

// Append adds new trades to a market's history, trimming the oldest once the
// bound is exceeded.
func (l *TradeLog) Append(market domain.MarketID, trades []domain.TradeRecord) {
	if len(trades) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	existing := append(l.trades[market], trades...)
	if len(existing) > l.bound {
		existing = existing[len(existing)-l.bound:]
	}
	l.trades[market] = existing
}

// Recent returns a copy of up to n most recent trades for a market, newest
// last. n <= 0 returns the full held history.
func (l *TradeLog) Recent(market domain.MarketID, n int) []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	held := l.trades[market]
	if n <= 0 || n > len(held) {
		n = len(held)
	}
	return append([]domain.TradeRecord(nil), held[len(held)-n:]...)
}
