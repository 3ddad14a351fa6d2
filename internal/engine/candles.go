package engine

import (
	"sort"
	"sync"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// candleKey identifies one series.
type candleKey struct {
	market     domain.MarketID
	resolution string
}

// CandleStore maintains candle series per (market, resolution). Series are
// ascending by open timestamp; an update entry whose open timestamp already
// exists replaces that candle wholesale, otherwise it is appended in order.
type CandleStore struct {
	mu     sync.RWMutex
	series map[candleKey][]domain.Candle
}

// NewCandleStore creates an empty candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{series: make(map[candleKey][]domain.Candle)}
}

// ApplySnapshot replaces the full series for a market and resolution. The
// snapshot is sorted defensively; servers send oldest to newest.
func (s *CandleStore) ApplySnapshot(market domain.MarketID, resolution string, candles []domain.Candle) {
	copied := append([]domain.Candle(nil), candles...)
	sort.Slice(copied, func(i, j int) bool { return copied[i].OpenTime.Before(copied[j].OpenTime) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[candleKey{market, resolution}] = copied
}

// Merge applies update entries, each keyed by open timestamp: replace in
// place when the timestamp exists, append otherwise, preserving ascending
// order. Updates normally carry the previous (closed) and current (open)
// candle.
func (s *CandleStore) Merge(market domain.MarketID, resolution string, candles []domain.Candle) {
	if len(candles) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := candleKey{market, resolution}
	series := s.series[key]

	for _, c := range candles {
		i := sort.Search(len(series), func(i int) bool {
			return !series[i].OpenTime.Before(c.OpenTime)
		})
		if i < len(series) && series[i].OpenTime.Equal(c.OpenTime) {
			series[i] = c
			continue
		}
		series = append(series, domain.Candle{})
		copy(series[i+1:], series[i:])
		series[i] = c
	}
	s.series[key] = series
}

// Series returns a point-in-time copy of a series. The second return is
// false when no series exists.
func (s *CandleStore) Series(market domain.MarketID, resolution string) (domain.CandleSeries, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	held, ok := s.series[candleKey{market, resolution}]
	if !ok {
		return domain.CandleSeries{}, false
	}
	return domain.CandleSeries{
		Market:     market,
		Resolution: resolution,
		Candles:    append([]domain.Candle(nil), held...),
	}, true
}
