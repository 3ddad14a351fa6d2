package domain

import "time"

// Candle is one OHLCV entry keyed by its open timestamp within a resolution
// series. An update for an existing open timestamp replaces the entry
// wholesale; candles are never merged field by field.
type Candle struct {
	OpenTime    time.Time
	OpenTicks   int64
	HighTicks   int64
	LowTicks    int64
	CloseTicks  int64
	VolumeUnits int64
	TradeCount  int32
}

// CandleSeries is an ascending (by OpenTime) series for one market and
// resolution.
type CandleSeries struct {
	Market     MarketID
	Resolution string
	Candles    []Candle
}

// Latest returns the most recent (still-open) candle, if any.
func (s CandleSeries) Latest() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}
