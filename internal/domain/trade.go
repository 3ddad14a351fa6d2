package domain

import "time"

// TradeSide indicates the aggressor side of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeRecord is one executed trade on a market. Block, TxHash and LogIndex
// together locate the fill on chain; Time is the block wall clock.
type TradeRecord struct {
	Market     MarketID
	Block      uint64
	Time       time.Time
	TxHash     string
	LogIndex   uint32
	PriceTicks int64
	SizeUnits  int64
	Side       TradeSide
}

// Price returns the display price from fixed-point ticks.
func (t TradeRecord) Price() float64 { return float64(t.PriceTicks) / Scale }

// Size returns the display size from fixed-point units.
func (t TradeRecord) Size() float64 { return float64(t.SizeUnits) / Scale }
