package domain

import "time"

// PriceLevel is one price level of an order book side. Prices and sizes are
// fixed-point integers at Scale.
type PriceLevel struct {
	PriceTicks int64
	SizeUnits  int64
	OrderCount int32
}

// Price returns the display price from fixed-point ticks.
func (l PriceLevel) Price() float64 { return float64(l.PriceTicks) / Scale }

// Size returns the display size from fixed-point units.
func (l PriceLevel) Size() float64 { return float64(l.SizeUnits) / Scale }

// BookSnapshot is a point-in-time copy of both sides of a market's book.
// Bids are ordered descending by price, asks ascending; the first entry of
// each side is the best.
type BookSnapshot struct {
	Market    MarketID
	Bids      []PriceLevel
	Asks      []PriceLevel
	Synced    bool
	UpdatedAt time.Time
}

// BestBid returns the highest bid, if any.
func (s BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}
