package domain

import "time"

// PositionSide indicates the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is the mirrored copy of a server-asserted position, keyed by
// (Account, Market).
type Position struct {
	Account       string
	Market        MarketID
	Side          PositionSide
	SizeUnits     int64
	EntryTicks    int64 // average entry price
	MarkTicks     int64
	UnrealizedPnl int64 // fixed-point quote units
	LiquidationPx int64
	Block         uint64
	UpdatedAt     time.Time
}

// Account is the mirrored copy of server-asserted wallet state.
type Account struct {
	Address      string
	BalanceUnits int64 // free collateral, fixed-point quote units
	MarginUnits  int64 // collateral locked by positions and orders
	UpdatedAt    time.Time
}
