package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeIOC OrderType = "IOC" // Immediate-Or-Cancel
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the server-asserted order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is the mirrored copy of a server-asserted order, replaced wholesale
// by snapshots and patched by update messages keyed on OrderID.
type Order struct {
	OrderID    int64
	RequestID  uint64 // client request id that created it, 0 if unknown
	Market     MarketID
	Account    string
	Side       OrderSide
	Type       OrderType
	PriceTicks int64
	SizeUnits  int64
	Filled     int64 // filled size units
	Status     OrderStatus
	Block      uint64 // chain block of the last update
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Price returns the display price from fixed-point ticks.
func (o Order) Price() float64 { return float64(o.PriceTicks) / Scale }

// Size returns the display size from fixed-point units.
func (o Order) Size() float64 { return float64(o.SizeUnits) / Scale }

// Fill is one mirrored execution against an order.
type Fill struct {
	FillID     int64
	OrderID    int64
	Market     MarketID
	Account    string
	Side       OrderSide
	PriceTicks int64
	SizeUnits  int64
	FeeUnits   int64
	Block      uint64
	TxHash     string
	Time       time.Time
}

// OrderCommand is the payload of an outbound order placement.
type OrderCommand struct {
	Market      MarketID
	Side        OrderSide
	Type        OrderType
	PriceTicks  int64
	SizeUnits   int64
	ReduceOnly  bool
	ExpiryBlock uint64 // computed from the latest chain head
}

// Validate checks the command for locally detectable problems before signing
// and transmission.
func (c OrderCommand) Validate() error {
	if c.Market <= 0 {
		return ErrInvalidOrder
	}
	if c.Side != OrderSideBuy && c.Side != OrderSideSell {
		return ErrInvalidOrder
	}
	if c.PriceTicks <= 0 || c.SizeUnits <= 0 {
		return ErrInvalidOrder
	}
	return nil
}

// CancelCommand is the payload of an outbound order cancellation.
type CancelCommand struct {
	Market  MarketID
	OrderID int64
}

// RequestState is the resolution state of an outbound command.
type RequestState string

const (
	RequestPending      RequestState = "pending"
	RequestAcknowledged RequestState = "acknowledged"
	RequestRejected     RequestState = "rejected"
	RequestUnknown      RequestState = "unknown" // timed out or epoch ended; reconcile via history
)

// Terminal reports whether the state can no longer change.
func (s RequestState) Terminal() bool { return s != RequestPending }
