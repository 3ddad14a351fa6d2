// Package perpl implements the wire protocol and transports for the Perpl
// streaming exchange API: the websocket envelope codec, the websocket socket
// wrapper, and the REST collaborators for authentication and history.
package perpl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// Kind is the integer message-kind discriminator carried by every envelope.
type Kind int

const (
	KindSubscribeAck    Kind = 1
	KindUnsubscribeAck  Kind = 2
	KindBookSnapshot    Kind = 3
	KindBookUpdate      Kind = 4
	KindTradeSnapshot   Kind = 5
	KindTradeUpdate     Kind = 6
	KindCandleSnapshot  Kind = 7
	KindCandleUpdate    Kind = 8
	KindSessionSnapshot Kind = 10
	KindOrderUpdate     Kind = 11
	KindFillUpdate      Kind = 12
	KindPositionUpdate  Kind = 13
	KindAccountUpdate   Kind = 14
	KindHeartbeat       Kind = 15

	KindOrderCommand  Kind = 20
	KindCancelCommand Kind = 21
	KindAuth          Kind = 22
	KindSubscribe     Kind = 23
	KindUnsubscribe   Kind = 24
	KindPing          Kind = 25
)

// CloseAuthFailure is the distinguished close code meaning the session
// credential was rejected. It must short-circuit the normal reconnect path.
const CloseAuthFailure = 4001

// Envelope is the outer record of every message: the kind discriminator plus
// the optional routing fields and the kind-specific payload.
type Envelope struct {
	Kind         Kind            `json:"kind"`
	Subscription *int64          `json:"subscription,omitempty"`
	Sequence     *uint64         `json:"sequence,omitempty"`
	RequestID    *uint64         `json:"request_id,omitempty"`
	Session      string          `json:"session,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Message is the closed set of decoded inbound payloads. The dispatcher
// switches on the concrete type, never on raw JSON.
type Message interface {
	kind() Kind
}

// SubscribeAck confirms a subscription and carries the server-assigned handle.
type SubscribeAck struct {
	Stream domain.StreamKey `json:"stream"`
	Handle int64            `json:"handle"`
}

// UnsubscribeAck confirms removal of a subscription.
type UnsubscribeAck struct {
	Stream domain.StreamKey `json:"stream"`
	Handle int64            `json:"handle"`
}

// LevelEntry is one price level in a book snapshot or update. A zero Size in
// an update removes the price.
type LevelEntry struct {
	Price int64 `json:"px"`
	Size  int64 `json:"sz"`
	Count int32 `json:"n"`
}

// BookSnapshot replaces both sides of a market's book wholesale.
type BookSnapshot struct {
	Market domain.MarketID `json:"market"`
	Bids   []LevelEntry    `json:"bids"`
	Asks   []LevelEntry    `json:"asks"`
	Time   int64           `json:"ts"`
}

// BookUpdate patches individual levels; entries may arrive in any order.
type BookUpdate struct {
	Market domain.MarketID `json:"market"`
	Bids   []LevelEntry    `json:"bids"`
	Asks   []LevelEntry    `json:"asks"`
	Time   int64           `json:"ts"`
}

// TradeEntry is one trade on the wire.
type TradeEntry struct {
	Block    uint64 `json:"block"`
	Time     int64  `json:"ts"`
	TxHash   string `json:"tx"`
	LogIndex uint32 `json:"log"`
	Price    int64  `json:"px"`
	Size     int64  `json:"sz"`
	Side     string `json:"side"`
}

// Record converts the wire entry to a domain trade record.
func (t TradeEntry) Record(market domain.MarketID) domain.TradeRecord {
	return domain.TradeRecord{
		Market:     market,
		Block:      t.Block,
		Time:       time.UnixMilli(t.Time),
		TxHash:     t.TxHash,
		LogIndex:   t.LogIndex,
		PriceTicks: t.Price,
		SizeUnits:  t.Size,
		Side:       domain.TradeSide(t.Side),
	}
}

// TradeSnapshot replaces the bounded trade history for a market.
type TradeSnapshot struct {
	Market domain.MarketID `json:"market"`
	Trades []TradeEntry    `json:"trades"`
}

// TradeUpdate appends new trades.
type TradeUpdate struct {
	Market domain.MarketID `json:"market"`
	Trades []TradeEntry    `json:"trades"`
}

// CandleEntry is one candle on the wire, keyed by its open timestamp.
type CandleEntry struct {
	OpenTime int64 `json:"t"`
	Open     int64 `json:"o"`
	High     int64 `json:"h"`
	Low      int64 `json:"l"`
	Close    int64 `json:"c"`
	Volume   int64 `json:"v"`
	Trades   int32 `json:"n"`
}

// Candle converts the wire entry to a domain candle.
func (c CandleEntry) Candle() domain.Candle {
	return domain.Candle{
		OpenTime:    time.UnixMilli(c.OpenTime),
		OpenTicks:   c.Open,
		HighTicks:   c.High,
		LowTicks:    c.Low,
		CloseTicks:  c.Close,
		VolumeUnits: c.Volume,
		TradeCount:  c.Trades,
	}
}

// CandleSnapshot replaces a full series for (market, resolution), ordered
// oldest to newest.
type CandleSnapshot struct {
	Market     domain.MarketID `json:"market"`
	Resolution string          `json:"resolution"`
	Candles    []CandleEntry   `json:"candles"`
}

// CandleUpdate carries at most the previous (closed) and current (open)
// candle; each is merged into the series by open timestamp.
type CandleUpdate struct {
	Market     domain.MarketID `json:"market"`
	Resolution string          `json:"resolution"`
	Candles    []CandleEntry   `json:"candles"`
}

// OrderEntry is one order on the wire.
type OrderEntry struct {
	OrderID   int64           `json:"oid"`
	RequestID uint64          `json:"rid,omitempty"`
	Market    domain.MarketID `json:"market"`
	Account   string          `json:"account"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Price     int64           `json:"px"`
	Size      int64           `json:"sz"`
	Filled    int64           `json:"filled"`
	Status    string          `json:"status"`
	Block     uint64          `json:"block"`
	Created   int64           `json:"created"`
	Updated   int64           `json:"updated"`
	Removed   bool            `json:"removed,omitempty"`
}

// Order converts the wire entry to a mirrored domain order.
func (e OrderEntry) Order() domain.Order {
	return domain.Order{
		OrderID:    e.OrderID,
		RequestID:  e.RequestID,
		Market:     e.Market,
		Account:    e.Account,
		Side:       domain.OrderSide(e.Side),
		Type:       domain.OrderType(e.Type),
		PriceTicks: e.Price,
		SizeUnits:  e.Size,
		Filled:     e.Filled,
		Status:     domain.OrderStatus(e.Status),
		Block:      e.Block,
		CreatedAt:  time.UnixMilli(e.Created),
		UpdatedAt:  time.UnixMilli(e.Updated),
	}
}

// PositionEntry is one position on the wire.
type PositionEntry struct {
	Account     string          `json:"account"`
	Market      domain.MarketID `json:"market"`
	Side        string          `json:"side"`
	Size        int64           `json:"sz"`
	Entry       int64           `json:"entry"`
	Mark        int64           `json:"mark"`
	Unrealized  int64           `json:"upnl"`
	Liquidation int64           `json:"liq"`
	Block       uint64          `json:"block"`
	Updated     int64           `json:"updated"`
}

// Position converts the wire entry to a mirrored domain position.
func (e PositionEntry) Position() domain.Position {
	return domain.Position{
		Account:       e.Account,
		Market:        e.Market,
		Side:          domain.PositionSide(e.Side),
		SizeUnits:     e.Size,
		EntryTicks:    e.Entry,
		MarkTicks:     e.Mark,
		UnrealizedPnl: e.Unrealized,
		LiquidationPx: e.Liquidation,
		Block:         e.Block,
		UpdatedAt:     time.UnixMilli(e.Updated),
	}
}

// AccountEntry is mirrored wallet state on the wire.
type AccountEntry struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
	Margin  int64  `json:"margin"`
	Updated int64  `json:"updated"`
}

// Account converts the wire entry to a mirrored domain account.
func (e AccountEntry) Account() domain.Account {
	return domain.Account{
		Address:      e.Address,
		BalanceUnits: e.Balance,
		MarginUnits:  e.Margin,
		UpdatedAt:    time.UnixMilli(e.Updated),
	}
}

// SessionSnapshot seeds the trading session: wallet state plus all open
// orders and positions. Receiving it completes authentication.
type SessionSnapshot struct {
	SessionID string          `json:"session"`
	Account   AccountEntry    `json:"account"`
	Orders    []OrderEntry    `json:"orders"`
	Positions []PositionEntry `json:"positions"`
	Block     uint64          `json:"block"`
}

// OrderUpdate patches one mirrored order by id. Removed orders leave the
// open-order view.
type OrderUpdate struct {
	Order OrderEntry `json:"order"`
}

// FillEntry is one execution on the wire.
type FillEntry struct {
	FillID    int64           `json:"fid"`
	OrderID   int64           `json:"oid"`
	RequestID uint64          `json:"rid,omitempty"`
	Market    domain.MarketID `json:"market"`
	Account   string          `json:"account"`
	Side      string          `json:"side"`
	Price     int64           `json:"px"`
	Size      int64           `json:"sz"`
	Fee       int64           `json:"fee"`
	Block     uint64          `json:"block"`
	TxHash    string          `json:"tx"`
	Time      int64           `json:"ts"`
}

// Fill converts the wire entry to a mirrored domain fill.
func (e FillEntry) Fill() domain.Fill {
	return domain.Fill{
		FillID:     e.FillID,
		OrderID:    e.OrderID,
		Market:     e.Market,
		Account:    e.Account,
		Side:       domain.OrderSide(e.Side),
		PriceTicks: e.Price,
		SizeUnits:  e.Size,
		FeeUnits:   e.Fee,
		Block:      e.Block,
		TxHash:     e.TxHash,
		Time:       time.UnixMilli(e.Time),
	}
}

// FillUpdate reports one execution.
type FillUpdate struct {
	Fill FillEntry `json:"fill"`
}

// PositionUpdate patches one mirrored position.
type PositionUpdate struct {
	Position PositionEntry `json:"position"`
}

// AccountUpdate patches mirrored wallet state.
type AccountUpdate struct {
	Account AccountEntry `json:"account"`
}

// Heartbeat carries the latest known chain head block. Command expiry is
// computed against it.
type Heartbeat struct {
	Block uint64 `json:"block"`
	Time  int64  `json:"ts"`
}

// Unknown wraps an envelope whose kind the engine does not recognize. Unknown
// kinds are ignored without failing.
type Unknown struct {
	Envelope Envelope
}

func (SubscribeAck) kind() Kind    { return KindSubscribeAck }
func (UnsubscribeAck) kind() Kind  { return KindUnsubscribeAck }
func (BookSnapshot) kind() Kind    { return KindBookSnapshot }
func (BookUpdate) kind() Kind      { return KindBookUpdate }
func (TradeSnapshot) kind() Kind   { return KindTradeSnapshot }
func (TradeUpdate) kind() Kind     { return KindTradeUpdate }
func (CandleSnapshot) kind() Kind  { return KindCandleSnapshot }
func (CandleUpdate) kind() Kind    { return KindCandleUpdate }
func (SessionSnapshot) kind() Kind { return KindSessionSnapshot }
func (OrderUpdate) kind() Kind     { return KindOrderUpdate }
func (FillUpdate) kind() Kind      { return KindFillUpdate }
func (PositionUpdate) kind() Kind  { return KindPositionUpdate }
func (AccountUpdate) kind() Kind   { return KindAccountUpdate }
func (Heartbeat) kind() Kind       { return KindHeartbeat }
func (Unknown) kind() Kind         { return 0 }

// Decode parses the envelope payload into its typed variant. Unrecognized
// kinds return Unknown, never an error; malformed payloads of known kinds
// return an error the dispatcher logs and skips.
func (e *Envelope) Decode() (Message, error) {
	unmarshal := func(v any) error {
		if len(e.Data) == 0 {
			return fmt.Errorf("perpl: kind %d: empty payload", e.Kind)
		}
		if err := json.Unmarshal(e.Data, v); err != nil {
			return fmt.Errorf("perpl: decode kind %d: %w", e.Kind, err)
		}
		return nil
	}

	switch e.Kind {
	case KindSubscribeAck:
		var m SubscribeAck
		return m, unmarshal(&m)
	case KindUnsubscribeAck:
		var m UnsubscribeAck
		return m, unmarshal(&m)
	case KindBookSnapshot:
		var m BookSnapshot
		return m, unmarshal(&m)
	case KindBookUpdate:
		var m BookUpdate
		return m, unmarshal(&m)
	case KindTradeSnapshot:
		var m TradeSnapshot
		return m, unmarshal(&m)
	case KindTradeUpdate:
		var m TradeUpdate
		return m, unmarshal(&m)
	case KindCandleSnapshot:
		var m CandleSnapshot
		return m, unmarshal(&m)
	case KindCandleUpdate:
		var m CandleUpdate
		return m, unmarshal(&m)
	case KindSessionSnapshot:
		var m SessionSnapshot
		return m, unmarshal(&m)
	case KindOrderUpdate:
		var m OrderUpdate
		return m, unmarshal(&m)
	case KindFillUpdate:
		var m FillUpdate
		return m, unmarshal(&m)
	case KindPositionUpdate:
		var m PositionUpdate
		return m, unmarshal(&m)
	case KindAccountUpdate:
		var m AccountUpdate
		return m, unmarshal(&m)
	case KindHeartbeat:
		var m Heartbeat
		return m, unmarshal(&m)
	default:
		return Unknown{Envelope: *e}, nil
	}
}

// --------------------------------------------------------------------------
// Outbound messages
// --------------------------------------------------------------------------

// Outbound is a message the client sends; it marshals into an envelope.
type Outbound struct {
	Kind      Kind
	RequestID uint64
	Data      any
}

// MarshalJSON encodes the outbound message as a wire envelope.
func (o Outbound) MarshalJSON() ([]byte, error) {
	env := struct {
		Kind      Kind    `json:"kind"`
		RequestID *uint64 `json:"request_id,omitempty"`
		Data      any     `json:"data,omitempty"`
	}{Kind: o.Kind, Data: o.Data}
	if o.RequestID != 0 {
		env.RequestID = &o.RequestID
	}
	return json.Marshal(env)
}

// AuthRequest authenticates the trading channel with a session token.
type AuthRequest struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Nonce   int64  `json:"nonce"`
}

// NewAuth builds the single authentication message sent on the trading
// channel after connect.
func NewAuth(cred domain.Credential) Outbound {
	return Outbound{Kind: KindAuth, Data: AuthRequest{
		Address: cred.Address,
		Token:   cred.Token,
		Nonce:   cred.Nonce,
	}}
}

// SubscribeRequest subscribes to a batch of streams.
type SubscribeRequest struct {
	Streams []domain.StreamKey `json:"streams"`
}

// NewSubscribe builds a bulk subscribe message.
func NewSubscribe(streams []domain.StreamKey) Outbound {
	return Outbound{Kind: KindSubscribe, Data: SubscribeRequest{Streams: streams}}
}

// NewUnsubscribe builds a bulk unsubscribe message.
func NewUnsubscribe(streams []domain.StreamKey) Outbound {
	return Outbound{Kind: KindUnsubscribe, Data: SubscribeRequest{Streams: streams}}
}

// OrderRequest is the outbound order command payload.
type OrderRequest struct {
	Market      domain.MarketID `json:"market"`
	Side        string          `json:"side"`
	Type        string          `json:"type"`
	Price       int64           `json:"px"`
	Size        int64           `json:"sz"`
	ReduceOnly  bool            `json:"reduce_only,omitempty"`
	ExpiryBlock uint64          `json:"expiry_block,omitempty"`
}

// NewOrderCommand builds an order placement carrying the given request id.
func NewOrderCommand(requestID uint64, cmd domain.OrderCommand) Outbound {
	return Outbound{Kind: KindOrderCommand, RequestID: requestID, Data: OrderRequest{
		Market:      cmd.Market,
		Side:        string(cmd.Side),
		Type:        string(cmd.Type),
		Price:       cmd.PriceTicks,
		Size:        cmd.SizeUnits,
		ReduceOnly:  cmd.ReduceOnly,
		ExpiryBlock: cmd.ExpiryBlock,
	}}
}

// CancelRequest is the outbound cancel payload.
type CancelRequest struct {
	Market  domain.MarketID `json:"market"`
	OrderID int64           `json:"oid"`
}

// NewCancelCommand builds an order cancellation carrying the given request id.
func NewCancelCommand(requestID uint64, cmd domain.CancelCommand) Outbound {
	return Outbound{Kind: KindCancelCommand, RequestID: requestID, Data: CancelRequest{
		Market:  cmd.Market,
		OrderID: cmd.OrderID,
	}}
}

// NewPing builds a keepalive ping.
func NewPing() Outbound {
	return Outbound{Kind: KindPing}
}
