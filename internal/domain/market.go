// Package domain defines the core types shared across the engine: markets,
// price levels, trades, candles, mirrored account state, and the store/cache
// interfaces implemented by the infrastructure packages.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Scale is the fixed-point denominator for prices and sizes. All prices and
// sizes on the wire and in mirrored state are integers at this scale.
const Scale = 1_000_000

// MarketID identifies a market on the exchange.
type MarketID int64

// StreamName is the logical name portion of a stream key.
type StreamName string

const (
	StreamOrderBook StreamName = "order-book"
	StreamTrades    StreamName = "trades"
	StreamCandles   StreamName = "candles"
)

// StreamKey identifies a logical stream as "<name>@<selector>". Candle
// selectors carry a resolution suffix: "candles@16*1m".
type StreamKey string

// BookStream returns the order-book stream key for a market.
func BookStream(market MarketID) StreamKey {
	return StreamKey(fmt.Sprintf("%s@%d", StreamOrderBook, market))
}

// TradeStream returns the trades stream key for a market.
func TradeStream(market MarketID) StreamKey {
	return StreamKey(fmt.Sprintf("%s@%d", StreamTrades, market))
}

// CandleStream returns the candle stream key for a market and resolution.
func CandleStream(market MarketID, resolution string) StreamKey {
	return StreamKey(fmt.Sprintf("%s@%d*%s", StreamCandles, market, resolution))
}

// Name returns the stream name portion of the key, or "" if malformed.
func (k StreamKey) Name() StreamName {
	name, _, ok := strings.Cut(string(k), "@")
	if !ok {
		return ""
	}
	return StreamName(name)
}

// Market parses the market id out of the key's selector. Returns false for
// malformed keys.
func (k StreamKey) Market() (MarketID, bool) {
	_, sel, ok := strings.Cut(string(k), "@")
	if !ok {
		return 0, false
	}
	idStr, _, _ := strings.Cut(sel, "*")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return MarketID(id), true
}

// Resolution returns the candle resolution suffix of the key, or "" if the
// selector has none.
func (k StreamKey) Resolution() string {
	_, sel, ok := strings.Cut(string(k), "@")
	if !ok {
		return ""
	}
	_, res, _ := strings.Cut(sel, "*")
	return res
}
