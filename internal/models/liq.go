package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is the side of the order that closed the liquidated position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	ExchangeBinance   = "binance"
	ExchangeOKX       = "okx"
	ExchangeBybit     = "bybit"
	ExchangeCoinglass = "coinglass"
)

// ParseSide maps exchange spellings ("sell", "SELL", "Sell") onto Side.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return "", false
	}
}

// PositionLabel names the position that was liquidated. A sell order closes
// a long, a buy order closes a short.
func (s Side) PositionLabel() string {
	if s == SideSell {
		return "Long"
	}
	return "Short"
}

// LiquidationEvent is a single forced close reported by an upstream. Values
// are immutable once fetched.
type LiquidationEvent struct {
	Exchange    string  `json:"exchange"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp_ms"`
	OrderID     string  `json:"order_id,omitempty"`
	// Bucket is set for aggregated records (e.g. "h1") whose Quantity holds
	// the USD notional and Price is 1.
	Bucket string `json:"bucket,omitempty"`
}

// USDValue is quantity × price.
func (e LiquidationEvent) USDValue() float64 {
	return e.Quantity * e.Price
}

// Time returns the event timestamp in UTC.
func (e LiquidationEvent) Time() time.Time {
	return time.UnixMilli(e.TimestampMs).UTC()
}

// Key returns the dedupe identity of the event.
func (e LiquidationEvent) Key() EventKey {
	return EventKey{Symbol: e.Symbol, TimestampMs: e.TimestampMs, OrderID: e.OrderID}
}

// EventKey identifies a liquidation for at-most-once alerting.
type EventKey struct {
	Symbol      string
	TimestampMs int64
	OrderID     string
}

// String renders the key as SYMBOL|timestampMs|orderId, the form persisted
// by durable dedupe stores.
func (k EventKey) String() string {
	return fmt.Sprintf("%s|%d|%s", k.Symbol, k.TimestampMs, k.OrderID)
}

// DominanceReport is one market-dominance reading.
type DominanceReport struct {
	Asset      string
	Percentage float64
	ObservedAt time.Time
}
