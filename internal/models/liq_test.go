package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUSDValue(t *testing.T) {
	e := LiquidationEvent{Quantity: 1.5, Price: 68000}
	assert.Equal(t, 102000.0, e.USDValue())
}

func TestPositionLabel(t *testing.T) {
	assert.Equal(t, "Long", SideSell.PositionLabel())
	assert.Equal(t, "Short", SideBuy.PositionLabel())
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"sell": SideSell, "SELL": SideSell, " Buy ": SideBuy} {
		got, ok := ParseSide(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseSide("hold")
	assert.False(t, ok)
}

func TestKeyIgnoresNonIdentityFields(t *testing.T) {
	a := LiquidationEvent{Symbol: "BTCUSDT", TimestampMs: 1700000000000, OrderID: "A1", Quantity: 1}
	b := LiquidationEvent{Symbol: "BTCUSDT", TimestampMs: 1700000000000, OrderID: "A1", Quantity: 2, Price: 5}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "BTCUSDT|1700000000000|A1", a.Key().String())
}
