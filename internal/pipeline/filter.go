package pipeline

import (
	"github.com/samber/lo"

	"liqwatch/internal/models"
)

// Filter keeps events whose USD value is at least threshold, in order.
func Filter(events []models.LiquidationEvent, threshold float64) []models.LiquidationEvent {
	return lo.Filter(events, func(ev models.LiquidationEvent, _ int) bool {
		return ev.USDValue() >= threshold
	})
}
