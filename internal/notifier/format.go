package notifier

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"liqwatch/internal/models"
)

// Telegram parse modes.
const (
	ModePlain    = ""
	ModeMarkdown = "Markdown"
)

// Message is one outbound chat message. An empty ParseMode falls back to
// the notifier's configured default.
type Message struct {
	Text      string
	ParseMode string
}

// grouped renders v with no decimals and comma thousands separators.
func grouped(v float64) string {
	return message.NewPrinter(language.English).Sprintf("%.0f", v)
}

// FormatLiquidation renders a single liquidation. Aggregated buckets use the
// bucket layout.
func FormatLiquidation(ev models.LiquidationEvent) Message {
	if ev.Bucket != "" {
		return FormatBucket(ev)
	}
	text := fmt.Sprintf("🚨 %s  %s  Liquidation\nQty: %s\nUSD: $%s\nPrice: %.2f",
		ev.Symbol,
		ev.Side.PositionLabel(),
		grouped(ev.Quantity),
		grouped(ev.USDValue()),
		ev.Price,
	)
	return Message{Text: text, ParseMode: ModePlain}
}

// FormatBucket renders an aggregated liquidation bucket.
func FormatBucket(ev models.LiquidationEvent) Message {
	text := fmt.Sprintf("🚨 %s  %s  Liquidations (%s)\nUSD: $%s",
		ev.Symbol,
		ev.Side.PositionLabel(),
		ev.Bucket,
		grouped(ev.USDValue()),
	)
	return Message{Text: text, ParseMode: ModePlain}
}

// FormatReport summarizes a reporting window by its largest liquidation.
func FormatReport(largest models.LiquidationEvent, count int, window time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 Liquidation report (last %s)\n", humanDuration(window))
	fmt.Fprintf(&b, "Largest: %s  %s  $%s\n", largest.Symbol, largest.Side.PositionLabel(), grouped(largest.USDValue()))
	if largest.Bucket == "" {
		fmt.Fprintf(&b, "Qty: %s\nPrice: %.2f\n", grouped(largest.Quantity), largest.Price)
	}
	fmt.Fprintf(&b, "Time: %s\n", largest.Time().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Events: %d", count)
	return Message{Text: b.String(), ParseMode: ModePlain}
}

// FormatDominance renders a dominance reading.
func FormatDominance(r models.DominanceReport) Message {
	return Message{
		Text:      fmt.Sprintf("📊 *%s Dominance* %.2f%%", strings.ToUpper(r.Asset), r.Percentage),
		ParseMode: ModeMarkdown,
	}
}

// FormatDominanceAlert returns the threshold alert for r, if any. Below
// critical is CRITICAL; at or below alert is ALERT.
func FormatDominanceAlert(r models.DominanceReport, critical, alert float64) (Message, bool) {
	asset := strings.ToUpper(r.Asset)
	switch {
	case r.Percentage < critical:
		return Message{
			Text:      fmt.Sprintf("🚨 *CRITICAL* %s dominance < %s%%", asset, trimFloat(critical)),
			ParseMode: ModeMarkdown,
		}, true
	case r.Percentage <= alert:
		return Message{
			Text:      fmt.Sprintf("⚠️ *ALERT* %s dominance ≤ %s%%", asset, trimFloat(alert)),
			ParseMode: ModeMarkdown,
		}, true
	default:
		return Message{}, false
	}
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "window"
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
