package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqwatch/config"
	liq "liqwatch/internal/channel/liq"
	"liqwatch/internal/dedupe"
	"liqwatch/internal/notifier"
	"liqwatch/internal/pipeline"
)

func testApp(t *testing.T, reportEnabled bool) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Report.Enabled = reportEnabled

	tg, err := notifier.NewTelegram(config.TelegramConfig{Token: "t", ChatID: 1, APIURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	return newApp(&cfg, dedupe.NewMemory(time.Hour), tg, nil)
}

func TestSinksFollowMode(t *testing.T) {
	a := testApp(t, true)
	ch := liq.NewChannels("test", 1)

	alert := a.sinks("test", config.ModeAlert, ch)
	require.Len(t, alert, 1)
	assert.Same(t, ch, alert[0])

	report := a.sinks("test", config.ModeReport, ch)
	require.Len(t, report, 1)
	assert.IsType(t, &pipeline.Reporter{}, report[0])

	assert.Len(t, a.sinks("test", config.ModeBoth, ch), 2)
}

func TestSinksWithoutReporter(t *testing.T) {
	a := testApp(t, false)
	ch := liq.NewChannels("test", 1)

	assert.Empty(t, a.sinks("test", config.ModeReport, ch))
	assert.Len(t, a.sinks("test", config.ModeBoth, ch), 1)
}

func TestStatus(t *testing.T) {
	a := testApp(t, true)
	a.sources = []string{"binance_force_orders", "coingecko_dominance"}

	s := a.status()
	assert.Contains(t, s, "liqwatch 1.0.0 is running")
	assert.Contains(t, s, "Sources: binance_force_orders, coingecko_dominance")
	assert.Contains(t, s, "Threshold: $10000")
	assert.Contains(t, s, "Dedupe: memory (24h0m0s window)")
	assert.Contains(t, s, "Report: every 12h0m0s, 0 pending")
}

func TestWaitWithNothingRunning(t *testing.T) {
	a := testApp(t, false)
	assert.True(t, a.wait(time.Second))
}
