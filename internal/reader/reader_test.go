package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqwatch/config"
	liq "liqwatch/internal/channel/liq"
	"liqwatch/internal/models"
)

func TestNewHTTPClientSetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		got = req.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewHTTPClient(config.ReaderConfig{UserAgent: "liqwatch/1.0"})
	assert.Equal(t, 15*time.Second, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "liqwatch/1.0", got)
}

func TestNewBackoffDefaults(t *testing.T) {
	b := NewBackoff(config.ReconnectConfig{})
	assert.Equal(t, time.Second, b.Min)
	assert.Equal(t, 30*time.Second, b.Max)
	assert.Equal(t, 2.0, b.Factor)
}

func TestWaitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Wait(ctx, NewBackoff(config.ReconnectConfig{Min: time.Hour, Max: time.Hour})))
}

func TestForwarderFeedsStreamSource(t *testing.T) {
	ch := liq.NewChannels("test_stream", 8)
	report := liq.NewChannels("test_report", 8)
	f := NewForwarder("test_stream", 10000, ch, nil, report)
	src := NewStreamSource("test_stream", ch)
	ctx := context.Background()

	assert.True(t, f.Forward(ctx, models.LiquidationEvent{Symbol: "BTCUSDT", Quantity: 1.5, Price: 68000}))
	assert.False(t, f.Forward(ctx, models.LiquidationEvent{Symbol: "BTCUSDT", Quantity: 0.1, Price: 68000}))
	assert.True(t, f.Forward(ctx, models.LiquidationEvent{Symbol: "ETHUSDT", Quantity: 5, Price: 2000}))

	assert.Equal(t, "test_stream", src.Name())
	events := src.Fetch(ctx)
	require.Len(t, events, 2)
	assert.Equal(t, "BTCUSDT", events[0].Symbol)
	assert.Empty(t, src.Fetch(ctx))
	assert.Equal(t, 2, report.Len())
}
