package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqwatch/config"
	"liqwatch/internal/models"
	"liqwatch/internal/reader"

	futures "github.com/adshao/go-binance/v2/futures"
)

const forceOrdersBody = `[
  {"orderId": 6071832819, "symbol": "BTCUSDT", "status": "FILLED", "price": "68000.00",
   "avgPrice": "68010.00", "origQty": "1.500", "executedQty": "1.500", "side": "SELL",
   "time": 1700000000000},
  {"orderId": 6071832820, "symbol": "ethusdt", "status": "FILLED", "price": "2000",
   "avgPrice": "2001", "origQty": "3", "executedQty": "3", "side": "BUY",
   "time": 1700000001000},
  {"orderId": 1, "symbol": "XRPUSDT", "price": "oops", "avgPrice": "", "executedQty": "1", "side": "SELL", "time": 1}
]`

func newForceOrdersReader(t *testing.T, handler http.HandlerFunc, mutate func(*config.Config)) *Binance_FO_Reader {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Source.Binance.ForceOrders.URL = srv.URL + "/fapi/v1/forceOrders"
	if mutate != nil {
		mutate(&cfg)
	}
	return Binance_FO_NewReader(&cfg, reader.NewHTTPClient(config.ReaderConfig{Timeout: 2 * time.Second, UserAgent: "liqwatch-test"}))
}

func TestForceOrdersFetch(t *testing.T) {
	r := newForceOrdersReader(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/fapi/v1/forceOrders", req.URL.Path)
		assert.Equal(t, "30", req.URL.Query().Get("limit"))
		assert.Equal(t, "liqwatch-test", req.Header.Get("User-Agent"))
		assert.Empty(t, req.Header.Get("X-MBX-APIKEY"))
		_, _ = w.Write([]byte(forceOrdersBody))
	}, nil)

	events := r.Fetch(context.Background())
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, models.ExchangeBinance, first.Exchange)
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, models.SideSell, first.Side)
	assert.InDelta(t, 1.5, first.Quantity, 1e-9)
	assert.InDelta(t, 68000.0, first.Price, 1e-9)
	assert.Equal(t, int64(1700000000000), first.TimestampMs)
	assert.Equal(t, "6071832819", first.OrderID)
	assert.InDelta(t, 102000.0, first.USDValue(), 1e-6)

	assert.Equal(t, "ETHUSDT", events[1].Symbol)
	assert.Equal(t, models.SideBuy, events[1].Side)
}

func TestForceOrdersErrorObjectMeansNoData(t *testing.T) {
	r := newForceOrdersReader(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code": -2015, "msg": "Invalid API-key, IP, or permissions for action."}`))
	}, nil)

	assert.Empty(t, r.Fetch(context.Background()))
}

func TestForceOrdersMalformedBody(t *testing.T) {
	r := newForceOrdersReader(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}, nil)

	assert.Empty(t, r.Fetch(context.Background()))
}

func TestForceOrdersUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Binance.ForceOrders.URL = "http://127.0.0.1:1/fapi/v1/forceOrders"
	r := Binance_FO_NewReader(&cfg, reader.NewHTTPClient(config.ReaderConfig{Timeout: time.Second}))

	assert.Empty(t, r.Fetch(context.Background()))
}

func TestForceOrdersSignsWhenCredentialsPresent(t *testing.T) {
	const secret = "s3cret"
	var gotQuery, gotKey string
	r := newForceOrdersReader(t, func(w http.ResponseWriter, req *http.Request) {
		gotQuery = req.URL.RawQuery
		gotKey = req.Header.Get("X-MBX-APIKEY")
		_, _ = w.Write([]byte(`[]`))
	}, func(cfg *config.Config) {
		cfg.Source.Binance.ForceOrders.APIKey = "key"
		cfg.Source.Binance.ForceOrders.APISecret = secret
		cfg.Source.Binance.ForceOrders.Symbol = "btcusdt"
	})
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }

	assert.Empty(t, r.Fetch(context.Background()))
	assert.Equal(t, "key", gotKey)

	unsigned := "limit=30&symbol=BTCUSDT&timestamp=1700000000000"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unsigned))
	assert.Equal(t, unsigned+"&signature="+hex.EncodeToString(mac.Sum(nil)), gotQuery)
}

func TestDecodeLiquidation(t *testing.T) {
	payload := []byte(`{"e":"forceOrder","E":1700000000123,"o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT",
		"f":"IOC","q":"0.014","p":"9910","ap":"9910","X":"FILLED","l":"0.014","z":"0.014","T":1700000000100}}`)

	ev, err := decodeLiquidation(payload)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ev.Symbol)
	assert.Equal(t, models.SideSell, ev.Side)
	assert.InDelta(t, 0.014, ev.Quantity, 1e-9)
	assert.InDelta(t, 9910.0, ev.Price, 1e-9)
	assert.Equal(t, int64(1700000000100), ev.TimestampMs)
	assert.Equal(t, "SELL-0.014", ev.OrderID)

	_, err = decodeLiquidation([]byte(`{"o":{"s":"BTCUSDT","S":"HOLD","q":"1","p":"1"}}`))
	assert.Error(t, err)
	_, err = decodeLiquidation([]byte(`not json`))
	assert.Error(t, err)
}

func TestConvertLiquidationFromSDKEvent(t *testing.T) {
	event := &futures.WsLiquidationOrderEvent{
		Event: "forceOrder",
		Time:  1700000000123,
		LiquidationOrder: futures.WsLiquidationOrder{
			Symbol:               "ETHUSDT",
			Side:                 futures.SideTypeBuy,
			OrigQuantity:         "2",
			Price:                "2000",
			AvgPrice:             "2001",
			AccumulatedFilledQty: "2",
			TradeTime:            1700000000100,
		},
	}

	ev, err := convertLiquidation(event)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", ev.Symbol)
	assert.Equal(t, models.SideBuy, ev.Side)
	assert.InDelta(t, 4002.0, ev.USDValue(), 1e-9)
	assert.Equal(t, int64(1700000000100), ev.TimestampMs)

	_, err = convertLiquidation(nil)
	assert.Error(t, err)
}

func TestDecodeLiquidationFallbacks(t *testing.T) {
	// unfilled order: no accumulated quantity, no average price, no trade time
	payload := []byte(`{"e":"forceOrder","E":1700000000123,"o":{"s":"btcusdt","S":"BUY","o":"LIMIT",
		"f":"IOC","q":"1.5","p":"68000","ap":"0","X":"NEW","l":"0","z":"0","T":0}}`)

	ev, err := decodeLiquidation(payload)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ev.Symbol)
	assert.InDelta(t, 1.5, ev.Quantity, 1e-9)
	assert.InDelta(t, 68000.0, ev.Price, 1e-9)
	assert.Equal(t, int64(1700000000123), ev.TimestampMs)
	assert.Equal(t, "BUY-1.5", ev.OrderID)
}

type recordingSink struct{ events []models.LiquidationEvent }

func (s *recordingSink) Send(_ context.Context, ev models.LiquidationEvent) bool {
	s.events = append(s.events, ev)
	return true
}

func TestStreamReaderDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Binance.Liquidation.Enabled = false
	r := Binance_LIQ_NewReader(&cfg, &recordingSink{})

	assert.Error(t, r.Binance_LIQ_Start(context.Background()))
	r.Binance_LIQ_Stop()
}

func TestStreamReaderAppliesThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Binance.Liquidation.ThresholdUSD = 5000
	sink := &recordingSink{}
	r := Binance_LIQ_NewReader(&cfg, sink)

	ctx := context.Background()
	assert.False(t, r.forward.Forward(ctx, models.LiquidationEvent{Symbol: "BTCUSDT", Quantity: 1, Price: 4999}))
	assert.True(t, r.forward.Forward(ctx, models.LiquidationEvent{Symbol: "BTCUSDT", Quantity: 1, Price: 5000}))
	require.Len(t, sink.events, 1)
	assert.InDelta(t, 5000.0, sink.events[0].Price, 1e-9)
}
