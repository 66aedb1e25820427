package binance

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appconfig "liqwatch/config"
	"liqwatch/internal/metrics"
	"liqwatch/internal/models"
	"liqwatch/internal/symbols"
	"liqwatch/logger"
)

const forceOrdersSource = "binance_force_orders"

// maxBody caps how much of an upstream response is read.
const maxBody = 4 << 20

type forceOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
	Time        int64  `json:"time"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Binance_FO_Reader polls the futures force-orders REST endpoint. The
// endpoint answers errors with a JSON object instead of the usual array;
// that shape is treated as "no data".
type Binance_FO_Reader struct {
	config appconfig.ForceOrdersConfig
	client *http.Client
	log    *logger.Log
	now    func() time.Time
}

func Binance_FO_NewReader(cfg *appconfig.Config, client *http.Client) *Binance_FO_Reader {
	return &Binance_FO_Reader{
		config: cfg.Source.Binance.ForceOrders,
		client: client,
		log:    logger.GetLogger(),
		now:    time.Now,
	}
}

func (r *Binance_FO_Reader) Name() string { return forceOrdersSource }

// Fetch returns the most recent forced orders, oldest first as served.
func (r *Binance_FO_Reader) Fetch(ctx context.Context) []models.LiquidationEvent {
	log := r.log.WithComponent("binance_fo_reader").WithFields(logger.Fields{"operation": "Fetch"})
	start := time.Now()

	body, err := r.get(ctx)
	if err != nil {
		metrics.EmitPipelineMetric(r.log, metrics.MetricFetchError, forceOrdersSource, 1)
		log.WithError(err).Warn("binance liquidations fetch failed")
		return nil
	}

	events, err := decodeForceOrders(body)
	if err != nil {
		metrics.EmitPipelineMetric(r.log, metrics.MetricFetchError, forceOrdersSource, 1)
		log.WithError(err).Warn("binance liquidations response rejected")
		return nil
	}

	metrics.EmitPipelineMetric(r.log, metrics.MetricFetched, forceOrdersSource, len(events))
	logger.LogPerformanceEntry(log, "binance_fo_reader", "fetch", time.Since(start), logger.Fields{
		"records": len(events),
	})
	return events
}

func (r *Binance_FO_Reader) get(ctx context.Context) ([]byte, error) {
	params := url.Values{}
	if r.config.Limit > 0 {
		params.Set("limit", strconv.Itoa(r.config.Limit))
	}
	if r.config.Symbol != "" {
		params.Set("symbol", strings.ToUpper(r.config.Symbol))
	}

	signed := r.config.APIKey != "" && r.config.APISecret != ""
	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(r.now().UnixMilli(), 10))
		query = params.Encode()
		query += "&signature=" + sign(r.config.APISecret, query)
	}

	endpoint := r.config.URL
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request force orders: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read force orders: %w", err)
	}
	return body, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// decodeForceOrders accepts the array form only. Records with unparseable
// numbers or sides are skipped.
func decodeForceOrders(body []byte) ([]models.LiquidationEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trimmed[0] == '{' {
		var apiErr apiError
		if err := json.Unmarshal(trimmed, &apiErr); err != nil {
			return nil, fmt.Errorf("unexpected object body: %w", err)
		}
		return nil, fmt.Errorf("api error %d: %s", apiErr.Code, apiErr.Msg)
	}

	var orders []forceOrder
	if err := json.Unmarshal(trimmed, &orders); err != nil {
		return nil, fmt.Errorf("decode force orders: %w", err)
	}

	events := make([]models.LiquidationEvent, 0, len(orders))
	for _, o := range orders {
		side, ok := models.ParseSide(o.Side)
		if !ok {
			continue
		}
		qty, err := strconv.ParseFloat(o.ExecutedQty, 64)
		if err != nil {
			continue
		}
		price, err := strconv.ParseFloat(o.Price, 64)
		if err != nil || price == 0 {
			if price, err = strconv.ParseFloat(o.AvgPrice, 64); err != nil {
				continue
			}
		}
		events = append(events, models.LiquidationEvent{
			Exchange:    models.ExchangeBinance,
			Symbol:      symbols.Normalize(models.ExchangeBinance, o.Symbol),
			Side:        side,
			Quantity:    qty,
			Price:       price,
			TimestampMs: o.Time,
			OrderID:     strconv.FormatInt(o.OrderID, 10),
		})
	}
	return events, nil
}
