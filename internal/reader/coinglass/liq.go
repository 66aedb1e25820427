package coinglass

import (
	"bytes"
	"context"
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

const (
	liquidationSource = "coinglass_liquidation"
	apiKeyHeader      = "CG-API-KEY"
	maxBody           = 4 << 20
)

// usd accepts both quoted and bare JSON numbers.
type usd float64

func (u *usd) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*u = usd(v)
	return nil
}

type bucket struct {
	T        int64 `json:"t"`
	LongUSD  usd   `json:"longLiquidationUsd"`
	ShortUSD usd   `json:"shortLiquidationUsd"`
}

type historyResponse struct {
	Code string   `json:"code"`
	Msg  string   `json:"msg"`
	Data []bucket `json:"data"`
}

// Coinglass_LIQ_Reader polls aggregated liquidation history. Each bucket
// becomes up to two events, one per liquidated side, whose Quantity is the
// USD notional and Price is 1.
type Coinglass_LIQ_Reader struct {
	config appconfig.CoinglassConfig
	client *http.Client
	log    *logger.Log
}

func Coinglass_LIQ_NewReader(cfg *appconfig.Config, client *http.Client) *Coinglass_LIQ_Reader {
	return &Coinglass_LIQ_Reader{
		config: cfg.Source.Coinglass.Liquidation,
		client: client,
		log:    logger.GetLogger(),
	}
}

func (r *Coinglass_LIQ_Reader) Name() string { return liquidationSource }

func (r *Coinglass_LIQ_Reader) Fetch(ctx context.Context) []models.LiquidationEvent {
	log := r.log.WithComponent("coinglass_liq_reader").WithFields(logger.Fields{"operation": "Fetch"})

	resp, err := r.get(ctx)
	if err != nil {
		metrics.EmitPipelineMetric(r.log, metrics.MetricFetchError, liquidationSource, 1)
		log.WithError(err).Warn("coinglass liquidations fetch failed")
		return nil
	}
	if resp.Code != "0" {
		metrics.EmitPipelineMetric(r.log, metrics.MetricFetchError, liquidationSource, 1)
		log.WithFields(logger.Fields{"code": resp.Code, "msg": resp.Msg}).Warn("coinglass returned an error response")
		return nil
	}

	events := r.toEvents(resp.Data)
	metrics.EmitPipelineMetric(r.log, metrics.MetricFetched, liquidationSource, len(events))
	return events
}

func (r *Coinglass_LIQ_Reader) get(ctx context.Context) (*historyResponse, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(r.config.Symbol))
	params.Set("time_type", r.config.TimeType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.URL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set(apiKeyHeader, r.config.APIKey)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request liquidation history: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read liquidation history: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	var out historyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode liquidation history: %w", err)
	}
	return &out, nil
}

// toEvents keeps the newest config.Buckets buckets.
func (r *Coinglass_LIQ_Reader) toEvents(buckets []bucket) []models.LiquidationEvent {
	if n := r.config.Buckets; n > 0 && len(buckets) > n {
		buckets = buckets[len(buckets)-n:]
	}

	symbol := symbols.Normalize(models.ExchangeCoinglass, r.config.Symbol)
	interval := r.config.TimeType
	events := make([]models.LiquidationEvent, 0, 2*len(buckets))
	for _, b := range buckets {
		ts := b.T
		if ts < 1e12 {
			ts *= int64(time.Second / time.Millisecond)
		}
		if b.LongUSD > 0 {
			events = append(events, bucketEvent(symbol, interval, ts, models.SideSell, float64(b.LongUSD), "long"))
		}
		if b.ShortUSD > 0 {
			events = append(events, bucketEvent(symbol, interval, ts, models.SideBuy, float64(b.ShortUSD), "short"))
		}
	}
	return events
}

func bucketEvent(symbol, interval string, ts int64, side models.Side, notional float64, suffix string) models.LiquidationEvent {
	return models.LiquidationEvent{
		Exchange:    models.ExchangeCoinglass,
		Symbol:      symbol,
		Side:        side,
		Quantity:    notional,
		Price:       1,
		TimestampMs: ts,
		OrderID:     interval + "-" + suffix,
		Bucket:      interval,
	}
}
