package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	appconfig "liqwatch/config"
	"liqwatch/internal/metrics"
	"liqwatch/internal/models"
	"liqwatch/internal/reader"
	"liqwatch/internal/symbols"
	"liqwatch/logger"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
)

const liquidationSource = "binance_liquidation"

// Binance_LIQ_Reader streams liquidation orders from the Binance futures
// websocket API. With no symbols configured it subscribes to the
// all-market stream.
type Binance_LIQ_Reader struct {
	config    appconfig.StreamConfig
	reconnect appconfig.ReconnectConfig
	forward   *reader.Forwarder
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
	symbols   []string
}

// Binance_LIQ_NewReader constructs a new liquidation reader.
func Binance_LIQ_NewReader(cfg *appconfig.Config, sinks ...reader.Sink) *Binance_LIQ_Reader {
	stream := cfg.Source.Binance.Liquidation
	return &Binance_LIQ_Reader{
		config:    stream,
		reconnect: cfg.Reader.Reconnect,
		forward:   reader.NewForwarder(liquidationSource, cfg.ThresholdFor(stream.ThresholdUSD), sinks...),
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		symbols:   stream.Symbols,
	}
}

func (r *Binance_LIQ_Reader) Name() string { return liquidationSource }

// Binance_LIQ_Start launches websocket subscriptions. Subscriptions are
// restarted automatically until the context is cancelled.
func (r *Binance_LIQ_Reader) Binance_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{"operation": "Binance_LIQ_Start"})

	if !r.config.Enabled {
		log.Warn("binance futures liquidation stream disabled via configuration")
		return fmt.Errorf("binance futures liquidation stream disabled")
	}

	if len(r.symbols) == 0 {
		log.Info("starting binance all-market liquidation reader")
		r.wg.Add(1)
		go r.stream("")
		return nil
	}

	log.WithFields(logger.Fields{"symbols": strings.Join(r.symbols, ",")}).Info("starting binance liquidation reader")
	for _, symbol := range r.symbols {
		r.wg.Add(1)
		go r.stream(strings.ToUpper(symbol))
	}

	log.Info("binance liquidation reader started successfully")
	return nil
}

// Binance_LIQ_Stop waits for all symbol workers to stop. The context given
// to Start must be cancelled first.
func (r *Binance_LIQ_Reader) Binance_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_liq_reader").Info("stopping binance liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("binance_liq_reader").Info("binance liquidation reader stopped")
}

func (r *Binance_LIQ_Reader) serve(symbol string, handler futures.WsLiquidationOrderHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	if symbol == "" {
		return futures.WsAllLiquidationOrderServe(handler, errHandler)
	}
	return futures.WsLiquidationOrderServe(symbol, handler, errHandler)
}

func (r *Binance_LIQ_Reader) stream(symbol string) {
	defer r.wg.Done()

	stream := symbol
	if stream == "" {
		stream = "all"
	}
	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{
		"symbol": stream,
		"worker": "liquidation_stream",
	})

	handler := func(event *futures.WsLiquidationOrderEvent) {
		ev, err := convertLiquidation(event)
		if err != nil {
			log.WithError(err).Debug("skipping malformed liquidation event")
			return
		}
		metrics.EmitPipelineMetric(r.log, metrics.MetricFetched, liquidationSource, 1)
		if r.forward.Forward(r.ctx, ev) && log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			log.WithFields(logger.Fields{
				"side":      ev.Side,
				"usd_value": ev.USDValue(),
			}).Debug("forwarded liquidation event")
		}
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	b := reader.NewBackoff(r.reconnect)
	for {
		if r.ctx.Err() != nil {
			return
		}

		doneC, stopC, err := r.serve(symbol, handler, errHandler)
		if err != nil {
			metrics.EmitPipelineMetric(r.log, metrics.MetricReconnect, liquidationSource, 1)
			log.WithError(err).Error("failed to subscribe to liquidation stream")
			if !reader.Wait(r.ctx, b) {
				return
			}
			continue
		}
		b.Reset()

		select {
		case <-r.ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			metrics.EmitPipelineMetric(r.log, metrics.MetricReconnect, liquidationSource, 1)
			log.Warn("liquidation stream closed, reconnecting")
			close(stopC)
			if !reader.Wait(r.ctx, b) {
				return
			}
		}
	}
}

// decodeLiquidation parses a raw forceOrder push.
func decodeLiquidation(payload []byte) (models.LiquidationEvent, error) {
	var event futures.WsLiquidationOrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("decode liquidation event: %w", err)
	}
	return convertLiquidation(&event)
}

// convertLiquidation prefers the accumulated filled quantity and average
// price, falling back to the original order values.
func convertLiquidation(event *futures.WsLiquidationOrderEvent) (models.LiquidationEvent, error) {
	if event == nil {
		return models.LiquidationEvent{}, fmt.Errorf("nil liquidation event")
	}
	o := event.LiquidationOrder

	side, ok := models.ParseSide(string(o.Side))
	if !ok {
		return models.LiquidationEvent{}, fmt.Errorf("unknown side %q", o.Side)
	}

	qtyText := o.AccumulatedFilledQty
	if qtyText == "" || qtyText == "0" {
		qtyText = o.OrigQuantity
	}
	qty, err := strconv.ParseFloat(qtyText, 64)
	if err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("parse quantity: %w", err)
	}

	priceText := o.AvgPrice
	if priceText == "" || priceText == "0" {
		priceText = o.Price
	}
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("parse price: %w", err)
	}

	ts := o.TradeTime
	if ts == 0 {
		ts = event.Time
	}

	// The stream carries no order id. Side and size keep simultaneous
	// liquidations on one symbol apart.
	return models.LiquidationEvent{
		Exchange:    models.ExchangeBinance,
		Symbol:      symbols.Normalize(models.ExchangeBinance, o.Symbol),
		Side:        side,
		Quantity:    qty,
		Price:       price,
		TimestampMs: ts,
		OrderID:     string(side) + "-" + qtyText,
	}, nil
}
