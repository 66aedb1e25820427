package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "liqwatch/config"
	"liqwatch/internal/metrics"
	"liqwatch/internal/models"
	"liqwatch/internal/reader"
	"liqwatch/internal/symbols"
	"liqwatch/logger"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	liquidationSource = "bybit_liquidation"
	defaultURL        = "wss://stream.bybit.com/v5/public/linear"
	topicPrefix       = "allLiquidation."
)

// liquidationRecord.Side is the liquidated position's side: Buy means a
// long was closed.
type liquidationRecord struct {
	T     int64  `json:"T"`
	S     string `json:"s"`
	Side  string `json:"S"`
	Size  string `json:"v"`
	Price string `json:"p"`
}

type liquidationMessage struct {
	Topic string              `json:"topic"`
	Type  string              `json:"type"`
	Ts    int64               `json:"ts"`
	Data  []liquidationRecord `json:"data"`
}

// Bybit_LIQ_Reader streams allLiquidation.<symbol> topics from the Bybit
// v5 linear websocket. Bybit has no all-market topic, so at least one
// symbol is required.
type Bybit_LIQ_Reader struct {
	config    appconfig.StreamConfig
	reconnect appconfig.ReconnectConfig
	forward   *reader.Forwarder
	dialer    *websocket.Dialer
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
	symbols   []string
}

// Bybit_LIQ_NewReader constructs a new Bybit liquidation reader.
func Bybit_LIQ_NewReader(cfg *appconfig.Config, sinks ...reader.Sink) *Bybit_LIQ_Reader {
	stream := cfg.Source.Bybit.Liquidation
	syms := lo.Uniq(lo.FilterMap(stream.Symbols, func(s string, _ int) (string, bool) {
		n := symbols.Normalize(models.ExchangeBybit, s)
		return n, n != ""
	}))
	return &Bybit_LIQ_Reader{
		config:    stream,
		reconnect: cfg.Reader.Reconnect,
		forward:   reader.NewForwarder(liquidationSource, cfg.ThresholdFor(stream.ThresholdUSD), sinks...),
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.Reader.Timeout},
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		symbols:   syms,
	}
}

func (r *Bybit_LIQ_Reader) Name() string { return liquidationSource }

// Bybit_LIQ_Start launches one websocket carrying every configured symbol.
func (r *Bybit_LIQ_Reader) Bybit_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{
		"operation": "Bybit_LIQ_Start",
	})

	if !r.config.Enabled {
		log.Warn("bybit futures liquidation stream disabled via configuration")
		return fmt.Errorf("bybit futures liquidation stream disabled")
	}
	if len(r.symbols) == 0 {
		log.Warn("no symbols configured for bybit liquidation reader")
		return fmt.Errorf("no symbols configured for bybit liquidation reader")
	}

	log.WithFields(logger.Fields{
		"symbols": strings.Join(r.symbols, ","),
	}).Info("starting bybit liquidation reader")

	r.wg.Add(1)
	go r.stream()

	return nil
}

// Bybit_LIQ_Stop waits for the worker to stop. The context given to Start
// must be cancelled first.
func (r *Bybit_LIQ_Reader) Bybit_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_liq_reader").Info("stopping bybit liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_liq_reader").Info("bybit liquidation reader stopped")
}

func (r *Bybit_LIQ_Reader) stream() {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{
		"worker": "liquidation_stream",
	})

	baseURL := strings.TrimRight(strings.TrimSpace(r.config.URL), "/")
	if baseURL == "" {
		baseURL = defaultURL
	}
	topics := lo.Map(r.symbols, func(s string, _ int) string { return topicPrefix + s })

	b := reader.NewBackoff(r.reconnect)
	for {
		if r.ctx.Err() != nil {
			return
		}

		if err := r.session(baseURL, topics, log); err != nil && r.ctx.Err() == nil {
			metrics.EmitPipelineMetric(r.log, metrics.MetricReconnect, liquidationSource, 1)
			log.WithError(err).Warn("bybit liquidation stream error, reconnecting")
		} else {
			b.Reset()
		}

		if !reader.Wait(r.ctx, b) {
			return
		}
	}
}

func (r *Bybit_LIQ_Reader) session(baseURL string, topics []string, log *logger.Entry) error {
	conn, _, err := r.dialer.DialContext(r.ctx, baseURL, nil)
	if err != nil {
		return fmt.Errorf("dial bybit websocket: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	if err := subscribe(conn, topics); err != nil {
		return fmt.Errorf("send bybit subscription: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	startPingLoop(sessionCtx, cancel, conn, defaultKeepAlive, log)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read bybit message: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		events, err := decode(msg)
		if err != nil {
			log.WithError(err).Debug("failed to decode bybit message, skipping")
			continue
		}
		if len(events) == 0 {
			continue
		}
		metrics.EmitPipelineMetric(r.log, metrics.MetricFetched, liquidationSource, len(events))
		for _, ev := range events {
			r.forward.Forward(r.ctx, ev)
		}
	}
}

// decode turns an allLiquidation push into events. Subscription acks yield
// nothing; a rejected subscription is returned as an error.
func decode(msg []byte) ([]models.LiquidationEvent, error) {
	var m liquidationMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, err
	}
	if m.Topic == "" {
		var ack subscriptionAck
		if err := json.Unmarshal(msg, &ack); err == nil && ack.Op == "subscribe" && !ack.Success {
			return nil, fmt.Errorf("bybit subscription rejected: %s", ack.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(m.Topic, topicPrefix) {
		return nil, nil
	}

	var events []models.LiquidationEvent
	for _, rec := range m.Data {
		side, ok := orderSide(rec.Side)
		if !ok {
			continue
		}
		qty, err := strconv.ParseFloat(rec.Size, 64)
		if err != nil {
			continue
		}
		px, err := strconv.ParseFloat(rec.Price, 64)
		if err != nil {
			continue
		}
		symbol := rec.S
		if symbol == "" {
			symbol = strings.TrimPrefix(m.Topic, topicPrefix)
		}
		ts := rec.T
		if ts == 0 {
			ts = m.Ts
		}
		events = append(events, models.LiquidationEvent{
			Exchange:    models.ExchangeBybit,
			Symbol:      symbols.Normalize(models.ExchangeBybit, symbol),
			Side:        side,
			Quantity:    qty,
			Price:       px,
			TimestampMs: ts,
			OrderID:     string(side) + "-" + rec.Size,
		})
	}
	return events, nil
}

// orderSide converts Bybit's position side into the side of the closing
// order: a liquidated long (Buy) is closed by a sell.
func orderSide(positionSide string) (models.Side, bool) {
	side, ok := models.ParseSide(positionSide)
	if !ok {
		return "", false
	}
	if side == models.SideBuy {
		return models.SideSell, true
	}
	return models.SideBuy, true
}
