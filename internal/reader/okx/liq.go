package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	liquidationSource = "okx_liquidation"
	defaultURL        = "wss://ws.okx.com:8443/ws/v5/public"
	pingInterval      = 20 * time.Second
	readTimeout       = 35 * time.Second
)

type liquidationDetail struct {
	Side    string `json:"side"`
	PosSide string `json:"posSide"`
	BkPx    string `json:"bkPx"`
	Sz      string `json:"sz"`
	Ts      string `json:"ts"`
}

type liquidationData struct {
	InstID   string              `json:"instId"`
	InstType string              `json:"instType"`
	Details  []liquidationDetail `json:"details"`
}

type liquidationMessage struct {
	Arg struct {
		Channel  string `json:"channel"`
		InstType string `json:"instType"`
	} `json:"arg"`
	Event string            `json:"event"`
	Data  []liquidationData `json:"data"`
}

// OKX_LIQ_Reader streams the public liquidation-orders SWAP channel.
// Sizes arrive in contracts and are converted to base units with contract
// values from the instruments endpoint. Instruments without a known
// contract value are skipped.
type OKX_LIQ_Reader struct {
	config    appconfig.OkxStreamConfig
	reconnect appconfig.ReconnectConfig
	forward   *reader.Forwarder
	symbols   map[string]bool
	dialer    *websocket.Dialer
	client    *http.Client
	specMu    sync.RWMutex
	specs     map[string]contractSpec
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
}

// OKX_LIQ_NewReader constructs a new OKX liquidation reader (for SWAP).
func OKX_LIQ_NewReader(cfg *appconfig.Config, sinks ...reader.Sink) *OKX_LIQ_Reader {
	stream := cfg.Source.Okx.Liquidation
	symbols := lo.SliceToMap(stream.Symbols, func(s string) (string, bool) {
		return normalizeSymbol(s), true
	})
	return &OKX_LIQ_Reader{
		config:    stream,
		reconnect: cfg.Reader.Reconnect,
		forward:   reader.NewForwarder(liquidationSource, cfg.ThresholdFor(stream.ThresholdUSD), sinks...),
		symbols:   symbols,
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.Reader.Timeout},
		client:    reader.NewHTTPClient(cfg.Reader),
		specs:     make(map[string]contractSpec),
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

func (r *OKX_LIQ_Reader) Name() string { return liquidationSource }

// OKX_LIQ_Start launches the OKX liquidation-orders SWAP stream.
func (r *OKX_LIQ_Reader) OKX_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("okx liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("okx_liq_reader").WithFields(logger.Fields{
		"operation": "OKX_LIQ_Start",
	})

	if !r.config.Enabled {
		log.Warn("okx swap liquidation stream disabled via configuration")
		return fmt.Errorf("okx swap liquidation stream disabled")
	}

	log.Info("starting okx swap liquidation reader")

	r.wg.Add(1)
	go r.stream()

	return nil
}

// OKX_LIQ_Stop waits for the OKX worker to stop. The context given to
// Start must be cancelled first.
func (r *OKX_LIQ_Reader) OKX_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("okx_liq_reader").Info("stopping okx swap liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("okx_liq_reader").Info("okx swap liquidation reader stopped")
}

func (r *OKX_LIQ_Reader) stream() {
	defer r.wg.Done()

	log := r.log.WithComponent("okx_liq_reader").WithFields(logger.Fields{
		"worker": "liquidation_orders_stream",
	})

	baseURL := strings.TrimRight(strings.TrimSpace(r.config.URL), "/")
	if baseURL == "" {
		baseURL = defaultURL
	}

	b := reader.NewBackoff(r.reconnect)
	for {
		if r.ctx.Err() != nil {
			return
		}

		if err := r.session(baseURL, log); err != nil && r.ctx.Err() == nil {
			metrics.EmitPipelineMetric(r.log, metrics.MetricReconnect, liquidationSource, 1)
			log.WithError(err).Warn("okx swap liquidation stream error, reconnecting")
		} else {
			b.Reset()
		}

		if !reader.Wait(r.ctx, b) {
			return
		}
	}
}

// loadInstruments refreshes the contract table. On failure the previous
// table is kept.
func (r *OKX_LIQ_Reader) loadInstruments(log *logger.Entry) {
	endpoint := strings.TrimSpace(r.config.InstrumentsURL)
	if endpoint == "" {
		return
	}
	specs, err := fetchInstruments(r.ctx, r.client, endpoint)
	if err != nil {
		metrics.EmitPipelineMetric(r.log, metrics.MetricFetchError, liquidationSource, 1)
		log.WithError(err).Warn("failed to load okx instruments, keeping previous contract values")
		return
	}
	r.setInstruments(specs)
	log.WithField("instruments", len(specs)).Debug("loaded okx contract values")
}

func (r *OKX_LIQ_Reader) setInstruments(specs map[string]contractSpec) {
	r.specMu.Lock()
	r.specs = specs
	r.specMu.Unlock()
}

// session runs one websocket connection until it fails or ctx ends.
func (r *OKX_LIQ_Reader) session(baseURL string, log *logger.Entry) error {
	r.loadInstruments(log)

	conn, _, err := r.dialer.DialContext(r.ctx, baseURL, nil)
	if err != nil {
		return fmt.Errorf("dial okx websocket: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	subMsg := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{
				"channel":  "liquidation-orders",
				"instType": "SWAP",
			},
		},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("send okx swap subscription: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send okx swap ping")
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read okx message: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		events, err := r.decode(msg)
		if err != nil {
			log.WithError(err).Debug("failed to decode okx message, skipping")
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

// decode turns a liquidation-orders push into events. Acks, other channels
// and details that fail to parse yield nothing.
func (r *OKX_LIQ_Reader) decode(msg []byte) ([]models.LiquidationEvent, error) {
	var m liquidationMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, err
	}
	if m.Event != "" {
		return nil, nil
	}
	if m.Arg.Channel != "liquidation-orders" || m.Arg.InstType != "SWAP" {
		return nil, nil
	}

	var events []models.LiquidationEvent
	for _, d := range m.Data {
		symbol := normalizeSymbol(d.InstID)
		if len(r.symbols) > 0 && !r.symbols[symbol] {
			continue
		}
		spec, ok := r.contract(d.InstID)
		if !ok {
			continue
		}
		for _, det := range d.Details {
			side, ok := models.ParseSide(det.Side)
			if !ok {
				continue
			}
			sz, err := strconv.ParseFloat(det.Sz, 64)
			if err != nil {
				continue
			}
			px, err := strconv.ParseFloat(det.BkPx, 64)
			if err != nil {
				continue
			}
			ts, err := strconv.ParseInt(det.Ts, 10, 64)
			if err != nil {
				continue
			}
			events = append(events, models.LiquidationEvent{
				Exchange:    models.ExchangeOKX,
				Symbol:      symbol,
				Side:        side,
				Quantity:    spec.baseQuantity(sz, px),
				Price:       px,
				TimestampMs: ts,
				OrderID:     string(side) + "-" + det.Sz,
			})
		}
	}
	return events, nil
}

// contract returns the spec for instID. A configured contract value wins
// for linear instruments.
func (r *OKX_LIQ_Reader) contract(instID string) (contractSpec, bool) {
	r.specMu.RLock()
	spec, known := r.specs[instID]
	r.specMu.RUnlock()

	if !spec.inverse {
		for _, k := range []string{instID, normalizeSymbol(instID)} {
			if v, ok := r.config.ContractValues[k]; ok && v > 0 {
				return contractSpec{value: v}, true
			}
		}
	}
	return spec, known
}

func normalizeSymbol(instID string) string {
	return symbols.Normalize(models.ExchangeOKX, instID)
}
