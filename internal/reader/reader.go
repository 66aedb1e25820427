// Package reader holds what the exchange adapters share: the HTTP client,
// reconnect backoff, and the plumbing that turns a websocket subscription
// into a drainable source.
package reader

import (
	"context"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"github.com/samber/lo"

	"liqwatch/config"
	liq "liqwatch/internal/channel/liq"
	"liqwatch/internal/metrics"
	"liqwatch/internal/models"
	"liqwatch/logger"
)

// Source yields a bounded batch of liquidation events per call. Fetch never
// fails: upstream problems are logged and produce an empty batch.
type Source interface {
	Name() string
	Fetch(ctx context.Context) []models.LiquidationEvent
}

// Sink accepts streamed events without blocking.
type Sink interface {
	Send(ctx context.Context, event models.LiquidationEvent) bool
}

// userAgentTransport wraps an existing RoundTripper and sets a custom
// User-Agent header on all outgoing requests.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// NewHTTPClient returns a client bounded by cfg.Timeout that identifies
// itself with cfg.UserAgent.
func NewHTTPClient(cfg config.ReaderConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: userAgentTransport{agent: cfg.UserAgent},
	}
}

// NewBackoff builds the reconnect schedule for websocket readers.
func NewBackoff(cfg config.ReconnectConfig) *backoff.Backoff {
	b := &backoff.Backoff{
		Min:    cfg.Min,
		Max:    cfg.Max,
		Factor: cfg.Factor,
		Jitter: true,
	}
	if b.Min <= 0 {
		b.Min = time.Second
	}
	if b.Max < b.Min {
		b.Max = 30 * time.Second
	}
	if b.Factor <= 1 {
		b.Factor = 2
	}
	return b
}

// Wait sleeps for the next backoff step. It reports false if ctx ended first.
func Wait(ctx context.Context, b *backoff.Backoff) bool {
	select {
	case <-time.After(b.Duration()):
		return true
	case <-ctx.Done():
		return false
	}
}

// Forwarder applies the per-source threshold to streamed events and hands
// survivors to every sink.
type Forwarder struct {
	Source    string
	Threshold float64
	Sinks     []Sink
	log       *logger.Log
}

func NewForwarder(source string, threshold float64, sinks ...Sink) *Forwarder {
	return &Forwarder{
		Source:    source,
		Threshold: threshold,
		Sinks:     lo.Filter(sinks, func(s Sink, _ int) bool { return s != nil }),
		log:       logger.GetLogger(),
	}
}

// Forward reports whether the event cleared the threshold.
func (f *Forwarder) Forward(ctx context.Context, event models.LiquidationEvent) bool {
	if event.USDValue() < f.Threshold {
		metrics.EmitPipelineMetric(f.log, metrics.MetricBelowThreshold, f.Source, 1)
		return false
	}
	for _, sink := range f.Sinks {
		if !sink.Send(ctx, event) && ctx.Err() == nil {
			metrics.EmitPipelineMetric(f.log, metrics.MetricStreamDropped, f.Source, 1)
			f.log.WithComponent("stream_forwarder").WithFields(logger.Fields{
				"source": f.Source,
				"symbol": event.Symbol,
			}).Warn("stream buffer full, dropping liquidation event")
		}
	}
	return true
}

// StreamSource exposes a websocket reader's buffer as a Source. Each Fetch
// drains whatever arrived since the previous call.
type StreamSource struct {
	name     string
	channels *liq.Channels
}

func NewStreamSource(name string, ch *liq.Channels) *StreamSource {
	return &StreamSource{name: name, channels: ch}
}

func (s *StreamSource) Name() string { return s.name }

func (s *StreamSource) Fetch(context.Context) []models.LiquidationEvent {
	return s.channels.Drain()
}
