package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"liqwatch/config"
	liq "liqwatch/internal/channel/liq"
	"liqwatch/internal/dedupe"
	"liqwatch/internal/dominance"
	"liqwatch/internal/metrics"
	"liqwatch/internal/notifier"
	"liqwatch/internal/pipeline"
	"liqwatch/internal/reader"
	"liqwatch/internal/reader/binance"
	"liqwatch/internal/reader/bybit"
	"liqwatch/internal/reader/coingecko"
	"liqwatch/internal/reader/coinglass"
	"liqwatch/internal/reader/okx"
	"liqwatch/internal/server"
	"liqwatch/logger"
)

const streamBufferSize = 1024

// app owns every long-running component and the goroutines driving them.
type app struct {
	cfg      *config.Config
	store    dedupe.Store
	notifier *notifier.Telegram
	prom     *metrics.Prometheus
	client   *http.Client
	reporter *pipeline.Reporter
	log      *logger.Log

	started time.Time
	sources []string
	wg      sync.WaitGroup
	stops   []func()
}

func newApp(cfg *config.Config, store dedupe.Store, tg *notifier.Telegram, prom *metrics.Prometheus) *app {
	a := &app{
		cfg:      cfg,
		store:    store,
		notifier: tg,
		prom:     prom,
		client:   reader.NewHTTPClient(cfg.Reader),
		log:      logger.GetLogger(),
		started:  time.Now(),
	}
	if cfg.Report.Enabled {
		a.reporter = pipeline.NewReporter(cfg.Report.Interval, tg)
	}
	return a
}

func (a *app) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *app) startLoop(ctx context.Context, src reader.Source, threshold float64, interval time.Duration) {
	loop := pipeline.NewLoop(src, threshold, interval, a.store, a.notifier)
	a.sources = append(a.sources, src.Name())
	a.goRun(func() { loop.Run(ctx) })
}

// sinks routes a stream by mode: alert feeds the per-event loop through
// ch, report feeds the periodic reporter.
func (a *app) sinks(name, mode string, ch *liq.Channels) []reader.Sink {
	var out []reader.Sink
	if mode == config.ModeAlert || mode == config.ModeBoth {
		out = append(out, ch)
	}
	if mode == config.ModeReport || mode == config.ModeBoth {
		if a.reporter != nil {
			out = append(out, a.reporter)
		} else {
			a.log.WithComponent("main").WithField("source", name).Warn("stream in report mode but report is disabled")
		}
	}
	return out
}

func (a *app) start(ctx context.Context) {
	cfg := a.cfg
	log := a.log.WithComponent("main")

	if fo := cfg.Source.Binance.ForceOrders; fo.Enabled {
		src := binance.Binance_FO_NewReader(cfg, a.client)
		a.startLoop(ctx, src, cfg.ThresholdFor(fo.ThresholdUSD), cfg.IntervalFor(fo.Interval))
	}

	if cg := cfg.Source.Coinglass.Liquidation; cg.Enabled {
		src := coinglass.Coinglass_LIQ_NewReader(cfg, a.client)
		a.startLoop(ctx, src, cfg.ThresholdFor(cg.ThresholdUSD), cfg.IntervalFor(cg.Interval))
	}

	if stream := cfg.Source.Binance.Liquidation; stream.Enabled {
		ch := liq.NewChannels("binance_liquidation", streamBufferSize)
		r := binance.Binance_LIQ_NewReader(cfg, a.sinks("binance_liquidation", stream.Mode, ch)...)
		if err := r.Binance_LIQ_Start(ctx); err != nil {
			log.WithError(err).Warn("binance liquidation reader failed to start")
		} else {
			a.stops = append(a.stops, r.Binance_LIQ_Stop)
			if stream.Mode != config.ModeReport {
				a.startLoop(ctx, reader.NewStreamSource(r.Name(), ch), cfg.ThresholdFor(stream.ThresholdUSD), cfg.IntervalFor(stream.Interval))
			}
		}
	}

	if stream := cfg.Source.Okx.Liquidation; stream.Enabled {
		ch := liq.NewChannels("okx_liquidation", streamBufferSize)
		r := okx.OKX_LIQ_NewReader(cfg, a.sinks("okx_liquidation", stream.Mode, ch)...)
		if err := r.OKX_LIQ_Start(ctx); err != nil {
			log.WithError(err).Warn("okx liquidation reader failed to start")
		} else {
			a.stops = append(a.stops, r.OKX_LIQ_Stop)
			if stream.Mode != config.ModeReport {
				a.startLoop(ctx, reader.NewStreamSource(r.Name(), ch), cfg.ThresholdFor(stream.ThresholdUSD), cfg.IntervalFor(stream.Interval))
			}
		}
	}

	if stream := cfg.Source.Bybit.Liquidation; stream.Enabled {
		ch := liq.NewChannels("bybit_liquidation", streamBufferSize)
		r := bybit.Bybit_LIQ_NewReader(cfg, a.sinks("bybit_liquidation", stream.Mode, ch)...)
		if err := r.Bybit_LIQ_Start(ctx); err != nil {
			log.WithError(err).Warn("bybit liquidation reader failed to start")
		} else {
			a.stops = append(a.stops, r.Bybit_LIQ_Stop)
			if stream.Mode != config.ModeReport {
				a.startLoop(ctx, reader.NewStreamSource(r.Name(), ch), cfg.ThresholdFor(stream.ThresholdUSD), cfg.IntervalFor(stream.Interval))
			}
		}
	}

	if a.reporter != nil {
		a.goRun(func() { a.reporter.Run(ctx) })
	}

	if dom := cfg.Source.Coingecko.Dominance; dom.Enabled {
		job := dominance.NewJob(dom, coingecko.Coingecko_DOM_NewReader(cfg, a.client), a.notifier)
		a.sources = append(a.sources, "coingecko_dominance")
		a.goRun(func() { job.Run(ctx) })
	}

	deps := server.Deps{Replier: a.notifier, Status: a.status}
	if a.prom != nil {
		deps.Metrics = a.prom.Handler()
	}
	srv := server.NewServer(cfg.Server, a.log, deps)
	a.goRun(func() {
		if err := srv.Run(ctx); err != nil {
			log.WithError(err).Error("http server stopped")
		}
	})

	log.WithFields(logger.Fields{
		"sources":       strings.Join(a.sources, ","),
		"dedupe":        cfg.Dedupe.Backend,
		"threshold_usd": cfg.Alert.ThresholdUSD,
		"address":       srv.Address(),
	}).Info("liqwatch started")
}

// wait stops the stream readers and waits for every goroutine, giving up
// after timeout. It reports whether everything finished in time.
func (a *app) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		for _, stop := range a.stops {
			stop()
		}
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (a *app) status() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ liqwatch %s is running\n", a.cfg.Liqwatch.Version)
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(a.started).Truncate(time.Second))
	fmt.Fprintf(&b, "Sources: %s\n", strings.Join(a.sources, ", "))
	fmt.Fprintf(&b, "Threshold: $%.0f\n", a.cfg.Alert.ThresholdUSD)
	fmt.Fprintf(&b, "Dedupe: %s (%s window)", a.cfg.Dedupe.Backend, a.cfg.Dedupe.Window)
	if a.reporter != nil {
		fmt.Fprintf(&b, "\nReport: every %s, %d pending", a.cfg.Report.Interval, a.reporter.Pending())
	}
	return b.String()
}
