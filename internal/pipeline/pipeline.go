// Package pipeline drives sources through the threshold filter, the dedupe
// store and the notifier, and runs the periodic liquidation report.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"liqwatch/internal/dedupe"
	"liqwatch/internal/metrics"
	"liqwatch/internal/notifier"
	"liqwatch/internal/reader"
	"liqwatch/logger"
)

// CycleResult counts what one iteration did.
type CycleResult struct {
	Fetched    int
	Eligible   int
	Admitted   int
	Duplicates int
	Sent       int
	Failed     int
}

// Loop polls one source forever: fetch, filter, dedupe, notify, sleep.
type Loop struct {
	source    reader.Source
	threshold float64
	interval  time.Duration
	store     dedupe.Store
	notifier  notifier.Notifier
	log       *logger.Log
}

func NewLoop(source reader.Source, threshold float64, interval time.Duration, store dedupe.Store, n notifier.Notifier) *Loop {
	return &Loop{
		source:    source,
		threshold: threshold,
		interval:  interval,
		store:     store,
		notifier:  n,
		log:       logger.GetLogger(),
	}
}

// Run executes the first cycle immediately and then one per interval until
// ctx is cancelled. A failing or panicking cycle never stops the loop.
func (l *Loop) Run(ctx context.Context) {
	log := l.log.WithComponent("alert_loop").WithFields(logger.Fields{
		"source":   l.source.Name(),
		"interval": l.interval.String(),
	})
	log.Info("alert loop started")

	for {
		cycleLog := log.WithField("cycle_id", uuid.NewString())
		err := Guard(cycleLog, func() error {
			l.RunOnce(ctx, cycleLog)
			return nil
		})
		if err != nil {
			metrics.EmitPipelineMetric(l.log, metrics.MetricCycleFailed, l.source.Name(), 1)
		}

		select {
		case <-ctx.Done():
			log.Info("alert loop stopped")
			return
		case <-time.After(l.interval):
		}
	}
}

// RunOnce performs a single fetch-filter-dedupe-notify pass.
func (l *Loop) RunOnce(ctx context.Context, log *logger.Entry) CycleResult {
	name := l.source.Name()
	start := time.Now()

	var res CycleResult
	events := l.source.Fetch(ctx)
	res.Fetched = len(events)

	eligible := Filter(events, l.threshold)
	res.Eligible = len(eligible)
	metrics.EmitPipelineMetric(l.log, metrics.MetricBelowThreshold, name, res.Fetched-res.Eligible)

	for _, ev := range eligible {
		if ctx.Err() != nil {
			break
		}
		if !l.store.Admit(ctx, ev.Key()) {
			res.Duplicates++
			continue
		}
		res.Admitted++

		evLog := log.WithFields(logger.Fields{
			"exchange":  ev.Exchange,
			"symbol":    ev.Symbol,
			"side":      ev.Side,
			"usd_value": ev.USDValue(),
			"order_id":  ev.OrderID,
		})
		// a failed send is not retried; the key stays seen
		if err := l.notifier.Notify(ctx, notifier.FormatLiquidation(ev)); err != nil {
			res.Failed++
			evLog.WithError(err).Error("failed to send liquidation alert")
			continue
		}
		res.Sent++
		evLog.Info("alert sent")
	}

	metrics.EmitPipelineMetric(l.log, metrics.MetricAdmitted, name, res.Admitted)
	metrics.EmitPipelineMetric(l.log, metrics.MetricDuplicate, name, res.Duplicates)
	metrics.EmitPipelineMetric(l.log, metrics.MetricNotified, name, res.Sent)
	metrics.EmitPipelineMetric(l.log, metrics.MetricNotifyFailed, name, res.Failed)
	logger.LogDataFlowEntry(log, name, "telegram", res.Sent, "liquidation")
	logger.LogPerformanceEntry(log, "alert_loop", "cycle", time.Since(start), logger.Fields{
		"fetched":    res.Fetched,
		"eligible":   res.Eligible,
		"duplicates": res.Duplicates,
	})
	return res
}
