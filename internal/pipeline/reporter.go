package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"liqwatch/internal/metrics"
	"liqwatch/internal/models"
	"liqwatch/internal/notifier"
	"liqwatch/logger"
)

const reportSource = "report"

// Reporter accumulates streamed events and periodically posts the largest
// one. It is a reader.Sink.
type Reporter struct {
	mu       sync.Mutex
	events   []models.LiquidationEvent
	interval time.Duration
	notifier notifier.Notifier
	log      *logger.Log
}

func NewReporter(interval time.Duration, n notifier.Notifier) *Reporter {
	return &Reporter{
		interval: interval,
		notifier: n,
		log:      logger.GetLogger(),
	}
}

// Send records ev for the next report. It never blocks.
func (r *Reporter) Send(_ context.Context, ev models.LiquidationEvent) bool {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return true
}

// Pending reports how many events await the next report.
func (r *Reporter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *Reporter) drain() []models.LiquidationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Run flushes a report every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	log := r.log.WithComponent("reporter").WithField("interval", r.interval.String())
	log.Info("liquidation reporter started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("liquidation reporter stopped")
			return
		case <-ticker.C:
			reportLog := log.WithField("report_id", uuid.NewString())
			if err := Guard(reportLog, func() error { return r.Flush(ctx) }); err != nil {
				metrics.EmitPipelineMetric(r.log, metrics.MetricCycleFailed, reportSource, 1)
				reportLog.WithError(err).Warn("liquidation report failed")
			}
		}
	}
}

// Flush drains the accumulator and sends a summary of its largest event.
// An empty window sends nothing.
func (r *Reporter) Flush(ctx context.Context) error {
	events := r.drain()
	if len(events) == 0 {
		return nil
	}

	largest := lo.MaxBy(events, func(a, b models.LiquidationEvent) bool {
		return a.USDValue() > b.USDValue()
	})

	if err := r.notifier.Notify(ctx, notifier.FormatReport(largest, len(events), r.interval)); err != nil {
		metrics.EmitPipelineMetric(r.log, metrics.MetricNotifyFailed, reportSource, 1)
		return err
	}
	metrics.EmitPipelineMetric(r.log, metrics.MetricNotified, reportSource, 1)
	r.log.WithComponent("reporter").WithFields(logger.Fields{
		"events":    len(events),
		"symbol":    largest.Symbol,
		"usd_value": largest.USDValue(),
	}).Info("liquidation report sent")
	return nil
}
