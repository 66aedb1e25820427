// Package dominance posts market-dominance readings and threshold alerts.
package dominance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"liqwatch/config"
	"liqwatch/internal/metrics"
	"liqwatch/internal/models"
	"liqwatch/internal/notifier"
	"liqwatch/internal/pipeline"
	"liqwatch/logger"
)

const source = "coingecko_dominance"

// Fetcher returns the current dominance reading.
type Fetcher interface {
	Fetch(ctx context.Context) (models.DominanceReport, error)
}

// Job polls a Fetcher and posts every reading followed by at most one
// threshold alert.
type Job struct {
	fetcher  Fetcher
	notifier notifier.Notifier
	interval time.Duration
	critical float64
	alert    float64
	log      *logger.Log
}

func NewJob(cfg config.DominanceConfig, f Fetcher, n notifier.Notifier) *Job {
	return &Job{
		fetcher:  f,
		notifier: n,
		interval: cfg.Interval,
		critical: cfg.CriticalBelow,
		alert:    cfg.AlertAtOrBelow,
		log:      logger.GetLogger(),
	}
}

// Run executes immediately and then every interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context) {
	log := j.log.WithComponent("dominance_job").WithField("interval", j.interval.String())
	log.Info("dominance job started")

	for {
		runLog := log.WithField("cycle_id", uuid.NewString())
		if err := pipeline.Guard(runLog, func() error { return j.RunOnce(ctx) }); err != nil {
			metrics.EmitPipelineMetric(j.log, metrics.MetricCycleFailed, source, 1)
			runLog.WithError(err).Warn("dominance cycle failed")
		}

		select {
		case <-ctx.Done():
			log.Info("dominance job stopped")
			return
		case <-time.After(j.interval):
		}
	}
}

// RunOnce fetches one reading and posts it. A fetch failure sends nothing.
// Each message is attempted even when an earlier one failed.
func (j *Job) RunOnce(ctx context.Context) error {
	report, err := j.fetcher.Fetch(ctx)
	if err != nil {
		metrics.EmitPipelineMetric(j.log, metrics.MetricFetchError, source, 1)
		j.log.WithComponent("dominance_job").WithError(err).Warn("dominance fetch failed")
		return nil
	}

	messages := []notifier.Message{notifier.FormatDominance(report)}
	if alert, ok := notifier.FormatDominanceAlert(report, j.critical, j.alert); ok {
		messages = append(messages, alert)
	}

	var errs []error
	for _, msg := range messages {
		if err := j.notifier.Notify(ctx, msg); err != nil {
			metrics.EmitPipelineMetric(j.log, metrics.MetricNotifyFailed, source, 1)
			j.log.WithComponent("dominance_job").WithError(err).Warn("dominance message failed")
			errs = append(errs, err)
			continue
		}
		metrics.EmitPipelineMetric(j.log, metrics.MetricNotified, source, 1)
	}

	j.log.WithComponent("dominance_job").WithFields(logger.Fields{
		"asset":      report.Asset,
		"percentage": report.Percentage,
		"messages":   len(messages),
		"failed":     len(errs),
	}).Info("dominance reading sent")
	return errors.Join(errs...)
}
