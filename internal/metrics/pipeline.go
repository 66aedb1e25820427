package metrics

import "liqwatch/logger"

// PipelineMetric names a counter emitted by the alert pipeline.
type PipelineMetric string

const (
	// MetricFetched counts records returned by a source.
	MetricFetched PipelineMetric = "events_fetched"
	// MetricBelowThreshold counts records discarded by the USD filter.
	MetricBelowThreshold PipelineMetric = "events_below_threshold"
	// MetricAdmitted counts records that passed dedupe.
	MetricAdmitted PipelineMetric = "events_admitted"
	// MetricDuplicate counts records rejected as already alerted.
	MetricDuplicate PipelineMetric = "events_duplicate"
	// MetricNotified counts delivered messages.
	MetricNotified PipelineMetric = "notifications_sent"
	// MetricNotifyFailed counts messages the notifier could not deliver.
	MetricNotifyFailed PipelineMetric = "notifications_failed"
	// MetricFetchError counts failed upstream calls.
	MetricFetchError PipelineMetric = "fetch_errors"
	// MetricCycleFailed counts iterations that panicked or errored.
	MetricCycleFailed PipelineMetric = "cycle_failures"
	// MetricStreamDropped counts streamed events dropped on a full buffer.
	MetricStreamDropped PipelineMetric = "stream_events_dropped"
	// MetricReconnect counts websocket reconnect attempts.
	MetricReconnect PipelineMetric = "stream_reconnects"
)

var pipelineMetrics = []PipelineMetric{
	MetricFetched, MetricBelowThreshold, MetricAdmitted, MetricDuplicate,
	MetricNotified, MetricNotifyFailed, MetricFetchError, MetricCycleFailed,
	MetricStreamDropped, MetricReconnect,
}

// EmitPipelineMetric adds value to the named counter for source. Zero values
// are skipped.
func EmitPipelineMetric(log *logger.Log, metric PipelineMetric, source string, value int) {
	if value == 0 {
		return
	}
	EmitMetric(log, "pipeline", string(metric), value, "counter", logger.Fields{"source": source})
}
