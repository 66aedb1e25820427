package metrics

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"liqwatch/config"
	"liqwatch/logger"
)

// cloudWatchAPI is the subset of the CloudWatch client used for publishing.
type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, params *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

const (
	cwQueueSize     = 1024
	cwBatchSize     = 20
	cwFlushInterval = 10 * time.Second
	cwPutTimeout    = 5 * time.Second
)

// cloudWatchState buffers datums on queue. A single goroutine sends them in
// batches so emitters never wait on AWS.
type cloudWatchState struct {
	client        cloudWatchAPI
	namespace     string
	dashboardName string
	handlerID     MetricHandlerID
	queue         chan cwtypes.MetricDatum
	stop          chan struct{}
	done          chan struct{}
	dropped       atomic.Int64
}

var cwState atomic.Pointer[cloudWatchState]

// InitCloudWatch creates the CloudWatch client and starts forwarding every
// numeric counter emitted through EmitMetric. Static credentials are used
// when configured, otherwise the default AWS chain. Failures leave
// publishing disabled and are only logged.
func InitCloudWatch(ctx context.Context, cfg config.CloudWatchConfig) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	useCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Namespace, cfg.Dashboard, cwFlushInterval)

	log.WithFields(logger.Fields{
		"region":    awsCfg.Region,
		"namespace": cfg.Namespace,
	}).Info("initialized CloudWatch client")

	if err := createDashboard(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

func useCloudWatch(client cloudWatchAPI, namespace, dashboard string, flushEvery time.Duration) {
	if namespace == "" {
		namespace = "Liqwatch"
	}
	if dashboard == "" {
		dashboard = namespace
	}
	state := &cloudWatchState{
		client:        client,
		namespace:     namespace,
		dashboardName: dashboard,
		queue:         make(chan cwtypes.MetricDatum, cwQueueSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go state.run(flushEvery)

	state.handlerID = RegisterMetricHandler(state.enqueue)
	if old := cwState.Swap(state); old != nil {
		old.shutdown()
	}
}

// StopCloudWatch detaches the CloudWatch publisher and flushes what is
// still buffered.
func StopCloudWatch() {
	if old := cwState.Swap(nil); old != nil {
		old.shutdown()
	}
}

func (s *cloudWatchState) shutdown() {
	UnregisterMetricHandler(s.handlerID)
	close(s.stop)
	<-s.done
	if n := s.dropped.Load(); n > 0 {
		logger.GetLogger().WithComponent("cloudwatch").WithField("dropped", n).Warn("CloudWatch queue overflowed, metrics dropped")
	}
}

// enqueue never blocks. A full queue drops the datum.
func (s *cloudWatchState) enqueue(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	select {
	case s.queue <- newDatum(m, value):
	default:
		s.dropped.Add(1)
	}
}

func (s *cloudWatchState) run(flushEvery time.Duration) {
	defer close(s.done)
	if flushEvery <= 0 {
		flushEvery = cwFlushInterval
	}
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]cwtypes.MetricDatum, 0, cwBatchSize)
	add := func(d cwtypes.MetricDatum) {
		batch = append(batch, d)
		if len(batch) >= cwBatchSize {
			s.put(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case d := <-s.queue:
			add(d)
		case <-ticker.C:
			s.put(batch)
			batch = batch[:0]
		case <-s.stop:
			for {
				select {
				case d := <-s.queue:
					add(d)
				default:
					s.put(batch)
					return
				}
			}
		}
	}
}

func (s *cloudWatchState) put(batch []cwtypes.MetricDatum) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cwPutTimeout)
	defer cancel()

	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.namespace),
		MetricData: slices.Clone(batch),
	})
	if err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).WithField("datums", len(batch)).Debug("failed to publish CloudWatch metrics")
	}
}

func newDatum(m Metric, value float64) cwtypes.MetricDatum {
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	d := cwtypes.MetricDatum{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(value),
	}
	if !m.Timestamp.IsZero() {
		d.Timestamp = aws.Time(m.Timestamp)
	}
	return d
}

// EmitMetric logs the metric locally and dispatches it to every registered
// handler.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	recordMetric(log, component, metric, value, metricType, fields)
}

func createDashboard(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}

	rows := make([]string, 0, len(pipelineMetrics))
	for _, m := range pipelineMetrics {
		rows = append(rows, fmt.Sprintf(`["%s","%s","component","pipeline"]`, state.namespace, m))
	}
	body := fmt.Sprintf(`{"widgets":[{"type":"metric","width":24,"height":6,"properties":{"metrics":[%s],"period":300,"stat":"Sum","title":"Liquidation alerts"}}]}`,
		strings.Join(rows, ","))

	_, err := state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	return err
}
