package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-customer-orders/internal/logger"
)

const (
	metricsBatchSize  = 500
	metricsMaxPending = 5000
)

// MetricsHooks buffers per-operation observations and ships them to
// CloudWatch in the background. It satisfies orders.Hooks.
type MetricsHooks struct {
	cw        CloudWatchAPI
	namespace string
	log       *logger.Logger
	nowFunc   func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum

	stop chan struct{}
	done chan struct{}
}

// NewMetricsHooks starts a flush loop that runs every interval until Close.
func NewMetricsHooks(cw CloudWatchAPI, namespace string, interval time.Duration, log *logger.Logger) *MetricsHooks {
	if log == nil {
		log = logger.NewNop()
	}
	m := &MetricsHooks{
		cw:        cw,
		namespace: namespace,
		log:       log.With("component", "aws.MetricsHooks"),
		nowFunc:   time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go m.loop(interval)
	return m
}

func (m *MetricsHooks) ObserveOperation(name, status string, dur time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: sdkaws.String("Operation"), Value: sdkaws.String(name)},
		{Name: sdkaws.String("Status"), Value: sdkaws.String(status)},
	}
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending)+2 > metricsMaxPending {
		m.pending = m.pending[2:]
	}
	m.pending = append(m.pending,
		cwtypes.MetricDatum{
			MetricName: sdkaws.String("OperationLatency"),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(now),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      sdkaws.Float64(float64(dur) / float64(time.Millisecond)),
		},
		cwtypes.MetricDatum{
			MetricName: sdkaws.String("OperationCount"),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
		},
	)
}

// Flush sends everything buffered so far.
func (m *MetricsHooks) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), metricsBatchSize)
		_, err := m.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  sdkaws.String(m.namespace),
			MetricData: batch[:n],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
		batch = batch[n:]
	}
	return nil
}

// Close stops the flush loop and sends what is left.
func (m *MetricsHooks) Close(ctx context.Context) error {
	close(m.stop)
	<-m.done
	return m.Flush(ctx)
}

func (m *MetricsHooks) loop(interval time.Duration) {
	defer close(m.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := m.Flush(ctx); err != nil {
				m.log.Warn("metrics flush failed", "error", err)
			}
			cancel()
		}
	}
}
