// Package metrics exposes refresh outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vc_metrics/internal/domain"
)

const noStrategy = "none"

// Collector implements service.Recorder.
type Collector struct {
	refreshTotal    *prometheus.CounterVec
	strategyTotal   *prometheus.CounterVec
	refreshLatency  prometheus.Histogram
	batchDuration   prometheus.Histogram
	batchItems      *prometheus.GaugeVec
	publishFailures prometheus.Counter
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vc_metrics_refresh_total",
			Help: "Counter fetches by result.",
		}, []string{"result"}),
		strategyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vc_metrics_fetch_strategy_total",
			Help: "Fetches by the source strategy that served them, none when every strategy failed.",
		}, []string{"strategy"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vc_metrics_refresh_latency_seconds",
			Help:    "Latency of a single counter fetch.",
			Buckets: prometheus.DefBuckets,
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vc_metrics_batch_duration_seconds",
			Help:    "Duration of a full refresh batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		batchItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vc_metrics_batch_items",
			Help: "Items of the last refresh batch by result.",
		}, []string{"result"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vc_metrics_publish_failures_total",
			Help: "Article events that could not be published.",
		}),
	}

	reg.MustRegister(
		c.refreshTotal,
		c.strategyTotal,
		c.refreshLatency,
		c.batchDuration,
		c.batchItems,
		c.publishFailures,
	)

	return c
}

func (c *Collector) RecordRefresh(result, strategy string, duration time.Duration) {
	c.refreshTotal.WithLabelValues(result).Inc()
	if strategy == "" {
		strategy = noStrategy
	}
	c.strategyTotal.WithLabelValues(strategy).Inc()
	c.refreshLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordBatch(batch *domain.BatchResult) {
	c.batchDuration.Observe(batch.Duration().Seconds())
	c.batchItems.WithLabelValues("succeeded").Set(float64(batch.Succeeded))
	c.batchItems.WithLabelValues("failed").Set(float64(batch.Failed))
}

func (c *Collector) RecordPublishFailure() {
	c.publishFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
