package redmine_notifier

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "rr_redmine_notifier"
)

// metricsCollector implements prometheus.Collector interface
type metricsCollector struct {
	issuesCreated atomic.Uint64 // Issues created by Notify
	issuesUpdated atomic.Uint64 // Existing issues bumped by Notify
	throttled     atomic.Uint64 // Notify calls skipped by the cooldown
	failures      atomic.Uint64 // Tracker calls that failed
	customIssues  atomic.Uint64 // Issues created through CreateIssue
	evictions     atomic.Uint64 // Fingerprints dropped from the cache

	cacheSize func() int

	issuesCreatedDesc *prometheus.Desc
	issuesUpdatedDesc *prometheus.Desc
	throttledDesc     *prometheus.Desc
	failuresDesc      *prometheus.Desc
	customIssuesDesc  *prometheus.Desc
	evictionsDesc     *prometheus.Desc
	cacheSizeDesc     *prometheus.Desc
}

// newMetricsCollector creates a new metrics collector. cacheSize is sampled on
// every scrape.
func newMetricsCollector(cacheSize func() int) *metricsCollector {
	return &metricsCollector{
		cacheSize: cacheSize,

		issuesCreatedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "issues_created_total"),
			"Total number of issues created for new fingerprints",
			nil, nil),

		issuesUpdatedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "issues_updated_total"),
			"Total number of existing issues updated with a new occurrence",
			nil, nil),

		throttledDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "throttled_total"),
			"Total number of notifications skipped by the cooldown",
			nil, nil),

		failuresDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tracker_failures_total"),
			"Total number of failed Redmine calls",
			nil, nil),

		customIssuesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "custom_issues_total"),
			"Total number of custom issues created",
			nil, nil),

		evictionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cache_evictions_total"),
			"Total number of fingerprints evicted from the occurrence cache",
			nil, nil),

		cacheSizeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cache_size"),
			"Number of fingerprints currently tracked",
			nil, nil),
	}
}

func (mc *metricsCollector) IncIssuesCreated() { mc.issuesCreated.Add(1) }

func (mc *metricsCollector) IncIssuesUpdated() { mc.issuesUpdated.Add(1) }

func (mc *metricsCollector) IncThrottled() { mc.throttled.Add(1) }

func (mc *metricsCollector) IncFailures() { mc.failures.Add(1) }

func (mc *metricsCollector) IncCustomIssues() { mc.customIssues.Add(1) }

func (mc *metricsCollector) AddEvictions(n int) { mc.evictions.Add(uint64(n)) }

// Snapshot returns the current counter values
func (mc *metricsCollector) Snapshot() *NotifierMetrics {
	m := &NotifierMetrics{
		IssuesCreated: mc.issuesCreated.Load(),
		IssuesUpdated: mc.issuesUpdated.Load(),
		Throttled:     mc.throttled.Load(),
		Failures:      mc.failures.Load(),
		CustomIssues:  mc.customIssues.Load(),
		Evictions:     mc.evictions.Load(),
	}
	if mc.cacheSize != nil {
		m.CacheSize = mc.cacheSize()
	}
	return m
}

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.issuesCreatedDesc
	ch <- mc.issuesUpdatedDesc
	ch <- mc.throttledDesc
	ch <- mc.failuresDesc
	ch <- mc.customIssuesDesc
	ch <- mc.evictionsDesc
	ch <- mc.cacheSizeDesc
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := mc.Snapshot()

	ch <- prometheus.MustNewConstMetric(mc.issuesCreatedDesc, prometheus.CounterValue, float64(s.IssuesCreated))
	ch <- prometheus.MustNewConstMetric(mc.issuesUpdatedDesc, prometheus.CounterValue, float64(s.IssuesUpdated))
	ch <- prometheus.MustNewConstMetric(mc.throttledDesc, prometheus.CounterValue, float64(s.Throttled))
	ch <- prometheus.MustNewConstMetric(mc.failuresDesc, prometheus.CounterValue, float64(s.Failures))
	ch <- prometheus.MustNewConstMetric(mc.customIssuesDesc, prometheus.CounterValue, float64(s.CustomIssues))
	ch <- prometheus.MustNewConstMetric(mc.evictionsDesc, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(mc.cacheSizeDesc, prometheus.GaugeValue, float64(s.CacheSize))
}
