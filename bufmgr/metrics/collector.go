// Package metrics exports buffer manager statistics to Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/bufmgr/memutils"
)

// StatisticsSource is implemented by *bufmgr.Manager
type StatisticsSource interface {
	CalculateStatistics(stats *memutils.Statistics)
}

type metricDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(stats *memutils.Statistics) int
}

// Collector is a prometheus.Collector that takes a fresh statistics snapshot on every scrape
type Collector struct {
	source  StatisticsSource
	metrics []metricDesc
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a collector for source. Every metric name is prefixed with namespace.
func NewCollector(source StatisticsSource, namespace string, constLabels prometheus.Labels) *Collector {
	newDesc := func(name string, help string, valueType prometheus.ValueType, value func(stats *memutils.Statistics) int) metricDesc {
		return metricDesc{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "bufmgr", name), help, nil, constLabels),
			valueType: valueType,
			value:     value,
		}
	}

	return &Collector{
		source: source,
		metrics: []metricDesc{
			newDesc("live_buffers", "Buffer objects currently owned by clients.", prometheus.GaugeValue,
				func(stats *memutils.Statistics) int { return stats.LiveCount() }),
			newDesc("live_bytes", "Bytes of buffer objects currently owned by clients.", prometheus.GaugeValue,
				func(stats *memutils.Statistics) int { return stats.LiveBytes() }),
			newDesc("cached_buffers", "Buffer objects idling in the reuse cache.", prometheus.GaugeValue,
				func(stats *memutils.Statistics) int { return stats.CachedCount }),
			newDesc("cached_bytes", "Bytes of buffer objects idling in the reuse cache.", prometheus.GaugeValue,
				func(stats *memutils.Statistics) int { return stats.CachedBytes }),
			newDesc("open_mappings", "Buffer objects with at least one open CPU mapping.", prometheus.GaugeValue,
				func(stats *memutils.Statistics) int { return stats.OpenMappings }),
			newDesc("cached_mappings", "Closed CPU mappings kept for reuse.", prometheus.GaugeValue,
				func(stats *memutils.Statistics) int { return stats.CachedMappings }),
			newDesc("cache_hits_total", "Acquisitions served from the reuse cache.", prometheus.CounterValue,
				func(stats *memutils.Statistics) int { return stats.CacheHits }),
			newDesc("cache_misses_total", "Acquisitions that needed a new kernel object.", prometheus.CounterValue,
				func(stats *memutils.Statistics) int { return stats.CacheMisses }),
			newDesc("kernel_creates_total", "Kernel objects created.", prometheus.CounterValue,
				func(stats *memutils.Statistics) int { return stats.KernelCreates }),
			newDesc("kernel_closes_total", "Kernel objects closed.", prometheus.CounterValue,
				func(stats *memutils.Statistics) int { return stats.KernelCloses }),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var stats memutils.Statistics
	c.source.CalculateStatistics(&stats)

	for _, metric := range c.metrics {
		ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, float64(metric.value(&stats)))
	}
}
