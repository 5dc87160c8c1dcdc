// Package metrics exports RIB sizes and update handler counters to Prometheus.
package metrics

import (
	"github.com/cloudflare/fgrib/rib"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fgrib"

// EventCounter is implemented by the update handler.
type EventCounter interface {
	Counts() (processed uint64, failed uint64)
}

type Collector struct {
	rib    rib.Rib
	events EventCounter

	prefixes  *prometheus.Desc
	routes    *prometheus.Desc
	processed *prometheus.Desc
	failed    *prometheus.Desc
}

// NewCollector reads its values on every scrape. events may be nil.
func NewCollector(r rib.Rib, events EventCounter) *Collector {
	return &Collector{
		rib:    r,
		events: events,
		prefixes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rib", "prefixes"),
			"Number of distinct prefixes stored in the RIB.",
			nil, nil),
		routes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rib", "routes"),
			"Number of routes stored in the RIB, one per prefix and neighbor.",
			nil, nil),
		processed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "processed_total"),
			"Update and withdraw events applied to the RIB.",
			nil, nil),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "failed_total"),
			"Update and withdraw events rejected by the RIB.",
			nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.prefixes
	ch <- c.routes
	if c.events != nil {
		ch <- c.processed
		ch <- c.failed
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	prefixes, routes := c.rib.GetCounts()
	ch <- prometheus.MustNewConstMetric(c.prefixes, prometheus.GaugeValue, float64(prefixes))
	ch <- prometheus.MustNewConstMetric(c.routes, prometheus.GaugeValue, float64(routes))
	if c.events != nil {
		processed, failed := c.events.Counts()
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(processed))
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(failed))
	}
}
