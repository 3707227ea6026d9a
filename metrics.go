package fedkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes session state to Prometheus. Scrapes arrive on the
// registry's goroutine while the session mutates state inside Poll, so
// Collect snapshots the scraped fields under the session's metrics lock.
type Collector struct {
	f *Federate

	federateTime *prometheus.Desc
	advancing    *prometheus.Desc
	running      *prometheus.Desc
	grants       *prometheus.Desc
	anomalies    *prometheus.Desc
	syncPoints   *prometheus.Desc
}

func NewCollector(f *Federate) *Collector {
	labels := prometheus.Labels{"federate": f.opts.Name, "federation": f.opts.Federation}
	return &Collector{
		f: f,

		federateTime: prometheus.NewDesc(
			"fedkit_federate_time",
			"Current logical time of the federate",
			nil, labels,
		),
		advancing: prometheus.NewDesc(
			"fedkit_advancing",
			"Whether a time advance request is in flight",
			nil, labels,
		),
		running: prometheus.NewDesc(
			"fedkit_running",
			"Whether the federation start point has been achieved",
			nil, labels,
		),
		grants: prometheus.NewDesc(
			"fedkit_time_grants_total",
			"Total number of time advance grants received",
			nil, labels,
		),
		anomalies: prometheus.NewDesc(
			"fedkit_anomalies_total",
			"Total number of recoverable anomalies observed",
			nil, labels,
		),
		syncPoints: prometheus.NewDesc(
			"fedkit_sync_point_state",
			"State of each tracked synchronization point (0 none, 1 registered, 2 achieved)",
			[]string{"label"}, labels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.federateTime
	ch <- c.advancing
	ch <- c.running
	ch <- c.grants
	ch <- c.anomalies
	ch <- c.syncPoints
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	b2f := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	c.f.mx.Lock()
	federateTime := c.f.federateTime
	advancing := c.f.advancing
	running := c.f.running
	grants := c.f.grants
	anomalies := c.f.anomalies
	states := make(map[string]SyncPointState, len(c.f.syncPoints))
	for label, state := range c.f.syncPoints {
		states[label] = state
	}
	c.f.mx.Unlock()

	ch <- prometheus.MustNewConstMetric(c.federateTime, prometheus.GaugeValue, federateTime)
	ch <- prometheus.MustNewConstMetric(c.advancing, prometheus.GaugeValue, b2f(advancing))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, b2f(running))
	ch <- prometheus.MustNewConstMetric(c.grants, prometheus.CounterValue, float64(grants))
	ch <- prometheus.MustNewConstMetric(c.anomalies, prometheus.CounterValue, float64(anomalies))
	for label, state := range states {
		ch <- prometheus.MustNewConstMetric(c.syncPoints, prometheus.GaugeValue, float64(state), label)
	}
}
