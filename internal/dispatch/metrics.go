package dispatch

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "subjectbus"

// Collector exports the subscription table of a Dispatcher as
// Prometheus metrics. Values are read at scrape time.
type Collector struct {
	dispatcher *Dispatcher

	delivered *prometheus.Desc
	failed    *prometheus.Desc
	dropped   *prometheus.Desc
	discarded *prometheus.Desc
	pending   *prometheus.Desc

	routed    *prometheus.Desc
	unmatched *prometheus.Desc
	malformed *prometheus.Desc
}

// NewCollector returns a collector for d. constLabels are attached to
// every series, typically the connection id.
func NewCollector(d *Dispatcher, constLabels prometheus.Labels) *Collector {
	subLabels := []string{"subscription", "pattern"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		dispatcher: d,
		delivered:  desc("subscription_delivered_total", "Handler invocations per subscription.", subLabels),
		failed:     desc("subscription_failed_total", "Handler invocations that returned an error or panicked.", subLabels),
		dropped:    desc("subscription_dropped_total", "Messages evicted from a full subscription queue.", subLabels),
		discarded:  desc("subscription_discarded_total", "Messages discarded when a subscription stopped without draining.", subLabels),
		pending:    desc("subscription_pending_messages", "Messages waiting in a subscription queue.", subLabels),
		routed:     desc("routed_messages_total", "Inbound messages that matched at least one subscription.", nil),
		unmatched:  desc("unmatched_messages_total", "Inbound messages that matched no subscription.", nil),
		malformed:  desc("malformed_messages_total", "Inbound messages with an invalid subject.", nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.delivered
	ch <- c.failed
	ch <- c.dropped
	ch <- c.discarded
	ch <- c.pending
	ch <- c.routed
	ch <- c.unmatched
	ch <- c.malformed
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.dispatcher.Stats() {
		id := strconv.FormatUint(uint64(s.ID), 10)
		ch <- prometheus.MustNewConstMetric(c.delivered, prometheus.CounterValue, float64(s.Delivered), id, s.Pattern)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.Failed), id, s.Pattern)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped), id, s.Pattern)
		ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.Discarded), id, s.Pattern)
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending), id, s.Pattern)
	}
	totals := c.dispatcher.Counters()
	ch <- prometheus.MustNewConstMetric(c.routed, prometheus.CounterValue, float64(totals.Routed))
	ch <- prometheus.MustNewConstMetric(c.unmatched, prometheus.CounterValue, float64(totals.Unmatched))
	ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(totals.Malformed))
}

var _ prometheus.Collector = (*Collector)(nil)
