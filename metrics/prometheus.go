package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ndsagent"

// counterDesc binds a Prometheus description to a Snapshot field.
type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// exporter adapts a Collector to prometheus.Collector. Values are read from
// Snapshot at scrape time, so the Collector stays the single source of truth.
type exporter struct {
	collector *Collector
	counters  []counterDesc
	batches   *prometheus.Desc
	active    *prometheus.Desc
	loops     func() int
}

func newCounter(name, help string, value func(Snapshot) int64, constLabels prometheus.Labels) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, constLabels),
		value: value,
	}
}

// NewRegistry returns a registry exporting c. loops, if non-nil, reports the
// number of active scan loops.
func NewRegistry(c *Collector, loops func() int) *prometheus.Registry {
	snap := c.Snapshot()
	labels := prometheus.Labels{"agent_id": snap.AgentID}

	e := &exporter{
		collector: c,
		loops:     loops,
		counters: []counterDesc{
			newCounter("sweeps_started_total", "Source sweeps started", func(s Snapshot) int64 { return s.SweepsStarted }, labels),
			newCounter("sweeps_completed_total", "Source sweeps that reached the final flush", func(s Snapshot) int64 { return s.SweepsCompleted }, labels),
			newCounter("sweeps_failed_total", "Source sweeps aborted by connect failure or panic", func(s Snapshot) int64 { return s.SweepsFailed }, labels),
			newCounter("enumerate_failures_total", "Failed gateway scan calls", func(s Snapshot) int64 { return s.EnumerateFailures }, labels),
			newCounter("filter_failures_total", "Failed backend unseen-file filter calls", func(s Snapshot) int64 { return s.FilterFailures }, labels),
			newCounter("describe_failures_total", "Failed gateway zip_info calls", func(s Snapshot) int64 { return s.DescribeFailures }, labels),
			newCounter("candidates_total", "Candidate paths enumerated", func(s Snapshot) int64 { return s.Candidates }, labels),
			newCounter("unseen_total", "Candidate paths not yet recorded by the backend", func(s Snapshot) int64 { return s.Unseen }, labels),
			newCounter("records_appended_total", "Records added to a batch", func(s Snapshot) int64 { return s.RecordsAppended }, labels),
			newCounter("records_submitted_total", "Records in accepted batches", func(s Snapshot) int64 { return s.RecordsSubmitted }, labels),
			newCounter("records_dropped_total", "Records in throttled, rejected or failed batches", func(s Snapshot) int64 { return s.RecordsDropped }, labels),
			newCounter("journal_write_success_total", "Successful batch journal writes", func(s Snapshot) int64 { return s.JournalWriteSuccess }, labels),
			newCounter("journal_write_failure_total", "Failed batch journal writes", func(s Snapshot) int64 { return s.JournalWriteFailure }, labels),
		},
		batches: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batches_total"),
			"Batch submissions by outcome",
			[]string{"outcome"}, labels,
		),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_loops"),
			"Scan loops currently running",
			nil, labels,
		),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return reg
}

// Describe implements prometheus.Collector.
func (e *exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	ch <- e.batches
	ch <- e.active
}

// Collect implements prometheus.Collector.
func (e *exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()

	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(snap)))
	}

	for outcome, n := range map[string]int64{
		"accepted":  snap.BatchesAccepted,
		"throttled": snap.BatchesThrottled,
		"rejected":  snap.BatchesRejected,
		"failed":    snap.BatchesFailed,
	} {
		ch <- prometheus.MustNewConstMetric(e.batches, prometheus.CounterValue, float64(n), outcome)
	}

	active := 0
	if e.loops != nil {
		active = e.loops()
	}
	ch <- prometheus.MustNewConstMetric(e.active, prometheus.GaugeValue, float64(active))
}
